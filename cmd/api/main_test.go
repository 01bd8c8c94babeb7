// Package main contains integration tests for the API server lifecycle.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/veritrail/veritrail/internal/api"
	"github.com/veritrail/veritrail/internal/middleware"
)

// testServer assembles a server the way main does: the real middleware chain
// around a mux, listening on an ephemeral port.
func testServer(t *testing.T, mux *http.ServeMux) (*http.Server, string, <-chan struct{}) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := middleware.NewInMemoryRateLimitStore()

	var handler http.Handler = mux
	handler = middleware.ClientMetadata(handler)
	handler = middleware.RateLimiter(store, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(stopped)
	}()

	return server, "http://" + ln.Addr().String(), stopped
}

func TestServer_RoutesThroughMiddlewareChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service":"veritrail-api","version":"0.0.1"}`))
	})

	server, baseURL, stopped := testServer(t, mux)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		<-stopped
	}()

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request ID header from middleware chain")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["service"] != "veritrail-api" {
		t.Errorf("service = %q", body["service"])
	}

	// Unknown paths return the structured 404
	resp404, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp404.StatusCode)
	}
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp404.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Code != api.ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", errResp.Error.Code, api.ErrCodeNotFound)
	}
}

func TestServer_GracefulShutdownCompletesInFlightRequests(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerRelease := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerRelease
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"completed"}`))
	})

	server, baseURL, stopped := testServer(t, mux)

	type result struct {
		resp *http.Response
		err  error
	}
	requestDone := make(chan result, 1)
	go func() {
		resp, err := http.Get(baseURL + "/slow")
		requestDone <- result{resp, err}
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start in time")
	}

	// Begin shutdown while the request is in flight, then let it finish
	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownDone <- server.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(handlerRelease)

	res := <-requestDone
	if res.err != nil {
		t.Fatalf("in-flight request failed: %v", res.err)
	}
	defer res.resp.Body.Close()
	if res.resp.StatusCode != http.StatusOK {
		t.Errorf("in-flight request status = %d, want 200", res.resp.StatusCode)
	}

	if err := <-shutdownDone; err != nil {
		t.Errorf("shutdown error: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestSignalNotify(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			time.Sleep(20 * time.Millisecond)
			syscall.Kill(syscall.Getpid(), sig)
		}()

		select {
		case got := <-quit:
			if got != sig {
				t.Errorf("received %v, want %v", got, sig)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("did not receive %v in time", sig)
		}
		signal.Stop(quit)
	}
}
