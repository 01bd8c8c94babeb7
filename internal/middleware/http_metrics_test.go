package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/users", "/users"},
		{"/users/0b7aa279-3e17-4d6e-9bd6-9d3d5e81e4ee", "/users/{id}"},
		{"/users/abc", "/users/{id}"},
		{"/users/", "/users/"},
		{"/users/a/b", "/users/a/b"},
		{"/audit/search", "/audit/search"},
		{"/audit/results", "/audit/results"},
		{"/audit/root", "/audit/root"},
		{"/audit/download", "/audit/download"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/metrics", "/metrics"},
		{"/unknown/route", "/unknown/route"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/users/abc-123", strings.NewReader("body"))
	req.Header.Set("Content-Length", "4")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var sawTotal bool
	for _, family := range families {
		if family.GetName() != MetricHTTPRequestsTotal {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["method"] == "POST" && labels["path"] == "/users/{id}" && labels["status"] == "201" {
				sawTotal = true
				if metric.GetCounter().GetValue() != 1 {
					t.Errorf("counter = %v, want 1", metric.GetCounter().GetValue())
				}
			}
		}
	}
	if !sawTotal {
		t.Error("no http_requests_total series with normalized path and status")
	}
}

func TestHTTPMetrics_ExcludesHealthEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/ready"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() == MetricHTTPRequestsTotal && len(family.GetMetric()) > 0 {
			t.Error("health endpoints should not be recorded in metrics")
		}
	}
}

func TestMetrics_RegisterAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	metrics.RateLimitRedisError()
	metrics.ObserveHTTPRequest("GET", "/users", "200", 0.05, 128, 512)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := make(map[string]bool)
	for _, family := range families {
		found[family.GetName()] = true
	}
	for _, name := range []string{
		MetricRateLimitRedisErrors,
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}

	// Double registration must fail
	if err := metrics.Register(reg); err == nil {
		t.Error("second Register() should fail")
	}
}
