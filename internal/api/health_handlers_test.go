package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (s *stubChecker) HealthCheck(ctx context.Context) error {
	return s.err
}

func TestHealthHandlers_Health(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{})

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}

	rr = httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rr.Code)
	}
}

func TestHealthHandlers_Ready(t *testing.T) {
	tests := []struct {
		name       string
		config     HealthHandlersConfig
		wantStatus int
		wantCheck  map[string]string
	}{
		{
			name:       "no checkers configured",
			config:     HealthHandlersConfig{},
			wantStatus: http.StatusOK,
			wantCheck:  map[string]string{"database": "ok", "redis": "ok", "audit": "ok", "metrics": "ok"},
		},
		{
			name: "all healthy",
			config: HealthHandlersConfig{
				DBChecker:    &stubChecker{},
				RedisChecker: &stubChecker{},
				AuditChecker: &stubChecker{},
			},
			wantStatus: http.StatusOK,
			wantCheck:  map[string]string{"database": "ok", "redis": "ok", "audit": "ok"},
		},
		{
			name: "database down",
			config: HealthHandlersConfig{
				DBChecker:    &stubChecker{err: errors.New("connection refused")},
				RedisChecker: &stubChecker{},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantCheck:  map[string]string{"database": "error", "redis": "ok"},
		},
		{
			name: "audit service down",
			config: HealthHandlersConfig{
				AuditChecker: &stubChecker{err: errors.New("503")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantCheck:  map[string]string{"audit": "error", "database": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandlers(tt.config)

			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}

			var resp HealthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("response: %v", err)
			}
			for name, want := range tt.wantCheck {
				if resp.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}
