package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veritrail/veritrail/internal/audit"
)

// newAuditHandlers wires the handlers against a fake audit log service.
func newAuditHandlers(t *testing.T, service http.HandlerFunc) *AuditHandlers {
	t.Helper()
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)

	auditor, err := audit.New(audit.Config{
		BaseURL: server.URL,
		Token:   "pts_test",
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("audit.New() error = %v", err)
	}
	return NewAuditHandlers(auditor)
}

func TestAuditHandlers_Search(t *testing.T) {
	var wire struct {
		Query   string `json:"query"`
		Limit   int    `json:"limit"`
		Verbose bool   `json:"verbose"`
	}
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&wire)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Success",
			"result": map[string]any{"id": "srch_1", "count": 0, "events": []any{}},
		})
	})

	body := `{"query":"action:\"user.create\"","options":{"limit":5}}`
	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/audit/search", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if wire.Query != `action:"user.create"` {
		t.Errorf("forwarded query = %q", wire.Query)
	}
	if wire.Limit != 5 {
		t.Errorf("forwarded limit = %d, want 5", wire.Limit)
	}

	var resp audit.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Result == nil || resp.Result.ID != "srch_1" {
		t.Errorf("response result = %+v", resp.Result)
	}
}

func TestAuditHandlers_Search_BadJSON(t *testing.T) {
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("service should not be called for malformed input")
	})

	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/audit/search", strings.NewReader(`{`)))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestAuditHandlers_Search_ServiceDown(t *testing.T) {
	auditor, err := audit.New(audit.Config{
		BaseURL: "http://127.0.0.1:1",
		Token:   "pts_test",
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("audit.New() error = %v", err)
	}
	h := NewAuditHandlers(auditor)

	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/audit/search", strings.NewReader(`{"query":"q"}`)))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if resp := decodeError(t, rr.Body); resp.Error.Code != ErrCodeAuditUnavailable {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeAuditUnavailable)
	}
}

func TestAuditHandlers_Search_TamperDetected(t *testing.T) {
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Success",
			"result": map[string]any{
				"events": []map[string]any{{
					"envelope": map[string]any{"event": map[string]any{"action": "user.create"}},
					"hash":     "0000000000000000000000000000000000000000000000000000000000000000",
				}},
			},
		})
	})

	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/audit/search", strings.NewReader(`{"query":"q"}`)))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if resp := decodeError(t, rr.Body); resp.Error.Code != ErrCodeTamperDetected {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeTamperDetected)
	}
}

func TestAuditHandlers_Results_MissingID(t *testing.T) {
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("service should not be called without a search id")
	})

	rr := httptest.NewRecorder()
	h.Results(rr, httptest.NewRequest(http.MethodPost, "/audit/results", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr.Body); resp.Error.Code != ErrCodeMissingSearchID {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeMissingSearchID)
	}
}

func TestAuditHandlers_Results(t *testing.T) {
	var wire struct {
		ID     string `json:"id"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&wire)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Success",
			"result": map[string]any{"id": "srch_1", "events": []any{}},
		})
	})

	rr := httptest.NewRecorder()
	h.Results(rr, httptest.NewRequest(http.MethodPost, "/audit/results",
		strings.NewReader(`{"id":"srch_1","limit":10,"offset":20}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if wire.ID != "srch_1" || wire.Limit != 10 || wire.Offset != 20 {
		t.Errorf("forwarded request = %+v", wire)
	}
}

func TestAuditHandlers_Root(t *testing.T) {
	var wire struct {
		TreeSize int64 `json:"tree_size"`
	}
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&wire)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Success",
			"result": map[string]any{"data": map[string]any{"size": 42, "root_hash": "aa"}},
		})
	})

	rr := httptest.NewRecorder()
	h.Root(rr, httptest.NewRequest(http.MethodPost, "/audit/root", strings.NewReader(`{"tree_size":42}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if wire.TreeSize != 42 {
		t.Errorf("forwarded tree_size = %d, want 42", wire.TreeSize)
	}
}

func TestAuditHandlers_Download(t *testing.T) {
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Success",
			"result": map[string]any{"dest_url": "https://exports.example.com/srch_1.csv.gz"},
		})
	})

	rr := httptest.NewRecorder()
	h.Download(rr, httptest.NewRequest(http.MethodPost, "/audit/download",
		strings.NewReader(`{"result_id":"srch_1","format":"csv"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp audit.DownloadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Result == nil || resp.Result.DestURL == "" {
		t.Errorf("response result = %+v, want download URL", resp.Result)
	}
}

func TestAuditHandlers_MethodNotAllowed(t *testing.T) {
	h := newAuditHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("service should not be called")
	})

	handlers := map[string]http.HandlerFunc{
		"/audit/search":   h.Search,
		"/audit/results":  h.Results,
		"/audit/root":     h.Root,
		"/audit/download": h.Download,
	}
	for path, handler := range handlers {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s status = %d, want 405", path, rr.Code)
		}
	}
}
