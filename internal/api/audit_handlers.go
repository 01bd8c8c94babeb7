package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veritrail/veritrail/internal/audit"
	"github.com/veritrail/veritrail/internal/middleware"
)

// AuditHandlers exposes verified read access to the tamper-evident audit
// trail. Responses include the verification verdicts computed client-side,
// so API consumers can distinguish verified events from unverifiable ones.
type AuditHandlers struct {
	auditor *audit.Client
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(auditor *audit.Client) *AuditHandlers {
	return &AuditHandlers{auditor: auditor}
}

// SearchRequest represents the request body for searching the audit trail.
type SearchRequest struct {
	Query             string              `json:"query"`
	Options           *audit.QueryOptions `json:"options,omitempty"`
	VerifyConsistency bool                `json:"verify_consistency,omitempty"`
}

// Search handles POST /audit/search.
func (h *AuditHandlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	res, err := h.auditor.Search(r.Context(), req.Query, req.Options, audit.SearchOptions{
		VerifyConsistency: req.VerifyConsistency,
	})
	if err != nil {
		h.writeAuditError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ResultsRequest represents the request body for paging stored search results.
type ResultsRequest struct {
	ID                string `json:"id"`
	Limit             int    `json:"limit,omitempty"`
	Offset            int    `json:"offset,omitempty"`
	VerifyConsistency bool   `json:"verify_consistency,omitempty"`
}

// Results handles POST /audit/results.
func (h *AuditHandlers) Results(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req ResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	res, err := h.auditor.Results(r.Context(), req.ID, req.Limit, req.Offset, audit.SearchOptions{
		VerifyConsistency: req.VerifyConsistency,
	})
	if err != nil {
		h.writeAuditError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// RootRequest represents the request body for fetching a published root.
type RootRequest struct {
	TreeSize int64 `json:"tree_size,omitempty"`
}

// Root handles POST /audit/root.
func (h *AuditHandlers) Root(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req RootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	res, err := h.auditor.Root(r.Context(), req.TreeSize)
	if err != nil {
		h.writeAuditError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Download handles POST /audit/download: requests a bulk export of a
// stored search result set and returns the download URL.
func (h *AuditHandlers) Download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req audit.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	res, err := h.auditor.DownloadResults(r.Context(), req)
	if err != nil {
		h.writeAuditError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// writeAuditError maps audit client errors to API error responses.
// Integrity failures are surfaced distinctly; they mean a stored record
// does not match its recorded hash.
func (h *AuditHandlers) writeAuditError(w http.ResponseWriter, r *http.Request, err error) {
	var integrityErr *audit.IntegrityError
	switch {
	case errors.As(err, &integrityErr):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeTamperDetected)
		WriteError(w, ctx, http.StatusConflict, ErrCodeTamperDetected,
			"Audit record failed integrity verification")
	case errors.Is(err, audit.ErrMissingSearchID):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeMissingSearchID)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeMissingSearchID, "Search result ID is required")
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuditUnavailable)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeAuditUnavailable, "Audit log service request failed")
	}
}
