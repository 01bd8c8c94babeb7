// Package api provides HTTP handlers for the veritrail API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/veritrail/veritrail/internal/audit"
	"github.com/veritrail/veritrail/internal/middleware"
	"github.com/veritrail/veritrail/internal/user"
)

// UserHandlers holds dependencies for user HTTP handlers.
// Every mutation is recorded in the tamper-evident audit log; the audit
// session chains proofs across sequential writes from this server.
type UserHandlers struct {
	repo    user.Repository
	auditor *audit.Client
	logger  *slog.Logger

	// sessionMu serializes audit submissions: the session is scoped to a
	// single caller, and each submission must see the unpublished root left
	// by the one before it for root-chain verification to hold.
	sessionMu sync.Mutex
	session   *audit.Session
}

// NewUserHandlers creates a new UserHandlers instance.
// The auditor may be nil, in which case mutations are not audited.
func NewUserHandlers(repo user.Repository, auditor *audit.Client, logger *slog.Logger) *UserHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandlers{
		repo:    repo,
		auditor: auditor,
		session: audit.NewSession(),
		logger:  logger,
	}
}

// CreateUserRequest represents the request body for creating a user.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`
}

// Users handles the /users collection: POST creates, GET lists.
func (h *UserHandlers) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createUser(w, r)
	case http.MethodGet:
		h.listUsers(w, r)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// UserByID handles /users/{id}: GET retrieves, PATCH updates, DELETE removes.
func (h *UserHandlers) UserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if id == "" || strings.Contains(id, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid user ID in path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getUser(w, r, id)
	case http.MethodPatch:
		h.updateUser(w, r, id)
	case http.MethodDelete:
		h.deleteUser(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	created, err := h.repo.Create(r.Context(), &user.User{
		Name:  req.Name,
		Email: req.Email,
		Title: req.Title,
	})
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to create user")
		return
	}

	h.recordAudit(r, audit.Event{
		Action:  "user.create",
		Status:  "success",
		Target:  created.ID,
		Message: "created user " + created.Email,
		New:     created,
	})

	writeJSON(w, http.StatusCreated, created)
}

func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	opts := user.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	users, err := h.repo.List(r.Context(), opts)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list users")
		return
	}
	if users == nil {
		users = []*user.User{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	var patch user.Update
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	// Snapshot the previous state for the audit trail
	before, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to get user")
		return
	}

	updated, err := h.repo.Update(r.Context(), id, patch)
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to update user")
		return
	}

	h.recordAudit(r, audit.Event{
		Action:  "user.update",
		Status:  "success",
		Target:  id,
		Message: "updated user " + updated.Email,
		Old:     before,
		New:     updated,
	})

	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandlers) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to delete user")
		return
	}

	h.recordAudit(r, audit.Event{
		Action:  "user.delete",
		Status:  "success",
		Target:  id,
		Message: "deleted user " + deleted.Email,
		Old:     deleted,
	})

	w.WriteHeader(http.StatusNoContent)
}

// recordAudit submits an audit event for a completed mutation. Audit
// submission failures are logged but never fail the request; the
// mutation has already been committed.
func (h *UserHandlers) recordAudit(r *http.Request, event audit.Event) {
	if h.auditor == nil {
		return
	}

	h.sessionMu.Lock()
	_, err := h.auditor.Log(r.Context(), h.session, event, audit.LogOptions{})
	h.sessionMu.Unlock()
	if err != nil {
		var integrityErr *audit.IntegrityError
		if errors.As(err, &integrityErr) {
			h.logger.ErrorContext(r.Context(), "audit record failed integrity verification",
				"action", event.Action, "target", event.Target, "error", err)
			return
		}
		h.logger.WarnContext(r.Context(), "audit log submission failed",
			"action", event.Action, "target", event.Target, "error", err)
	}
}

// writeRepoError maps repository errors to API error responses.
func (h *UserHandlers) writeRepoError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "User not found")
	case errors.Is(err, user.ErrEmailTaken):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeEmailTaken)
		WriteError(w, ctx, http.StatusConflict, ErrCodeEmailTaken, "Email already in use")
	case errors.Is(err, user.ErrMissingName),
		errors.Is(err, user.ErrInvalidName),
		errors.Is(err, user.ErrMissingEmail),
		errors.Is(err, user.ErrInvalidEmail),
		errors.Is(err, user.ErrInvalidTitle):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, fallback)
	}
}
