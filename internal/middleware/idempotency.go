package middleware

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/veritrail/veritrail/internal/idempotency"
)

// replayWriter buffers the response so it can be stored for later replay.
// Writes pass through to the underlying writer as they happen.
type replayWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func newReplayWriter(w http.ResponseWriter) *replayWriter {
	return &replayWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *replayWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *replayWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer for UpdateResponseContext.
func (rw *replayWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Idempotency replays stored responses for retried mutations. A POST carrying
// an Idempotency-Key header that was seen before gets the original response
// back, marked with the Idempotency-Replayed header, without re-executing the
// handler. Requests without the header pass through untouched.
func Idempotency(repo idempotency.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(idempotency.KeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				ctx := SetErrorCode(r.Context(), "invalid_idempotency_key")
				UpdateResponseContext(w, ctx)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			if record, err := repo.Get(key); err == nil {
				// Same key, different request shape is a client bug.
				if record.Method != r.Method || record.Route != r.URL.Path {
					ctx := SetErrorCode(r.Context(), "idempotency_key_reused")
					UpdateResponseContext(w, ctx)
					http.Error(w, "idempotency key was used for a different request", http.StatusUnprocessableEntity)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(idempotency.ReplayHeader, "true")
				w.WriteHeader(record.ResponseStatusCode)
				w.Write([]byte(record.ResponseBody))
				return
			} else if !errors.Is(err, idempotency.ErrKeyNotFound) {
				// Storage trouble must not block the mutation.
				next.ServeHTTP(w, r)
				return
			}

			rw := newReplayWriter(w)
			next.ServeHTTP(rw, r)

			// Server errors are retried fresh, so only settled outcomes
			// are recorded.
			if rw.statusCode < http.StatusInternalServerError {
				body := rw.body.String()
				repo.Store(&idempotency.Record{
					Key:                key,
					Method:             r.Method,
					Route:              r.URL.Path,
					Actor:              GetActor(r.Context()),
					ResponseHash:       idempotency.ComputeResponseHash(body),
					Status:             idempotency.StatusCompleted,
					ResponseBody:       body,
					ResponseStatusCode: rw.statusCode,
				})
			}
		})
	}
}
