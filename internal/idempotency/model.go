// Package idempotency provides replay protection for mutating API requests.
// A client retrying a write (after a timeout or network failure) sends the
// same Idempotency-Key header; the stored response is replayed instead of
// re-executing the mutation, so retries never produce duplicate users or
// duplicate audit trail entries.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Request header carrying the client-chosen key, and the response header
// marking a replayed response.
const (
	KeyHeader    = "Idempotency-Key"
	ReplayHeader = "Idempotency-Replayed"
)

// Record statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Record is a stored idempotency key with the response it produced. The
// actor is kept so key reuse across identities can be audited.
type Record struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	Actor              string    `json:"actor,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	ResponseHash       string    `json:"response_hash"`
	Status             string    `json:"status"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey checks that an idempotency key is non-empty and within the
// length bound.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash returns the hex SHA256 of a response body, stored so
// replayed responses can be integrity checked.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository defines methods for idempotency record persistence.
type Repository interface {
	// Get retrieves a record by key. Returns ErrKeyNotFound if absent.
	Get(key string) (*Record, error)

	// Store saves a new record. Returns ErrKeyExists on duplicates.
	Store(record *Record) error

	// DeleteOlderThan removes records older than the given age and
	// returns how many were removed.
	DeleteOlderThan(age time.Duration) (int64, error)
}
