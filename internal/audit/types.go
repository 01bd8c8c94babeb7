// Package audit provides a client for the Veritrail tamper-evident audit
// log service. Submitted events are hashed into a Merkle tree by the
// service; the client verifies the returned proof material locally: envelope
// hashes, ed25519 signatures, membership proofs, and consistency proofs
// chained against roots anchored on the public Arweave ledger.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response statuses returned by the audit log service.
const (
	StatusSuccess = "Success"
)

// Verdict is the outcome of a single verification check. An empty verdict
// means the check was not performed because required inputs were absent;
// callers must treat "not verified" and "failed" distinctly.
type Verdict string

const (
	// VerdictNone indicates verification was skipped or inputs were missing.
	VerdictNone Verdict = ""
	// VerdictPass indicates the check succeeded.
	VerdictPass Verdict = "pass"
	// VerdictFail indicates the check ran and the proof did not hold.
	VerdictFail Verdict = "fail"
)

// ErrMissingSearchID is returned by Results when no search id is provided.
var ErrMissingSearchID = errors.New("audit: search id is required")

// IntegrityError reports a mismatch between the hash recomputed from an
// envelope and the hash the service returned for it. Unlike proof verdicts
// this is fatal: the response cannot be trusted at all.
type IntegrityError struct {
	// Hash is the hash the service claimed for the envelope.
	Hash string
	// Envelope is the serialized envelope that failed to reproduce Hash.
	Envelope string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit: envelope hash mismatch for hash %q", e.Hash)
}

// Event is a structured record of an auditable activity. Actor, TenantID,
// Source and ServiceName are filled in by the client from the caller context
// and configuration when left empty. Message, Old, New and Target may be
// arbitrary JSON-encodable values; object values are canonically stringified
// before transport so hashing is reproducible. Events are immutable once
// submitted.
type Event struct {
	Actor       string `json:"actor,omitempty"`
	Action      string `json:"action,omitempty"`
	Status      string `json:"status,omitempty"`
	Source      string `json:"source,omitempty"`
	Target      any    `json:"target,omitempty"`
	Message     any    `json:"message,omitempty"`
	Old         any    `json:"old,omitempty"`
	New         any    `json:"new,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// LogOptions configures a single submission.
type LogOptions struct {
	// Verbose requests the extended response (envelope, root, proofs).
	Verbose bool
	// Verify requests membership and consistency verification of the
	// response, chaining the new unpublished root to the previous one held
	// by the Session.
	Verify bool
	// SkipEventVerification bypasses the local hash and signature checks.
	SkipEventVerification bool
	// Signer, when set, signs the canonical event before submission.
	Signer Signer
	// PublicKeyInfo is extra metadata merged into the public key envelope.
	PublicKeyInfo map[string]any
}

// QueryOptions overrides the search defaults (limit 20, order desc by
// received_at). Zero values keep the defaults.
type QueryOptions struct {
	Limit   int
	Order   string
	OrderBy string
	Start   string
	End     string
}

// SearchOptions configures verification of search and results responses.
type SearchOptions struct {
	// VerifyConsistency requests membership and consistency verification of
	// every returned record against independently anchored roots. Forces a
	// verbose search request.
	VerifyConsistency bool
	// SkipEventVerification bypasses the local hash and signature checks.
	SkipEventVerification bool
}

// Root is a snapshot of the Merkle tree state at a given size, fetched live
// from the service or resolved from an external anchor.
type Root struct {
	TreeName         string   `json:"tree_name,omitempty"`
	Size             int64    `json:"size,omitempty"`
	RootHash         string   `json:"root_hash,omitempty"`
	URL              string   `json:"url,omitempty"`
	PublishedAt      string   `json:"published_at,omitempty"`
	ConsistencyProof []string `json:"consistency_proof,omitempty"`

	// TransactionID is the anchoring transaction this root was resolved
	// from. Empty for live (unpublished) roots.
	TransactionID string `json:"transaction_id,omitempty"`
}

// PublishedRoots maps tree size to a resolved root. Built fresh per search
// call and used as the trust anchor set for consistency proofs; never
// persisted across calls.
type PublishedRoots map[int64]*Root

// LogResult is the per-event result returned by the log endpoints,
// augmented with verification verdicts after post-processing.
type LogResult struct {
	Envelope         json.RawMessage `json:"envelope,omitempty"`
	Hash             string          `json:"hash,omitempty"`
	UnpublishedRoot  *Root           `json:"unpublished_root,omitempty"`
	MembershipProof  string          `json:"membership_proof,omitempty"`
	ConsistencyProof []string        `json:"consistency_proof,omitempty"`

	SignatureVerification   Verdict `json:"signature_verification,omitempty"`
	MembershipVerification  Verdict `json:"membership_verification,omitempty"`
	ConsistencyVerification Verdict `json:"consistency_verification,omitempty"`
}

// AuditRecord is a single search result entry, augmented with verification
// verdicts after post-processing.
type AuditRecord struct {
	Envelope        json.RawMessage `json:"envelope,omitempty"`
	Hash            string          `json:"hash,omitempty"`
	LeafIndex       *int64          `json:"leaf_index,omitempty"`
	MembershipProof string          `json:"membership_proof,omitempty"`
	Published       bool            `json:"published,omitempty"`

	SignatureVerification   Verdict `json:"signature_verification,omitempty"`
	MembershipVerification  Verdict `json:"membership_verification,omitempty"`
	ConsistencyVerification Verdict `json:"consistency_verification,omitempty"`
}

// SearchResult is the payload shared by the search and results endpoints.
type SearchResult struct {
	ID              string         `json:"id,omitempty"`
	Count           int            `json:"count,omitempty"`
	ExpiresAt       string         `json:"expires_at,omitempty"`
	Events          []*AuditRecord `json:"events"`
	Root            *Root          `json:"root,omitempty"`
	UnpublishedRoot *Root          `json:"unpublished_root,omitempty"`
}

// BulkResult wraps the per-event results of a bulk submission.
type BulkResult struct {
	Results []*LogResult `json:"results"`
}

// RootResult wraps the tree root returned by the root endpoint.
type RootResult struct {
	Data *Root `json:"data,omitempty"`
}

// DownloadRequest asks the service for a URL serving a compressed export of
// prior search results.
type DownloadRequest struct {
	RequestID string `json:"request_id,omitempty"`
	ResultID  string `json:"result_id,omitempty"`
	Format    string `json:"format,omitempty"`
}

// DownloadResult carries the export URL issued by the service.
type DownloadResult struct {
	DestURL string `json:"dest_url,omitempty"`
}

// Response is the envelope common to every service reply.
type Response struct {
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Success reports whether the service accepted the request.
func (r Response) Success() bool {
	return r.Status == StatusSuccess
}

// LogResponse is the reply to a single-event submission.
type LogResponse struct {
	Response
	Result *LogResult `json:"result,omitempty"`
}

// BulkResponse is the reply to a bulk submission.
type BulkResponse struct {
	Response
	Result *BulkResult `json:"result,omitempty"`
}

// SearchResponse is the reply to a search or results call.
type SearchResponse struct {
	Response
	Result *SearchResult `json:"result,omitempty"`
}

// RootResponse is the reply to a root query.
type RootResponse struct {
	Response
	Result *RootResult `json:"result,omitempty"`
}

// DownloadResponse is the reply to a download request.
type DownloadResponse struct {
	Response
	Result *DownloadResult `json:"result,omitempty"`
}

// StreamResponse is the reply to a vendor log-stream submission. The result
// schema is vendor-defined and passed through opaque.
type StreamResponse struct {
	Response
	Result json.RawMessage `json:"result,omitempty"`
}

// Wire payloads.

type logRequest struct {
	Event     map[string]any `json:"event"`
	ConfigID  string         `json:"config_id,omitempty"`
	Signature string         `json:"signature,omitempty"`
	PublicKey string         `json:"public_key,omitempty"`
	Verbose   bool           `json:"verbose,omitempty"`
	PrevRoot  string         `json:"prev_root,omitempty"`
}

type bulkEvent struct {
	Event     map[string]any `json:"event"`
	Signature string         `json:"signature,omitempty"`
	PublicKey string         `json:"public_key,omitempty"`
}

type bulkRequest struct {
	Events   []bulkEvent `json:"events"`
	ConfigID string      `json:"config_id,omitempty"`
	Verbose  bool        `json:"verbose,omitempty"`
}

type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	Order    string `json:"order,omitempty"`
	OrderBy  string `json:"order_by,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`
	ConfigID string `json:"config_id,omitempty"`
}

type resultsRequest struct {
	ID     string `json:"id"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset"`
}

type rootRequest struct {
	TreeSize int64 `json:"tree_size,omitempty"`
}
