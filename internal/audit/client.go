package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/veritrail/veritrail/internal/middleware"
	"github.com/veritrail/veritrail/internal/tracing"
)

// Search defaults applied when the caller does not override them.
const (
	DefaultSearchLimit   = 20
	DefaultSearchOrder   = "desc"
	DefaultSearchOrderBy = "received_at"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the audit log service endpoint, e.g. "https://audit.example.com".
	BaseURL string
	// Token is the bearer token for the service.
	Token string
	// ConfigID selects the audit configuration on the service.
	ConfigID string
	// ServiceName is stamped on every event this client submits.
	ServiceName string
	// Timeout bounds every outbound call. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRedirects bounds redirect following. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// ArweaveGraphQLURL overrides the anchoring index endpoint.
	ArweaveGraphQLURL string
	// ArweaveGatewayURL overrides the anchoring content gateway.
	ArweaveGatewayURL string
	// Logger receives soft-failure and diagnostic logs. Defaults to
	// slog.Default.
	Logger *slog.Logger
	// Metrics, when set, records submissions and verification verdicts.
	Metrics *Metrics
}

// Validation errors for client construction.
var (
	ErrMissingBaseURL = errors.New("audit: base URL is required")
	ErrMissingToken   = errors.New("audit: token is required")
)

// Client submits events to the audit log service and verifies the proof
// material it returns.
type Client struct {
	cfg        Config
	httpClient *http.Client
	resolver   *Resolver
	logger     *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := newHTTPClient(cfg.Timeout, cfg.MaxRedirects)
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		resolver:   NewResolver(httpClient, cfg.ArweaveGraphQLURL, cfg.ArweaveGatewayURL, cfg.Logger),
		logger:     cfg.Logger,
	}, nil
}

// Session carries the root-chaining state between sequential submissions by
// one caller: the hash of the latest unpublished root the service returned.
// The hash only advances to the newest returned root, never backward. A
// Session is scoped to a single caller and is not safe for concurrent use.
type Session struct {
	prevUnpublishedRoot string
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// PrevRoot returns the hash of the last unpublished root seen, or empty if
// no verified submission has completed yet.
func (s *Session) PrevRoot() string {
	if s == nil {
		return ""
	}
	return s.prevUnpublishedRoot
}

func (s *Session) advance(rootHash string) {
	if s == nil || rootHash == "" {
		return
	}
	s.prevUnpublishedRoot = rootHash
}

// buildEvent fills the identity and client metadata fields of an event from
// the caller context and configuration, then flattens it into its transport
// form. Fields the caller set explicitly are kept.
func (c *Client) buildEvent(ctx context.Context, event Event) (map[string]any, []byte, error) {
	if event.Actor == "" {
		event.Actor = middleware.GetActor(ctx)
	}
	if event.TenantID == "" {
		event.TenantID = middleware.GetTenantID(ctx)
	}
	if event.ServiceName == "" {
		event.ServiceName = c.cfg.ServiceName
	}
	if event.Source == "" {
		if info := middleware.GetClientInfo(ctx); info != (middleware.ClientInfo{}) {
			source, err := canonString(map[string]any{
				"ip":         info.IP,
				"method":     info.Method,
				"user_agent": info.UserAgent,
			})
			if err != nil {
				return nil, nil, err
			}
			event.Source = source
		}
	}
	return normalizeEvent(event)
}

// sign attaches a signature and public key payload to a wire event.
func sign(opts LogOptions, canon []byte) (signature, publicKey string, err error) {
	if opts.Signer == nil {
		return "", "", nil
	}
	signature, err = opts.Signer.Sign(canon)
	if err != nil {
		return "", "", fmt.Errorf("audit: sign event: %w", err)
	}
	publicKey, err = publicKeyPayload(opts.Signer, opts.PublicKeyInfo)
	if err != nil {
		return "", "", fmt.Errorf("audit: build public key payload: %w", err)
	}
	return signature, publicKey, nil
}

// Log submits one event. The event is built from the caller context,
// canonicalized, optionally signed, and submitted; the response is then
// verified: envelope hash (fatal on mismatch) and signature always, plus
// membership and root-chain consistency when opts.Verify is set. The
// session's previous unpublished root is advanced afterwards.
func (c *Client) Log(ctx context.Context, sess *Session, event Event, opts LogOptions) (*LogResponse, error) {
	wireEvent, canon, err := c.buildEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	req := logRequest{
		Event:    wireEvent,
		ConfigID: c.cfg.ConfigID,
		Verbose:  opts.Verbose,
	}
	req.Signature, req.PublicKey, err = sign(opts, canon)
	if err != nil {
		return nil, err
	}
	if opts.Verify {
		req.Verbose = true
		req.PrevRoot = sess.PrevRoot()
	}

	out := &LogResponse{}
	if err := c.post(ctx, "v1/log", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("log", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("log", out.Status)
	if !out.Success() || out.Result == nil {
		return out, nil
	}
	if err := c.processLogResult(ctx, out.Result, sess, opts); err != nil {
		return out, err
	}
	return out, nil
}

// processLogResult runs post-response verification on a single log result
// and advances the session root chain.
func (c *Client) processLogResult(ctx context.Context, res *LogResult, sess *Session, opts LogOptions) (err error) {
	_, end := tracing.StartSpan(ctx, "audit.verify_submission")
	defer func() { end(err) }()

	if !opts.SkipEventVerification {
		if err := VerifyHash(res.Envelope, res.Hash); err != nil {
			return err
		}
		res.SignatureVerification = VerifySignature(res.Envelope)
		c.cfg.Metrics.observeVerdict("signature", res.SignatureVerification)
	}
	if opts.Verify {
		res.MembershipVerification = VerifyMembership(res.UnpublishedRoot, res.Hash, res.MembershipProof)
		c.cfg.Metrics.observeVerdict("membership", res.MembershipVerification)
		if prev := sess.PrevRoot(); prev != "" {
			res.ConsistencyVerification = verifyConsistencyAgainstHash(res.UnpublishedRoot, prev)
			c.cfg.Metrics.observeVerdict("consistency", res.ConsistencyVerification)
		}
	}
	if res.UnpublishedRoot != nil {
		sess.advance(res.UnpublishedRoot.RootHash)
	}
	return nil
}

// LogBulk submits a batch of events. Bulk submissions never request
// membership or consistency verification; opts.Verify is ignored. An empty
// batch returns an empty result without a network call.
func (c *Client) LogBulk(ctx context.Context, events []Event, opts LogOptions) (*BulkResponse, error) {
	// Proof chaining is a single-submission feature.
	opts.Verify = false

	if len(events) == 0 {
		return &BulkResponse{
			Response: Response{Status: StatusSuccess},
			Result:   &BulkResult{Results: []*LogResult{}},
		}, nil
	}

	req := bulkRequest{
		Events:   make([]bulkEvent, 0, len(events)),
		ConfigID: c.cfg.ConfigID,
		Verbose:  opts.Verbose,
	}
	for _, event := range events {
		wireEvent, canon, err := c.buildEvent(ctx, event)
		if err != nil {
			return nil, err
		}
		be := bulkEvent{Event: wireEvent}
		be.Signature, be.PublicKey, err = sign(opts, canon)
		if err != nil {
			return nil, err
		}
		req.Events = append(req.Events, be)
	}

	out := &BulkResponse{}
	if err := c.post(ctx, "v2/log", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("log_bulk", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("log_bulk", out.Status)
	if !out.Success() || out.Result == nil {
		return out, nil
	}
	for _, res := range out.Result.Results {
		if err := c.processLogResult(ctx, res, nil, opts); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Search submits a structured query over historical events. Caller-supplied
// query options override the defaults; requesting consistency verification
// forces a verbose response so proof material is included.
func (c *Client) Search(ctx context.Context, query string, qOpts *QueryOptions, opts SearchOptions) (*SearchResponse, error) {
	req := searchRequest{
		Query:    query,
		Limit:    DefaultSearchLimit,
		Order:    DefaultSearchOrder,
		OrderBy:  DefaultSearchOrderBy,
		ConfigID: c.cfg.ConfigID,
	}
	if qOpts != nil {
		if qOpts.Limit > 0 {
			req.Limit = qOpts.Limit
		}
		if qOpts.Order != "" {
			req.Order = qOpts.Order
		}
		if qOpts.OrderBy != "" {
			req.OrderBy = qOpts.OrderBy
		}
		req.Start = qOpts.Start
		req.End = qOpts.End
	}
	if opts.VerifyConsistency {
		req.Verbose = true
	}

	out := &SearchResponse{}
	if err := c.post(ctx, "v1/search", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("search", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("search", out.Status)
	if !out.Success() {
		return out, nil
	}
	if err := c.processSearchResult(ctx, out.Result, opts); err != nil {
		return out, err
	}
	return out, nil
}

// Results fetches a page of a prior search by its id. The id is mandatory;
// an empty id fails before any network call.
func (c *Client) Results(ctx context.Context, id string, limit, offset int, opts SearchOptions) (*SearchResponse, error) {
	if id == "" {
		return nil, ErrMissingSearchID
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	req := resultsRequest{ID: id, Limit: limit, Offset: offset}

	out := &SearchResponse{}
	if err := c.post(ctx, "v1/results", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("results", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("results", out.Status)
	if !out.Success() {
		return out, nil
	}
	if err := c.processSearchResult(ctx, out.Result, opts); err != nil {
		return out, err
	}
	return out, nil
}

// processSearchResult verifies every returned record: hash (fatal on
// mismatch) and signature always, and when consistency verification was
// requested, membership and consistency against roots resolved from the
// anchoring index with the live root query as fallback.
func (c *Client) processSearchResult(ctx context.Context, res *SearchResult, opts SearchOptions) (err error) {
	if res == nil {
		return nil
	}
	ctx, end := tracing.StartSpan(ctx, "audit.verify_records",
		attribute.Int("audit.record_count", len(res.Events)))
	defer func() { end(err) }()

	if !opts.SkipEventVerification {
		for _, rec := range res.Events {
			if err := VerifyHash(rec.Envelope, rec.Hash); err != nil {
				return err
			}
			rec.SignatureVerification = VerifySignature(rec.Envelope)
			c.cfg.Metrics.observeVerdict("signature", rec.SignatureVerification)
		}
	}
	if !opts.VerifyConsistency || res.Root == nil {
		return nil
	}

	roots := c.resolver.PublishedRoots(ctx, res.Root.TreeName, requiredTreeSizes(res), c.fetchRoot)
	for _, rec := range res.Events {
		candidate := res.UnpublishedRoot
		if rec.Published {
			candidate = roots[res.Root.Size]
		}
		rec.MembershipVerification = VerifyMembership(candidate, rec.Hash, rec.MembershipProof)
		c.cfg.Metrics.observeVerdict("membership", rec.MembershipVerification)
		rec.ConsistencyVerification = VerifyRecordConsistency(roots, rec)
		c.cfg.Metrics.observeVerdict("consistency", rec.ConsistencyVerification)
	}
	return nil
}

// requiredTreeSizes collects every distinct tree size a result set implies:
// the overall root size plus, per record, the sizes just before and just
// after the record was appended.
func requiredTreeSizes(res *SearchResult) []int64 {
	seen := map[int64]bool{}
	if res.Root != nil && res.Root.Size > 0 {
		seen[res.Root.Size] = true
	}
	for _, rec := range res.Events {
		if rec.LeafIndex == nil {
			continue
		}
		idx := *rec.LeafIndex
		if idx > 0 {
			seen[idx] = true
		}
		seen[idx+1] = true
	}
	sizes := make([]int64, 0, len(seen))
	for size := range seen {
		sizes = append(sizes, size)
	}
	return sizes
}

// fetchRoot adapts the root operation to the resolver's fallback shape.
func (c *Client) fetchRoot(ctx context.Context, size int64) (*Root, error) {
	resp, err := c.Root(ctx, size)
	if err != nil {
		return nil, err
	}
	if !resp.Success() || resp.Result == nil || resp.Result.Data == nil {
		return nil, fmt.Errorf("audit: root query for size %d failed: %s", size, resp.Summary)
	}
	return resp.Result.Data, nil
}

// Root fetches the current tree root, or the root at a historical size when
// size is greater than zero.
func (c *Client) Root(ctx context.Context, size int64) (*RootResponse, error) {
	req := rootRequest{}
	if size > 0 {
		req.TreeSize = size
	}
	out := &RootResponse{}
	if err := c.post(ctx, "v1/root", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("root", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("root", out.Status)
	return out, nil
}

// LogStream submits a vendor-schema payload to the log ingestion endpoint.
// The payload is opaque to the client; no verification is performed.
func (c *Client) LogStream(ctx context.Context, data any) (*StreamResponse, error) {
	out := &StreamResponse{}
	if err := c.post(ctx, "v1/log_stream", data, out); err != nil {
		c.cfg.Metrics.observeSubmission("log_stream", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("log_stream", out.Status)
	return out, nil
}

// DownloadResults requests a URL serving a compressed export of prior
// search results. Pass-through; no verification is performed.
func (c *Client) DownloadResults(ctx context.Context, req DownloadRequest) (*DownloadResponse, error) {
	out := &DownloadResponse{}
	if err := c.post(ctx, "v1/download_results", req, out); err != nil {
		c.cfg.Metrics.observeSubmission("download_results", "")
		return nil, err
	}
	c.cfg.Metrics.observeSubmission("download_results", out.Status)
	return out, nil
}
