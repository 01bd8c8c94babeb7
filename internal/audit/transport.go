package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Defaults for the outbound HTTP client.
const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxRedirects = 5
)

// newHTTPClient builds the outbound client used for both the log service
// and the anchoring index: configurable timeout, bounded redirects, and
// otel instrumentation on the transport.
func newHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// post submits a JSON payload to a service path and decodes the reply into
// out, which must embed the Response envelope. Transport failures and
// undecodable replies are returned as errors; service-level failure
// statuses are left for the caller to inspect.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: encode %s request: %w", path, err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("audit: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("audit: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("audit: read %s response: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("audit: %s returned status %d", path, resp.StatusCode)
		}
		return fmt.Errorf("audit: decode %s response: %w", path, err)
	}
	return nil
}
