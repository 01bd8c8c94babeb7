package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// AuditChecker implements health checking for the audit log service.
type AuditChecker struct {
	url    string
	client *http.Client
}

// NewAuditChecker creates a new audit service health checker.
// The url should be the base URL of the audit log service.
func NewAuditChecker(url string) *AuditChecker {
	return &AuditChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck verifies the audit log service is reachable.
// The service has no dedicated health endpoint, so reachability of the
// base URL is used as the signal. Authentication failures still mean
// the service is up.
func (a *AuditChecker) HealthCheck(ctx context.Context) error {
	if a.url == "" {
		return fmt.Errorf("audit service url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach audit service: %w", err)
	}
	defer resp.Body.Close()

	// 5xx means the service itself is unhealthy; 4xx (auth, not found)
	// still proves reachability.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("audit service unhealthy: status code %d", resp.StatusCode)
	}

	return nil
}
