package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// actorKey is the context key for the authenticated actor identity.
type actorKey struct{}

// tenantKey is the context key for the tenant (organization) identity.
type tenantKey struct{}

// clientInfoKey is the context key for client request metadata.
type clientInfoKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// ClientInfo carries the client-side metadata of a request, recorded as the
// source of audit events it produces.
type ClientInfo struct {
	IP        string
	Method    string
	UserAgent string
}

// SetActor stores the actor identity in the context.
// This should be called by authentication middleware after validating the token.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// GetActor retrieves the actor identity from context. Returns empty string if not present.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}

// SetTenantID stores the tenant identity in the context.
func SetTenantID(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// GetTenantID retrieves the tenant identity from context. Returns empty string if not present.
func GetTenantID(ctx context.Context) string {
	if tenant, ok := ctx.Value(tenantKey{}).(string); ok {
		return tenant
	}
	return ""
}

// SetClientInfo stores client request metadata in the context.
func SetClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// GetClientInfo retrieves client request metadata from context. Returns the
// zero value if not present.
func GetClientInfo(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(clientInfoKey{}).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}

// ClientMetadata is a middleware that records the request's client metadata
// (IP, method, user agent) in the context so downstream audit submissions
// can attach it as the event source.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := ClientInfo{
			IP:        extractIPAddress(r),
			Method:    r.Method,
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(SetClientInfo(r.Context(), info)))
	})
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// The port is stripped from the IP address.
func extractIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the chain, trimming whitespace per RFC 7239
		var firstIP string
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = strings.TrimSpace(xff[:idx])
		} else {
			firstIP = strings.TrimSpace(xff)
		}
		if firstIP != "" {
			host, _, err := net.SplitHostPort(firstIP)
			if err != nil {
				// IP might not have a port
				return firstIP
			}
			return host
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		xri = strings.TrimSpace(xri)
		host, _, err := net.SplitHostPort(xri)
		if err != nil {
			return xri
		}
		return host
	}

	// Fall back to RemoteAddr (strip port properly for both IPv4 and IPv6)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
