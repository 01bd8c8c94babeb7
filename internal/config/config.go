// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/veritrail/veritrail/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limiting). Empty means in-memory rate limiting.
	RedisAddr string `koanf:"redis_addr"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// Audit log service
	AuditBaseURL      string        `koanf:"audit_base_url"`
	AuditToken        string        `koanf:"audit_token"`
	AuditConfigID     string        `koanf:"audit_config_id"`
	ServiceName       string        `koanf:"service_name"`
	AuditTimeout      time.Duration `koanf:"audit_timeout"`
	AuditMaxRedirects int           `koanf:"audit_max_redirects"`

	// Root anchoring index. Empty values use the library defaults.
	ArweaveGraphQLURL string `koanf:"arweave_graphql_url"`
	ArweaveGatewayURL string `koanf:"arweave_gateway_url"`

	// Tracing
	TracingEnabled  bool    `koanf:"tracing_enabled"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPExporter    string  `koanf:"otlp_exporter"` // "otlp-grpc" or "otlp-http"
	TraceSampleRate float64 `koanf:"trace_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret    = errors.New("JWT_SECRET is required")
	ErrMissingAuditBaseURL = errors.New("AUDIT_BASE_URL is required")
	ErrMissingAuditToken   = errors.New("AUDIT_TOKEN is required")
	ErrInvalidPort         = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultServiceName       = "veritrail-api"
	DefaultAuditTimeout      = 20 * time.Second
	DefaultAuditMaxRedirects = 5
	DefaultOTLPExporter      = "otlp-grpc"
	DefaultTraceSampleRate   = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	timeout, timeoutErr := getEnvDurationOrDefault("AUDIT_TIMEOUT", k.Duration("audit_timeout"), DefaultAuditTimeout)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	maxRedirects, redirectsErr := getEnvIntOrDefault("AUDIT_MAX_REDIRECTS", k.Int("audit_max_redirects"), DefaultAuditMaxRedirects)
	if redirectsErr != nil {
		loadErrs = append(loadErrs, redirectsErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACE_SAMPLE_RATE", k.Float64("trace_sample_rate"), DefaultTraceSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		tracingEnabled = parseBool(val)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefault("VERITRAIL_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:         getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		AuditBaseURL:      getEnvOrKoanf("AUDIT_BASE_URL", k, "audit_base_url"),
		AuditToken:        getEnvOrKoanf("AUDIT_TOKEN", k, "audit_token"),
		AuditConfigID:     getEnvOrKoanf("AUDIT_CONFIG_ID", k, "audit_config_id"),
		ServiceName:       getEnvOrDefault("SERVICE_NAME", k.String("service_name"), DefaultServiceName),
		AuditTimeout:      timeout,
		AuditMaxRedirects: maxRedirects,
		ArweaveGraphQLURL: getEnvOrKoanf("ARWEAVE_GRAPHQL_URL", k, "arweave_graphql_url"),
		ArweaveGatewayURL: getEnvOrKoanf("ARWEAVE_GATEWAY_URL", k, "arweave_gateway_url"),
		TracingEnabled:    tracingEnabled,
		OTLPEndpoint:      getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		OTLPExporter:      getEnvOrDefault("OTLP_EXPORTER", k.String("otlp_exporter"), DefaultOTLPExporter),
		TraceSampleRate:   sampleRate,
	}

	errs := append(loadErrs, cfg.Validate()...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.AuditBaseURL == "" {
		errs = append(errs, ErrMissingAuditBaseURL)
	} else if _, err := validate.ServiceURL(c.AuditBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("AUDIT_BASE_URL: %w", err))
	}
	if c.AuditToken == "" {
		errs = append(errs, ErrMissingAuditToken)
	}
	for name, u := range map[string]string{
		"ARWEAVE_GRAPHQL_URL": c.ArweaveGraphQLURL,
		"ARWEAVE_GATEWAY_URL": c.ArweaveGatewayURL,
	} {
		if u == "" {
			continue
		}
		if _, err := validate.ServiceURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                fmt.Sprintf("%d", c.Port),
		"env":                 c.Env,
		"database_url":        maskDatabaseURL(c.DatabaseURL),
		"redis_addr":          c.RedisAddr,
		"jwt_secret":          maskSecret(c.JWTSecret),
		"audit_base_url":      c.AuditBaseURL,
		"audit_token":         maskSecret(c.AuditToken),
		"audit_config_id":     c.AuditConfigID,
		"service_name":        c.ServiceName,
		"audit_timeout":       c.AuditTimeout.String(),
		"audit_max_redirects": fmt.Sprintf("%d", c.AuditMaxRedirects),
		"arweave_graphql_url": c.ArweaveGraphQLURL,
		"arweave_gateway_url": c.ArweaveGatewayURL,
		"tracing_enabled":     fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":       c.OTLPEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
