package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RuntimeCacheTTL bounds how stale a runtime evaluation may be on a
	// replica that did not perform the write.
	RuntimeCacheTTL time.Duration

	RiskAssessor        string
	RiskAssessorURL     string
	RiskAssessorTimeout time.Duration

	ApproverPolicyFile        string
	ApproversLow              []string
	ApproversMedium           []string
	ApproversHigh             []string
	ApproversCritical         []string
	ApprovalOverrideApprovers []string

	CORSAllowedOrigins []string

	// RateLimitWritesPerMinute applies to mutating requests only; 0 disables.
	RateLimitWritesPerMinute int
	RateLimitFailClosed      bool
	RateLimitTrustedCIDRs    []string
	ProbeRateLimitBypass     bool

	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration

	ShutdownTimeout time.Duration

	OTELServiceName          string
	OTELEnvironment          string
	OTELMetricsEnabled       bool
	OTELTracingEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELTraceSamplingRatio   float64
	OTELMetricExportInterval time.Duration
}

const (
	RiskAssessorHeuristic = "heuristic"
	RiskAssessorHTTP      = "http"
)

func Load() (*Config, error) {
	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPPort:                  getEnv("HTTP_PORT", "8080"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   getEnvInt("REDIS_DB", 0),
		RiskAssessor:              strings.ToLower(getEnv("RISK_ASSESSOR", RiskAssessorHeuristic)),
		RiskAssessorURL:           strings.TrimSpace(os.Getenv("RISK_ASSESSOR_URL")),
		ApproverPolicyFile:        strings.TrimSpace(os.Getenv("APPROVER_POLICY_FILE")),
		ApproversLow:              splitCSV(getEnv("APPROVERS_LOW", "peer-reviewer@company.com")),
		ApproversMedium:           splitCSV(getEnv("APPROVERS_MEDIUM", "team-lead@company.com")),
		ApproversHigh:             splitCSV(getEnv("APPROVERS_HIGH", "senior-engineer@company.com")),
		ApproversCritical:         splitCSV(getEnv("APPROVERS_CRITICAL", "security-lead@company.com")),
		ApprovalOverrideApprovers: splitCSV(os.Getenv("APPROVAL_OVERRIDE_APPROVERS")),
		CORSAllowedOrigins:        splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimitWritesPerMinute:  getEnvInt("RATE_LIMIT_WRITES_PER_MINUTE", 120),
		RateLimitFailClosed:       getEnvBool("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitTrustedCIDRs:     splitCSV(os.Getenv("RATE_LIMIT_TRUSTED_CIDRS")),
		ProbeRateLimitBypass:      getEnvBool("RATE_LIMIT_BYPASS_PROBES", true),
		IdempotencyEnabled:        getEnvBool("IDEMPOTENCY_ENABLED", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "feature-flag-control-plane"),
		OTELMetricsEnabled:        getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:    getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
	}
	cfg.OTELEnvironment = getEnv("OTEL_ENVIRONMENT", cfg.Env)

	cacheTTL, err := time.ParseDuration(getEnv("RUNTIME_CACHE_TTL", "2s"))
	if err != nil {
		return nil, fmt.Errorf("parse RUNTIME_CACHE_TTL: %w", err)
	}
	cfg.RuntimeCacheTTL = cacheTTL

	assessTimeout, err := time.ParseDuration(getEnv("RISK_ASSESSOR_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("parse RISK_ASSESSOR_TIMEOUT: %w", err)
	}
	cfg.RiskAssessorTimeout = assessTimeout

	idemTTL, err := time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("parse IDEMPOTENCY_TTL: %w", err)
	}
	cfg.IdempotencyTTL = idemTTL

	shutdown, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("parse SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout = shutdown

	exportInterval, err := time.ParseDuration(getEnv("OTEL_METRIC_EXPORT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("parse OTEL_METRIC_EXPORT_INTERVAL: %w", err)
	}
	cfg.OTELMetricExportInterval = exportInterval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.RuntimeCacheTTL < 100*time.Millisecond || c.RuntimeCacheTTL > time.Minute {
		errs = append(errs, "RUNTIME_CACHE_TTL must be between 100ms and 1m")
	}
	if c.RiskAssessorTimeout < 100*time.Millisecond || c.RiskAssessorTimeout > time.Minute {
		errs = append(errs, "RISK_ASSESSOR_TIMEOUT must be between 100ms and 1m")
	}
	switch c.RiskAssessor {
	case RiskAssessorHeuristic:
	case RiskAssessorHTTP:
		if c.RiskAssessorURL == "" {
			errs = append(errs, "RISK_ASSESSOR_URL is required when RISK_ASSESSOR=http")
		}
	default:
		errs = append(errs, "RISK_ASSESSOR must be heuristic or http")
	}
	if c.ApproverPolicyFile == "" {
		for name, pool := range map[string][]string{
			"APPROVERS_LOW":      c.ApproversLow,
			"APPROVERS_MEDIUM":   c.ApproversMedium,
			"APPROVERS_HIGH":     c.ApproversHigh,
			"APPROVERS_CRITICAL": c.ApproversCritical,
		} {
			if len(pool) == 0 {
				errs = append(errs, name+" must list at least one approver")
			}
		}
	}
	if c.RateLimitWritesPerMinute < 0 {
		errs = append(errs, "RATE_LIMIT_WRITES_PER_MINUTE must be >= 0")
	}
	if c.IdempotencyEnabled && c.IdempotencyTTL < time.Minute {
		errs = append(errs, "IDEMPOTENCY_TTL must be at least 1m")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled) && strings.TrimSpace(c.OTELExporterOTLPEndpoint) == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when telemetry export is enabled")
	}
	if c.RedisDB < 0 {
		errs = append(errs, "REDIS_DB must be >= 0")
	}
	if len(errs) > 0 {
		slices.Sort(errs)
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
