// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"access-core/internal/clientip"
	"access-core/internal/ratelimit"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the address of the HTTP edge (login, refresh, logout, me, healthz).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// MetricsAddr serves Prometheus metrics. Empty disables the metrics listener.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores, which is refused in production.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the rate-limit counting store (redis://host:port/db). Empty runs the limiter
	// in its degraded policy from the start.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisDB overrides the database number of RedisURL when non-zero.
	RedisDB int `mapstructure:"REDIS_DB"`

	// JWTSecret is the HS256 signing secret. Ignored when a key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "30m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// RefreshReuseRevokeAll revokes every refresh token of a subject when one of its revoked
	// refresh tokens is presented again.
	RefreshReuseRevokeAll bool `mapstructure:"REFRESH_REUSE_REVOKE_ALL"`

	// RateLimitRequests is the number of requests admitted per key and window.
	RateLimitRequests int `mapstructure:"RATE_LIMIT_REQUESTS"`
	// RateLimitWindowRaw is the sliding window length (e.g. "60s").
	RateLimitWindowRaw string `mapstructure:"RATE_LIMIT_WINDOW"`
	// RateLimitKeyPrefix prefixes every Redis key of the limiter.
	RateLimitKeyPrefix string `mapstructure:"RATE_LIMIT_KEY_PREFIX"`
	// RateLimitDegradedPolicy is fail_open, local or fail_closed.
	RateLimitDegradedPolicy string `mapstructure:"RATE_LIMIT_DEGRADED_POLICY"`
	// RateLimitTrustedProxies lists the CIDRs or addresses of proxies whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty trusts nobody and keys anonymous callers by peer address.
	RateLimitTrustedProxies string `mapstructure:"RATE_LIMIT_TRUSTED_PROXIES"`

	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint is the OTLP gRPC collector (host:port). Empty disables trace and metric export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// Every key needs a default so that Unmarshal sees it under AutomaticEnv.
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "access-core")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REFRESH_REUSE_REVOKE_ALL", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_KEY_PREFIX", "rate_limit:")
	v.SetDefault("RATE_LIMIT_DEGRADED_POLICY", string(ratelimit.PolicyFailOpen))
	v.SetDefault("RATE_LIMIT_TRUSTED_PROXIES", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "access-core")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.DatabaseURL == "" && c.IsProduction() {
		return errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitRequests <= 0 {
		return errors.New("config: RATE_LIMIT_REQUESTS must be positive")
	}
	if _, err := ratelimit.ParsePolicy(c.RateLimitDegradedPolicy); err != nil {
		return fmt.Errorf("config: RATE_LIMIT_DEGRADED_POLICY: %w", err)
	}
	if _, err := clientip.ParseProxies(c.RateLimitTrustedProxies); err != nil {
		return fmt.Errorf("config: RATE_LIMIT_TRUSTED_PROXIES: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// RequireSigningKey reports a fatal misconfiguration when no token signing material is set.
// A key pair must be complete.
func (c *Config) RequireSigningKey() error {
	hasPair := c.JWTPrivateKey != "" || c.JWTPublicKey != ""
	if hasPair && (c.JWTPrivateKey == "" || c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if !hasPair && c.JWTSecret == "" {
		return errors.New("config: one of JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// DegradedPolicy returns the parsed rate limiter degraded policy.
func (c *Config) DegradedPolicy() ratelimit.Policy {
	p, err := ratelimit.ParsePolicy(c.RateLimitDegradedPolicy)
	if err != nil {
		return ratelimit.PolicyFailOpen
	}
	return p
}

// TrustedProxies returns the parsed RateLimitTrustedProxies. Invalid input trusts nobody.
func (c *Config) TrustedProxies() *clientip.Proxies {
	p, err := clientip.ParseProxies(c.RateLimitTrustedProxies)
	if err != nil {
		return &clientip.Proxies{}
	}
	return p
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 30*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// RateLimitWindow parses RateLimitWindowRaw. Returns 60s if unset or invalid.
func (c *Config) RateLimitWindow() time.Duration {
	return parseDuration(c.RateLimitWindowRaw, time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
