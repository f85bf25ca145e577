package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment. The
// value is constructed once at startup and treated as immutable afterwards;
// services receive it (or slices of it) at construction time.
type Config struct {
	AppEnv      string
	Port        string
	RedisURL    string
	DatabaseURL string

	StripeSecretKey string
	StripeBaseURL   string

	PublicBaseURL          string
	CORSAllowedOrigins     []string
	RedirectAllowedOrigins []string

	PriceRetainer string
	PriceStarter  string
	PriceWorkshop string
	// OfferingsJSON optionally replaces the built-in offering set.
	OfferingsJSON string

	IdempotencyTTL   time.Duration
	IdempotencyLease time.Duration

	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	ProviderBaseBackoff time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	AuditEnabled bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:    k.String("REDIS_URL"),
		DatabaseURL: k.String("DATABASE_URL"),

		StripeSecretKey: k.String("STRIPE_SECRET_KEY"),
		StripeBaseURL:   valueOrDefault(k.String("STRIPE_BASE_URL"), "https://api.stripe.com"),

		PublicBaseURL:          valueOrDefault(k.String("PUBLIC_BASE_URL"), "https://mpowerio.ai"),
		CORSAllowedOrigins:     splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RedirectAllowedOrigins: splitAndTrim(k.String("REDIRECT_ALLOWED_ORIGINS")),

		PriceRetainer: k.String("STRIPE_PRICE_RETAINER"),
		PriceStarter:  k.String("STRIPE_PRICE_STARTER"),
		PriceWorkshop: k.String("STRIPE_PRICE_WORKSHOP"),
		OfferingsJSON: k.String("CATALOG_OFFERINGS_JSON"),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		IdempotencyLease: parseDuration(k.String("IDEMPOTENCY_LEASE"), "30s"),

		ProviderTimeout:     parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		ProviderMaxAttempts: parseInt(k.String("PROVIDER_MAX_ATTEMPTS"), 3),
		ProviderBaseBackoff: parseDuration(k.String("PROVIDER_BASE_BACKOFF"), "200ms"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 20),

		AuditEnabled: parseBool(k.String("AUDIT_ENABLED")),
	}

	// The redirect origin allow-list defaults to the site's own origin so a
	// bare deployment cannot be abused as an open redirect.
	if len(cfg.RedirectAllowedOrigins) == 0 {
		cfg.RedirectAllowedOrigins = []string{cfg.PublicBaseURL}
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{cfg.PublicBaseURL}
	}

	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
