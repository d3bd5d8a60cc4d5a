// Package config loads process configuration from the environment once at
// startup. Components receive the resulting struct by injection; there is no
// ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EndpointLimit configures the fixed-window rate limit for one endpoint.
type EndpointLimit struct {
	Limit  int
	Window time.Duration
}

// GitHub holds OAuth App and API settings.
type GitHub struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIBaseURL   string
	// Org is the organization whose Projects v2 boards the task scan reads.
	Org string
}

// Config is the full process configuration.
type Config struct {
	Addr        string
	DatabaseURL string

	// SessionSigningKey signs bearer session tokens (HS256).
	SessionSigningKey []byte
	// TokenCipherKey is the master key for credential encryption at rest.
	// Rotating it invalidates all stored credentials.
	TokenCipherKey []byte

	GitHub GitHub

	SessionTTL     time.Duration
	CsrfTTL        time.Duration
	MaxTokenAge    time.Duration // fallback credential expiry when the provider reports none
	AuditRetention time.Duration

	// DefaultLimit applies to endpoints without an explicit entry in Limits.
	DefaultLimit EndpointLimit
	Limits       map[string]EndpointLimit

	// AuthRequestsPerMinute caps unauthenticated OAuth endpoints per client IP.
	AuthRequestsPerMinute int

	// TrustProxyHeaders enables reading the client IP from X-Forwarded-For.
	// Leave off unless a trusted reverse proxy sets the header.
	TrustProxyHeaders bool

	CleanupInterval time.Duration
}

// Load reads configuration from the environment, honoring a .env file when
// present. Missing required variables produce an error listing the variable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8443"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		GitHub: GitHub{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  getEnv("GITHUB_REDIRECT_URI", "https://localhost:8443/auth/github/callback"),
			APIBaseURL:   getEnv("GITHUB_API_BASE_URL", "https://api.github.com"),
			Org:          os.Getenv("GITHUB_ORG"),
		},
		SessionSigningKey: []byte(os.Getenv("SESSION_SIGNING_KEY")),
		TokenCipherKey:    []byte(os.Getenv("TOKEN_CIPHER_KEY")),
	}

	for name, val := range map[string]string{
		"DATABASE_URL":         cfg.DatabaseURL,
		"GITHUB_CLIENT_ID":     cfg.GitHub.ClientID,
		"GITHUB_CLIENT_SECRET": cfg.GitHub.ClientSecret,
		"SESSION_SIGNING_KEY":  string(cfg.SessionSigningKey),
		"TOKEN_CIPHER_KEY":     string(cfg.TokenCipherKey),
	} {
		if val == "" {
			return nil, fmt.Errorf("missing environment variable: %s", name)
		}
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CsrfTTL, err = getDuration("CSRF_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxTokenAge, err = getDuration("MAX_TOKEN_AGE", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AuditRetention, err = getDuration("AUDIT_RETENTION", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	rpm, err := getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	cfg.AuthRequestsPerMinute = rpm
	if cfg.TrustProxyHeaders, err = getBool("TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}
	cfg.DefaultLimit = EndpointLimit{Limit: rpm, Window: time.Minute}
	cfg.Limits = map[string]EndpointLimit{
		"push":       {Limit: 10, Window: time.Minute},
		"scan_tasks": {Limit: 30, Window: time.Minute},
		"merge":      {Limit: 10, Window: time.Minute},
	}

	return cfg, nil
}

// LimitFor returns the rate-limit settings for an endpoint, falling back to
// the default bucket.
func (c *Config) LimitFor(endpoint string) EndpointLimit {
	if l, ok := c.Limits[endpoint]; ok {
		return l
	}
	return c.DefaultLimit
}

// MaxWindow returns the longest configured rate-limit window. The cleanup
// worker keeps rate rows at least this long so no live window is purged.
func (c *Config) MaxWindow() time.Duration {
	w := c.DefaultLimit.Window
	for _, l := range c.Limits {
		if l.Window > w {
			w = l.Window
		}
	}
	return w
}

func getEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func getBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func getInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
