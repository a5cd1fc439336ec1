package bifrost

import (
	"net/http"
	"time"

	"github.com/amnorman/bifrost/store"
	"github.com/rs/zerolog"
)

// Config contains configuration options for Bifrost.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://api.example.com".
	// Required.
	BaseURL string

	// APIPrefix is prepended to every endpoint path.
	// Default: "/api/v1".
	APIPrefix string

	// RefreshThreshold is how long before expiry a proactive renewal is
	// due. Default: 5 minutes.
	RefreshThreshold time.Duration

	// MaxRetries is the number of renewal attempts before the session is
	// invalidated. Default: 3.
	MaxRetries int

	// RetryDelay is the base wait between renewal attempts; attempt n
	// waits RetryDelay * n (linear backoff). Default: 1 second.
	RetryDelay time.Duration

	// DisableBackgroundRefresh turns off the proactive renewal scheduler.
	// The zero value keeps it enabled.
	DisableBackgroundRefresh bool

	// RefreshTimeout bounds each renewal network call.
	// Default: 10 seconds.
	RefreshTimeout time.Duration

	// RequestTimeout bounds every other network call.
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// LockTTL is how long the advisory cross-process refresh lock is
	// honored before it is considered stale. Default: 30 seconds.
	LockTTL time.Duration

	// Store is the credential storage backend.
	// Default: SQLite store (creates bifrost.db in current directory).
	Store store.Store

	// DatabasePath is the path for the default SQLite database.
	// Only used if Store is nil. Default: "bifrost.db".
	DatabasePath string

	// Notifier supplies external-change and foreground-regain signals.
	// Optional; without one the controller relies on its timer alone.
	Notifier Notifier

	// Logger receives diagnostic output. Optional; silent by default.
	Logger *zerolog.Logger

	// Transport is the base RoundTripper for all HTTP calls.
	// Default: http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIPrefix:        "/api/v1",
		RefreshThreshold: 5 * time.Minute,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		RefreshTimeout:   10 * time.Second,
		RequestTimeout:   30 * time.Second,
		LockTTL:          30 * time.Second,
		DatabasePath:     "bifrost.db",
	}
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.APIPrefix == "" {
		c.APIPrefix = defaults.APIPrefix
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = defaults.RefreshThreshold
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = defaults.RefreshTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
}
