package bifrost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/amnorman/bifrost/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bifrost is the session controller: it acquires, stores, proactively
// renews, and invalidates a bearer credential against an identity backend,
// and hands consumers a correctly-authorized HTTP client.
//
// Construct exactly one instance per process and share it; the in-process
// refresh de-duplication guarantee only holds within a single instance.
type Bifrost struct {
	mu     sync.Mutex // guards config policy fields, refreshing, scheduler channels
	config Config
	creds  store.Store
	bus    *eventBus
	log    zerolog.Logger
	id     string

	base   *http.Client // plain client for the auth endpoints
	authed *http.Client // bearer-attaching, retry-on-401 client

	// In-flight refresh handle. Non-nil while a renewal is outstanding;
	// concurrent callers attach to it instead of issuing their own call.
	refreshing *refreshCall

	schedStop chan struct{}
	schedKick chan struct{}
}

// New creates a new Bifrost instance with the given configuration.
// If Store is not provided, a SQLite store at DatabasePath is used.
// The background renewal scheduler starts immediately unless disabled.
func New(cfg Config) (*Bifrost, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("bifrost: BaseURL is required")
	}

	b := &Bifrost{
		config:    cfg,
		id:        uuid.NewString(),
		schedKick: make(chan struct{}, 1),
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	b.log = logger.With().Str("component", "bifrost").Str("instance", b.id).Logger()

	if cfg.Store != nil {
		b.creds = cfg.Store
	} else {
		sqliteStore, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("bifrost: failed to initialize SQLite store: %w", err)
		}
		b.creds = sqliteStore
	}

	b.bus = newEventBus(b.log)
	b.base = &http.Client{Timeout: cfg.RequestTimeout, Transport: cfg.Transport}
	b.authed = &http.Client{Timeout: cfg.RequestTimeout, Transport: &authTransport{controller: b, base: cfg.Transport}}

	if cfg.Notifier != nil {
		cfg.Notifier.OnExternalChange(b.handleExternalChange)
		cfg.Notifier.OnForeground(b.handleForeground)
	}

	if !cfg.DisableBackgroundRefresh {
		b.startScheduler()
	}

	return b, nil
}

// Close stops the scheduler and releases the notifier and store.
// Should be called when the application shuts down.
func (b *Bifrost) Close() error {
	b.stopScheduler()

	var errs []error

	if b.config.Notifier != nil {
		if err := b.config.Notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if b.creds != nil {
		if err := b.creds.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("bifrost: errors during close: %v", errs)
	}
	return nil
}

// AddListener registers a listener for token lifecycle events and returns
// a function that removes it. Delivery is synchronous.
func (b *Bifrost) AddListener(fn Listener) (remove func()) {
	return b.bus.add(fn)
}

// Client returns an HTTP client that attaches the current bearer token to
// every request and transparently refreshes it once on a 401 or 403.
func (b *Bifrost) Client() *http.Client {
	return b.authed
}

// Login exchanges an upstream identity-provider assertion for a session.
// Backend rejections surface the backend's message; transport failures
// surface a generic authentication error. Login itself never retries.
func (b *Bifrost) Login(ctx context.Context, assertion string) (*Session, error) {
	grant, err := b.exchangeAssertion(ctx, assertion)
	if err != nil {
		b.log.Warn().Err(err).Msg("assertion exchange failed")
		return nil, err
	}
	if grant.User == nil {
		return nil, fmt.Errorf("%w: grant carried no user", ErrAuthenticationFailed)
	}

	sess := b.storeGrant(grant, grant.User)
	b.log.Info().Str("user", grant.User.ID).Time("expires_at", sess.ExpiresAt).Msg("signed in")

	b.mu.Lock()
	disabled := b.config.DisableBackgroundRefresh
	b.mu.Unlock()
	if !disabled {
		b.startScheduler()
	}

	return sess, nil
}

// Logout stops the scheduler, clears stored credentials, and publishes a
// logout event. Idempotent.
func (b *Bifrost) Logout() {
	b.stopScheduler()
	if err := b.creds.Clear(); err != nil {
		b.log.Warn().Err(err).Msg("failed to clear credentials on logout")
	}
	b.bus.emit(EventLogout, nil)
}

// CurrentUser fetches the authenticated principal from the backend using
// the current token, persisting it on success. Failures are surfaced
// without touching stored state; unlike a failed refresh they do not end
// the session.
func (b *Bifrost) CurrentUser(ctx context.Context) (*Principal, error) {
	token := b.Token()
	if token == "" {
		return nil, ErrNoSession
	}

	principal, err := b.fetchCurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(principal); merr == nil {
		if err := b.creds.PutPrincipal(raw); err != nil {
			b.log.Warn().Err(err).Msg("failed to persist principal")
		}
	}
	return principal, nil
}

// Token returns the current bearer token, or "" when signed out. A stored
// token past its expiry is purged and a token_expired event is published;
// no network call is made. Storage failures degrade to signed out.
func (b *Bifrost) Token() string {
	creds := b.validCredentials()
	if creds == nil {
		return ""
	}
	return creds.Token
}

// Principal returns the stored principal, or nil when absent.
func (b *Bifrost) Principal() *Principal {
	raw, err := b.creds.Principal()
	if err != nil || len(raw) == 0 {
		return nil
	}
	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// Session returns the current session, or nil when signed out.
func (b *Bifrost) Session() *Session {
	creds := b.validCredentials()
	if creds == nil {
		return nil
	}

	sess := &Session{
		Token:        creds.Token,
		TokenType:    creds.TokenType,
		IssuedAt:     creds.IssuedAt,
		ExpiresAt:    creds.ExpiresAt,
		RefreshDueAt: creds.RefreshDueAt,
	}
	if len(creds.Principal) > 0 {
		var p Principal
		if err := json.Unmarshal(creds.Principal, &p); err == nil {
			sess.Principal = &p
		}
	}
	return sess
}

// IsAuthenticated reports whether a valid token and principal are stored.
func (b *Bifrost) IsAuthenticated() bool {
	return b.Token() != "" && b.Principal() != nil
}

// AuthState returns a snapshot of the authentication state.
func (b *Bifrost) AuthState() AuthState {
	token := b.Token()
	principal := b.Principal()
	return AuthState{
		Authenticated: token != "" && principal != nil,
		Principal:     principal,
		Token:         token,
	}
}

// Authorize reports whether a valid session exists and, when roles are
// given, whether the principal's role is among them.
func (b *Bifrost) Authorize(roles ...Role) bool {
	principal := b.Principal()
	if b.Token() == "" || principal == nil {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if principal.Role == r {
			return true
		}
	}
	return false
}

// ShouldRefreshToken reports whether the session is inside its renewal
// window: past the refresh-due instant but not yet expired.
func (b *Bifrost) ShouldRefreshToken() bool {
	creds, err := b.creds.Get()
	if err != nil || creds == nil {
		return false
	}
	now := time.Now()
	return !now.Before(creds.RefreshDueAt) && now.Before(creds.ExpiresAt)
}

// TimeUntilRefresh returns how long until proactive renewal is due, or 0
// when due now or signed out.
func (b *Bifrost) TimeUntilRefresh() time.Duration {
	creds, err := b.creds.Get()
	if err != nil || creds == nil {
		return 0
	}
	return positive(time.Until(creds.RefreshDueAt))
}

// TimeUntilExpiry returns how long until the token expires, or 0 when
// already expired or signed out.
func (b *Bifrost) TimeUntilExpiry() time.Duration {
	creds, err := b.creds.Get()
	if err != nil || creds == nil {
		return 0
	}
	return positive(time.Until(creds.ExpiresAt))
}

// Configure updates the refresh policy at runtime. Zero-valued policy
// fields keep their current values; DisableBackgroundRefresh is applied
// as given and the scheduler is started or stopped to match.
func (b *Bifrost) Configure(cfg Config) {
	b.mu.Lock()
	if cfg.RefreshThreshold > 0 {
		b.config.RefreshThreshold = cfg.RefreshThreshold
	}
	if cfg.MaxRetries > 0 {
		b.config.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		b.config.RetryDelay = cfg.RetryDelay
	}
	if cfg.RefreshTimeout > 0 {
		b.config.RefreshTimeout = cfg.RefreshTimeout
	}
	if cfg.LockTTL > 0 {
		b.config.LockTTL = cfg.LockTTL
	}
	b.config.DisableBackgroundRefresh = cfg.DisableBackgroundRefresh
	disabled := b.config.DisableBackgroundRefresh
	running := b.schedStop != nil
	b.mu.Unlock()

	if disabled && running {
		b.stopScheduler()
	} else if !disabled && !running {
		b.startScheduler()
	}
}

// validCredentials reads the store and enforces expiry: a past-expiry
// credential is purged and token_expired is published.
func (b *Bifrost) validCredentials() *store.Credentials {
	creds, err := b.creds.Get()
	if err != nil {
		b.log.Warn().Err(err).Msg("credential store unavailable")
		return nil
	}
	if creds == nil {
		return nil
	}
	if time.Now().After(creds.ExpiresAt) {
		if err := b.creds.Clear(); err != nil {
			b.log.Warn().Err(err).Msg("failed to purge expired credentials")
		}
		b.bus.emit(EventTokenExpired, nil)
		return nil
	}
	return creds
}

// storeGrant persists a token grant as the new session, wholesale.
func (b *Bifrost) storeGrant(grant *tokenGrant, principal *Principal) *Session {
	b.mu.Lock()
	threshold := b.config.RefreshThreshold
	b.mu.Unlock()

	now := time.Now()
	expiresAt := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	refreshDueAt := expiresAt.Add(-threshold)

	raw, err := json.Marshal(principal)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to encode principal")
	}

	if err := b.creds.Put(&store.Credentials{
		Token:        grant.AccessToken,
		TokenType:    grant.TokenType,
		Principal:    raw,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		RefreshDueAt: refreshDueAt,
	}); err != nil {
		b.log.Warn().Err(err).Msg("failed to persist credentials")
	}

	return &Session{
		Token:        grant.AccessToken,
		TokenType:    grant.TokenType,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		RefreshDueAt: refreshDueAt,
		Principal:    principal,
	}
}

// handleExternalChange reacts to another process writing the shared store:
// re-evaluate scheduling against whatever is stored now.
func (b *Bifrost) handleExternalChange() {
	b.log.Debug().Msg("credential store changed externally")
	b.kickScheduler()
}

// handleForeground reacts to the application regaining the foreground: if
// a renewal is already due, trigger it now instead of waiting for the
// timer.
func (b *Bifrost) handleForeground() {
	if b.IsAuthenticated() && b.ShouldRefreshToken() {
		go func() {
			if _, err := b.RefreshToken(context.Background()); err != nil {
				b.log.Debug().Err(err).Msg("foreground refresh did not produce a session")
			}
		}()
	}
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
