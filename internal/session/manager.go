// Package session owns the authenticated session: the bearer token, its
// decoded claims, and the expiry and inactivity timers that end it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/logging"
	"github.com/orion-deck/orion-deck/internal/metrics"
	"github.com/orion-deck/orion-deck/internal/state"
)

// InactivityTimeout is how long a session survives without a qualifying
// user interaction. Fixed; not configurable at runtime.
const InactivityTimeout = 15 * time.Minute

// Teardown reasons reported to the logout hook and metrics.
const (
	ReasonLogout       = "logout"
	ReasonExpired      = "expired"
	ReasonInactivity   = "inactivity"
	ReasonUnauthorized = "unauthorized"
)

// TokenStore persists the bearer token across process restarts.
type TokenStore interface {
	SaveToken(ctx context.Context, token string) error
	LoadToken(ctx context.Context) (string, error)
	DeleteToken(ctx context.Context) error
}

// Session is the single active authenticated session.
type Session struct {
	Token     string
	Username  string
	Role      string
	ExpiresAt time.Time
}

// Manager owns the session lifecycle. It is the only writer of session
// state; other components read through Token, Current, and IsAdmin.
type Manager struct {
	store  TokenStore
	caller gateway.Caller
	logger *slog.Logger

	inactivity time.Duration
	now        func() time.Time
	onLogout   func(reason string)
	notify     func(msg string)

	mu              sync.Mutex
	current         *Session
	inactivityTimer *time.Timer
	expiryTimer     *time.Timer
}

// Option configures the manager
type Option func(*Manager)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(m *Manager) {
		m.now = fn
	}
}

// WithInactivityTimeout overrides the inactivity timeout (for testing)
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.inactivity = d
	}
}

// WithLogoutHandler sets the hook invoked after every session teardown
func WithLogoutHandler(fn func(reason string)) Option {
	return func(m *Manager) {
		m.onLogout = fn
	}
}

// WithNotifier sets the hook for user-facing session notices
func WithNotifier(fn func(msg string)) Option {
	return func(m *Manager) {
		m.notify = fn
	}
}

// NewManager creates a session manager backed by the given token store.
func NewManager(store TokenStore, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		logger:     slog.Default(),
		inactivity: InactivityTimeout,
		now:        time.Now,
		onLogout:   func(string) {},
		notify:     func(string) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// BindCaller wires the gateway used for the authenticate and register
// endpoints. Set after gateway construction because the gateway in turn
// reads tokens from this manager.
func (m *Manager) BindCaller(c gateway.Caller) {
	m.caller = c
}

// SetNotifier wires the session notice sink after construction. Like
// BindCaller, this exists for callers that build the UI last.
func (m *Manager) SetNotifier(fn func(msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

// SetLogoutHandler wires the teardown hook after construction.
func (m *Manager) SetLogoutHandler(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// Login authenticates against the control plane and starts a session.
// On failure the server-provided message is surfaced via the returned error.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := gateway.CallJSON(ctx, m.caller, http.MethodPost, "/api/login", body, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return errors.New("login failed")
	}

	claims, err := DecodeClaims(resp.Token)
	if err != nil {
		logging.Debug(ctx, "server issued undecodable token", slog.String("error", err.Error()))
		return errors.New("login failed: unusable token")
	}
	if claims.Expired(m.now()) {
		return errors.New("login failed: token already expired")
	}

	if err := m.store.SaveToken(ctx, resp.Token); err != nil {
		return err
	}

	m.begin(resp.Token, claims)
	metrics.RecordSessionStarted("login")
	logging.Info(ctx, "session started",
		slog.String("username", claims.Username),
		slog.Time("expires_at", claims.ExpiresAt()))
	return nil
}

// Signup registers a new account. It does not start a session.
func (m *Manager) Signup(ctx context.Context, username, password string) error {
	var resp struct {
		Error string `json:"error"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := gateway.CallJSON(ctx, m.caller, http.MethodPost, "/api/signup", body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// Restore resumes a session from a persisted token. A missing, malformed,
// or expired token is discarded silently and reported as no session.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	token, err := m.store.LoadToken(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		logging.Debug(ctx, "discarding malformed persisted token", slog.String("error", err.Error()))
		if err := m.store.DeleteToken(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	if claims.Expired(m.now()) {
		logging.Debug(ctx, "discarding expired persisted token",
			slog.Time("expired_at", claims.ExpiresAt()))
		if err := m.store.DeleteToken(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	m.begin(token, claims)
	metrics.RecordSessionStarted("restore")
	logging.Info(ctx, "session restored",
		slog.String("username", claims.Username),
		slog.Time("expires_at", claims.ExpiresAt()))
	return true, nil
}

// begin installs the session and arms its timers.
func (m *Manager) begin(token string, claims Claims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimersLocked()
	m.current = &Session{
		Token:     token,
		Username:  claims.Username,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt(),
	}

	m.expiryTimer = time.AfterFunc(m.current.ExpiresAt.Sub(m.now()), func() {
		m.sendNotice("Session expired, please log in again.")
		m.Logout(context.Background(), ReasonExpired)
	})
	m.inactivityTimer = time.AfterFunc(m.inactivity, func() {
		m.sendNotice("Logged out after inactivity.")
		m.Logout(context.Background(), ReasonInactivity)
	})
}

// sendNotice reads the notifier under the lock so a timer firing during
// late hook wiring sees a consistent value.
func (m *Manager) sendNotice(msg string) {
	m.mu.Lock()
	fn := m.notify
	m.mu.Unlock()
	fn(msg)
}

// Logout tears the session down: timers stopped, persisted token removed,
// dependent state reset through the logout hook. Idempotent; safe to call
// when no session exists.
func (m *Manager) Logout(ctx context.Context, reason string) {
	m.mu.Lock()
	had := m.current != nil
	onLogout := m.onLogout
	m.stopTimersLocked()
	m.current = nil
	m.mu.Unlock()

	if err := m.store.DeleteToken(ctx); err != nil {
		m.logger.Warn("failed to remove persisted token", slog.String("error", err.Error()))
	}

	if !had {
		return
	}

	metrics.RecordSessionEnded(reason)
	logging.Info(ctx, "session ended", slog.String("reason", reason))
	onLogout(reason)
}

// HandleAuthExpired is the gateway's 401 hook.
func (m *Manager) HandleAuthExpired(ctx context.Context) {
	m.Logout(ctx, ReasonUnauthorized)
}

// Touch registers a qualifying user interaction, resetting the inactivity
// timer. A no-op without a session.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.inactivityTimer == nil {
		return
	}
	m.inactivityTimer.Stop()
	m.inactivityTimer.Reset(m.inactivity)
}

// Token implements gateway.TokenSource.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.Token, true
}

// Current returns a copy of the active session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Active reports whether a session exists.
func (m *Manager) Active() bool {
	_, ok := m.Current()
	return ok
}

// IsAdmin reports whether the session's role claim grants admin capability.
// False, not an error, when no session exists. This is a rendering hint
// only; the control plane re-checks authorization on every call.
func (m *Manager) IsAdmin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Role == RoleAdmin
}

func (m *Manager) stopTimersLocked() {
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	if m.inactivityTimer != nil {
		m.inactivityTimer.Stop()
		m.inactivityTimer = nil
	}
}
