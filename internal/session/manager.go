// Package session composes the providers, the session store and the
// background checks into the session manager used by the application.
//
// A Manager plays the role of one browser tab: several managers sharing
// observable storage follow each other's logins and logouts.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/csrf"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

const (
	// DefaultRefreshInterval is how often the expiry of the token is checked.
	DefaultRefreshInterval = time.Minute
	// DefaultHeartbeatInterval is how often the backend is asked whether the
	// session is still valid.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultSessionTTL is assumed when a backend reports no expiry.
	DefaultSessionTTL = 8 * time.Hour
)

// Options configures a Manager. Registry and Storage are required.
type Options struct {
	Registry  *auth.Registry
	Storage   storage.Observable
	Keys      storage.Keys
	Evaluator *auth.Evaluator
	// CSRF defaults to a cache on Storage without meta fallback.
	CSRF *csrf.Cache

	RefreshThreshold  time.Duration
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	SessionTTL        time.Duration

	// LoginURL is the redirect target after a forced logout.
	LoginURL string
	// Location returns the destination to restore after a forced re-login.
	Location func() string
	Now      func() time.Time
}

func (o *Options) withDefaults() {
	if o.Evaluator == nil {
		o.Evaluator = auth.NewEvaluator(nil)
	}

	if o.CSRF == nil {
		o.CSRF = csrf.New(o.Storage, o.Keys, nil)
	}

	if o.RefreshThreshold <= 0 {
		o.RefreshThreshold = token.DefaultThreshold
	}

	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}

	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}

	if o.Location == nil {
		o.Location = func() string { return "" }
	}

	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager is the session façade. It is safe for concurrent use.
type Manager struct {
	opts  Options
	reg   *auth.Registry
	store *Store
	eval  *auth.Evaluator
	csrf  *csrf.Cache

	events  emitter
	refresh singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	refreshLoop *loop
	beatLoop    *loop
	unsubscribe func()
	closed      bool
}

// New creates a manager. Nothing is read or started before Initialize.
func New(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}

	if opts.Storage == nil {
		return nil, ErrNoStorage
	}

	opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		opts:   opts,
		reg:    opts.Registry,
		store:  NewStore(opts.Storage, opts.Keys),
		eval:   opts.Evaluator,
		csrf:   opts.CSRF,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Initialize starts cross-tab sync, restores a persisted session and lets
// the active provider detect an existing backend session. A misconfigured
// active provider is reported as an error.
func (m *Manager) Initialize(ctx context.Context) (AuthState, error) {
	if err := m.listen(); err != nil {
		return m.AuthState(), err
	}

	restored, err := m.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to restore persisted session")
	}

	if restored {
		_, sess, _ := m.store.Snapshot()
		if sess != nil && !m.reg.SetCurrentProvider(sess.Provider) {
			log.Info().Str("provider", sess.Provider.String()).Msg("persisted session provider is no longer enabled")
		}
	}

	p, err := m.reg.Active()
	if err != nil {
		m.settle()
		return m.AuthState(), err
	}

	m.setState(Authenticating)

	res := verified(p.Initialize(ctx))
	if res.Success {
		m.establish(ctx, p.Type(), res, false)
		return m.AuthState(), nil
	}

	if m.store.Authenticated() {
		log.Info().Str("provider", p.Type().String()).Str("reason", res.Message).Msg("persisted session not confirmed by backend")
		m.endSession(ctx, p, nil, 0, false, false)
	}

	m.settle()

	if auth.Kind(res.Err) == auth.KindMisconfigured {
		return m.AuthState(), res.Err
	}

	return m.AuthState(), nil
}

// Login authenticates with the active provider. A pending result carries
// the identity provider URL the user has to visit.
func (m *Manager) Login(ctx context.Context, creds auth.Credentials) auth.Result {
	if m.isClosed() {
		return auth.Failure(ErrClosed, "")
	}

	p, err := m.reg.Active()
	if err != nil {
		return auth.Failure(err, "")
	}

	m.setState(Authenticating)

	res := verified(p.Login(ctx, creds))

	switch {
	case res.Pending():
		m.settle()
	case res.Success:
		m.establish(ctx, p.Type(), res, false)
	default:
		log.Info().Str("provider", p.Type().String()).Err(res.Err).Msg("login failed")
		m.settle()
	}

	return res
}

// verified rejects a successful result that cannot back a session.
func verified(res auth.Result) auth.Result {
	switch {
	case !res.Success || res.Pending():
		return res
	case res.User == nil:
		return auth.Failure(auth.ErrMalformedResponse, "login succeeded without a user")
	case res.Token == "":
		return auth.Failure(auth.ErrMalformedResponse, "login succeeded without a token")
	}

	return res
}

func (m *Manager) establish(ctx context.Context, t auth.ProviderType, res auth.Result, remote bool) {
	sess := auth.Session{
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    m.expiry(res),
		Provider:     t,
		CSRFToken:    res.CSRFToken,
		SessionID:    res.SessionID,
	}

	if err := m.store.Set(ctx, res.User, sess); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}

	if res.CSRFToken != "" {
		if err := m.csrf.Set(ctx, res.CSRFToken, sess.ExpiresAt.Sub(m.opts.Now())); err != nil {
			log.Warn().Err(err).Msg("failed to cache csrf token")
		}
	}

	m.setState(Authenticated)
	m.startTimers()

	user, snap, _ := m.store.Snapshot()

	log.Info().Str("provider", t.String()).Str("user", user.Username).Msg("session established")
	m.events.emit(Event{Type: EventLogin, User: user, Session: snap, Remote: remote})
}

func (m *Manager) expiry(res auth.Result) time.Time {
	now := m.opts.Now()

	if res.ExpiresIn > 0 {
		return now.Add(res.ExpiresIn)
	}

	if exp, err := token.ExpiresAt(res.Token); err == nil && !exp.IsZero() {
		return exp
	}

	return now.Add(m.opts.SessionTTL)
}

// Logout ends the session. Local state is always cleared, whatever the
// backend answers, and exactly one logout event is emitted.
func (m *Manager) Logout(ctx context.Context) auth.Result {
	p := m.sessionProvider()

	res := m.endSession(ctx, p, nil, 0, false, true)
	logoutCounter.WithLabelValues("logout").Inc()

	return res
}

// endSession notifies the backend, clears the session and emits a logout
// event when emit is set. A non-nil cause marks a forced logout: the
// current destination is remembered and the event carries the login
// redirect. With match set only session generation gen is ended.
func (m *Manager) endSession(ctx context.Context, p auth.Provider, cause error, gen uint64, match, emit bool) auth.Result {
	ctx = context.WithoutCancel(ctx)

	if match && m.store.Generation() != gen {
		return auth.Failure(auth.ErrSessionExpired, "session already ended")
	}

	m.stopTimers()

	res := auth.Result{Success: true, Message: "logged out"}

	if p != nil && m.store.Authenticated() {
		if out := p.Logout(ctx); !out.Success {
			log.Warn().Err(out.Err).Str("provider", p.Type().String()).Str("reason", out.Message).
				Msg("backend logout failed, clearing session locally")
		}
	}

	ok, err := m.store.ClearIf(ctx, gen, match)
	if err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted session")
	}

	if !ok {
		if m.store.Authenticated() {
			m.startTimers()
		}

		return auth.Failure(auth.ErrSessionExpired, "session already ended")
	}

	m.setState(Unauthenticated)

	if !emit {
		return res
	}

	evt := Event{Type: EventLogout}

	if cause != nil {
		evt.Err = cause
		evt.RedirectURL = m.loginRedirect(cause)
		res.RedirectURL = evt.RedirectURL
		res.Err = cause
		m.rememberDestination(ctx)
	}

	m.events.emit(evt)

	return res
}

// forceLogout ends session gen because trust in it was lost.
func (m *Manager) forceLogout(ctx context.Context, p auth.Provider, gen uint64, cause error, reason string) {
	if !errors.Is(cause, auth.ErrSessionExpired) {
		cause = fmt.Errorf("%w: %w", auth.ErrSessionExpired, cause)
	}

	log.Warn().Err(cause).Str("reason", reason).Msg("forcing logout")

	res := m.endSession(ctx, p, cause, gen, true, true)
	if res.Success {
		logoutCounter.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) loginRedirect(cause error) string {
	if m.opts.LoginURL == "" {
		return ""
	}

	u, err := url.Parse(m.opts.LoginURL)
	if err != nil {
		log.Warn().Err(err).Str("url", m.opts.LoginURL).Msg("invalid login url")
		return m.opts.LoginURL
	}

	q := u.Query()
	q.Set("reason", auth.Kind(cause).String())
	u.RawQuery = q.Encode()

	return u.String()
}

func (m *Manager) rememberDestination(ctx context.Context) {
	dest := m.opts.Location()
	if dest == "" {
		return
	}

	if err := m.opts.Storage.Set(ctx, m.opts.Keys.ReturnTo(), []byte(dest)); err != nil {
		log.Warn().Err(err).Msg("failed to remember destination")
	}
}

// ConsumeReturnTo returns and forgets the destination remembered by the
// last forced logout.
func (m *Manager) ConsumeReturnTo(ctx context.Context) string {
	key := m.opts.Keys.ReturnTo()

	v, err := m.opts.Storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read destination")
		}

		return ""
	}

	if err = m.opts.Storage.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Msg("failed to forget destination")
	}

	return string(v)
}

// CurrentUser returns a copy of the logged in user or nil.
func (m *Manager) CurrentUser() *auth.User {
	user, _, _ := m.store.Snapshot()
	return user
}

// State returns the life cycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// AuthState returns a consistent snapshot of the session.
func (m *Manager) AuthState() AuthState {
	user, sess, _ := m.store.Snapshot()

	st := AuthState{State: m.State(), User: user, Session: sess}
	if sess != nil {
		st.Provider = sess.Provider
	} else {
		st.Provider = m.reg.Current()
	}

	return st
}

// HasPermission reports whether the current user holds permission.
func (m *Manager) HasPermission(permission string) bool {
	return m.eval.HasPermission(m.CurrentUser(), permission)
}

// HasAnyPermission reports whether the current user holds one of permissions.
func (m *Manager) HasAnyPermission(permissions ...string) bool {
	return m.eval.HasAnyPermission(m.CurrentUser(), permissions...)
}

// HasAllPermissions reports whether the current user holds every permission.
func (m *Manager) HasAllPermissions(permissions ...string) bool {
	return m.eval.HasAllPermissions(m.CurrentUser(), permissions...)
}

// CanAccess reports whether the current user may perform action on resource.
func (m *Manager) CanAccess(resource, action string) bool {
	return m.eval.CanAccess(m.CurrentUser(), resource, action)
}

// SessionTimeRemaining returns the time until the session expires; zero
// without a session.
func (m *Manager) SessionTimeRemaining() time.Duration {
	_, sess, _ := m.store.Snapshot()
	if sess == nil {
		return 0
	}

	exp := sess.ExpiresAt
	if t, err := token.ExpiresAt(sess.Token); err == nil && !t.IsZero() {
		exp = t
	}

	if left := exp.Sub(m.opts.Now()); left > 0 {
		return left
	}

	return 0
}

// IsSessionExpiring reports whether the session expires within the refresh
// threshold. JWT sessions use the exp claim; an undecodable JWT counts as
// expiring.
func (m *Manager) IsSessionExpiring() bool {
	_, sess, _ := m.store.Snapshot()
	if sess == nil {
		return false
	}

	now := m.opts.Now()

	if token.Shaped(sess.Token) {
		return token.IsSessionExpiring(sess.Token, now, m.opts.RefreshThreshold)
	}

	return token.Expiring(sess.ExpiresAt, now, m.opts.RefreshThreshold)
}

// AuthHeaders returns the headers to add to application requests.
func (m *Manager) AuthHeaders(ctx context.Context) map[string]string {
	_, sess, _ := m.store.Snapshot()

	var sid string
	if sess != nil {
		sid = sess.SessionID
	}

	h := m.csrf.Headers(ctx, sid)

	if sess != nil && sess.Token != "" && bearer(sess.Provider) {
		h["Authorization"] = "Bearer " + sess.Token
	}

	return h
}

func bearer(t auth.ProviderType) bool {
	return t == auth.ProviderJWT || t == auth.ProviderOAuth2
}

// OnAuthChange registers fn for login, logout and refresh events. fn runs
// synchronously and must not block.
func (m *Manager) OnAuthChange(fn func(Event)) (unsubscribe func()) {
	return m.events.subscribe(fn)
}

// SetProvider switches the active provider. It fails for a provider that
// is not enabled.
func (m *Manager) SetProvider(t auth.ProviderType) bool {
	return m.reg.SetCurrentProvider(t)
}

// AvailableProviders returns the enabled providers.
func (m *Manager) AvailableProviders() []auth.ProviderConfig {
	return m.reg.AvailableProviders()
}

// Close stops every background activity and waits for it. The session
// itself is kept.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	m.stopTimers()
	m.cancel()
	m.wg.Wait()

	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// sessionProvider returns the provider owning the current session, falling
// back to the active one.
func (m *Manager) sessionProvider() auth.Provider {
	if _, sess, _ := m.store.Snapshot(); sess != nil {
		if p, err := m.reg.Provider(sess.Provider); err == nil && p != nil {
			return p
		}
	}

	p, err := m.reg.Active()
	if err != nil {
		return nil
	}

	return p
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// settle derives the state from the store after a provider call.
func (m *Manager) settle() {
	if m.store.Authenticated() {
		m.setState(Authenticated)
		return
	}

	m.setState(Unauthenticated)
}

func (m *Manager) startTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if m.refreshLoop == nil {
		m.refreshLoop = startLoop(m.ctx, &m.wg, m.opts.RefreshInterval, m.checkExpiry)
	}

	if m.beatLoop == nil {
		m.beatLoop = startLoop(m.ctx, &m.wg, m.opts.HeartbeatInterval, m.heartbeat)
	}
}

func (m *Manager) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLoop.stop()
	m.beatLoop.stop()
	m.refreshLoop = nil
	m.beatLoop = nil
}

func (m *Manager) timersRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshLoop != nil || m.beatLoop != nil
}
