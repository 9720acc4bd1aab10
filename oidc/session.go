package oidc

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultPendingExpiry bounds how long an in-flight login waits for
	// its callback. A pending login older than this is treated as absent,
	// which bounds memory and the replay surface when a user abandons the
	// browser tab.
	DefaultPendingExpiry = 10 * time.Minute

	// DefaultRefreshWithin is the remaining-validity threshold below
	// which Refresh will actually call the provider.
	DefaultRefreshWithin = 60 * time.Second
)

// pendingLogin binds one authorize request across the login round-trip:
// the CSRF state echoed by the provider and the PKCE verifier whose
// challenge was sent with the request. A SessionManager holds at most
// one (single slot, last writer wins) and consumes it exactly once.
type pendingLogin struct {
	state     string
	verifier  CodeVerifier
	createdAt time.Time
}

// Callback carries the parameters the provider sent to the redirect
// callback: either a code + state pair or an error response.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// SessionManager owns the login/refresh/logout lifecycle of a single
// session: it generates PKCE material, validates callbacks, exchanges
// and refreshes tokens, persists them through a Store and publishes a
// SessionEvent on every state transition.
//
// All operations serialize on an internal mutex, so a callback runs to
// completion before a concurrent Refresh or Logout is accepted. A
// SessionManager caches no tokens itself: the Store is the single source
// of truth and every operation loads, mutates and stores explicitly.
type SessionManager struct {
	config   *Config
	store    Store
	exchange *ExchangeClient
	verifier TokenVerifier
	logger   hclog.Logger

	pendingTTL    time.Duration
	refreshWithin time.Duration
	now           func() time.Time

	// mu serializes the pending-login slot and all store access.
	mu      sync.Mutex
	pending *pendingLogin

	subsMu sync.Mutex
	subs   map[chan<- SessionEvent]struct{}
}

// NewSessionManager creates a SessionManager for the given client config
// and credential store. By default access tokens are verified against
// the provider's JWKS on the trusting read path (see Tokens).
//
// Supported options: WithLogger, WithPendingExpiry, WithRefreshWithin,
// WithTokenVerifier, WithNow
func NewSessionManager(c *Config, s Store, opt ...Option) (*SessionManager, error) {
	const op = "oidc.NewSessionManager"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getSessionManagerOpts(opt...)

	exchange, err := NewExchangeClient(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier := opts.withVerifier
	if verifier == nil {
		if verifier, err = NewRemoteVerifier(c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &SessionManager{
		config:        c,
		store:         s,
		exchange:      exchange,
		verifier:      verifier,
		logger:        opts.withLogger,
		pendingTTL:    opts.withPendingExpiry,
		refreshWithin: opts.withRefreshWithin,
		now:           opts.withNow,
		subs:          map[chan<- SessionEvent]struct{}{},
	}, nil
}

// StartLogin begins a login: it generates a fresh PKCE verifier and CSRF
// state, occupies the pending-login slot (overwriting any stale pending
// login) and returns the authorize URL to dispatch to the user's
// browser. It fails with ErrConfigMissing when the issuer or client id
// are unset.
func (sm *SessionManager) StartLogin(ctx context.Context) (string, error) {
	const op = "SessionManager.StartLogin"
	if sm.config.ClientID == "" || sm.config.Issuer == "" {
		sm.emit(SessionEvent{Reason: ReasonConfigMissing, At: sm.now()})
		return "", fmt.Errorf("%s: issuer or client id unset: %w", op, ErrConfigMissing)
	}
	v, err := NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}

	sm.mu.Lock()
	sm.pending = &pendingLogin{
		state:     state,
		verifier:  v,
		createdAt: sm.now(),
	}
	sm.mu.Unlock()

	sm.logger.Debug("login started", "state", state)
	return sm.exchange.AuthCodeURL(state, v), nil
}

// HandleCallback consumes the provider's redirect callback and completes
// the login. Validation runs in strict order:
//
//  1. a provider error parameter fails with *AuthErrorResponse
//  2. no (or an expired) pending login fails with ErrNoLoginInProgress
//  3. a missing code or a state not equal to the pending login's state
//     fails with ErrStateMismatch; the comparison is constant-effort
//  4. the code is exchanged using the pending verifier
//
// The pending slot is consumed on provider errors and before the
// exchange, so a consumed authorization code can never be replayed. No
// failure in steps 1-4 touches the Store.
func (sm *SessionManager) HandleCallback(ctx context.Context, cb Callback) error {
	const op = "SessionManager.HandleCallback"
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if cb.Error != "" {
		// the callback is consumed even though it failed
		sm.pending = nil
		sm.logger.Warn("provider returned an authentication error", "error", cb.Error)
		sm.emit(SessionEvent{Reason: ReasonOAuthError, At: sm.now()})
		return fmt.Errorf("%s: %w", op, &AuthErrorResponse{
			Code:        cb.Error,
			Description: cb.ErrorDescription,
			URI:         cb.ErrorURI,
		})
	}

	pending := sm.pending
	if pending != nil && sm.now().Sub(pending.createdAt) > sm.pendingTTL {
		sm.pending = nil
		pending = nil
	}
	if pending == nil {
		sm.logger.Warn("callback received with no login in progress")
		sm.emit(SessionEvent{Reason: ReasonNoLoginInProgress, At: sm.now()})
		return fmt.Errorf("%s: %w", op, ErrNoLoginInProgress)
	}

	if cb.Code == "" || !stateEqual(cb.State, pending.state) {
		// a forged callback must not consume the genuine pending login,
		// so the slot is kept
		sm.logger.Warn("callback state mismatch or missing code")
		sm.emit(SessionEvent{Reason: ReasonStateMismatch, At: sm.now()})
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}

	// consume the slot before the exchange so a failure can't be replayed
	sm.pending = nil

	resp, err := sm.exchange.ExchangeCode(ctx, cb.Code, pending.verifier)
	if err != nil {
		sm.emit(SessionEvent{Reason: ReasonLoopbackError, At: sm.now()})
		return fmt.Errorf("%s: %w", op, err)
	}
	ts, err := NewTokenSet(resp, WithNow(sm.now))
	if err != nil {
		sm.emit(SessionEvent{Reason: ReasonLoopbackError, At: sm.now()})
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := sm.store.Save(ctx, ts); err != nil {
		return fmt.Errorf("%s: unable to persist token set: %w", op, err)
	}

	sm.logger.Info("login complete", "expires_at", ts.ExpiresAt())
	sm.emit(SessionEvent{
		IsLoggedIn: true,
		Reason:     ReasonLoginComplete,
		TokenMeta:  ts.Meta(),
		At:         sm.now(),
	})
	return nil
}

// Session returns the derived session view: logged in when a stored set
// with an access token exists. It's a cheap presence check which makes
// no network calls and is idempotent between mutations; see Tokens for
// the verifying read path. A stored set without an access token is an
// invalid shape: the store is cleared and the session reports logged
// out.
func (sm *SessionManager) Session(ctx context.Context) (Session, error) {
	const op = "SessionManager.Session"
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ts, err := sm.store.Load(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if ts == nil {
		return Session{}, nil
	}
	if ts.AccessToken() == "" {
		if err := sm.store.Clear(ctx); err != nil {
			return Session{}, fmt.Errorf("%s: unable to clear store: %w", op, err)
		}
		sm.emit(SessionEvent{Reason: ReasonMissingAccessToken, At: sm.now()})
		return Session{}, nil
	}
	return Session{IsLoggedIn: true, TokenMeta: ts.Meta()}, nil
}

// Tokens is the trusting read path: it loads the stored set and verifies
// the access token's signature and claims before handing it to the
// caller. Any verification failure clears the store (the session is
// treated as tampered or revoked) and reports logged out immediately.
func (sm *SessionManager) Tokens(ctx context.Context) (*TokenSet, error) {
	const op = "SessionManager.Tokens"
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ts, err := sm.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ts == nil {
		return nil, fmt.Errorf("%s: no stored token set: %w", op, ErrNotFound)
	}
	if ts.AccessToken() == "" {
		if err := sm.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("%s: unable to clear store: %w", op, err)
		}
		sm.emit(SessionEvent{Reason: ReasonMissingAccessToken, At: sm.now()})
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	if sm.verifier != nil {
		if _, err := sm.verifier.Verify(ctx, string(ts.AccessToken())); err != nil {
			if clearErr := sm.store.Clear(ctx); clearErr != nil {
				err = multierror.Append(err, clearErr)
			}
			sm.logger.Warn("stored access token failed verification")
			sm.emit(SessionEvent{Reason: ReasonTokenValidationFailed, At: sm.now()})
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return ts, nil
}

// Refresh obtains a fresh token set using the stored refresh token. The
// policy is lazy: unless WithForce is given, the provider is only called
// when the remaining validity is below the refresh threshold (see
// DefaultRefreshWithin and WithRefreshWithin); otherwise the current set
// is returned untouched.
//
// A stored set without a refresh token fails with ErrNoRefreshToken and
// leaves the store untouched: the session can't self-heal and the user
// must re-authenticate. A failed provider call clears the store (no
// retry loop) and the caller must re-authenticate.
func (sm *SessionManager) Refresh(ctx context.Context, opt ...Option) (*TokenSet, error) {
	const op = "SessionManager.Refresh"
	opts := getRefreshOpts(sm.refreshWithin, opt...)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ts, err := sm.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ts == nil {
		return nil, fmt.Errorf("%s: no stored token set: %w", op, ErrNotFound)
	}
	if !opts.withForce && ts.ExpiresAt().Sub(sm.now()) > opts.withRefreshWithin {
		return ts, nil
	}
	if ts.RefreshToken() == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}

	resp, err := sm.exchange.RefreshGrant(ctx, ts.RefreshToken())
	if err != nil {
		if clearErr := sm.store.Clear(ctx); clearErr != nil {
			err = multierror.Append(err, clearErr)
		}
		sm.logger.Warn("refresh failed, session cleared")
		sm.emit(SessionEvent{Reason: ReasonRefreshFailed, At: sm.now()})
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	merged, err := ts.mergeRefresh(resp, WithNow(sm.now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := sm.store.Save(ctx, merged); err != nil {
		return nil, fmt.Errorf("%s: unable to persist token set: %w", op, err)
	}

	sm.logger.Info("refresh complete", "expires_at", merged.ExpiresAt())
	sm.emit(SessionEvent{
		IsLoggedIn: true,
		Reason:     ReasonRefreshOK,
		TokenMeta:  merged.Meta(),
		At:         sm.now(),
	})
	return merged, nil
}

// Logout clears the Store first, so the local session reads logged out
// even if anything after fails, then returns the provider's end-session
// URL when an id_token was stored (dispatch it to also end the
// provider-side session and any SSO cookie). An empty URL means local
// clearing was the complete logout.
func (sm *SessionManager) Logout(ctx context.Context) (string, error) {
	const op = "SessionManager.Logout"
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var result *multierror.Error
	ts, err := sm.store.Load(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := sm.store.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	sm.emit(SessionEvent{Reason: ReasonLogoutLocal, At: sm.now()})
	sm.logger.Info("local session cleared")

	if ts == nil || ts.IdToken() == "" {
		if result.ErrorOrNil() != nil {
			return "", fmt.Errorf("%s: %w", op, result)
		}
		return "", nil
	}

	q := url.Values{}
	q.Set("id_token_hint", string(ts.IdToken()))
	if sm.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", sm.config.PostLogoutRedirectURL)
	}
	endSession := sm.config.EndSessionEndpoint() + "?" + q.Encode()
	if result.ErrorOrNil() != nil {
		return endSession, fmt.Errorf("%s: %w", op, result)
	}
	return endSession, nil
}

// Announce emits the current session state with the app_ready reason.
// Call it on process start or resume so subscribers learn the restored
// state without polling.
func (sm *SessionManager) Announce(ctx context.Context) error {
	const op = "SessionManager.Announce"
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ts, err := sm.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sm.emit(SessionEvent{
		IsLoggedIn: ts != nil && ts.AccessToken() != "",
		Reason:     ReasonAppReady,
		TokenMeta:  ts.Meta(),
		At:         sm.now(),
	})
	return nil
}

// Subscribe registers a channel to receive SessionEvents. Sends are
// non-blocking: a subscriber that can't keep up misses events rather
// than stalling the session.
func (sm *SessionManager) Subscribe(ch chan<- SessionEvent) {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	sm.subs[ch] = struct{}{}
}

// Unsubscribe removes a channel registered with Subscribe.
func (sm *SessionManager) Unsubscribe(ch chan<- SessionEvent) {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	delete(sm.subs, ch)
}

func (sm *SessionManager) emit(e SessionEvent) {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	for ch := range sm.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// stateEqual compares two state values without short-circuiting: both
// sides are hashed so comparison effort doesn't depend on either input's
// length or common prefix.
func stateEqual(got, want string) bool {
	gotSum := sha256.Sum256([]byte(got))
	wantSum := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(gotSum[:], wantSum[:]) == 1
}

// sessionManagerOptions is the set of available options for
// NewSessionManager
type sessionManagerOptions struct {
	withLogger        hclog.Logger
	withPendingExpiry time.Duration
	withRefreshWithin time.Duration
	withVerifier      TokenVerifier
	withNow           func() time.Time
}

// sessionManagerDefaults is a handy way to get the defaults at runtime
// and during unit tests.
func sessionManagerDefaults() sessionManagerOptions {
	return sessionManagerOptions{
		withLogger:        hclog.NewNullLogger(),
		withPendingExpiry: DefaultPendingExpiry,
		withRefreshWithin: DefaultRefreshWithin,
		withNow:           time.Now,
	}
}

func getSessionManagerOpts(opt ...Option) sessionManagerOptions {
	opts := sessionManagerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional hclog.Logger for the session manager.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionManagerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithPendingExpiry provides an optional TTL for the pending-login slot.
func WithPendingExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionManagerOptions); ok {
			o.withPendingExpiry = d
		}
	}
}

// WithTokenVerifier provides an optional TokenVerifier override for the
// session manager (the default verifies against the provider's JWKS).
func WithTokenVerifier(v TokenVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionManagerOptions); ok {
			o.withVerifier = v
		}
	}
}

// refreshOptions is the set of available options for Refresh
type refreshOptions struct {
	withForce         bool
	withRefreshWithin time.Duration
}

func getRefreshOpts(within time.Duration, opt ...Option) refreshOptions {
	opts := refreshOptions{
		withRefreshWithin: within,
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithForce makes Refresh call the provider regardless of the remaining
// validity of the stored access token.
func WithForce() Option {
	return func(o interface{}) {
		if o, ok := o.(*refreshOptions); ok {
			o.withForce = true
		}
	}
}

// WithRefreshWithin provides an optional remaining-validity threshold:
// Refresh calls the provider when the stored access token expires within
// the given duration. It applies to NewSessionManager (the manager's
// default) and to an individual Refresh call.
func WithRefreshWithin(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionManagerOptions:
			v.withRefreshWithin = d
		case *refreshOptions:
			v.withRefreshWithin = d
		}
	}
}
