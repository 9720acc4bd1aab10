package oidc

import "time"

// Reason describes why a session changed.
type Reason string

const (
	ReasonAppReady              Reason = "app_ready"
	ReasonLoginComplete         Reason = "login_complete"
	ReasonOAuthError            Reason = "oauth_error"
	ReasonNoLoginInProgress     Reason = "no_login_in_progress"
	ReasonStateMismatch         Reason = "state_mismatch"
	ReasonConfigMissing         Reason = "config_missing"
	ReasonRefreshOK             Reason = "refresh_ok"
	ReasonRefreshFailed         Reason = "refresh_failed"
	ReasonLogoutLocal           Reason = "logout_local"
	ReasonTokenValidationFailed Reason = "token_validation_failed"
	ReasonMissingAccessToken    Reason = "missing_access_token"
	ReasonLoopbackError         Reason = "loopback_error"
)

// TokenMeta is the non-secret metadata of a stored TokenSet. It never
// carries token string values.
type TokenMeta struct {
	ExpiresAt  time.Time `json:"expires_at"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// SessionEvent is published by a SessionManager on every session state
// transition so a UI layer can react without polling.
type SessionEvent struct {
	IsLoggedIn bool       `json:"is_logged_in"`
	Reason     Reason     `json:"reason"`
	TokenMeta  *TokenMeta `json:"token_meta,omitempty"`
	At         time.Time  `json:"at"`
}

// Session is the derived view of the current session state. It's
// computed from the stored TokenSet on demand and is never itself the
// source of truth.
type Session struct {
	IsLoggedIn bool
	TokenMeta  *TokenMeta
}
