package oidc

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccessToken is an oauth access_token.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// DefaultExpirySkew defines a default skew when checking a TokenSet's
// expiration.
const DefaultExpirySkew = 10 * time.Second

// TokenSet is the bundle of tokens obtained from a successful code
// exchange or refresh. It is the single persisted entity of a session.
//
// Its expiry is always derived locally (never trusted verbatim from the
// provider) and its display claims are always re-derived from the access
// token, so a TokenSet can't carry stale claims for a replaced token.
type TokenSet struct {
	accessToken  AccessToken
	refreshToken RefreshToken
	idToken      IdToken

	// expiresAt is when the access token expires: obtainedAt plus the
	// provider's relative expires_in when one was sent, otherwise the
	// unverified exp claim of the access token, otherwise obtainedAt
	// itself so an undeterminable lifetime reads as already expired.
	expiresAt time.Time

	// obtainedAt is when this set was created. Informational.
	obtainedAt time.Time

	// accessClaims is the unverified payload of accessToken, cached for
	// display.
	accessClaims map[string]interface{}
}

// NewTokenSet creates a TokenSet from a token endpoint response.
//
// Supported options: WithNow
func NewTokenSet(r *TokenResponse, opt ...Option) (*TokenSet, error) {
	const op = "oidc.NewTokenSet"
	if r == nil {
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	if r.AccessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getTokenOpts(opt...)
	now := opts.withNow()

	ts := &TokenSet{
		accessToken:  AccessToken(r.AccessToken),
		refreshToken: RefreshToken(r.RefreshToken),
		idToken:      IdToken(r.IDToken),
		obtainedAt:   now,
		accessClaims: DecodePayload(r.AccessToken),
	}
	switch {
	case r.ExpiresIn > 0:
		ts.expiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		if exp, ok := UnverifiedExpiry(r.AccessToken); ok {
			ts.expiresAt = exp
		} else {
			// no way to know the lifetime; fail safe toward forcing a
			// refresh or re-auth
			ts.expiresAt = now
		}
	}
	return ts, nil
}

func (t *TokenSet) AccessToken() AccessToken   { return t.accessToken }
func (t *TokenSet) RefreshToken() RefreshToken { return t.refreshToken }
func (t *TokenSet) IdToken() IdToken           { return t.idToken }
func (t *TokenSet) ExpiresAt() time.Time       { return t.expiresAt }
func (t *TokenSet) ObtainedAt() time.Time      { return t.obtainedAt }

// AccessClaims returns a copy of the unverified access token claims
// cached for display.
func (t *TokenSet) AccessClaims() map[string]interface{} {
	if t.accessClaims == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(t.accessClaims))
	for k, v := range t.accessClaims {
		cp[k] = v
	}
	return cp
}

// Meta returns the non-secret metadata of the set, suitable for events
// and UI display.
func (t *TokenSet) Meta() *TokenMeta {
	if t == nil {
		return nil
	}
	return &TokenMeta{
		ExpiresAt:  t.expiresAt,
		ObtainedAt: t.obtainedAt,
	}
}

// Expired returns true if the access token has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultExpirySkew.
func (t *TokenSet) Expired(opt ...Option) bool {
	opts := getTokenOpts(opt...)
	return t.expiresAt.Round(0).Before(opts.withNow().Add(opts.withExpirySkew))
}

// Valid returns true when the set has an access token which hasn't
// expired.
func (t *TokenSet) Valid() bool {
	if t == nil || t.accessToken == "" {
		return false
	}
	return !t.Expired()
}

// copy returns a deep copy of the set.
func (t *TokenSet) copy() *TokenSet {
	if t == nil {
		return nil
	}
	cp := *t
	cp.accessClaims = t.AccessClaims()
	return &cp
}

// mergeRefresh merges a refresh response over the existing set. A
// provider that omits refresh_token or id_token in a refresh response
// means "unchanged", not "cleared", so the prior values are preserved.
// The expiry and display claims are recomputed for the new access token.
func (t *TokenSet) mergeRefresh(r *TokenResponse, opt ...Option) (*TokenSet, error) {
	const op = "TokenSet.mergeRefresh"
	merged, err := NewTokenSet(r, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if merged.refreshToken == "" {
		merged.refreshToken = t.refreshToken
	}
	if merged.idToken == "" {
		merged.idToken = t.idToken
	}
	return merged, nil
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNow        func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultExpirySkew,
		withNow:        time.Now,
	}
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
