package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrNotFound                   = errors.New("not found")

	// ErrConfigMissing is returned when an operation requires an issuer
	// and client id and the configuration doesn't provide them.
	ErrConfigMissing = errors.New("config missing")

	// ErrNoLoginInProgress is returned when a callback arrives and no
	// pending login occupies the slot (or the pending login expired).
	ErrNoLoginInProgress = errors.New("no login in progress")

	// ErrStateMismatch is returned when a callback's state parameter
	// doesn't equal the pending login's state, or the code is missing.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrProviderAuthError is returned when the provider redirected back
	// with an error parameter instead of an authorization code.
	ErrProviderAuthError = errors.New("provider authentication error")

	// ErrNoRefreshToken is returned when a refresh is requested but the
	// stored token set has no refresh token. The session can't self-heal
	// and the user must re-authenticate.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrMissingAccessToken is returned when a stored token set fails the
	// shape check (a set without an access token is invalid).
	ErrMissingAccessToken = errors.New("missing access token")

	ErrSignatureInvalid = errors.New("invalid signature")
	ErrClaimMismatch    = errors.New("claim mismatch")
	ErrKeyFetchFailed   = errors.New("key fetch failed")
)

// TokenEndpointError represents a failed call to the provider's token
// endpoint: either a non-2xx response (Status and Body are populated from
// the response) or a transport failure such as a timeout (Status is 0).
// The body is surfaced for diagnostics; token values never appear in it.
type TokenEndpointError struct {
	Status int
	Body   string

	wrapped error
}

func (e *TokenEndpointError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("token endpoint request failed: %s", e.wrapped)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

func (e *TokenEndpointError) Unwrap() error { return e.wrapped }

// AuthErrorResponse represents an OAuth2 authentication error response
// returned by the provider on the redirect callback. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthErrorResponse struct {
	Code        string
	Description string
	URI         string
}

func (e *AuthErrorResponse) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func (e *AuthErrorResponse) Unwrap() error { return ErrProviderAuthError }
