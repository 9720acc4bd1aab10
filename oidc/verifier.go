package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/authflow-dev/oidcflow/oidc/internal/strutils"
)

// TokenVerifier verifies the signature and claims of a compact signed
// token and returns the verified claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (map[string]interface{}, error)
}

// RemoteVerifier verifies token signatures against the provider's
// published key set (the config's JWKSEndpoint) and checks the issuer,
// audience and expiry claims. The key set is fetched lazily and cached;
// when a token carries a key id the cache doesn't know, the key set is
// refetched exactly once to tolerate provider key rotation.
//
// Verification failures must never be ignored by callers: a stored token
// which fails here is treated as tampered or revoked and cleared.
type RemoteVerifier struct {
	config *Config
	client *http.Client

	mu   sync.Mutex
	jwks *jose.JSONWebKeySet
}

// ensure that RemoteVerifier implements the TokenVerifier interface
var _ TokenVerifier = (*RemoteVerifier)(nil)

// NewRemoteVerifier creates a verifier for the config's JWKS endpoint.
// No network request is made until the first Verify call.
func NewRemoteVerifier(c *Config) (*RemoteVerifier, error) {
	const op = "oidc.NewRemoteVerifier"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	return &RemoteVerifier{
		config: c,
		client: client,
	}, nil
}

// Verify parses the given compact serialized token, verifies its
// signature using the provider's key set and validates its iss, aud and
// exp claims. It fails with ErrSignatureInvalid, ErrClaimMismatch or
// ErrKeyFetchFailed.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "RemoteVerifier.Verify"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w", op, ErrSignatureInvalid)
	}

	claims, err := v.verifySignature(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if iss, _ := claims["iss"].(string); iss != v.config.Issuer {
		return nil, fmt.Errorf("%s: issuer %q doesn't match the configured issuer: %w", op, iss, ErrClaimMismatch)
	}

	allowed := v.config.Audiences
	if len(allowed) == 0 {
		allowed = []string{v.config.ClientID}
	}
	var audOk bool
	for _, aud := range audienceClaim(claims) {
		if strutils.StrListContains(allowed, aud) {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, fmt.Errorf("%s: audience is not an accepted audience: %w", op, ErrClaimMismatch)
	}

	if exp, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(exp), 0).Before(time.Now()) {
			return nil, fmt.Errorf("%s: token is expired: %w", op, ErrClaimMismatch)
		}
	}

	return claims, nil
}

// verifySignature checks the token's signature against the cached key
// set, refetching the set once when the token's key id is unknown.
func (v *RemoteVerifier) verifySignature(ctx context.Context, parsed *jwt.JSONWebToken) (map[string]interface{}, error) {
	var kid string
	for _, h := range parsed.Headers {
		if h.KeyID != "" {
			kid = h.KeyID
			break
		}
	}

	keys, err := v.candidateKeys(ctx, kid, false)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		// unknown kid: the provider may have rotated its keys since we
		// cached the set
		if keys, err = v.candidateKeys(ctx, kid, true); err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		claims := map[string]interface{}{}
		if err := parsed.Claims(key, &claims); err == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("no known key successfully validated the token signature: %w", ErrSignatureInvalid)
}

// candidateKeys returns the cached keys matching kid (or all cached keys
// when the token has no kid), fetching the remote key set when the cache
// is empty or refresh is requested.
func (v *RemoteVerifier) candidateKeys(ctx context.Context, kid string, refresh bool) ([]jose.JSONWebKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks == nil || refresh {
		jwks, err := v.fetchKeySet(ctx)
		if err != nil {
			return nil, err
		}
		v.jwks = jwks
	}
	if kid == "" {
		return v.jwks.Keys, nil
	}
	return v.jwks.Key(kid), nil
}

func (v *RemoteVerifier) fetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create key set request: %w", ErrKeyFetchFailed)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch key set: %v: %w", err, ErrKeyFetchFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned %d: %w", resp.StatusCode, ErrKeyFetchFailed)
	}
	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("unable to decode key set: %v: %w", err, ErrKeyFetchFailed)
	}
	return &jwks, nil
}

// audienceClaim normalizes the aud claim, which providers send as either
// a string or an array of strings.
func audienceClaim(claims map[string]interface{}) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		auds := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				auds = append(auds, s)
			}
		}
		return auds
	default:
		return nil
	}
}
