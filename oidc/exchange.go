package oidc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenResponse is the normalized response of the provider's token
// endpoint for both the authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string

	// ExpiresIn is the provider's relative access token lifetime in
	// seconds; 0 when the provider omitted it.
	ExpiresIn int64

	TokenType string
	Scope     string
}

// ExchangeClient performs the two token endpoint grant calls against the
// provider's fixed token endpoint, form-encoded, and normalizes the
// responses.
type ExchangeClient struct {
	config *Config
}

// NewExchangeClient creates a client for the config's token endpoint.
func NewExchangeClient(c *Config) (*ExchangeClient, error) {
	const op = "oidc.NewExchangeClient"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return &ExchangeClient{config: c}, nil
}

// AuthCodeURL generates the URL a caller uses to kick off the
// authorization code flow, carrying the state and the PKCE challenge:
//
//	response_type=code, client_id, redirect_uri, scope, state,
//	code_challenge, code_challenge_method=S256
func (c *ExchangeClient) AuthCodeURL(state string, v CodeVerifier) string {
	return c.oauth2Config().AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
	)
}

// ExchangeCode requests tokens from the token endpoint using the
// authorization code and the PKCE verifier whose challenge was bound to
// the authorize request (grant_type=authorization_code). Failures are
// reported as a *TokenEndpointError.
func (c *ExchangeClient) ExchangeCode(ctx context.Context, code string, v CodeVerifier) (*TokenResponse, error) {
	const op = "ExchangeClient.ExchangeCode"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if v == nil {
		return nil, fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	octx, err := c.clientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tok, err := c.oauth2Config().Exchange(octx, code, oauth2.SetAuthURLParam("code_verifier", v.Verifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, asTokenEndpointError(err))
	}
	return normalizeToken(tok), nil
}

// RefreshGrant requests a fresh set of tokens using a refresh token
// (grant_type=refresh_token). Failures are reported as a
// *TokenEndpointError.
func (c *ExchangeClient) RefreshGrant(ctx context.Context, refreshToken RefreshToken) (*TokenResponse, error) {
	const op = "ExchangeClient.RefreshGrant"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}
	octx, err := c.clientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	src := c.oauth2Config().TokenSource(octx, &oauth2.Token{RefreshToken: string(refreshToken)})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, asTokenEndpointError(err))
	}
	return normalizeToken(tok), nil
}

func (c *ExchangeClient) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: string(c.config.ClientSecret),
		RedirectURL:  c.config.RedirectURL,
		Scopes:       c.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.config.AuthEndpoint(),
			TokenURL:  c.config.TokenEndpoint(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *ExchangeClient) clientContext(ctx context.Context) (context.Context, error) {
	client, err := c.config.HTTPClient()
	if err != nil {
		return nil, err
	}
	return HTTPClientContext(ctx, client), nil
}

// normalizeToken flattens an oauth2 token and its extra response fields
// into a TokenResponse.
func normalizeToken(tok *oauth2.Token) *TokenResponse {
	r := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		r.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		r.Scope = scope
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		r.ExpiresIn = int64(v)
	case int64:
		r.ExpiresIn = v
	}
	return r
}

// asTokenEndpointError maps an oauth2 failure to a *TokenEndpointError.
// A non-2xx response carries its status and body; a transport failure
// (including a timeout) carries status 0.
func asTokenEndpointError(err error) *TokenEndpointError {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return &TokenEndpointError{
			Status:  status,
			Body:    string(rErr.Body),
			wrapped: err,
		}
	}
	return &TokenEndpointError{wrapped: err}
}
