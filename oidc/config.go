package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"github.com/authflow-dev/oidcflow/oidc/internal/strutils"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config describes one client of an OIDC-compatible provider. It is an
// immutable value: construct it once and hand it to a SessionManager.
// The provider's endpoints are fixed paths relative to the issuer:
//
//	{issuer}/oauth/authorize   authorization endpoint
//	{issuer}/oauth/token       token endpoint
//	{issuer}/keys              JWKS endpoint
//	{issuer}/oidc/logout       end-session endpoint
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret. It's only set for
	// confidential clients; public clients (desktop, mobile, SPA) leave
	// it empty and rely on PKCE for code-exchange integrity.
	ClientSecret ClientSecret

	// Issuer is a case-sensitive URL string with scheme, host and
	// optionally port and path, and no query or fragment components.
	Issuer string

	// RedirectURL is the URL the provider redirects the callback to.
	RedirectURL string

	// PostLogoutRedirectURL is where the provider sends the browser after
	// ending its session.
	PostLogoutRedirectURL string

	// Scopes is the list of oauth scopes to request.
	Scopes []string

	// Audiences is an optional list of case-sensitive strings accepted
	// for a verified token's aud claim. When empty, the ClientID is the
	// required audience.
	Audiences []string

	// ProviderCA is an optional CA cert PEM to use when sending requests
	// to the provider.
	ProviderCA string
}

// NewConfig composes a new client config and validates it.
//
// Supported options: WithClientSecret, WithScopes, WithAudiences,
// WithProviderCA, WithPostLogoutRedirectURL
func NewConfig(issuer string, clientID string, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                issuer,
		ClientID:              clientID,
		RedirectURL:           redirectURL,
		ClientSecret:          opts.withClientSecret,
		Scopes:                opts.withScopes,
		Audiences:             opts.withAudiences,
		ProviderCA:            opts.withProviderCA,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the client configuration. It verifies the issuer and client
// id are set and the issuer parses as an http(s) URL, but it doesn't
// verify the issuer is reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrConfigMissing)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrConfigMissing)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer url %s is invalid: %w", op, c.Issuer, ErrInvalidParameter)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer url %s scheme %s is not http or https: %w", op, c.Issuer, u.Scheme, ErrInvalidParameter)
	}
	return nil
}

// AuthEndpoint returns the provider's authorization endpoint.
func (c *Config) AuthEndpoint() string { return c.endpoint("/oauth/authorize") }

// TokenEndpoint returns the provider's token endpoint.
func (c *Config) TokenEndpoint() string { return c.endpoint("/oauth/token") }

// JWKSEndpoint returns the provider's published key set endpoint.
func (c *Config) JWKSEndpoint() string { return c.endpoint("/keys") }

// EndSessionEndpoint returns the provider's OIDC logout endpoint.
func (c *Config) EndSessionEndpoint() string { return c.endpoint("/oidc/logout") }

func (c *Config) endpoint(path string) string {
	return strings.TrimRight(c.Issuer, "/") + path
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured. The client will use the ProviderCA if one was
// provided, otherwise the installed system CA chain.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withClientSecret          ClientSecret
	withScopes                []string
	withAudiences             []string
	withProviderCA            string
	withPostLogoutRedirectURL string
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for a confidential
// client's config.
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithScopes provides an optional list of scopes for the client's config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for verifying a
// token's aud claim.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for the client's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithPostLogoutRedirectURL provides an optional URL the provider sends
// the browser to after its session has ended.
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}
