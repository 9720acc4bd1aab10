// oidcflow provides a client-side implementation of the OAuth2
// authorization code flow with PKCE for OpenID Connect-compatible
// providers: building authorize URLs, validating redirect callbacks,
// exchanging codes for tokens, persisting token sets, refreshing near
// expiry, verifying access tokens against the provider's JWKS, and
// coordinating local + provider-side logout.
//
// See README.md
package oidcflow
