// oidc is a package for writing clients that use the OAuth2
// authorization code flow with PKCE against an OIDC-compatible provider.
//
// The package's main types are:
//
//   - SessionManager: owns the login/refresh/logout lifecycle for a
//     single session and publishes SessionEvents as the session changes.
//
//   - TokenSet: the persisted access/refresh/id token bundle with a
//     derived expiry and display claims.
//
//   - Store: the pluggable credential store (MemoryStore, FileStore).
//
//   - RemoteVerifier: verifies access token signatures and claims
//     against the provider's published JWKS.
package oidc
