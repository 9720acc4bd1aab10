// callback is a package that provides the http.HandlerFunc for the
// redirect callback leg of the authorization code flow. The handler
// parses the provider's redirect parameters, hands them to an
// oidc.SessionManager for validation and code exchange, and renders a
// response via caller-supplied (or the package's default) response
// functions.
package callback
