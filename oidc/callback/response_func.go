package callback

import (
	"net/http"
)

// SuccessResponseFunc is used by AuthCode to create a http response when
// the callback completed a login.
//
// The state parameter contains the state echoed by the provider. The
// function should use the http.ResponseWriter to send back whatever
// content (headers, html, JSON, etc) it wishes to the browser that
// completed the flow. Token values are deliberately not passed: the
// browser response must never carry them.
type SuccessResponseFunc func(state string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by AuthCode to create a http response when
// the callback fails.
//
// The e parameter is the failure reported by the session manager; it
// wraps *oidc.AuthErrorResponse for provider authentication errors and
// the oidc package's sentinel errors otherwise.
type ErrorResponseFunc func(state string, e error, w http.ResponseWriter, req *http.Request)

// DefaultSuccessResponse returns a minimal html page telling the user
// the login completed and the browser tab can be closed. It's intended
// for loopback-server clients that have no UI of their own to render.
func DefaultSuccessResponse() SuccessResponseFunc {
	return func(state string, w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html><head><title>Signed in</title></head>
<body><h1>Signed in</h1><p>You can close this window and return to the application.</p></body></html>`))
	}
}

// DefaultErrorResponse returns a minimal html error page. The error
// detail is not rendered to the browser; callers wanting detail should
// log e on their side.
func DefaultErrorResponse() ErrorResponseFunc {
	return func(state string, e error, w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html><head><title>Sign-in failed</title></head>
<body><h1>Sign-in failed</h1><p>The login could not be completed. Return to the application and try again.</p></body></html>`))
	}
}
