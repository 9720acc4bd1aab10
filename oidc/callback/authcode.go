package callback

import (
	"context"
	"net/http"

	"github.com/authflow-dev/oidcflow/oidc"
)

// AuthCode creates an authorization code callback handler which parses
// the provider's redirect parameters ("state", "code" or the error
// triplet) and hands them to the SessionManager to validate and complete
// the login.
//
// The SuccessResponseFunc is used to create a response when the callback
// is successful. The ErrorResponseFunc is used to create a response when
// the callback fails. When either is nil the package defaults are used.
func AuthCode(ctx context.Context, sm *oidc.SessionManager, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	if sFn == nil {
		sFn = DefaultSuccessResponse()
	}
	if eFn == nil {
		eFn = DefaultErrorResponse()
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if sm == nil {
			eFn(reqState, oidc.ErrNilParameter, w, req)
			return
		}

		err := sm.HandleCallback(ctx, oidc.Callback{
			State:            reqState,
			Code:             req.FormValue("code"),
			Error:            req.FormValue("error"),
			ErrorDescription: req.FormValue("error_description"),
			ErrorURI:         req.FormValue("error_uri"),
		})
		if err != nil {
			eFn(reqState, err, w, req)
			return
		}
		sFn(reqState, w, req)
	}
}
