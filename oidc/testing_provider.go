package oidc

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local TLS server that implements the provider's
// fixed endpoint layout, which makes writing tests much easier:
//
//	GET  {issuer}/oauth/authorize
//	POST {issuer}/oauth/token       (authorization_code + refresh_token)
//	GET  {issuer}/keys
//	GET  {issuer}/oidc/logout
//
// The authorize endpoint records the request's PKCE code_challenge, and
// the token endpoint rejects an authorization_code grant whose
// code_verifier doesn't hash to the recorded challenge, so a test that
// drives the full round trip exercises PKCE end to end.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	replySubject         string
	customClaims         map[string]interface{}
	customAudience       string
	expiresIn            int64
	omitExpiresIn        bool
	omitRefreshToken     bool
	omitIDToken          bool
	disableJWKS          bool
	tokenErrStatus       int
	tokenErrCode         string
	tokenErrDesc         string

	recordedChallenge string
	tokenRequests     int
	logoutRequests    int
	lastLogoutHint    string

	keyID           string
	keyNum          int
	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random
// loopback port. The server is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                    t,
		replySubject:         "alice@example.com",
		expectedRefreshToken: "test-refresh-token",
		expiresIn:            3600,
	}
	p.rotateKeysLocked()

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL (the issuer) for the test provider's
// running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs and the key id they're published under.
func (p *TestProvider) SigningKeys() (pub, priv, keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ecdsaPublicKey, p.ecdsaPrivateKey, p.keyID
}

// SetClientCreds configures the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code returned from the
// authorize endpoint and the only code the token endpoint accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the refresh token issued with token
// responses and the only one the refresh_token grant accepts.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetExpiresIn configures the expires_in seconds of token responses.
func (p *TestProvider) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// OmitExpiresIn forces token responses without an expires_in field, so a
// client must fall back to the access token's exp claim.
func (p *TestProvider) OmitExpiresIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitExpiresIn = true
}

// OmitRefreshTokens forces token responses without a refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// OmitIDTokens forces token responses without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetCustomClaims lets you set additional claims to embed in issued JWTs.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued
// JWTs instead of the client id.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetTokenError forces the token endpoint to fail every request with the
// given status and OAuth error body. A zero status restores normal
// behavior.
func (p *TestProvider) SetTokenError(status int, code, desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrStatus = status
	p.tokenErrCode = code
	p.tokenErrDesc = desc
}

// DisableJWKS makes the keys endpoint return 404.
func (p *TestProvider) DisableJWKS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableJWKS = true
}

// RotateKeys replaces the provider's signing key pair and published key
// set with fresh ones under a new key id. Tokens issued after rotation
// don't verify against a key set cached before it.
func (p *TestProvider) RotateKeys() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateKeysLocked()
}

func (p *TestProvider) rotateKeysLocked() {
	p.keyNum++
	p.keyID = fmt.Sprintf("test-key-%d", p.keyNum)
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(p.t)
	p.jwks = TestJWKS(p.t, p.ecdsaPublicKey, p.keyID)
}

// TokenRequests returns how many requests the token endpoint has served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LogoutRequests returns how many requests the end-session endpoint has
// served and the id_token_hint of the most recent one.
func (p *TestProvider) LogoutRequests() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutRequests, p.lastLogoutHint
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// issueTokenLocked signs a fresh JWT with the current key. p.mu must be
// held.
func (p *TestProvider) issueTokenLocked() string {
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(time.Now().Add(time.Duration(p.expiresIn) * time.Second)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, p.keyID, stdClaims, p.customClaims)
}

func (p *TestProvider) writeTokenReplyLocked(w http.ResponseWriter) {
	jwtData := p.issueTokenLocked()

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  jwtData,
		TokenType:    "Bearer",
		ExpiresIn:    p.expiresIn,
		RefreshToken: p.expectedRefreshToken,
		IDToken:      jwtData,
	}
	if p.omitExpiresIn {
		reply.ExpiresIn = 0
	}
	if p.omitRefreshToken {
		reply.RefreshToken = ""
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	_ = p.writeJSON(w, &reply)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	switch req.URL.Path {
	case "/oauth/authorize":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if qv.Get("code_challenge_method") != string(S256) {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing or unsupported code_challenge_method")
			return
		}
		challenge := qv.Get("code_challenge")
		if challenge == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing code_challenge parameter")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		p.recordedChallenge = challenge

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/oauth/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		w.Header().Set("Content-Type", "application/json")

		if p.tokenErrStatus != 0 {
			_ = p.writeTokenErrorResponse(w, p.tokenErrStatus, p.tokenErrCode, p.tokenErrDesc)
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			verifier := req.FormValue("code_verifier")
			if verifier == "" {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing code_verifier")
				return
			}
			if p.recordedChallenge != "" {
				sum := sha256.Sum256([]byte(verifier))
				if base64.RawURLEncoding.EncodeToString(sum[:]) != p.recordedChallenge {
					_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier doesn't match the challenge")
					return
				}
			}
			p.writeTokenReplyLocked(w)

		case "refresh_token":
			if req.FormValue("refresh_token") != p.expectedRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
			p.writeTokenReplyLocked(w)

		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/keys":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.disableJWKS {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = p.writeJSON(w, p.jwks)

	case "/oidc/logout":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.logoutRequests++
		p.lastLogoutHint = req.URL.Query().Get("id_token_hint")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>logged out</body></html>"))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
