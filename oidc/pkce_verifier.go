package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	uuid "github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by
// RFC 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based PKCE challenge method. It is the only
	// method this package supports: the plain method provides no
	// protection against code interception.
	S256 ChallengeMethod = "S256"
)

// verifierLen is the length of the encoded verifier: 32 bytes of entropy
// encoded as unpadded URL-safe base64 (RFC 7636 requires 43-128 chars).
const verifierLen = 43

// CodeVerifier represents an OAuth PKCE code verifier and the challenge
// derived from it. See: https://tools.ietf.org/html/rfc7636
type CodeVerifier interface {
	// Verifier returns the verifier's random secret
	Verifier() string

	// Challenge returns the challenge derived from the verifier
	Challenge() string

	// Method returns the method used to derive the challenge
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier implements the CodeVerifier interface for the S256 method.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new S256Verifier with a cryptographically
// random verifier (32 bytes of entropy) and its derived challenge. An
// entropy source failure is not recoverable by retrying.
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, err)
	}
	v := &S256Verifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(S256, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, verifier CodeVerifier) (string, error) {
	// we're not supporting "plain" because it doesn't provide any
	// protection against code interception.
	const op = "oidc.CreateCodeChallenge"
	if method != S256 {
		return "", fmt.Errorf("%s: %s: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	h := sha256.New()
	_, _ = h.Write([]byte(verifier.Verifier())) // hash documents that Write will never return an error
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
