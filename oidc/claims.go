package oidc

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// DecodePayload best-effort decodes the payload segment of a compact
// serialized JWT without verifying its signature. It returns nil on any
// malformed input. The result is only suitable for display (subject,
// expiry, etc) and must never be used for authorization decisions; see
// RemoteVerifier for the verifying path.
func DecodePayload(token string) map[string]interface{} {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return nil
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil
	}
	return claims
}

// UnverifiedExpiry returns the unverified exp claim of a compact
// serialized JWT. The bool is false when the token is malformed or
// carries no exp claim.
func UnverifiedExpiry(token string) (time.Time, bool) {
	claims := DecodePayload(token)
	if claims == nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

// decodeSegment decodes a JWT segment, tolerating both padded and raw
// URL-safe base64.
func decodeSegment(seg string) ([]byte, error) {
	if l := len(seg) % 4; l > 0 {
		seg += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(seg)
}
