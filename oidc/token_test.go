package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_Redaction(t *testing.T) {
	t.Run("access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk := AccessToken("super secret token")
		assert.Equal(RedactedAccessToken, tk.String())
		assert.Equal(RedactedAccessToken, fmt.Sprintf("%s", tk))
		assert.Equal(RedactedAccessToken, fmt.Sprintf("%v", tk))
		data, err := json.Marshal(tk)
		require.NoError(err)
		assert.Equal(`"`+RedactedAccessToken+`"`, string(data))
	})
	t.Run("refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk := RefreshToken("super secret token")
		assert.Equal(RedactedRefreshToken, tk.String())
		assert.Equal(RedactedRefreshToken, fmt.Sprintf("%s", tk))
		data, err := json.Marshal(tk)
		require.NoError(err)
		assert.Equal(`"`+RedactedRefreshToken+`"`, string(data))
	})
	t.Run("id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk := IdToken("super secret token")
		assert.Equal(RedactedIdToken, tk.String())
		assert.Equal(RedactedIdToken, fmt.Sprintf("%s", tk))
		data, err := json.Marshal(tk)
		require.NoError(err)
		assert.Equal(`"`+RedactedIdToken+`"`, string(data))
	})
	t.Run("client-secret", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := ClientSecret("super secret")
		assert.Equal(RedactedClientSecret, s.String())
		data, err := json.Marshal(s)
		require.NoError(err)
		assert.Equal(`"`+RedactedClientSecret+`"`, string(data))
	})
}

func TestNewTokenSet(t *testing.T) {
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return frozen }

	t.Run("expires-in-wins", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// the token's exp claim disagrees with expires_in; the relative
		// lifetime is authoritative
		token := testUnsignedJWT(fmt.Sprintf(`{"sub":"alice","exp":%d}`, frozen.Add(time.Minute).Unix()))
		ts, err := NewTokenSet(&TokenResponse{
			AccessToken:  token,
			RefreshToken: "refresh",
			IDToken:      token,
			ExpiresIn:    3600,
		}, WithNow(now))
		require.NoError(err)
		assert.Equal(frozen.Add(3600*time.Second), ts.ExpiresAt())
		assert.Equal(frozen, ts.ObtainedAt())
		assert.Equal("alice", ts.AccessClaims()["sub"])
	})
	t.Run("falls-back-to-exp-claim", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		exp := frozen.Add(30 * time.Minute).Unix()
		token := testUnsignedJWT(fmt.Sprintf(`{"exp":%d}`, exp))
		ts, err := NewTokenSet(&TokenResponse{AccessToken: token}, WithNow(now))
		require.NoError(err)
		assert.Equal(time.Unix(exp, 0), ts.ExpiresAt())
	})
	t.Run("undeterminable-lifetime-reads-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, err := NewTokenSet(&TokenResponse{AccessToken: "opaque-token"}, WithNow(now))
		require.NoError(err)
		assert.Equal(frozen, ts.ExpiresAt())
		assert.True(ts.Expired(WithNow(now)))
	})
	t.Run("nil-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewTokenSet(nil)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("empty-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewTokenSet(&TokenResponse{})
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestTokenSet_Expired(t *testing.T) {
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return frozen }

	newSet := func(t *testing.T, expiresIn int64) *TokenSet {
		t.Helper()
		ts, err := NewTokenSet(&TokenResponse{AccessToken: "tok", ExpiresIn: expiresIn}, WithNow(now))
		require.New(t).NoError(err)
		return ts
	}

	t.Run("not-expired", func(t *testing.T) {
		assert := assert.New(t)
		ts := newSet(t, 3600)
		assert.False(ts.Expired(WithNow(now)))
	})
	t.Run("expired", func(t *testing.T) {
		assert := assert.New(t)
		ts := newSet(t, 1)
		// 1s lifetime is inside the default 10s skew
		assert.True(ts.Expired(WithNow(now)))
	})
	t.Run("with-skew", func(t *testing.T) {
		assert := assert.New(t)
		ts := newSet(t, 30)
		assert.False(ts.Expired(WithNow(now)))
		assert.True(ts.Expired(WithNow(now), WithExpirySkew(time.Minute)))
	})
}

func TestTokenSet_mergeRefresh(t *testing.T) {
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return frozen }

	base, err := NewTokenSet(&TokenResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IDToken:      "id-1",
		ExpiresIn:    60,
	}, WithNow(now))
	require.New(t).NoError(err)

	t.Run("omitted-means-unchanged", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		merged, err := base.mergeRefresh(&TokenResponse{
			AccessToken: "access-2",
			ExpiresIn:   3600,
		}, WithNow(now))
		require.NoError(err)
		assert.Equal(AccessToken("access-2"), merged.AccessToken())
		assert.Equal(RefreshToken("refresh-1"), merged.RefreshToken())
		assert.Equal(IdToken("id-1"), merged.IdToken())
		assert.Equal(frozen.Add(3600*time.Second), merged.ExpiresAt())
	})
	t.Run("rotated-tokens-replace", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		merged, err := base.mergeRefresh(&TokenResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			IDToken:      "id-2",
			ExpiresIn:    3600,
		}, WithNow(now))
		require.NoError(err)
		assert.Equal(RefreshToken("refresh-2"), merged.RefreshToken())
		assert.Equal(IdToken("id-2"), merged.IdToken())
	})
	t.Run("claims-recomputed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := testUnsignedJWT(`{"sub":"carol"}`)
		merged, err := base.mergeRefresh(&TokenResponse{AccessToken: token, ExpiresIn: 3600}, WithNow(now))
		require.NoError(err)
		assert.Equal("carol", merged.AccessClaims()["sub"])
	})
	t.Run("missing-access-token-fails", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := base.mergeRefresh(&TokenResponse{RefreshToken: "refresh-2"}, WithNow(now))
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}
