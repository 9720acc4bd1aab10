package oidc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenSet(t *testing.T) *TokenSet {
	t.Helper()
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts, err := NewTokenSet(&TokenResponse{
		AccessToken:  testUnsignedJWT(`{"sub":"alice","email":"alice@example.com"}`),
		RefreshToken: "refresh-1",
		IDToken:      testUnsignedJWT(`{"sub":"alice"}`),
		ExpiresIn:    3600,
	}, WithNow(func() time.Time { return frozen }))
	require.New(t).NoError(err)
	return ts
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	t.Run("roundtrip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemoryStore()

		got, err := s.Load(ctx)
		require.NoError(err)
		assert.Nil(got)

		ts := testTokenSet(t)
		require.NoError(s.Save(ctx, ts))
		got, err = s.Load(ctx)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal(ts.AccessToken(), got.AccessToken())
		assert.Equal(ts.RefreshToken(), got.RefreshToken())
		assert.Equal(ts.ExpiresAt(), got.ExpiresAt())

		require.NoError(s.Clear(ctx))
		got, err = s.Load(ctx)
		require.NoError(err)
		assert.Nil(got)
	})
	t.Run("load-returns-copy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemoryStore()
		require.NoError(s.Save(ctx, testTokenSet(t)))
		first, err := s.Load(ctx)
		require.NoError(err)
		first.accessClaims["sub"] = "mallory"
		second, err := s.Load(ctx)
		require.NoError(err)
		assert.Equal("alice", second.AccessClaims()["sub"])
	})
	t.Run("nil-save", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemoryStore()
		err := s.Save(ctx, nil)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	t.Run("roundtrip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "nested", "tokens.json")
		s, err := NewFileStore(path)
		require.NoError(err)

		got, err := s.Load(ctx)
		require.NoError(err)
		assert.Nil(got)

		ts := testTokenSet(t)
		require.NoError(s.Save(ctx, ts))

		// a fresh store over the same path sees the record
		reopened, err := NewFileStore(path)
		require.NoError(err)
		got, err = reopened.Load(ctx)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal(ts.AccessToken(), got.AccessToken())
		assert.Equal(ts.RefreshToken(), got.RefreshToken())
		assert.True(ts.ExpiresAt().Equal(got.ExpiresAt()))
		assert.True(ts.ObtainedAt().Equal(got.ObtainedAt()))
	})
	t.Run("claims-rederived-on-load", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "tokens.json")
		s, err := NewFileStore(path)
		require.NoError(err)
		require.NoError(s.Save(ctx, testTokenSet(t)))

		// claims aren't in the file; they come back from the token itself
		data, err := os.ReadFile(path)
		require.NoError(err)
		assert.NotContains(string(data), "access_claims")

		got, err := s.Load(ctx)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal("alice", got.AccessClaims()["sub"])
		assert.Equal("alice@example.com", got.AccessClaims()["email"])
	})
	t.Run("file-permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file modes aren't meaningful on windows")
		}
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "tokens.json")
		s, err := NewFileStore(path)
		require.NoError(err)
		require.NoError(s.Save(ctx, testTokenSet(t)))
		info, err := os.Stat(path)
		require.NoError(err)
		assert.Equal(os.FileMode(0o600), info.Mode().Perm())
	})
	t.Run("clear-idempotent", func(t *testing.T) {
		require := require.New(t)
		path := filepath.Join(t.TempDir(), "tokens.json")
		s, err := NewFileStore(path)
		require.NoError(err)
		require.NoError(s.Clear(ctx))
		require.NoError(s.Save(ctx, testTokenSet(t)))
		require.NoError(s.Clear(ctx))
		require.NoError(s.Clear(ctx))
		got, err := s.Load(ctx)
		require.NoError(err)
		require.Nil(got)
	})
	t.Run("corrupt-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "tokens.json")
		s, err := NewFileStore(path)
		require.NoError(err)
		require.NoError(os.WriteFile(path, []byte("not json"), 0o600))
		_, err = s.Load(ctx)
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("empty-path", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewFileStore("")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}
