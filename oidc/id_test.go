package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Run("no-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		id, err := NewID()
		require.NoError(err)
		// 16 bytes of entropy encodes to 22 unpadded base64 chars
		assert.Len(id, 22)
	})
	t.Run("with-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		id, err := NewID(WithPrefix("st"))
		require.NoError(err)
		assert.True(strings.HasPrefix(id, "st_"))
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			id, err := NewID()
			require.NoError(err)
			assert.False(seen[id])
			seen[id] = true
		}
	})
}
