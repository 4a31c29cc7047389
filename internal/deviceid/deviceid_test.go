package deviceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLength(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	assert.Len(t, id, Length)
}

func TestNewN_Alphanumeric(t *testing.T) {
	id, err := NewN(64)
	require.NoError(t, err)
	require.Len(t, id, 64)

	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		assert.True(t, ok, "unexpected character %q", r)
	}
}

func TestNewN_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := NewN(32)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewN_InvalidLength(t *testing.T) {
	_, err := NewN(0)
	assert.Error(t, err)

	_, err = NewN(-5)
	assert.Error(t, err)
}
