package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestHashDeterministic(t *testing.T) {
	v1 := map[string]any{"x": "1", "y": []string{"a", "b"}}
	v2 := map[string]any{"y": []string{"a", "b"}, "x": "1"}

	h1, err := Hash(v1)
	require.NoError(t, err)
	h2, err := Hash(v2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "sha256:"))
}

func TestHashDiffersOnContent(t *testing.T) {
	h1, err := Hash(map[string]any{"k": "v1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"k": "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashUnsupportedValue(t *testing.T) {
	_, err := Hash(make(chan int))
	assert.Error(t, err)
}
