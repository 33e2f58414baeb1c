package run

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDCarriesPrefix(t *testing.T) {
	id := NewID("lz")
	require.True(t, strings.HasPrefix(id.String(), "lz-"))
}

func TestNewIDDefaultsPrefix(t *testing.T) {
	id := NewID("")
	require.True(t, strings.HasPrefix(id.String(), "run-"))
}

func TestNewIDUniqueAcrossBurst(t *testing.T) {
	seen := make(map[ID]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID("lz")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
