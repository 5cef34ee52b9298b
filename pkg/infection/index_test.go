package infection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameIndex_FirstWins(t *testing.T) {
	first := infectedState("A", "f", true)
	second := infectedState("B", "f", true)

	idx := NewNameIndex(first, second)

	got, ok := idx.Lookup("f")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 1, idx.Len())

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
}

func TestIDIndex(t *testing.T) {
	first := infectedState("A", "f", true)
	second := infectedState("B", "f", true)
	other := infectedState("B", "g", true)

	idx := NewIDIndex(first, second, other)
	idx.Add(first)

	assert.Equal(t, 3, idx.Len())

	got, ok := idx.LookupID(second.ID())
	require.True(t, ok)
	assert.Same(t, second, got)

	got, ok = idx.Lookup("f")
	require.True(t, ok)
	assert.Same(t, first, got)

	assert.Equal(t, []string{"f"}, idx.Ambiguous())
}
