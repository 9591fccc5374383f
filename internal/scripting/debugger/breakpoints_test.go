package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointSetAddDedupes(t *testing.T) {
	b := newBreakpointSet()
	ok, err := b.Add(10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Add(10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, b.Len())
}

func TestBreakpointSetRejectsOverCapacity(t *testing.T) {
	b := newBreakpointSet()
	for i := 1; i <= breakpointCapacity; i++ {
		ok, err := b.Add(i)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := b.Add(breakpointCapacity + 1)
	assert.False(t, ok)
	require.Error(t, err)
}

func TestBreakpointSetRemoveShiftsTailByElement(t *testing.T) {
	b := newBreakpointSet()
	for _, l := range []int{5, 10, 15, 20} {
		_, _ = b.Add(l)
	}
	assert.True(t, b.Remove(10))
	assert.Equal(t, []int{5, 15, 20}, b.List())
	assert.False(t, b.Has(10))
}

func TestBreakpointSetRemoveUnknownIsNoop(t *testing.T) {
	b := newBreakpointSet()
	_, _ = b.Add(1)
	assert.False(t, b.Remove(99))
	assert.Equal(t, []int{1}, b.List())
}

func TestBreakpointSetClear(t *testing.T) {
	b := newBreakpointSet()
	_, _ = b.Add(1)
	_, _ = b.Add(2)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Has(1))
}
