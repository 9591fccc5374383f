package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralLRUEvictsOldestOnOverflow(t *testing.T) {
	var evicted []string
	l := newEphemeralLRU(2, func(d string) { evicted = append(evicted, d) })

	l.add("a")
	l.add("b")
	l.add("c")

	require.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0])
	assert.Equal(t, 2, l.len())
}

func TestEphemeralLRUDetachSkipsOnEvict(t *testing.T) {
	var evicted []string
	l := newEphemeralLRU(2, func(d string) { evicted = append(evicted, d) })

	l.add("a")
	l.detach("a")

	assert.Empty(t, evicted)
	assert.Equal(t, 0, l.len())
	assert.False(t, l.contains("a"))
}

func TestEphemeralLRUTouchMovesToMostRecentlyUsed(t *testing.T) {
	var evicted []string
	l := newEphemeralLRU(2, func(d string) { evicted = append(evicted, d) })

	l.add("a")
	l.add("b")
	l.touch("a")
	l.add("c")

	require.Len(t, evicted, 1)
	assert.Equal(t, "b", evicted[0])
}

func TestEphemeralLRUDetachUnknownDigestIsNoop(t *testing.T) {
	var evicted []string
	l := newEphemeralLRU(2, func(d string) { evicted = append(evicted, d) })

	l.detach("missing")
	assert.Empty(t, evicted)
}
