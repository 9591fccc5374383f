package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// fakeJSBackend is a minimal engine.Backend stand-in: it "compiles" a body
// into itself as the handle, so tests can assert on exactly what was freed
// without pulling in the real goja-backed jsengine.
type fakeJSBackend struct {
	freed          []engine.Compiled
	lastCompileTTL time.Duration
}

func newFakeJS() *fakeJSBackend { return &fakeJSBackend{} }

func (b *fakeJSBackend) Compile(ctx context.Context, subsystem engine.Subsystem, code []byte, timeout time.Duration) ([]engine.Compiled, error) {
	b.lastCompileTTL = timeout
	return []engine.Compiled{string(code)}, nil
}

func (b *fakeJSBackend) Call(ctx context.Context, rt engine.ServerRuntime, caller ports.Request, compiled engine.Compiled, subsystem engine.Subsystem, keys, args []string) (ports.Reply, error) {
	return compiled, nil
}

func (b *fakeJSBackend) Free(ctx context.Context, subsystem engine.Subsystem, compiled engine.Compiled) {
	b.freed = append(b.freed, compiled)
}

func (b *fakeJSBackend) MemoryOverhead(compiled engine.Compiled) int64 { return 0 }

func (b *fakeJSBackend) ResetEnv(ctx context.Context, async bool) (engine.Teardown, error) {
	return nil, nil
}

func (b *fakeJSBackend) MemoryInfo(ctx context.Context, subsystem engine.Subsystem) engine.MemoryInfo {
	return engine.MemoryInfo{}
}

func newTestCache(t *testing.T, bound, asyncThreshold int) (*Cache, *engine.Registry) {
	t.Helper()
	reg := engine.NewRegistry(nil)
	require.NoError(t, reg.Register("js", newFakeJS(), 0))

	cfg := config.CacheConfig{
		MaxEphemeralEntries: bound,
		AsyncFlushThreshold: asyncThreshold,
		ReclaimWorkers:      2,
		ReclaimQueueDepth:   16,
		DefaultFlushMode:    "sync",
	}
	engCfg := config.EngineConfig{DefaultEngine: "js"}
	c := New(cfg, engCfg, reg, noopMapper{}, nil, NewMetrics(nil), nil)
	return c, reg
}

type noopMapper struct{}

func (noopMapper) Map(s flags.Set) flags.CommandFlags { return flags.CommandFlags{} }

func TestContentAddressingIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()
	body := []byte("return 1")

	d1, err := c.CompileAndStore(ctx, body, ports.Request{}, Ephemeral)
	require.NoError(t, err)
	d2, err := c.CompileAndStore(ctx, body, ports.Request{}, Ephemeral)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, 1, c.Len())
}

func TestEphemeralPinnedPromotion(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()
	body := []byte("return 1")

	d, err := c.CompileAndStore(ctx, body, ports.Request{}, Ephemeral)
	require.NoError(t, err)
	assert.Equal(t, 1, c.lru.len())

	d2, err := c.CompileAndStore(ctx, body, ports.Request{}, Pinned)
	require.NoError(t, err)
	assert.Equal(t, d, d2)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.lru.len())

	for i := 0; i < 500; i++ {
		_, err := c.CompileAndStore(ctx, []byte(randomBody(i)), ports.Request{}, Ephemeral)
		require.NoError(t, err)
	}
	assert.True(t, c.Exists(d))
}

func TestEvictionAfter501DistinctEvals(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()

	first, err := c.CompileAndStore(ctx, []byte(randomBody(0)), ports.Request{}, Ephemeral)
	require.NoError(t, err)

	var last string
	for i := 1; i <= 500; i++ {
		last, err = c.CompileAndStore(ctx, []byte(randomBody(i)), ports.Request{}, Ephemeral)
		require.NoError(t, err)
	}

	assert.False(t, c.Exists(first))
	assert.True(t, c.Exists(last))
	assert.Equal(t, 500, c.Len())
}

func TestUnknownEngineDoesNotInsert(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()

	_, err := c.CompileAndStore(ctx, []byte("#!xyz\nfoo"), ports.Request{}, Ephemeral)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCompatDefaultFlags(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()

	d, err := c.CompileAndStore(ctx, []byte("return 1"), ports.Request{}, Ephemeral)
	require.NoError(t, err)
	e, ok := c.Lookup(d)
	require.True(t, ok)
	assert.True(t, e.Flags.IsCompat())

	d2, err := c.CompileAndStore(ctx, []byte("#!js flags=no-writes\nreturn 1"), ports.Request{}, Ephemeral)
	require.NoError(t, err)
	e2, ok := c.Lookup(d2)
	require.True(t, ok)
	assert.False(t, e2.Flags.IsCompat())
	assert.True(t, e2.Flags.Has(flags.NoWrites))
}

func TestFlushSyncClearsCacheAndFreesEntries(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()

	var digests []string
	for i := 0; i < 10; i++ {
		d, err := c.CompileAndStore(ctx, []byte(randomBody(i)), ports.Request{}, Ephemeral)
		require.NoError(t, err)
		digests = append(digests, d)
	}

	require.NoError(t, c.Flush(ctx, false))
	for _, d := range digests {
		assert.False(t, c.Exists(d))
	}
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestFlushAsyncAboveThresholdReclaimsInBackground(t *testing.T) {
	c, _ := newTestCache(t, 500, 5)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := c.CompileAndStore(ctx, []byte(randomBody(i)), ports.Request{}, Ephemeral)
		require.NoError(t, err)
	}

	require.NoError(t, c.Flush(ctx, true))
	assert.Equal(t, 0, c.Len())

	require.Eventually(t, func() bool {
		return c.ReclaimFreed() == 100
	}, testTimeout, testTick)
}

func TestRunPreservesPinnedEntry(t *testing.T) {
	c, _ := newTestCache(t, 3, 64)
	ctx := context.Background()

	d, err := c.CompileAndStore(ctx, []byte("return 1"), ports.Request{}, Pinned)
	require.NoError(t, err)
	entry, ok := c.Lookup(d)
	require.True(t, ok)

	_, err = c.Run(ctx, ports.Request{}, entry, nil, nil)
	require.NoError(t, err)
	assert.True(t, c.Exists(d))
}

func TestShowReturnsOriginalBody(t *testing.T) {
	c, _ := newTestCache(t, 500, 64)
	ctx := context.Background()
	body := []byte("#!js flags=no-writes\nreturn 1")

	d, err := c.CompileAndStore(ctx, body, ports.Request{}, Pinned)
	require.NoError(t, err)

	got, ok := c.Show(d)
	require.True(t, ok)
	assert.Equal(t, body, got)
}

func TestCompileTimeoutIsThreadedFromConfig(t *testing.T) {
	reg := engine.NewRegistry(nil)
	backend := newFakeJS()
	require.NoError(t, reg.Register("js", backend, 0))

	cfg := config.CacheConfig{
		MaxEphemeralEntries:   500,
		AsyncFlushThreshold:   64,
		ReclaimWorkers:        2,
		ReclaimQueueDepth:     16,
		DefaultFlushMode:      "sync",
		CompileTimeoutSeconds: 3,
	}
	engCfg := config.EngineConfig{DefaultEngine: "js"}
	c := New(cfg, engCfg, reg, noopMapper{}, nil, NewMetrics(nil), nil)

	_, err := c.CompileAndStore(context.Background(), []byte("#!js flags=no-writes\nreturn 1"), ports.Request{}, Ephemeral)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, backend.lastCompileTTL)
}

func randomBody(i int) string {
	return "return " + strconv.Itoa(i)
}
