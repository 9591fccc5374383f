package command

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scriptlayer/internal/scripting/cache"
	"github.com/R3E-Network/scriptlayer/internal/scripting/debugger"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine/jsengine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
)

type noopMapper struct{}

func (noopMapper) Map(s flags.Set) flags.CommandFlags { return flags.CommandFlags{"mapped": true} }

// fakeConn is a minimal ports.Connection that never actually blocks on a
// read, sufficient for exercising the debug-armed code paths without a real
// socket.
type fakeConn struct{ closed bool }

func (f *fakeConn) Read(p []byte) (int, error)     { return 0, fmt.Errorf("fakeConn: no data") }
func (f *fakeConn) Write(p []byte) (int, error)     { return len(p), nil }
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) File() (*os.File, error)         { return nil, fmt.Errorf("fakeConn: no fd") }
func (f *fakeConn) Close() error                    { f.closed = true; return nil }

func newTestService(t *testing.T, bound, asyncThreshold int) *Service {
	t.Helper()
	reg := engine.NewRegistry(nil)
	require.NoError(t, reg.Register(jsengine.Name, jsengine.New(), 0))

	cfg := config.CacheConfig{
		MaxEphemeralEntries: bound,
		AsyncFlushThreshold: asyncThreshold,
		ReclaimWorkers:      2,
		ReclaimQueueDepth:   16,
		DefaultFlushMode:    "sync",
	}
	engCfg := config.EngineConfig{DefaultEngine: jsengine.Name}
	c := cache.New(cfg, engCfg, reg, noopMapper{}, nil, cache.NewMetrics(nil), nil)
	dbg := debugger.New(config.DebuggerConfig{ReadTimeoutSeconds: 5, BreakpointCapacity: 64, DefaultMaxLen: 60}, nil, nil)
	return NewService(c, dbg, noopMapper{}, nil, nil)
}

func TestEvalCompilesAndRuns(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	res, err := s.Eval(ctx, ports.Request{ClientID: "c1", Body: []byte("return 1;")}, nil)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.EqualValues(t, 1, res.Reply)
}

func TestEvalShaNeverCompiles(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	_, err := s.EvalSha(ctx, ports.Request{Digest: strings.Repeat("a", 40)}, nil)
	require.Error(t, err)
}

func TestDigestNormalizationCaseInsensitive(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	d, err := s.ScriptLoad(ctx, []byte("return 1;"))
	require.NoError(t, err)

	_, err = s.EvalSha(ctx, ports.Request{Digest: strings.ToUpper(d)}, nil)
	require.NoError(t, err)
}

func TestScriptLoadThenExistsAndShow(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	d, err := s.ScriptLoad(ctx, []byte("return 1;"))
	require.NoError(t, err)

	exists := s.ScriptExists([]string{d, strings.Repeat("f", 40), "short"})
	assert.Equal(t, []bool{true, false, false}, exists)

	body, err := s.ScriptShow(d)
	require.NoError(t, err)
	assert.Equal(t, "return 1;", string(body))
}

func TestScriptFlushIsolatesSubsequentExists(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	var digests []string
	for i := 0; i < 5; i++ {
		d, err := s.ScriptLoad(ctx, []byte(fmt.Sprintf("return %d;", i)))
		require.NoError(t, err)
		digests = append(digests, d)
	}

	require.NoError(t, s.ScriptFlush(ctx, "SYNC"))
	for _, ok := range s.ScriptExists(digests) {
		assert.False(t, ok)
	}
}

func TestScriptFlushRejectsUnknownMode(t *testing.T) {
	s := newTestService(t, 500, 64)
	err := s.ScriptFlush(context.Background(), "BOGUS")
	require.Error(t, err)
}

func TestBadDigestLengthFailsFast(t *testing.T) {
	s := newTestService(t, 500, 64)
	_, err := s.EvalSha(context.Background(), ports.Request{Digest: "abc"}, nil)
	require.Error(t, err)
}

func TestUnknownEngineHeaderDoesNotInsert(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	_, err := s.Eval(ctx, ports.Request{ClientID: "c1", Body: []byte("#!xyz\nreturn 1;")}, nil)
	require.Error(t, err)
}

func TestScriptDebugArmsSyncSessionForNextEval(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	require.NoError(t, s.ScriptDebug("c1", "SYNC"))
	conn := &fakeConn{}

	res, err := s.Eval(ctx, ports.Request{ClientID: "c1", Body: []byte("return 1;")}, conn)
	require.NoError(t, err)
	assert.False(t, res.Aborted)

	// Arming is consumed by the first EVAL.
	res2, err := s.Eval(ctx, ports.Request{ClientID: "c1", Body: []byte("return 2;")}, nil)
	require.NoError(t, err)
	assert.False(t, res2.Aborted)
}

func TestScriptDebugNoDisarms(t *testing.T) {
	s := newTestService(t, 500, 64)
	require.NoError(t, s.ScriptDebug("c1", "YES"))
	require.NoError(t, s.ScriptDebug("c1", "NO"))
	assert.Equal(t, ports.DebugOff, s.debugModeFor("c1"))
}

func TestReadOnlyFlagDoesNotMutateSharedBaseFlags(t *testing.T) {
	s := newTestService(t, 500, 64)
	ctx := context.Background()

	base := flags.CommandFlags{"base": true}
	req := ports.Request{ClientID: "c1", Body: []byte("return 1;"), BaseFlags: base}

	res, err := s.EvalRO(ctx, req, nil)
	require.NoError(t, err)
	assert.True(t, res.CommandFlags["read-only"])
	_, stillOnlyBase := base["read-only"]
	assert.False(t, stillOnlyBase, "EvalRO must not mutate the caller's shared base flags map")
}
