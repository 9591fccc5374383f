package jsengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
)

type stubRuntime struct {
	lastCmd  string
	lastArgs []string
	reply    ports.Reply
	err      error
}

func (s *stubRuntime) Call(ctx context.Context, caller ports.Request, cmd string, args []string) (ports.Reply, error) {
	s.lastCmd = cmd
	s.lastArgs = args
	return s.reply, s.err
}

func compileOne(t *testing.T, e *Engine, ctx context.Context, subsystem engine.Subsystem, code string) engine.Compiled {
	t.Helper()
	out, err := e.Compile(ctx, subsystem, []byte(code), time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestAdHocCompileAndCallReturnsCompletionValue(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "1 + 1")

	reply, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply)
}

func TestAdHocKeysAndArgvInjection(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "KEYS[0] + ':' + ARGV[0]")

	reply, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, []string{"mykey"}, []string{"myarg"})
	require.NoError(t, err)
	assert.Equal(t, "mykey:myarg", reply)
}

func TestAdHocCallBindingInvokesHostRuntime(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, `call('get', KEYS[0])`)

	rt := &stubRuntime{reply: "hostvalue"}
	reply, err := e.Call(ctx, rt, ports.Request{ClientID: "c1"}, cp, engine.SubsystemAdHoc, []string{"k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hostvalue", reply)
	assert.Equal(t, "get", rt.lastCmd)
	assert.Equal(t, []string{"k"}, rt.lastArgs)
}

func TestAdHocCallBindingPropagatesHostError(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, `call('badcmd')`)

	rt := &stubRuntime{err: assertErr{"boom"}}
	_, err := e.Call(ctx, rt, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.Error(t, err)
}

type assertErr struct{ msg string }

func (a assertErr) Error() string { return a.msg }

func TestCompileErrorWrapsSyntaxError(t *testing.T) {
	e := New()
	ctx := context.Background()
	_, err := e.Compile(ctx, engine.SubsystemAdHoc, []byte("this is not ) valid js (("), time.Second)
	require.Error(t, err)
}

func TestLibraryCompileDiscoversRegisteredFunctions(t *testing.T) {
	e := New()
	ctx := context.Background()
	code := `
register_function('greet', function(keys, args) { return 'hi ' + args[0]; })
register_function('sum', function(keys, args) { return 1 + 2; })
`
	out, err := e.Compile(ctx, engine.SubsystemLibrary, []byte(code), time.Second)
	require.NoError(t, err)
	require.Len(t, out, 2)

	names := make(map[string]bool)
	for _, h := range out {
		names[h.(*compiledProgram).functionName] = true
	}
	assert.True(t, names["greet"])
	assert.True(t, names["sum"])
}

func TestLibraryCompileNoRegistrationsIsError(t *testing.T) {
	e := New()
	ctx := context.Background()
	_, err := e.Compile(ctx, engine.SubsystemLibrary, []byte("var x = 1;"), time.Second)
	require.Error(t, err)
}

func TestLibraryCallDispatchesNamedFunction(t *testing.T) {
	e := New()
	ctx := context.Background()
	code := `
register_function('greet', function(keys, args) { return 'hi ' + args[0]; })
register_function('farewell', function(keys, args) { return 'bye ' + args[0]; })
`
	out, err := e.Compile(ctx, engine.SubsystemLibrary, []byte(code), time.Second)
	require.NoError(t, err)
	require.Len(t, out, 2)

	var greetHandle engine.Compiled
	for _, h := range out {
		if h.(*compiledProgram).functionName == "greet" {
			greetHandle = h
		}
	}
	require.NotNil(t, greetHandle)

	reply, err := e.Call(ctx, nil, ports.Request{}, greetHandle, engine.SubsystemLibrary, nil, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, "hi alice", reply)
}

func TestDebugArmedInstrumentationInvokesLineHook(t *testing.T) {
	e := New()
	ctx := WithDebugArmed(context.Background())
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "var a = 1;\nvar b = 2;\na + b")

	var lines []int
	e.SetLineHook(func(line int, host engine.LineHost) { lines = append(lines, line) })

	reply, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reply)
	assert.Equal(t, []int{1, 2, 3}, lines)
}

func TestLineHostEvalAndGlobalsDuringHook(t *testing.T) {
	e := New()
	ctx := WithDebugArmed(context.Background())
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "1")

	var evalResult interface{}
	var sawGlobal bool
	e.SetLineHook(func(line int, host engine.LineHost) {
		v, err := host.Eval("1 + 1")
		require.NoError(t, err)
		evalResult = v
		if _, ok := host.Globals()["KEYS"]; ok {
			sawGlobal = true
		}
	})

	_, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evalResult)
	assert.True(t, sawGlobal)
}

func TestBreakpointGlobalInvokesBreakRequestHook(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "breakpoint();")

	called := false
	e.SetBreakRequestHook(func() { called = true })

	_, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestBreakpointGlobalWithNoHookIsNoop(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "breakpoint();")

	_, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
}

func TestUninstrumentedRunNeverCallsLineHook(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "1")

	called := false
	e.SetLineHook(func(line int, host engine.LineHost) { called = true })

	_, err := e.Call(ctx, nil, ports.Request{}, cp, engine.SubsystemAdHoc, nil, nil)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestFreeAndMemoryOverheadAccounting(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "1")

	before := e.MemoryInfo(ctx, engine.SubsystemAdHoc).UsedBytes
	assert.Equal(t, int64(1), e.MemoryOverhead(cp))
	assert.Equal(t, before, e.MemoryInfo(ctx, engine.SubsystemAdHoc).UsedBytes)

	e.Free(ctx, engine.SubsystemAdHoc, cp)
	assert.Equal(t, int64(0), e.MemoryInfo(ctx, engine.SubsystemAdHoc).UsedBytes)
}

func TestSourceLinesReturnsSplitSource(t *testing.T) {
	e := New()
	ctx := context.Background()
	cp := compileOne(t, e, ctx, engine.SubsystemAdHoc, "var a = 1;\nvar b = 2;")

	lines := SourceLines(cp)
	require.Len(t, lines, 2)
	assert.Equal(t, "var a = 1;", lines[0])
	assert.Equal(t, "var b = 2;", lines[1])
}
