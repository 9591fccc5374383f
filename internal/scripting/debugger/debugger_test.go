package debugger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
)

type fakeLineHooked struct {
	hook func(line int, host engine.LineHost)
}

func (f *fakeLineHooked) SetLineHook(hook func(line int, host engine.LineHost)) { f.hook = hook }

func testDebuggerConfig() config.DebuggerConfig {
	return config.DebuggerConfig{ReadTimeoutSeconds: 1, BreakpointCapacity: 64, DefaultMaxLen: 60, ChildFlag: "--debug-child"}
}

func TestDebuggerStartSynchronousArmsLineHook(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeLineHooked{}

	proceed, err := d.Start(context.Background(), ports.DebugSync, conn, []string{"a"}, hooked, nil, ports.Request{})
	require.NoError(t, err)
	assert.True(t, proceed)
	assert.True(t, d.Active())
	assert.NotNil(t, hooked.hook)
}

func TestDebuggerStartRejectsSecondConcurrentSession(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeLineHooked{}

	_, err := d.Start(context.Background(), ports.DebugSync, conn, nil, hooked, nil, ports.Request{})
	require.NoError(t, err)

	_, err = d.Start(context.Background(), ports.DebugSync, &fakeConn{}, nil, hooked, nil, ports.Request{})
	assert.Error(t, err)
}

func TestDebuggerEndClearsSingletonAndHook(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeLineHooked{}

	_, err := d.Start(context.Background(), ports.DebugSync, conn, nil, hooked, nil, ports.Request{})
	require.NoError(t, err)

	d.End(hooked)
	assert.False(t, d.Active())
	assert.Nil(t, hooked.hook)
	assert.Contains(t, conn.out.String(), "end of debug session")
}

func TestDebuggerOnLineEntersReplOnBreakpoint(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeLineHooked{}

	_, err := d.Start(context.Background(), ports.DebugSync, conn, []string{"x", "y"}, hooked, nil, ports.Request{})
	require.NoError(t, err)

	d.session.breakpoints.Add(2)
	host := &fakeLineHost{}

	// readCommand on a fakeConn always errors (no reader configured), which
	// exits repl immediately after clearing step-mode/breakpoints — enough to
	// exercise that onLine actually calls into the session's repl loop.
	hooked.hook(2, host)
	assert.Equal(t, 2, d.session.currentLine)
}

func TestDebuggerOnLineEntersReplOnInScriptBreakpointRequest(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeLineHooked{}

	_, err := d.Start(context.Background(), ports.DebugSync, conn, []string{"x", "y"}, hooked, nil, ports.Request{})
	require.NoError(t, err)

	host := &fakeLineHost{}

	// No breakpoint and no step-mode: a line hook call should return
	// immediately without entering the REPL.
	hooked.hook(1, host)
	assert.Equal(t, 1, d.session.currentLine)

	// An in-script breakpoint() request arms a transient break that the very
	// next line hook call consumes and clears.
	d.requestBreakNext()
	hooked.hook(2, host)
	assert.Equal(t, 2, d.session.currentLine)
	assert.False(t, d.session.breakNext)
}

type fakeBreakRequester struct {
	*fakeLineHooked
	breakHook func()
}

func (f *fakeBreakRequester) SetBreakRequestHook(hook func()) { f.breakHook = hook }

func TestDebuggerSetsBreakRequestHookWhenBackendImplementsIt(t *testing.T) {
	d := New(testDebuggerConfig(), nil, nil)
	conn := &fakeConn{}
	hooked := &fakeBreakRequester{fakeLineHooked: &fakeLineHooked{}}

	_, err := d.Start(context.Background(), ports.DebugSync, conn, nil, hooked, nil, ports.Request{})
	require.NoError(t, err)
	require.NotNil(t, hooked.breakHook)

	hooked.breakHook()
	assert.True(t, d.session.breakNext)

	d.End(hooked)
	assert.Nil(t, hooked.breakHook)
}

func TestDebuggerStartForkedReturnsWithoutProceeding(t *testing.T) {
	reexec := func(conn ports.Connection) (int, error) { return 4242, nil }
	d := New(testDebuggerConfig(), reexec, nil)
	conn := &fakeConn{}

	proceed, err := d.Start(context.Background(), ports.DebugForked, conn, nil, nil, nil, ports.Request{})
	require.NoError(t, err)
	assert.False(t, proceed)
	assert.False(t, d.Active())
	assert.Equal(t, []int{4242}, d.Reaper().Pids())
}

func TestDebuggerKillAllClearsReaperAndIncrementsMetric(t *testing.T) {
	reexec := func(conn ports.Connection) (int, error) { return 4242, nil }
	d := New(testDebuggerConfig(), reexec, nil)
	conn := &fakeConn{}

	_, err := d.Start(context.Background(), ports.DebugForked, conn, nil, nil, nil, ports.Request{})
	require.NoError(t, err)

	before := testutil.ToFloat64(d.metrics.killedChildren)
	d.KillAll()
	assert.Empty(t, d.Reaper().Pids())
	assert.Equal(t, before+1, testutil.ToFloat64(d.metrics.killedChildren))
}
