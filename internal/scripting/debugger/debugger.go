// Package debugger is the interactive line-level session (component E):
// forked-or-synchronous lifecycle, breakpoints, stepping, value dumps, RESP
// pretty-printing, and forked-child reaping, all driven over the same
// client connection used for normal requests.
package debugger

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
	"github.com/R3E-Network/scriptlayer/pkg/logger"
)

// Debugger is the process-singleton state of spec.md §3: at most one
// session is active at a time, mutated only from the main request-dispatch
// thread except for the reaper's pid list, which a supervision loop may read
// concurrently.
type Debugger struct {
	mu      sync.Mutex
	active  bool
	session *Session

	cfg     config.DebuggerConfig
	reaper  *childReaper
	log     *logger.Logger
	reexec  ReexecFunc
	metrics *Metrics
}

// ReexecFunc spawns a child process that inherits conn's file descriptor and
// resumes a forked debugger session there, returning the child's pid. nil
// disables forked sessions: Start then runs a DebugForked request as a
// synchronous session.
type ReexecFunc func(conn ports.Connection) (pid int, err error)

// New builds a Debugger bound by cfg. reexec may be nil if the host process
// doesn't support forked sessions (spec.md §9's "systems without fork").
func New(cfg config.DebuggerConfig, reexec ReexecFunc, log *logger.Logger) *Debugger {
	return NewWithMetrics(cfg, reexec, NewMetrics(nil), log)
}

// NewWithMetrics is New plus an explicit Metrics instance, for callers that
// want the debugger's gauges/counters registered into a shared
// prometheus.Registerer (spec.md §2.5).
func NewWithMetrics(cfg config.DebuggerConfig, reexec ReexecFunc, metrics *Metrics, log *logger.Logger) *Debugger {
	if log == nil {
		log = logger.NewDefault("debugger")
	} else {
		log = log.Named("debugger")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Debugger{cfg: cfg, reaper: newChildReaper(), reexec: reexec, log: log, metrics: metrics}
}

// Active reports whether a session currently owns the debugger singleton.
func (d *Debugger) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Reaper exposes the forked-child pid tracker so the surrounding
// process-supervision loop can reap them (spec.md §4.3).
func (d *Debugger) Reaper() *childReaper { return d.reaper }

// KillAll SIGKILLs every tracked forked-session child, the counterpart a
// supervision loop calls on shutdown. It counts the pids before reaping them
// since childReaper.KillAll clears its list.
func (d *Debugger) KillAll() {
	n := len(d.reaper.Pids())
	d.reaper.KillAll()
	if n > 0 {
		d.metrics.killedChildren.Add(float64(n))
	}
}

// Start implements spec.md §4.3's session lifecycle. mode selects forked vs
// synchronous; sourceLines is the pre-split program source. proceed is false
// only for the forked-parent path (the caller must abort the current
// command and let the re-exec'd child carry on) or when starting failed.
func (d *Debugger) Start(ctx context.Context, mode ports.DebugMode, conn ports.Connection, sourceLines []string, hookTarget engine.LineHooked, invoker ports.HostCommandInvoker, caller ports.Request) (proceed bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return false, errAlreadyActive
	}

	if mode == ports.DebugForked && d.reexec != nil {
		pid, ferr := d.reexec(conn)
		if ferr != nil {
			return false, resourceErr("fork debugger session", ferr)
		}
		d.reaper.Track(pid)
		_ = conn.Close()
		d.metrics.sessionsTotal.Inc()
		d.log.WithField("child_pid", pid).Info("forked debugger session")
		return false, nil
	}

	sess := newSession(conn, sourceLines, d.cfg, invoker, caller)
	d.session = sess
	d.active = true
	d.metrics.activeSessions.Set(1)
	d.metrics.sessionsTotal.Inc()

	if hookTarget != nil {
		hookTarget.SetLineHook(func(line int, host engine.LineHost) {
			d.onLine(ctx, line, host)
		})
		if br, ok := hookTarget.(engine.BreakRequester); ok {
			br.SetBreakRequestHook(d.requestBreakNext)
		}
	}

	d.log.Info("debugger session started")
	return true, nil
}

// requestBreakNext implements the in-script `breakpoint()` call's effect: it
// arms a one-shot break that onLine consumes (and clears) on its very next
// invocation, independent of the breakpoint array.
func (d *Debugger) requestBreakNext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.breakNext = true
	}
}

// End implements spec.md §4.3's end(client): emit the marker, flush pending
// log lines, and release the singleton.
func (d *Debugger) End(hookTarget engine.LineHooked) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active || d.session == nil {
		return
	}
	d.session.writeLine("--- end of debug session ---")
	d.session.flushLog()
	if hookTarget != nil {
		hookTarget.SetLineHook(nil)
		if br, ok := hookTarget.(engine.BreakRequester); ok {
			br.SetBreakRequestHook(nil)
		}
	}
	d.active = false
	d.session = nil
	d.metrics.activeSessions.Set(0)
}

// onLine is the per-line hook contract of spec.md §4.3: update current line
// and, if step-mode is set, the line matches a breakpoint, or an in-script
// breakpoint() request is pending, enter the REPL. The pending request is
// consumed (cleared) here regardless of outcome, since it is a one-shot,
// transient break independent of the breakpoint array.
func (d *Debugger) onLine(ctx context.Context, line int, host engine.LineHost) {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()
	if sess == nil {
		return
	}

	sess.currentLine = line
	pendingBreak := sess.breakNext
	sess.breakNext = false
	if !sess.stepMode && !pendingBreak && !sess.breakpoints.Has(line) {
		return
	}

	sess.repl(ctx, host)
}

func newSession(conn ports.Connection, sourceLines []string, cfg config.DebuggerConfig, invoker ports.HostCommandInvoker, caller ports.Request) *Session {
	readTimeout := time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	maxLen := cfg.DefaultMaxLen
	if maxLen <= 0 {
		maxLen = 60
	}
	return &Session{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		sourceLines: sourceLines,
		currentLine: 1,
		breakpoints: newBreakpointSet(),
		truncate:    newTruncator(maxLen),
		readTimeout: readTimeout,
		invoker:     invoker,
		caller:      caller,
	}
}
