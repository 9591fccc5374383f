package debugger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
)

// Session is the per-connection debugger state described in spec.md §3,
// owned exclusively by the Debugger singleton while active.
type Session struct {
	conn        ports.Connection
	reader      *bufio.Reader
	readTimeout time.Duration

	sourceLines []string
	currentLine int

	breakpoints *breakpointSet
	stepMode    bool
	breakNext   bool

	truncate   *truncator
	pendingLog []string

	host    engine.LineHost
	invoker ports.HostCommandInvoker
	caller  ports.Request
	ctx     context.Context
}

func (s *Session) writeLine(line string) {
	trimmed, hint := s.truncate.Apply(line)
	s.pendingLog = append(s.pendingLog, trimmed)
	if hint != "" {
		s.pendingLog = append(s.pendingLog, hint)
	}
	fmt.Fprintln(s.conn, trimmed)
	if hint != "" {
		fmt.Fprintln(s.conn, hint)
	}
}

func (s *Session) flushLog() { s.pendingLog = nil }

// readCommand blocks on the connection up to readTimeout. On short read,
// timeout, or peer close, the REPL clears step-mode and breakpoints and
// returns to the back-end so the program completes without interaction
// (spec.md §5's "suspension points" rule).
func (s *Session) readCommand() (string, bool) {
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(timeNow().Add(s.readTimeout))
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.stepMode = false
		s.breakpoints.Clear()
		return "", false
	}
	return strings.TrimSpace(line), true
}

// timeNow is indirected so tests can avoid real wall-clock dependence if
// ever needed; always time.Now in production.
func timeNow() time.Time { return time.Now() }

// repl drives spec.md §4.3's REPL loop: read one framed command, dispatch,
// repeat until a command returns control to the back-end ([s]tep/[c]ontinue)
// or the connection is lost.
func (s *Session) repl(ctx context.Context, host engine.LineHost) {
	s.host = host
	s.ctx = ctx
	for {
		cmd, ok := s.readCommand()
		if !ok {
			return
		}
		if cmd == "" {
			continue
		}
		if s.dispatch(cmd) {
			return
		}
	}
}

// dispatch runs one REPL command and reports whether the REPL loop should
// return control to the back-end.
func (s *Session) dispatch(line string) bool {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch {
	case matchesAlias(name, "help", "h"):
		s.cmdHelp()
	case matchesAlias(name, "step", "s") || matchesAlias(name, "next", "n"):
		s.stepMode = true
		return true
	case matchesAlias(name, "continue", "c"):
		s.stepMode = false
		return true
	case matchesAlias(name, "list", "l"):
		s.cmdList(args)
	case matchesAlias(name, "whole", "w"):
		s.cmdWhole()
	case matchesAlias(name, "print", "p"):
		s.cmdPrint(args)
	case matchesAlias(name, "break", "b"):
		s.cmdBreak(args)
	case matchesAlias(name, "trace", "t"):
		s.cmdTrace()
	case matchesAlias(name, "eval", "e"):
		s.cmdEval(strings.Join(args, " "))
	case matchesAlias(name, "valkey", "v") || matchesAlias(name, "redis", "r"):
		s.cmdHostCommand(args)
	case matchesAlias(name, "maxlen", "m"):
		s.cmdMaxLen(args)
	case matchesAlias(name, "abort", "a"):
		s.cmdAbort()
		return true
	default:
		s.writeLine(fmt.Sprintf("unknown command '%s'", name))
	}
	return false
}

// matchesAlias reports whether got is either the full command name or its
// first-letter alias, per spec.md §4.3's command table.
func matchesAlias(got, full, alias string) bool {
	return got == full || got == alias
}

// ResumeChildFromFD reconstructs a ports.Connection from a file descriptor
// inherited via exec.Cmd.ExtraFiles (fd 3 is the first extra file), the
// forked-session child's half of spec.md §4.3's fork substitute.
func ResumeChildFromFD(fd uintptr) (ports.Connection, error) {
	f := os.NewFile(fd, "debug-conn")
	c, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	return &fileConn{Conn: c, file: f}, nil
}

// fileConn adapts a net.Conn (rebuilt from an inherited fd) to
// ports.Connection, whose File() method must hand back a *os.File for a
// further re-exec (not needed once resumed, but kept for interface
// conformance).
type fileConn struct {
	net.Conn
	file *os.File
}

func (f *fileConn) File() (*os.File, error) { return f.file, nil }

// DefaultReexec builds a ReexecFunc that spawns os.Args[0] with childFlag,
// handing conn's duplicated fd over cmd.ExtraFiles — the re-exec substitute
// for fork() described in spec.md §9 (Go's runtime cannot survive a
// continue-in-place fork). Grounded on the pack's self-respawn pattern of
// exec.Command(exe, args...) + cmd.Start() (compare the dev-console
// bridge's daemon-respawn helper).
func DefaultReexec(childFlag string) ReexecFunc {
	return func(conn ports.Connection) (int, error) {
		exe, err := os.Executable()
		if err != nil {
			return 0, err
		}
		f, err := conn.File()
		if err != nil {
			return 0, err
		}
		cmd := exec.Command(exe, childFlag)
		cmd.ExtraFiles = []*os.File{f}
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		return cmd.Process.Pid, nil
	}
}
