// Package ports declares the external interfaces named in spec.md §6: the
// seams through which this core consumes wire-protocol dispatch, host
// command issuance, and the surrounding store's flag translation — all of
// which are explicitly out of scope for this subsystem (spec.md §1).
package ports

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
)

// Request is the caller-supplied execution request: a script identified by
// body or digest, its key/argument vectors, and the base flags of the
// command that invoked it.
type Request struct {
	ClientID   string
	Digest     string // empty when the program is identified by Body
	Body       []byte // empty when the program is identified by Digest
	NumKeys    int
	Keys       []string
	Args       []string
	BaseFlags  flags.CommandFlags
	ReadOnly   bool
	DebugArmed DebugMode
}

// DebugMode mirrors SCRIPT DEBUG's three settings.
type DebugMode int

const (
	DebugOff DebugMode = iota
	DebugSync
	DebugForked
)

// Reply is an opaque value the back-end or debugger produces for the
// client; its concrete shape is owned by the external wire-protocol layer.
type Reply any

// Connection abstracts the client's duplex wire connection well enough for
// the debugger to drive a REPL over it and, for forked sessions, to re-exec
// a child process that inherits the same socket.
type Connection interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	// File returns a duplicated *os.File backing this connection, suitable
	// for handing to exec.Cmd.ExtraFiles so a re-exec'd child can rebuild a
	// net.Conn from the inherited descriptor.
	File() (*os.File, error)
	Close() error
}

// HostCommandInvoker lets an engine back-end (or the debugger's
// [v]alkey/[r]edis REPL command) issue a host command on behalf of a caller,
// attributed to either the caller itself or an engine's fake-client.
type HostCommandInvoker interface {
	Call(ctx context.Context, caller Request, cmd string, args []string) (Reply, error)
}

// CommandFlagMapper is the fixed mapping supplied by the surrounding system
// that translates a non-compat script flag set into command flags
// (spec.md §4.1). It satisfies flags.Mapper.
type CommandFlagMapper interface {
	flags.Mapper
}

// LibraryManager detaches any named-function libraries belonging to an
// engine on unregistration (spec.md §4.2).
type LibraryManager interface {
	DetachEngine(ctx context.Context, engineName string) error
}
