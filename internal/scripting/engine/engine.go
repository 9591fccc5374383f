// Package engine is the scripting-engine registry (component C): a
// pluggable abstraction over independent language back-ends behind a
// uniform compile/call/free/reset/memory-report lifecycle.
package engine

import (
	"context"
	"time"

	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
)

// Subsystem distinguishes the two execution modes a back-end supports.
type Subsystem int

const (
	// SubsystemAdHoc is EVAL-style execution: exactly one compiled handle
	// per Compile call.
	SubsystemAdHoc Subsystem = iota
	// SubsystemLibrary is FUNCTION-style named-library loading: Compile may
	// return multiple compiled handles.
	SubsystemLibrary
)

// Compiled is an opaque handle a back-end produces from Compile and
// consumes in Call/Free/MemoryOverhead. The registry never inspects it.
type Compiled any

// Teardown is the continuation ResetEnv hands back when it opts into
// asynchronous teardown; nil means the reset already completed inline.
type Teardown func()

// MemoryInfo reports a back-end's memory usage for a subsystem.
type MemoryInfo struct {
	UsedBytes     int64
	OverheadBytes int64
}

// ServerRuntime is the capability a back-end uses to issue host commands on
// its own behalf while running a caller's program.
type ServerRuntime = ports.HostCommandInvoker

// Backend is the uniform vtable every language back-end must supply.
type Backend interface {
	// Compile parses and prepares code for execution. For SubsystemAdHoc it
	// returns exactly one Compiled handle.
	Compile(ctx context.Context, subsystem Subsystem, code []byte, timeout time.Duration) ([]Compiled, error)
	// Call invokes a previously compiled program with the caller's key and
	// argument vectors.
	Call(ctx context.Context, rt ServerRuntime, caller ports.Request, compiled Compiled, subsystem Subsystem, keys, args []string) (ports.Reply, error)
	// Free releases a compiled handle, e.g. on cache eviction.
	Free(ctx context.Context, subsystem Subsystem, compiled Compiled)
	// MemoryOverhead reports the incremental memory a compiled handle holds.
	MemoryOverhead(compiled Compiled) int64
	// ResetEnv discards any persistent execution environment. When async is
	// true and the back-end has async state to tear down, it returns a
	// Teardown continuation instead of blocking.
	ResetEnv(ctx context.Context, async bool) (Teardown, error)
	// MemoryInfo reports aggregate used/overhead bytes for a subsystem.
	MemoryInfo(ctx context.Context, subsystem Subsystem) MemoryInfo
}

// LineHost is the live-call capability a back-end hands to the debugger's
// per-line hook: enough to satisfy the [e]val/[p]rint/[a]bort REPL commands
// (spec.md §4.3) without the debugger needing to know anything about the
// back-end's internal runtime representation.
type LineHost interface {
	// Eval compiles and runs a fragment of code in the current call's live
	// environment, returning its value.
	Eval(code string) (interface{}, error)
	// Globals returns a snapshot of the bindings visible at the point of the
	// hook call, approximating "locals at frame 0" for back-ends (like the
	// built-in js engine) whose top-level script scope isn't the JS global
	// object.
	Globals() map[string]interface{}
	// Abort raises reason as an error in the back-end, terminating the call.
	Abort(reason string)
}

// LineHooked is implemented by back-ends that can deliver per-source-line
// callbacks to a debugger session (spec.md §4.3's hook contract). Back-ends
// that can't instrument source (because their language has no concept of
// lines, say) simply don't implement this.
type LineHooked interface {
	SetLineHook(hook func(line int, host LineHost))
}

// BreakRequester is implemented by back-ends that expose an in-script
// `breakpoint()` call to the running program. The hook registered here is
// invoked synchronously from within the call, and arms a transient,
// one-shot break on the debugger's very next per-line hook call,
// independent of the breakpoint array (spec.md §3's "in-script-break flag",
// §4.3's "breakpoint() sets a transient next-line break").
type BreakRequester interface {
	SetBreakRequestHook(hook func())
}

// ModuleCallScope is acquired by the registry around every vtable dispatch
// that originates from a module-owned engine, and released unconditionally
// on return — a scoped acquisition with guaranteed release on all exit
// paths (spec.md §4.2).
type ModuleCallScope interface {
	Acquire(ctx context.Context, caller ports.Request) (release func(), err error)
}

// Descriptor is the tuple spec.md's data model calls an "engine descriptor".
type Descriptor struct {
	Name       string
	Owner      string // empty for built-in engines, else the loading module's name
	Backend    Backend
	FakeClient ports.Request
	CallScope  ModuleCallScope // non-nil iff module-contributed
}

// IsModule reports whether this descriptor was contributed by a module.
func (d *Descriptor) IsModule() bool { return d.Owner != "" }
