// Package jsengine is the built-in "js" scripting back-end: a goja
// (pure-Go JavaScript) runtime per call, grounded on the teacher's
// gojaScriptEngine/TEEExecutor pattern of creating a fresh goja.Runtime per
// invocation for isolation and injecting KEYS/ARGV/host-command bindings as
// globals.
package jsengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Name is the engine name this back-end registers under.
const Name = "js"

type ctxKey int

const debugArmedKey ctxKey = iota

// WithDebugArmed marks ctx so that Compile instruments the source with
// per-line hook calls for an active or armed debugger session.
func WithDebugArmed(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugArmedKey, true)
}

func isDebugArmed(ctx context.Context) bool {
	v, _ := ctx.Value(debugArmedKey).(bool)
	return v
}

// compiledProgram is the Compiled handle this back-end produces: a reusable
// *goja.Program plus bookkeeping needed for debugger source listing and
// library-mode dispatch.
type compiledProgram struct {
	program      *goja.Program
	sourceLines  []string
	functionName string // non-empty only for SubsystemLibrary handles
	byteSize     int64
}

// Engine is the built-in JavaScript back-end. One Engine instance is shared
// across all calls; per-call isolation comes from creating a fresh
// goja.Runtime inside Call.
type Engine struct {
	mu          sync.Mutex
	lineHook    func(line int, host engine.LineHost)
	breakHook   func()
	totalBytes  int64
	compiledCnt int64
}

// New constructs the built-in js back-end.
func New() *Engine {
	return &Engine{}
}

// SetLineHook implements engine.LineHooked. Only one debugger session is
// ever active process-wide (spec.md §5), so a single hook slot suffices.
func (e *Engine) SetLineHook(hook func(line int, host engine.LineHost)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lineHook = hook
}

func (e *Engine) currentLineHook() func(line int, host engine.LineHost) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lineHook
}

// SetBreakRequestHook implements engine.BreakRequester: it wires the
// script-visible breakpoint() global (set up in Call) to the debugger's
// transient next-line break.
func (e *Engine) SetBreakRequestHook(hook func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakHook = hook
}

func (e *Engine) currentBreakHook() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breakHook
}

// vmLineHost adapts a live goja.Runtime to engine.LineHost for the duration
// of a single Call, giving the debugger's REPL commands a real (if
// approximate — see DESIGN.md) window into the running script.
type vmLineHost struct {
	vm *goja.Runtime
}

func (h vmLineHost) Eval(code string) (interface{}, error) {
	v, err := h.vm.RunString(code)
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	return v.Export(), nil
}

func (h vmLineHost) Globals() map[string]interface{} {
	out := make(map[string]interface{})
	obj := h.vm.GlobalObject()
	for _, k := range obj.Keys() {
		out[k] = obj.Get(k).Export()
	}
	return out
}

func (h vmLineHost) Abort(reason string) {
	panic(h.vm.ToValue(reason))
}

// Compile parses code (already stripped of its header line) into a reusable
// program. SubsystemAdHoc always yields exactly one handle; SubsystemLibrary
// executes a bootstrap pass that records every name passed to the global
// register_function(name, fn) call and returns one handle per name, all
// sharing the same compiled program.
func (e *Engine) Compile(ctx context.Context, subsystem engine.Subsystem, code []byte, timeout time.Duration) ([]engine.Compiled, error) {
	lines := splitLines(code)
	instrument := isDebugArmed(ctx)
	var source string
	if subsystem == engine.SubsystemLibrary {
		source = instrumentLines(lines, instrument)
	} else {
		source = wrapAdHocSource(lines, instrument)
	}

	program, err := goja.Compile(scriptName(subsystem), source, true)
	if err != nil {
		return nil, scripterr.CompileError(Name, err)
	}

	cp := &compiledProgram{program: program, sourceLines: lines, byteSize: int64(len(code))}

	e.mu.Lock()
	e.totalBytes += cp.byteSize
	e.compiledCnt++
	e.mu.Unlock()

	if subsystem == engine.SubsystemAdHoc {
		return []engine.Compiled{cp}, nil
	}

	names, err := discoverLibraryFunctions(program)
	if err != nil {
		return nil, scripterr.CompileError(Name, err)
	}
	if len(names) == 0 {
		return nil, scripterr.CompileError(Name, fmt.Errorf("library registers no functions"))
	}
	handles := make([]engine.Compiled, 0, len(names))
	for _, n := range names {
		handles = append(handles, &compiledProgram{program: program, sourceLines: lines, functionName: n, byteSize: cp.byteSize})
	}
	return handles, nil
}

func scriptName(subsystem engine.Subsystem) string {
	if subsystem == engine.SubsystemLibrary {
		return "library"
	}
	return "script"
}

// Call runs a compiled program in a fresh runtime, injecting KEYS/ARGV and a
// host-command binding backed by rt.
func (e *Engine) Call(ctx context.Context, rt engine.ServerRuntime, caller ports.Request, compiled engine.Compiled, subsystem engine.Subsystem, keys, args []string) (ports.Reply, error) {
	cp, ok := compiled.(*compiledProgram)
	if !ok {
		return nil, scripterr.RuntimeError(fmt.Errorf("js engine: unexpected compiled handle type %T", compiled))
	}

	vm := goja.New()

	keysVal := make([]interface{}, len(keys))
	for i, k := range keys {
		keysVal[i] = k
	}
	argsVal := make([]interface{}, len(args))
	for i, a := range args {
		argsVal[i] = a
	}
	if err := vm.Set("KEYS", keysVal); err != nil {
		return nil, scripterr.RuntimeError(err)
	}
	if err := vm.Set("ARGV", argsVal); err != nil {
		return nil, scripterr.RuntimeError(err)
	}

	if hook := e.currentLineHook(); hook != nil {
		host := vmLineHost{vm: vm}
		if err := vm.Set("__dbg_line", func(n int) { hook(n, host) }); err != nil {
			return nil, scripterr.RuntimeError(err)
		}
	} else {
		// Instrumented source calls __dbg_line unconditionally; provide a
		// no-op so uninstrumented runs never fail when no session is active.
		_ = vm.Set("__dbg_line", func(int) {})
	}

	// breakpoint() is the in-script call a running program uses to request a
	// transient break on the debugger's next line, independent of the
	// breakpoint array (spec.md §3, §4.3). A no-op outside an armed session.
	if breakHook := e.currentBreakHook(); breakHook != nil {
		_ = vm.Set("breakpoint", func() { breakHook() })
	} else {
		_ = vm.Set("breakpoint", func() {})
	}

	if rt != nil {
		_ = vm.Set("call", func(c goja.FunctionCall) goja.Value {
			cmd, cmdArgs := splitCommand(c.Arguments)
			reply, err := rt.Call(ctx, caller, cmd, cmdArgs)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return vm.ToValue(reply)
		})
	}

	var registered map[string]goja.Callable
	if subsystem == engine.SubsystemLibrary {
		registered = make(map[string]goja.Callable)
		_ = vm.Set("register_function", func(c goja.FunctionCall) goja.Value {
			if len(c.Arguments) < 2 {
				return goja.Undefined()
			}
			if fn, ok := goja.AssertFunction(c.Arguments[1]); ok {
				registered[c.Arguments[0].String()] = fn
			}
			return goja.Undefined()
		})
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	if _, err := vm.RunProgram(cp.program); err != nil {
		return nil, scripterr.RuntimeError(err)
	}

	var result goja.Value
	var err error
	if subsystem == engine.SubsystemLibrary && cp.functionName != "" {
		fn, ok := registered[cp.functionName]
		if !ok {
			return nil, scripterr.RuntimeError(fmt.Errorf("function '%s' not found", cp.functionName))
		}
		result, err = fn(goja.Undefined(), vm.ToValue(keysVal), vm.ToValue(argsVal))
	} else {
		result = vm.Get("__scriptlayer_result")
	}
	if err != nil {
		return nil, scripterr.RuntimeError(err)
	}
	if result == nil || goja.IsUndefined(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// Free drops any back-end-held resources for compiled. The js engine holds
// no native state beyond Go-GC'd objects, so this only updates accounting.
func (e *Engine) Free(ctx context.Context, subsystem engine.Subsystem, compiled engine.Compiled) {
	cp, ok := compiled.(*compiledProgram)
	if !ok {
		return
	}
	e.mu.Lock()
	e.totalBytes -= cp.byteSize
	if e.totalBytes < 0 {
		e.totalBytes = 0
	}
	e.mu.Unlock()
}

// MemoryOverhead reports the source size backing a compiled handle.
func (e *Engine) MemoryOverhead(compiled engine.Compiled) int64 {
	if cp, ok := compiled.(*compiledProgram); ok {
		return cp.byteSize
	}
	return 0
}

// ResetEnv for the js engine is synchronous: there is no persistent native
// environment, so it always completes inline.
func (e *Engine) ResetEnv(ctx context.Context, async bool) (engine.Teardown, error) {
	e.mu.Lock()
	e.totalBytes = 0
	e.compiledCnt = 0
	e.mu.Unlock()
	return nil, nil
}

// MemoryInfo reports this back-end's aggregate compiled-program footprint.
func (e *Engine) MemoryInfo(ctx context.Context, subsystem engine.Subsystem) engine.MemoryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.MemoryInfo{UsedBytes: e.totalBytes}
}

// SourceLines returns the pre-split source lines of a compiled handle, used
// by the debugger's [l]ist/[w]hole commands.
func SourceLines(compiled engine.Compiled) []string {
	if cp, ok := compiled.(*compiledProgram); ok {
		return cp.sourceLines
	}
	return nil
}

func splitLines(code []byte) []string {
	raw := strings.Split(string(code), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		out = append(out, strings.TrimRight(l, "\r"))
	}
	return out
}

// wrapAdHocSource turns the user's body into a program that stores its
// reply in __scriptlayer_result. A body that parses as a plain program is
// run through eval, which yields its completion value; a body that does not
// (a Lua-style top-level "return ...") becomes a JS IIFE taking (KEYS, ARGV)
// whose return value is the reply. It is optionally instrumented
// with a __dbg_line(n) call ahead of every non-blank source line so the
// back-end satisfies the debugger's per-line hook contract without
// requiring VM-level execution hooks goja does not expose.
func wrapAdHocSource(lines []string, instrument bool) string {
	body := instrumentLines(lines, instrument)
	if _, err := goja.Compile("", body, true); err == nil {
		quoted, _ := json.Marshal(body)
		return "var __scriptlayer_result = eval(" + string(quoted) + ");\n"
	}
	return "var __scriptlayer_result = (function(KEYS, ARGV) {\n" + body + "\n})(KEYS, ARGV);\n"
}

// instrumentLines joins source lines back together, optionally prefixing
// each non-blank line with a __dbg_line(n) call.
func instrumentLines(lines []string, instrument bool) string {
	var body strings.Builder
	for i, line := range lines {
		if instrument && strings.TrimSpace(line) != "" {
			fmt.Fprintf(&body, "__dbg_line(%d);\n", i+1)
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	return body.String()
}

func splitCommand(vals []goja.Value) (string, []string) {
	if len(vals) == 0 {
		return "", nil
	}
	cmd := vals[0].String()
	args := make([]string, 0, len(vals)-1)
	for _, v := range vals[1:] {
		args = append(args, v.String())
	}
	return cmd, args
}

// discoverLibraryFunctions runs program in a throwaway runtime with a
// register_function stub to enumerate the names a library registers
// (SubsystemLibrary's compile-time effect named in spec.md §4.2).
func discoverLibraryFunctions(program *goja.Program) ([]string, error) {
	vm := goja.New()
	var names []string
	_ = vm.Set("register_function", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			names = append(names, call.Arguments[0].String())
		}
		return goja.Undefined()
	})
	if _, err := vm.RunProgram(program); err != nil {
		return nil, err
	}
	return names, nil
}
