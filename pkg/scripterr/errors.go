// Package scripterr provides the error taxonomy for the scripting subsystem.
package scripterr

import "fmt"

// Code identifies a class of scripting error.
type Code string

const (
	// CodeBadDigest: a client-supplied digest was not 40 hex characters.
	CodeBadDigest Code = "NOSCRIPT_BAD_DIGEST"
	// CodeNoSuchScript: digest is well-formed but not present in the cache.
	CodeNoSuchScript Code = "NOSCRIPT"
	// CodeBadHeader: the `#!engine [flags=...]` directive failed to parse.
	CodeBadHeader Code = "BAD_HEADER"
	// CodeUnknownEngine: the header named an engine that isn't registered.
	CodeUnknownEngine Code = "UNKNOWN_ENGINE"
	// CodeCompileError: the back-end rejected the program body.
	CodeCompileError Code = "COMPILE_ERROR"
	// CodeScriptMissing: EVALSHA addressed a digest with no cached entry.
	CodeScriptMissing Code = "SCRIPT_MISSING"
	// CodeResourceError: a host-side resource (fork, socket) could not be obtained.
	CodeResourceError Code = "RESOURCE_ERROR"
	// CodeRuntimeError: the back-end raised during call; reply text is its own.
	CodeRuntimeError Code = "RUNTIME_ERROR"
)

// ScriptError is the error type the public operations in
// internal/scripting/* return; engine.Registry.Unregister is the exception,
// combining its failures with go-multierror.
type ScriptError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ScriptError) Unwrap() error { return e.Err }

// New builds a ScriptError with no wrapped cause.
func New(code Code, message string) *ScriptError {
	return &ScriptError{Code: code, Message: message}
}

// Wrap builds a ScriptError around an existing error.
func Wrap(code Code, message string, err error) *ScriptError {
	return &ScriptError{Code: code, Message: message, Err: err}
}

// BadDigest reports a digest that is not exactly 40 hex characters. Per
// spec.md §4.1 ("non-40-length inputs fail fast with no-such-script before
// cache lookup"), it renders the same client-visible text as NoSuchScript;
// the distinct Code exists so logging/metrics can still tell the two apart.
func BadDigest(got string) *ScriptError {
	return New(CodeBadDigest, "NOSCRIPT No matching script. Please use EVAL.")
}

// NoSuchScript reports a digest well-formed but absent from the cache.
func NoSuchScript() *ScriptError {
	return New(CodeNoSuchScript, "NOSCRIPT No matching script. Please use EVAL.")
}

// ScriptMissing reports spec.md §4.1's script-missing failure mode: a
// request identified by digest (EVALSHA, SCRIPT SHOW) addressed an entry
// that isn't cached. Renders the same client-visible text as NoSuchScript;
// the distinct Code exists so logging/metrics can tell a client-facing
// lookup miss apart from the internal invariant NoSuchScript also guards.
func ScriptMissing() *ScriptError {
	return New(CodeScriptMissing, "NOSCRIPT No matching script. Please use EVAL.")
}

// BadHeader reports a malformed shebang directive.
func BadHeader(reason string) *ScriptError {
	return New(CodeBadHeader, fmt.Sprintf("syntax error in shebang: %s", reason))
}

// UnknownEngine reports a header naming an unregistered engine.
func UnknownEngine(name string) *ScriptError {
	return New(CodeUnknownEngine, fmt.Sprintf("unknown engine '%s'", name))
}

// CompileError wraps a back-end compile diagnostic verbatim.
func CompileError(engine string, cause error) *ScriptError {
	return Wrap(CodeCompileError, fmt.Sprintf("error compiling script (new function): %v", cause), cause)
}

// RuntimeError wraps a back-end runtime diagnostic verbatim.
func RuntimeError(cause error) *ScriptError {
	return Wrap(CodeRuntimeError, cause.Error(), cause)
}

// ResourceError reports a host resource failure (fork, socket) at session start.
func ResourceError(reason string, cause error) *ScriptError {
	return Wrap(CodeResourceError, reason, cause)
}
