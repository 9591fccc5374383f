package scripterr

import (
	"errors"
	"testing"
)

func TestScriptErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *ScriptError
		want string
	}{
		{
			name: "without underlying error",
			err:  New(CodeBadHeader, "syntax error in shebang: missing newline"),
			want: "syntax error in shebang: missing newline",
		},
		{
			name: "with underlying error",
			err:  Wrap(CodeRuntimeError, "boom", errors.New("stack overflow")),
			want: "boom: stack overflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScriptErrorUnwrap(t *testing.T) {
	underlying := errors.New("underlying")
	err := Wrap(CodeCompileError, "compile failed", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestBadDigestMatchesNoSuchScriptText(t *testing.T) {
	bad := BadDigest("not-40-hex")
	noSuch := NoSuchScript()

	if bad.Message != noSuch.Message {
		t.Errorf("BadDigest().Message = %q, want %q (spec.md §4.1: bad-length digests fail fast as no-such-script)", bad.Message, noSuch.Message)
	}
	if bad.Code == noSuch.Code {
		t.Errorf("BadDigest().Code and NoSuchScript().Code must stay distinct for logging/metrics, got both %v", bad.Code)
	}
}

func TestScriptMissingMatchesNoSuchScriptTextWithDistinctCode(t *testing.T) {
	missing := ScriptMissing()
	noSuch := NoSuchScript()

	if missing.Message != noSuch.Message {
		t.Errorf("ScriptMissing().Message = %q, want %q", missing.Message, noSuch.Message)
	}
	if missing.Code != CodeScriptMissing {
		t.Errorf("Code = %v, want %v", missing.Code, CodeScriptMissing)
	}
	if missing.Code == noSuch.Code {
		t.Errorf("ScriptMissing().Code and NoSuchScript().Code must stay distinct, got both %v", missing.Code)
	}
}

func TestBadHeaderIncludesReason(t *testing.T) {
	err := BadHeader("missing newline")
	want := "syntax error in shebang: missing newline"
	if err.Message != want {
		t.Errorf("BadHeader().Message = %q, want %q", err.Message, want)
	}
	if err.Code != CodeBadHeader {
		t.Errorf("Code = %v, want %v", err.Code, CodeBadHeader)
	}
}

func TestUnknownEngineIncludesName(t *testing.T) {
	err := UnknownEngine("lua")
	want := "unknown engine 'lua'"
	if err.Message != want {
		t.Errorf("UnknownEngine().Message = %q, want %q", err.Message, want)
	}
}

func TestCompileErrorWrapsCause(t *testing.T) {
	cause := errors.New("unexpected token")
	err := CompileError("js", cause)

	if err.Code != CodeCompileError {
		t.Errorf("Code = %v, want %v", err.Code, CodeCompileError)
	}
	if err.Err != cause {
		t.Errorf("Err = %v, want %v", err.Err, cause)
	}
}

func TestRuntimeErrorPreservesCauseText(t *testing.T) {
	cause := errors.New("division by zero")
	err := RuntimeError(cause)

	if err.Message != cause.Error() {
		t.Errorf("Message = %v, want %v", err.Message, cause.Error())
	}
}

func TestResourceErrorWrapsCause(t *testing.T) {
	cause := errors.New("fork failed")
	err := ResourceError("fork debugger session", cause)

	if err.Code != CodeResourceError {
		t.Errorf("Code = %v, want %v", err.Code, CodeResourceError)
	}
	if !errors.Is(err, err) {
		t.Errorf("errors.Is(err, err) = false, want true")
	}
}
