package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// cmdHelp implements spec.md §4.3's [h]elp command: a fixed listing of the
// command table, one line per command.
func (s *Session) cmdHelp() {
	for _, line := range []string{
		"h[elp]                 this listing",
		"s[tep] | n[ext]        run the next line, then suspend again",
		"c[ontinue]             run until the next breakpoint or completion",
		"l[ist] [line] [ctx]    show source around line (default: current)",
		"w[hole]                show the whole source",
		"p[rint] [var]          show a global (default: all)",
		"b[reak] [+-]line...    add/remove/list breakpoints ('b 0' clears)",
		"t[race]                show the current line and stepping mode (no backtrace)",
		"e[val] <code>          evaluate code in the running script",
		"v[alkey]|r[edis] ...   issue a command to the host store",
		"m[axlen] [len]         get/set the REPL's line-truncation length",
		"a[bort]                abort the running script",
	} {
		s.writeLine(line)
	}
}

// cmdList implements [l]ist [line] [ctx]: prints up to 2*ctx+1 lines
// (default ctx=5) centered on line (default: currentLine), one-based.
func (s *Session) cmdList(args []string) {
	center := s.currentLine
	radius := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			center = n
		}
	}
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n >= 0 {
			radius = n
		}
	}
	lo := center - radius
	if lo < 1 {
		lo = 1
	}
	hi := center + radius
	if hi > len(s.sourceLines) {
		hi = len(s.sourceLines)
	}
	for i := lo; i <= hi; i++ {
		marker := "  "
		if i == s.currentLine {
			marker = "->"
		}
		s.writeLine(fmt.Sprintf("%s %4d  %s", marker, i, s.sourceLines[i-1]))
	}
}

// cmdWhole implements [w]hole: the entire source, unwindowed.
func (s *Session) cmdWhole() {
	for i, line := range s.sourceLines {
		marker := "  "
		if i+1 == s.currentLine {
			marker = "->"
		}
		s.writeLine(fmt.Sprintf("%s %4d  %s", marker, i+1, line))
	}
}

// cmdPrint implements [p]rint [var]: with no argument, dump every global the
// running back-end exposes; with one, print just that name.
func (s *Session) cmdPrint(args []string) {
	if s.host == nil {
		s.writeLine("(no running script to inspect)")
		return
	}
	globals := s.host.Globals()
	if len(args) == 0 {
		for name, v := range globals {
			s.writeLine(fmt.Sprintf("%s = %s", name, Render(v)))
		}
		return
	}
	name := args[0]
	v, ok := globals[name]
	if !ok {
		s.writeLine(fmt.Sprintf("%s is undefined", name))
		return
	}
	s.writeLine(fmt.Sprintf("%s = %s", name, Render(v)))
}

// cmdBreak implements [b]reak [+-]line...: "b 0" clears every breakpoint,
// a bare number or "+line" adds it, "-line" removes it, and no argument
// lists the current set.
func (s *Session) cmdBreak(args []string) {
	if len(args) == 0 {
		for _, l := range s.breakpoints.List() {
			s.writeLine(strconv.Itoa(l))
		}
		return
	}
	for _, arg := range args {
		if arg == "0" {
			s.breakpoints.Clear()
			continue
		}
		remove := strings.HasPrefix(arg, "-")
		trimmed := strings.TrimLeft(arg, "+-")
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			s.writeLine(fmt.Sprintf("invalid line '%s'", arg))
			continue
		}
		if remove {
			s.breakpoints.Remove(n)
			continue
		}
		if ok, berr := s.breakpoints.Add(n); !ok {
			s.writeLine(berr.Error())
		}
	}
}

// cmdTrace implements [t]race: the current line plus whether step-mode is on.
func (s *Session) cmdTrace() {
	mode := "breakpoints only"
	if s.stepMode {
		mode = "stepping"
	}
	s.writeLine(fmt.Sprintf("line %d (%s)", s.currentLine, mode))
}

// cmdEval implements [e]val <code>: evaluate code against the live runtime.
// A first attempt evaluates it as a parenthesized expression "(...)"; if
// that fails, the code is run verbatim as a statement (spec.md §4.3).
func (s *Session) cmdEval(code string) {
	if s.host == nil || strings.TrimSpace(code) == "" {
		s.writeLine("(nothing to evaluate)")
		return
	}
	v, err := s.host.Eval("(" + code + ")")
	if err != nil {
		v, err = s.host.Eval(code)
	}
	if err != nil {
		s.writeLine(fmt.Sprintf("eval error: %s", err))
		return
	}
	s.writeLine(Render(v))
}

// cmdHostCommand implements [v]alkey/[r]edis <cmd> [args...]: forward a
// command to the host store on the caller's behalf, logging it while
// stepping (spec.md §4.3).
func (s *Session) cmdHostCommand(args []string) {
	if s.invoker == nil {
		s.writeLine("(no host connection available)")
		return
	}
	if len(args) == 0 {
		s.writeLine("usage: valkey <cmd> [args...]")
		return
	}
	reply, err := s.invoker.Call(s.ctx, s.caller, args[0], args[1:])
	if err != nil {
		s.writeLine(fmt.Sprintf("(error) %s", err))
		return
	}
	s.writeLine(Render(reply))
}

// cmdMaxLen implements [m]axlen [len]: with no argument, reports the current
// value; otherwise applies the clamping rule.
func (s *Session) cmdMaxLen(args []string) {
	if len(args) == 0 {
		s.writeLine(strconv.Itoa(s.truncate.MaxLen()))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		s.writeLine(fmt.Sprintf("invalid maxlen '%s'", args[0]))
		return
	}
	s.truncate.SetMaxLen(n)
	s.writeLine(strconv.Itoa(s.truncate.MaxLen()))
}

// cmdAbort implements [a]bort: raise an abort in the running script via the
// back-end's LineHost, ending execution with an error the caller surfaces
// as the script's reply.
func (s *Session) cmdAbort() {
	if s.host == nil {
		return
	}
	s.host.Abort("aborted from debugger session")
}
