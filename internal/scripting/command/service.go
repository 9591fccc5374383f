// Package command is the thin glue named in SPEC_FULL.md §4.0: it exposes
// EVAL/EVAL_RO/EVALSHA/EVALSHA_RO/SCRIPT LOAD|EXISTS|FLUSH|SHOW|DEBUG over
// the script cache and per-client debug-mode arming, the way a real command
// dispatcher in this corpus would wrap a domain service (compare the
// teacher's functions.Service sitting in front of its executor).
package command

import (
	"context"
	"strings"
	"sync"

	"github.com/R3E-Network/scriptlayer/internal/scripting/cache"
	"github.com/R3E-Network/scriptlayer/internal/scripting/debugger"
	"github.com/R3E-Network/scriptlayer/internal/scripting/digest"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine/jsengine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/logger"
	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Service implements spec.md §6's client-facing command surface against a
// single Cache/Debugger pair. It is the only component in this module that
// is allowed to know about both at once.
type Service struct {
	cache   *cache.Cache
	dbg     *debugger.Debugger
	mapper  ports.CommandFlagMapper
	invoker ports.HostCommandInvoker
	log     *logger.Logger

	mu    sync.Mutex
	armed map[string]ports.DebugMode
}

// NewService wires a command Service around an already-constructed cache and
// debugger. invoker is handed to debugger sessions for the [v]alkey/[r]edis
// REPL command; it may be nil if the host has no host-command path wired up.
func NewService(c *cache.Cache, dbg *debugger.Debugger, mapper ports.CommandFlagMapper, invoker ports.HostCommandInvoker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("command")
	} else {
		log = log.Named("command")
	}
	return &Service{
		cache:   c,
		dbg:     dbg,
		mapper:  mapper,
		invoker: invoker,
		log:     log,
		armed:   make(map[string]ports.DebugMode),
	}
}

// Result carries a command's reply alongside the command flags the
// surrounding dispatcher should apply (spec.md §4.1's derivation rule).
// Aborted is set only for the forked-debugger parent path, where the script
// runs in a re-exec'd child and this process has nothing left to reply with.
type Result struct {
	Reply        ports.Reply
	CommandFlags flags.CommandFlags
	Aborted      bool
}

// Eval implements EVAL: compile-if-absent (ephemeral), run.
func (s *Service) Eval(ctx context.Context, req ports.Request, conn ports.Connection) (Result, error) {
	return s.evalBody(ctx, req, conn, false)
}

// EvalRO implements EVAL_RO: same as Eval, with the read-only bit folded
// into the returned command flags for the dispatcher to enforce.
func (s *Service) EvalRO(ctx context.Context, req ports.Request, conn ports.Connection) (Result, error) {
	return s.evalBody(ctx, req, conn, true)
}

// EvalSha implements EVALSHA: run a cached entry; never compiles.
func (s *Service) EvalSha(ctx context.Context, req ports.Request, conn ports.Connection) (Result, error) {
	return s.evalSha(ctx, req, conn, false)
}

// EvalShaRO implements EVALSHA_RO.
func (s *Service) EvalShaRO(ctx context.Context, req ports.Request, conn ports.Connection) (Result, error) {
	return s.evalSha(ctx, req, conn, true)
}

func (s *Service) evalBody(ctx context.Context, req ports.Request, conn ports.Connection, readOnly bool) (Result, error) {
	clientID := req.ClientID
	mode := s.debugModeFor(clientID)

	compileCtx := ctx
	if mode != ports.DebugOff {
		compileCtx = jsengine.WithDebugArmed(ctx)
	}

	d, err := s.cache.CompileAndStore(compileCtx, req.Body, req, cache.Ephemeral)
	if err != nil {
		return Result{}, err
	}
	entry, ok := s.cache.Lookup(d)
	if !ok {
		return Result{}, scripterr.NoSuchScript()
	}

	return s.runEntry(ctx, req, conn, entry, readOnly, mode)
}

func (s *Service) evalSha(ctx context.Context, req ports.Request, conn ports.Connection, readOnly bool) (Result, error) {
	d, err := digest.Normalize(req.Digest)
	if err != nil {
		return Result{}, err
	}
	entry, ok := s.cache.Lookup(d)
	if !ok {
		return Result{}, scripterr.ScriptMissing()
	}

	mode := s.debugModeFor(req.ClientID)
	return s.runEntry(ctx, req, conn, entry, readOnly, mode)
}

// runEntry executes entry under req, routing through the debugger when a
// session is armed for this client, and derives the command flags the
// invoking command should run under (spec.md §4.1).
func (s *Service) runEntry(ctx context.Context, req ports.Request, conn ports.Connection, entry *cache.Entry, readOnly bool, mode ports.DebugMode) (Result, error) {
	cmdFlags := flags.DeriveCommandFlags(entry.Flags, req.BaseFlags, s.mapper)
	if readOnly {
		cmdFlags = withReadOnly(cmdFlags)
	}

	if mode == ports.DebugOff {
		reply, err := s.cache.Run(ctx, req, entry, req.Keys, req.Args)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply, CommandFlags: cmdFlags}, nil
	}

	s.clearArmed(req.ClientID)
	hookTarget, _ := entry.Engine.Backend.(engine.LineHooked)
	sourceLines := jsengine.SourceLines(entry.Compiled)

	proceed, err := s.dbg.Start(ctx, mode, conn, sourceLines, hookTarget, s.invoker, req)
	if err != nil {
		return Result{}, err
	}
	if !proceed {
		// Forked parent: the child owns the connection now. Nothing to reply.
		return Result{Aborted: true}, nil
	}
	defer s.dbg.End(hookTarget)

	reply, err := s.cache.Run(ctx, req, entry, req.Keys, req.Args)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: reply, CommandFlags: cmdFlags}, nil
}

// ScriptLoad implements SCRIPT LOAD: compile-and-store (pinned); the reply
// is the digest.
func (s *Service) ScriptLoad(ctx context.Context, body []byte) (string, error) {
	return s.cache.CompileAndStore(ctx, body, ports.Request{}, cache.Pinned)
}

// ScriptExists implements SCRIPT EXISTS: one bool per requested digest.
// A malformed (non-40-hex) digest is reported as absent rather than failing
// the whole command, matching the per-digest nature of the reply.
func (s *Service) ScriptExists(digests []string) []bool {
	out := make([]bool, len(digests))
	for i, raw := range digests {
		d, err := digest.Normalize(raw)
		if err != nil {
			out[i] = false
			continue
		}
		out[i] = s.cache.Exists(d)
	}
	return out
}

// ScriptShow implements SCRIPT SHOW: the reply is the original body.
func (s *Service) ScriptShow(raw string) ([]byte, error) {
	d, err := digest.Normalize(raw)
	if err != nil {
		return nil, err
	}
	body, ok := s.cache.Show(d)
	if !ok {
		return nil, scripterr.ScriptMissing()
	}
	return body, nil
}

// ScriptFlush implements SCRIPT FLUSH [SYNC|ASYNC]: mode "" defers to the
// system's configured default flush mode.
func (s *Service) ScriptFlush(ctx context.Context, mode string) error {
	async, err := s.resolveFlushMode(mode)
	if err != nil {
		return err
	}
	return s.cache.Flush(ctx, async)
}

func (s *Service) resolveFlushMode(mode string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "":
		return s.cache.DefaultFlushIsAsync(), nil
	case "SYNC":
		return false, nil
	case "ASYNC":
		return true, nil
	default:
		return false, scripterr.New(scripterr.CodeBadHeader, "SCRIPT FLUSH: unknown mode '"+mode+"'")
	}
}

// ScriptDebug implements SCRIPT DEBUG YES|SYNC|NO: arms or disarms debug
// mode for this client's subsequent EVAL/EVALSHA calls.
func (s *Service) ScriptDebug(clientID, mode string) error {
	m, err := parseDebugMode(mode)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == ports.DebugOff {
		delete(s.armed, clientID)
		return nil
	}
	s.armed[clientID] = m
	return nil
}

func parseDebugMode(mode string) (ports.DebugMode, error) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "YES":
		return ports.DebugForked, nil
	case "SYNC":
		return ports.DebugSync, nil
	case "NO":
		return ports.DebugOff, nil
	default:
		return ports.DebugOff, scripterr.New(scripterr.CodeBadHeader, "SCRIPT DEBUG: unknown mode '"+mode+"'")
	}
}

func (s *Service) debugModeFor(clientID string) ports.DebugMode {
	if clientID == "" {
		return ports.DebugOff
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[clientID]
}

func (s *Service) clearArmed(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, clientID)
}

// withReadOnly copies in (never mutating a map the compat-mode path may have
// returned by reference to the caller's own base flags) and sets the
// read-only marker the dispatcher enforces externally.
func withReadOnly(in flags.CommandFlags) flags.CommandFlags {
	out := make(flags.CommandFlags, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out["read-only"] = true
	return out
}
