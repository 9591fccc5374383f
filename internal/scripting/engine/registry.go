package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/logger"
	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Registry holds every registered engine descriptor plus the running total
// of per-engine memory overhead. Per spec.md §5 it is mutated only from the
// cooperative main-thread request loop; it carries no internal locking.
type Registry struct {
	descriptors    map[string]*Descriptor
	memoryOverhead int64
	log            *logger.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		log:         log.Named("registry"),
	}
}

// Register attaches a descriptor for a built-in engine, creates its
// synthetic fake-client, and accumulates its declared memory overhead.
// Duplicate (case-insensitive) names are rejected.
func (r *Registry) Register(name string, backend Backend, declaredOverhead int64) error {
	return r.register(name, "", backend, nil, declaredOverhead)
}

// RegisterModule attaches a descriptor contributed by a module. scope, when
// non-nil, is acquired around every vtable dispatch for this engine.
func (r *Registry) RegisterModule(name, owner string, backend Backend, scope ModuleCallScope, declaredOverhead int64) error {
	if owner == "" {
		return scripterr.New(scripterr.CodeResourceError, "module engine requires a non-empty owner")
	}
	return r.register(name, owner, backend, scope, declaredOverhead)
}

func (r *Registry) register(name, owner string, backend Backend, scope ModuleCallScope, declaredOverhead int64) error {
	key := strings.ToLower(name)
	if _, exists := r.descriptors[key]; exists {
		return scripterr.New(scripterr.CodeResourceError, fmt.Sprintf("engine '%s' already registered", name))
	}
	desc := &Descriptor{
		Name:    name,
		Owner:   owner,
		Backend: backend,
		FakeClient: ports.Request{
			ClientID: "fake-client:" + uuid.NewString(),
		},
		CallScope: scope,
	}
	r.descriptors[key] = desc
	r.memoryOverhead += declaredOverhead
	r.log.WithField("engine", name).Info("engine registered")
	return nil
}

// Unregister asks libMgr to detach any libraries owned by this engine, then
// tears down the descriptor. Unregistering an unknown engine is a no-op.
func (r *Registry) Unregister(ctx context.Context, name string, libMgr ports.LibraryManager) error {
	key := strings.ToLower(name)
	desc, ok := r.descriptors[key]
	if !ok {
		return nil
	}

	var result *multierror.Error
	if libMgr != nil {
		if err := libMgr.DetachEngine(ctx, desc.Name); err != nil {
			result = multierror.Append(result, fmt.Errorf("detach libraries for %s: %w", desc.Name, err))
		}
	}
	if teardown, err := desc.Backend.ResetEnv(ctx, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("reset env for %s: %w", desc.Name, err))
	} else if teardown != nil {
		teardown()
	}

	delete(r.descriptors, key)
	r.log.WithField("engine", name).Info("engine unregistered")
	return result.ErrorOrNil()
}

// Lookup finds an engine descriptor by case-insensitive name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[strings.ToLower(name)]
	return d, ok
}

// Iterate returns every registered descriptor, in no particular order.
func (r *Registry) Iterate() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// MemoryOverhead returns the running total of declared per-engine overhead.
func (r *Registry) MemoryOverhead() int64 { return r.memoryOverhead }

// Compile dispatches Backend.Compile through the module-call scoping rule.
func (r *Registry) Compile(ctx context.Context, desc *Descriptor, subsystem Subsystem, caller ports.Request, code []byte, timeout time.Duration) ([]Compiled, error) {
	var out []Compiled
	err := r.withScope(ctx, desc, caller, func() error {
		var compileErr error
		out, compileErr = desc.Backend.Compile(ctx, subsystem, code, timeout)
		return compileErr
	})
	return out, err
}

// Call dispatches Backend.Call through the module-call scoping rule.
func (r *Registry) Call(ctx context.Context, desc *Descriptor, rt ServerRuntime, caller ports.Request, compiled Compiled, subsystem Subsystem, keys, args []string) (ports.Reply, error) {
	var reply ports.Reply
	err := r.withScope(ctx, desc, caller, func() error {
		var callErr error
		reply, callErr = desc.Backend.Call(ctx, rt, caller, compiled, subsystem, keys, args)
		return callErr
	})
	return reply, err
}

// Free dispatches Backend.Free through the module-call scoping rule.
func (r *Registry) Free(ctx context.Context, desc *Descriptor, subsystem Subsystem, compiled Compiled) {
	_ = r.withScope(ctx, desc, desc.FakeClient, func() error {
		desc.Backend.Free(ctx, subsystem, compiled)
		return nil
	})
}

// withScope installs a fresh module-call context bound to caller (or to the
// descriptor's fake-client for caller-less calls) before invoking fn, and
// tears it down unconditionally on return, regardless of fn's outcome.
func (r *Registry) withScope(ctx context.Context, desc *Descriptor, caller ports.Request, fn func() error) error {
	if !desc.IsModule() || desc.CallScope == nil {
		return fn()
	}
	if caller.ClientID == "" {
		caller = desc.FakeClient
	}
	release, err := desc.CallScope.Acquire(ctx, caller)
	if err != nil {
		return scripterr.Wrap(scripterr.CodeResourceError, "acquire module call context", err)
	}
	defer release()
	return fn()
}
