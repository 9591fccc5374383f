// Package cache is the script cache (component D): content-addressed
// compiled programs, a bounded ephemeral LRU, ephemeral/pinned lifecycle and
// promotion, and deferred large-flush reclamation.
package cache

import (
	"context"
	"time"

	"github.com/R3E-Network/scriptlayer/internal/scripting/digest"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/internal/scripting/header"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
	"github.com/R3E-Network/scriptlayer/pkg/logger"
	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Mode selects between compile-and-store's two installation modes.
type Mode int

const (
	Ephemeral Mode = iota
	Pinned
)

// Entry is the cache-entry tuple of spec.md's data model.
type Entry struct {
	Digest   string
	Body     []byte
	Engine   *engine.Descriptor
	Compiled engine.Compiled
	Flags    flags.Set
	Pinned   bool
}

// Cache is component D. Per spec.md §5 the cache map, LRU list, and memory
// counter are mutated only from the single-threaded request-dispatch path
// and carry no locking of their own.
type Cache struct {
	entries       map[string]*Entry
	lru           *ephemeralLRU
	memoryBytes   int64
	evictionCount int64

	registry       *engine.Registry
	mapper         ports.CommandFlagMapper
	hostRuntime    engine.ServerRuntime
	defaultEngine  string
	compileTimeout time.Duration
	flushThreshold int
	defaultFlush   string

	reclaim *reclaimPool
	metrics *Metrics
	log     *logger.Logger
}

// New builds an empty cache bound by cfg, dispatching compiles/calls through
// registry and deriving non-compat command flags through mapper.
func New(cfg config.CacheConfig, engCfg config.EngineConfig, registry *engine.Registry, mapper ports.CommandFlagMapper, hostRuntime engine.ServerRuntime, metrics *Metrics, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewDefault("cache")
	} else {
		log = log.Named("cache")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	bound := cfg.MaxEphemeralEntries
	if bound <= 0 {
		bound = 500
	}

	c := &Cache{
		entries:        make(map[string]*Entry),
		registry:       registry,
		mapper:         mapper,
		hostRuntime:    hostRuntime,
		defaultEngine:  engCfg.DefaultEngine,
		compileTimeout: time.Duration(cfg.CompileTimeoutSeconds) * time.Second,
		flushThreshold: cfg.AsyncFlushThreshold,
		defaultFlush:   cfg.DefaultFlushMode,
		reclaim:        newReclaimPool(cfg.ReclaimWorkers, cfg.ReclaimQueueDepth, metrics, log),
		metrics:        metrics,
		log:            log,
	}
	c.lru = newEphemeralLRU(bound, c.evict)
	return c
}

// Lookup returns the cache entry for digest, if any. It changes no cache
// state; it only counts the hit or miss in metrics.
func (c *Cache) Lookup(digest string) (*Entry, bool) {
	e, ok := c.entries[digest]
	if ok {
		c.metrics.hits.Inc()
	} else {
		c.metrics.misses.Inc()
	}
	return e, ok
}

// PreResolve implements spec.md §4.1's pre-resolve: derive the flag set a
// request should run under without requiring the body be fully compiled.
func (c *Cache) PreResolve(req ports.Request) (flags.Set, error) {
	if req.Digest != "" {
		if e, ok := c.entries[req.Digest]; ok {
			return e.Flags, nil
		}
	}
	if len(req.Body) > 0 {
		h, err := header.Parse(req.Body, c.defaultEngine)
		if err != nil {
			return 0, err
		}
		return h.Flags, nil
	}
	return flags.Set(0), nil
}

// CompileAndStore implements spec.md §4.1's compile-and-store. Compiling a
// body already present is a no-op apart from promotion when mode is Pinned
// (testable property 4).
func (c *Cache) CompileAndStore(ctx context.Context, body []byte, caller ports.Request, mode Mode) (string, error) {
	d := digest.Of(body)

	if existing, ok := c.entries[d]; ok {
		if mode == Pinned && !existing.Pinned {
			c.promote(d, existing)
		}
		return d, nil
	}

	h, err := header.Parse(body, c.defaultEngine)
	if err != nil {
		return "", err
	}
	desc, ok := c.registry.Lookup(h.Engine)
	if !ok {
		return "", scripterr.UnknownEngine(h.Engine)
	}
	code := header.Strip(body, h)

	handles, err := c.registry.Compile(ctx, desc, engine.SubsystemAdHoc, caller, code, c.compileTimeout)
	if err != nil {
		return "", err
	}
	if len(handles) == 0 {
		return "", scripterr.Wrap(scripterr.CodeCompileError, "engine compiled zero handles for ad-hoc subsystem", nil)
	}

	entry := &Entry{
		Digest:   d,
		Body:     body,
		Engine:   desc,
		Compiled: handles[0],
		Flags:    h.Flags,
		Pinned:   mode == Pinned,
	}
	c.entries[d] = entry
	c.memoryBytes += int64(len(d)) + int64(len(body))

	if mode == Ephemeral {
		c.lru.add(d)
	}

	c.refreshMetrics()
	c.log.WithField("digest", d).WithField("engine", h.Engine).Info("script compiled and stored")
	return d, nil
}

// promote drops digest's LRU membership while retaining its entry unchanged,
// per spec.md §4.1's "SCRIPT LOAD on an ephemeral digest" rule.
func (c *Cache) promote(d string, entry *Entry) {
	c.lru.detach(d)
	entry.Pinned = true
	c.log.WithField("digest", d).Info("script promoted from ephemeral to pinned")
}

// Run implements spec.md §4.1's run: invoke the back-end, then touch the LRU
// node on success if the entry is ephemeral.
func (c *Cache) Run(ctx context.Context, caller ports.Request, entry *Entry, keys, args []string) (ports.Reply, error) {
	reply, err := c.registry.Call(ctx, entry.Engine, c.hostRuntime, caller, entry.Compiled, engine.SubsystemAdHoc, keys, args)
	if err != nil {
		return nil, err
	}
	if !entry.Pinned {
		c.lru.touch(entry.Digest)
	}
	return reply, nil
}

// Delete removes entry unconditionally, freeing its back-end handle and
// unlinking its LRU node if it was ephemeral.
func (c *Cache) Delete(ctx context.Context, d string) {
	entry, ok := c.entries[d]
	if !ok {
		return
	}
	if !entry.Pinned {
		c.lru.detach(d)
	}
	c.freeEntry(ctx, d, entry)
	c.refreshMetrics()
}

// evict is the ephemeralLRU onEvict callback: it runs on every real
// (non-suppressed) LRU removal, i.e. overflow eviction.
func (c *Cache) evict(d string) {
	entry, ok := c.entries[d]
	if !ok {
		return
	}
	c.freeEntry(context.Background(), d, entry)
	c.evictionCount++
	c.metrics.evictions.Inc()
	c.refreshMetrics()
}

func (c *Cache) freeEntry(ctx context.Context, d string, entry *Entry) {
	delete(c.entries, d)
	c.memoryBytes -= int64(len(d)) + int64(len(entry.Body))
	if c.memoryBytes < 0 {
		c.memoryBytes = 0
	}
	c.registry.Free(ctx, entry.Engine, engine.SubsystemAdHoc, entry.Compiled)
}

// Flush implements spec.md §4.1's flush: drop the entire cache and ask every
// registered engine to reset its execution environment. async flushes of
// more than flushThreshold entries hand both the entry set and the
// per-engine teardown continuations to the reclamation pool; every other
// flush runs them inline.
func (c *Cache) Flush(ctx context.Context, async bool) error {
	entries := c.entries
	c.entries = make(map[string]*Entry)
	c.lru.purge()
	c.memoryBytes = 0

	var teardowns []func()
	for _, desc := range c.registry.Iterate() {
		teardown, err := desc.Backend.ResetEnv(ctx, async)
		if err != nil {
			return scripterr.Wrap(scripterr.CodeResourceError, "reset env for "+desc.Name, err)
		}
		if teardown != nil {
			teardowns = append(teardowns, teardown)
		}
	}

	mode := "sync"
	if async {
		mode = "async"
	}
	c.metrics.flushes.WithLabelValues(mode).Inc()
	c.refreshMetrics()

	job := reclaimJob{
		entries:   entries,
		teardowns: teardowns,
		free: func(d string, e *Entry) {
			c.registry.Free(context.Background(), e.Engine, engine.SubsystemAdHoc, e.Compiled)
		},
	}

	if async && len(entries) > c.flushThreshold {
		c.reclaim.submit(ctx, job)
		return nil
	}
	c.reclaim.run(job)
	return nil
}

// DefaultFlushIsAsync reports whether SCRIPT FLUSH with no explicit mode
// should run asynchronously, per the system configuration flag named in
// spec.md §6.
func (c *Cache) DefaultFlushIsAsync() bool { return c.defaultFlush == "async" }

// Exists reports whether digest names a cached entry.
func (c *Cache) Exists(d string) bool {
	_, ok := c.entries[d]
	return ok
}

// Show returns the original, header-inclusive body for digest.
func (c *Cache) Show(d string) ([]byte, bool) {
	e, ok := c.entries[d]
	if !ok {
		return nil, false
	}
	return e.Body, true
}

// MemoryUsage sums digest+body bytes across all cached entries.
func (c *Cache) MemoryUsage() int64 { return c.memoryBytes }

// Len reports the total number of cached entries (ephemeral + pinned),
// exercised by the promotion and eviction invariants of spec.md §8.
func (c *Cache) Len() int { return len(c.entries) }

// ReclaimPending and ReclaimFreed expose the background reclamation pool's
// atomic counters for the async-flush testable scenario of spec.md §8.
func (c *Cache) ReclaimPending() int64 { return c.reclaim.Pending() }
func (c *Cache) ReclaimFreed() int64   { return c.reclaim.Freed() }

func (c *Cache) refreshMetrics() {
	c.metrics.entries.Set(float64(len(c.entries)))
	c.metrics.memory.Set(float64(c.memoryBytes))
}
