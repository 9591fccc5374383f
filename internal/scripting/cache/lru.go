package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// ephemeralLRU tracks the membership order of ephemeral digests only; the
// *Entry values themselves live in Cache.entries. It exists to reconcile
// simplelru's "Remove always invokes onEvict" behavior with promotion's need
// to drop a digest's LRU membership without freeing its entry (spec.md
// §4.1's "retained unchanged" promotion rule) — see DESIGN.md.
type ephemeralLRU struct {
	inner        *lru.LRU[string, struct{}]
	onEvict      func(digest string)
	suppressNext bool
}

func newEphemeralLRU(bound int, onEvict func(digest string)) *ephemeralLRU {
	e := &ephemeralLRU{onEvict: onEvict}
	inner, err := lru.NewLRU[string, struct{}](bound, func(key string, _ struct{}) {
		if e.suppressNext {
			e.suppressNext = false
			return
		}
		e.onEvict(key)
	})
	if err != nil {
		// bound is always the positive, normalized config value; simplelru
		// only rejects a non-positive size.
		panic(err)
	}
	e.inner = inner
	return e
}

// add appends digest as most-recently-used, evicting the least-recently-used
// digest (via onEvict) when the bound is exceeded.
func (e *ephemeralLRU) add(digest string) {
	e.inner.Add(digest, struct{}{})
}

// touch marks digest most-recently-used ("touch" in spec.md §4.1's run op).
func (e *ephemeralLRU) touch(digest string) {
	e.inner.Get(digest)
}

// detach drops digest from LRU membership without invoking onEvict: the
// mechanism promotion uses to keep an entry while losing its lru-node.
func (e *ephemeralLRU) detach(digest string) {
	e.suppressNext = true
	if !e.inner.Remove(digest) {
		e.suppressNext = false
	}
}

func (e *ephemeralLRU) len() int { return e.inner.Len() }

func (e *ephemeralLRU) contains(digest string) bool { return e.inner.Contains(digest) }

func (e *ephemeralLRU) purge() { e.inner.Purge() }
