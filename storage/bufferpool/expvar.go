package bufferpool

import "expvar"

// PublishStats registers bp's hit/miss/eviction counters under name via
// expvar, for a process embedding this pool to expose over its own debug
// endpoint. Registering the same name twice panics (expvar's own
// behavior) — callers publish at most one pool per name, typically once
// at process startup.
func (bp *BufferPool) PublishStats(name string) {
	expvar.Publish(name, expvar.Func(func() any {
		s := bp.Stats()
		return map[string]uint64{
			"hits":      s.Hits,
			"misses":    s.Misses,
			"evictions": s.Evictions,
		}
	}))
}
