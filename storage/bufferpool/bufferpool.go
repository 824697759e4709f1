// Package bufferpool implements the L0 buffer-pool contract spec.md §6.3
// requires: FetchPage, NewPage, UnpinPage, FlushPage, DeletePage. It is the
// concrete instance of the "opaque" collaborator spec.md treats as external —
// see SPEC_FULL.md's AMBIENT STACK section for why a storage core needs one
// to be buildable and testable at all.
//
// The pin-respecting LRU eviction algorithm is the teacher's own
// (storage_engine/bufferpool/bufferpool.go): an explicit access-order slice,
// never evicting a pinned frame. Layered underneath it, a ristretto cache
// holds the bytes of pages this pool has evicted while clean, so a later
// cold FetchPage can skip disk_manager entirely. Ristretto never decides
// what to evict from the pinned frame table — it only accelerates re-reads
// of pages this pool already decided, itself, were safe to let go.
package bufferpool

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"relstore/internal/logging"
	"relstore/storage/diskmgr"
	"relstore/storage/page"
	"relstore/types"
)

// Stats mirrors the diagnostics SPEC_FULL's AMBIENT STACK section adds:
// counters good enough to publish via expvar, not consulted by any
// correctness-bearing code path.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// BufferPool is the fixed-capacity page cache every layer above it goes
// through instead of touching diskmgr directly.
type BufferPool struct {
	mu          sync.Mutex
	capacity    int
	frames      map[types.PageId]*page.Page
	accessOrder []types.PageId
	disk        *diskmgr.DiskManager
	readThrough *ristretto.Cache[types.PageId, []byte]
	stats       Stats
	log         *logging.Logger
}

// SetLogger attaches a trace logger; eviction and cache-miss events are
// reported through it. A nil logger leaves logging off, which is the
// default returned by New.
func (bp *BufferPool) SetLogger(l *logging.Logger) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.log = l
}

func New(capacity int, disk *diskmgr.DiskManager) (*BufferPool, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[types.PageId, []byte]{
		NumCounters: int64(capacity) * 100,
		MaxCost:     int64(capacity) * int64(types.PagePayloadSize) * 4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("bufferpool.New: ristretto: %w", err)
	}
	return &BufferPool{
		capacity:    capacity,
		frames:      make(map[types.PageId]*page.Page, capacity),
		disk:        disk,
		readThrough: cache,
	}, nil
}

// FetchPage returns a pinned frame for id, loading it from the read-through
// cache or disk if it is not already resident.
func (bp *BufferPool) FetchPage(id types.PageId) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, ok := bp.frames[id]; ok {
		bp.stats.Hits++
		bp.touch(id)
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		return pg, nil
	}

	bp.stats.Misses++
	var data []byte
	if cached, ok := bp.readThrough.Get(id); ok {
		data = cached
	} else {
		d, err := bp.disk.ReadPage(id)
		if err != nil {
			return nil, fmt.Errorf("bufferpool.FetchPage: %w", err)
		}
		data = d
		if bp.log != nil {
			bp.log.Trace("disk-read", "page", id)
		}
	}

	pg := page.New(id, types.PageTypeUnknown)
	copy(pg.Data, data)
	pg.PinCount = 1

	if err := bp.addFrame(pg); err != nil {
		return nil, fmt.Errorf("bufferpool.FetchPage: %w", err)
	}
	return pg, nil
}

// NewPage allocates a fresh page id via the disk manager and returns a
// pinned, zeroed frame for it. The frame is dirty from the start — it has
// never been written — matching spec.md §6.3's "NewPage must return a
// zeroed P-byte buffer".
func (bp *BufferPool) NewPage(t types.PageType) (*page.Page, error) {
	id, err := bp.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("bufferpool.NewPage: %w", err)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg := page.New(id, t)
	pg.IsDirty = true
	pg.PinCount = 1

	if err := bp.addFrame(pg); err != nil {
		return nil, fmt.Errorf("bufferpool.NewPage: %w", err)
	}
	return pg, nil
}

// UnpinPage releases one pin on id. dirty, if true, is sticky — it never
// clears an already-dirty flag.
func (bp *BufferPool) UnpinPage(id types.PageId, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, ok := bp.frames[id]
	if !ok {
		return fmt.Errorf("bufferpool.UnpinPage: page %d not resident", id)
	}
	pg.Lock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	if dirty {
		pg.IsDirty = true
	}
	pg.Unlock()
	return nil
}

// FlushPage writes id to disk if dirty. Returns false if the page is not
// resident (nothing to flush), matching spec.md §6.3's bool-returning
// FlushPage.
func (bp *BufferPool) FlushPage(id types.PageId) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(id)
}

func (bp *BufferPool) flushLocked(id types.PageId) (bool, error) {
	pg, ok := bp.frames[id]
	if !ok {
		return false, nil
	}
	pg.Lock()
	defer pg.Unlock()
	if !pg.IsDirty {
		return true, nil
	}
	if err := bp.disk.WritePage(id, pg.Data); err != nil {
		return false, fmt.Errorf("bufferpool.FlushPage: %w", err)
	}
	pg.IsDirty = false
	return true, nil
}

// FlushAllPages writes every dirty resident page to disk. Used by
// Catalog.Flush and by tests that simulate a close/reopen cycle.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id := range bp.frames {
		if _, err := bp.flushLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes id from the pool and hands it back to the disk manager
// as free space. The page must be unpinned.
func (bp *BufferPool) DeletePage(id types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, ok := bp.frames[id]; ok {
		pg.Lock()
		pinned := pg.PinCount > 0
		pg.Unlock()
		if pinned {
			return fmt.Errorf("bufferpool.DeletePage: page %d is pinned", id)
		}
		delete(bp.frames, id)
		bp.removeFromAccessOrder(id)
	}
	bp.readThrough.Del(id)
	return bp.disk.DeallocatePage(id)
}

// Stats returns a snapshot of the pool's hit/miss/eviction counters.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.stats
}

// PinnedCount reports how many resident frames currently have a nonzero pin
// count — property test 8 in spec.md §8 asserts this is zero except for
// pages a live iterator legitimately holds.
func (bp *BufferPool) PinnedCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	n := 0
	for _, pg := range bp.frames {
		pg.RLock()
		if pg.PinCount > 0 {
			n++
		}
		pg.RUnlock()
	}
	return n
}

func (bp *BufferPool) addFrame(pg *page.Page) error {
	if len(bp.frames) >= bp.capacity {
		if _, exists := bp.frames[pg.ID]; !exists {
			if err := bp.evictLRU(); err != nil {
				return err
			}
		}
	}
	bp.frames[pg.ID] = pg
	bp.touch(pg.ID)
	return nil
}

// evictLRU implements the teacher's own algorithm verbatim: scan
// accessOrder oldest-first, skip pinned frames, flush-then-drop the first
// unpinned one found, and cache its bytes in the read-through layer so a
// future cold fetch is a ristretto hit instead of a disk read.
func (bp *BufferPool) evictLRU() error {
	for i, id := range bp.accessOrder {
		pg, exists := bp.frames[id]
		if !exists {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			return bp.evictLRU()
		}
		pg.Lock()
		pinned := pg.PinCount > 0
		pg.Unlock()
		if pinned {
			continue
		}
		if _, err := bp.flushLocked(id); err != nil {
			return err
		}
		dataCopy := make([]byte, len(pg.Data))
		copy(dataCopy, pg.Data)
		bp.readThrough.Set(id, dataCopy, int64(len(dataCopy)))
		delete(bp.frames, id)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		bp.stats.Evictions++
		if bp.log != nil {
			bp.log.Trace("evict", "page", id, "resident", len(bp.frames))
		}
		return nil
	}
	return fmt.Errorf("bufferpool: all %d frames pinned, cannot evict", len(bp.frames))
}

func (bp *BufferPool) touch(id types.PageId) {
	bp.removeFromAccessOrder(id)
	bp.accessOrder = append(bp.accessOrder, id)
}

func (bp *BufferPool) removeFromAccessOrder(id types.PageId) {
	for i, existing := range bp.accessOrder {
		if existing == id {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			return
		}
	}
}
