// Package diskmgr owns the single on-disk database file: raw offset
// read/write, page allocation via a free-page bitmap, and the trailing
// checksum every page carries. It is the L0 half of spec.md §6.3's contract
// that the buffer pool builds on; nothing above this package knows the file
// is one contiguous sequence of fixed-size pages.
package diskmgr

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"relstore/types"
)

// payloadSize is how many bytes of a page are available to callers — the
// last few bytes are reserved for the CRC32 trailer diskmgr stamps on write
// and verifies on read (SPEC_FULL §3, checksum extension).
const payloadSize = types.PagePayloadSize

// DiskManager manages the single backing file for a database: allocation,
// raw I/O, and the free-page bitmap. Grounded in the teacher's
// storage_engine/disk_manager, simplified to one file since spec.md §6.1
// describes a single database file rather than the teacher's multi-file
// per-table layout.
type DiskManager struct {
	mu       sync.Mutex
	file     *os.File
	free     map[types.PageId]bool
	nextPage types.PageId
}

// Open opens or creates path. The number of pages already present is taken
// from the file size, and new pages are allocated after them. The free-page
// bitmap is not persisted, so pages freed before a previous Close are not
// reused after reopening.
func Open(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr.Open: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskmgr.Open: stat: %w", err)
	}
	numPages := types.PageId(stat.Size() / types.PageSize)
	dm := &DiskManager{
		file:     f,
		free:     make(map[types.PageId]bool),
		nextPage: numPages,
	}
	if numPages == 0 {
		// Reserve pages 0 and 1 for the catalog meta page and the
		// index-roots directory (spec.md §6.1) even before the catalog
		// has written anything into them.
		dm.nextPage = 2
	}
	return dm, nil
}

// AllocatePage reserves a page id — reusing a freed one if the bitmap has
// one, else extending the file — without writing anything. The caller
// (buffer pool's NewPage) is responsible for actually persisting a zeroed
// page there.
func (dm *DiskManager) AllocatePage() (types.PageId, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, isFree := range dm.free {
		if isFree {
			delete(dm.free, id)
			return id, nil
		}
	}
	id := dm.nextPage
	dm.nextPage++
	return id, nil
}

// DeallocatePage marks id as free for reuse by a future AllocatePage. It
// does not shrink the file — a freed page is simply available for the next
// allocation.
func (dm *DiskManager) DeallocatePage(id types.PageId) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.free[id] = true
	return nil
}

// ReadPage reads a page's payload bytes and verifies its checksum.
func (dm *DiskManager) ReadPage(id types.PageId) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	buf := make([]byte, types.PageSize)
	n, err := dm.file.ReadAt(buf, int64(id)*types.PageSize)
	if err != nil && n == 0 {
		// A page beyond the current EOF (e.g. a reserved-but-never-written
		// reserved page 0/1 on a fresh file) reads as all zero.
		return make([]byte, payloadSize), nil
	}
	if n < types.PageSize {
		for i := n; i < types.PageSize; i++ {
			buf[i] = 0
		}
	}
	payload := buf[:payloadSize]
	stored := binary.LittleEndian.Uint32(buf[payloadSize:])
	if stored != 0 && crc32.ChecksumIEEE(payload) != stored {
		return nil, types.WrapError("DiskManager.ReadPage", types.KindIOError,
			fmt.Sprintf("checksum mismatch on page %d", id), nil)
	}
	out := make([]byte, payloadSize)
	copy(out, payload)
	return out, nil
}

// WritePage stamps a checksum over data (which must be exactly payloadSize
// bytes) and writes the full page at id's offset.
func (dm *DiskManager) WritePage(id types.PageId, data []byte) error {
	if len(data) != payloadSize {
		return fmt.Errorf("diskmgr.WritePage: payload must be %d bytes, got %d", payloadSize, len(data))
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	buf := make([]byte, types.PageSize)
	copy(buf, data)
	binary.LittleEndian.PutUint32(buf[payloadSize:], crc32.ChecksumIEEE(data))

	if _, err := dm.file.WriteAt(buf, int64(id)*types.PageSize); err != nil {
		return types.WrapError("DiskManager.WritePage", types.KindIOError,
			fmt.Sprintf("page %d", id), err)
	}
	return nil
}

// Sync flushes the OS file buffer to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.file.Sync()
}

// Close syncs and closes the backing file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return err
	}
	return dm.file.Close()
}

