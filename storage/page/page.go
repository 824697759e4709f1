// Package page defines the in-memory representation of a single fixed-size
// database page, shared by every page type (heap, B+tree leaf/internal,
// catalog meta, index-roots). The actual byte layout within Data is owned by
// whichever layer stamped it — this package only carries the frame metadata
// the buffer pool needs: pin count, dirty flag, and the raw bytes.
package page

import (
	"sync"

	"relstore/types"
)

// Page is one buffer-pool frame. Data is always exactly
// types.PagePayloadSize bytes; the disk manager appends the checksum trailer
// that makes up a full types.PageSize page on disk.
type Page struct {
	ID       types.PageId
	Data     []byte
	IsDirty  bool
	PinCount int32
	Type     types.PageType

	mu sync.RWMutex
}

func New(id types.PageId, t types.PageType) *Page {
	return &Page{
		ID:   id,
		Data: make([]byte, types.PagePayloadSize),
		Type: t,
	}
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }
