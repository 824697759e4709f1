package types

// PageSize is the fixed compile-time page size P referenced throughout
// spec.md. Every page written to a database file is exactly this many bytes.
const PageSize = 4096

// ChecksumSize is the trailing CRC32 every page carries on disk (SPEC_FULL's
// checksum extension). PagePayloadSize is what every layer above the disk
// manager actually gets to lay out a header and body within.
const ChecksumSize = 4
const PagePayloadSize = PageSize - ChecksumSize

// Reserved pages: page 0 of the catalog's file is always the catalog meta
// page, page 1 is always the index-roots directory (spec.md §3.7, §6.1).
const (
	CatalogMetaPageID PageId = 0
	IndexRootsPageID  PageId = 1
)

// PageType tags what a page's body holds. It lives only on the in-memory
// frame, set by whichever layer formats the page; the disk manager does not
// write it, and a frame fetched from disk starts as PageTypeUnknown.
type PageType uint8

const (
	PageTypeUnknown PageType = iota
	PageTypeHeapData
	PageTypeBTreeLeaf
	PageTypeBTreeInternal
	PageTypeCatalogMeta
	PageTypeIndexRoots
)
