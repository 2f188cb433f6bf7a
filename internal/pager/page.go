// Package pager implements the page-based, transactional storage engine
// that backs a grphite database: fixed-size pages, an LRU buffer pool, a
// write-ahead log, and crash recovery.
//
// The storage format consists of a main database file with fixed-size
// pages (default 8 KiB) and a sequential WAL file. Page 0 is the header
// page; subsequent pages are typed (record, primary-index chain,
// property-index chain, free-list). Every page other than the header page
// starts with a mini-header (type, page-ID, LSN), and every page ends with
// a CRC32-C checksum. Crash recovery replays the committed transactions
// still in the WAL, which a checkpoint truncates.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the default page size in bytes (8 KiB).
	DefaultPageSize = 8192

	// MinPageSize is the minimum allowed page size (4 KiB).
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size (64 KiB).
	MaxPageSize = 65536

	// MiniHeaderSize is the size of the common leading header carried by
	// every page that is not the database header page (record, free-list,
	// and index-chain pages): a type tag, page id, and LSN. The checksum
	// itself is NOT part of this header — per spec it lives in the last
	// four bytes of the page, uniformly across every page type.
	//   [0]    PageType   (1 byte)
	//   [1:4]  Reserved   (3 bytes)
	//   [4:8]  PageID     (4 bytes, uint32 LE)
	//   [8:16] LSN        (8 bytes, uint64 LE)
	MiniHeaderSize = 16

	// ChecksumSize is the width of the trailing page checksum.
	ChecksumSize = 4

	// InvalidPageID represents a null/invalid page pointer.
	InvalidPageID PageID = 0

	// MaxRecordSize is the largest payload a node/edge record may encode to
	// (spec boundary: 16 MiB accepted minus one byte, 16 MiB itself rejected).
	MaxRecordSize = 16 * 1024 * 1024
)

// ───────────────────────────────────────────────────────────────────────────
// Page types
// ───────────────────────────────────────────────────────────────────────────

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeHeader        PageType = 0x01 // page 0: the database header
	PageTypeRecord        PageType = 0x02 // slotted page of node/edge records
	PageTypeFreeList      PageType = 0x03 // chain of free record-page ids
	PageTypePrimaryIndex  PageType = 0x04 // chunk of the persisted primary-index chain
	PageTypePropertyIndex PageType = 0x05 // chunk of the persisted property-index chain
)

// String returns a human-readable label for the page type.
func (pt PageType) String() string {
	switch pt {
	case PageTypeHeader:
		return "Header"
	case PageTypeRecord:
		return "Record"
	case PageTypeFreeList:
		return "FreeList"
	case PageTypePrimaryIndex:
		return "PrimaryIndex"
	case PageTypePropertyIndex:
		return "PropertyIndex"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Core types
// ───────────────────────────────────────────────────────────────────────────

// PageID is a 32-bit page identifier. Page 0 is always the database header.
type PageID uint32

// LSN is a monotonically increasing Log Sequence Number (WAL frame number).
type LSN uint64

// TxID is a transaction identifier.
type TxID uint64

// ───────────────────────────────────────────────────────────────────────────
// Mini-header
// ───────────────────────────────────────────────────────────────────────────

// MiniHeader is the leading header carried by every non-header page: a type
// tag, the page's own id (a redundant self-check against misdirected
// writes), and the LSN of the last WAL frame that touched it.
type MiniHeader struct {
	Type PageType // 1 byte
	ID   PageID   // 4 bytes
	LSN  LSN      // 8 bytes
}

// MarshalMiniHeader writes h into the first MiniHeaderSize bytes of buf.
func MarshalMiniHeader(h *MiniHeader, buf []byte) {
	if len(buf) < MiniHeaderSize {
		panic("buffer too small for MiniHeader")
	}
	buf[0] = byte(h.Type)
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
}

// UnmarshalMiniHeader reads a MiniHeader from the first MiniHeaderSize bytes of buf.
func UnmarshalMiniHeader(buf []byte) MiniHeader {
	return MiniHeader{
		Type: PageType(buf[0]),
		ID:   PageID(binary.LittleEndian.Uint32(buf[4:8])),
		LSN:  LSN(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// ───────────────────────────────────────────────────────────────────────────
// CRC helpers
// ───────────────────────────────────────────────────────────────────────────

// crcTable is the CRC32 (Castagnoli) table used throughout.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// The last few bytes of every page, regardless of page type, are reserved
// for a trailing CRC32-C checksum computed over everything before it. This
// keeps the checksum placement uniform across the header page (whose
// byte-0 magic leaves no room for a leading CRC field), record pages, and
// index-chain pages alike.

// ComputePageCRC computes the CRC32-C of everything in page except the
// trailing ChecksumSize bytes.
func ComputePageCRC(page []byte) uint32 {
	return crc32.Checksum(page[:len(page)-ChecksumSize], crcTable)
}

// SetPageCRC computes and writes the trailing CRC into the page.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[len(page)-ChecksumSize:], c)
}

// VerifyPageCRC checks the trailing CRC32 checksum of a page.
func VerifyPageCRC(page []byte) error {
	off := len(page) - ChecksumSize
	stored := binary.LittleEndian.Uint32(page[off:])
	computed := crc32.Checksum(page[:off], crcTable)
	if stored != computed {
		return fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorruption, stored, computed)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Page helper
// ───────────────────────────────────────────────────────────────────────────

// NewPage allocates a zeroed page buffer at the given size and writes its
// mini-header. Callers that need the header page (type PageTypeHeader)
// should use MarshalHeaderPage instead, since that page has its own fixed byte
// layout with no mini-header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &MiniHeader{Type: pt, ID: id}
	MarshalMiniHeader(h, buf)
	return buf
}
