package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Header page – Page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Unlike every other page type, the header page does not carry a
// MiniHeader: its magic occupies bytes 0-7 so that the file format is
// identifiable from the very first byte, per spec.md §6. Layout
// (little-endian):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────
//  0       8     Magic               "GRPHITE\x00"
//  8       2     MajorVersion        uint16 LE
//  10      2     MinorVersion        uint16 LE
//  12      4     PageSize            uint32 LE
//  16      8     NextNodeID          uint64 LE
//  24      8     NextEdgeID          uint64 LE
//  32      4     FreeListHead        uint32 LE (PageID, 0 = none)
//  36      4     HintPage            uint32 LE (PageID, 0 = none)
//  40      8     LastCommittedTxID   uint64 LE
//  48      4     PrimaryIndexRoot    uint32 LE (PageID)
//  52      4     PrimaryIndexSize    uint32 LE (serialized byte size)
//  56      4     PropertyIndexRoot   uint32 LE (PageID)
//  60      4     PropertyIndexCount  uint32 LE (binding count)
//  64      2     PropertyIndexFormat uint16 LE
//  66      1     MVCCFlag            byte (must be 1)
//  67      8     MaxTimestamp        uint64 LE
//  75      8     OldestSnapshotTS    uint64 LE
//  83      ...   reserved (zero) up to PageSize - ChecksumSize
//  PageSize-4 4  CRC32-C of bytes [0, PageSize-4)

const (
	// HeaderMagic identifies a valid grphite database file.
	HeaderMagic = "GRPHITE\x00"

	// CurrentMajorVersion / CurrentMinorVersion are the on-disk format
	// versions this build writes and understands.
	CurrentMajorVersion uint16 = 1
	CurrentMinorVersion uint16 = 0

	hdMagicOff         = 0
	hdMajorVersionOff  = 8
	hdMinorVersionOff  = 10
	hdPageSizeOff      = 12
	hdNextNodeIDOff    = 16
	hdNextEdgeIDOff    = 24
	hdFreeListHeadOff  = 32
	hdHintPageOff      = 36
	hdLastTxIDOff      = 40
	hdPrimaryRootOff   = 48
	hdPrimarySizeOff   = 52
	hdPropertyRootOff  = 56
	hdPropertyCountOff = 60
	hdPropertyFmtOff   = 64
	hdMVCCFlagOff      = 66
	hdMaxTimestampOff  = 67
	hdOldestSnapOff    = 75
	// bytes from 83 to PageSize-ChecksumSize-1 are reserved and zero.

	// MVCCEnabled is the only legal value of the MVCC flag byte; this
	// build does not support opening a database with MVCC disabled.
	MVCCEnabled byte = 1

	// CurrentPropertyIndexFormat is the format version written into the
	// persisted property-index chain (spec.md §6 "PIDX" format).
	CurrentPropertyIndexFormat uint16 = 1
)

// Header holds the parsed contents of page 0.
type Header struct {
	MajorVersion        uint16
	MinorVersion        uint16
	PageSize            uint32
	NextNodeID          uint64
	NextEdgeID          uint64
	FreeListHead        PageID
	HintPage            PageID
	LastCommittedTxID   TxID
	PrimaryIndexRoot    PageID
	PrimaryIndexSize    uint32
	PropertyIndexRoot   PageID
	PropertyIndexCount  uint32
	PropertyIndexFormat uint16
	MaxTimestamp        uint64
	OldestSnapshotTS    uint64
}

// MarshalHeaderPage serializes h into a full page buffer of the given size.
func MarshalHeaderPage(h *Header, pageSize int) []byte {
	buf := make([]byte, pageSize)
	copy(buf[hdMagicOff:hdMagicOff+8], HeaderMagic)
	binary.LittleEndian.PutUint16(buf[hdMajorVersionOff:], h.MajorVersion)
	binary.LittleEndian.PutUint16(buf[hdMinorVersionOff:], h.MinorVersion)
	binary.LittleEndian.PutUint32(buf[hdPageSizeOff:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[hdNextNodeIDOff:], h.NextNodeID)
	binary.LittleEndian.PutUint64(buf[hdNextEdgeIDOff:], h.NextEdgeID)
	binary.LittleEndian.PutUint32(buf[hdFreeListHeadOff:], uint32(h.FreeListHead))
	binary.LittleEndian.PutUint32(buf[hdHintPageOff:], uint32(h.HintPage))
	binary.LittleEndian.PutUint64(buf[hdLastTxIDOff:], uint64(h.LastCommittedTxID))
	binary.LittleEndian.PutUint32(buf[hdPrimaryRootOff:], uint32(h.PrimaryIndexRoot))
	binary.LittleEndian.PutUint32(buf[hdPrimarySizeOff:], h.PrimaryIndexSize)
	binary.LittleEndian.PutUint32(buf[hdPropertyRootOff:], uint32(h.PropertyIndexRoot))
	binary.LittleEndian.PutUint32(buf[hdPropertyCountOff:], h.PropertyIndexCount)
	binary.LittleEndian.PutUint16(buf[hdPropertyFmtOff:], h.PropertyIndexFormat)
	buf[hdMVCCFlagOff] = MVCCEnabled
	binary.LittleEndian.PutUint64(buf[hdMaxTimestampOff:], h.MaxTimestamp)
	binary.LittleEndian.PutUint64(buf[hdOldestSnapOff:], h.OldestSnapshotTS)

	SetPageCRC(buf)
	return buf
}

// UnmarshalHeaderPage decodes page 0 from buf, validating magic, version,
// the MVCC flag, and CRC. Timestamp fields are returned as stored, without
// checks.
func UnmarshalHeaderPage(buf []byte) (*Header, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("%w: header page too small: %d bytes", ErrCorruption, len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("header page: %w", err)
	}
	magic := string(buf[hdMagicOff : hdMagicOff+8])
	if magic != HeaderMagic {
		return nil, fmt.Errorf("%w: bad magic %q, expected %q", ErrCorruption, magic, HeaderMagic)
	}

	h := &Header{
		MajorVersion:        binary.LittleEndian.Uint16(buf[hdMajorVersionOff:]),
		MinorVersion:        binary.LittleEndian.Uint16(buf[hdMinorVersionOff:]),
		PageSize:            binary.LittleEndian.Uint32(buf[hdPageSizeOff:]),
		NextNodeID:          binary.LittleEndian.Uint64(buf[hdNextNodeIDOff:]),
		NextEdgeID:          binary.LittleEndian.Uint64(buf[hdNextEdgeIDOff:]),
		FreeListHead:        PageID(binary.LittleEndian.Uint32(buf[hdFreeListHeadOff:])),
		HintPage:            PageID(binary.LittleEndian.Uint32(buf[hdHintPageOff:])),
		LastCommittedTxID:   TxID(binary.LittleEndian.Uint64(buf[hdLastTxIDOff:])),
		PrimaryIndexRoot:    PageID(binary.LittleEndian.Uint32(buf[hdPrimaryRootOff:])),
		PrimaryIndexSize:    binary.LittleEndian.Uint32(buf[hdPrimarySizeOff:]),
		PropertyIndexRoot:   PageID(binary.LittleEndian.Uint32(buf[hdPropertyRootOff:])),
		PropertyIndexCount:  binary.LittleEndian.Uint32(buf[hdPropertyCountOff:]),
		PropertyIndexFormat: binary.LittleEndian.Uint16(buf[hdPropertyFmtOff:]),
		MaxTimestamp:        binary.LittleEndian.Uint64(buf[hdMaxTimestampOff:]),
		OldestSnapshotTS:    binary.LittleEndian.Uint64(buf[hdOldestSnapOff:]),
	}

	if h.MajorVersion != CurrentMajorVersion {
		return nil, fmt.Errorf("unsupported major version %d (this build supports %d)",
			h.MajorVersion, CurrentMajorVersion)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size %d out of range [%d..%d]",
			ErrCorruption, h.PageSize, MinPageSize, MaxPageSize)
	}
	if h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrCorruption, h.PageSize)
	}
	if buf[hdMVCCFlagOff] != MVCCEnabled {
		return nil, fmt.Errorf("%w: MVCC flag byte must be 1, got %d", ErrCorruption, buf[hdMVCCFlagOff])
	}

	return h, nil
}

// NewHeader returns the Header for a freshly created, empty database.
// Node/edge ids and timestamps start at 1 — the timestamp oracle treats 0
// as "unset" and would otherwise confuse a fresh header with a corrupt one.
func NewHeader(pageSize uint32) *Header {
	return &Header{
		MajorVersion:        CurrentMajorVersion,
		MinorVersion:        CurrentMinorVersion,
		PageSize:            pageSize,
		NextNodeID:          1,
		NextEdgeID:          1,
		FreeListHead:        InvalidPageID,
		HintPage:            InvalidPageID,
		LastCommittedTxID:   0,
		PrimaryIndexRoot:    InvalidPageID,
		PrimaryIndexSize:    0,
		PropertyIndexRoot:   InvalidPageID,
		PropertyIndexCount:  0,
		PropertyIndexFormat: CurrentPropertyIndexFormat,
		MaxTimestamp:        1,
		OldestSnapshotTS:    1,
	}
}
