package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & Verification Tools
// ───────────────────────────────────────────────────────────────────────────
//
// These are the low-level, page-format-only half of verify_integrity
// (spec.md §4.1/§8): CRC checks and mini-header consistency across every
// page in the file. The higher-level half — confirming every record page
// is reachable from the primary index, and every index binding points at
// a live record — needs primary-index/property-index knowledge the pager
// package does not have, and lives in internal/store instead.

// PageInfo holds inspection information about a single non-header page.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	LSN      LSN
	CRCValid bool

	// Slotted-page stats (Type == PageTypeRecord).
	SlotCount int
	FreeSpace int

	// Free-list stats (Type == PageTypeFreeList).
	NextFreeList PageID
	EntryCount   int
}

// InspectPage reads a single non-header page and returns detailed information.
func InspectPage(dbPath string, pageID PageID, pageSize int) (*PageInfo, error) {
	if pageID == 0 {
		return nil, fmt.Errorf("page 0 is the header page; use InspectHeaderPage")
	}
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	off := int64(pageID) * int64(pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}

	mh := UnmarshalMiniHeader(buf)
	crcValid := VerifyPageCRC(buf) == nil

	info := &PageInfo{
		ID:       mh.ID,
		Type:     mh.Type,
		TypeStr:  mh.Type.String(),
		LSN:      mh.LSN,
		CRCValid: crcValid,
	}

	switch mh.Type {
	case PageTypeRecord:
		sp := WrapSlottedPage(buf)
		info.SlotCount = sp.SlotCount()
		info.FreeSpace = sp.FreeSpace()
	case PageTypeFreeList:
		fl := WrapFreeListPage(buf)
		info.NextFreeList = fl.NextFreeList()
		info.EntryCount = fl.EntryCount()
	}

	return info, nil
}

// VerifyFile checks the structural integrity of an entire database file:
// the header page decodes cleanly, the file size is a whole number of
// pages, and every page's trailing CRC matches its contents. Returns a
// list of issues found (empty = healthy).
func VerifyFile(dbPath string) ([]string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var issues []string

	hdrBuf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(hdrBuf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < MinPageSize {
		return []string{"file too small to contain a header page"}, nil
	}

	// Peek at the page-size field so the buffer can be trimmed to the
	// actual page size before CRC verification.
	peekPS := int(binary.LittleEndian.Uint32(hdrBuf[hdPageSizeOff:]))
	if peekPS >= MinPageSize && peekPS <= MaxPageSize && peekPS <= n {
		hdrBuf = hdrBuf[:peekPS]
	} else {
		hdrBuf = hdrBuf[:n]
	}

	hdr, err := UnmarshalHeaderPage(hdrBuf)
	if err != nil {
		return []string{fmt.Sprintf("header page: %v", err)}, nil
	}

	pageSize := int(hdr.PageSize)
	totalPages := fi.Size() / int64(pageSize)
	if fi.Size()%int64(pageSize) != 0 {
		issues = append(issues, fmt.Sprintf("file size %d not a multiple of page size %d",
			fi.Size(), pageSize))
	}

	buf := make([]byte, pageSize)
	for i := int64(1); i < totalPages; i++ {
		if _, err := f.ReadAt(buf, i*int64(pageSize)); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: read error: %v", i, err))
			continue
		}
		if err := VerifyPageCRC(buf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		mh := UnmarshalMiniHeader(buf)
		if mh.ID != PageID(i) {
			issues = append(issues, fmt.Sprintf("page %d: mini-header ID mismatch (says %d)", i, mh.ID))
		}
	}

	return issues, nil
}

// WALInfo holds information about a WAL file.
type WALInfo struct {
	PageSize   int
	Records    int
	MinLSN     LSN
	MaxLSN     LSN
	TxCount    int
	Committed  int
	Aborted    int
	PageImages int
}

// InspectWAL reads and summarises a WAL file.
func InspectWAL(walPath string) (*WALInfo, error) {
	records, err := ReadAllRecords(walPath)
	if err != nil {
		return nil, err
	}

	info := &WALInfo{Records: len(records)}
	txSet := make(map[TxID]bool)

	for _, rec := range records {
		if info.MinLSN == 0 || rec.LSN < info.MinLSN {
			info.MinLSN = rec.LSN
		}
		if rec.LSN > info.MaxLSN {
			info.MaxLSN = rec.LSN
		}
		txSet[rec.TxID] = true

		switch rec.Type {
		case WALRecordCommit:
			info.Committed++
		case WALRecordAbort:
			info.Aborted++
		case WALRecordPageImage:
			info.PageImages++
		}
	}
	info.TxCount = len(txSet)

	f, err := os.Open(walPath)
	if err == nil {
		var hdr [WALFileHdrSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err == nil {
			info.PageSize = int(binary.LittleEndian.Uint32(hdr[12:16]))
		}
		f.Close()
	}

	return info, nil
}

// HeaderPageInfo holds display-friendly header-page data.
type HeaderPageInfo struct {
	MajorVersion      uint16
	MinorVersion      uint16
	PageSize          uint32
	NextNodeID        uint64
	NextEdgeID        uint64
	FreeListHead      PageID
	LastCommittedTxID TxID
	PrimaryIndexRoot  PageID
	PropertyIndexRoot PageID
	MaxTimestamp      uint64
	OldestSnapshotTS  uint64
	CRCValid          bool
}

// InspectHeaderPage reads and returns the header-page metadata.
func InspectHeaderPage(dbPath string) (*HeaderPageInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n >= hdPageSizeOff+4 {
		ps := int(binary.LittleEndian.Uint32(buf[hdPageSizeOff:]))
		if ps >= MinPageSize && ps <= MaxPageSize && ps <= n {
			buf = buf[:ps]
		} else {
			buf = buf[:n]
		}
	} else {
		buf = buf[:n]
	}

	crcValid := VerifyPageCRC(buf) == nil
	hdr, err := UnmarshalHeaderPage(buf)
	if err != nil {
		return &HeaderPageInfo{CRCValid: crcValid}, err
	}

	return &HeaderPageInfo{
		MajorVersion:      hdr.MajorVersion,
		MinorVersion:      hdr.MinorVersion,
		PageSize:          hdr.PageSize,
		NextNodeID:        hdr.NextNodeID,
		NextEdgeID:        hdr.NextEdgeID,
		FreeListHead:      hdr.FreeListHead,
		LastCommittedTxID: hdr.LastCommittedTxID,
		PrimaryIndexRoot:  hdr.PrimaryIndexRoot,
		PropertyIndexRoot: hdr.PropertyIndexRoot,
		MaxTimestamp:      hdr.MaxTimestamp,
		OldestSnapshotTS:  hdr.OldestSnapshotTS,
		CRCValid:          crcValid,
	}, nil
}
