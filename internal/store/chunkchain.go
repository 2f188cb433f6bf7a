package store

import (
	"encoding/binary"
	"fmt"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Chunked page chain — shared persistence mechanism for the primary-index
// (BIDX) and property-index (PIDX) streams.
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §6 describes both streams as "a length-prefixed stream written
// across a linked page chain (4-byte chunk length + 4-byte next-page link
// per page)". Every other non-header page in this module carries a
// pager.MiniHeader (type/id/LSN) ahead of its type-specific fields — same
// generalization internal/pager/freelist.go applies to its own next/count
// fields — so the chunk length and next-page link sit right after the
// mini-header here too, at [16:20) and [20:24), with chunk bytes following
// at [24:pageSize-ChecksumSize).

const (
	chunkLenOff   = pager.MiniHeaderSize       // 16
	chunkNextOff  = chunkLenOff + 4            // 20
	chunkDataOff  = chunkNextOff + 4           // 24
)

// writeChunkChain splits blob across as many pages as needed (via alloc)
// and returns the head page id. Every produced page buffer is CRC'd and
// passed to write for persistence.
func writeChunkChain(blob []byte, pageType pager.PageType, pageSize int,
	alloc func() (pager.PageID, []byte), write func(pager.PageID, []byte) error) (pager.PageID, error) {

	if len(blob) == 0 {
		return pager.InvalidPageID, nil
	}

	capacity := pageSize - chunkDataOff - pager.ChecksumSize
	if capacity <= 0 {
		return pager.InvalidPageID, fmt.Errorf("store: page size %d too small for chunk chain", pageSize)
	}

	type pending struct {
		id  pager.PageID
		buf []byte
	}
	var pages []pending

	for off := 0; off < len(blob); off += capacity {
		end := off + capacity
		if end > len(blob) {
			end = len(blob)
		}
		id, buf := alloc()
		mh := &pager.MiniHeader{Type: pageType, ID: id}
		pager.MarshalMiniHeader(mh, buf)
		binary.LittleEndian.PutUint32(buf[chunkLenOff:], uint32(end-off))
		binary.LittleEndian.PutUint32(buf[chunkNextOff:], uint32(pager.InvalidPageID))
		copy(buf[chunkDataOff:], blob[off:end])
		pages = append(pages, pending{id: id, buf: buf})
	}

	for i := 0; i < len(pages)-1; i++ {
		binary.LittleEndian.PutUint32(pages[i].buf[chunkNextOff:], uint32(pages[i+1].id))
	}
	for _, p := range pages {
		pager.SetPageCRC(p.buf)
		if err := write(p.id, p.buf); err != nil {
			return pager.InvalidPageID, err
		}
	}
	return pages[0].id, nil
}

// readChunkChain walks the chain starting at head and reassembles the blob.
func readChunkChain(head pager.PageID, read func(pager.PageID) ([]byte, error)) ([]byte, error) {
	var out []byte
	id := head
	for id != pager.InvalidPageID {
		buf, err := read(id)
		if err != nil {
			return nil, err
		}
		if err := pager.VerifyPageCRC(buf); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(buf[chunkLenOff:])
		next := pager.PageID(binary.LittleEndian.Uint32(buf[chunkNextOff:]))
		if chunkDataOff+int(n) > len(buf) {
			return nil, fmt.Errorf("%w: chunk length %d overruns page", pager.ErrCorruption, n)
		}
		out = append(out, buf[chunkDataOff:chunkDataOff+int(n)]...)
		id = next
	}
	return out, nil
}

// freeChunkChain walks the chain starting at head, freeing every page.
func freeChunkChain(head pager.PageID, read func(pager.PageID) ([]byte, error), free func(pager.PageID)) {
	id := head
	for id != pager.InvalidPageID {
		buf, err := read(id)
		if err != nil {
			return
		}
		next := pager.PageID(binary.LittleEndian.Uint32(buf[chunkNextOff:]))
		free(id)
		id = next
	}
}
