package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Primary index
// ───────────────────────────────────────────────────────────────────────────
//
// Concurrent map from node/edge id to its version chain (newest first).
// Grounded on the teacher's MVCCTable.versions map (internal/storage/mvcc.go)
// generalized from row ids to graph node/edge ids and from a single
// RWMutex per table to one shared RWMutex (the whole index is one logical
// structure here, not per-table).

const bidxMagic = "BIDX"

// RecordPointer locates a record inside a slotted page.
type RecordPointer struct {
	PageID pager.PageID
	Slot   uint16
	Offset uint16
}

// VersionEntry is one entry in a version chain: a record pointer plus the
// MVCC bookkeeping needed to decide visibility (spec.md §3).
type VersionEntry struct {
	Pointer    RecordPointer
	Creator    pager.TxID
	CreatedTS  uint64    // 0 until commit
	DeletedTS  uint64    // 0 until tombstoned
	DeletingTx pager.TxID // nonzero while a not-yet-committed delete is pending
}

// Visible reports whether this version is visible to a reader with
// snapshot timestamp snapTS, where readerTx is the id of the transaction
// doing the read (so a transaction sees its own uncommitted writes and
// its own uncommitted deletes — spec.md §4.8's "created by T itself" rule
// extended symmetrically to deletion, since at most one write transaction
// is ever active at a time, spec.md §5).
func (v *VersionEntry) Visible(snapTS uint64, readerTx pager.TxID) bool {
	createdVisible := (v.CreatedTS != 0 && v.CreatedTS <= snapTS) ||
		(v.CreatedTS == 0 && v.Creator == readerTx)
	if !createdVisible {
		return false
	}
	if v.DeletedTS != 0 && snapTS >= v.DeletedTS {
		return false
	}
	if v.DeletedTS == 0 && v.DeletingTx != 0 && v.DeletingTx == readerTx {
		return false
	}
	return true
}

// PrimaryIndex is the in-memory map from id to version chain.
type PrimaryIndex struct {
	mu     sync.RWMutex
	chains map[uint64][]*VersionEntry
}

// NewPrimaryIndex returns an empty index.
func NewPrimaryIndex() *PrimaryIndex {
	return &PrimaryIndex{chains: make(map[uint64][]*VersionEntry)}
}

// Insert prepends a new version to id's chain (newest first).
func (idx *PrimaryIndex) Insert(id uint64, v *VersionEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chains[id] = append([]*VersionEntry{v}, idx.chains[id]...)
}

// Latest returns the head of id's version chain, or nil if unknown.
func (idx *PrimaryIndex) Latest(id uint64) *VersionEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	chain := idx.chains[id]
	if len(chain) == 0 {
		return nil
	}
	return chain[0]
}

// VisibleVersion walks id's chain newest-first and returns the first
// version visible under (snapTS, readerTx), or nil if none is.
func (idx *PrimaryIndex) VisibleVersion(id uint64, snapTS uint64, readerTx pager.TxID) *VersionEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, v := range idx.chains[id] {
		if v.Visible(snapTS, readerTx) {
			return v
		}
	}
	return nil
}

// GetAll returns the full version chain for id (newest first).
func (idx *PrimaryIndex) GetAll(id uint64) []*VersionEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*VersionEntry, len(idx.chains[id]))
	copy(out, idx.chains[id])
	return out
}

// FindByPointer reverse-looks-up the id owning ptr (linear scan; the
// property index is keyed by node id and does not call it).
func (idx *PrimaryIndex) FindByPointer(ptr RecordPointer) (uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, chain := range idx.chains {
		for _, v := range chain {
			if v.Pointer == ptr {
				return id, true
			}
		}
	}
	return 0, false
}

// RemoveVersion drops the single version entry at ptr from id's chain —
// used on rollback to undo one uncommitted Insert without disturbing any
// already-committed versions still in the chain.
func (idx *PrimaryIndex) RemoveVersion(id uint64, ptr RecordPointer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	chain := idx.chains[id]
	for i, v := range chain {
		if v.Pointer == ptr {
			idx.chains[id] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(idx.chains[id]) == 0 {
		delete(idx.chains, id)
	}
}

// Delete drops id's chain entirely. Rollback does not use it; it undoes
// single versions with RemoveVersion.
func (idx *PrimaryIndex) Delete(id uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.chains, id)
}

// Keys returns a sorted snapshot of every id present.
func (idx *PrimaryIndex) Keys() []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]uint64, 0, len(idx.chains))
	for id := range idx.chains {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StampCreated sets CreatedTS on the version entry of id's chain whose
// pointer is ptr.
func (idx *PrimaryIndex) StampCreated(id uint64, ptr RecordPointer, ts uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, v := range idx.chains[id] {
		if v.Pointer == ptr {
			v.CreatedTS = ts
			return
		}
	}
}

// MarkDeleting flags every live version in id's chain as tentatively
// deleted by tx, making it invisible to tx itself (read-your-own-deletes)
// while remaining visible to every other snapshot until the deletion
// actually commits.
func (idx *PrimaryIndex) MarkDeleting(id uint64, tx pager.TxID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, v := range idx.chains[id] {
		if v.DeletedTS == 0 {
			v.DeletingTx = tx
		}
	}
}

// ClearDeleting undoes MarkDeleting for tx — used on rollback.
func (idx *PrimaryIndex) ClearDeleting(id uint64, tx pager.TxID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, v := range idx.chains[id] {
		if v.DeletingTx == tx {
			v.DeletingTx = 0
		}
	}
}

// StampDeleted sets DeletedTS on every version entry currently in id's
// chain at the time of deletion — per spec.md §9 Open Question (i), every
// pointer in the chain gets stamped, not just the head.
func (idx *PrimaryIndex) StampDeleted(id uint64, ts uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, v := range idx.chains[id] {
		if v.DeletedTS == 0 {
			v.DeletedTS = ts
			v.DeletingTx = 0
		}
	}
}

// ───────────────────────────────────────────────────────────────────────────
// BIDX persistence
// ───────────────────────────────────────────────────────────────────────────

// Serialize encodes the index per spec.md §6:
//
//	magic "BIDX"(4) | version(2) | reserved(2) | node_count(8) | version_count(8)
//	entries: id(8) version_count(4) then version_count*(page_id:4, slot:2, offset:2)
//
// Only the current (post-GC) snapshot of each chain is meaningful once
// persisted: versions stamped with a deletion timestamp are left out, and
// timestamps are not carried in this compact wire form, so on reload every
// loaded version is treated as already-committed and globally visible
// (CreatedTS=1).
func (idx *PrimaryIndex) Serialize() []byte {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var totalVersions uint64
	ids := make([]uint64, 0, len(idx.chains))
	live := make(map[uint64][]*VersionEntry, len(idx.chains))
	for id, chain := range idx.chains {
		var keep []*VersionEntry
		for _, v := range chain {
			if v.DeletedTS == 0 {
				keep = append(keep, v)
			}
		}
		if len(keep) == 0 {
			continue
		}
		live[id] = keep
		ids = append(ids, id)
		totalVersions += uint64(len(keep))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, 16+len(ids)*12)
	buf = append(buf, bidxMagic...)
	buf = appendUint16(buf, 1) // version
	buf = appendUint16(buf, 0) // reserved
	buf = append(buf, make([]byte, 8)...)
	binary.LittleEndian.PutUint64(buf[len(buf)-8:], uint64(len(ids)))
	buf = append(buf, make([]byte, 8)...)
	binary.LittleEndian.PutUint64(buf[len(buf)-8:], totalVersions)

	for _, id := range ids {
		chain := live[id]
		buf = appendUint64(buf, id)
		buf = appendUint32(buf, uint32(len(chain)))
		for _, v := range chain {
			buf = appendUint32(buf, uint32(v.Pointer.PageID))
			buf = appendUint16(buf, v.Pointer.Slot)
			buf = appendUint16(buf, v.Pointer.Offset)
		}
	}
	return buf
}

// DeserializePrimaryIndex decodes a BIDX blob produced by Serialize.
func DeserializePrimaryIndex(data []byte) (*PrimaryIndex, error) {
	if len(data) < 20 || string(data[0:4]) != bidxMagic {
		return nil, fmt.Errorf("%w: bad BIDX magic", pager.ErrCorruption)
	}
	off := 4
	_ = binary.LittleEndian.Uint16(data[off:]) // version
	off += 2
	off += 2 // reserved
	nodeCount := binary.LittleEndian.Uint64(data[off:])
	off += 8
	off += 8 // total version count, informational only

	idx := NewPrimaryIndex()
	for i := uint64(0); i < nodeCount; i++ {
		id, o, err := readUint64(data, off)
		if err != nil {
			return nil, err
		}
		off = o
		vc, o, err := readUint32(data, off)
		if err != nil {
			return nil, err
		}
		off = o
		chain := make([]*VersionEntry, vc)
		for j := uint32(0); j < vc; j++ {
			pid, o, err := readUint32(data, off)
			if err != nil {
				return nil, err
			}
			off = o
			if off+4 > len(data) {
				return nil, fmt.Errorf("%w: truncated BIDX version entry", pager.ErrCorruption)
			}
			slot := binary.LittleEndian.Uint16(data[off:])
			off += 2
			byteOff := binary.LittleEndian.Uint16(data[off:])
			off += 2
			chain[j] = &VersionEntry{
				Pointer:   RecordPointer{PageID: pager.PageID(pid), Slot: slot, Offset: byteOff},
				CreatedTS: 1,
			}
		}
		idx.chains[id] = chain
	}
	return idx, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}
