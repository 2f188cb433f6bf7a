package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Property index
// ───────────────────────────────────────────────────────────────────────────
//
// (label, property key) -> ordered set of distinct values, each carrying
// the node ids bound to it plus the MVCC window that binding is visible
// in (spec.md §4.5). Grounded on the teacher's BTreeIndex
// (internal/storage/index.go) for the ordered-value-to-rowids shape,
// generalized to carry per-binding created_ts/deleted_ts the way
// mvcc.go's RowVersion does, since a property binding can itself be
// created and later superseded within the lifetime of a database.

const pidxMagic = "PIDX"

// propBinding is one (node, value) binding's visibility window.
type propBinding struct {
	CreatedTS  uint64
	DeletedTS  uint64
	DeletingTx uint64 // nonzero tx id while a not-yet-committed unbind is pending
}

// Visible reports whether this binding is visible at snapshot ts to
// reader readerTx (0 if the caller has no transaction context, e.g. a
// post-checkpoint reload where every binding is already committed).
func (b *propBinding) Visible(ts uint64, readerTx uint64) bool {
	if b.CreatedTS != 0 && b.CreatedTS > ts {
		return false
	}
	if b.DeletedTS != 0 && ts >= b.DeletedTS {
		return false
	}
	if b.DeletedTS == 0 && b.DeletingTx != 0 && b.DeletingTx == readerTx {
		return false
	}
	return true
}

type valueEntry struct {
	value PropertyValue
	nodes map[uint64]*propBinding
}

type propKey struct {
	Label string
	Key   string
}

// PropertyIndex holds every (label, property key) index in the database.
type PropertyIndex struct {
	mu      sync.RWMutex
	entries map[propKey][]*valueEntry
}

// NewPropertyIndex returns an empty property index.
func NewPropertyIndex() *PropertyIndex {
	return &PropertyIndex{entries: make(map[propKey][]*valueEntry)}
}

func (pi *PropertyIndex) findEntryLocked(pk propKey, v PropertyValue) *valueEntry {
	for _, e := range pi.entries[pk] {
		if e.value.Equal(v) {
			return e
		}
	}
	return nil
}

// Bind records that node id has property key on label set to value,
// created at timestamp createdTS (0 if not yet committed).
func (pi *PropertyIndex) Bind(label, key string, value PropertyValue, id uint64, createdTS uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pk := propKey{Label: label, Key: key}
	e := pi.findEntryLocked(pk, value)
	if e == nil {
		e = &valueEntry{value: value, nodes: make(map[uint64]*propBinding)}
		pi.entries[pk] = append(pi.entries[pk], e)
	}
	e.nodes[id] = &propBinding{CreatedTS: createdTS}
}

// RemoveBinding drops the (label, key, value, id) binding outright —
// used on rollback of a binding this transaction created but never
// committed (as opposed to Unbind, which stamps a deletion timestamp on
// an already-committed binding).
func (pi *PropertyIndex) RemoveBinding(label, key string, value PropertyValue, id uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return
	}
	delete(e.nodes, id)
}

// StampCreated sets CreatedTS for an existing binding (called once the
// owning transaction actually commits).
func (pi *PropertyIndex) StampCreated(label, key string, value PropertyValue, id uint64, ts uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return
	}
	if b := e.nodes[id]; b != nil {
		b.CreatedTS = ts
	}
}

// MarkUnbinding flags the (label, key, value, id) binding as tentatively
// removed by tx — invisible to tx itself but still visible to every other
// snapshot until the deletion commits (mirrors PrimaryIndex.MarkDeleting).
func (pi *PropertyIndex) MarkUnbinding(label, key string, value PropertyValue, id uint64, tx uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return
	}
	if b := e.nodes[id]; b != nil && b.DeletedTS == 0 {
		b.DeletingTx = tx
	}
}

// ClearUnbinding undoes MarkUnbinding for tx — used on rollback.
func (pi *PropertyIndex) ClearUnbinding(label, key string, value PropertyValue, id uint64, tx uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return
	}
	if b := e.nodes[id]; b != nil && b.DeletingTx == tx {
		b.DeletingTx = 0
	}
}

// Unbind finalizes a pending removal at commit timestamp ts, per
// spec.md §9 Open Question (i) — deletions are stamped, not deleted
// outright, the same policy the primary index uses.
func (pi *PropertyIndex) Unbind(label, key string, value PropertyValue, id uint64, ts uint64) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return
	}
	if b := e.nodes[id]; b != nil && b.DeletedTS == 0 {
		b.DeletedTS = ts
		b.DeletingTx = 0
	}
}

// FindEqual returns every node id bound to (label, key, value) visible at
// snapshot ts to reader readerTx, sorted ascending.
func (pi *PropertyIndex) FindEqual(label, key string, value PropertyValue, snapTS, readerTx uint64) []uint64 {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	e := pi.findEntryLocked(propKey{Label: label, Key: key}, value)
	if e == nil {
		return nil
	}
	out := make([]uint64, 0, len(e.nodes))
	for id, b := range e.nodes {
		if b.Visible(snapTS, readerTx) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindRange returns every node id bound to a value in [lo, hi] on
// (label, key), visible at snapshot ts to reader readerTx. lo/hi must be
// the same indexable kind as the stored values; entries of a different
// kind are skipped.
func (pi *PropertyIndex) FindRange(label, key string, lo, hi PropertyValue, snapTS, readerTx uint64) []uint64 {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	var out []uint64
	for _, e := range pi.entries[propKey{Label: label, Key: key}] {
		if e.value.Kind != lo.Kind {
			continue
		}
		if e.value.Less(lo) || hi.Less(e.value) {
			continue
		}
		for id, b := range e.nodes {
			if b.Visible(snapTS, readerTx) {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ───────────────────────────────────────────────────────────────────────────
// PIDX persistence
// ───────────────────────────────────────────────────────────────────────────

// Serialize encodes the index per spec.md §6:
//
//	magic "PIDX"(4) | version(2) | index_count(4)
//	per index: label_len(4)+bytes | key_len(4)+bytes | entry_count(4)
//	per entry: tagged IndexableValue | node_count(4) | node ids (8 each)
//
// As with BIDX, only currently-live bindings are meaningful once
// persisted; visibility timestamps are not carried in this compact wire
// form, so reload treats every loaded binding as committed (CreatedTS=1).
func (pi *PropertyIndex) Serialize() []byte {
	pi.mu.RLock()
	defer pi.mu.RUnlock()

	keys := make([]propKey, 0, len(pi.entries))
	for pk := range pi.entries {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Label != keys[j].Label {
			return keys[i].Label < keys[j].Label
		}
		return keys[i].Key < keys[j].Key
	})

	buf := make([]byte, 0, 10+len(keys)*16)
	buf = append(buf, pidxMagic...)
	buf = appendUint16(buf, 1)
	buf = appendUint32(buf, uint32(len(keys)))

	for _, pk := range keys {
		buf = appendLenPrefixed(buf, []byte(pk.Label))
		buf = appendLenPrefixed(buf, []byte(pk.Key))
		entries := pi.entries[pk]
		liveCount := 0
		for _, e := range entries {
			if len(liveNodeIDs(e)) > 0 {
				liveCount++
			}
		}
		buf = appendUint32(buf, uint32(liveCount))
		for _, e := range entries {
			ids := liveNodeIDs(e)
			if len(ids) == 0 {
				continue
			}
			buf = encodeIndexableValue(buf, e.value)
			buf = appendUint32(buf, uint32(len(ids)))
			for _, id := range ids {
				buf = appendUint64(buf, id)
			}
		}
	}
	return buf
}

func liveNodeIDs(e *valueEntry) []uint64 {
	ids := make([]uint64, 0, len(e.nodes))
	for id, b := range e.nodes {
		if b.DeletedTS == 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DeserializePropertyIndex decodes a PIDX blob produced by Serialize.
func DeserializePropertyIndex(data []byte) (*PropertyIndex, error) {
	if len(data) < 10 || string(data[0:4]) != pidxMagic {
		return nil, fmt.Errorf("%w: bad PIDX magic", pager.ErrCorruption)
	}
	off := 4
	off += 2 // version
	indexCount, off, err := readUint32(data, off)
	if err != nil {
		return nil, err
	}

	pi := NewPropertyIndex()
	for i := uint32(0); i < indexCount; i++ {
		labelB, o, err := readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		off = o
		keyB, o, err := readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		off = o
		entryCount, o, err := readUint32(data, off)
		if err != nil {
			return nil, err
		}
		off = o
		pk := propKey{Label: string(labelB), Key: string(keyB)}
		for j := uint32(0); j < entryCount; j++ {
			v, o, err := decodeIndexableValue(data, off)
			if err != nil {
				return nil, err
			}
			off = o
			nodeCount, o, err := readUint32(data, off)
			if err != nil {
				return nil, err
			}
			off = o
			e := &valueEntry{value: v, nodes: make(map[uint64]*propBinding, nodeCount)}
			for k := uint32(0); k < nodeCount; k++ {
				id, o, err := readUint64(data, off)
				if err != nil {
					return nil, err
				}
				off = o
				e.nodes[id] = &propBinding{CreatedTS: 1}
			}
			pi.entries[pk] = append(pi.entries[pk], e)
		}
	}
	return pi, nil
}
