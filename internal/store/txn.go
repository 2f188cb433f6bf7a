package store

import (
	"fmt"
	"time"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Transaction manager
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's TxContext/transaction lifecycle
// (internal/storage/mvcc.go, internal/engine transaction handling) and the
// 8-step commit sequence of spec.md §4.7; only one write Txn (Begin) may be
// active on a Store at a time (Store.wmu), matching the single-writer
// critical section of spec.md §5 — but any number of read-only Txns
// (BeginRead) run concurrently with each other and with that writer, since
// BeginRead never touches Store.wmu.

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

type txMode int

const (
	// txModeWrite transactions hold Store.wmu for their entire lifetime —
	// only one may be Active at a time (spec.md §5 single-writer critical
	// section).
	txModeWrite txMode = iota
	// txModeRead transactions never touch Store.wmu: they take only an
	// oracle snapshot, so any number may run concurrently with each other
	// and with the single active writer (spec.md §5, §8 scenario S2).
	txModeRead
)

type pendingVersion struct {
	id  uint64
	ptr RecordPointer
}

type pendingDeletion struct {
	id uint64
}

type pendingPropBinding struct {
	label, key string
	value      PropertyValue
	id         uint64
}

type pendingPropRemoval struct {
	label, key string
	value      PropertyValue
	id         uint64
}

// Txn is an in-flight transaction against a Store.
type Txn struct {
	store *Store

	id     pager.TxID
	mode   txMode
	snapTS uint64
	state  txState

	nextNodeID uint64
	nextEdgeID uint64

	dirtyPages    map[pager.PageID]struct{}
	maxDirtyPages int
	deadline      time.Time

	newVersions      []pendingVersion
	removedVersions  []pendingDeletion
	newPropBindings  []pendingPropBinding
	removedPropBinds []pendingPropRemoval

	// nodePending/edgePending cache the pointer of a record this
	// transaction itself already wrote, so repeated saves within the
	// same transaction update in place instead of growing the version
	// chain once per call.
	nodePending map[uint64]RecordPointer
	edgePending map[uint64]RecordPointer
}

// Begin starts a new write transaction. Only one may be Active on a Store
// at a time; Begin blocks until the prior write transaction commits or
// rolls back (read-only transactions do not block it).
func (s *Store) Begin() (*Txn, error) {
	s.wmu.Lock()

	id, err := s.pg.BeginTx()
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}
	if err := s.pg.BeginShadow(); err != nil {
		s.wmu.Unlock()
		return nil, err
	}

	snapTS := s.oracle.AllocateRead()
	s.oracle.RegisterSnapshot(snapTS)

	hdr := s.pg.HeaderPage()
	deadline := time.Time{}
	if s.cfg.DefaultDeadline > 0 {
		deadline = time.Now().Add(s.cfg.DefaultDeadline)
	}

	return &Txn{
		store:         s,
		id:            id,
		mode:          txModeWrite,
		snapTS:        snapTS,
		state:         txActive,
		nextNodeID:    hdr.NextNodeID,
		nextEdgeID:    hdr.NextEdgeID,
		dirtyPages:    make(map[pager.PageID]struct{}),
		maxDirtyPages: s.cfg.MaxDirtyPages,
		deadline:      deadline,
		nodePending:   make(map[uint64]RecordPointer),
		edgePending:   make(map[uint64]RecordPointer),
	}, nil
}

// BeginRead starts a read-only transaction: a snapshot timestamp and
// nothing else. It never touches Store.wmu, so any number of readers may
// run concurrently with each other and with the single active writer,
// per spec.md §5 and the S2 scenario of spec.md §8 — a reader opened
// before a writer begins keeps seeing its own snapshot even while that
// writer commits. Callers must still resolve it with Commit or Rollback
// (both just release the snapshot; a read-only Commit never touches the
// WAL or header).
func (s *Store) BeginRead() (*Txn, error) {
	snapTS := s.oracle.AllocateRead()
	s.oracle.RegisterSnapshot(snapTS)

	deadline := time.Time{}
	if s.cfg.DefaultDeadline > 0 {
		deadline = time.Now().Add(s.cfg.DefaultDeadline)
	}

	return &Txn{
		store:       s,
		mode:        txModeRead,
		snapTS:      snapTS,
		state:       txActive,
		deadline:    deadline,
		nodePending: make(map[uint64]RecordPointer),
		edgePending: make(map[uint64]RecordPointer),
	}, nil
}

func (t *Txn) checkActive() error {
	if t.state != txActive {
		return ErrTransactionNotActive
	}
	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		return ErrDeadlineExceeded
	}
	return nil
}

// checkWritable is checkActive plus the read-only guard; every mutating
// entry point (AddNode, AddEdge, DeleteNode, DeleteEdge, SetProperty,
// RemoveProperty, SaveNode, SaveEdge) calls this instead of checkActive
// directly, so a transaction opened with BeginRead can never write.
func (t *Txn) checkWritable() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if t.mode == txModeRead {
		return ErrReadOnly
	}
	return nil
}

func (t *Txn) trackDirty(pid pager.PageID) error {
	t.dirtyPages[pid] = struct{}{}
	if t.maxDirtyPages > 0 && len(t.dirtyPages) > t.maxDirtyPages {
		return ErrCapExceeded
	}
	return nil
}

// ── NodeAccessor / EdgeAccessor, used by adjacency.go splice helpers ──────

func (t *Txn) LoadNode(id uint64) (*Node, error) {
	var ptr RecordPointer
	if p, ok := t.nodePending[id]; ok {
		ptr = p
	} else {
		v := t.store.primary.VisibleVersion(id, t.snapTS, t.id)
		if v == nil {
			return nil, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
		}
		ptr = v.Pointer
	}
	kind, payload, err := t.store.readRecord(ptr)
	if err != nil {
		return nil, err
	}
	if kind != RecordKindNode {
		return nil, fmt.Errorf("%w: record %v is not a node", pager.ErrCorruption, ptr)
	}
	return DecodeNode(payload)
}

func (t *Txn) SaveNode(n *Node) error {
	wrapped, err := wrapRecord(RecordKindNode, EncodeNode(n))
	if err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}

	if ptr, ok := t.nodePending[n.ID]; ok {
		buf, err := t.store.pg.ReadPage(ptr.PageID)
		if err != nil {
			return err
		}
		sp := pager.WrapSlottedPage(buf)
		if err := sp.UpdateRecord(int(ptr.Slot), wrapped); err == nil {
			pager.SetPageCRC(sp.Bytes())
			werr := t.store.pg.WritePage(t.id, ptr.PageID, sp.Bytes())
			t.store.pg.UnpinPage(ptr.PageID)
			if werr != nil {
				return werr
			}
			return t.trackDirty(ptr.PageID)
		}
		t.store.pg.UnpinPage(ptr.PageID)
		// fell through: no longer fits in place, allocate a fresh slot below
	}

	ptr, err := t.store.allocNodeSlot(wrapped)
	if err != nil {
		return err
	}
	t.nodePending[n.ID] = ptr
	t.store.primary.Insert(n.ID, &VersionEntry{Pointer: ptr, Creator: t.id})
	t.newVersions = append(t.newVersions, pendingVersion{id: n.ID, ptr: ptr})
	return t.trackDirty(ptr.PageID)
}

func (t *Txn) LoadEdge(id uint64) (*Edge, error) {
	var ptr RecordPointer
	if p, ok := t.edgePending[id]; ok {
		ptr = p
	} else {
		v := t.store.primary.VisibleVersion(id, t.snapTS, t.id)
		if v == nil {
			return nil, fmt.Errorf("edge %d: %w", id, ErrEdgeNotFound)
		}
		ptr = v.Pointer
	}
	kind, payload, err := t.store.readRecord(ptr)
	if err != nil {
		return nil, err
	}
	if kind != RecordKindEdge {
		return nil, fmt.Errorf("%w: record %v is not an edge", pager.ErrCorruption, ptr)
	}
	return DecodeEdge(payload)
}

func (t *Txn) SaveEdge(e *Edge) error {
	wrapped, err := wrapRecord(RecordKindEdge, EncodeEdge(e))
	if err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}

	if ptr, ok := t.edgePending[e.ID]; ok {
		buf, err := t.store.pg.ReadPage(ptr.PageID)
		if err != nil {
			return err
		}
		sp := pager.WrapSlottedPage(buf)
		if err := sp.UpdateRecord(int(ptr.Slot), wrapped); err == nil {
			pager.SetPageCRC(sp.Bytes())
			werr := t.store.pg.WritePage(t.id, ptr.PageID, sp.Bytes())
			t.store.pg.UnpinPage(ptr.PageID)
			if werr != nil {
				return werr
			}
			return t.trackDirty(ptr.PageID)
		}
		t.store.pg.UnpinPage(ptr.PageID)
	}

	ptr, err := t.store.allocEdgeSlot(wrapped)
	if err != nil {
		return err
	}
	t.edgePending[e.ID] = ptr
	t.store.primary.Insert(e.ID, &VersionEntry{Pointer: ptr, Creator: t.id})
	t.newVersions = append(t.newVersions, pendingVersion{id: e.ID, ptr: ptr})
	return t.trackDirty(ptr.PageID)
}

// ── Commit / Rollback ──────────────────────────────────────────────────────

// Commit executes the 8-step commit sequence of spec.md §4.7 for a write
// transaction, or simply releases the snapshot for one opened with
// BeginRead — a read-only transaction never touched the WAL, the header,
// or Store.wmu, so there is nothing to commit but the snapshot itself.
func (t *Txn) Commit() error {
	// 1. Sanity-check Active.
	if err := t.checkActive(); err != nil {
		return err
	}

	if t.mode == txModeRead {
		t.store.oracle.UnregisterSnapshot(t.snapTS)
		t.state = txCommitted
		return nil
	}

	// 2. Final dirty-page snapshot already tracked incrementally; re-check cap.
	if t.maxDirtyPages > 0 && len(t.dirtyPages) > t.maxDirtyPages {
		return ErrCapExceeded
	}

	// 3-4. Write-lock the header (serialized: we hold store.wmu for the
	// whole transaction), set last_committed_tx_id and max_timestamp,
	// mark the header page dirty — UpdateHeaderPage plus the header
	// page-image write inside pager.CommitTx.
	c := t.store.oracle.AllocateCommit()
	t.store.pg.UpdateHeaderPage(func(h *pager.Header) {
		h.LastCommittedTxID = t.id
		h.MaxTimestamp = c
		if t.nextNodeID > h.NextNodeID {
			h.NextNodeID = t.nextNodeID
		}
		if t.nextEdgeID > h.NextEdgeID {
			h.NextEdgeID = t.nextEdgeID
		}
	})

	// 5-6. Stamp every new/removed version with C, unless the transaction
	// neither wrote a page nor deleted anything. The header and COMMIT
	// frames below are appended either way.
	if len(t.dirtyPages) > 0 || len(t.removedVersions) > 0 {
		for _, nv := range t.newVersions {
			t.store.primary.StampCreated(nv.id, nv.ptr, c)
		}
		for _, rv := range t.removedVersions {
			t.store.primary.StampDeleted(rv.id, c)
		}
		for _, pb := range t.newPropBindings {
			t.store.props.StampCreated(pb.label, pb.key, pb.value, pb.id, c)
		}
		for _, pr := range t.removedPropBinds {
			t.store.props.Unbind(pr.label, pr.key, pr.value, pr.id, c)
		}
	}

	// 7. Commit the shadow buffer (stop tracking pre-images) then append
	// the header page frame and COMMIT frame to the WAL (the dirty page
	// frames were appended as each page was written).
	t.store.pg.CommitShadow()
	if err := t.store.pg.CommitTx(t.id); err != nil {
		t.state = txRolledBack
		t.store.oracle.UnregisterSnapshot(t.snapTS)
		t.store.wmu.Unlock()
		return fmt.Errorf("commit: %w", err)
	}

	// 8. Unregister snapshot, exit the transaction slot.
	t.store.oracle.UnregisterSnapshot(t.snapTS)
	t.state = txCommitted
	t.store.wmu.Unlock()
	return nil
}

// Rollback discards every write this transaction made, or — for a
// read-only transaction opened with BeginRead, which never wrote
// anything or acquired Store.wmu — just releases its snapshot.
func (t *Txn) Rollback() error {
	if t.state != txActive {
		return ErrTransactionNotActive
	}
	if t.mode == txModeRead {
		t.store.oracle.UnregisterSnapshot(t.snapTS)
		t.state = txRolledBack
		return nil
	}
	if err := t.store.pg.RollbackShadow(); err != nil {
		return err
	}
	if err := t.store.pg.AbortTx(t.id); err != nil {
		return err
	}

	for _, nv := range t.newVersions {
		t.store.primary.RemoveVersion(nv.id, nv.ptr)
	}
	for _, rv := range t.removedVersions {
		t.store.primary.ClearDeleting(rv.id, t.id)
	}
	for _, pb := range t.newPropBindings {
		t.store.props.RemoveBinding(pb.label, pb.key, pb.value, pb.id)
	}
	for _, pr := range t.removedPropBinds {
		t.store.props.ClearUnbinding(pr.label, pr.key, pr.value, pr.id, uint64(t.id))
	}

	t.store.oracle.UnregisterSnapshot(t.snapTS)
	t.state = txRolledBack
	t.store.wmu.Unlock()
	return nil
}

// Abandoned reports whether this transaction was dropped while Active,
// the misuse condition spec.md §4.7 requires detecting distinctly. Callers
// embed it in a defer to catch the case their own code forgot to resolve
// the transaction:
//
//	txn, _ := store.Begin()
//	defer func() {
//	    if err := txn.Abandoned(); err != nil { log.Print(err) }
//	}()
func (t *Txn) Abandoned() error {
	if t.state == txActive {
		_ = t.Rollback()
		return ErrTransactionAbandoned
	}
	return nil
}
