package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Store — graph core wiring
// ───────────────────────────────────────────────────────────────────────────
//
// Store ties the pager, timestamp oracle, and the three in-memory indexes
// together into the object that Begin()'s transactions operate against.
// Grounded on the teacher's Engine/Database type (cmd/tinysql and
// internal/storage/pager.go wiring a Pager + MVCCManager + catalog into one
// handle), generalized from SQL tables to the node/edge graph model.

// Config configures a Store, wrapping pager.PagerConfig with the
// transaction-level defaults every Txn inherits unless overridden.
type Config struct {
	Pager             pager.PagerConfig
	MaxDirtyPages     int           // per-transaction dirty-page cap, 0 = DefaultMaxDirtyPages
	DefaultDeadline   time.Duration // 0 = no deadline
	GroupCommitWindow time.Duration // batching window once WALSyncMode is WALSyncGroup; 0 = default
}

const DefaultMaxDirtyPages = 4096

// Store is an open graph database.
type Store struct {
	pg     *pager.Pager
	oracle *TimestampOracle

	primary *PrimaryIndex
	labels  *LabelIndex
	props   *PropertyIndex

	// wmu is held for the full lifetime of every write transaction
	// (Begin...Commit/Rollback) so at most one write transaction is ever
	// Active at a time (spec.md §5 single-writer critical section).
	// Read-only transactions (BeginRead) never acquire it at all, so any
	// number of readers run concurrently with each other and with the
	// single active writer — only write transactions serialize on this
	// lock, never readers.
	wmu sync.Mutex

	pageMu      sync.Mutex
	curNodePage pager.PageID
	curEdgePage pager.PageID

	groupCommit *GroupCommit

	// instanceID is a random per-open identifier (not persisted — it is a
	// diagnostic aid for correlating a crash report or integrity error
	// with a specific process lifetime, not part of the on-disk format).
	instanceID uuid.UUID

	cfg Config
}

// InstanceID returns this open's random diagnostic identifier.
func (s *Store) InstanceID() uuid.UUID {
	return s.instanceID
}

// Open opens (creating if necessary) a graph database at cfg.Pager.DBPath.
func Open(cfg Config) (*Store, error) {
	pg, err := pager.OpenPager(cfg.Pager)
	if err != nil {
		return nil, err
	}
	hdr := pg.HeaderPage()

	oracle, err := oracleFromHeader(&hdr)
	if err != nil {
		pg.Close()
		return nil, err
	}

	s := &Store{
		pg:          pg,
		oracle:      oracle,
		primary:     NewPrimaryIndex(),
		labels:      NewLabelIndex(),
		props:       NewPropertyIndex(),
		curNodePage: pager.InvalidPageID,
		curEdgePage: pager.InvalidPageID,
		instanceID:  uuid.New(),
		cfg:         cfg,
	}
	if cfg.MaxDirtyPages <= 0 {
		s.cfg.MaxDirtyPages = DefaultMaxDirtyPages
	}
	if cfg.Pager.WALSyncMode == pager.WALSyncGroup {
		s.groupCommit = NewGroupCommit(pg.SyncWAL, cfg.GroupCommitWindow)
		pg.SetGroupSync(s.groupCommit.RequestSync)
	}

	if hdr.PrimaryIndexRoot != pager.InvalidPageID {
		blob, err := readChunkChain(hdr.PrimaryIndexRoot, pg.ReadPage)
		if err != nil {
			pg.Close()
			return nil, err
		}
		idx, err := DeserializePrimaryIndex(blob)
		if err != nil {
			pg.Close()
			return nil, err
		}
		s.primary = idx
	}
	if hdr.PropertyIndexRoot != pager.InvalidPageID {
		blob, err := readChunkChain(hdr.PropertyIndexRoot, pg.ReadPage)
		if err != nil {
			pg.Close()
			return nil, err
		}
		pidx, err := DeserializePropertyIndex(blob)
		if err != nil {
			pg.Close()
			return nil, err
		}
		s.props = pidx
	}
	s.rebuildLabelIndex()

	return s, nil
}

func oracleFromHeader(hdr *pager.Header) (*TimestampOracle, error) {
	if hdr.MaxTimestamp == 0 {
		return NewTimestampOracle(), nil
	}
	return RestoreTimestampOracle(hdr.MaxTimestamp)
}

// rebuildLabelIndex reconstructs the label index by decoding every live
// node's current version — the label index itself is not separately
// persisted (spec.md §6 only names BIDX and PIDX streams).
func (s *Store) rebuildLabelIndex() {
	s.labels = NewLabelIndex()
	for _, id := range s.primary.Keys() {
		v := s.primary.Latest(id)
		if v == nil || v.DeletedTS != 0 {
			continue
		}
		buf, err := s.pg.ReadPage(v.Pointer.PageID)
		if err != nil {
			continue
		}
		sp := pager.WrapSlottedPage(buf)
		rec := sp.GetRecord(int(v.Pointer.Slot))
		s.pg.UnpinPage(v.Pointer.PageID)
		if rec == nil {
			continue
		}
		kind, payload, err := unwrapRecord(rec)
		if err != nil || kind != RecordKindNode {
			continue
		}
		n, err := DecodeNode(payload)
		if err != nil {
			continue
		}
		for _, l := range n.Labels {
			s.labels.Add(l, n.ID)
		}
	}
}

// Close flushes and closes the underlying pager.
func (s *Store) Close() error {
	if s.groupCommit != nil {
		s.groupCommit.Shutdown()
	}
	return s.pg.Close()
}

// Checkpoint persists the primary and property indexes as BIDX/PIDX chunk
// chains, updates the header's index-root fields, and checkpoints the
// pager (spec.md §4.1/§4.4/§4.5).
func (s *Store) Checkpoint() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	hdr := s.pg.HeaderPage()
	oldPrimaryRoot := hdr.PrimaryIndexRoot
	oldPropRoot := hdr.PropertyIndexRoot

	primaryBlob := s.primary.Serialize()
	primaryRoot, err := writeChunkChain(primaryBlob, pager.PageTypePrimaryIndex, s.pg.PageSize(), s.pg.AllocPage, func(id pager.PageID, buf []byte) error {
		return s.pg.WritePage(0, id, buf)
	})
	if err != nil {
		return err
	}

	propBlob := s.props.Serialize()
	propRoot, err := writeChunkChain(propBlob, pager.PageTypePropertyIndex, s.pg.PageSize(), s.pg.AllocPage, func(id pager.PageID, buf []byte) error {
		return s.pg.WritePage(0, id, buf)
	})
	if err != nil {
		return err
	}

	s.pg.UpdateHeaderPage(func(h *pager.Header) {
		h.PrimaryIndexRoot = primaryRoot
		h.PrimaryIndexSize = uint32(len(primaryBlob))
		h.PropertyIndexRoot = propRoot
		h.PropertyIndexCount = uint32(len(propBlob))
		h.OldestSnapshotTS = s.oracle.GCEligibleBefore()
	})

	if err := s.pg.Checkpoint(); err != nil {
		return err
	}

	if oldPrimaryRoot != pager.InvalidPageID && oldPrimaryRoot != primaryRoot {
		freeChunkChain(oldPrimaryRoot, s.pg.ReadPage, s.pg.FreePage)
	}
	if oldPropRoot != pager.InvalidPageID && oldPropRoot != propRoot {
		freeChunkChain(oldPropRoot, s.pg.ReadPage, s.pg.FreePage)
	}
	return nil
}

// Flush is an alias for Checkpoint — the external-facing name spec.md §6
// uses for "durably persist everything written so far".
func (s *Store) Flush() error {
	return s.Checkpoint()
}

// allocNodeSlot inserts wrapped into a page with room for it, reusing the
// currently open node page when possible, and returns where it landed.
func (s *Store) allocNodeSlot(wrapped []byte) (RecordPointer, error) {
	return s.allocSlot(&s.curNodePage, pager.PageTypeRecord, wrapped)
}

func (s *Store) allocEdgeSlot(wrapped []byte) (RecordPointer, error) {
	return s.allocSlot(&s.curEdgePage, pager.PageTypeRecord, wrapped)
}

func (s *Store) allocSlot(cur *pager.PageID, pt pager.PageType, wrapped []byte) (RecordPointer, error) {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()

	if *cur != pager.InvalidPageID {
		buf, err := s.pg.ReadPage(*cur)
		if err == nil {
			sp := pager.WrapSlottedPage(buf)
			if sp.FreeSpace() >= len(wrapped)+8 {
				slot, err := sp.InsertRecord(wrapped)
				if err == nil {
					pager.SetPageCRC(sp.Bytes())
					if err := s.pg.WritePage(0, *cur, sp.Bytes()); err != nil {
						s.pg.UnpinPage(*cur)
						return RecordPointer{}, err
					}
					s.pg.UnpinPage(*cur)
					return RecordPointer{PageID: *cur, Slot: uint16(slot)}, nil
				}
			}
			s.pg.UnpinPage(*cur)
		}
	}

	id, buf := s.pg.AllocPage()
	sp := pager.InitSlottedPage(buf, pt, id)
	slot, err := sp.InsertRecord(wrapped)
	if err != nil {
		return RecordPointer{}, err
	}
	pager.SetPageCRC(sp.Bytes())
	if err := s.pg.WritePage(0, id, sp.Bytes()); err != nil {
		return RecordPointer{}, err
	}
	*cur = id
	return RecordPointer{PageID: id, Slot: uint16(slot)}, nil
}

func (s *Store) readRecord(ptr RecordPointer) (RecordKind, []byte, error) {
	buf, err := s.pg.ReadPage(ptr.PageID)
	if err != nil {
		return 0, nil, err
	}
	defer s.pg.UnpinPage(ptr.PageID)
	sp := pager.WrapSlottedPage(buf)
	rec := sp.GetRecord(int(ptr.Slot))
	if rec == nil {
		return 0, nil, ErrNodeNotFound
	}
	return unwrapRecord(rec)
}
