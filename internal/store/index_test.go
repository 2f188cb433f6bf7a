package store

import (
	"testing"

	"github.com/grphite/grphite/internal/pager"
)

func TestPrimaryIndex_InsertAndLatest(t *testing.T) {
	idx := NewPrimaryIndex()
	p1 := RecordPointer{PageID: 1, Slot: 0}
	p2 := RecordPointer{PageID: 2, Slot: 1}

	idx.Insert(10, &VersionEntry{Pointer: p1, CreatedTS: 1})
	idx.Insert(10, &VersionEntry{Pointer: p2, CreatedTS: 2})

	latest := idx.Latest(10)
	if latest == nil || latest.Pointer != p2 {
		t.Fatalf("Latest(10) = %+v, want pointer %+v (newest first)", latest, p2)
	}
	if len(idx.GetAll(10)) != 2 {
		t.Errorf("GetAll(10) length = %d, want 2", len(idx.GetAll(10)))
	}
}

func TestPrimaryIndex_VisibleVersion_OwnWriteVisible(t *testing.T) {
	idx := NewPrimaryIndex()
	ptr := RecordPointer{PageID: 1, Slot: 0}
	idx.Insert(1, &VersionEntry{Pointer: ptr, Creator: 5, CreatedTS: 0})

	if v := idx.VisibleVersion(1, 100, 5); v == nil {
		t.Error("a version created by the reader's own transaction should be visible to it")
	}
	if v := idx.VisibleVersion(1, 100, 6); v != nil {
		t.Error("an uncommitted version should not be visible to another transaction")
	}
}

func TestPrimaryIndex_VisibleVersion_DeletionWindow(t *testing.T) {
	idx := NewPrimaryIndex()
	ptr := RecordPointer{PageID: 1, Slot: 0}
	idx.Insert(1, &VersionEntry{Pointer: ptr, CreatedTS: 1, DeletedTS: 10})

	if v := idx.VisibleVersion(1, 5, 0); v == nil {
		t.Error("version should be visible before its deletion timestamp")
	}
	if v := idx.VisibleVersion(1, 10, 0); v != nil {
		t.Error("version should not be visible at or after its deletion timestamp")
	}
}

func TestPrimaryIndex_MarkDeletingHidesFromOwner(t *testing.T) {
	idx := NewPrimaryIndex()
	ptr := RecordPointer{PageID: 1, Slot: 0}
	idx.Insert(1, &VersionEntry{Pointer: ptr, CreatedTS: 1})

	idx.MarkDeleting(1, pager.TxID(42))
	if v := idx.VisibleVersion(1, 100, 42); v != nil {
		t.Error("tentatively deleted version should be invisible to the deleting transaction")
	}
	if v := idx.VisibleVersion(1, 100, 7); v == nil {
		t.Error("tentatively deleted version should remain visible to other readers")
	}

	idx.ClearDeleting(1, pager.TxID(42))
	if v := idx.VisibleVersion(1, 100, 42); v == nil {
		t.Error("ClearDeleting should restore visibility to the original transaction")
	}
}

func TestPrimaryIndex_RemoveVersion(t *testing.T) {
	idx := NewPrimaryIndex()
	p1 := RecordPointer{PageID: 1, Slot: 0}
	p2 := RecordPointer{PageID: 2, Slot: 0}
	idx.Insert(1, &VersionEntry{Pointer: p1, CreatedTS: 1})
	idx.Insert(1, &VersionEntry{Pointer: p2, CreatedTS: 0})

	idx.RemoveVersion(1, p2)
	chain := idx.GetAll(1)
	if len(chain) != 1 || chain[0].Pointer != p1 {
		t.Errorf("after RemoveVersion, chain = %+v, want only %+v", chain, p1)
	}
}

func TestPrimaryIndex_FindByPointer(t *testing.T) {
	idx := NewPrimaryIndex()
	ptr := RecordPointer{PageID: 3, Slot: 2}
	idx.Insert(99, &VersionEntry{Pointer: ptr})

	id, ok := idx.FindByPointer(ptr)
	if !ok || id != 99 {
		t.Errorf("FindByPointer = (%d, %v), want (99, true)", id, ok)
	}
	if _, ok := idx.FindByPointer(RecordPointer{PageID: 999}); ok {
		t.Error("FindByPointer should report false for an unknown pointer")
	}
}

func TestPrimaryIndex_SerializeRoundTrip(t *testing.T) {
	idx := NewPrimaryIndex()
	idx.Insert(1, &VersionEntry{Pointer: RecordPointer{PageID: 10, Slot: 0, Offset: 4}})
	idx.Insert(1, &VersionEntry{Pointer: RecordPointer{PageID: 11, Slot: 1, Offset: 8}})
	idx.Insert(2, &VersionEntry{Pointer: RecordPointer{PageID: 12, Slot: 0, Offset: 0}})

	blob := idx.Serialize()
	loaded, err := DeserializePrimaryIndex(blob)
	if err != nil {
		t.Fatalf("DeserializePrimaryIndex: %v", err)
	}
	if len(loaded.GetAll(1)) != 2 {
		t.Errorf("loaded chain for id=1 has %d entries, want 2", len(loaded.GetAll(1)))
	}
	if latest := loaded.Latest(1); latest == nil || latest.Pointer.PageID != 11 {
		t.Errorf("loaded Latest(1) = %+v, want pointer with PageID 11 (serialized newest-first)", latest)
	}
	if loaded.Latest(2) == nil {
		t.Error("expected id=2 to survive the round trip")
	}
}

func TestDeserializePrimaryIndex_RejectsBadMagic(t *testing.T) {
	if _, err := DeserializePrimaryIndex([]byte("not a BIDX blob at all!!")); err == nil {
		t.Error("expected error for bad BIDX magic")
	}
}
