package store

import (
	"testing"
	"time"
)

// TestStore_ReaderSeesPreCommitSnapshotDuringConcurrentWrite exercises
// spec.md §8 scenario S2: a reader opens a snapshot, then a writer begins
// and commits a change while the reader is still open — the reader must
// keep seeing its own snapshot throughout, and only a transaction begun
// after the writer's commit sees the new value.
func TestStore_ReaderSeesPreCommitSnapshotDuringConcurrentWrite(t *testing.T) {
	s := openTestStore(t)

	seed, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin (seed): %v", err)
	}
	n, err := seed.AddNode([]string{"Person"}, map[string]PropertyValue{"age": IntValue(30)})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit (seed): %v", err)
	}

	reader, err := s.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	writer, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin (writer) while reader is open: %v", err)
	}
	if err := writer.SetProperty(n.ID, "age", IntValue(31)); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit (writer): %v", err)
	}

	got, err := reader.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode (reader, post-writer-commit): %v", err)
	}
	if got.Properties["age"].I != 30 {
		t.Errorf("reader.GetNode(age) = %d, want 30 (pre-commit snapshot)", got.Properties["age"].I)
	}
	if err := reader.Commit(); err != nil {
		t.Fatalf("Commit (reader): %v", err)
	}

	fresh, err := s.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead (fresh): %v", err)
	}
	defer fresh.Rollback()
	got2, err := fresh.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode (fresh): %v", err)
	}
	if got2.Properties["age"].I != 31 {
		t.Errorf("fresh reader.GetNode(age) = %d, want 31", got2.Properties["age"].I)
	}
}

// TestStore_BeginReadDoesNotBlockBehindActiveWriter confirms BeginRead
// never contends on Store.wmu: it must return immediately even while a
// write transaction is Active and not yet committed or rolled back.
func TestStore_BeginReadDoesNotBlockBehindActiveWriter(t *testing.T) {
	s := openTestStore(t)

	writer, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin (writer): %v", err)
	}
	defer writer.Rollback()
	if _, err := writer.AddNode([]string{"Person"}, nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	// writer is intentionally left Active (neither committed nor rolled
	// back yet) to prove a reader does not wait for it.

	done := make(chan error, 1)
	go func() {
		reader, err := s.BeginRead()
		if err != nil {
			done <- err
			return
		}
		done <- reader.Rollback()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("BeginRead/Rollback: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BeginRead blocked behind an Active writer — readers must never contend on Store.wmu")
	}
}

// TestStore_SecondWriterBlocksBehindActiveWriter confirms the single-writer
// invariant of spec.md §5 is still enforced: unlike BeginRead, a second
// Begin (write) genuinely waits for the first write transaction to
// resolve.
func TestStore_SecondWriterBlocksBehindActiveWriter(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin (first writer): %v", err)
	}

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		second, err := s.Begin()
		if err != nil {
			done <- err
			return
		}
		done <- second.Rollback()
	}()
	<-started

	select {
	case err := <-done:
		t.Fatalf("second Begin returned before the first writer resolved (err=%v) — single-writer invariant broken", err)
	case <-time.After(100 * time.Millisecond):
		// expected: second Begin is still blocked
	}

	if err := first.Rollback(); err != nil {
		t.Fatalf("Rollback (first writer): %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second writer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Begin never unblocked after the first writer rolled back")
	}
}

// TestStore_ReadOnlyTxnRejectsWrites confirms every mutating entry point
// refuses to run against a transaction opened with BeginRead.
func TestStore_ReadOnlyTxnRejectsWrites(t *testing.T) {
	s := openTestStore(t)

	seed, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin (seed): %v", err)
	}
	n, err := seed.AddNode([]string{"Person"}, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit (seed): %v", err)
	}

	reader, err := s.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer reader.Rollback()

	if _, err := reader.AddNode([]string{"Person"}, nil); err != ErrReadOnly {
		t.Errorf("AddNode on a read-only Txn = %v, want ErrReadOnly", err)
	}
	if err := reader.SetProperty(n.ID, "x", IntValue(1)); err != ErrReadOnly {
		t.Errorf("SetProperty on a read-only Txn = %v, want ErrReadOnly", err)
	}
	if err := reader.DeleteNode(n.ID); err != ErrReadOnly {
		t.Errorf("DeleteNode on a read-only Txn = %v, want ErrReadOnly", err)
	}

	// The reader itself must still be unaffected by the rejected writes.
	if _, err := reader.GetNode(n.ID); err != nil {
		t.Errorf("GetNode after rejected writes: %v", err)
	}
}
