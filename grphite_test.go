package grphite_test

import (
	"path/filepath"
	"testing"

	"github.com/grphite/grphite"
	"github.com/grphite/grphite/internal/pager"
)

func openTestDB(t *testing.T) *grphite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := grphite.Open(grphite.Config{Pager: pager.PagerConfig{
		DBPath:  filepath.Join(dir, "g.gph"),
		WALPath: filepath.Join(dir, "g.wal"),
	}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestScenario_SocialGraphLifecycle exercises spec §8's core lifecycle: add
// nodes and an edge, commit, read them back in a fresh transaction, update
// a property, delete a node and confirm its edges are cleaned up too.
func TestScenario_SocialGraphLifecycle(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	alice, err := txn.AddNode([]string{"Person"}, map[string]grphite.PropertyValue{
		"name": grphite.StringValue("Alice"),
		"age":  grphite.IntValue(30),
	})
	if err != nil {
		t.Fatalf("AddNode(alice): %v", err)
	}
	bob, err := txn.AddNode([]string{"Person"}, map[string]grphite.PropertyValue{
		"name": grphite.StringValue("Bob"),
	})
	if err != nil {
		t.Fatalf("AddNode(bob): %v", err)
	}
	edge, err := txn.AddEdge(alice.ID, bob.ID, "KNOWS", map[string]grphite.PropertyValue{
		"since": grphite.IntValue(2020),
	})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	txn2, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, err := txn2.GetEdge(edge.ID)
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if got.Type != "KNOWS" || got.Source != alice.ID || got.Target != bob.ID {
		t.Errorf("GetEdge = %+v, want KNOWS %d->%d", got, alice.ID, bob.ID)
	}
	byProp := txn2.FindNodesByProperty("Person", "name", grphite.StringValue("Alice"))
	if len(byProp) != 1 || byProp[0] != alice.ID {
		t.Errorf("FindNodesByProperty(name=Alice) = %v, want [%d]", byProp, alice.ID)
	}
	if err := txn2.SetProperty(alice.ID, "age", grphite.IntValue(31)); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := txn2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	txn3, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn3.DeleteNode(bob.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := txn3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	txn4, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn4.Rollback()

	if _, err := txn4.GetNode(bob.ID); err == nil {
		t.Error("expected bob to be gone")
	}
	neighbors, err := txn4.Neighbors(alice.ID, grphite.Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("Neighbors(alice, Outgoing) after deleting bob = %v, want empty", neighbors)
	}

	aliceNow, err := txn4.GetNode(alice.ID)
	if err != nil {
		t.Fatalf("GetNode(alice): %v", err)
	}
	if aliceNow.Properties["age"].I != 31 {
		t.Errorf("alice.age = %d, want 31", aliceNow.Properties["age"].I)
	}

	issues, err := db.VerifyIntegrity(grphite.IntegrityOptions{})
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("VerifyIntegrity reported issues on a healthy DB: %v", issues)
	}
}

func TestScenario_FlushAndReopenPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := grphite.Config{Pager: pager.PagerConfig{
		DBPath:  filepath.Join(dir, "persist.gph"),
		WALPath: filepath.Join(dir, "persist.wal"),
	}}

	db, err := grphite.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := txn.AddNode([]string{"City"}, map[string]grphite.PropertyValue{"name": grphite.StringValue("Boston")})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := grphite.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	txn2, err := db2.Begin()
	if err != nil {
		t.Fatalf("Begin after reopen: %v", err)
	}
	defer txn2.Rollback()
	got, err := txn2.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode after reopen: %v", err)
	}
	if got.Properties["name"].S != "Boston" {
		t.Errorf("got.Properties[name] after reopen = %+v, want Boston", got.Properties["name"])
	}
}

// TestScenario_ConcurrentReaderAndWriter exercises spec §8 scenario S2
// through the public API: a read-only transaction opened before a writer
// begins must keep seeing its pre-commit snapshot even after the writer
// commits, and BeginRead must not block behind the writer at all.
func TestScenario_ConcurrentReaderAndWriter(t *testing.T) {
	db := openTestDB(t)

	seed, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin (seed): %v", err)
	}
	n, err := seed.AddNode([]string{"Counter"}, map[string]grphite.PropertyValue{"n": grphite.IntValue(1)})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit (seed): %v", err)
	}

	reader, err := db.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	writer, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin (writer) while reader is open: %v", err)
	}
	if err := writer.SetProperty(n.ID, "n", grphite.IntValue(2)); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit (writer): %v", err)
	}

	got, err := reader.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode (reader): %v", err)
	}
	if got.Properties["n"].I != 1 {
		t.Errorf("reader.GetNode(n) = %d, want 1 (pre-commit snapshot)", got.Properties["n"].I)
	}
	if _, err := reader.AddNode([]string{"X"}, nil); err != grphite.ErrReadOnly {
		t.Errorf("AddNode on reader = %v, want ErrReadOnly", err)
	}
	if err := reader.Rollback(); err != nil {
		t.Fatalf("Rollback (reader): %v", err)
	}
}

func TestScenario_AbandonedTransactionIsReported(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := txn.AddNode([]string{"Person"}, nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if err := txn.Abandoned(); err != grphite.ErrTransactionAbandoned {
		t.Errorf("Abandoned() = %v, want ErrTransactionAbandoned", err)
	}
}
