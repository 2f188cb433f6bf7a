// Package grphite is a lightweight, embeddable graph database for Go
// applications.
//
// grphite is a single-process, single-file graph storage engine built
// around a paged store with write-ahead logging, multi-version concurrency
// control, and slotted record pages. It is not a query language or a
// network service — it is the storage core a higher-level graph query
// layer, API server, or CLI tool would sit on top of.
//
// # Basic usage
//
//	db, err := grphite.Open(grphite.Config{Pager: pager.PagerConfig{DBPath: "graph.gph"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	txn, err := db.Begin()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() {
//	    if err := txn.Abandoned(); err != nil {
//	        log.Print(err)
//	    }
//	}()
//
//	alice, _ := txn.AddNode([]string{"Person"}, map[string]grphite.PropertyValue{
//	    "name": grphite.StringValue("Alice"),
//	})
//	bob, _ := txn.AddNode([]string{"Person"}, map[string]grphite.PropertyValue{
//	    "name": grphite.StringValue("Bob"),
//	})
//	txn.AddEdge(alice.ID, bob.ID, "KNOWS", nil)
//
//	if err := txn.Commit(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Durability
//
// Flush (an alias for Checkpoint) persists the in-memory primary and
// property indexes to disk and truncates the WAL's replay requirement;
// VerifyIntegrity walks the store's structures to confirm it is
// internally consistent.
package grphite

import (
	"github.com/google/uuid"

	"github.com/grphite/grphite/internal/store"
)

// ============================================================================
// Core types — re-exported from internal/store for the public API surface
// ============================================================================

// DB is an open graph database, wrapping the underlying store.
type DB struct {
	s *store.Store
}

// Txn is an in-flight transaction against a DB.
type Txn = store.Txn

// Node is a graph node: an id, a set of labels, and a property bag.
type Node = store.Node

// Edge is a directed, typed edge between two nodes.
type Edge = store.Edge

// PropertyValue is the tagged union of value kinds a node or edge property
// may hold (bool, int, float, string, or raw bytes).
type PropertyValue = store.PropertyValue

// Direction selects which adjacency chain Neighbors walks.
type Direction = store.Direction

// Direction constants.
const (
	Outgoing = store.Outgoing
	Incoming = store.Incoming
)

// Config configures a DB. See internal/store.Config and pager.PagerConfig
// for the full set of knobs (page size, WAL sync mode, dirty-page caps,
// transaction deadlines, group-commit batching window).
type Config = store.Config

// IntegrityOptions controls how much of the store VerifyIntegrity walks.
type IntegrityOptions = store.IntegrityOptions

// Value constructors, forwarded for convenience so callers need not import
// internal/store directly.
var (
	BoolValue   = store.BoolValue
	IntValue    = store.IntValue
	FloatValue  = store.FloatValue
	StringValue = store.StringValue
	BytesValue  = store.BytesValue
)

// Error sentinels, forwarded for callers that want to compare with
// errors.Is against a well-known condition.
var (
	ErrNodeNotFound         = store.ErrNodeNotFound
	ErrEdgeNotFound         = store.ErrEdgeNotFound
	ErrClosed               = store.ErrClosed
	ErrTransactionNotActive = store.ErrTransactionNotActive
	ErrCapExceeded          = store.ErrCapExceeded
	ErrDeadlineExceeded     = store.ErrDeadlineExceeded
	ErrTransactionAbandoned = store.ErrTransactionAbandoned
	ErrReadOnly             = store.ErrReadOnly
)

// ============================================================================
// DB — open/close/transaction entry points
// ============================================================================

// Open opens (creating if necessary) a graph database at cfg.Pager.DBPath.
func Open(cfg Config) (*DB, error) {
	s, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{s: s}, nil
}

// Begin starts a new write transaction. Only one may be Active at a time;
// Begin blocks until the prior write transaction commits or rolls back
// (read-only transactions do not block it).
func (db *DB) Begin() (*Txn, error) {
	return db.s.Begin()
}

// BeginRead starts a read-only transaction against a snapshot of the
// database. Any number of read-only transactions may be Active at once,
// concurrently with each other and with the single active write
// transaction, if any (spec.md §5).
func (db *DB) BeginRead() (*Txn, error) {
	return db.s.BeginRead()
}

// Close flushes and closes the database.
func (db *DB) Close() error {
	return db.s.Close()
}

// Checkpoint persists the primary and property indexes to disk and
// checkpoints the underlying pager.
func (db *DB) Checkpoint() error {
	return db.s.Checkpoint()
}

// Flush is an alias for Checkpoint.
func (db *DB) Flush() error {
	return db.s.Flush()
}

// VerifyIntegrity walks the store's structures and reports every issue
// found; an empty slice means the store is healthy.
func (db *DB) VerifyIntegrity(opts IntegrityOptions) ([]string, error) {
	return db.s.VerifyIntegrity(opts)
}

// InstanceID returns this open's random diagnostic identifier, useful for
// correlating a crash report or integrity error with a specific process
// lifetime. It is not persisted to disk.
func (db *DB) InstanceID() uuid.UUID {
	return db.s.InstanceID()
}
