package store

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ───────────────────────────────────────────────────────────────────────────
// Timestamp oracle
// ───────────────────────────────────────────────────────────────────────────
//
// A monotonic 64-bit counter that issues both read (snapshot) and commit
// timestamps from the same sequence, plus a registry of live snapshots
// used to compute the GC watermark. Grounded on the teacher's MVCCManager
// (internal/storage/mvcc.go), adapted to the "0 means unset, 1 is the
// first valid value" convention from the original Rust timestamp oracle
// (packages/core/src/db/timestamp_oracle.rs) rather than the teacher's
// own "start at 1 by incrementing before first use" pattern.

// TimestampOracle allocates monotonically increasing timestamps and tracks
// which snapshot timestamps are still live.
type TimestampOracle struct {
	current atomic.Uint64

	mu     sync.Mutex
	active map[uint64]int // snapshot ts -> count of transactions holding it
}

// NewTimestampOracle creates an oracle starting at timestamp 1.
func NewTimestampOracle() *TimestampOracle {
	o := &TimestampOracle{active: make(map[uint64]int)}
	o.current.Store(1)
	return o
}

// RestoreTimestampOracle recreates an oracle after recovery, continuing
// from a persisted max_timestamp. Per spec.md §4.9 / the original's
// "0 means unset" convention, 0 is rejected — callers should pass
// NewTimestampOracle() for a fresh database instead.
func RestoreTimestampOracle(maxTimestamp uint64) (*TimestampOracle, error) {
	if maxTimestamp == 0 {
		return nil, newError(KindInvalidArgument, "restored timestamp must be nonzero", nil)
	}
	o := &TimestampOracle{active: make(map[uint64]int)}
	o.current.Store(maxTimestamp)
	return o, nil
}

// AllocateRead returns a fresh snapshot timestamp.
func (o *TimestampOracle) AllocateRead() uint64 {
	return o.current.Add(1)
}

// AllocateCommit returns a fresh commit timestamp. Both entry points draw
// from the same sequence, so read and commit timestamps interleave in one
// globally agreed order (spec.md §5).
func (o *TimestampOracle) AllocateCommit() uint64 {
	return o.current.Add(1)
}

// Current returns the highest timestamp allocated so far (for persisting
// max_timestamp into the header page).
func (o *TimestampOracle) Current() uint64 {
	return o.current.Load()
}

// RegisterSnapshot marks ts as held by a live transaction, for GC
// watermark tracking. A timestamp may be registered more than once if
// several transactions happen to share it (not expected in practice but
// harmless — the count just needs to reach zero before it is evicted).
func (o *TimestampOracle) RegisterSnapshot(ts uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[ts]++
}

// UnregisterSnapshot releases ts, updating the watermark.
func (o *TimestampOracle) UnregisterSnapshot(ts uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[ts] <= 1 {
		delete(o.active, ts)
	} else {
		o.active[ts]--
	}
}

// GCEligibleBefore returns the watermark: any version with deleted_ts != 0
// and deleted_ts < watermark can be reclaimed. With no live snapshots the
// watermark is the current timestamp (everything committed so far may be
// collected once superseded).
func (o *TimestampOracle) GCEligibleBefore() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.active) == 0 {
		return o.current.Load()
	}
	tss := make([]uint64, 0, len(o.active))
	for ts := range o.active {
		tss = append(tss, ts)
	}
	sort.Slice(tss, func(i, j int) bool { return tss[i] < tss[j] })
	return tss[0]
}
