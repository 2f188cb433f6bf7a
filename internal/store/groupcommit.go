package store

import (
	"sync"
	"time"
)

// ───────────────────────────────────────────────────────────────────────────
// Group-commit coordinator
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on original_source/packages/core/src/db/group_commit.rs: a
// dedicated goroutine owns the WAL fsync; committers submit a request and
// block until it is fulfilled. The loop uses an adaptive timeout — short
// while commits arrive one at a time, widened once a batch collects more
// than one request so later arrivals get a chance to ride the same fsync.
// The original's mpsc channel + condvar pair becomes a buffered Go channel
// plus a close-once notifier channel per request.

const (
	groupCommitShortTimeout = 100 * time.Microsecond
	groupCommitQueueDepth   = 256
)

type commitRequest struct {
	notify chan struct{}
	err    error
}

// GroupCommit batches concurrent fsync requests behind a single background
// WAL sync, installed as a Pager's group-sync strategy when its
// WALSyncMode is WALSyncGroup.
type GroupCommit struct {
	sync        func() error
	longTimeout time.Duration

	// closeMu guards the transition to shutting down: RequestSync holds
	// it for read while enqueuing, Shutdown takes it exclusively before
	// closing the shutdown channel. This guarantees every request that
	// observed closed==false finishes enqueuing before the committer
	// goroutine performs its final drain, so no request is ever sent
	// into a channel nobody will read from again.
	closeMu sync.RWMutex
	closed  bool

	reqs     chan *commitRequest
	shutdown chan struct{}
	done     chan struct{}
}

// NewGroupCommit spawns the committer goroutine. sync performs the actual
// WAL fsync (typically Pager.SyncWAL); longTimeout is the batching window
// used once more than one commit has been observed back to back.
func NewGroupCommit(sync func() error, longTimeout time.Duration) *GroupCommit {
	if longTimeout <= 0 {
		longTimeout = 5 * time.Millisecond
	}
	gc := &GroupCommit{
		sync:        sync,
		longTimeout: longTimeout,
		reqs:        make(chan *commitRequest, groupCommitQueueDepth),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	go gc.loop()
	return gc
}

// RequestSync enqueues a commit's fsync and blocks until it (or a later
// batched fsync covering it) completes. Matches Pager's groupSync hook
// signature so it can be installed directly via SetGroupSync.
func (gc *GroupCommit) RequestSync() error {
	gc.closeMu.RLock()
	if gc.closed {
		gc.closeMu.RUnlock()
		return gc.sync()
	}
	req := &commitRequest{notify: make(chan struct{})}
	gc.reqs <- req
	gc.closeMu.RUnlock()

	<-req.notify
	return req.err
}

// Shutdown stops the committer goroutine after flushing any requests still
// queued. Safe to call once; a GroupCommit must not be reused afterward.
func (gc *GroupCommit) Shutdown() {
	gc.closeMu.Lock()
	gc.closed = true
	gc.closeMu.Unlock()

	close(gc.shutdown)
	<-gc.done
}

func (gc *GroupCommit) loop() {
	defer close(gc.done)
	timeout := groupCommitShortTimeout

	for {
		var batch []*commitRequest

		timer := time.NewTimer(timeout)
		select {
		case req := <-gc.reqs:
			timer.Stop()
			batch = append(batch, req)
		case <-gc.shutdown:
			timer.Stop()
			gc.drainAndFlush()
			return
		case <-timer.C:
			continue
		}

		// Keep collecting arrivals for the current timeout — the batching
		// opportunity the adaptive timeout exists to catch.
		window := time.NewTimer(timeout)
	drain:
		for {
			select {
			case req := <-gc.reqs:
				batch = append(batch, req)
			case <-window.C:
				break drain
			}
		}

		if len(batch) > 1 {
			timeout = gc.longTimeout
		} else {
			timeout = groupCommitShortTimeout
		}

		gc.flush(batch)
	}
}

func (gc *GroupCommit) drainAndFlush() {
	var batch []*commitRequest
	for {
		select {
		case req := <-gc.reqs:
			batch = append(batch, req)
		default:
			gc.flush(batch)
			return
		}
	}
}

func (gc *GroupCommit) flush(batch []*commitRequest) {
	if len(batch) == 0 {
		return
	}
	err := gc.sync()
	for _, req := range batch {
		req.err = err
		close(req.notify)
	}
}
