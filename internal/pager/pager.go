package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool / Pager
// ───────────────────────────────────────────────────────────────────────────
//
// The Pager is the central I/O layer. It manages the database file, the WAL,
// the buffer pool (page cache with dirty tracking), the free-list, and the
// header page. All page reads and writes go through the Pager so that CRC
// validation and WAL logging happen automatically.

// PageFrame is an in-memory cached page.
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	lsn    LSN // LSN of last modification
	pinned int // pin count (>0 = cannot evict)
	prev   *PageFrame
	next   *PageFrame
}

// BufferPoolConfig configures the page buffer pool.
type BufferPoolConfig struct {
	MaxPages int // maximum number of cached pages (default 1024)
}

// PageBufferPool is an LRU page cache with dirty-page tracking.
type PageBufferPool struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageID]*PageFrame
	// LRU doubly-linked list: head = most recent, tail = least recent.
	head *PageFrame
	tail *PageFrame
}

func newPageBufferPool(maxPages int) *PageBufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &PageBufferPool{
		maxPages: maxPages,
		pages:    make(map[PageID]*PageFrame, maxPages),
	}
}

func (bp *PageBufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *PageBufferPool) put(f *PageFrame) {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return
	}
	// Evict if at capacity.
	for len(bp.pages) >= bp.maxPages {
		if !bp.evictOne() {
			break // all pages pinned — cannot evict
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
}

func (bp *PageBufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne removes the least-recently-used unpinned page.
// Returns false if no page can be evicted.
func (bp *PageBufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 {
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true
		}
	}
	return false
}

// dirtyPages returns all dirty page frames.
func (bp *PageBufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *PageBufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *PageBufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (bp *PageBufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	DBPath        string
	WALPath       string
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)

	// UseMMap requests a memory-mapped read path for the database file
	// instead of ReadAt/WriteAt syscalls. Ignored on platforms or builds
	// that do not support it; mmap carries no on-disk format implication,
	// it only changes how bytes already described by this file's layout
	// are faulted into memory.
	UseMMap bool

	// WALSyncMode controls how aggressively the WAL is fsynced.
	WALSyncMode WALSyncMode
}

// WALSyncMode controls the durability/latency trade-off of WAL fsyncs.
type WALSyncMode int

const (
	// WALSyncAlways fsyncs on every commit (default, strongest durability).
	WALSyncAlways WALSyncMode = iota
	// WALSyncGroup batches fsyncs across concurrently committing
	// transactions via the group-commit coordinator.
	WALSyncGroup
	// WALSyncOff skips the WAL fsync at commit (relies on OS page cache
	// flush); only safe for scratch/throwaway databases.
	WALSyncOff
)

// Pager manages page-level I/O, WAL, buffer pool, and free-list.
type Pager struct {
	mu         sync.RWMutex
	file       *os.File
	wal        *WALFile
	pool       *PageBufferPool
	hdr        *Header
	freeMgr    *FreeManager
	pageSize   int
	path       string
	walPath    string
	closed     bool
	nextTxID   TxID
	nextPageID PageID
	walSync    WALSyncMode
	// lastCheckpointLSN is recorded at each checkpoint and read nowhere
	// else; the on-disk header page has no checkpoint-LSN field in this
	// format.
	lastCheckpointLSN LSN

	// shadow holds the pre-image of every page written since the last
	// BeginShadow, so RollbackShadow can restore them in memory without
	// going through the WAL. Used for in-process speculative edits (e.g.
	// a transaction that touches many pages but aborts before commit).
	shadow       map[PageID][]byte
	shadowActive bool

	// groupSync, when set, replaces the direct wal.Sync() call in CommitTx
	// with a caller-supplied batching strategy (internal/store's
	// GroupCommit coordinator), used when WALSyncMode is WALSyncGroup.
	groupSync func() error
}

// SetGroupSync installs a batching fsync strategy for CommitTx to use
// instead of syncing the WAL directly. Passing nil restores the default.
func (p *Pager) SetGroupSync(fn func() error) {
	p.mu.Lock()
	p.groupSync = fn
	p.mu.Unlock()
}

// SyncWAL fsyncs the WAL file directly; exposed so a group-commit
// coordinator running outside the pager can perform the batched fsync.
func (p *Pager) SyncWAL() error {
	return p.wal.Sync()
}

// OpenPager opens or creates a page-based database.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file: %w", err)
	}

	p := &Pager{
		file:     f,
		pageSize: ps,
		path:     cfg.DBPath,
		walPath:  cfg.WALPath,
		pool:     newPageBufferPool(cfg.MaxCachePages),
		freeMgr:  NewFreeManager(),
		walSync:  cfg.WALSyncMode,
		shadow:   make(map[PageID][]byte),
	}
	_ = cfg.UseMMap // no mmap read path in this build; reserved for future use

	if isNew {
		hdr := NewHeader(uint32(ps))
		buf := MarshalHeaderPage(hdr, ps)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header page: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.hdr = hdr
		p.nextTxID = 1
		p.nextPageID = 1 // page 0 is the header page
	} else {
		hdr, err := p.readHeaderPage()
		if err != nil {
			f.Close()
			return nil, err
		}
		p.hdr = hdr
		p.pageSize = int(hdr.PageSize) // honour on-disk page size
		p.nextTxID = hdr.LastCommittedTxID + 1

		if fi, err := f.Stat(); err == nil {
			p.nextPageID = PageID(fi.Size() / int64(p.pageSize))
		} else {
			f.Close()
			return nil, fmt.Errorf("stat db file: %w", err)
		}

		// Load free list.
		if hdr.FreeListHead != InvalidPageID {
			if err := p.freeMgr.LoadFromDisk(hdr.FreeListHead, p.readPageRaw); err != nil {
				f.Close()
				return nil, fmt.Errorf("load freelist: %w", err)
			}
		}
	}

	// Open or create WAL.
	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.DBPath + ".wal"
	}
	p.walPath = walPath
	wf, err := OpenWALFile(walPath, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	p.wal = wf

	// If WAL has records, perform recovery before accepting new writes.
	if !isNew {
		if err := p.Recover(); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("WAL recovery: %w", err)
		}
	}

	return p, nil
}

func (p *Pager) readHeaderPage() (*Header, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header page: %w", err)
	}
	return UnmarshalHeaderPage(buf)
}

// readPageRaw reads a page directly from the database file (no cache).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writePageRaw writes a page directly to the database file (no cache).
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	SetPageCRC(buf)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage returns a page by ID, using the buffer pool cache.
// The page is pinned in the cache; call UnpinPage when done.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *Pager) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	// Cache miss — read from file.
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return buf, nil
}

// UnpinPage decrements the pin count.
func (p *Pager) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage writes (updates) a page through the WAL. The page image is
// logged to the WAL and cached as dirty. The caller should have called
// BeginTx beforehand.
func (p *Pager) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recordShadowPreimage(id)

	// NOTE: CRC is set by the caller (primary index / slotted-page layer).
	// We skip re-computing it here to avoid redundant work.

	// Log full page image to WAL.
	rec := &WALRecord{
		Type:   WALRecordPageImage,
		TxID:   txID,
		PageID: id,
		Data:   append([]byte{}, buf...), // copy
	}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return fmt.Errorf("WAL write page %d: %w", id, err)
	}

	// Update buffer pool.
	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		p.pool.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	f.lsn = lsn
	p.pool.mu.Unlock()

	return nil
}

// ── Transaction management ────────────────────────────────────────────────

// BeginTx starts a new transaction and writes a BEGIN record to the WAL.
func (p *Pager) BeginTx() (TxID, error) {
	p.mu.Lock()
	txID := p.nextTxID
	p.nextTxID++
	p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordBegin, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return 0, err
	}
	return txID, nil
}

// CommitTx writes the header page to the WAL before the COMMIT frame —
// per spec, the header is durable by the time the commit is visible — then
// appends COMMIT and fsyncs (skipped under WALSyncOff).
func (p *Pager) CommitTx(txID TxID) error {
	p.mu.Lock()
	if txID > p.hdr.LastCommittedTxID {
		p.hdr.LastCommittedTxID = txID
	}
	hdrBuf := MarshalHeaderPage(p.hdr, p.pageSize)
	p.mu.Unlock()

	hdrRec := &WALRecord{Type: WALRecordPageImage, TxID: txID, PageID: 0, Data: hdrBuf}
	if _, err := p.wal.AppendRecord(hdrRec); err != nil {
		return fmt.Errorf("WAL write header page: %w", err)
	}

	rec := &WALRecord{Type: WALRecordCommit, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return err
	}
	if p.walSync == WALSyncOff {
		return nil
	}

	p.mu.RLock()
	sync := p.groupSync
	p.mu.RUnlock()
	if sync != nil {
		return sync()
	}
	return p.wal.Sync()
}

// AbortTx writes an ABORT record, so recovery skips this TX's page images.
// It does not touch the buffer pool; cached pages are restored only by
// RollbackShadow.
func (p *Pager) AbortTx(txID TxID) error {
	rec := &WALRecord{Type: WALRecordAbort, TxID: txID}
	_, err := p.wal.AppendRecord(rec)
	return err
}

// ── Shadow transactions ───────────────────────────────────────────────────
//
// A shadow transaction brackets a batch of in-memory page edits so they can
// be discarded without involving the WAL at all — used by callers that want
// to speculatively apply writes (e.g. build up a multi-node insert) and
// still be able to cheaply roll back before anything is logged.

// BeginShadow starts recording pre-images of every page subsequently
// written through WritePage, so RollbackShadow can undo them.
func (p *Pager) BeginShadow() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shadowActive {
		return fmt.Errorf("pager: shadow transaction already active")
	}
	p.shadowActive = true
	p.shadow = make(map[PageID][]byte)
	return nil
}

// CommitShadow discards the recorded pre-images, keeping the writes made
// since BeginShadow.
func (p *Pager) CommitShadow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shadowActive = false
	p.shadow = make(map[PageID][]byte)
}

// RollbackShadow restores every page touched since BeginShadow to its
// pre-image in the buffer pool (WritePage never writes the database file
// directly, so the file has nothing to undo), and writes no WAL record.
// Pages that had no pre-image stay cached as written.
func (p *Pager) RollbackShadow() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.shadowActive {
		return fmt.Errorf("pager: no shadow transaction active")
	}
	for pid, preimage := range p.shadow {
		p.pool.mu.Lock()
		if f, ok := p.pool.get(pid); ok {
			copy(f.buf, preimage)
			f.dirty = false
		}
		p.pool.mu.Unlock()
	}
	p.shadowActive = false
	p.shadow = make(map[PageID][]byte)
	return nil
}

// recordShadowPreimage captures pid's current on-disk or cached contents
// the first time it is touched within an active shadow transaction.
func (p *Pager) recordShadowPreimage(pid PageID) {
	if !p.shadowActive {
		return
	}
	if _, already := p.shadow[pid]; already {
		return
	}
	if buf, err := p.readPageRaw(pid); err == nil {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		p.shadow[pid] = cp
	}
}

// ── Page allocation ───────────────────────────────────────────────────────

// AllocPage allocates a new page (from the free-list or by extending the file).
// Returns the page ID and a zeroed buffer. The page is pinned in the cache.
func (p *Pager) AllocPage() (PageID, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.nextPageID
		p.nextPageID++
	}
	buf := make([]byte, p.pageSize)
	// Put in pool pinned.
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return pid, buf
}

// FreePage marks a page as free for reuse.
func (p *Pager) FreePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freePageLocked is like FreePage but assumes p.mu is already held.
func (p *Pager) freePageLocked(pid PageID) {
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freeOldFreeListChain walks the old free-list chain and adds those pages
// to the FreeManager so they can be reused. Must be called with p.mu held.
func (p *Pager) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeMgr.Free(pid)
		pid = next
	}
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint flushes all dirty pages to the database file, writes an updated
// header page, fsyncs the file, then truncates the WAL.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Write checkpoint record to WAL.
	rec := &WALRecord{Type: WALRecordCheckpoint}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	// Flush dirty pages to main file.
	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	for _, f := range dirty {
		SetPageCRC(f.buf)
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			p.pool.mu.Unlock()
			return fmt.Errorf("checkpoint flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()

	// Free old free-list chain pages before writing the new one.
	oldFLHead := p.hdr.FreeListHead
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	// Flush free-list to disk.
	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.nextPageID
		p.nextPageID++
		return pid, make([]byte, p.pageSize)
	})
	for _, fb := range flPages {
		pid := PageID(binary.LittleEndian.Uint32(fb[4:8]))
		if err := p.writePageRaw(pid, fb); err != nil {
			return fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}

	// Update header page.
	p.hdr.FreeListHead = flHead
	p.lastCheckpointLSN = lsn
	hdrBuf := MarshalHeaderPage(p.hdr, p.pageSize)
	if err := p.writePageRaw(0, hdrBuf); err != nil {
		return fmt.Errorf("checkpoint header page: %w", err)
	}

	// Fsync the main file.
	if err := p.file.Sync(); err != nil {
		return err
	}

	// Truncate WAL.
	return p.wal.Truncate()
}

// ── Header access ─────────────────────────────────────────────────────────

// HeaderPage returns a copy of the current header page contents.
func (p *Pager) HeaderPage() Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.hdr
}

// UpdateHeaderPage updates the in-memory header fields. It does NOT write
// to disk. Use Checkpoint for that.
func (p *Pager) UpdateHeaderPage(fn func(h *Header)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.hdr)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// ── Close ─────────────────────────────────────────────────────────────────

// Close performs a final checkpoint and closes all files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Final checkpoint to ensure all data is on disk.
	if err := p.Checkpoint(); err != nil {
		// Best effort — still close files.
		_ = p.wal.Close()
		_ = p.file.Close()
		return err
	}
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// WALPath returns the WAL file path.
func (p *Pager) WALPath() string { return p.walPath }
