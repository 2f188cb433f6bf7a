package pager

import "errors"

// Sentinel errors for the storage-engine error kinds named in spec.md §7.
// Callers use errors.Is against these; internal/store wraps them into the
// richer *store.Error when it needs to attach operation context.
var (
	// ErrCorruption marks a failed integrity check: bad magic, checksum
	// mismatch, nonmonotonic frame number, out-of-range slot, oversized
	// record.
	ErrCorruption = errors.New("pager: corruption detected")

	// ErrClosed reports use of a closed pager. No Pager method returns it:
	// operations after Close are not checked.
	ErrClosed = errors.New("pager: closed")

	// ErrPageFull is returned by a slotted-page insert/update that does
	// not fit in the remaining free space.
	ErrPageFull = errors.New("pager: page full")

	// ErrRecordTooLarge reports an encoded record over MaxRecordSize. This
	// package does not return it; internal/store reports the condition with
	// its own store.ErrRecordTooLarge.
	ErrRecordTooLarge = errors.New("pager: record exceeds maximum size")

	// ErrInvalidSlot is returned when a slot index is out of range or a
	// slot's recorded length overruns the page.
	ErrInvalidSlot = errors.New("pager: invalid slot")
)
