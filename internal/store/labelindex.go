package store

import (
	"sort"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Label index
// ───────────────────────────────────────────────────────────────────────────
//
// label -> ordered set of node ids, maintained inline with node creation,
// deletion, and label add/remove (spec.md §4.5). Grounded on the same
// map-of-sets shape the teacher uses for its secondary indexes
// (internal/storage/index.go BTreeIndex), generalized from an ordered
// B-tree of arbitrary keys to a plain map-backed set (sorted on read)
// since label membership needs no range queries, only "all node ids for
// this label".

// LabelIndex maps a label to the set of node ids carrying it.
type LabelIndex struct {
	mu   sync.RWMutex
	sets map[string]map[uint64]struct{}
}

// NewLabelIndex returns an empty label index.
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{sets: make(map[string]map[uint64]struct{})}
}

// Add records that node id carries label.
func (li *LabelIndex) Add(label string, id uint64) {
	li.mu.Lock()
	defer li.mu.Unlock()
	set := li.sets[label]
	if set == nil {
		set = make(map[uint64]struct{})
		li.sets[label] = set
	}
	set[id] = struct{}{}
}

// Remove drops the (label, id) binding.
func (li *LabelIndex) Remove(label string, id uint64) {
	li.mu.Lock()
	defer li.mu.Unlock()
	set := li.sets[label]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(li.sets, label)
	}
}

// RemoveAll drops id from each label in labels. DeleteNode does not use
// it; it calls Remove once per label.
func (li *LabelIndex) RemoveAll(labels []string, id uint64) {
	li.mu.Lock()
	defer li.mu.Unlock()
	for _, label := range labels {
		set := li.sets[label]
		if set == nil {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(li.sets, label)
		}
	}
}

// NodesByLabel returns a sorted snapshot of node ids carrying label.
func (li *LabelIndex) NodesByLabel(label string) []uint64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	set := li.sets[label]
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of nodes carrying label.
func (li *LabelIndex) Count(label string) int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return len(li.sets[label])
}

// Labels returns a sorted snapshot of every label currently present.
func (li *LabelIndex) Labels() []string {
	li.mu.RLock()
	defer li.mu.RUnlock()
	out := make([]string, 0, len(li.sets))
	for label := range li.sets {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
