package store

import (
	"fmt"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Integrity verification
// ───────────────────────────────────────────────────────────────────────────
//
// The page-format half (checksum/mini-header consistency across the whole
// file) already lives in internal/pager (VerifyFile), per that file's own
// doc comment pointing here for the rest. This is the higher-level half:
// confirming every live primary-index pointer resolves to a real record of
// the expected kind, every adjacency-chain pointer resolves to a live edge
// whose endpoints agree, and every property-index binding points at a node
// that still carries the binding's label.

// IntegrityOptions controls how much of the store VerifyIntegrity walks.
// The zero value runs every check.
type IntegrityOptions struct {
	// SkipPageChecksums skips the pager.VerifyFile pass (useful for a
	// quick logical-only check on a store that is already known to be
	// free of page-level corruption).
	SkipPageChecksums bool
	// SkipAdjacency skips walking every node's adjacency chains.
	SkipAdjacency bool
	// SkipPropertyIndex skips cross-checking property-index bindings
	// against live node records.
	SkipPropertyIndex bool
}

// VerifyIntegrity walks the store's structures and reports every issue
// found; an empty slice means the store is healthy. It never mutates
// anything and is safe to call concurrently with reads (it takes no
// transaction and resolves everything against the primary index directly,
// i.e. against the latest committed state rather than any one snapshot).
func (s *Store) VerifyIntegrity(opts IntegrityOptions) ([]string, error) {
	var issues []string

	if !opts.SkipPageChecksums {
		pageIssues, err := pager.VerifyFile(s.pg.Path())
		if err != nil {
			return nil, fmt.Errorf("%s: page verification: %w", s.instanceID, err)
		}
		issues = append(issues, pageIssues...)
	}

	for _, id := range s.primary.Keys() {
		v := s.primary.Latest(id)
		if v == nil || v.DeletedTS != 0 {
			continue
		}
		kind, payload, err := s.readRecord(v.Pointer)
		if err != nil {
			issues = append(issues, fmt.Sprintf("id %d: pointer %+v unreadable: %v", id, v.Pointer, err))
			continue
		}
		switch kind {
		case RecordKindNode:
			n, err := DecodeNode(payload)
			if err != nil {
				issues = append(issues, fmt.Sprintf("node %d: decode: %v", id, err))
				continue
			}
			if n.ID != id {
				issues = append(issues, fmt.Sprintf("node %d: record carries id %d", id, n.ID))
			}
		case RecordKindEdge:
			e, err := DecodeEdge(payload)
			if err != nil {
				issues = append(issues, fmt.Sprintf("edge %d: decode: %v", id, err))
				continue
			}
			if e.ID != id {
				issues = append(issues, fmt.Sprintf("edge %d: record carries id %d", id, e.ID))
			}
			if s.primary.Latest(e.Source) == nil {
				issues = append(issues, fmt.Sprintf("edge %d: source %d has no version chain", id, e.Source))
			}
			if s.primary.Latest(e.Target) == nil {
				issues = append(issues, fmt.Sprintf("edge %d: target %d has no version chain", id, e.Target))
			}
		default:
			issues = append(issues, fmt.Sprintf("id %d: record at %+v has unknown kind %d", id, v.Pointer, kind))
		}
	}

	if !opts.SkipAdjacency {
		issues = append(issues, s.verifyAdjacency()...)
	}
	if !opts.SkipPropertyIndex {
		issues = append(issues, s.verifyPropertyIndex()...)
	}

	return issues, nil
}

// verifyAdjacency walks every live node's outgoing chain and confirms each
// linked edge's Source matches the node being walked (the symmetric check
// for incoming chains against Target is equivalent so is not duplicated).
func (s *Store) verifyAdjacency() []string {
	var issues []string
	for _, nodeID := range s.primary.Keys() {
		v := s.primary.Latest(nodeID)
		if v == nil || v.DeletedTS != 0 {
			continue
		}
		_, payload, err := s.readRecord(v.Pointer)
		if err != nil {
			continue
		}
		n, err := DecodeNode(payload)
		if err != nil {
			continue
		}

		seen := make(map[uint64]struct{})
		edgeID := n.FirstOutgoingID
		for edgeID != 0 {
			if _, dup := seen[edgeID]; dup {
				issues = append(issues, fmt.Sprintf("node %d: outgoing chain cycles back to edge %d", nodeID, edgeID))
				break
			}
			seen[edgeID] = struct{}{}

			ev := s.primary.Latest(edgeID)
			if ev == nil {
				issues = append(issues, fmt.Sprintf("node %d: outgoing chain references edge %d with no version chain", nodeID, edgeID))
				break
			}
			_, epayload, err := s.readRecord(ev.Pointer)
			if err != nil {
				issues = append(issues, fmt.Sprintf("edge %d: unreadable from node %d's outgoing chain: %v", edgeID, nodeID, err))
				break
			}
			e, err := DecodeEdge(epayload)
			if err != nil {
				issues = append(issues, fmt.Sprintf("edge %d: decode from node %d's outgoing chain: %v", edgeID, nodeID, err))
				break
			}
			if e.Source != nodeID {
				issues = append(issues, fmt.Sprintf("edge %d: appears in node %d's outgoing chain but its source is %d", edgeID, nodeID, e.Source))
			}
			edgeID = e.NextOutID
		}
	}
	return issues
}

// verifyPropertyIndex confirms every live binding's node still exists,
// still carries the indexed label, and still carries that exact value.
func (s *Store) verifyPropertyIndex() []string {
	var issues []string
	s.props.mu.RLock()
	defer s.props.mu.RUnlock()

	for key, entries := range s.props.entries {
		for _, ve := range entries {
			for nodeID, b := range ve.nodes {
				if b.DeletedTS != 0 {
					continue
				}
				v := s.primary.Latest(nodeID)
				if v == nil || v.DeletedTS != 0 {
					issues = append(issues, fmt.Sprintf("property index %s.%s: binding references missing node %d", key.Label, key.Key, nodeID))
					continue
				}
				_, payload, err := s.readRecord(v.Pointer)
				if err != nil {
					issues = append(issues, fmt.Sprintf("property index %s.%s: node %d unreadable: %v", key.Label, key.Key, nodeID, err))
					continue
				}
				n, err := DecodeNode(payload)
				if err != nil {
					issues = append(issues, fmt.Sprintf("property index %s.%s: node %d decode: %v", key.Label, key.Key, nodeID, err))
					continue
				}
				if !hasLabel(n.Labels, key.Label) {
					issues = append(issues, fmt.Sprintf("property index %s.%s: node %d no longer carries label %q", key.Label, key.Key, nodeID, key.Label))
				}
				if cur, ok := n.Properties[key.Key]; !ok || !cur.Equal(ve.value) {
					issues = append(issues, fmt.Sprintf("property index %s.%s: node %d current value %v does not match indexed value %v", key.Label, key.Key, nodeID, cur, ve.value))
				}
			}
		}
	}
	return issues
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
