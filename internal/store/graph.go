package store

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Graph core operations
// ───────────────────────────────────────────────────────────────────────────
//
// CRUD and lookup operations a Txn exposes, wiring the primary index,
// label/property indexes, and adjacency-list splicing (adjacency.go)
// together per spec.md §2.10/§4.6.

// AddNode creates a new node with the given labels and properties and
// returns it with its assigned id.
func (t *Txn) AddNode(labels []string, properties map[string]PropertyValue) (*Node, error) {
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	id := t.nextNodeID
	t.nextNodeID++

	n := &Node{ID: id, Labels: append([]string{}, labels...), Properties: cloneProps(properties)}
	if err := t.SaveNode(n); err != nil {
		return nil, err
	}

	for _, l := range n.Labels {
		t.store.labels.Add(l, n.ID)
	}
	for k, v := range n.Properties {
		if !v.Indexable() {
			continue
		}
		for _, l := range n.Labels {
			t.store.props.Bind(l, k, v, n.ID, 0)
			t.newPropBindings = append(t.newPropBindings, pendingPropBinding{label: l, key: k, value: v, id: n.ID})
		}
	}
	return n, nil
}

// AddEdge creates a directed, typed edge from src to tgt and splices it
// into both endpoints' adjacency chains (spec.md §4.6).
func (t *Txn) AddEdge(src, tgt uint64, edgeType string, properties map[string]PropertyValue) (*Edge, error) {
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	if _, err := t.LoadNode(src); err != nil {
		return nil, err
	}
	if _, err := t.LoadNode(tgt); err != nil {
		return nil, err
	}

	id := t.nextEdgeID
	t.nextEdgeID++
	e := &Edge{ID: id, Source: src, Target: tgt, Type: edgeType, Properties: cloneProps(properties)}

	if err := LinkOutgoing(t, t, e); err != nil {
		return nil, err
	}
	if err := LinkIncoming(t, t, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetNode returns the node visible to this transaction's snapshot.
func (t *Txn) GetNode(id uint64) (*Node, error) {
	return t.LoadNode(id)
}

// GetEdge returns the edge visible to this transaction's snapshot.
func (t *Txn) GetEdge(id uint64) (*Edge, error) {
	return t.LoadEdge(id)
}

// DeleteNode removes a node: both its adjacency chains are walked to
// collect every incident edge id (deduplicated — self-loops appear in
// both chains), each edge is deleted first, then the node's own record
// pointer and index entries are removed (spec.md §4.6).
func (t *Txn) DeleteNode(id uint64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	n, err := t.LoadNode(id)
	if err != nil {
		return err
	}

	out, err := WalkOutgoing(t, t, id)
	if err != nil {
		return err
	}
	in, err := WalkIncoming(t, t, id)
	if err != nil {
		return err
	}
	seen := make(map[uint64]struct{}, len(out)+len(in))
	var incident []uint64
	for _, eid := range append(out, in...) {
		if _, dup := seen[eid]; dup {
			continue
		}
		seen[eid] = struct{}{}
		incident = append(incident, eid)
	}
	for _, eid := range incident {
		if err := t.DeleteEdge(eid); err != nil {
			return err
		}
	}

	for _, l := range n.Labels {
		t.store.labels.Remove(l, id)
	}
	for k, v := range n.Properties {
		if !v.Indexable() {
			continue
		}
		for _, l := range n.Labels {
			t.store.props.MarkUnbinding(l, k, v, id, uint64(t.id))
			t.removedPropBinds = append(t.removedPropBinds, pendingPropRemoval{label: l, key: k, value: v, id: id})
		}
	}
	t.store.primary.MarkDeleting(id, t.id)
	t.removedVersions = append(t.removedVersions, pendingDeletion{id: id})
	return nil
}

// DeleteEdge removes an edge, repairing both endpoints' adjacency chains
// in the same logical step (spec.md §4.6).
func (t *Txn) DeleteEdge(id uint64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	e, err := t.LoadEdge(id)
	if err != nil {
		return err
	}
	if err := UnlinkOutgoing(t, t, e.Source, id); err != nil {
		return err
	}
	if err := UnlinkIncoming(t, t, e.Target, id); err != nil {
		return err
	}
	t.store.primary.MarkDeleting(id, t.id)
	t.removedVersions = append(t.removedVersions, pendingDeletion{id: id})
	return nil
}

// SetProperty sets (or overwrites) a property on a node, updating the
// property index for any label the node carries.
func (t *Txn) SetProperty(nodeID uint64, key string, value PropertyValue) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	n, err := t.LoadNode(nodeID)
	if err != nil {
		return err
	}
	if old, ok := n.Properties[key]; ok && old.Indexable() {
		for _, l := range n.Labels {
			t.store.props.MarkUnbinding(l, key, old, nodeID, uint64(t.id))
			t.removedPropBinds = append(t.removedPropBinds, pendingPropRemoval{label: l, key: key, value: old, id: nodeID})
		}
	}
	if n.Properties == nil {
		n.Properties = make(map[string]PropertyValue)
	}
	n.Properties[key] = value
	if err := t.SaveNode(n); err != nil {
		return err
	}
	if value.Indexable() {
		for _, l := range n.Labels {
			t.store.props.Bind(l, key, value, nodeID, 0)
			t.newPropBindings = append(t.newPropBindings, pendingPropBinding{label: l, key: key, value: value, id: nodeID})
		}
	}
	return nil
}

// RemoveProperty removes a property from a node.
func (t *Txn) RemoveProperty(nodeID uint64, key string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	n, err := t.LoadNode(nodeID)
	if err != nil {
		return err
	}
	old, ok := n.Properties[key]
	if !ok {
		return nil
	}
	delete(n.Properties, key)
	if old.Indexable() {
		for _, l := range n.Labels {
			t.store.props.MarkUnbinding(l, key, old, nodeID, uint64(t.id))
			t.removedPropBinds = append(t.removedPropBinds, pendingPropRemoval{label: l, key: key, value: old, id: nodeID})
		}
	}
	return t.SaveNode(n)
}

// Direction selects which adjacency chain Neighbors walks.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Neighbors returns the edge ids incident to nodeID in the requested
// direction, visible under this transaction's snapshot. Because edges
// are prepended on insertion, an invisible newer edge is simply skipped
// and traversal continues to its predecessor (spec.md §4.8).
func (t *Txn) Neighbors(nodeID uint64, dir Direction) ([]uint64, error) {
	n, err := t.LoadNode(nodeID)
	if err != nil {
		return nil, err
	}
	head := n.FirstOutgoingID
	if dir == Incoming {
		head = n.FirstIncomingID
	}

	// The chain pointers (NextOutID/NextInID) live inside the edge record
	// itself, not in the version chain, so the newest version is always
	// read to follow the structure — but a given edge id is only
	// appended to the result when that id's own current version is
	// visible under this snapshot. This lets traversal skip an invisible
	// edge and continue to its predecessor instead of stopping early.
	var out []uint64
	id := head
	for id != 0 {
		latest := t.store.primary.Latest(id)
		if latest == nil {
			break
		}
		kind, payload, err := t.store.readRecord(latest.Pointer)
		if err != nil {
			return nil, err
		}
		if kind != RecordKindEdge {
			return nil, fmt.Errorf("neighbors: record %v is not an edge", latest.Pointer)
		}
		e, err := DecodeEdge(payload)
		if err != nil {
			return nil, err
		}
		if v := t.store.primary.VisibleVersion(id, t.snapTS, t.id); v != nil {
			out = append(out, e.ID)
		}
		if dir == Outgoing {
			id = e.NextOutID
		} else {
			id = e.NextInID
		}
	}
	return out, nil
}

// NodesByLabel returns every node id currently carrying label.
func (t *Txn) NodesByLabel(label string) []uint64 {
	return t.store.labels.NodesByLabel(label)
}

// FindNodesByProperty returns node ids with label carrying key=value,
// visible under this transaction's snapshot.
func (t *Txn) FindNodesByProperty(label, key string, value PropertyValue) []uint64 {
	return t.store.props.FindEqual(label, key, value, t.snapTS, uint64(t.id))
}

// FindNodesByPropertyRange returns node ids with label carrying key in
// [lo, hi], visible under this transaction's snapshot.
func (t *Txn) FindNodesByPropertyRange(label, key string, lo, hi PropertyValue) []uint64 {
	return t.store.props.FindRange(label, key, lo, hi, t.snapTS, uint64(t.id))
}

// CountNodesByLabel returns the number of nodes currently carrying label.
func (t *Txn) CountNodesByLabel(label string) int {
	return t.store.labels.Count(label)
}

func cloneProps(in map[string]PropertyValue) map[string]PropertyValue {
	out := make(map[string]PropertyValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
