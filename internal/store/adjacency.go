package store

// ───────────────────────────────────────────────────────────────────────────
// Adjacency-list maintenance
// ───────────────────────────────────────────────────────────────────────────
//
// Each node's outgoing and incoming edges form a singly linked list
// threaded through Edge.NextOutID / Edge.NextInID, rooted at
// Node.FirstOutgoingID / Node.FirstIncomingID (spec.md §3/§4.6). The
// teacher has no direct analog (tinySQL rows have no adjacency concept);
// this is a plain intrusive-linked-list splice, the same shape as any
// textbook adjacency list, expressed against the NodeAccessor/EdgeAccessor
// seams so it stays independent of how nodes and edges are actually
// stored (pager-backed in production, a map in tests).

// NodeAccessor loads and persists Node records by id.
type NodeAccessor interface {
	LoadNode(id uint64) (*Node, error)
	SaveNode(n *Node) error
}

// EdgeAccessor loads and persists Edge records by id.
type EdgeAccessor interface {
	LoadEdge(id uint64) (*Edge, error)
	SaveEdge(e *Edge) error
}

// LinkOutgoing prepends e onto e.Source's outgoing chain.
func LinkOutgoing(na NodeAccessor, ea EdgeAccessor, e *Edge) error {
	src, err := na.LoadNode(e.Source)
	if err != nil {
		return err
	}
	e.NextOutID = src.FirstOutgoingID
	src.FirstOutgoingID = e.ID
	if err := ea.SaveEdge(e); err != nil {
		return err
	}
	return na.SaveNode(src)
}

// LinkIncoming prepends e onto e.Target's incoming chain.
func LinkIncoming(na NodeAccessor, ea EdgeAccessor, e *Edge) error {
	tgt, err := na.LoadNode(e.Target)
	if err != nil {
		return err
	}
	e.NextInID = tgt.FirstIncomingID
	tgt.FirstIncomingID = e.ID
	if err := ea.SaveEdge(e); err != nil {
		return err
	}
	return na.SaveNode(tgt)
}

// UnlinkOutgoing removes edgeID from nodeID's outgoing chain.
func UnlinkOutgoing(na NodeAccessor, ea EdgeAccessor, nodeID, edgeID uint64) error {
	node, err := na.LoadNode(nodeID)
	if err != nil {
		return err
	}
	if node.FirstOutgoingID == edgeID {
		e, err := ea.LoadEdge(edgeID)
		if err != nil {
			return err
		}
		node.FirstOutgoingID = e.NextOutID
		return na.SaveNode(node)
	}
	prevID := node.FirstOutgoingID
	for prevID != 0 {
		prev, err := ea.LoadEdge(prevID)
		if err != nil {
			return err
		}
		if prev.NextOutID == edgeID {
			cur, err := ea.LoadEdge(edgeID)
			if err != nil {
				return err
			}
			prev.NextOutID = cur.NextOutID
			return ea.SaveEdge(prev)
		}
		prevID = prev.NextOutID
	}
	return nil
}

// UnlinkIncoming removes edgeID from nodeID's incoming chain.
func UnlinkIncoming(na NodeAccessor, ea EdgeAccessor, nodeID, edgeID uint64) error {
	node, err := na.LoadNode(nodeID)
	if err != nil {
		return err
	}
	if node.FirstIncomingID == edgeID {
		e, err := ea.LoadEdge(edgeID)
		if err != nil {
			return err
		}
		node.FirstIncomingID = e.NextInID
		return na.SaveNode(node)
	}
	prevID := node.FirstIncomingID
	for prevID != 0 {
		prev, err := ea.LoadEdge(prevID)
		if err != nil {
			return err
		}
		if prev.NextInID == edgeID {
			cur, err := ea.LoadEdge(edgeID)
			if err != nil {
				return err
			}
			prev.NextInID = cur.NextInID
			return ea.SaveEdge(prev)
		}
		prevID = prev.NextInID
	}
	return nil
}

// WalkOutgoing returns every edge id in nodeID's outgoing chain, in
// traversal order.
func WalkOutgoing(na NodeAccessor, ea EdgeAccessor, nodeID uint64) ([]uint64, error) {
	node, err := na.LoadNode(nodeID)
	if err != nil {
		return nil, err
	}
	var out []uint64
	id := node.FirstOutgoingID
	for id != 0 {
		e, err := ea.LoadEdge(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e.ID)
		id = e.NextOutID
	}
	return out, nil
}

// WalkIncoming returns every edge id in nodeID's incoming chain, in
// traversal order.
func WalkIncoming(na NodeAccessor, ea EdgeAccessor, nodeID uint64) ([]uint64, error) {
	node, err := na.LoadNode(nodeID)
	if err != nil {
		return nil, err
	}
	var out []uint64
	id := node.FirstIncomingID
	for id != 0 {
		e, err := ea.LoadEdge(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e.ID)
		id = e.NextInID
	}
	return out, nil
}
