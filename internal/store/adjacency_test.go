package store

import "testing"

// memGraph is a trivial in-memory NodeAccessor/EdgeAccessor used to test
// adjacency splicing in isolation from the pager.
type memGraph struct {
	nodes map[uint64]*Node
	edges map[uint64]*Edge
}

func newMemGraph() *memGraph {
	return &memGraph{nodes: make(map[uint64]*Node), edges: make(map[uint64]*Edge)}
}

func (m *memGraph) LoadNode(id uint64) (*Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memGraph) SaveNode(n *Node) error {
	cp := *n
	m.nodes[n.ID] = &cp
	return nil
}

func (m *memGraph) LoadEdge(id uint64) (*Edge, error) {
	e, ok := m.edges[id]
	if !ok {
		return nil, ErrEdgeNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memGraph) SaveEdge(e *Edge) error {
	cp := *e
	m.edges[e.ID] = &cp
	return nil
}

func TestAdjacency_LinkAndWalk(t *testing.T) {
	g := newMemGraph()
	g.nodes[1] = &Node{ID: 1}
	g.nodes[2] = &Node{ID: 2}

	e1 := &Edge{ID: 100, Source: 1, Target: 2}
	e2 := &Edge{ID: 101, Source: 1, Target: 2}

	if err := LinkOutgoing(g, g, e1); err != nil {
		t.Fatalf("LinkOutgoing(e1): %v", err)
	}
	if err := LinkIncoming(g, g, e1); err != nil {
		t.Fatalf("LinkIncoming(e1): %v", err)
	}
	if err := LinkOutgoing(g, g, e2); err != nil {
		t.Fatalf("LinkOutgoing(e2): %v", err)
	}
	if err := LinkIncoming(g, g, e2); err != nil {
		t.Fatalf("LinkIncoming(e2): %v", err)
	}

	out, err := WalkOutgoing(g, g, 1)
	if err != nil {
		t.Fatalf("WalkOutgoing: %v", err)
	}
	if len(out) != 2 || out[0] != 101 || out[1] != 100 {
		t.Errorf("WalkOutgoing(1) = %v, want [101 100] (newest prepended first)", out)
	}

	in, err := WalkIncoming(g, g, 2)
	if err != nil {
		t.Fatalf("WalkIncoming: %v", err)
	}
	if len(in) != 2 || in[0] != 101 || in[1] != 100 {
		t.Errorf("WalkIncoming(2) = %v, want [101 100]", in)
	}
}

func TestAdjacency_UnlinkMiddle(t *testing.T) {
	g := newMemGraph()
	g.nodes[1] = &Node{ID: 1}
	g.nodes[2] = &Node{ID: 2}

	for _, id := range []uint64{100, 101, 102} {
		e := &Edge{ID: id, Source: 1, Target: 2}
		if err := LinkOutgoing(g, g, e); err != nil {
			t.Fatalf("LinkOutgoing(%d): %v", id, err)
		}
	}
	// chain (newest-first): 102 -> 101 -> 100
	if err := UnlinkOutgoing(g, g, 1, 101); err != nil {
		t.Fatalf("UnlinkOutgoing: %v", err)
	}
	out, err := WalkOutgoing(g, g, 1)
	if err != nil {
		t.Fatalf("WalkOutgoing: %v", err)
	}
	if len(out) != 2 || out[0] != 102 || out[1] != 100 {
		t.Errorf("WalkOutgoing after unlinking middle = %v, want [102 100]", out)
	}
}

func TestAdjacency_UnlinkHead(t *testing.T) {
	g := newMemGraph()
	g.nodes[1] = &Node{ID: 1}
	g.nodes[2] = &Node{ID: 2}
	e := &Edge{ID: 100, Source: 1, Target: 2}
	if err := LinkOutgoing(g, g, e); err != nil {
		t.Fatalf("LinkOutgoing: %v", err)
	}
	if err := UnlinkOutgoing(g, g, 1, 100); err != nil {
		t.Fatalf("UnlinkOutgoing: %v", err)
	}
	out, err := WalkOutgoing(g, g, 1)
	if err != nil {
		t.Fatalf("WalkOutgoing: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("WalkOutgoing after unlinking sole head edge = %v, want empty", out)
	}
}
