package graph

import (
	"sort"

	jerrors "github.com/jawatools/jawa/errors"
)

// Graph is a control-flow graph: an arena of blocks keyed by label plus the
// typed edges between them. Every graph owns an entry block and the two
// terminal singletons, the return block and the rethrow block.
type Graph struct {
	blocks map[int]*Block
	out    map[int][]*Edge
	in     map[int][]*Edge
	opaque map[*Edge]struct{}
	next   int
}

// New creates a graph with an empty entry block.
func New() *Graph {
	g := &Graph{
		blocks: make(map[int]*Block),
		out:    make(map[int][]*Edge),
		in:     make(map[int][]*Edge),
		opaque: make(map[*Edge]struct{}),
		next:   EntryLabel + 1,
	}
	g.blocks[EntryLabel] = &Block{Label: EntryLabel}
	g.blocks[ReturnLabel] = &Block{Label: ReturnLabel}
	g.blocks[RethrowLabel] = &Block{Label: RethrowLabel}
	return g
}

// Entry returns the entry block.
func (g *Graph) Entry() *Block {
	return g.blocks[EntryLabel]
}

// ReturnBlock returns the return singleton.
func (g *Graph) ReturnBlock() *Block {
	return g.blocks[ReturnLabel]
}

// RethrowBlock returns the rethrow singleton.
func (g *Graph) RethrowBlock() *Block {
	return g.blocks[RethrowLabel]
}

// Block returns the block with the given label, or nil.
func (g *Graph) Block(label int) *Block {
	return g.blocks[label]
}

// NewBlock creates and adds a block with the next free label.
func (g *Graph) NewBlock() *Block {
	b := &Block{Label: g.next}
	g.blocks[b.Label] = b
	g.next++
	return b
}

// Blocks returns the regular blocks in ascending label order, excluding the
// return and rethrow singletons.
func (g *Graph) Blocks() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for label, b := range g.blocks {
		if label == ReturnLabel || label == RethrowLabel {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Remove deletes a block and every edge touching it.
func (g *Graph) Remove(label int) {
	if label == EntryLabel || label == ReturnLabel || label == RethrowLabel {
		return
	}
	for _, e := range g.out[label] {
		g.in[e.To] = removeEdge(g.in[e.To], e)
		delete(g.opaque, e)
	}
	for _, e := range g.in[label] {
		g.out[e.From] = removeEdge(g.out[e.From], e)
	}
	delete(g.out, label)
	delete(g.in, label)
	delete(g.blocks, label)
}

func removeEdge(edges []*Edge, e *Edge) []*Edge {
	for i, other := range edges {
		if other == e {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}

// Connect adds an edge, enforcing the structural invariants: both endpoints
// must exist (an opaque target only on ret edges), the terminal singletons
// have no outgoing edges, the entry block has no incoming edges, and the
// per-kind parallel edge limits hold.
func (g *Graph) Connect(e *Edge) *jerrors.Error {
	if g.blocks[e.From] == nil {
		return jerrors.InvalidEdge(e, "source block does not exist")
	}
	if e.From == ReturnLabel || e.From == RethrowLabel {
		return jerrors.InvalidEdge(e, "%s has no outgoing edges", blockName(e.From))
	}
	if e.To == EntryLabel {
		return jerrors.InvalidEdge(e, "entry block has no incoming edges")
	}
	if e.To == NoTarget {
		if e.Kind != KindRet {
			return jerrors.InvalidEdge(e, "only ret edges may be opaque")
		}
	} else if g.blocks[e.To] == nil {
		return jerrors.InvalidEdge(e, "target block does not exist")
	}

	if limit := e.Kind.Limit(); limit >= 0 {
		count := 0
		for _, other := range g.out[e.From] {
			if other.Kind == e.Kind {
				count++
			}
		}
		if count >= limit {
			return jerrors.InvalidEdge(e, "limit of %d %s edge(s) per block exceeded", limit, e.Kind)
		}
	}

	g.out[e.From] = append(g.out[e.From], e)
	if e.To == NoTarget {
		g.opaque[e] = struct{}{}
	} else {
		g.in[e.To] = append(g.in[e.To], e)
	}
	return nil
}

// Disconnect removes an edge.
func (g *Graph) Disconnect(e *Edge) {
	g.out[e.From] = removeEdge(g.out[e.From], e)
	if e.To == NoTarget {
		delete(g.opaque, e)
	} else {
		g.in[e.To] = removeEdge(g.in[e.To], e)
	}
}

// OutEdges returns the edges leaving a block.
func (g *Graph) OutEdges(label int) []*Edge {
	return append([]*Edge(nil), g.out[label]...)
}

// InEdges returns the edges entering a block.
func (g *Graph) InEdges(label int) []*Edge {
	return append([]*Edge(nil), g.in[label]...)
}

// OutEdge returns the first edge of the given kind leaving a block, or nil.
func (g *Graph) OutEdge(label int, kind Kind) *Edge {
	for _, e := range g.out[label] {
		if e.Kind == kind {
			return e
		}
	}
	return nil
}

// OpaqueEdges returns the edges whose targets are still unresolved. Every
// one of them must either be resolved during tracing or reported.
func (g *Graph) OpaqueEdges() []*Edge {
	out := make([]*Edge, 0, len(g.opaque))
	for e := range g.opaque {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Resolve binds an opaque edge to a target block.
func (g *Graph) Resolve(e *Edge, to int) *jerrors.Error {
	if !e.Opaque() {
		return jerrors.InvalidEdge(e, "edge is already resolved")
	}
	if g.blocks[to] == nil {
		return jerrors.InvalidEdge(e, "target block %d does not exist", to)
	}
	delete(g.opaque, e)
	e.To = to
	g.in[to] = append(g.in[to], e)
	return nil
}
