package trace

import (
	"github.com/jawatools/jawa/graph"
)

// Liveness holds per-block live local sets derived from a trace's access
// logs: Entries is live-in (locals read before being overwritten on some
// path from block entry), Exits is live-out (locals whose later uses cross
// the block boundary).
type Liveness struct {
	Entries map[int]*BitSet
	Exits   map[int]*BitSet
}

// LiveIn returns the live-in set for a block, never nil.
func (l *Liveness) LiveIn(label int) *BitSet {
	if s := l.Entries[label]; s != nil {
		return s
	}
	return NewBitSet(0)
}

// LiveOut returns the live-out set for a block, never nil.
func (l *Liveness) LiveOut(label int) *BitSet {
	if s := l.Exits[label]; s != nil {
		return s
	}
	return NewBitSet(0)
}

// FromTrace computes liveness with a backward dataflow pass over the traced
// graph. An exception edge may fire from anywhere inside its block, so no
// redefinition can be assumed: the handler's live-in propagates to the
// block's live-in unfiltered.
func FromTrace(t *Trace) *Liveness {
	l := &Liveness{
		Entries: make(map[int]*BitSet),
		Exits:   make(map[int]*BitSet),
	}

	// The return and rethrow blocks cannot access locals.
	l.Entries[graph.ReturnLabel] = NewBitSet(0)
	l.Entries[graph.RethrowLabel] = NewBitSet(0)

	// Seed with every edge; cyclic paths converge because the transfer is
	// monotone over a finite lattice.
	var worklist []*graph.Edge
	for _, b := range t.Graph.Blocks() {
		worklist = append(worklist, t.Graph.OutEdges(b.Label)...)
	}

	for len(worklist) > 0 {
		e := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if e.Opaque() || e.Kind == graph.KindJsrFallthrough {
			continue
		}

		succIn := l.Entries[e.To]

		newOut := NewBitSet(0)
		newOut.Union(l.Exits[e.From])
		newOut.Union(succIn)

		newIn := NewBitSet(0)
		newIn.Union(l.Entries[e.From])
		newIn.Union(t.Uses[e.From])
		if e.Kind == graph.KindException {
			newIn.Union(succIn)
		} else {
			crossing := newOut.Clone()
			crossing.Subtract(t.Defs[e.From])
			newIn.Union(crossing)
		}

		outChanged := l.Exits[e.From] == nil || !l.Exits[e.From].Equal(newOut)
		inChanged := l.Entries[e.From] == nil || !l.Entries[e.From].Equal(newIn)
		if outChanged {
			l.Exits[e.From] = newOut
		}
		if inChanged {
			l.Entries[e.From] = newIn
		}
		if outChanged || inChanged {
			worklist = append(worklist, t.Graph.InEdges(e.From)...)
		}
	}

	return l
}
