// Package trace implements abstract interpretation over the control-flow
// graph: per-block entry and exit constraints, subroutine resolution,
// back-edge and leaf-edge detection, stack and locals maxima, and the
// liveness analysis derived from local access logs.
package trace

import (
	"strings"

	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/insns"
	"github.com/jawatools/jawa/types"
)

// Options configures a trace run.
type Options struct {
	// DoRaise turns a non-empty error log into a returned error.
	DoRaise bool
	// Exact records a frame delta and snapshot after every instruction
	// instead of keeping only block exit snapshots.
	Exact bool
}

// Subroutine records one resolved jsr/ret pairing.
type Subroutine struct {
	JsrEdge   *graph.Edge
	RetEdge   *graph.Edge
	ExitBlock int
	Target    int
}

// Trace is the result of abstractly interpreting a method.
type Trace struct {
	Graph  *graph.Graph
	Method frame.Method

	// Entries and Exits hold, per block, every distinct (entry, exit)
	// constraint seen by any path reaching it.
	Entries map[int][]*frame.Frame
	Exits   map[int][]*frame.Frame

	// Steps holds per-instruction snapshots in exact mode.
	Steps map[int][]*frame.Frame

	// Uses holds the locals a block reads before overwriting; Defs the
	// locals it writes.
	Uses map[int]*BitSet
	Defs map[int]*BitSet

	Subroutines []Subroutine
	BackEdges   []*graph.Edge
	LeafEdges   []*graph.Edge

	MaxStack  int
	MaxLocals int
}

// Reached reports whether the trace visited the block.
func (t *Trace) Reached(label int) bool {
	_, ok := t.Entries[label]
	return ok
}

// Run abstractly interprets the graph from the method's initial frame.
//
// The walk is an iterative DFS whose stack depth is proportional to graph
// depth, never to host recursion limits. Each block records the entry and
// exit constraints of every path that reaches it; a revisit whose frame
// matches an existing constraint on live locals and stack is skipped, and
// a revisit of a block still on the traversal path is a back edge.
func Run(g *graph.Graph, m frame.Method, v *jerrors.Verifier, opts Options) (*Trace, error) {
	t := &Trace{
		Graph:   g,
		Method:  m,
		Entries: make(map[int][]*frame.Frame),
		Exits:   make(map[int][]*frame.Frame),
		Steps:   make(map[int][]*frame.Frame),
		Uses:    make(map[int]*BitSet),
		Defs:    make(map[int]*BitSet),
	}

	initial, err := frame.Initial(m, v)
	if err != nil {
		return nil, err
	}
	t.MaxStack = initial.MaxStack
	t.MaxLocals = initial.MaxLocals

	type visit struct {
		exit  *frame.Frame
		edges []*graph.Edge
		block int
		next  int
	}

	// Cleverly crafted (or broken) methods can keep producing frames that
	// never match an existing constraint; cap revisits so the walk always
	// terminates.
	const maxVisits = 256
	visits := make(map[int]int)

	onPath := make(map[int]int)
	var stack []*visit

	enter := func(label int, in *frame.Frame) {
		exit := t.traceBlock(label, in, v, opts)
		stack = append(stack, &visit{
			block: label,
			exit:  exit,
			edges: g.OutEdges(label),
		})
		onPath[label]++
		if exit.MaxStack > t.MaxStack {
			t.MaxStack = exit.MaxStack
		}
		if exit.MaxLocals > t.MaxLocals {
			t.MaxLocals = exit.MaxLocals
		}
	}

	enter(graph.EntryLabel, initial)
	debugf("tracing %s.%s%s", m.Class, m.Name, m.Descriptor)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.edges) {
			stack = stack[:len(stack)-1]
			onPath[top.block]--
			continue
		}
		e := top.edges[top.next]
		top.next++

		out, target, ok := t.traceEdge(e, top.exit, v)
		if !ok {
			continue
		}

		if target == graph.ReturnLabel || target == graph.RethrowLabel {
			t.LeafEdges = append(t.LeafEdges, e)
			t.record(target, out, out)
			continue
		}

		if onPath[target] > 0 {
			t.BackEdges = append(t.BackEdges, e)
		}
		if t.matches(target, out) {
			continue
		}
		if visits[target]++; visits[target] > maxVisits {
			v.Report(jerrors.InvalidBlock(e, "no stable frame after %d visits", maxVisits))
			continue
		}
		enter(target, out)
	}

	// Every opaque edge must have been resolved during the walk.
	for _, e := range g.OpaqueEdges() {
		v.Report(jerrors.InvalidBlock(e, "unresolved ret edge"))
	}

	if opts.DoRaise {
		return t, v.Raise()
	}
	return t, nil
}

func (t *Trace) record(label int, entry, exit *frame.Frame) {
	t.Entries[label] = append(t.Entries[label], entry)
	t.Exits[label] = append(t.Exits[label], exit)
}

// traceBlock runs every instruction of the block over a copy of the entry
// frame, then the terminator once, and records the constraint pair plus the
// block's local use/def sets.
func (t *Trace) traceBlock(label int, entry *frame.Frame, v *jerrors.Verifier, opts Options) *frame.Frame {
	block := t.Graph.Block(label)
	fr := entry.Copy(false)

	for i, in := range block.Insns {
		source := jerrors.InstructionInBlock{Block: label, Index: i, Insn: in}
		if opts.Exact {
			fr.Start(source)
		} else {
			fr.SetSource(source)
		}
		in.Trace(fr)
		if opts.Exact {
			fr.Finish()
			t.Steps[label] = append(t.Steps[label], fr.Copy(false))
		}
	}

	// The terminator lives on the out edges; it runs once per block even
	// when several edges share it (a conditional pair, a switch fan-out).
	if term := t.terminator(label); term != nil {
		source := jerrors.InstructionInBlock{Block: label, Index: len(block.Insns), Insn: term}
		if opts.Exact {
			fr.Start(source)
		} else {
			fr.SetSource(source)
		}
		term.Trace(fr)
		if opts.Exact {
			fr.Finish()
		}
	}

	uses := NewBitSet(fr.MaxLocals)
	defs := NewBitSet(fr.MaxLocals)
	for _, access := range fr.Accesses {
		if access.Read {
			if !defs.Has(access.Index) {
				uses.Set(access.Index)
			}
		} else {
			defs.Set(access.Index)
		}
	}
	if old := t.Uses[label]; old != nil {
		uses.Union(old)
	}
	if old := t.Defs[label]; old != nil {
		defs.Union(old)
	}
	t.Uses[label] = uses
	t.Defs[label] = defs

	t.record(label, entry, fr)
	return fr
}

func (t *Trace) terminator(label int) *insns.Instruction {
	for _, e := range t.Graph.OutEdges(label) {
		if e.Insn != nil {
			return e.Insn
		}
	}
	return nil
}

// traceEdge derives the frame entering e.To from the frame leaving e.From.
func (t *Trace) traceEdge(e *graph.Edge, exit *frame.Frame, v *jerrors.Verifier) (*frame.Frame, int, bool) {
	switch e.Kind {
	case graph.KindJsrFallthrough:
		// Entered only by returning from the subroutine, never forward.
		return nil, 0, false

	case graph.KindRet:
		return t.resolveRet(e, exit, v)

	case graph.KindException:
		fr := exit.Copy(false)
		fr.SetSource(e)
		fr.ClearStack()
		name := e.ThrowableName()
		if strings.HasPrefix(name, "[") {
			v.Report(jerrors.New(jerrors.KindInvalidType, e,
				"catch type %s is not assignable to java/lang/Throwable", name))
		}
		fr.Push(types.Object(name), nil)
		return fr, e.To, true

	default:
		return exit.Copy(false), e.To, true
	}
}

// resolveRet resolves an opaque ret edge: the returnAddress in the ret's
// local leads back to the jsr block, whose jsr fallthrough edge names the
// return target. The mapping is recorded in the subroutine map.
//
// Multi-entry and multi-exit subroutines are permitted (though they will
// not verify); a ret without a matching jsr pair degrades to an error and
// the edge stays unresolved.
func (t *Trace) resolveRet(e *graph.Edge, exit *frame.Frame, v *jerrors.Verifier) (*frame.Frame, int, bool) {
	index := int(e.Insn.Imm.(insns.LocalImm).Index)
	entry, ok := exit.Locals[index]
	if !ok || !entry.Type.IsReturnAddress() {
		v.Report(jerrors.InvalidBlock(e, "local %d does not hold a returnAddress", index))
		return nil, 0, false
	}

	source, ok := entry.Source.(jerrors.InstructionInBlock)
	if !ok {
		v.Report(jerrors.InvalidBlock(e, "returnAddress has no jsr origin"))
		return nil, 0, false
	}

	jsrJump := t.Graph.OutEdge(source.Block, graph.KindJsrJump)
	jsrFall := t.Graph.OutEdge(source.Block, graph.KindJsrFallthrough)
	if jsrJump == nil || jsrFall == nil {
		v.Report(jerrors.InvalidBlock(e, "no jsr edge pair on %s", blockRef(source.Block)))
		return nil, 0, false
	}

	target := jsrFall.To
	if e.Opaque() {
		if err := t.Graph.Resolve(e, target); err != nil {
			v.Report(err)
			return nil, 0, false
		}
	}
	t.Subroutines = append(t.Subroutines, Subroutine{
		JsrEdge:   jsrJump,
		RetEdge:   e,
		ExitBlock: e.From,
		Target:    target,
	})
	debugf("resolved ret in %s -> %s", blockRef(e.From), blockRef(target))

	return exit.Copy(false), target, true
}

// matches reports whether an already-recorded entry constraint covers the
// incoming frame: stacks agree pairwise and the locals the block reads
// before overwriting agree under entry identity rules.
func (t *Trace) matches(label int, fr *frame.Frame) bool {
	constraints := t.Entries[label]
	if len(constraints) == 0 {
		return false
	}

	checkDepth := label != graph.ReturnLabel && label != graph.RethrowLabel
	uses := t.Uses[label]

	for _, c := range constraints {
		if checkDepth && len(c.Stack) != len(fr.Stack) {
			continue
		}
		match := true
		for i := range c.Stack {
			if i >= len(fr.Stack) || !c.Stack[i].Same(fr.Stack[i]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if uses != nil {
			for _, index := range uses.ToSlice() {
				a, aok := c.Locals[index]
				b, bok := fr.Locals[index]
				if aok != bok || (aok && !a.Same(b)) {
					match = false
					break
				}
			}
		}
		if match {
			return true
		}
	}
	return false
}

func blockRef(label int) string {
	return (&graph.Block{Label: label}).SourceName()
}
