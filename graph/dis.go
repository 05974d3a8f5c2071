package graph

import (
	"sort"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/insns"
)

// Disassemble builds a control-flow graph from a Code attribute.
//
// The linear scan discovers block boundaries (jump targets, handler targets
// and exception bounds), splits the instruction stream into blocks, and
// emits typed edges as terminators are consumed. Bound jumps have their
// displacement operands cleared: the graph carries the target from then on.
// Structural anomalies are reported through v while the instruction stream
// is preserved faithfully.
func Disassemble(code *classfile.Code, pool *classfile.Pool, v *jerrors.Verifier) (*Graph, error) {
	decoded, err := insns.Decode(code.Bytecode, pool, v)
	if err != nil {
		return nil, err
	}

	jumpTargets, handlerTargets, bounds := findTargetsAndBounds(decoded, code.ExceptionTable)

	g := New()
	connect := func(e *Edge) {
		if err := g.Connect(e); err != nil {
			v.Report(err)
		}
	}

	starting := make(map[int32]*Block)
	forward := make(map[int32][]*Edge)
	block := g.Entry()
	isNew := false

	for _, in := range decoded {
		offset := in.Offset
		_, isForward := forward[offset]

		// A jump target, handler target or exception bound starts a block.
		if !isNew && (isForward || jumpTargets[offset] || handlerTargets[offset] || bounds[offset]) {
			if len(block.Insns) > 0 || block.Label == EntryLabel {
				prev := block
				block = g.NewBlock()
				connect(&Edge{Kind: KindFallthrough, From: prev.Label, To: block.Label})
				isNew = true
			}
		}

		if isNew {
			isNew = false
			starting[offset] = block

			// Earlier jumps referencing this offset bind now; a bound edge
			// carries the target, so the numeric displacement goes away.
			for _, e := range forward[offset] {
				clearOperand(e)
				e.To = block.Label
				connect(e)
			}
			delete(forward, offset)
		}

		switch {
		case in.Opcode == insns.OpRet:
			connect(&Edge{Kind: KindRet, From: block.Label, To: NoTarget, Insn: in})
			block = g.NewBlock()
			isNew = true

		case in.IsJsr():
			prev := block
			block = g.NewBlock()
			isNew = true

			target := offset + in.Imm.(insns.BranchImm).Offset
			e := &Edge{Kind: KindJsrJump, From: prev.Label, To: NoTarget, Insn: in}
			if to, ok := starting[target]; ok {
				clearOperand(e)
				e.To = to.Label
				connect(e)
			} else {
				forward[target] = append(forward[target], e)
			}

			// The fallthrough target must be inlined at every call site so
			// each subroutine return has somewhere distinct to land.
			block.Inline = true
			connect(&Edge{Kind: KindJsrFallthrough, From: prev.Label, To: block.Label, Insn: in})

		case in.IsJump():
			target := offset + in.Imm.(insns.BranchImm).Offset
			e := &Edge{Kind: KindJump, From: block.Label, To: NoTarget, Insn: in}
			if to, ok := starting[target]; ok {
				clearOperand(e)
				e.To = to.Label
				connect(e)
			} else {
				forward[target] = append(forward[target], e)
			}

			prev := block
			block = g.NewBlock()
			isNew = true
			if in.IsConditional() {
				connect(&Edge{Kind: KindFallthrough, From: prev.Label, To: block.Label})
			}

		case in.Opcode == insns.OpTableSwitch:
			imm := in.Imm.(insns.TableSwitchImm)
			emitSwitchEdge(g, v, starting, forward, block, in, nil, offset+imm.Default)
			for i, rel := range imm.Offsets {
				value := imm.Low + int32(i)
				emitSwitchEdge(g, v, starting, forward, block, in, &value, offset+rel)
			}
			block = g.NewBlock()
			isNew = true

		case in.Opcode == insns.OpLookupSwitch:
			imm := in.Imm.(insns.LookupSwitchImm)
			emitSwitchEdge(g, v, starting, forward, block, in, nil, offset+imm.Default)
			for i, rel := range imm.Offsets {
				value := imm.Keys[i]
				emitSwitchEdge(g, v, starting, forward, block, in, &value, offset+rel)
			}
			block = g.NewBlock()
			isNew = true

		case in.IsReturn():
			connect(&Edge{Kind: KindFallthrough, From: block.Label, To: ReturnLabel, Insn: in})
			block = g.NewBlock()
			isNew = true

		case in.Opcode == insns.OpAThrow:
			connect(&Edge{Kind: KindFallthrough, From: block.Label, To: RethrowLabel, Insn: in})
			block = g.NewBlock()
			isNew = true

		default:
			block.Add(in)
		}
	}

	// Jumps whose targets never materialized (obfuscated displacements past
	// the end of code). The raw instruction is kept in its block and control
	// falls through to the numerically next block, preserving the original
	// instruction order.
	unboundTargets := make([]int32, 0, len(forward))
	for target := range forward {
		unboundTargets = append(unboundTargets, target)
	}
	sort.Slice(unboundTargets, func(i, j int) bool { return unboundTargets[i] < unboundTargets[j] })
	for _, target := range unboundTargets {
		for _, e := range forward[target] {
			g.Block(e.From).Add(e.Insn)
			if next := g.Block(e.From + 1); next != nil && g.OutEdge(e.From, KindFallthrough) == nil {
				connect(&Edge{Kind: KindFallthrough, From: e.From, To: next.Label})
			}
			v.Report(jerrors.InvalidEdge(e, "unbound forward jump to offset %d", target))
		}
	}

	// A trailing block that never received instructions or edges is noise
	// from a terminator at the end of the stream.
	if len(block.Insns) == 0 && len(g.out[block.Label]) == 0 && len(g.in[block.Label]) == 0 {
		g.Remove(block.Label)
	}

	// Exception edges, in table order so priorities match row indices.
	startOffsets := make([]int32, 0, len(starting))
	for offset := range starting {
		startOffsets = append(startOffsets, offset)
	}
	sort.Slice(startOffsets, func(i, j int) bool { return startOffsets[i] < startOffsets[j] })
	for _, offset := range startOffsets {
		covered := starting[offset]
		for i, handler := range code.ExceptionTable {
			if int32(handler.StartPC) <= offset && offset < int32(handler.EndPC) {
				target, ok := starting[int32(handler.HandlerPC)]
				if !ok {
					continue
				}
				connect(&Edge{
					Kind:      KindException,
					From:      covered.Label,
					To:        target.Label,
					Priority:  i,
					Throwable: handler.CatchType,
				})
			}
		}
	}

	return g, nil
}

func findTargetsAndBounds(decoded []*insns.Instruction, table []classfile.ExceptionHandler) (jumpTargets, handlerTargets, bounds map[int32]bool) {
	jumpTargets = make(map[int32]bool)
	handlerTargets = make(map[int32]bool)
	bounds = make(map[int32]bool)

	for _, in := range decoded {
		switch imm := in.Imm.(type) {
		case insns.BranchImm:
			if in.IsJump() {
				jumpTargets[in.Offset+imm.Offset] = true
			}
		case insns.TableSwitchImm:
			jumpTargets[in.Offset+imm.Default] = true
			for _, rel := range imm.Offsets {
				jumpTargets[in.Offset+rel] = true
			}
		case insns.LookupSwitchImm:
			jumpTargets[in.Offset+imm.Default] = true
			for _, rel := range imm.Offsets {
				jumpTargets[in.Offset+rel] = true
			}
		}
	}

	for _, handler := range table {
		handlerTargets[int32(handler.HandlerPC)] = true
		bounds[int32(handler.StartPC)] = true
		bounds[int32(handler.EndPC)] = true
	}
	return jumpTargets, handlerTargets, bounds
}

func emitSwitchEdge(g *Graph, v *jerrors.Verifier, starting map[int32]*Block, forward map[int32][]*Edge, from *Block, in *insns.Instruction, value *int32, target int32) {
	e := &Edge{Kind: KindSwitch, From: from.Label, To: NoTarget, Insn: in, Value: value}
	if to, ok := starting[target]; ok {
		clearOperand(e)
		e.To = to.Label
		if err := g.Connect(e); err != nil {
			v.Report(err)
		}
		return
	}
	forward[target] = append(forward[target], e)
}

// clearOperand removes the numeric displacement a bound edge replaces.
func clearOperand(e *Edge) {
	switch imm := e.Insn.Imm.(type) {
	case insns.BranchImm:
		imm.Bound = true
		e.Insn.Imm = imm

	case insns.TableSwitchImm:
		if e.Value == nil {
			imm.HasDefault = false
		} else {
			imm.Offsets = nil
		}
		e.Insn.Imm = imm

	case insns.LookupSwitchImm:
		if e.Value == nil {
			imm.HasDefault = false
		} else {
			for i, key := range imm.Keys {
				if key == *e.Value {
					imm.Keys = append(append([]int32(nil), imm.Keys[:i]...), imm.Keys[i+1:]...)
					imm.Offsets = append(append([]int32(nil), imm.Offsets[:i]...), imm.Offsets[i+1:]...)
					break
				}
			}
		}
		e.Insn.Imm = imm
	}
}
