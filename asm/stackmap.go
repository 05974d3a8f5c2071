package asm

import (
	"sort"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/trace"
	"github.com/jawatools/jawa/types"
)

// stackMapTable computes and compresses the stack map frames for the
// laid-out code. A frame lands at every copy of every block that is a
// jump, switch or exception target (or the target of a synthetic goto),
// and at every dead block kept in the stream.
func (a *assembler) stackMapTable() *classfile.StackMapTable {
	live := trace.FromTrace(a.tr)

	type site struct {
		offset uint16
		label  int
	}
	var sites []site
	for _, b := range a.g.Blocks() {
		if len(a.copies[b.Label]) == 0 {
			continue
		}
		if !a.needsFrame(b.Label) {
			continue
		}
		for _, c := range a.copies[b.Label] {
			sites = append(sites, site{offset: uint16(c.start), label: b.Label})
		}
	}
	if len(sites) == 0 {
		return nil
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].offset < sites[j].offset })

	// The implicit bootstrap frame is the method's initial locals.
	var scratch jerrors.Verifier
	initial, err := frame.Initial(a.tr.Method, &scratch)
	if err != nil {
		return nil
	}
	prevLocals := a.wireLocals(initial, nil)
	prevOffset := -1

	table := &classfile.StackMapTable{}
	for _, s := range sites {
		if int(s.offset) <= prevOffset {
			continue // duplicate site, keep the first
		}
		locals, stack, ok := a.frameAt(s.label, live)
		if !ok {
			continue
		}

		delta := int(s.offset) - prevOffset - 1
		table.Frames = append(table.Frames, compress(prevLocals, locals, stack, uint16(delta)))
		prevLocals = locals
		prevOffset = int(s.offset)
	}
	if len(table.Frames) == 0 {
		return nil
	}
	return table
}

// needsFrame reports whether a block's entry is a branch target in the
// laid-out code.
func (a *assembler) needsFrame(label int) bool {
	if a.dead[label] {
		return true
	}
	if a.synthTargets[label] {
		return true
	}
	for _, e := range a.g.InEdges(label) {
		switch e.Kind {
		case graph.KindJump, graph.KindJsrJump, graph.KindRet, graph.KindSwitch, graph.KindException:
			return true
		}
	}
	return false
}

// frameAt builds the wire-form entry frame of a block by merging every
// recorded entry constraint over the stack and the live locals.
func (a *assembler) frameAt(label int, live *trace.Liveness) (locals, stack []classfile.VerificationTypeInfo, ok bool) {
	if a.dead[label] {
		// A dead block is materialized as a lone athrow: one throwable on
		// the stack, nothing in the locals.
		return nil, []classfile.VerificationTypeInfo{
			{Tag: classfile.ItemObject, ClassName: "java/lang/Throwable"},
		}, true
	}

	entries := a.tr.Entries[label]
	if len(entries) == 0 {
		return nil, nil, false
	}
	block := a.g.Block(label)

	// All predecessors must agree on stack height.
	first := entries[0]
	for _, other := range entries[1:] {
		if len(other.Stack) != len(first.Stack) {
			a.v.Report(jerrors.InvalidStackMerge(block,
				"stack heights %d and %d do not agree", len(first.Stack), len(other.Stack)))
			return nil, nil, false
		}
	}

	mergedStack := make([]types.Type, len(first.Stack))
	for i, entry := range first.Stack {
		merged := entry.Type
		for _, other := range entries[1:] {
			t := other.Stack[i].Type
			if !merged.Mergeable(t) {
				a.v.Report(jerrors.InvalidStackMerge(block,
					"slot %d: %s and %s do not merge", i, merged, t))
			}
			merged = merged.Merge(t)
		}
		mergedStack[i] = merged
	}

	liveIn := live.LiveIn(label)
	maxLocal := -1
	for _, entry := range entries {
		for index := range entry.Locals {
			if index > maxLocal {
				maxLocal = index
			}
		}
	}

	mergedLocals := make([]types.Type, maxLocal+1)
	for i := range mergedLocals {
		mergedLocals[i] = types.Top
	}
	for i := 0; i <= maxLocal; i++ {
		if !liveIn.Has(i) && !paramSlot(a.tr.Method, i) {
			continue
		}
		merged := types.Top
		known := false
		for _, entry := range entries {
			local, present := entry.Locals[i]
			if !present {
				known = false
				break
			}
			if !known {
				merged = local.Type
				known = true
				continue
			}
			if !merged.Mergeable(local.Type) {
				a.v.Report(jerrors.InvalidLocalsMerge(block,
					"local %d: %s and %s do not merge", i, merged, local.Type))
			}
			merged = merged.Merge(local.Type)
		}
		if known {
			mergedLocals[i] = merged
		}
	}

	return a.wireSlots(mergedLocals, true), a.wireStack(mergedStack), true
}

// paramSlot reports whether a local index is occupied by the receiver or a
// parameter; those stay in the frame even when no block reads them, because
// the implicit bootstrap frame carries them.
func paramSlot(m frame.Method, index int) bool {
	slots := 0
	if !m.Static {
		slots++
	}
	params, _, _, err := types.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return false
	}
	for _, p := range params {
		slots += p.Category()
	}
	return index < slots
}

// wireLocals converts a frame's locals map into wire form.
func (a *assembler) wireLocals(f *frame.Frame, liveIn *trace.BitSet) []classfile.VerificationTypeInfo {
	maxLocal := -1
	for index := range f.Locals {
		if index > maxLocal {
			maxLocal = index
		}
	}
	slots := make([]types.Type, maxLocal+1)
	for i := range slots {
		slots[i] = types.Top
	}
	for index, entry := range f.Locals {
		if liveIn == nil || liveIn.Has(index) {
			slots[index] = entry.Type
		}
	}
	return a.wireSlots(slots, true)
}

// wireSlots converts slot-per-index types to wire entries: a wide type
// consumes its sentinel slot, and trailing tops truncate away.
func (a *assembler) wireSlots(slots []types.Type, truncate bool) []classfile.VerificationTypeInfo {
	if truncate {
		for len(slots) > 0 && slots[len(slots)-1].IsTop() {
			slots = slots[:len(slots)-1]
		}
	}
	wire := make([]classfile.VerificationTypeInfo, 0, len(slots))
	for i := 0; i < len(slots); i++ {
		wire = append(wire, a.typeInfo(slots[i]))
		if slots[i].Wide() {
			i++ // the sentinel slot
		}
	}
	return wire
}

func (a *assembler) wireStack(slots []types.Type) []classfile.VerificationTypeInfo {
	return a.wireSlots(slots, false)
}

// typeInfo lowers a verification type to its wire form. Uninitialized
// types are replaced by the laid-out offset of their creating new.
func (a *assembler) typeInfo(t types.Type) classfile.VerificationTypeInfo {
	switch {
	case t == types.Top:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemTop}
	case t.Widened() == types.Int:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemInteger}
	case t == types.Float:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemFloat}
	case t == types.Long:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemLong}
	case t == types.Double:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemDouble}
	case t == types.Null:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemNull}
	case t.Name() != "" && t.Uninitialized():
		return classfile.VerificationTypeInfo{Tag: classfile.ItemUninitializedThis}
	case t.Uninitialized():
		return classfile.VerificationTypeInfo{
			Tag:    classfile.ItemUninitialized,
			Offset: a.newOffsets[t.Offset()],
		}
	case t.Reference() && t.Name() != "":
		return classfile.VerificationTypeInfo{Tag: classfile.ItemObject, ClassName: t.Name()}
	default:
		return classfile.VerificationTypeInfo{Tag: classfile.ItemTop}
	}
}

// compress picks the smallest frame kind expressing the transition from
// the previous frame's locals to this one.
func compress(prev, locals, stack []classfile.VerificationTypeInfo, delta uint16) classfile.StackMapFrame {
	sameLocals := equalWire(prev, locals)

	switch {
	case sameLocals && len(stack) == 0:
		if delta <= 63 {
			return classfile.StackMapFrame{Kind: uint8(delta), OffsetDelta: delta}
		}
		return classfile.StackMapFrame{Kind: classfile.FrameSameExtended, OffsetDelta: delta}

	case sameLocals && len(stack) == 1:
		if delta <= 63 {
			return classfile.StackMapFrame{
				Kind:        classfile.FrameSameLocals1Stack + uint8(delta),
				OffsetDelta: delta,
				Stack:       stack,
			}
		}
		return classfile.StackMapFrame{
			Kind:        classfile.FrameSameLocals1StackX,
			OffsetDelta: delta,
			Stack:       stack,
		}

	case len(stack) == 0 && len(prev) > len(locals) && len(prev)-len(locals) <= 3 &&
		equalWire(prev[:len(locals)], locals):
		chopped := len(prev) - len(locals)
		return classfile.StackMapFrame{
			Kind:        classfile.FrameSameExtended - uint8(chopped),
			OffsetDelta: delta,
		}

	case len(stack) == 0 && len(locals) > len(prev) && len(locals)-len(prev) <= 3 &&
		equalWire(locals[:len(prev)], prev):
		appended := len(locals) - len(prev)
		return classfile.StackMapFrame{
			Kind:        classfile.FrameSameExtended + uint8(appended),
			OffsetDelta: delta,
			Locals:      locals[len(prev):],
		}

	default:
		return classfile.StackMapFrame{
			Kind:        classfile.FrameFull,
			OffsetDelta: delta,
			Locals:      locals,
			Stack:       stack,
		}
	}
}

func equalWire(a, b []classfile.VerificationTypeInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Interface checks: the graph's blocks and edges provide error provenance.
var (
	_ jerrors.Source = (*graph.Block)(nil)
	_ jerrors.Source = (*graph.Edge)(nil)
)
