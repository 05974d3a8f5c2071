// Package asm lowers a control-flow graph back to a linear bytecode stream:
// block layout, jump offset fixup with minimal widths, exception table
// synthesis and stack map frame generation.
package asm

import (
	"sort"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/insns"
	"github.com/jawatools/jawa/internal/binary"
	"github.com/jawatools/jawa/trace"
)

// Options configures assembly.
type Options struct {
	// RemoveDeadBlocks drops blocks the trace never reached instead of
	// filling them with nops and a rethrow.
	RemoveDeadBlocks bool
	// NoFrames suppresses StackMapTable generation even when the class
	// file version calls for it.
	NoFrames bool
	// BestEffort emits whatever was produced instead of raising on a
	// non-empty error log.
	BestEffort bool
}

// inlineDepthCap bounds fixed-point inlining when a splice participates in
// another inlined subgraph.
const inlineDepthCap = 8

// form is the chosen encoding of one jump during offset iteration.
type form uint8

const (
	formNarrow form = iota
	formWide
	// formRewritten is a conditional branch too far for 16 bits: the
	// condition is inverted to hop over a goto_w to the real target.
	formRewritten
)

type jumpFixup struct {
	edge      *graph.Edge
	at        int32 // opcode offset
	operandAt int32
	gotoAt    int32 // rewritten form: offset of the goto_w opcode
	form      form
	synthetic bool // fallthrough repair goto, no instruction behind it
}

type switchFixup struct {
	edge *graph.Edge // one representative edge; cases gathered from graph
	at   int32
}

type copyRange struct {
	start    int32
	end      int32
	chainEnd int32 // end of the splice chain this copy belongs to
}

type assembler struct {
	g    *graph.Graph
	tr   *trace.Trace
	pool *classfile.Pool
	v    *jerrors.Verifier
	opts Options

	w            *binary.Writer
	copies       map[int][]copyRange
	jumps        []*jumpFixup
	switches     []*switchFixup
	newOffsets   map[int32]uint16
	dead         map[int]bool
	synthTargets map[int]bool

	// forms persists across layout passes so widths only ever grow.
	forms map[*graph.Edge]form
	// syntheticForms keys fallthrough-repair jumps by source block.
	syntheticForms map[int]form
}

// Assemble lowers the graph to a Code attribute. The trace supplies block
// reachability, stack and locals maxima and the frames behind the stack map
// computation. Errors accumulate in v; unless BestEffort is set, a
// non-empty log raises after all phases complete.
func Assemble(g *graph.Graph, tr *trace.Trace, version classfile.Version, pool *classfile.Pool, v *jerrors.Verifier, opts Options) (*classfile.Code, error) {
	a := &assembler{
		g:              g,
		tr:             tr,
		pool:           pool,
		v:              v,
		opts:           opts,
		forms:          make(map[*graph.Edge]form),
		syntheticForms: make(map[int]form),
	}

	// Offset iteration: lay the blocks out, measure every jump, widen what
	// overflowed, and repeat until no width changes.
	for pass := 0; ; pass++ {
		if pass > 64 {
			v.Report(jerrors.InvalidBlock(nil, "jump widths did not converge"))
			break
		}
		a.layout()
		if !a.widen() {
			break
		}
	}
	a.patch()

	code := &classfile.Code{
		MaxStack:  uint16(a.tr.MaxStack),
		MaxLocals: uint16(a.tr.MaxLocals),
		Bytecode:  a.w.Bytes(),
	}
	code.ExceptionTable = a.exceptionTable()

	if !opts.NoFrames && version.AtLeast(classfile.Java6) && !a.liveJsr() {
		if table := a.stackMapTable(); table != nil {
			code.Attributes = append(code.Attributes, table)
		}
	}

	if !opts.BestEffort {
		if err := v.Raise(); err != nil {
			return code, err
		}
	}
	return code, nil
}

// liveJsr reports whether any reached block still leaves through a jsr.
func (a *assembler) liveJsr() bool {
	for _, b := range a.g.Blocks() {
		if !a.tr.Reached(b.Label) {
			continue
		}
		for _, e := range a.g.OutEdges(b.Label) {
			if e.Kind == graph.KindJsrJump || e.Kind == graph.KindRet {
				return true
			}
		}
	}
	return false
}

// layout writes every block once (inline blocks at their splice sites),
// emitting jumps in their currently chosen forms and recording fixups.
func (a *assembler) layout() {
	a.w = binary.NewWriter()
	a.copies = make(map[int][]copyRange)
	a.jumps = a.jumps[:0]
	a.switches = a.switches[:0]
	a.newOffsets = make(map[int32]uint16)
	a.dead = make(map[int]bool)
	a.synthTargets = make(map[int]bool)

	blocks := a.g.Blocks()
	pending := graph.NoTarget // fallthrough successor owed by the previous block

	for _, b := range blocks {
		if b.Inline && b.Label != graph.EntryLabel {
			continue // written at splice sites
		}
		if a.opts.RemoveDeadBlocks && !a.tr.Reached(b.Label) {
			continue
		}
		pending = a.writeOrdered(b.Label, pending)
	}

	// Inline blocks that no live site spliced still need a home.
	for _, b := range blocks {
		if !b.Inline || len(a.copies[b.Label]) > 0 {
			continue
		}
		if a.opts.RemoveDeadBlocks && !a.tr.Reached(b.Label) {
			continue
		}
		pending = a.writeOrdered(b.Label, pending)
	}

	if pending != graph.NoTarget {
		a.emitSyntheticGoto(pending)
	}
}

// writeOrdered emits one block in the main order, repairing a broken
// fallthrough from the previous block with a synthetic goto first.
func (a *assembler) writeOrdered(label int, pending int) int {
	if pending != graph.NoTarget && pending != label {
		a.emitSyntheticGoto(pending)
	}
	return a.writeChain(label, 0)
}

// emitSyntheticGoto jumps to the owed fallthrough successor that could not
// be placed next. It starts narrow and widens like any other jump.
func (a *assembler) emitSyntheticGoto(target int) {
	a.synthTargets[target] = true
	e := &graph.Edge{Kind: graph.KindJump, From: graph.NoTarget, To: target}
	f, ok := a.syntheticForms[target]
	if !ok {
		f = formNarrow
	}
	at := int32(a.w.Len())
	if f == formWide {
		a.w.U8(insns.OpGotoW)
		a.jumps = append(a.jumps, &jumpFixup{edge: e, at: at, operandAt: int32(a.w.Len()), form: formWide, synthetic: true})
		a.w.U32(0)
	} else {
		a.w.U8(insns.OpGoto)
		a.jumps = append(a.jumps, &jumpFixup{edge: e, at: at, operandAt: int32(a.w.Len()), form: formNarrow, synthetic: true})
		a.w.U16(0)
	}
}

// writeChain writes a block and then follows fallthrough and simple
// unconditional jump successors into inline splices, up to the depth cap.
// It returns the label the chain still owes as a fallthrough successor, or
// NoTarget. Every copy written by the chain shares the chain's end offset
// for inline exception coverage.
func (a *assembler) writeChain(label int, depth int) int {
	var chain [][2]int // label, copy index
	next := label
	for {
		chain = append(chain, [2]int{next, len(a.copies[next])})
		owed, splice := a.writeBlock(next, depth)
		if !splice {
			chainEnd := int32(a.w.Len())
			for _, c := range chain {
				a.copies[c[0]][c[1]].chainEnd = chainEnd
			}
			return owed
		}
		next = owed
		depth++
	}
}

// writeBlock emits one copy of a block: its instructions, then its
// terminator. splice reports that next should be written immediately as an
// inline copy; otherwise next is the owed fallthrough successor.
func (a *assembler) writeBlock(label int, depth int) (next int, splice bool) {
	b := a.g.Block(label)
	start := int32(a.w.Len())
	copyIndex := len(a.copies[label])
	a.copies[label] = append(a.copies[label], copyRange{start: start})

	finish := func(owed int, spliced bool) (int, bool) {
		end := int32(a.w.Len())
		a.copies[label][copyIndex].end = end
		a.copies[label][copyIndex].chainEnd = end // patched by chain walks below
		return owed, spliced
	}

	// Dead block, kept: nops preserve the shape, a rethrow makes the block
	// verify against its synthetic frame.
	if !a.tr.Reached(label) && label != graph.EntryLabel {
		a.dead[label] = true
		for range b.Insns {
			a.w.U8(insns.OpNop)
		}
		a.w.U8(insns.OpAThrow)
		return finish(graph.NoTarget, false)
	}

	for _, in := range b.Insns {
		a.writeInsn(in)
	}

	var jump, fall, leaf, jsrFall, ret *graph.Edge
	var switches []*graph.Edge
	for _, e := range a.g.OutEdges(label) {
		switch e.Kind {
		case graph.KindJump, graph.KindJsrJump:
			jump = e
		case graph.KindFallthrough:
			if e.To == graph.ReturnLabel || e.To == graph.RethrowLabel {
				leaf = e
			} else {
				fall = e
			}
		case graph.KindJsrFallthrough:
			jsrFall = e
		case graph.KindRet:
			ret = e
		case graph.KindSwitch:
			switches = append(switches, e)
		}
	}

	switch {
	case len(switches) > 0:
		a.writeSwitch(switches[0])
		return finish(graph.NoTarget, false)

	case ret != nil:
		a.writeInsn(ret.Insn)
		return finish(graph.NoTarget, false)

	case jump != nil && jump.Kind == graph.KindJsrJump:
		a.writeJump(jump)
		if jsrFall == nil {
			a.v.Report(jerrors.InvalidBlock(b, "jsr jump without paired jsr fallthrough"))
			return finish(graph.NoTarget, false)
		}
		// The return address is the next pc: the fallthrough target is
		// spliced immediately, one copy per call site.
		if depth < inlineDepthCap {
			return finish(jsrFall.To, true)
		}
		return finish(jsrFall.To, false)

	case jump != nil && jump.Insn != nil && jump.Insn.IsConditional():
		a.writeJump(jump)
		if fall == nil {
			a.v.Report(jerrors.InvalidBlock(b, "conditional jump without paired fallthrough"))
			return finish(graph.NoTarget, false)
		}
		if a.spliceable(fall.To, depth) {
			return finish(fall.To, true)
		}
		return finish(fall.To, false)

	case jump != nil:
		// A simple unconditional jump to an inline block becomes a splice
		// instead of a goto.
		if a.spliceable(jump.To, depth) {
			return finish(jump.To, true)
		}
		a.writeJump(jump)
		return finish(graph.NoTarget, false)

	case leaf != nil:
		if leaf.Insn != nil {
			a.writeInsn(leaf.Insn)
		}
		return finish(graph.NoTarget, false)

	case fall != nil:
		if a.spliceable(fall.To, depth) {
			return finish(fall.To, true)
		}
		return finish(fall.To, false)

	default:
		return finish(graph.NoTarget, false)
	}
}

func (a *assembler) spliceable(label int, depth int) bool {
	b := a.g.Block(label)
	return b != nil && b.Inline && depth < inlineDepthCap
}

func (a *assembler) writeInsn(in *insns.Instruction) {
	at := int32(a.w.Len())
	if in.Opcode == insns.OpNew {
		a.newOffsets[in.Offset] = uint16(at)
	}
	if err := in.EncodeTo(a.w, a.pool, at); err != nil {
		a.v.Report(err.(*jerrors.Error))
	}
}

// writeJump emits a jump edge's instruction in its current form with a
// placeholder displacement and records the fixup.
func (a *assembler) writeJump(e *graph.Edge) {
	f := a.forms[e]
	op := e.Insn.Opcode
	at := int32(a.w.Len())
	fix := &jumpFixup{edge: e, at: at, form: f}

	switch f {
	case formWide:
		switch op {
		case insns.OpGoto, insns.OpGotoW:
			op = insns.OpGotoW
		case insns.OpJsr, insns.OpJsrW:
			op = insns.OpJsrW
		}
		a.w.U8(op)
		fix.operandAt = int32(a.w.Len())
		a.w.U32(0)

	case formRewritten:
		// ifXX target  =>  ifNotXX over; goto_w target; over:
		a.w.U8(invertCondition(op))
		a.w.U16(8) // over the goto_w
		fix.gotoAt = int32(a.w.Len())
		a.w.U8(insns.OpGotoW)
		fix.operandAt = int32(a.w.Len())
		a.w.U32(0)

	default:
		if op == insns.OpGotoW {
			// Narrowed in an earlier pass? Wide opcodes stay wide.
			fix.form = formWide
			a.w.U8(op)
			fix.operandAt = int32(a.w.Len())
			a.w.U32(0)
		} else if op == insns.OpJsrW {
			fix.form = formWide
			a.w.U8(op)
			fix.operandAt = int32(a.w.Len())
			a.w.U32(0)
		} else {
			a.w.U8(op)
			fix.operandAt = int32(a.w.Len())
			a.w.U16(0)
		}
	}

	a.jumps = append(a.jumps, fix)
}

// writeSwitch emits a switch terminator with placeholder operands gathered
// from the graph's switch edges.
func (a *assembler) writeSwitch(e *graph.Edge) {
	in := e.Insn
	at := int32(a.w.Len())
	a.switches = append(a.switches, &switchFixup{edge: e, at: at})

	cases, _ := a.switchCases(e.From)

	a.w.U8(in.Opcode)
	pad := 3 - int(at)%4
	for i := 0; i < pad; i++ {
		a.w.U8(0)
	}
	a.w.U32(0) // default

	if in.Opcode == insns.OpTableSwitch {
		low, high := switchBounds(cases)
		a.w.I32(low)
		a.w.I32(high)
		for v := low; len(cases) > 0; v++ {
			a.w.U32(0)
			if v == high {
				break
			}
		}
	} else {
		a.w.I32(int32(len(cases)))
		for _, c := range cases {
			a.w.I32(c.value)
			a.w.U32(0)
		}
	}
}

type switchCase struct {
	edge  *graph.Edge
	value int32
}

// switchCases returns the case edges sorted by key, and the default edge.
func (a *assembler) switchCases(from int) ([]switchCase, *graph.Edge) {
	var cases []switchCase
	var def *graph.Edge
	for _, e := range a.g.OutEdges(from) {
		if e.Kind != graph.KindSwitch {
			continue
		}
		if e.Value == nil {
			def = e
		} else {
			cases = append(cases, switchCase{edge: e, value: *e.Value})
		}
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].value < cases[j].value })
	return cases, def
}

func switchBounds(cases []switchCase) (low, high int32) {
	if len(cases) == 0 {
		return 0, -1
	}
	return cases[0].value, cases[len(cases)-1].value
}

// widen checks every narrow jump against its final displacement and
// promotes the overflowing ones. It reports whether anything changed.
func (a *assembler) widen() bool {
	changed := false
	for _, fix := range a.jumps {
		if fix.form != formNarrow {
			continue
		}
		target, ok := a.targetOffset(fix.edge.To, fix.at)
		if !ok {
			continue
		}
		disp := target - fix.at
		if disp >= -32768 && disp <= 32767 {
			continue
		}
		changed = true
		op := insns.OpGoto
		if !fix.synthetic {
			op = fix.edge.Insn.Opcode
		}
		var promoted form
		switch {
		case op == insns.OpGoto || op == insns.OpJsr:
			promoted = formWide
		default:
			promoted = formRewritten
		}
		if fix.synthetic {
			promoted = formWide
			a.syntheticForms[fix.edge.To] = promoted
		} else {
			a.forms[fix.edge] = promoted
		}
		debugf("widening %s (displacement %d)", fix.edge, disp)
	}
	return changed
}

// targetOffset picks the nearest written copy of the target block.
func (a *assembler) targetOffset(label int, from int32) (int32, bool) {
	copies := a.copies[label]
	if len(copies) == 0 {
		return 0, false
	}
	best := copies[0].start
	for _, c := range copies[1:] {
		if abs32(c.start-from) < abs32(best-from) {
			best = c.start
		}
	}
	return best, true
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// patch writes final displacements into the laid-out stream and
// repopulates the instructions' numeric operands.
func (a *assembler) patch() {
	for _, fix := range a.jumps {
		target, ok := a.targetOffset(fix.edge.To, fix.at)
		if !ok {
			a.v.Report(jerrors.InvalidEdge(fix.edge, "jump target was never laid out"))
			continue
		}

		switch fix.form {
		case formWide:
			a.w.PatchU32(int(fix.operandAt), uint32(target-fix.at))
		case formRewritten:
			a.w.PatchU32(int(fix.operandAt), uint32(target-fix.gotoAt))
		default:
			a.w.PatchU16(int(fix.operandAt), uint16(int16(target-fix.at)))
		}

		if !fix.synthetic {
			fix.edge.Insn.Imm = insns.BranchImm{Offset: target - fix.at}
		}
	}

	for _, fix := range a.switches {
		a.patchSwitch(fix)
	}
}

func (a *assembler) patchSwitch(fix *switchFixup) {
	in := fix.edge.Insn
	cases, def := a.switchCases(fix.edge.From)

	operands := int(fix.at) + 1 + (3 - int(fix.at)%4)

	defaultDisp := int32(0)
	if def != nil {
		if target, ok := a.targetOffset(def.To, fix.at); ok {
			defaultDisp = target - fix.at
		} else {
			a.v.Report(jerrors.InvalidEdge(def, "switch default target was never laid out"))
		}
	} else {
		a.v.Report(jerrors.InvalidBlock(a.g.Block(fix.edge.From), "switch without a default edge"))
	}
	a.w.PatchU32(operands, uint32(defaultDisp))

	caseDisp := func(c switchCase) int32 {
		if target, ok := a.targetOffset(c.edge.To, fix.at); ok {
			return target - fix.at
		}
		a.v.Report(jerrors.InvalidEdge(c.edge, "switch case target was never laid out"))
		return defaultDisp
	}

	if in.Opcode == insns.OpTableSwitch {
		low, high := switchBounds(cases)
		byValue := make(map[int32]switchCase, len(cases))
		for _, c := range cases {
			byValue[c.value] = c
		}
		offsets := make([]int32, 0, high-low+1)
		pos := operands + 12
		for v := low; len(cases) > 0; v++ {
			disp := defaultDisp
			if c, ok := byValue[v]; ok {
				disp = caseDisp(c)
			}
			a.w.PatchU32(pos, uint32(disp))
			offsets = append(offsets, disp)
			pos += 4
			if v == high {
				break
			}
		}
		in.Imm = insns.TableSwitchImm{
			Low: low, High: high,
			Default: defaultDisp, HasDefault: true,
			Offsets: offsets,
		}
	} else {
		keys := make([]int32, 0, len(cases))
		offsets := make([]int32, 0, len(cases))
		pos := operands + 8
		for _, c := range cases {
			disp := caseDisp(c)
			a.w.PatchU32(pos+4, uint32(disp))
			keys = append(keys, c.value)
			offsets = append(offsets, disp)
			pos += 8
		}
		in.Imm = insns.LookupSwitchImm{
			Keys: keys, Offsets: offsets,
			Default: defaultDisp, HasDefault: true,
		}
	}
}

// invertCondition returns the branch that fires exactly when op does not.
func invertCondition(op byte) byte {
	switch op {
	case insns.OpIfEq:
		return insns.OpIfNe
	case insns.OpIfNe:
		return insns.OpIfEq
	case insns.OpIfLt:
		return insns.OpIfGe
	case insns.OpIfGe:
		return insns.OpIfLt
	case insns.OpIfGt:
		return insns.OpIfLe
	case insns.OpIfLe:
		return insns.OpIfGt
	case insns.OpIfICmpEq:
		return insns.OpIfICmpNe
	case insns.OpIfICmpNe:
		return insns.OpIfICmpEq
	case insns.OpIfICmpLt:
		return insns.OpIfICmpGe
	case insns.OpIfICmpGe:
		return insns.OpIfICmpLt
	case insns.OpIfICmpGt:
		return insns.OpIfICmpLe
	case insns.OpIfICmpLe:
		return insns.OpIfICmpGt
	case insns.OpIfACmpEq:
		return insns.OpIfACmpNe
	case insns.OpIfACmpNe:
		return insns.OpIfACmpEq
	case insns.OpIfNull:
		return insns.OpIfNonNull
	case insns.OpIfNonNull:
		return insns.OpIfNull
	default:
		return op
	}
}

// exceptionTable sorts exception edges by priority and emits one row per
// contiguous covered range, merging adjacent blocks protected by the same
// handler. InlineCoverage extends a row over the trailing inlined splices
// of its source.
func (a *assembler) exceptionTable() []classfile.ExceptionHandler {
	type group struct {
		to        int
		throwable string
		priority  int
	}
	ranges := make(map[group][]copyRange)

	for _, b := range a.g.Blocks() {
		for _, e := range a.g.OutEdges(b.Label) {
			if e.Kind != graph.KindException {
				continue
			}
			key := group{to: e.To, throwable: e.Throwable, priority: e.Priority}
			for _, c := range a.copies[e.From] {
				r := copyRange{start: c.start, end: c.end}
				if e.InlineCoverage {
					r.end = c.chainEnd
				}
				ranges[key] = append(ranges[key], r)
			}
		}
	}

	groups := make([]group, 0, len(ranges))
	for key := range ranges {
		groups = append(groups, key)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].priority != groups[j].priority {
			return groups[i].priority < groups[j].priority
		}
		return groups[i].to < groups[j].to
	})

	var table []classfile.ExceptionHandler
	for _, key := range groups {
		spans := ranges[key]
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

		handler, ok := a.targetOffset(key.to, spans[0].start)
		if !ok {
			a.v.Report(jerrors.InvalidBlock(a.g.Block(key.to), "exception handler was never laid out"))
			continue
		}

		merged := spans[:1]
		for _, s := range spans[1:] {
			last := &merged[len(merged)-1]
			if s.start <= last.end {
				if s.end > last.end {
					last.end = s.end
				}
			} else {
				merged = append(merged, s)
			}
		}
		for _, s := range merged {
			if s.start == s.end {
				continue
			}
			table = append(table, classfile.ExceptionHandler{
				StartPC:   uint16(s.start),
				EndPC:     uint16(s.end),
				HandlerPC: uint16(handler),
				CatchType: key.throwable,
			})
		}
	}
	return table
}
