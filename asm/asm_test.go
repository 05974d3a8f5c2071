package asm_test

import (
	"bytes"
	"testing"

	"github.com/jawatools/jawa/asm"
	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/insns"
	"github.com/jawatools/jawa/trace"
)

func reassemble(t *testing.T, code *classfile.Code, m frame.Method, version classfile.Version, opts asm.Options) (*classfile.Code, *classfile.Pool) {
	t.Helper()
	pool := classfile.NewPool()
	var v jerrors.Verifier
	g, err := graph.Disassemble(code, pool, &v)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	tr, err := trace.Run(g, m, &v, trace.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := asm.Assemble(g, tr, version, pool, &v, opts)
	if err != nil {
		t.Fatalf("Assemble: %v (%v)", err, v.Errors())
	}
	return out, pool
}

func TestAssembleEmptyMethod(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{0xB1}}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true},
		classfile.Java8, asm.Options{})

	if !bytes.Equal(out.Bytecode, []byte{0xB1}) {
		t.Errorf("bytecode: got %x, want b1", out.Bytecode)
	}
	if out.MaxStack != 0 || out.MaxLocals != 0 {
		t.Errorf("maxima: stack=%d locals=%d", out.MaxStack, out.MaxLocals)
	}
	if out.StackMap() != nil {
		t.Error("stack map emitted for a straight-line method")
	}
}

func TestAssembleAddMethod(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{0x1A, 0x1B, 0x60, 0xAC}}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "add", Descriptor: "(II)I", Static: true},
		classfile.Java8, asm.Options{})

	if !bytes.Equal(out.Bytecode, []byte{0x1A, 0x1B, 0x60, 0xAC}) {
		t.Errorf("bytecode: got %x", out.Bytecode)
	}
	if out.MaxStack != 2 || out.MaxLocals != 2 {
		t.Errorf("maxima: stack=%d locals=%d, want 2/2", out.MaxStack, out.MaxLocals)
	}
	if out.StackMap() != nil {
		t.Error("stack map emitted with no branch targets")
	}
}

func TestAssembleConditionalFrame(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0x1A,             // iload_0
		0x99, 0x00, 0x05, // ifeq -> 6
		0x04, 0xAC, // iconst_1, ireturn
		0x03, 0xAC, // iconst_0, ireturn
	}}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(I)I", Static: true},
		classfile.Java8, asm.Options{})

	if !bytes.Equal(out.Bytecode, code.Bytecode) {
		t.Errorf("bytecode: got %x, want %x", out.Bytecode, code.Bytecode)
	}

	smt := out.StackMap()
	if smt == nil {
		t.Fatal("no stack map table")
	}
	if len(smt.Frames) != 1 {
		t.Fatalf("frames: got %d, want exactly one at the else target", len(smt.Frames))
	}
	// Locals unchanged, empty stack, offset 6: a same frame.
	if smt.Frames[0].Kind != 6 {
		t.Errorf("frame kind: got %d, want same frame with delta 6", smt.Frames[0].Kind)
	}
}

func TestAssembleNoFramesBeforeJava6(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0x1A, 0x99, 0x00, 0x05, 0x04, 0xAC, 0x03, 0xAC,
	}}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(I)I", Static: true},
		classfile.Java5, asm.Options{})
	if out.StackMap() != nil {
		t.Error("stack map emitted for a pre-50.0 class file")
	}
}

func TestAssembleTableSwitch(t *testing.T) {
	source := []byte{
		0x1A,             // 0: iload_0
		0xAA, 0x00, 0x00, // 1: tableswitch
		0x00, 0x00, 0x00, 0x21, // default -> 34
		0x00, 0x00, 0x00, 0x00, // low 0
		0x00, 0x00, 0x00, 0x02, // high 2
		0x00, 0x00, 0x00, 0x1B, // case 0 -> 28
		0x00, 0x00, 0x00, 0x1D, // case 1 -> 30
		0x00, 0x00, 0x00, 0x1F, // case 2 -> 32
		0x03, 0xAC,
		0x04, 0xAC,
		0x05, 0xAC,
		0x02, 0xAC,
	}
	code := &classfile.Code{Bytecode: source}
	pool := classfile.NewPool()
	var v jerrors.Verifier
	g, err := graph.Disassemble(code, pool, &v)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	tr, err := trace.Run(g, frame.Method{Class: "T", Name: "m", Descriptor: "(I)I", Static: true}, &v, trace.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := asm.Assemble(g, tr, classfile.Java8, pool, &v, asm.Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !bytes.Equal(out.Bytecode, source) {
		t.Errorf("bytecode:\n got %x\nwant %x", out.Bytecode, source)
	}

	// The instruction's operands are repopulated after fixup.
	var sw *insns.Instruction
	for _, e := range g.OutEdges(graph.EntryLabel) {
		if e.Kind == graph.KindSwitch {
			sw = e.Insn
		}
	}
	imm := sw.Imm.(insns.TableSwitchImm)
	if !imm.HasDefault {
		t.Error("default not set after reassembly")
	}
	if len(imm.Offsets) != 3 {
		t.Errorf("offsets: got %d entries, want 3", len(imm.Offsets))
	}
}

func TestAssembleExceptionTable(t *testing.T) {
	code := &classfile.Code{
		Bytecode: []byte{
			0x1A, 0x3C, // 0: iload_0, istore_1
			0xB1,       // 2: return
			0x4C, 0xB1, // 3: astore_1, return
		},
		ExceptionTable: []classfile.ExceptionHandler{
			{StartPC: 0, EndPC: 2, HandlerPC: 3},
		},
	}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(I)V", Static: true},
		classfile.Java8, asm.Options{})

	if len(out.ExceptionTable) != 1 {
		t.Fatalf("exception table: %v", out.ExceptionTable)
	}
	row := out.ExceptionTable[0]
	if row.StartPC != 0 || row.EndPC != 2 || row.HandlerPC != 3 || row.CatchType != "" {
		t.Errorf("row: %+v", row)
	}

	// The handler is an exception target: it gets a frame whose stack is
	// the caught throwable.
	smt := out.StackMap()
	if smt == nil {
		t.Fatal("no stack map table")
	}
	var handlerFrame *classfile.StackMapFrame
	for i := range smt.Frames {
		if len(smt.Frames[i].Stack) == 1 {
			handlerFrame = &smt.Frames[i]
		}
	}
	if handlerFrame == nil {
		t.Fatalf("no one-stack frame: %+v", smt.Frames)
	}
	if handlerFrame.Stack[0].Tag != classfile.ItemObject ||
		handlerFrame.Stack[0].ClassName != "java/lang/Throwable" {
		t.Errorf("handler stack: %+v", handlerFrame.Stack[0])
	}
}

func TestAssembleJsrSkipsFrames(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0xA8, 0x00, 0x04, // jsr -> 4
		0xB1,       // return
		0x4C,       // astore_1
		0xA9, 0x01, // ret 1
	}}
	out, _ := reassemble(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true},
		classfile.Java8, asm.Options{})

	if out.StackMap() != nil {
		t.Error("stack map emitted for a method with live jsr")
	}
}

func TestAssembleWideConditional(t *testing.T) {
	// entry: iload_0; ifeq -> far block on the other side of a 33000-byte
	// nop sled. The narrow conditional cannot span that: it is rewritten
	// as an inverted branch over a single goto_w.
	g := graph.New()
	sled := g.NewBlock()
	far := g.NewBlock()

	g.Entry().Add(&insns.Instruction{Opcode: insns.OpILoad0, Offset: -1})
	cond := &insns.Instruction{Opcode: insns.OpIfEq, Offset: -1, Imm: insns.BranchImm{Bound: true}}
	mustConnect(t, g, &graph.Edge{Kind: graph.KindJump, From: graph.EntryLabel, To: far.Label, Insn: cond})
	mustConnect(t, g, &graph.Edge{Kind: graph.KindFallthrough, From: graph.EntryLabel, To: sled.Label})

	for i := 0; i < 33000; i++ {
		sled.Add(&insns.Instruction{Opcode: insns.OpNop, Offset: -1})
	}
	mustConnect(t, g, &graph.Edge{
		Kind: graph.KindFallthrough, From: sled.Label, To: graph.ReturnLabel,
		Insn: &insns.Instruction{Opcode: insns.OpReturn, Offset: -1},
	})
	mustConnect(t, g, &graph.Edge{
		Kind: graph.KindFallthrough, From: far.Label, To: graph.ReturnLabel,
		Insn: &insns.Instruction{Opcode: insns.OpReturn, Offset: -1},
	})

	pool := classfile.NewPool()
	var v jerrors.Verifier
	m := frame.Method{Class: "T", Name: "m", Descriptor: "(I)V", Static: true}
	tr, err := trace.Run(g, m, &v, trace.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := asm.Assemble(g, tr, classfile.Java8, pool, &v, asm.Options{})
	if err != nil {
		t.Fatalf("Assemble: %v (%v)", err, v.Errors())
	}

	// Exactly one wide intermediary per overflowing jump.
	var decodeV jerrors.Verifier
	decoded, err := insns.Decode(out.Bytecode, pool, &decodeV)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	wides := 0
	for _, in := range decoded {
		if in.Opcode == insns.OpGotoW {
			wides++
		}
	}
	if wides != 1 {
		t.Errorf("goto_w count: got %d, want 1", wides)
	}

	// The rewritten code must still trace cleanly.
	var v2 jerrors.Verifier
	g2, err := graph.Disassemble(out, pool, &v2)
	if err != nil {
		t.Fatalf("re-disassemble: %v", err)
	}
	if _, err := trace.Run(g2, m, &v2, trace.Options{}); err != nil {
		t.Fatalf("re-trace: %v", err)
	}
	if v2.Len() != 0 {
		t.Errorf("re-trace errors: %v", v2.Errors())
	}
}

func TestAssembleDeadBlocks(t *testing.T) {
	// goto over an unreachable nop.
	code := &classfile.Code{Bytecode: []byte{
		0xA7, 0x00, 0x04, // 0: goto -> 4
		0x00, // 3: nop (dead)
		0xB1, // 4: return
	}}
	m := frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true}

	removed, _ := reassemble(t, code, m, classfile.Java8, asm.Options{RemoveDeadBlocks: true})
	if !bytes.Equal(removed.Bytecode, []byte{0xA7, 0x00, 0x03, 0xB1}) {
		t.Errorf("dead block survived removal: %x", removed.Bytecode)
	}

	kept, _ := reassemble(t, code, m, classfile.Java8, asm.Options{})
	// The dead block is nopped out and sealed with a rethrow.
	if !bytes.Contains(kept.Bytecode, []byte{0x00, 0xBF}) {
		t.Errorf("dead block not nop-filled: %x", kept.Bytecode)
	}

	// The dead block verifies through a synthetic throwable frame.
	smt := kept.StackMap()
	if smt == nil {
		t.Fatal("no stack map table")
	}
	found := false
	for _, f := range smt.Frames {
		if len(f.Stack) == 1 && f.Stack[0].ClassName == "java/lang/Throwable" {
			found = true
		}
	}
	if !found {
		t.Errorf("no synthetic dead-block frame: %+v", smt.Frames)
	}
}

func TestAssembleRoundTripStructure(t *testing.T) {
	// disassemble(assemble(G)) preserves block and edge structure.
	code := &classfile.Code{Bytecode: []byte{
		0x1A, 0x99, 0x00, 0x05, 0x04, 0xAC, 0x03, 0xAC,
	}}
	m := frame.Method{Class: "Test", Name: "m", Descriptor: "(I)I", Static: true}
	out, pool := reassemble(t, code, m, classfile.Java8, asm.Options{})

	var v jerrors.Verifier
	g1, err := graph.Disassemble(code, classfile.NewPool(), &v)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := graph.Disassemble(out, pool, &v)
	if err != nil {
		t.Fatal(err)
	}

	if len(g1.Blocks()) != len(g2.Blocks()) {
		t.Fatalf("block count: %d vs %d", len(g1.Blocks()), len(g2.Blocks()))
	}
	for _, b := range g1.Blocks() {
		k1 := map[graph.Kind]int{}
		for _, e := range g1.OutEdges(b.Label) {
			k1[e.Kind]++
		}
		k2 := map[graph.Kind]int{}
		for _, e := range g2.OutEdges(b.Label) {
			k2[e.Kind]++
		}
		for kind, n := range k1 {
			if k2[kind] != n {
				t.Errorf("block %d: %s edges %d vs %d", b.Label, kind, n, k2[kind])
			}
		}
	}
}

func mustConnect(t *testing.T, g *graph.Graph, e *graph.Edge) {
	t.Helper()
	if err := g.Connect(e); err != nil {
		t.Fatalf("Connect(%s): %v", e, err)
	}
}
