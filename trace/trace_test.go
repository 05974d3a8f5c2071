package trace_test

import (
	"testing"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/trace"
	"github.com/jawatools/jawa/types"
)

func runTrace(t *testing.T, code *classfile.Code, m frame.Method) (*trace.Trace, *jerrors.Verifier) {
	t.Helper()
	var v jerrors.Verifier
	g, err := graph.Disassemble(code, classfile.NewPool(), &v)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	tr, err := trace.Run(g, m, &v, trace.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return tr, &v
}

func TestTraceEmptyMethod(t *testing.T) {
	tr, v := runTrace(t,
		&classfile.Code{Bytecode: []byte{0xB1}},
		frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}
	if tr.MaxStack != 0 || tr.MaxLocals != 0 {
		t.Errorf("maxima: stack=%d locals=%d, want 0/0", tr.MaxStack, tr.MaxLocals)
	}
	if !tr.Reached(graph.EntryLabel) || !tr.Reached(graph.ReturnLabel) {
		t.Error("entry or return block not reached")
	}
}

func TestTraceAddMethod(t *testing.T) {
	// iload_0, iload_1, iadd, ireturn
	tr, v := runTrace(t,
		&classfile.Code{Bytecode: []byte{0x1A, 0x1B, 0x60, 0xAC}},
		frame.Method{Class: "Test", Name: "add", Descriptor: "(II)I", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}
	if tr.MaxStack != 2 {
		t.Errorf("max stack: got %d, want 2", tr.MaxStack)
	}
	if tr.MaxLocals != 2 {
		t.Errorf("max locals: got %d, want 2", tr.MaxLocals)
	}
	if len(tr.Entries[graph.EntryLabel]) != 1 {
		t.Errorf("entry constraints: got %d", len(tr.Entries[graph.EntryLabel]))
	}
}

func TestTraceConditionalJoin(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0x1A,             // iload_0
		0x99, 0x00, 0x05, // ifeq -> 6
		0x04, 0xAC, // iconst_1, ireturn
		0x03, 0xAC, // iconst_0, ireturn
	}}
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(I)I", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}
	if tr.MaxStack != 1 {
		t.Errorf("max stack: got %d, want 1", tr.MaxStack)
	}

	// Both paths converge on the return block.
	if got := len(tr.Entries[graph.ReturnLabel]); got != 2 {
		t.Errorf("return block constraints: got %d, want 2", got)
	}

	// Every reachable block has at least one constraint pair.
	for _, b := range tr.Graph.Blocks() {
		if len(tr.Entries[b.Label]) == 0 {
			t.Errorf("%s reached but has no constraints", b)
		}
	}
}

func TestTraceLoopBackEdge(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0x1A,             // 0: iload_0
		0x99, 0x00, 0x09, // 1: ifeq -> 10
		0x84, 0x01, 0x01, // 4: iinc 1 1
		0xA7, 0xFF, 0xF9, // 7: goto -> 0
		0xB1, // 10: return
	}}
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(II)V", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}
	if len(tr.BackEdges) != 1 {
		t.Fatalf("back edges: got %d, want 1", len(tr.BackEdges))
	}
	if tr.BackEdges[0].Kind != graph.KindJump {
		t.Errorf("back edge kind: got %s", tr.BackEdges[0].Kind)
	}

	if tr.MaxLocals != 2 {
		t.Errorf("max locals: got %d, want 2", tr.MaxLocals)
	}
}

func TestTraceExceptionHandlerFrame(t *testing.T) {
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
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(I)V", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}

	// Find the handler block through the exception edge.
	var handler int = -100
	for _, b := range tr.Graph.Blocks() {
		for _, e := range tr.Graph.OutEdges(b.Label) {
			if e.Kind == graph.KindException {
				handler = e.To
			}
		}
	}
	if handler == -100 {
		t.Fatal("no exception edge")
	}

	entries := tr.Entries[handler]
	if len(entries) == 0 {
		t.Fatal("handler has no entry constraints")
	}
	// The handler's entry stack is exactly the caught throwable.
	stack := entries[0].Stack
	if len(stack) != 1 {
		t.Fatalf("handler entry stack: %v", stack)
	}
	if stack[0].Type != types.Object("java/lang/Throwable") {
		t.Errorf("handler stack type: got %s", stack[0].Type)
	}
}

func TestTraceSubroutineResolution(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0xA8, 0x00, 0x04, // 0: jsr -> 4
		0xB1,       // 3: return
		0x4C,       // 4: astore_1
		0xA9, 0x01, // 5: ret 1
	}}
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true})

	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}
	if len(tr.Subroutines) != 1 {
		t.Fatalf("subroutines: got %d, want 1", len(tr.Subroutines))
	}

	sub := tr.Subroutines[0]
	if sub.JsrEdge.Kind != graph.KindJsrJump || sub.RetEdge.Kind != graph.KindRet {
		t.Errorf("subroutine edges: jsr=%s ret=%s", sub.JsrEdge.Kind, sub.RetEdge.Kind)
	}

	// The opaque ret edge is resolved to the jsr fallthrough's target.
	if len(tr.Graph.OpaqueEdges()) != 0 {
		t.Error("opaque edges remain after resolution")
	}
	jsrFall := tr.Graph.OutEdge(graph.EntryLabel, graph.KindJsrFallthrough)
	if sub.RetEdge.To != jsrFall.To {
		t.Errorf("ret target: got %d, want %d", sub.RetEdge.To, jsrFall.To)
	}
}

func TestTraceUnresolvableRet(t *testing.T) {
	// A ret with no jsr anywhere: the returnAddress local never exists.
	code := &classfile.Code{Bytecode: []byte{
		0xA9, 0x01, // ret 1
	}}
	var v jerrors.Verifier
	g, err := graph.Disassemble(code, classfile.NewPool(), &v)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	_, err = trace.Run(g, frame.Method{Class: "T", Name: "m", Descriptor: "()V", Static: true}, &v, trace.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The trace completes and the failure is in the log.
	if !v.HasKind(jerrors.KindInvalidBlock) {
		t.Errorf("expected invalid_block, got %v", v.Errors())
	}
}

func TestTraceStackUnderflowContinues(t *testing.T) {
	// pop on an empty stack: report and continue to the return.
	code := &classfile.Code{Bytecode: []byte{0x57, 0xB1}}
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "()V", Static: true})

	if !v.HasKind(jerrors.KindStackUnderflow) {
		t.Error("underflow not reported")
	}
	if !tr.Reached(graph.ReturnLabel) {
		t.Error("trace did not continue past the underflow")
	}
}

func TestLivenessLoop(t *testing.T) {
	code := &classfile.Code{Bytecode: []byte{
		0x1A,             // 0: iload_0
		0x99, 0x00, 0x09, // 1: ifeq -> 10
		0x84, 0x01, 0x01, // 4: iinc 1 1
		0xA7, 0xFF, 0xF9, // 7: goto -> 0
		0xB1, // 10: return
	}}
	tr, v := runTrace(t, code,
		frame.Method{Class: "Test", Name: "m", Descriptor: "(II)V", Static: true})
	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}

	live := trace.FromTrace(tr)

	// Find the iinc block: it both uses and defines local 1.
	var iincBlock = -100
	for label, uses := range tr.Uses {
		if uses.Has(1) && tr.Defs[label].Has(1) {
			iincBlock = label
		}
	}
	if iincBlock == -100 {
		t.Fatal("iinc block not found")
	}

	if !live.LiveIn(iincBlock).Has(1) {
		t.Errorf("local 1 not live into the iinc block: %v", live.LiveIn(iincBlock).ToSlice())
	}
	// The loop keeps local 1 live across the back edge.
	if !live.LiveOut(iincBlock).Has(1) {
		t.Errorf("local 1 not live out of the iinc block: %v", live.LiveOut(iincBlock).ToSlice())
	}
}

func TestBitSet(t *testing.T) {
	s := trace.NewBitSet(4)
	s.Set(1)
	s.Set(70) // forces growth
	if !s.Has(1) || !s.Has(70) || s.Has(2) {
		t.Errorf("membership: %v", s.ToSlice())
	}

	other := trace.NewBitSet(80)
	other.Set(2)
	s.Union(other)
	if got := s.Count(); got != 3 {
		t.Errorf("count after union: got %d", got)
	}

	s.Subtract(other)
	if s.Has(2) || !s.Has(1) {
		t.Errorf("subtract: %v", s.ToSlice())
	}

	clone := s.Clone()
	if !clone.Equal(s) {
		t.Error("clone not equal")
	}
	clone.Clear(70)
	if clone.Equal(s) {
		t.Error("mutated clone still equal")
	}
}
