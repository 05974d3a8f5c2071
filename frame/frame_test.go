package frame_test

import (
	"testing"

	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func TestPushPop(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	pushed := f.Push(types.Int, nil)
	popped := f.Pop(types.Int)
	if popped != pushed {
		t.Errorf("pop: got %v, want the pushed entry", popped)
	}
	if v.Len() != 0 {
		t.Errorf("unexpected errors: %v", v.Errors())
	}
	if f.MaxStack != 1 {
		t.Errorf("max stack: got %d, want 1", f.MaxStack)
	}
}

func TestWideSlots(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	pushed := f.Push(types.Long, nil)
	if len(f.Stack) != 2 {
		t.Fatalf("stack slots after long push: got %d, want 2", len(f.Stack))
	}
	if f.MaxStack != 2 {
		t.Errorf("max stack: got %d, want 2", f.MaxStack)
	}

	popped := f.Pop(types.Long)
	if popped != pushed {
		t.Errorf("pop: got %v, want the pushed entry", popped)
	}
	if len(f.Stack) != 0 {
		t.Errorf("stack not empty after wide pop: %d", len(f.Stack))
	}
	if v.Len() != 0 {
		t.Errorf("unexpected errors: %v", v.Errors())
	}
}

func TestPopTypeMismatch(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	pushed := f.Push(types.Int, nil)
	popped := f.Pop(types.Float)

	if !v.HasKind(jerrors.KindInvalidType) {
		t.Error("type mismatch not reported")
	}
	// The substitute is a cast entry chained to the original.
	if popped == pushed {
		t.Error("mismatched pop returned the original entry")
	}
	if popped.Parent != pushed {
		t.Errorf("cast parent: got %v", popped.Parent)
	}
}

func TestPopUnderflow(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	entry := f.Pop(types.Top)
	if !v.HasKind(jerrors.KindStackUnderflow) {
		t.Error("underflow not reported")
	}
	if entry == nil || !entry.Type.IsTop() {
		t.Errorf("synthesized entry: got %v, want top", entry)
	}
}

func TestDupVariants(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	a := f.Push(types.Int, nil)
	b := f.Push(types.Int, nil)

	// dup: ... a b -> ... a b b
	f.DupX(1, 0)
	if len(f.Stack) != 3 || f.Stack[2] != b || f.Stack[1] != b {
		t.Fatalf("dup: stack %v", f.Stack)
	}

	// dup_x1: ... b b -> swap shape check via fresh frame
	f2 := frame.New(&v)
	x := f2.Push(types.Int, nil)
	y := f2.Push(types.Int, nil)
	f2.DupX(1, 1) // x y -> y x y
	if len(f2.Stack) != 3 || f2.Stack[0] != y || f2.Stack[1] != x || f2.Stack[2] != y {
		t.Fatalf("dup_x1: stack %v", f2.Stack)
	}

	// dup2 of a long duplicates both slots without splitting.
	f3 := frame.New(&v)
	l := f3.Push(types.Long, nil)
	f3.DupX(2, 0)
	if len(f3.Stack) != 4 {
		t.Fatalf("dup2 long: %d slots", len(f3.Stack))
	}
	if f3.Stack[0] != l || f3.Stack[2] != l {
		t.Errorf("dup2 long: stack %v", f3.Stack)
	}
	if v.Len() != 0 {
		t.Errorf("unexpected errors: %v", v.Errors())
	}
	_ = a
}

func TestDupSplitsWideReported(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	f.Push(types.Long, nil)
	f.DupX(1, 0) // duplicates only the sentinel half

	if !v.HasKind(jerrors.KindInvalidTypeCategory) {
		t.Error("category split not reported")
	}
}

func TestSwap(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	a := f.Push(types.Int, nil)
	b := f.Push(types.Float, nil)
	f.Swap()

	if f.Stack[0] != b || f.Stack[1] != a {
		t.Errorf("swap: stack %v", f.Stack)
	}
}

func TestGetSetLocals(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	entry := f.NewEntry(types.Int, nil)
	f.Set(1, entry)
	if got := f.Get(1, types.Int); got != entry {
		t.Errorf("get: got %v", got)
	}
	if f.MaxLocals != 2 {
		t.Errorf("max locals: got %d, want 2", f.MaxLocals)
	}

	// Reads and writes land in the access log in order.
	if len(f.Accesses) != 2 || f.Accesses[0].Read || !f.Accesses[1].Read {
		t.Errorf("access log: %#v", f.Accesses)
	}
}

func TestSetWideReservesSentinel(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	f.Set(0, f.NewEntry(types.Double, nil))
	if f.MaxLocals != 2 {
		t.Errorf("max locals: got %d, want 2", f.MaxLocals)
	}
	sentinel, ok := f.Locals[1]
	if !ok || !sentinel.Type.IsTop() {
		t.Errorf("sentinel at 1: got %v", sentinel)
	}

	// Overwriting the sentinel invalidates the wide value below it.
	f.Set(1, f.NewEntry(types.Int, nil))
	if !f.Locals[0].Type.IsTop() {
		t.Errorf("local 0 after split write: got %v", f.Locals[0])
	}
}

func TestGetUnknownLocal(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	entry := f.Get(3, types.Top)
	if !v.HasKind(jerrors.KindUnknownLocal) {
		t.Error("unknown local not reported")
	}
	if !entry.Type.IsTop() {
		t.Errorf("synthesized local: got %v", entry)
	}
}

func TestReplace(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)

	uninit := f.Push(types.Uninitialized(4), nil)
	f.Set(2, uninit)

	initialized := f.Replace(uninit, types.Object("Foo"))
	if f.Stack[0] != initialized {
		t.Errorf("stack after replace: %v", f.Stack)
	}
	if f.Locals[2] != initialized {
		t.Errorf("locals after replace: %v", f.Locals[2])
	}
	if initialized.Parent != uninit {
		t.Errorf("replacement parent: got %v", initialized.Parent)
	}
}

func TestCopyIdentity(t *testing.T) {
	var v jerrors.Verifier
	f := frame.New(&v)
	entry := f.Push(types.Int, nil)
	f.Set(0, f.NewEntry(types.Float, nil))

	shallow := f.Copy(false)
	if shallow.Stack[0] != entry {
		t.Error("shallow copy broke entry identity")
	}
	if len(shallow.Accesses) != 0 {
		t.Error("shallow copy kept the access log")
	}

	deep := f.Copy(true)
	if len(deep.Accesses) != len(f.Accesses) {
		t.Error("deep copy dropped the access log")
	}

	// Mutating the copy must not leak into the original.
	shallow.Pop(types.Int)
	if len(f.Stack) != 1 {
		t.Error("copy mutation leaked into original")
	}
}

func TestInitialFrame(t *testing.T) {
	var v jerrors.Verifier

	f, err := frame.Initial(frame.Method{
		Class: "Test", Name: "add", Descriptor: "(IJ)J", Static: false,
	}, &v)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}

	// this, int, long (2 slots) = 4 locals.
	if f.MaxLocals != 4 {
		t.Errorf("max locals: got %d, want 4", f.MaxLocals)
	}
	if f.Locals[0].Type != types.Object("Test") {
		t.Errorf("receiver: got %v", f.Locals[0])
	}
	if f.Locals[1].Type != types.Int {
		t.Errorf("param 0: got %v", f.Locals[1])
	}
	if f.Locals[2].Type != types.Long {
		t.Errorf("param 1: got %v", f.Locals[2])
	}
	if !f.Locals[3].Type.IsTop() {
		t.Errorf("wide param sentinel: got %v", f.Locals[3])
	}
}

func TestInitialFrameConstructor(t *testing.T) {
	var v jerrors.Verifier

	f, err := frame.Initial(frame.Method{
		Class: "Test", Name: "<init>", Descriptor: "()V", Static: false,
	}, &v)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if f.Locals[0].Type != types.UninitializedThis("Test") {
		t.Errorf("receiver: got %v", f.Locals[0])
	}
}

func TestInitialFrameStatic(t *testing.T) {
	var v jerrors.Verifier

	f, err := frame.Initial(frame.Method{
		Class: "Test", Name: "m", Descriptor: "()V", Static: true,
	}, &v)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if f.MaxLocals != 0 || len(f.Locals) != 0 {
		t.Errorf("static no-arg: max locals %d, locals %d", f.MaxLocals, len(f.Locals))
	}
}
