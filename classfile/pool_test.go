package classfile_test

import (
	"errors"
	"testing"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/internal/binary"
)

func TestPoolAddDedup(t *testing.T) {
	pool := classfile.NewPool()

	first := pool.Add(classfile.UTF8("java/lang/Object"))
	if first == 0 {
		t.Fatal("Add returned index 0")
	}
	second := pool.Add(classfile.UTF8("java/lang/Object"))
	if second != first {
		t.Errorf("dedup: got %d, want %d", second, first)
	}
	if got := pool.Get(first); got != classfile.UTF8("java/lang/Object") {
		t.Errorf("Get: got %v", got)
	}
}

func TestPoolAddComponents(t *testing.T) {
	pool := classfile.NewPool()

	ref := classfile.MethodRef{
		Class:       classfile.Class{Name: "Foo"},
		NameAndType: classfile.NameAndType{Name: "bar", Descriptor: "()V"},
	}
	pool.Add(ref)

	// Composite constants pull their components in.
	if _, ok := pool.Lookup(classfile.Class{Name: "Foo"}); !ok {
		t.Error("Class component missing")
	}
	if _, ok := pool.Lookup(classfile.UTF8("bar")); !ok {
		t.Error("name UTF8 missing")
	}
	if _, ok := pool.Lookup(classfile.NameAndType{Name: "bar", Descriptor: "()V"}); !ok {
		t.Error("NameAndType component missing")
	}
}

func TestPoolWideConstants(t *testing.T) {
	pool := classfile.NewPool()

	long := pool.Add(classfile.Long(1))
	next := pool.Add(classfile.Integer(2))
	if next != long+2 {
		t.Errorf("wide constant did not reserve a slot: long=%d next=%d", long, next)
	}

	// The reserved slot reads back as a placeholder.
	if _, ok := pool.Get(long + 1).(classfile.Index); !ok {
		t.Errorf("reserved slot: got %v, want Index", pool.Get(long+1))
	}
}

func TestPoolWideAtLastIndex(t *testing.T) {
	pool := classfile.NewPool()
	for i := 0; pool.Count() < 0xFFFE; i++ {
		if pool.Add(classfile.Integer(int32(i))) == 0 {
			t.Fatal("pool filled up early")
		}
	}

	// A wide constant would reserve a slot past the last addressable index.
	if got := pool.Add(classfile.Long(1)); got != 0 {
		t.Errorf("wide add at index 0xFFFE: got %d, want rejection", got)
	}
	// A narrow constant still fits in the final slot.
	if got := pool.Add(classfile.Integer(-1)); got != 0xFFFE {
		t.Errorf("narrow add: got %#x, want 0xFFFE", got)
	}
	if pool.Count() != 0xFFFF {
		t.Errorf("count: got %#x", pool.Count())
	}
}

func TestPoolAddIndexNoOp(t *testing.T) {
	pool := classfile.NewPool()
	if got := pool.Add(classfile.Index(42)); got != 42 {
		t.Errorf("Add(Index(42)): got %d, want 42", got)
	}
	if pool.Count() != 1 {
		t.Errorf("Index add grew the pool: count %d", pool.Count())
	}
}

func TestPoolRoundTrip(t *testing.T) {
	pool := classfile.NewPool()
	pool.Add(classfile.Integer(-7))
	pool.Add(classfile.Float(2.5))
	pool.Add(classfile.Long(1 << 40))
	pool.Add(classfile.Double(3.25))
	pool.Add(classfile.String{Value: "hello"})
	pool.Add(classfile.MethodRef{
		Class:       classfile.Class{Name: "java/io/PrintStream"},
		NameAndType: classfile.NameAndType{Name: "println", Descriptor: "(Ljava/lang/String;)V"},
	})
	pool.Add(classfile.MethodHandle{
		Kind: classfile.RefInvokeStatic,
		Ref: classfile.MethodRef{
			Class:       classfile.Class{Name: "Bootstrap"},
			NameAndType: classfile.NameAndType{Name: "bsm", Descriptor: "()V"},
		},
	})

	w := binary.NewWriter()
	if err := pool.Write(w); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var v jerrors.Verifier
	read, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if err != nil {
		t.Fatalf("ReadPool: %v", err)
	}
	if v.Len() != 0 {
		t.Fatalf("unexpected verifier errors: %v", v.Errors())
	}
	if read.Count() != pool.Count() {
		t.Fatalf("count: got %d, want %d", read.Count(), pool.Count())
	}

	pool.Constants(func(index uint16, c classfile.Constant) {
		if got := read.Get(index); got != c {
			t.Errorf("slot %d: got %v, want %v", index, got, c)
		}
	})
}

func TestPoolReadRejectsUnknownTag(t *testing.T) {
	w := binary.NewWriter()
	w.U16(2) // count
	w.U8(99) // bogus tag
	w.U16(0)

	var v jerrors.Verifier
	_, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if !errors.Is(err, &jerrors.Error{Kind: jerrors.KindUnknownTag}) {
		t.Fatalf("got %v, want unknown_tag", err)
	}
}

func TestPoolReadRejectsUnsupportedVersion(t *testing.T) {
	w := binary.NewWriter()
	w.U16(2)
	w.U8(classfile.TagModule)
	w.U16(1)

	var v jerrors.Verifier
	_, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if !errors.Is(err, &jerrors.Error{Kind: jerrors.KindConstantNotSupported}) {
		t.Fatalf("got %v, want constant_not_supported", err)
	}
}

func TestPoolReadForwardReference(t *testing.T) {
	// Class at slot 1 referencing the UTF8 at slot 2.
	w := binary.NewWriter()
	w.U16(3)
	w.U8(classfile.TagClass)
	w.U16(2)
	w.U8(classfile.TagUTF8)
	w.U16(3)
	w.WriteBytes([]byte("Foo"))

	var v jerrors.Verifier
	pool, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if err != nil {
		t.Fatalf("ReadPool: %v", err)
	}
	if got := pool.Get(1); got != (classfile.Class{Name: "Foo"}) {
		t.Errorf("slot 1: got %v", got)
	}
}

func TestPoolReadRecursiveConstant(t *testing.T) {
	// Class at slot 1 referencing itself.
	w := binary.NewWriter()
	w.U16(2)
	w.U8(classfile.TagClass)
	w.U16(1)

	var v jerrors.Verifier
	pool, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if err != nil {
		t.Fatalf("ReadPool: %v", err)
	}
	if !v.HasKind(jerrors.KindRecursiveConstant) {
		t.Error("recursive constant not reported")
	}
	// The cycle short-circuits to a placeholder.
	if _, ok := pool.Get(1).(classfile.Index); !ok {
		t.Errorf("slot 1: got %v, want Index placeholder", pool.Get(1))
	}
}

func TestPoolReadShortBuffer(t *testing.T) {
	w := binary.NewWriter()
	w.U16(2)
	w.U8(classfile.TagInteger)
	w.U8(0x01) // truncated payload

	var v jerrors.Verifier
	_, err := classfile.ReadPool(classfile.Java8, binary.NewReader(w.Bytes()), &v)
	if !errors.Is(err, &jerrors.Error{Kind: jerrors.KindIOShort}) {
		t.Fatalf("got %v, want io_short", err)
	}
}
