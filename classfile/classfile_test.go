package classfile_test

import (
	"testing"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
)

func emptyMethodClass() *classfile.ClassFile {
	return &classfile.ClassFile{
		Version:     classfile.Java8,
		Pool:        classfile.NewPool(),
		AccessFlags: classfile.AccPublic | classfile.AccSuper,
		This:        classfile.Class{Name: "Test"},
		Super:       classfile.Class{Name: "java/lang/Object"},
		Methods: []*classfile.Member{
			{
				AccessFlags: classfile.AccPublic,
				Name:        "m",
				Descriptor:  "()V",
				Attributes: []classfile.Attribute{
					&classfile.Code{
						MaxStack:  0,
						MaxLocals: 1,
						Bytecode:  []byte{0xB1}, // return
					},
				},
			},
		},
	}
}

func TestClassFileRoundTrip(t *testing.T) {
	data, err := emptyMethodClass().Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	var v jerrors.Verifier
	cf, err := classfile.Read(data, &v)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Len() != 0 {
		t.Fatalf("verifier errors: %v", v.Errors())
	}

	if cf.Version != classfile.Java8 {
		t.Errorf("version: got %v", cf.Version)
	}
	if cf.This != (classfile.Class{Name: "Test"}) {
		t.Errorf("this: got %v", cf.This)
	}
	if cf.Super != (classfile.Class{Name: "java/lang/Object"}) {
		t.Errorf("super: got %v", cf.Super)
	}
	if len(cf.Methods) != 1 {
		t.Fatalf("methods: got %d", len(cf.Methods))
	}

	method := cf.Methods[0]
	if method.Name != "m" || method.Descriptor != "()V" {
		t.Errorf("method: got %s %s", method.Name, method.Descriptor)
	}
	code := method.Code()
	if code == nil {
		t.Fatal("Code attribute missing")
	}
	if code.MaxLocals != 1 || len(code.Bytecode) != 1 || code.Bytecode[0] != 0xB1 {
		t.Errorf("code: got max_locals=%d bytecode=%v", code.MaxLocals, code.Bytecode)
	}
}

func TestClassFileUnknownAttributeRoundTrip(t *testing.T) {
	cf := emptyMethodClass()
	cf.Attributes = []classfile.Attribute{
		&classfile.RawAttribute{Name: "SourceFile", Data: []byte{0x00, 0x01}},
	}

	data, err := cf.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	var v jerrors.Verifier
	read, err := classfile.Read(data, &v)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(read.Attributes) != 1 {
		t.Fatalf("attributes: got %d", len(read.Attributes))
	}
	raw, ok := read.Attributes[0].(*classfile.RawAttribute)
	if !ok || raw.Name != "SourceFile" || len(raw.Data) != 2 {
		t.Errorf("raw attribute: got %#v", read.Attributes[0])
	}
}

func TestCodeExceptionTableRoundTrip(t *testing.T) {
	cf := emptyMethodClass()
	cf.Methods[0].Attributes = []classfile.Attribute{
		&classfile.Code{
			MaxStack:  1,
			MaxLocals: 1,
			Bytecode:  []byte{0xB1},
			ExceptionTable: []classfile.ExceptionHandler{
				{StartPC: 0, EndPC: 1, HandlerPC: 0, CatchType: "java/io/IOException"},
				{StartPC: 0, EndPC: 1, HandlerPC: 0}, // catch-all
			},
		},
	}

	data, err := cf.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	var v jerrors.Verifier
	read, err := classfile.Read(data, &v)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	table := read.Methods[0].Code().ExceptionTable
	if len(table) != 2 {
		t.Fatalf("exception table: got %d rows", len(table))
	}
	if table[0].CatchType != "java/io/IOException" {
		t.Errorf("row 0 catch type: got %q", table[0].CatchType)
	}
	if table[1].CatchType != "" {
		t.Errorf("row 1 catch type: got %q, want catch-all", table[1].CatchType)
	}
}

func TestStackMapTableRoundTrip(t *testing.T) {
	cf := emptyMethodClass()
	cf.Version = classfile.Java6
	cf.Methods[0].Attributes = []classfile.Attribute{
		&classfile.Code{
			MaxStack:  1,
			MaxLocals: 1,
			Bytecode:  []byte{0xB1},
			Attributes: []classfile.Attribute{
				&classfile.StackMapTable{
					Frames: []classfile.StackMapFrame{
						{Kind: 3}, // same frame, delta 3
						{
							Kind:        classfile.FrameAppend,
							OffsetDelta: 10,
							Locals:      []classfile.VerificationTypeInfo{{Tag: classfile.ItemInteger}},
						},
						{
							Kind:        64 + 2, // same locals, one stack item, delta 2
							OffsetDelta: 2,
							Stack: []classfile.VerificationTypeInfo{
								{Tag: classfile.ItemObject, ClassName: "java/lang/String"},
							},
						},
					},
				},
			},
		},
	}

	data, err := cf.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	var v jerrors.Verifier
	read, err := classfile.Read(data, &v)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	smt := read.Methods[0].Code().StackMap()
	if smt == nil {
		t.Fatal("StackMapTable missing")
	}
	if len(smt.Frames) != 3 {
		t.Fatalf("frames: got %d", len(smt.Frames))
	}
	if smt.Frames[0].OffsetDelta != 3 {
		t.Errorf("frame 0 delta: got %d", smt.Frames[0].OffsetDelta)
	}
	if len(smt.Frames[1].Locals) != 1 || smt.Frames[1].Locals[0].Tag != classfile.ItemInteger {
		t.Errorf("frame 1 locals: got %#v", smt.Frames[1].Locals)
	}
	if smt.Frames[2].Stack[0].ClassName != "java/lang/String" {
		t.Errorf("frame 2 stack: got %#v", smt.Frames[2].Stack)
	}
}
