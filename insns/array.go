package insns

import (
	"github.com/jawatools/jawa/classfile"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func (in *Instruction) traceArrayLoad(f *frame.Frame) {
	f.Pop(types.Int) // index

	switch in.Opcode {
	case OpIALoad, OpBALoad, OpCALoad, OpSALoad:
		f.Pop(types.Null)
		f.Push(types.Int, nil)
	case OpLALoad:
		f.Pop(types.Null)
		f.Push(types.Long, nil)
	case OpFALoad:
		f.Pop(types.Null)
		f.Push(types.Float, nil)
	case OpDALoad:
		f.Pop(types.Null)
		f.Push(types.Double, nil)
	case OpAALoad:
		array := f.Pop(types.Null)
		f.Push(componentOf(array.Type), nil)
	}
}

func (in *Instruction) traceArrayStore(f *frame.Frame) {
	switch in.Opcode {
	case OpIAStore, OpBAStore, OpCAStore, OpSAStore:
		f.Pop(types.Int)
	case OpLAStore:
		f.Pop(types.Long)
	case OpFAStore:
		f.Pop(types.Float)
	case OpDAStore:
		f.Pop(types.Double)
	case OpAAStore:
		f.Pop(types.Null)
	}
	f.Pop(types.Int)  // index
	f.Pop(types.Null) // array reference
}

// primitiveArrayType maps a newarray type code to the array type it creates.
func primitiveArrayType(atype uint8) types.Type {
	switch atype {
	case ATBoolean:
		return types.Array(1, types.Boolean)
	case ATChar:
		return types.Array(1, types.Char)
	case ATFloat:
		return types.Array(1, types.Float)
	case ATDouble:
		return types.Array(1, types.Double)
	case ATByte:
		return types.Array(1, types.Byte)
	case ATShort:
		return types.Array(1, types.Short)
	case ATInt:
		return types.Array(1, types.Int)
	case ATLong:
		return types.Array(1, types.Long)
	default:
		return types.Array(1, types.Object("java/lang/Object"))
	}
}

func (in *Instruction) traceNew(f *frame.Frame) {
	switch in.Opcode {
	case OpNew:
		f.Push(types.Uninitialized(in.Offset), nil)

	case OpNewArray:
		f.Pop(types.Int)
		f.Push(primitiveArrayType(in.Imm.(NewArrayImm).AType), nil)

	case OpANewArray:
		f.Pop(types.Int)
		class, _ := in.Imm.(ConstImm).Const.(classfile.Class)
		f.Push(types.Array(1, types.Object(string(class.Name))), nil)

	case OpMultiANewArray:
		imm := in.Imm.(MultiANewArrayImm)
		for i := uint8(0); i < imm.Dims; i++ {
			f.Pop(types.Int)
		}
		f.Push(types.Object(string(imm.Class.Name)), nil)

	case OpArrayLength:
		f.Pop(types.Null)
		f.Push(types.Int, nil)
	}
}
