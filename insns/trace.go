package insns

import (
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

// Trace applies the instruction's effect to the frame: pops and pushes with
// type expectations, local accesses, and uninitialized-to-initialized
// replacement. Mismatches are reported through the frame's verifier and
// patched with placeholders so tracing continues.
func (in *Instruction) Trace(f *frame.Frame) {
	switch {
	case in.Opcode == OpNop:

	case in.Opcode <= OpLdc2W:
		in.traceConstant(f)

	case in.Opcode <= OpALoad3:
		in.traceLoad(f)

	case in.Opcode <= OpSALoad:
		in.traceArrayLoad(f)

	case in.Opcode <= OpAStore3:
		in.traceStore(f)

	case in.Opcode <= OpSAStore:
		in.traceArrayStore(f)

	case in.Opcode <= OpSwap:
		in.traceStack(f)

	case in.Opcode <= OpLXor:
		in.traceArithmetic(f)

	case in.Opcode == OpIInc:
		imm := in.Imm.(IincImm)
		f.Get(int(imm.Index), types.Int)
		f.Set(int(imm.Index), f.NewEntry(types.Int, nil))

	case in.Opcode <= OpI2S:
		in.traceConversion(f)

	case in.Opcode <= OpDCmpG:
		in.traceComparison(f)

	case in.Opcode <= OpIfACmpNe || in.Opcode == OpIfNull || in.Opcode == OpIfNonNull:
		in.traceConditional(f)

	case in.Opcode == OpGoto || in.Opcode == OpGotoW:

	case in.Opcode == OpJsr || in.Opcode == OpJsrW:
		f.Push(types.ReturnAddress, nil)

	case in.Opcode == OpRet:
		imm := in.Imm.(LocalImm)
		f.Get(int(imm.Index), types.ReturnAddress)

	case in.Opcode == OpTableSwitch || in.Opcode == OpLookupSwitch:
		f.Pop(types.Int)

	case in.Opcode <= OpReturn:
		in.traceReturn(f)

	case in.Opcode <= OpPutField:
		in.traceField(f)

	case in.Opcode <= OpInvokeDynamic:
		in.traceInvoke(f)

	case in.Opcode == OpNew || in.Opcode == OpNewArray || in.Opcode == OpANewArray ||
		in.Opcode == OpMultiANewArray || in.Opcode == OpArrayLength:
		in.traceNew(f)

	case in.Opcode == OpAThrow:
		f.Pop(types.Null)

	case in.Opcode == OpCheckCast || in.Opcode == OpInstanceOf:
		in.traceCast(f)

	case in.Opcode == OpMonitorEnter || in.Opcode == OpMonitorExit:
		f.Pop(types.Null)
	}
}

func invalidStore(f *frame.Frame, got types.Type) *jerrors.Error {
	return jerrors.New(jerrors.KindInvalidType, f.Source(), "expected reference or returnAddress, got %s", got)
}

// componentOf returns the element type one dimension down from an array
// reference, or java/lang/Object when the array type is unknown.
func componentOf(t types.Type) types.Type {
	dim := t.Dim()
	if dim == 0 {
		return types.Object("java/lang/Object")
	}
	elem := t.Elem()
	if dim > 1 {
		return types.Array(dim-1, elem)
	}
	return elem
}
