package insns

import (
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func (in *Instruction) traceArithmetic(f *frame.Frame) {
	switch {
	case in.Opcode == OpINeg:
		f.Pop(types.Int)
		f.Push(types.Int, nil)
	case in.Opcode == OpLNeg:
		f.Pop(types.Long)
		f.Push(types.Long, nil)
	case in.Opcode == OpFNeg:
		f.Pop(types.Float)
		f.Push(types.Float, nil)
	case in.Opcode == OpDNeg:
		f.Pop(types.Double)
		f.Push(types.Double, nil)

	case in.Opcode == OpIShl || in.Opcode == OpIShr || in.Opcode == OpIUShr:
		f.Pop(types.Int)
		f.Pop(types.Int)
		f.Push(types.Int, nil)
	case in.Opcode == OpLShl || in.Opcode == OpLShr || in.Opcode == OpLUShr:
		// The shift distance is an int even for long shifts.
		f.Pop(types.Int)
		f.Pop(types.Long)
		f.Push(types.Long, nil)

	default:
		// The remaining binary operators cycle int, long, float, double in
		// opcode order within each group of four.
		var t types.Type
		switch (in.Opcode - OpIAdd) % 4 {
		case 0:
			t = types.Int
		case 1:
			t = types.Long
		case 2:
			t = types.Float
		case 3:
			t = types.Double
		}
		// iand..lxor alternate int and long only.
		if in.Opcode >= OpIAnd {
			if (in.Opcode-OpIAnd)%2 == 0 {
				t = types.Int
			} else {
				t = types.Long
			}
		}
		f.Pop(t)
		f.Pop(t)
		f.Push(t, nil)
	}
}

func (in *Instruction) traceComparison(f *frame.Frame) {
	switch in.Opcode {
	case OpLCmp:
		f.Pop(types.Long)
		f.Pop(types.Long)
	case OpFCmpL, OpFCmpG:
		f.Pop(types.Float)
		f.Pop(types.Float)
	case OpDCmpL, OpDCmpG:
		f.Pop(types.Double)
		f.Pop(types.Double)
	}
	f.Push(types.Int, nil)
}

func (in *Instruction) traceConditional(f *frame.Frame) {
	switch {
	case in.Opcode >= OpIfEq && in.Opcode <= OpIfLe:
		f.Pop(types.Int)
	case in.Opcode >= OpIfICmpEq && in.Opcode <= OpIfICmpLe:
		f.Pop(types.Int)
		f.Pop(types.Int)
	case in.Opcode == OpIfACmpEq || in.Opcode == OpIfACmpNe:
		f.Pop(types.Null)
		f.Pop(types.Null)
	case in.Opcode == OpIfNull || in.Opcode == OpIfNonNull:
		f.Pop(types.Null)
	}
}

func (in *Instruction) traceReturn(f *frame.Frame) {
	switch in.Opcode {
	case OpIReturn:
		f.Pop(types.Int)
	case OpLReturn:
		f.Pop(types.Long)
	case OpFReturn:
		f.Pop(types.Float)
	case OpDReturn:
		f.Pop(types.Double)
	case OpAReturn:
		f.Pop(types.Null)
	case OpReturn:
	}
}
