package insns

import (
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func (in *Instruction) traceStack(f *frame.Frame) {
	switch in.Opcode {
	case OpPop:
		f.Pop(types.Top)
	case OpPop2:
		f.PopAny()
		f.PopAny()
	case OpDup:
		f.DupX(1, 0)
	case OpDupX1:
		f.DupX(1, 1)
	case OpDupX2:
		f.DupX(1, 2)
	case OpDup2:
		f.DupX(2, 0)
	case OpDup2X1:
		f.DupX(2, 1)
	case OpDup2X2:
		f.DupX(2, 2)
	case OpSwap:
		f.Swap()
	}
}
