package insns

import (
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

// localIndex returns the local variable index for a load or store, whether
// it comes from an immediate or is baked into the opcode.
func (in *Instruction) localIndex(base byte) int {
	if imm, ok := in.Imm.(LocalImm); ok {
		return int(imm.Index)
	}
	return int(in.Opcode-base) % 4
}

func (in *Instruction) traceLoad(f *frame.Frame) {
	var index int
	var expect types.Type

	switch {
	case in.Opcode == OpILoad:
		index, expect = in.localIndex(0), types.Int
	case in.Opcode == OpLLoad:
		index, expect = in.localIndex(0), types.Long
	case in.Opcode == OpFLoad:
		index, expect = in.localIndex(0), types.Float
	case in.Opcode == OpDLoad:
		index, expect = in.localIndex(0), types.Double
	case in.Opcode == OpALoad:
		index, expect = in.localIndex(0), types.Null
	case in.Opcode <= OpILoad3:
		index, expect = in.localIndex(OpILoad0), types.Int
	case in.Opcode <= OpLLoad3:
		index, expect = in.localIndex(OpLLoad0), types.Long
	case in.Opcode <= OpFLoad3:
		index, expect = in.localIndex(OpFLoad0), types.Float
	case in.Opcode <= OpDLoad3:
		index, expect = in.localIndex(OpDLoad0), types.Double
	default:
		index, expect = in.localIndex(OpALoad0), types.Null
	}

	f.PushEntry(f.Get(index, expect))
}

func (in *Instruction) traceStore(f *frame.Frame) {
	var index int
	var expect types.Type
	ref := false

	switch {
	case in.Opcode == OpIStore:
		index, expect = in.localIndex(0), types.Int
	case in.Opcode == OpLStore:
		index, expect = in.localIndex(0), types.Long
	case in.Opcode == OpFStore:
		index, expect = in.localIndex(0), types.Float
	case in.Opcode == OpDStore:
		index, expect = in.localIndex(0), types.Double
	case in.Opcode == OpAStore:
		index, ref = in.localIndex(0), true
	case in.Opcode <= OpIStore3:
		index, expect = in.localIndex(OpIStore0), types.Int
	case in.Opcode <= OpLStore3:
		index, expect = in.localIndex(OpLStore0), types.Long
	case in.Opcode <= OpFStore3:
		index, expect = in.localIndex(OpFStore0), types.Float
	case in.Opcode <= OpDStore3:
		index, expect = in.localIndex(OpDStore0), types.Double
	default:
		index, ref = in.localIndex(OpAStore0), true
	}

	if ref {
		// astore also accepts returnAddress: it is how a subroutine saves
		// the address jsr pushed.
		entry := f.PopAny()
		t := entry.Type
		if !t.Reference() && !t.Uninitialized() && !t.IsReturnAddress() && !t.IsTop() {
			f.Verifier.Report(invalidStore(f, t))
		}
		f.Set(index, entry)
		return
	}
	f.Set(index, f.Pop(expect))
}
