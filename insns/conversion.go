package insns

import (
	"github.com/jawatools/jawa/classfile"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

// conversions maps i2l..i2s onto their operand and result types.
var conversions = map[byte][2]types.Type{
	OpI2L: {types.Int, types.Long},
	OpI2F: {types.Int, types.Float},
	OpI2D: {types.Int, types.Double},
	OpL2I: {types.Long, types.Int},
	OpL2F: {types.Long, types.Float},
	OpL2D: {types.Long, types.Double},
	OpF2I: {types.Float, types.Int},
	OpF2L: {types.Float, types.Long},
	OpF2D: {types.Float, types.Double},
	OpD2I: {types.Double, types.Int},
	OpD2L: {types.Double, types.Long},
	OpD2F: {types.Double, types.Float},
	OpI2B: {types.Int, types.Int},
	OpI2C: {types.Int, types.Int},
	OpI2S: {types.Int, types.Int},
}

func (in *Instruction) traceConversion(f *frame.Frame) {
	conv := conversions[in.Opcode]
	f.Pop(conv[0])
	f.Push(conv[1], nil)
}

func (in *Instruction) traceCast(f *frame.Frame) {
	class, _ := in.Imm.(ConstImm).Const.(classfile.Class)
	value := f.Pop(types.Null)

	if in.Opcode == OpInstanceOf {
		f.Push(types.Int, nil)
		return
	}

	target := types.Object(string(class.Name))
	cast := f.NewEntry(target, value.Value)
	cast.Parent = value
	f.PushEntry(cast)
}
