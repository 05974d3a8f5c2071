package insns

import (
	"github.com/jawatools/jawa/classfile"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func (in *Instruction) traceConstant(f *frame.Frame) {
	switch in.Opcode {
	case OpAConstNull:
		f.Push(types.Null, nil)

	case OpIConstM1, OpIConst0, OpIConst1, OpIConst2, OpIConst3, OpIConst4, OpIConst5:
		f.Push(types.Int, classfile.Integer(int32(in.Opcode)-int32(OpIConst0)))

	case OpLConst0, OpLConst1:
		f.Push(types.Long, classfile.Long(int64(in.Opcode-OpLConst0)))

	case OpFConst0, OpFConst1, OpFConst2:
		f.Push(types.Float, classfile.Float(float32(in.Opcode-OpFConst0)))

	case OpDConst0, OpDConst1:
		f.Push(types.Double, classfile.Double(float64(in.Opcode-OpDConst0)))

	case OpBIPush, OpSIPush:
		f.Push(types.Int, classfile.Integer(in.Imm.(IntImm).Value))

	case OpLdc, OpLdcW, OpLdc2W:
		c := in.Imm.(ConstImm).Const
		f.Push(constantType(c), c)
	}
}

// constantType returns the verification type a loaded constant has on the
// operand stack.
func constantType(c classfile.Constant) types.Type {
	switch c := c.(type) {
	case classfile.Integer:
		return types.Int
	case classfile.Float:
		return types.Float
	case classfile.Long:
		return types.Long
	case classfile.Double:
		return types.Double
	case classfile.String:
		return types.Object("java/lang/String")
	case classfile.Class:
		return types.Object("java/lang/Class")
	case classfile.MethodHandle:
		return types.Object("java/lang/invoke/MethodHandle")
	case classfile.MethodType:
		return types.Object("java/lang/invoke/MethodType")
	case classfile.Dynamic:
		t, err := types.ParseFieldDescriptor(string(c.NameAndType.Descriptor))
		if err != nil {
			return types.Top
		}
		return t
	default:
		return types.Top
	}
}
