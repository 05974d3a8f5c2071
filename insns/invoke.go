package insns

import (
	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/types"
)

func (in *Instruction) traceField(f *frame.Frame) {
	ref, ok := in.Imm.(ConstImm).Const.(classfile.FieldRef)
	fieldType := types.Top
	if ok {
		if t, err := types.ParseFieldDescriptor(string(ref.NameAndType.Descriptor)); err == nil {
			fieldType = t
		}
	} else {
		f.Verifier.Report(jerrors.New(jerrors.KindInvalidType, f.Source(),
			"%s with non-field constant %s", Mnemonic(in.Opcode), in.Imm.(ConstImm).Const))
	}

	switch in.Opcode {
	case OpGetStatic:
		f.Push(fieldType, nil)
	case OpPutStatic:
		f.Pop(fieldType)
	case OpGetField:
		f.Pop(types.Null)
		f.Push(fieldType, nil)
	case OpPutField:
		f.Pop(fieldType)
		f.Pop(types.Null)
	}
}

// invokeRef pulls the class name and descriptor out of the invoke target,
// tolerating broken references.
func (in *Instruction) invokeRef() (class string, name string, descriptor string, ok bool) {
	var c classfile.Constant
	switch imm := in.Imm.(type) {
	case ConstImm:
		c = imm.Const
	case InvokeInterfaceImm:
		c = imm.Ref
	}

	switch c := c.(type) {
	case classfile.MethodRef:
		return string(c.Class.Name), string(c.NameAndType.Name), string(c.NameAndType.Descriptor), true
	case classfile.InterfaceMethodRef:
		return string(c.Class.Name), string(c.NameAndType.Name), string(c.NameAndType.Descriptor), true
	case classfile.InvokeDynamic:
		return "", string(c.NameAndType.Name), string(c.NameAndType.Descriptor), true
	default:
		return "", "", "", false
	}
}

func (in *Instruction) traceInvoke(f *frame.Frame) {
	class, name, descriptor, ok := in.invokeRef()
	if !ok {
		f.Verifier.Report(jerrors.New(jerrors.KindInvalidType, f.Source(),
			"%s with non-method constant", Mnemonic(in.Opcode)))
		return
	}

	params, ret, hasReturn, err := types.ParseMethodDescriptor(descriptor)
	if err != nil {
		f.Verifier.Report(jerrors.New(jerrors.KindInvalidType, f.Source(),
			"bad method descriptor %q", descriptor))
		return
	}

	// Arguments pop in reverse declaration order.
	for i := len(params) - 1; i >= 0; i-- {
		f.Pop(params[i])
	}

	hasReceiver := in.Opcode != OpInvokeStatic && in.Opcode != OpInvokeDynamic
	if hasReceiver {
		receiver := f.Pop(types.Null)

		// invokespecial of <init> initializes the receiver: every copy of
		// the uninitialized entry is replaced, not mutated.
		if in.Opcode == OpInvokeSpecial && name == "<init>" && receiver.Type.Uninitialized() {
			initialized := types.Object(class)
			if name := receiver.Type.Name(); name != "" {
				// uninitializedThis initializes to the receiver's own class.
				initialized = types.Object(name)
			}
			f.Replace(receiver, initialized)
		}
	}

	if hasReturn {
		f.Push(ret, nil)
	}
}
