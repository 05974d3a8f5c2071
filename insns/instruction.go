package insns

import (
	"fmt"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/internal/binary"
)

// Instruction is one decoded JVM instruction. Imm holds the typed
// immediate for the opcode's operand family, nil for operand-less opcodes.
// Offset is the instruction's byte offset in the original code stream, -1
// for synthetic instructions.
type Instruction struct {
	Imm    any
	Offset int32
	Opcode byte
	Wide   bool
}

// LocalImm holds the local index for loads, stores and ret.
type LocalImm struct {
	Index uint16
}

// IincImm holds the local index and increment for iinc.
type IincImm struct {
	Index uint16
	Const int16
}

// IntImm holds the immediate value for bipush and sipush.
type IntImm struct {
	Value int32
}

// BranchImm holds the relative displacement of a jump. Bound marks a
// displacement that has been replaced by a CFG edge: the graph carries the
// target and the numeric operand is meaningless until reassembly.
type BranchImm struct {
	Offset int32
	Bound  bool
}

// TableSwitchImm holds the operands of tableswitch. Binding a case to an
// edge clears the offsets; the assembler repopulates them.
type TableSwitchImm struct {
	Offsets    []int32
	Low        int32
	High       int32
	Default    int32
	HasDefault bool
}

// LookupSwitchImm holds the operands of lookupswitch as parallel key and
// offset slices in match order.
type LookupSwitchImm struct {
	Keys       []int32
	Offsets    []int32
	Default    int32
	HasDefault bool
}

// ConstImm holds a resolved constant pool reference (ldc, new, checkcast,
// field and method references).
type ConstImm struct {
	Const classfile.Constant
}

// InvokeInterfaceImm holds the reference and historical count operand of
// invokeinterface.
type InvokeInterfaceImm struct {
	Ref   classfile.Constant
	Count uint8
}

// NewArrayImm holds the primitive array type code of newarray.
type NewArrayImm struct {
	AType uint8
}

// MultiANewArrayImm holds the class reference and dimension count of
// multianewarray.
type MultiANewArrayImm struct {
	Class classfile.Class
	Dims  uint8
}

func (in *Instruction) String() string {
	name := Mnemonic(in.Opcode)
	if in.Imm == nil {
		return name
	}
	switch imm := in.Imm.(type) {
	case LocalImm:
		return fmt.Sprintf("%s %d", name, imm.Index)
	case IincImm:
		return fmt.Sprintf("%s %d %d", name, imm.Index, imm.Const)
	case IntImm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case BranchImm:
		if imm.Bound {
			return name
		}
		return fmt.Sprintf("%s %+d", name, imm.Offset)
	case ConstImm:
		return fmt.Sprintf("%s %s", name, imm.Const)
	case InvokeInterfaceImm:
		return fmt.Sprintf("%s %s", name, imm.Ref)
	case NewArrayImm:
		return fmt.Sprintf("%s %d", name, imm.AType)
	case MultiANewArrayImm:
		return fmt.Sprintf("%s %s %d", name, imm.Class, imm.Dims)
	default:
		return name
	}
}

// IsConditional reports whether the instruction is a conditional branch.
func (in *Instruction) IsConditional() bool {
	return (in.Opcode >= OpIfEq && in.Opcode <= OpIfACmpNe) ||
		in.Opcode == OpIfNull || in.Opcode == OpIfNonNull
}

// IsJsr reports whether the instruction is jsr or jsr_w.
func (in *Instruction) IsJsr() bool {
	return in.Opcode == OpJsr || in.Opcode == OpJsrW
}

// IsJump reports whether the instruction transfers control via a
// displacement operand (conditionals, goto, jsr and their wide forms).
func (in *Instruction) IsJump() bool {
	return in.IsConditional() || in.IsJsr() ||
		in.Opcode == OpGoto || in.Opcode == OpGotoW
}

// IsSwitch reports whether the instruction is tableswitch or lookupswitch.
func (in *Instruction) IsSwitch() bool {
	return in.Opcode == OpTableSwitch || in.Opcode == OpLookupSwitch
}

// IsReturn reports whether the instruction returns from the method.
func (in *Instruction) IsReturn() bool {
	return in.Opcode >= OpIReturn && in.Opcode <= OpReturn
}

// Terminates reports whether the instruction ends a basic block.
func (in *Instruction) Terminates() bool {
	return in.IsJump() || in.IsSwitch() || in.IsReturn() ||
		in.Opcode == OpRet || in.Opcode == OpAThrow
}

// Decode decodes a bytecode stream into instructions, resolving constant
// pool indices through pool. A truncated trailing instruction is reported
// through v and the decoded prefix is returned.
func Decode(code []byte, pool *classfile.Pool, v *jerrors.Verifier) ([]*Instruction, error) {
	r := binary.NewReader(code)
	instructions := make([]*Instruction, 0, len(code)/2)

	for r.Remaining() > 0 {
		offset := int32(r.Position())
		op, _ := r.U8()

		wide := false
		if op == OpWide {
			var err error
			if op, err = r.U8(); err != nil {
				v.Report(ioShort(err))
				return instructions, nil
			}
			wide = true
		}

		in := &Instruction{Opcode: op, Offset: offset, Wide: wide}
		if err := decodeImm(in, r, pool, offset); err != nil {
			if _, short := err.(*binary.ShortReadError); short {
				v.Report(ioShort(err))
				return instructions, nil
			}
			return nil, err
		}
		instructions = append(instructions, in)
	}

	return instructions, nil
}

func decodeImm(in *Instruction, r *binary.Reader, pool *classfile.Pool, offset int32) error {
	switch in.Opcode {
	case OpBIPush:
		v, err := r.I8()
		if err != nil {
			return err
		}
		in.Imm = IntImm{Value: int32(v)}

	case OpSIPush:
		v, err := r.I16()
		if err != nil {
			return err
		}
		in.Imm = IntImm{Value: int32(v)}

	case OpLdc:
		index, err := r.U8()
		if err != nil {
			return err
		}
		in.Imm = ConstImm{Const: pool.Get(uint16(index))}

	case OpLdcW, OpLdc2W, OpGetStatic, OpPutStatic, OpGetField, OpPutField,
		OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeDynamic,
		OpNew, OpANewArray, OpCheckCast, OpInstanceOf:
		index, err := r.U16()
		if err != nil {
			return err
		}
		in.Imm = ConstImm{Const: pool.Get(index)}
		if in.Opcode == OpInvokeDynamic {
			// Two reserved zero bytes follow the index.
			if _, err := r.U16(); err != nil {
				return err
			}
		}

	case OpInvokeInterface:
		index, err := r.U16()
		if err != nil {
			return err
		}
		count, err := r.U8()
		if err != nil {
			return err
		}
		if _, err := r.U8(); err != nil { // reserved zero byte
			return err
		}
		in.Imm = InvokeInterfaceImm{Ref: pool.Get(index), Count: count}

	case OpILoad, OpLLoad, OpFLoad, OpDLoad, OpALoad,
		OpIStore, OpLStore, OpFStore, OpDStore, OpAStore, OpRet:
		var index uint16
		if in.Wide {
			v, err := r.U16()
			if err != nil {
				return err
			}
			index = v
		} else {
			v, err := r.U8()
			if err != nil {
				return err
			}
			index = uint16(v)
		}
		in.Imm = LocalImm{Index: index}

	case OpIInc:
		var index uint16
		var delta int16
		if in.Wide {
			v, err := r.U16()
			if err != nil {
				return err
			}
			index = v
			d, err := r.I16()
			if err != nil {
				return err
			}
			delta = d
		} else {
			v, err := r.U8()
			if err != nil {
				return err
			}
			index = uint16(v)
			d, err := r.I8()
			if err != nil {
				return err
			}
			delta = int16(d)
		}
		in.Imm = IincImm{Index: index, Const: delta}

	case OpIfEq, OpIfNe, OpIfLt, OpIfGe, OpIfGt, OpIfLe,
		OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe,
		OpIfACmpEq, OpIfACmpNe, OpGoto, OpJsr, OpIfNull, OpIfNonNull:
		v, err := r.I16()
		if err != nil {
			return err
		}
		in.Imm = BranchImm{Offset: int32(v)}

	case OpGotoW, OpJsrW:
		v, err := r.I32()
		if err != nil {
			return err
		}
		in.Imm = BranchImm{Offset: v}

	case OpTableSwitch:
		if err := skipPadding(r, offset); err != nil {
			return err
		}
		def, err := r.I32()
		if err != nil {
			return err
		}
		low, err := r.I32()
		if err != nil {
			return err
		}
		high, err := r.I32()
		if err != nil {
			return err
		}
		if high < low {
			return jerrors.New(jerrors.KindIOShort, nil, "tableswitch high %d < low %d", high, low)
		}
		count := int(high) - int(low) + 1
		offsets := make([]int32, 0, count)
		for i := 0; i < count; i++ {
			o, err := r.I32()
			if err != nil {
				return err
			}
			offsets = append(offsets, o)
		}
		in.Imm = TableSwitchImm{Low: low, High: high, Default: def, HasDefault: true, Offsets: offsets}

	case OpLookupSwitch:
		if err := skipPadding(r, offset); err != nil {
			return err
		}
		def, err := r.I32()
		if err != nil {
			return err
		}
		count, err := r.I32()
		if err != nil {
			return err
		}
		if count < 0 {
			return jerrors.New(jerrors.KindIOShort, nil, "lookupswitch pair count %d", count)
		}
		keys := make([]int32, 0, count)
		offsets := make([]int32, 0, count)
		for i := int32(0); i < count; i++ {
			key, err := r.I32()
			if err != nil {
				return err
			}
			o, err := r.I32()
			if err != nil {
				return err
			}
			keys = append(keys, key)
			offsets = append(offsets, o)
		}
		in.Imm = LookupSwitchImm{Default: def, HasDefault: true, Keys: keys, Offsets: offsets}

	case OpNewArray:
		atype, err := r.U8()
		if err != nil {
			return err
		}
		in.Imm = NewArrayImm{AType: atype}

	case OpMultiANewArray:
		index, err := r.U16()
		if err != nil {
			return err
		}
		dims, err := r.U8()
		if err != nil {
			return err
		}
		class, _ := pool.Get(index).(classfile.Class)
		in.Imm = MultiANewArrayImm{Class: class, Dims: dims}

	default:
		if Mnemonic(in.Opcode) == "unknown" {
			return jerrors.New(jerrors.KindIOShort, nil, "unknown opcode %#02x at offset %d", in.Opcode, offset)
		}
		// No immediate.
	}

	return nil
}

// skipPadding skips the 0-3 alignment bytes after a switch opcode.
func skipPadding(r *binary.Reader, opcodeOffset int32) error {
	pad := 3 - int(opcodeOffset)%4
	_, err := r.Bytes(pad)
	return err
}

// EncodeTo writes the instruction at the given code offset. Branch and
// switch displacements are written from the immediates as-is; the assembler
// patches them during fixup. ldc is promoted to ldc_w when its constant's
// pool index does not fit in a byte.
func (in *Instruction) EncodeTo(w *binary.Writer, pool *classfile.Pool, atOffset int32) error {
	op := in.Opcode

	// Promote ldc when the pool index is wide.
	if op == OpLdc {
		imm := in.Imm.(ConstImm)
		if pool.Add(imm.Const) > 0xFF {
			op = OpLdcW
		}
	}

	if in.Wide {
		w.U8(OpWide)
	}
	w.U8(op)

	switch imm := in.Imm.(type) {
	case nil:

	case IntImm:
		if op == OpBIPush {
			w.I8(int8(imm.Value))
		} else {
			w.I16(int16(imm.Value))
		}

	case ConstImm:
		index := pool.Add(imm.Const)
		switch op {
		case OpLdc:
			w.U8(uint8(index))
		case OpInvokeDynamic:
			w.U16(index)
			w.U16(0)
		default:
			w.U16(index)
		}

	case InvokeInterfaceImm:
		w.U16(pool.Add(imm.Ref))
		w.U8(imm.Count)
		w.U8(0)

	case LocalImm:
		if in.Wide {
			w.U16(imm.Index)
		} else {
			w.U8(uint8(imm.Index))
		}

	case IincImm:
		if in.Wide {
			w.U16(imm.Index)
			w.I16(imm.Const)
		} else {
			w.U8(uint8(imm.Index))
			w.I8(int8(imm.Const))
		}

	case BranchImm:
		if op == OpGotoW || op == OpJsrW {
			w.I32(imm.Offset)
		} else {
			w.I16(int16(imm.Offset))
		}

	case TableSwitchImm:
		writePadding(w, atOffset)
		w.I32(imm.Default)
		w.I32(imm.Low)
		w.I32(imm.High)
		for _, o := range imm.Offsets {
			w.I32(o)
		}

	case LookupSwitchImm:
		writePadding(w, atOffset)
		w.I32(imm.Default)
		w.I32(int32(len(imm.Keys)))
		for i, key := range imm.Keys {
			w.I32(key)
			w.I32(imm.Offsets[i])
		}

	case NewArrayImm:
		w.U8(imm.AType)

	case MultiANewArrayImm:
		w.U16(pool.Add(imm.Class))
		w.U8(imm.Dims)

	default:
		return jerrors.New(jerrors.KindIOShort, nil, "cannot encode immediate %T for %s", in.Imm, in)
	}

	return nil
}

func writePadding(w *binary.Writer, opcodeOffset int32) {
	pad := 3 - int(opcodeOffset)%4
	for i := 0; i < pad; i++ {
		w.U8(0)
	}
}

func ioShort(err error) *jerrors.Error {
	if short, ok := err.(*binary.ShortReadError); ok {
		return jerrors.IOShort(short.Expected, short.Actual, err)
	}
	return jerrors.IOShort(0, 0, err)
}
