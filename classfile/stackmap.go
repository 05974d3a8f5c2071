package classfile

import (
	"github.com/jawatools/jawa/internal/binary"
)

// Verification type tag bytes used inside stack map frames.
const (
	ItemTop               uint8 = 0
	ItemInteger           uint8 = 1
	ItemFloat             uint8 = 2
	ItemDouble            uint8 = 3
	ItemLong              uint8 = 4
	ItemNull              uint8 = 5
	ItemUninitializedThis uint8 = 6
	ItemObject            uint8 = 7
	ItemUninitialized     uint8 = 8
)

// Stack map frame kind boundaries at the byte level.
const (
	FrameSame              uint8 = 0   // 0-63: offset delta in the tag
	FrameSameLocals1Stack  uint8 = 64  // 64-127: offset delta = tag - 64
	FrameSameLocals1StackX uint8 = 247 // explicit u16 offset delta
	FrameChop              uint8 = 248 // 248-250: chop 251 - tag locals
	FrameSameExtended      uint8 = 251
	FrameAppend            uint8 = 252 // 252-254: append tag - 251 locals
	FrameFull              uint8 = 255
)

// VerificationTypeInfo is the wire form of a verification type in a stack
// map frame. ClassName is set for ItemObject, Offset for ItemUninitialized.
type VerificationTypeInfo struct {
	ClassName string
	Offset    uint16
	Tag       uint8
}

// StackMapFrame is one frame of a StackMapTable, in expanded form: Kind is
// the raw frame type byte and determines which fields are meaningful.
type StackMapFrame struct {
	Locals      []VerificationTypeInfo
	Stack       []VerificationTypeInfo
	OffsetDelta uint16
	Kind        uint8
}

// StackMapTable holds the expanded stack map frames of a Code attribute.
type StackMapTable struct {
	Frames []StackMapFrame
}

func (a *StackMapTable) AttrName() string { return "StackMapTable" }

func readStackMapTable(r *binary.Reader, pool *Pool) (*StackMapTable, error) {
	count, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}

	table := &StackMapTable{Frames: make([]StackMapFrame, 0, count)}
	for i := uint16(0); i < count; i++ {
		frame, err := readStackMapFrame(r, pool)
		if err != nil {
			return nil, err
		}
		table.Frames = append(table.Frames, frame)
	}
	return table, nil
}

func readStackMapFrame(r *binary.Reader, pool *Pool) (StackMapFrame, error) {
	kind, err := r.U8()
	if err != nil {
		return StackMapFrame{}, ioShort(err)
	}
	frame := StackMapFrame{Kind: kind}

	switch {
	case kind < FrameSameLocals1Stack:
		frame.OffsetDelta = uint16(kind)

	case kind < 128:
		frame.OffsetDelta = uint16(kind - FrameSameLocals1Stack)
		entry, err := readVerificationType(r, pool)
		if err != nil {
			return frame, err
		}
		frame.Stack = []VerificationTypeInfo{entry}

	case kind == FrameSameLocals1StackX:
		if frame.OffsetDelta, err = r.U16(); err != nil {
			return frame, ioShort(err)
		}
		entry, err := readVerificationType(r, pool)
		if err != nil {
			return frame, err
		}
		frame.Stack = []VerificationTypeInfo{entry}

	case kind >= FrameChop && kind <= FrameSameExtended:
		if frame.OffsetDelta, err = r.U16(); err != nil {
			return frame, ioShort(err)
		}

	case kind >= FrameAppend && kind < FrameFull:
		if frame.OffsetDelta, err = r.U16(); err != nil {
			return frame, ioShort(err)
		}
		appended := int(kind) - 251
		frame.Locals = make([]VerificationTypeInfo, 0, appended)
		for j := 0; j < appended; j++ {
			entry, err := readVerificationType(r, pool)
			if err != nil {
				return frame, err
			}
			frame.Locals = append(frame.Locals, entry)
		}

	case kind == FrameFull:
		if frame.OffsetDelta, err = r.U16(); err != nil {
			return frame, ioShort(err)
		}
		localCount, err := r.U16()
		if err != nil {
			return frame, ioShort(err)
		}
		frame.Locals = make([]VerificationTypeInfo, 0, localCount)
		for j := uint16(0); j < localCount; j++ {
			entry, err := readVerificationType(r, pool)
			if err != nil {
				return frame, err
			}
			frame.Locals = append(frame.Locals, entry)
		}
		stackCount, err := r.U16()
		if err != nil {
			return frame, ioShort(err)
		}
		frame.Stack = make([]VerificationTypeInfo, 0, stackCount)
		for j := uint16(0); j < stackCount; j++ {
			entry, err := readVerificationType(r, pool)
			if err != nil {
				return frame, err
			}
			frame.Stack = append(frame.Stack, entry)
		}

	default:
		// 128-246 are reserved; carry the bare kind through.
	}

	return frame, nil
}

func readVerificationType(r *binary.Reader, pool *Pool) (VerificationTypeInfo, error) {
	tag, err := r.U8()
	if err != nil {
		return VerificationTypeInfo{}, ioShort(err)
	}
	info := VerificationTypeInfo{Tag: tag}

	switch tag {
	case ItemObject:
		index, err := r.U16()
		if err != nil {
			return info, ioShort(err)
		}
		if class, ok := pool.Get(index).(Class); ok {
			info.ClassName = string(class.Name)
		}
	case ItemUninitialized:
		if info.Offset, err = r.U16(); err != nil {
			return info, ioShort(err)
		}
	}

	return info, nil
}

func writeStackMapTable(w *binary.Writer, pool *Pool, table *StackMapTable) {
	w.U16(uint16(len(table.Frames)))
	for _, frame := range table.Frames {
		writeStackMapFrame(w, pool, frame)
	}
}

func writeStackMapFrame(w *binary.Writer, pool *Pool, frame StackMapFrame) {
	w.U8(frame.Kind)

	switch {
	case frame.Kind < FrameSameLocals1Stack:
		// Offset delta is in the tag.

	case frame.Kind < 128:
		writeVerificationType(w, pool, frame.Stack[0])

	case frame.Kind == FrameSameLocals1StackX:
		w.U16(frame.OffsetDelta)
		writeVerificationType(w, pool, frame.Stack[0])

	case frame.Kind >= FrameChop && frame.Kind <= FrameSameExtended:
		w.U16(frame.OffsetDelta)

	case frame.Kind >= FrameAppend && frame.Kind < FrameFull:
		w.U16(frame.OffsetDelta)
		for _, entry := range frame.Locals {
			writeVerificationType(w, pool, entry)
		}

	case frame.Kind == FrameFull:
		w.U16(frame.OffsetDelta)
		w.U16(uint16(len(frame.Locals)))
		for _, entry := range frame.Locals {
			writeVerificationType(w, pool, entry)
		}
		w.U16(uint16(len(frame.Stack)))
		for _, entry := range frame.Stack {
			writeVerificationType(w, pool, entry)
		}
	}
}

func writeVerificationType(w *binary.Writer, pool *Pool, info VerificationTypeInfo) {
	w.U8(info.Tag)
	switch info.Tag {
	case ItemObject:
		w.U16(pool.Add(Class{Name: UTF8(info.ClassName)}))
	case ItemUninitialized:
		w.U16(info.Offset)
	}
}
