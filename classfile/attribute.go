package classfile

import (
	jerrors "github.com/jawatools/jawa/errors"

	"github.com/jawatools/jawa/internal/binary"
)

// Attribute is a class, member or code attribute. Only Code and
// StackMapTable are parsed; everything else round-trips as a RawAttribute.
type Attribute interface {
	AttrName() string
}

// RawAttribute is an attribute carried as an opaque byte blob.
type RawAttribute struct {
	Name string
	Data []byte
}

func (a *RawAttribute) AttrName() string { return a.Name }

// ExceptionHandler is one row of a Code attribute's exception table.
// CatchType is the internal name of the caught class; empty means any
// throwable (a finally-style catch-all).
type ExceptionHandler struct {
	CatchType string
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
}

// Code is a method's Code attribute.
type Code struct {
	Bytecode       []byte
	ExceptionTable []ExceptionHandler
	Attributes     []Attribute
	MaxStack       uint16
	MaxLocals      uint16
}

func (a *Code) AttrName() string { return "Code" }

// StackMap returns the nested StackMapTable attribute, if present.
func (a *Code) StackMap() *StackMapTable {
	for _, attr := range a.Attributes {
		if smt, ok := attr.(*StackMapTable); ok {
			return smt
		}
	}
	return nil
}

// readAttributes reads a u16-counted attribute list.
func readAttributes(r *binary.Reader, pool *Pool) ([]Attribute, error) {
	count, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}

	attributes := make([]Attribute, 0, count)
	for i := uint16(0); i < count; i++ {
		attr, err := readAttribute(r, pool)
		if err != nil {
			return nil, err
		}
		attributes = append(attributes, attr)
	}
	return attributes, nil
}

func readAttribute(r *binary.Reader, pool *Pool) (Attribute, error) {
	nameIndex, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}
	length, err := r.U32()
	if err != nil {
		return nil, ioShort(err)
	}
	data, err := r.Bytes(int(length))
	if err != nil {
		return nil, ioShort(err)
	}

	name, _ := pool.Get(nameIndex).(UTF8)
	switch string(name) {
	case "Code":
		return readCode(binary.NewReader(data), pool)
	case "StackMapTable":
		return readStackMapTable(binary.NewReader(data), pool)
	default:
		return &RawAttribute{Name: string(name), Data: data}, nil
	}
}

func readCode(r *binary.Reader, pool *Pool) (*Code, error) {
	code := &Code{}

	var err error
	if code.MaxStack, err = r.U16(); err != nil {
		return nil, ioShort(err)
	}
	if code.MaxLocals, err = r.U16(); err != nil {
		return nil, ioShort(err)
	}

	length, err := r.U32()
	if err != nil {
		return nil, ioShort(err)
	}
	if code.Bytecode, err = r.Bytes(int(length)); err != nil {
		return nil, ioShort(err)
	}

	handlerCount, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}
	code.ExceptionTable = make([]ExceptionHandler, 0, handlerCount)
	for i := uint16(0); i < handlerCount; i++ {
		var handler ExceptionHandler
		if handler.StartPC, err = r.U16(); err != nil {
			return nil, ioShort(err)
		}
		if handler.EndPC, err = r.U16(); err != nil {
			return nil, ioShort(err)
		}
		if handler.HandlerPC, err = r.U16(); err != nil {
			return nil, ioShort(err)
		}
		catchIndex, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		if catchIndex != 0 {
			if class, ok := pool.Get(catchIndex).(Class); ok {
				handler.CatchType = string(class.Name)
			}
		}
		code.ExceptionTable = append(code.ExceptionTable, handler)
	}

	if code.Attributes, err = readAttributes(r, pool); err != nil {
		return nil, err
	}
	return code, nil
}

// writeAttributes writes a u16-counted attribute list.
func writeAttributes(w *binary.Writer, pool *Pool, attributes []Attribute) error {
	w.U16(uint16(len(attributes)))
	for _, attr := range attributes {
		if err := writeAttribute(w, pool, attr); err != nil {
			return err
		}
	}
	return nil
}

func writeAttribute(w *binary.Writer, pool *Pool, attr Attribute) error {
	w.U16(pool.AddUTF8(attr.AttrName()))
	lengthPos := w.ReserveU32()
	start := w.Len()

	switch attr := attr.(type) {
	case *RawAttribute:
		w.WriteBytes(attr.Data)
	case *Code:
		if err := writeCode(w, pool, attr); err != nil {
			return err
		}
	case *StackMapTable:
		writeStackMapTable(w, pool, attr)
	default:
		return jerrors.New(jerrors.KindIOShort, nil, "cannot encode attribute %q", attr.AttrName())
	}

	w.PatchU32(lengthPos, uint32(w.Len()-start))
	return nil
}

func writeCode(w *binary.Writer, pool *Pool, code *Code) error {
	w.U16(code.MaxStack)
	w.U16(code.MaxLocals)
	w.U32(uint32(len(code.Bytecode)))
	w.WriteBytes(code.Bytecode)

	w.U16(uint16(len(code.ExceptionTable)))
	for _, handler := range code.ExceptionTable {
		w.U16(handler.StartPC)
		w.U16(handler.EndPC)
		w.U16(handler.HandlerPC)
		if handler.CatchType == "" {
			w.U16(0)
		} else {
			w.U16(pool.Add(Class{Name: UTF8(handler.CatchType)}))
		}
	}

	return writeAttributes(w, pool, code.Attributes)
}
