package classfile

import (
	jerrors "github.com/jawatools/jawa/errors"

	"github.com/jawatools/jawa/internal/binary"
)

// Pool is the class file constant pool: a typed, index-addressable table
// with forward and reverse deduplication. Indices are 1-based; index 0 is
// reserved. Wide constants (Long, Double) occupy two consecutive slots.
type Pool struct {
	slots  map[uint16]Constant
	lookup map[Constant]uint16
	next   uint16
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		slots:  make(map[uint16]Constant),
		lookup: make(map[Constant]uint16),
		next:   1,
	}
}

// Count returns the value of the class file count field: one past the last
// occupied slot.
func (p *Pool) Count() uint16 {
	return p.next
}

// Add deduplicates c by structural equality and returns its index, adding it
// if it is not yet present. Composite constants have their components added
// first. Adding an Index placeholder is a no-op that returns the index it
// names. A full pool returns 0.
func (p *Pool) Add(c Constant) uint16 {
	if i, ok := c.(Index); ok {
		return uint16(i)
	}
	if index, ok := p.lookup[c]; ok {
		return index
	}

	switch c := c.(type) {
	case Class:
		p.Add(c.Name)
	case String:
		p.Add(c.Value)
	case NameAndType:
		p.Add(c.Name)
		p.Add(c.Descriptor)
	case FieldRef:
		p.Add(c.Class)
		p.Add(c.NameAndType)
	case MethodRef:
		p.Add(c.Class)
		p.Add(c.NameAndType)
	case InterfaceMethodRef:
		p.Add(c.Class)
		p.Add(c.NameAndType)
	case MethodHandle:
		p.Add(c.Ref)
	case MethodType:
		p.Add(c.Descriptor)
	case Dynamic:
		p.Add(c.NameAndType)
	case InvokeDynamic:
		p.Add(c.NameAndType)
	case Module:
		p.Add(c.Name)
	case Package:
		p.Add(c.Name)
	}

	size := uint32(1)
	if c.Wide() {
		size = 2
	}
	// The count field is a u16, so a wide constant must not reserve a slot
	// past the last addressable index.
	if uint32(p.next)+size > 0xFFFF {
		return 0
	}

	index := p.next
	p.slots[index] = c
	p.lookup[c] = index
	p.next += uint16(size)
	return index
}

// AddUTF8 is shorthand for Add(UTF8(s)).
func (p *Pool) AddUTF8(s string) uint16 {
	return p.Add(UTF8(s))
}

// Get returns the constant at index i, or an Index placeholder if the slot
// is unoccupied (including the reserved slot after a wide constant).
func (p *Pool) Get(i uint16) Constant {
	if c, ok := p.slots[i]; ok {
		return c
	}
	return Index(i)
}

// Lookup returns the index of c, if present.
func (p *Pool) Lookup(c Constant) (uint16, bool) {
	index, ok := p.lookup[c]
	return index, ok
}

// Constants iterates occupied slots in index order, calling fn with each
// index and constant.
func (p *Pool) Constants(fn func(index uint16, c Constant)) {
	for i := uint16(1); i < p.next; i++ {
		c, ok := p.slots[i]
		if !ok {
			continue
		}
		fn(i, c)
	}
}

// ReadPool reads a constant pool. Reading is two-phase: each slot's payload
// is collected into a closure capturing its raw index references, and the
// closures are resolved only once the whole table has been scanned, because
// the format permits forward and cyclic references.
//
// Unknown tags and tags newer than version are rejected. Cyclic references
// are reported as RecursiveConstant and short-circuit to Index placeholders.
func ReadPool(version Version, r *binary.Reader, v *jerrors.Verifier) (*Pool, error) {
	count, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}

	type raw struct {
		resolve func(deref func(uint16) Constant) (Constant, bool)
		wide    bool
	}
	raws := make(map[uint16]*raw, count)

	for index := uint16(1); index < count; index++ {
		tag, err := r.U8()
		if err != nil {
			return nil, ioShort(err)
		}

		entry, err := readConstantInfo(tag, index, r)
		if err != nil {
			return nil, err
		}
		since := sinceForTag(tag)
		if !version.AtLeast(since) {
			return nil, jerrors.ConstantNotSupported(tagName(tag), index)
		}

		wide := tag == TagLong || tag == TagDouble
		raws[index] = &raw{resolve: entry, wide: wide}
		if wide {
			index++ // the next slot is reserved
		}
	}

	pool := NewPool()
	resolved := make(map[uint16]Constant, len(raws))
	resolving := make(map[uint16]bool)

	var deref func(i uint16) Constant
	deref = func(i uint16) Constant {
		if c, ok := resolved[i]; ok {
			return c
		}
		entry, ok := raws[i]
		if !ok {
			return Index(i)
		}
		if resolving[i] {
			v.Report(jerrors.RecursiveConstant(i))
			return Index(i)
		}
		resolving[i] = true
		c, ok := entry.resolve(deref)
		delete(resolving, i)
		if !ok {
			c = Index(i)
		}
		resolved[i] = c
		return c
	}

	for index := uint16(1); index < count; index++ {
		entry, ok := raws[index]
		if !ok {
			continue
		}
		c := deref(index)
		pool.slots[index] = c
		if _, dup := pool.lookup[c]; !dup {
			pool.lookup[c] = index
		}
		pool.next = index + 1
		if entry.wide {
			pool.next++
		}
	}
	if pool.next < count {
		pool.next = count
	}

	return pool, nil
}

// readConstantInfo reads one slot's payload and returns a closure that
// resolves its index references through deref.
func readConstantInfo(tag uint8, index uint16, r *binary.Reader) (func(func(uint16) Constant) (Constant, bool), error) {
	switch tag {
	case TagUTF8:
		length, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		data, err := r.Bytes(int(length))
		if err != nil {
			return nil, ioShort(err)
		}
		value := UTF8(binary.DecodeModifiedUTF8(data))
		return func(func(uint16) Constant) (Constant, bool) { return value, true }, nil

	case TagInteger:
		value, err := r.I32()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(func(uint16) Constant) (Constant, bool) { return Integer(value), true }, nil

	case TagFloat:
		value, err := r.F32()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(func(uint16) Constant) (Constant, bool) { return Float(value), true }, nil

	case TagLong:
		value, err := r.I64()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(func(uint16) Constant) (Constant, bool) { return Long(value), true }, nil

	case TagDouble:
		value, err := r.F64()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(func(uint16) Constant) (Constant, bool) { return Double(value), true }, nil

	case TagClass, TagModule, TagPackage, TagString, TagMethodType:
		ref, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(d func(uint16) Constant) (Constant, bool) {
			name, ok := d(ref).(UTF8)
			if !ok {
				return nil, false
			}
			switch tag {
			case TagClass:
				return Class{Name: name}, true
			case TagModule:
				return Module{Name: name}, true
			case TagPackage:
				return Package{Name: name}, true
			case TagString:
				return String{Value: name}, true
			default:
				return MethodType{Descriptor: name}, true
			}
		}, nil

	case TagNameAndType:
		nameRef, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		descRef, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(d func(uint16) Constant) (Constant, bool) {
			name, ok := d(nameRef).(UTF8)
			if !ok {
				return nil, false
			}
			desc, ok := d(descRef).(UTF8)
			if !ok {
				return nil, false
			}
			return NameAndType{Name: name, Descriptor: desc}, true
		}, nil

	case TagFieldRef, TagMethodRef, TagInterfaceMethodRef:
		classRef, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		natRef, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(d func(uint16) Constant) (Constant, bool) {
			class, ok := d(classRef).(Class)
			if !ok {
				return nil, false
			}
			nat, ok := d(natRef).(NameAndType)
			if !ok {
				return nil, false
			}
			switch tag {
			case TagFieldRef:
				return FieldRef{Class: class, NameAndType: nat}, true
			case TagMethodRef:
				return MethodRef{Class: class, NameAndType: nat}, true
			default:
				return InterfaceMethodRef{Class: class, NameAndType: nat}, true
			}
		}, nil

	case TagMethodHandle:
		kind, err := r.U8()
		if err != nil {
			return nil, ioShort(err)
		}
		ref, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(d func(uint16) Constant) (Constant, bool) {
			target := d(ref)
			if _, bad := target.(Index); bad {
				return nil, false
			}
			return MethodHandle{Kind: kind, Ref: target}, true
		}, nil

	case TagDynamic, TagInvokeDynamic:
		bsm, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		natRef, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		return func(d func(uint16) Constant) (Constant, bool) {
			nat, ok := d(natRef).(NameAndType)
			if !ok {
				return nil, false
			}
			if tag == TagDynamic {
				return Dynamic{BootstrapIndex: bsm, NameAndType: nat}, true
			}
			return InvokeDynamic{BootstrapIndex: bsm, NameAndType: nat}, true
		}, nil

	default:
		return nil, jerrors.UnknownTag(tag, index)
	}
}

// Write emits the pool: a reserved count slot, each occupied slot's tag and
// payload in index order (wide slots advance by 2), then the backpatched
// count.
func (p *Pool) Write(w *binary.Writer) error {
	countPos := w.ReserveU16()

	// Writing index references may add missing components, so the bound is
	// re-read every iteration.
	for i := uint16(1); i < p.next; i++ {
		c, ok := p.slots[i]
		if !ok {
			continue
		}
		if err := p.writeConstant(w, c); err != nil {
			return err
		}
	}

	w.PatchU16(countPos, p.next)
	return nil
}

func (p *Pool) writeConstant(w *binary.Writer, c Constant) error {
	if _, ok := c.(Index); ok {
		return jerrors.New(jerrors.KindUnknownTag, nil, "cannot encode unresolved placeholder %s", c)
	}
	w.U8(c.Tag())

	switch c := c.(type) {
	case UTF8:
		data := binary.EncodeModifiedUTF8(string(c))
		w.U16(uint16(len(data)))
		w.WriteBytes(data)
	case Integer:
		w.I32(int32(c))
	case Float:
		w.F32(float32(c))
	case Long:
		w.I64(int64(c))
	case Double:
		w.F64(float64(c))
	case Class:
		w.U16(p.Add(c.Name))
	case String:
		w.U16(p.Add(c.Value))
	case NameAndType:
		w.U16(p.Add(c.Name))
		w.U16(p.Add(c.Descriptor))
	case FieldRef:
		w.U16(p.Add(c.Class))
		w.U16(p.Add(c.NameAndType))
	case MethodRef:
		w.U16(p.Add(c.Class))
		w.U16(p.Add(c.NameAndType))
	case InterfaceMethodRef:
		w.U16(p.Add(c.Class))
		w.U16(p.Add(c.NameAndType))
	case MethodHandle:
		w.U8(c.Kind)
		w.U16(p.Add(c.Ref))
	case MethodType:
		w.U16(p.Add(c.Descriptor))
	case Dynamic:
		w.U16(c.BootstrapIndex)
		w.U16(p.Add(c.NameAndType))
	case InvokeDynamic:
		w.U16(c.BootstrapIndex)
		w.U16(p.Add(c.NameAndType))
	case Module:
		w.U16(p.Add(c.Name))
	case Package:
		w.U16(p.Add(c.Name))
	default:
		return jerrors.New(jerrors.KindUnknownTag, nil, "cannot encode constant %s", c)
	}

	return nil
}

func ioShort(err error) *jerrors.Error {
	if short, ok := err.(*binary.ShortReadError); ok {
		return jerrors.IOShort(short.Expected, short.Actual, err)
	}
	return jerrors.IOShort(0, 0, err)
}

func sinceForTag(tag uint8) Version {
	switch tag {
	case TagMethodHandle, TagMethodType, TagInvokeDynamic:
		return Java7
	case TagDynamic:
		return Java11
	case TagModule, TagPackage:
		return Java9
	default:
		return Java1_1
	}
}

func tagName(tag uint8) string {
	switch tag {
	case TagUTF8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldRef:
		return "Fieldref"
	case TagMethodRef:
		return "Methodref"
	case TagInterfaceMethodRef:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	case TagModule:
		return "Module"
	case TagPackage:
		return "Package"
	default:
		return "unknown"
	}
}
