// Package classfile implements the JVM class file container format: the
// constant pool, class members, and the Code and StackMapTable attributes.
// Other attributes round-trip as opaque byte blobs.
package classfile

import (
	jerrors "github.com/jawatools/jawa/errors"

	"github.com/jawatools/jawa/internal/binary"
)

// Magic is the class file magic number.
const Magic uint32 = 0xCAFEBABE

// Class and member access flags.
const (
	AccPublic     uint16 = 0x0001
	AccPrivate    uint16 = 0x0002
	AccProtected  uint16 = 0x0004
	AccStatic     uint16 = 0x0008
	AccFinal      uint16 = 0x0010
	AccSuper      uint16 = 0x0020
	AccVolatile   uint16 = 0x0040
	AccTransient  uint16 = 0x0080
	AccNative     uint16 = 0x0100
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// ClassFile is a parsed class file.
type ClassFile struct {
	Pool        *Pool
	This        Class
	Super       Class // zero value for java/lang/Object itself
	Interfaces  []Class
	Fields      []*Member
	Methods     []*Member
	Attributes  []Attribute
	Version     Version
	AccessFlags uint16
}

// Member is a field or method.
type Member struct {
	Name        string
	Descriptor  string
	Attributes  []Attribute
	AccessFlags uint16
}

// Code returns the member's Code attribute, if present.
func (m *Member) Code() *Code {
	for _, attr := range m.Attributes {
		if code, ok := attr.(*Code); ok {
			return code
		}
	}
	return nil
}

// Static reports whether the member has the static access flag.
func (m *Member) Static() bool {
	return m.AccessFlags&AccStatic != 0
}

// Read parses a class file. Recoverable anomalies (cyclic constants) are
// reported through v; structural failures return an error.
func Read(data []byte, v *jerrors.Verifier) (*ClassFile, error) {
	r := binary.NewReader(data)

	magic, err := r.U32()
	if err != nil {
		return nil, ioShort(err)
	}
	if magic != Magic {
		return nil, jerrors.New(jerrors.KindIOShort, nil, "bad magic %#x", magic)
	}

	cf := &ClassFile{}
	if cf.Version.Minor, err = r.U16(); err != nil {
		return nil, ioShort(err)
	}
	if cf.Version.Major, err = r.U16(); err != nil {
		return nil, ioShort(err)
	}

	if cf.Pool, err = ReadPool(cf.Version, r, v); err != nil {
		return nil, err
	}

	if cf.AccessFlags, err = r.U16(); err != nil {
		return nil, ioShort(err)
	}

	thisIndex, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}
	if class, ok := cf.Pool.Get(thisIndex).(Class); ok {
		cf.This = class
	}
	superIndex, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}
	if superIndex != 0 {
		if class, ok := cf.Pool.Get(superIndex).(Class); ok {
			cf.Super = class
		}
	}

	interfaceCount, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}
	cf.Interfaces = make([]Class, 0, interfaceCount)
	for i := uint16(0); i < interfaceCount; i++ {
		index, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		if class, ok := cf.Pool.Get(index).(Class); ok {
			cf.Interfaces = append(cf.Interfaces, class)
		}
	}

	if cf.Fields, err = readMembers(r, cf.Pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = readMembers(r, cf.Pool); err != nil {
		return nil, err
	}
	if cf.Attributes, err = readAttributes(r, cf.Pool); err != nil {
		return nil, err
	}

	return cf, nil
}

func readMembers(r *binary.Reader, pool *Pool) ([]*Member, error) {
	count, err := r.U16()
	if err != nil {
		return nil, ioShort(err)
	}

	members := make([]*Member, 0, count)
	for i := uint16(0); i < count; i++ {
		member := &Member{}
		if member.AccessFlags, err = r.U16(); err != nil {
			return nil, ioShort(err)
		}
		nameIndex, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		if name, ok := pool.Get(nameIndex).(UTF8); ok {
			member.Name = string(name)
		}
		descIndex, err := r.U16()
		if err != nil {
			return nil, ioShort(err)
		}
		if desc, ok := pool.Get(descIndex).(UTF8); ok {
			member.Descriptor = string(desc)
		}
		if member.Attributes, err = readAttributes(r, pool); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, nil
}

// Write encodes the class file. The body is encoded first so that every
// constant it needs lands in the pool before the pool itself is emitted.
func (cf *ClassFile) Write() ([]byte, error) {
	if cf.Pool == nil {
		cf.Pool = NewPool()
	}

	body := binary.NewWriter()
	body.U16(cf.AccessFlags)
	body.U16(cf.Pool.Add(cf.This))
	if cf.Super == (Class{}) {
		body.U16(0)
	} else {
		body.U16(cf.Pool.Add(cf.Super))
	}

	body.U16(uint16(len(cf.Interfaces)))
	for _, iface := range cf.Interfaces {
		body.U16(cf.Pool.Add(iface))
	}

	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		body.U16(uint16(len(members)))
		for _, member := range members {
			body.U16(member.AccessFlags)
			body.U16(cf.Pool.AddUTF8(member.Name))
			body.U16(cf.Pool.AddUTF8(member.Descriptor))
			if err := writeAttributes(body, cf.Pool, member.Attributes); err != nil {
				return nil, err
			}
		}
	}
	if err := writeAttributes(body, cf.Pool, cf.Attributes); err != nil {
		return nil, err
	}

	w := binary.NewWriter()
	w.U32(Magic)
	w.U16(cf.Version.Minor)
	w.U16(cf.Version.Major)
	if err := cf.Pool.Write(w); err != nil {
		return nil, err
	}
	w.WriteBytes(body.Bytes())
	return w.Bytes(), nil
}
