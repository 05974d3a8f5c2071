// Package types implements the verification type lattice used by the
// abstract interpreter and the stack map frame computation.
//
// Types are small immutable values with structural equality; they may be
// compared with == and used as map keys, and sharing them between analyses
// is safe because nothing is mutated after construction.
package types

import "strings"

type kind uint8

const (
	kindTop kind = iota
	kindInt
	kindByte
	kindShort
	kindChar
	kindBoolean
	kindFloat
	kindLong
	kindDouble
	kindNull
	kindReturnAddress
	kindReference
	kindUninitialized
	kindUninitializedThis
)

// Type is a verification type. The zero value is Top.
type Type struct {
	name   string
	offset int32
	k      kind
}

// The primitive and pseudo types.
var (
	Top           = Type{k: kindTop}
	Int           = Type{k: kindInt}
	Byte          = Type{k: kindByte}
	Short         = Type{k: kindShort}
	Char          = Type{k: kindChar}
	Boolean       = Type{k: kindBoolean}
	Float         = Type{k: kindFloat}
	Long          = Type{k: kindLong}
	Double        = Type{k: kindDouble}
	Null          = Type{k: kindNull}
	ReturnAddress = Type{k: kindReturnAddress}
)

// Object returns the reference type for the given internal class name.
// Array classes may be named directly in descriptor form ("[I").
func Object(name string) Type {
	return Type{k: kindReference, name: name}
}

// Array returns an array reference type of the given dimension and element.
func Array(dim int, elem Type) Type {
	var b strings.Builder
	for i := 0; i < dim; i++ {
		b.WriteByte('[')
	}
	switch elem.k {
	case kindInt:
		b.WriteByte('I')
	case kindByte:
		b.WriteByte('B')
	case kindShort:
		b.WriteByte('S')
	case kindChar:
		b.WriteByte('C')
	case kindBoolean:
		b.WriteByte('Z')
	case kindFloat:
		b.WriteByte('F')
	case kindLong:
		b.WriteByte('J')
	case kindDouble:
		b.WriteByte('D')
	case kindReference:
		if strings.HasPrefix(elem.name, "[") {
			b.WriteString(elem.name)
		} else {
			b.WriteByte('L')
			b.WriteString(elem.name)
			b.WriteByte(';')
		}
	default:
		b.WriteString("Ljava/lang/Object;")
	}
	return Type{k: kindReference, name: b.String()}
}

// Uninitialized returns the type of a new result before its constructor has
// run, tagged with the offset of the creating instruction.
func Uninitialized(offset int32) Type {
	return Type{k: kindUninitialized, offset: offset}
}

// UninitializedThis returns the type of a constructor's receiver before the
// superclass constructor has run.
func UninitializedThis(class string) Type {
	return Type{k: kindUninitializedThis, name: class}
}

// Name returns the class name of a reference type, or the class of an
// uninitializedThis. Empty for other types.
func (t Type) Name() string { return t.name }

// Offset returns the creating instruction offset of an Uninitialized type.
func (t Type) Offset() int32 { return t.offset }

// IsTop reports whether t is the top type.
func (t Type) IsTop() bool { return t.k == kindTop }

// Reference reports whether t is a reference type (including null).
func (t Type) Reference() bool {
	return t.k == kindReference || t.k == kindNull
}

// Uninitialized reports whether t is uninitialized or uninitializedThis.
func (t Type) Uninitialized() bool {
	return t.k == kindUninitialized || t.k == kindUninitializedThis
}

// IsReturnAddress reports whether t is a returnAddress.
func (t Type) IsReturnAddress() bool { return t.k == kindReturnAddress }

// IsArray reports whether t is an array reference type.
func (t Type) IsArray() bool {
	return t.k == kindReference && strings.HasPrefix(t.name, "[")
}

// Dim returns the array dimension, 0 for non-arrays.
func (t Type) Dim() int {
	if t.k != kindReference {
		return 0
	}
	dim := 0
	for dim < len(t.name) && t.name[dim] == '[' {
		dim++
	}
	return dim
}

// Elem returns the ultimate element type of an array, or t itself for
// non-arrays.
func (t Type) Elem() Type {
	dim := t.Dim()
	if dim == 0 {
		return t
	}
	desc := t.name[dim:]
	elem, _, err := parseFieldDescriptor(desc)
	if err != nil {
		return Top
	}
	return elem
}

// Category returns the verification category: 2 for long and double, 1 for
// everything else.
func (t Type) Category() int {
	if t.k == kindLong || t.k == kindDouble {
		return 2
	}
	return 1
}

// Wide reports whether t occupies two stack or local slots.
func (t Type) Wide() bool { return t.Category() == 2 }

// Widened returns the type as it appears on the operand stack: byte, short,
// char and boolean widen to int.
func (t Type) Widened() Type {
	switch t.k {
	case kindByte, kindShort, kindChar, kindBoolean:
		return Int
	}
	return t
}

// Mergeable reports whether t and other can meet at a control-flow join or
// satisfy one another as an expectation (the check_merge relation).
func (t Type) Mergeable(other Type) bool {
	a, b := t.Widened(), other.Widened()
	if a == b {
		return true
	}
	if a.k == kindTop || b.k == kindTop {
		return true
	}

	switch a.k {
	case kindNull:
		return b.Reference() || b.Uninitialized()
	case kindReference:
		return b.k == kindNull || b.k == kindReference
	case kindUninitialized:
		return b.k == kindUninitialized || b.k == kindNull
	case kindUninitializedThis:
		return b.k == kindUninitializedThis || b.k == kindNull
	}
	return false
}

// Merge returns the common supertype of t and other. References without a
// common name merge to java/lang/Object (the lattice carries no class
// hierarchy); arrays of equal dimension keep the dimension with an Object
// element. Unmergeable types meet at Top.
func (t Type) Merge(other Type) Type {
	a, b := t.Widened(), other.Widened()
	if a == b {
		return a
	}
	if a.k == kindTop || b.k == kindTop {
		return Top
	}

	switch {
	case a.k == kindNull && (b.Reference() || b.Uninitialized()):
		return b
	case b.k == kindNull && (a.Reference() || a.Uninitialized()):
		return a
	case a.k == kindReference && b.k == kindReference:
		adim, bdim := a.Dim(), b.Dim()
		if adim > 0 && adim == bdim {
			return Array(adim, Object("java/lang/Object"))
		}
		return Object("java/lang/Object")
	case a.k == kindUninitialized && b.k == kindUninitialized:
		return a
	}
	return Top
}

func (t Type) String() string {
	switch t.k {
	case kindTop:
		return "top"
	case kindInt:
		return "int"
	case kindByte:
		return "byte"
	case kindShort:
		return "short"
	case kindChar:
		return "char"
	case kindBoolean:
		return "boolean"
	case kindFloat:
		return "float"
	case kindLong:
		return "long"
	case kindDouble:
		return "double"
	case kindNull:
		return "null"
	case kindReturnAddress:
		return "returnAddress"
	case kindReference:
		return t.name
	case kindUninitialized:
		return "uninitialized"
	case kindUninitializedThis:
		return "uninitializedThis"
	default:
		return "invalid"
	}
}
