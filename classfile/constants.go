package classfile

import "fmt"

// Constant pool tags as defined by the class file format.
const (
	TagUTF8               uint8 = 1
	TagInteger            uint8 = 3
	TagFloat              uint8 = 4
	TagLong               uint8 = 5
	TagDouble             uint8 = 6
	TagClass              uint8 = 7
	TagString             uint8 = 8
	TagFieldRef           uint8 = 9
	TagMethodRef          uint8 = 10
	TagInterfaceMethodRef uint8 = 11
	TagNameAndType        uint8 = 12
	TagMethodHandle       uint8 = 15
	TagMethodType         uint8 = 16
	TagDynamic            uint8 = 17
	TagInvokeDynamic      uint8 = 18
	TagModule             uint8 = 19
	TagPackage            uint8 = 20
)

// Constant is a constant pool entry. Implementations are small comparable
// values: structural equality is what drives pool deduplication, and
// constants may be shared between pools because nothing is mutated after
// construction.
type Constant interface {
	fmt.Stringer

	// Tag returns the constant's pool tag byte.
	Tag() uint8
	// Wide reports whether the constant occupies two consecutive pool slots.
	Wide() bool
	// Since returns the first class file version that supports the constant.
	Since() Version
}

// UTF8 is a modified-UTF-8 string constant.
type UTF8 string

func (c UTF8) Tag() uint8     { return TagUTF8 }
func (c UTF8) Wide() bool     { return false }
func (c UTF8) Since() Version { return Java1_1 }
func (c UTF8) String() string { return fmt.Sprintf("utf8 %q", string(c)) }

// Integer is a 32-bit integer constant.
type Integer int32

func (c Integer) Tag() uint8     { return TagInteger }
func (c Integer) Wide() bool     { return false }
func (c Integer) Since() Version { return Java1_1 }
func (c Integer) String() string { return fmt.Sprintf("int %d", int32(c)) }

// Float is a 32-bit float constant.
type Float float32

func (c Float) Tag() uint8     { return TagFloat }
func (c Float) Wide() bool     { return false }
func (c Float) Since() Version { return Java1_1 }
func (c Float) String() string { return fmt.Sprintf("float %g", float32(c)) }

// Long is a 64-bit integer constant. It occupies two pool slots.
type Long int64

func (c Long) Tag() uint8     { return TagLong }
func (c Long) Wide() bool     { return true }
func (c Long) Since() Version { return Java1_1 }
func (c Long) String() string { return fmt.Sprintf("long %d", int64(c)) }

// Double is a 64-bit float constant. It occupies two pool slots.
type Double float64

func (c Double) Tag() uint8     { return TagDouble }
func (c Double) Wide() bool     { return true }
func (c Double) Since() Version { return Java1_1 }
func (c Double) String() string { return fmt.Sprintf("double %g", float64(c)) }

// Class is a class or interface reference. The name is in internal form
// ("java/lang/Object"); array classes use descriptor form ("[I").
type Class struct {
	Name UTF8
}

func (c Class) Tag() uint8     { return TagClass }
func (c Class) Wide() bool     { return false }
func (c Class) Since() Version { return Java1_1 }
func (c Class) String() string { return fmt.Sprintf("class %s", string(c.Name)) }

// String is a java.lang.String constant.
type String struct {
	Value UTF8
}

func (c String) Tag() uint8     { return TagString }
func (c String) Wide() bool     { return false }
func (c String) Since() Version { return Java1_1 }
func (c String) String() string { return fmt.Sprintf("string %q", string(c.Value)) }

// NameAndType pairs a member name with its descriptor.
type NameAndType struct {
	Name       UTF8
	Descriptor UTF8
}

func (c NameAndType) Tag() uint8     { return TagNameAndType }
func (c NameAndType) Wide() bool     { return false }
func (c NameAndType) Since() Version { return Java1_1 }
func (c NameAndType) String() string {
	return fmt.Sprintf("%s:%s", string(c.Name), string(c.Descriptor))
}

// FieldRef is a field reference.
type FieldRef struct {
	Class       Class
	NameAndType NameAndType
}

func (c FieldRef) Tag() uint8     { return TagFieldRef }
func (c FieldRef) Wide() bool     { return false }
func (c FieldRef) Since() Version { return Java1_1 }
func (c FieldRef) String() string {
	return fmt.Sprintf("field %s.%s", string(c.Class.Name), c.NameAndType)
}

// MethodRef is a class method reference.
type MethodRef struct {
	Class       Class
	NameAndType NameAndType
}

func (c MethodRef) Tag() uint8     { return TagMethodRef }
func (c MethodRef) Wide() bool     { return false }
func (c MethodRef) Since() Version { return Java1_1 }
func (c MethodRef) String() string {
	return fmt.Sprintf("method %s.%s", string(c.Class.Name), c.NameAndType)
}

// InterfaceMethodRef is an interface method reference.
type InterfaceMethodRef struct {
	Class       Class
	NameAndType NameAndType
}

func (c InterfaceMethodRef) Tag() uint8     { return TagInterfaceMethodRef }
func (c InterfaceMethodRef) Wide() bool     { return false }
func (c InterfaceMethodRef) Since() Version { return Java1_1 }
func (c InterfaceMethodRef) String() string {
	return fmt.Sprintf("interface method %s.%s", string(c.Class.Name), c.NameAndType)
}

// Method handle reference kinds.
const (
	RefGetField         uint8 = 1
	RefGetStatic        uint8 = 2
	RefPutField         uint8 = 3
	RefPutStatic        uint8 = 4
	RefInvokeVirtual    uint8 = 5
	RefInvokeStatic     uint8 = 6
	RefInvokeSpecial    uint8 = 7
	RefNewInvokeSpecial uint8 = 8
	RefInvokeInterface  uint8 = 9
)

// MethodHandle is a method handle constant. Kind is one of the Ref*
// constants and Ref is the field or method reference it resolves through.
type MethodHandle struct {
	Ref  Constant
	Kind uint8
}

func (c MethodHandle) Tag() uint8     { return TagMethodHandle }
func (c MethodHandle) Wide() bool     { return false }
func (c MethodHandle) Since() Version { return Java7 }
func (c MethodHandle) String() string {
	return fmt.Sprintf("method handle kind=%d %s", c.Kind, c.Ref)
}

// MethodType is a method type constant.
type MethodType struct {
	Descriptor UTF8
}

func (c MethodType) Tag() uint8     { return TagMethodType }
func (c MethodType) Wide() bool     { return false }
func (c MethodType) Since() Version { return Java7 }
func (c MethodType) String() string { return fmt.Sprintf("method type %s", string(c.Descriptor)) }

// Dynamic is a dynamically-computed constant.
type Dynamic struct {
	NameAndType    NameAndType
	BootstrapIndex uint16
}

func (c Dynamic) Tag() uint8     { return TagDynamic }
func (c Dynamic) Wide() bool     { return false }
func (c Dynamic) Since() Version { return Java11 }
func (c Dynamic) String() string {
	return fmt.Sprintf("dynamic bsm=%d %s", c.BootstrapIndex, c.NameAndType)
}

// InvokeDynamic is a dynamically-computed call site.
type InvokeDynamic struct {
	NameAndType    NameAndType
	BootstrapIndex uint16
}

func (c InvokeDynamic) Tag() uint8     { return TagInvokeDynamic }
func (c InvokeDynamic) Wide() bool     { return false }
func (c InvokeDynamic) Since() Version { return Java7 }
func (c InvokeDynamic) String() string {
	return fmt.Sprintf("invoke dynamic bsm=%d %s", c.BootstrapIndex, c.NameAndType)
}

// Module is a module name constant.
type Module struct {
	Name UTF8
}

func (c Module) Tag() uint8     { return TagModule }
func (c Module) Wide() bool     { return false }
func (c Module) Since() Version { return Java9 }
func (c Module) String() string { return fmt.Sprintf("module %s", string(c.Name)) }

// Package is a package name constant.
type Package struct {
	Name UTF8
}

func (c Package) Tag() uint8     { return TagPackage }
func (c Package) Wide() bool     { return false }
func (c Package) Since() Version { return Java9 }
func (c Package) String() string { return fmt.Sprintf("package %s", string(c.Name)) }

// Index is an inhabited placeholder for a slot that is unresolved or an
// intentionally-invalid reference. Adding it to a pool is a no-op that
// returns the index itself.
type Index uint16

func (c Index) Tag() uint8     { return 0 }
func (c Index) Wide() bool     { return false }
func (c Index) Since() Version { return Java1_1 }
func (c Index) String() string { return fmt.Sprintf("index %d", uint16(c)) }
