// Package frame implements the abstract-interpretation state: entries,
// the operand stack, local variables, access logs and frame deltas.
//
// Frame operations report failures through the verifier and synthesize top
// placeholders so that analysis can continue past broken code.
package frame

import (
	"fmt"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/types"
)

// Entry is a handle to one abstract value in a frame. Entries are born when
// an instruction pushes or stores, are replaced (never mutated in place)
// when an uninitialized value is initialized, and die implicitly when
// popped or overwritten.
type Entry struct {
	Source jerrors.Source
	Value  classfile.Constant // literal value, if known
	Parent *Entry             // cast chain: the entry this one was derived from
	Merges []*Entry           // entries merged into this one
	Type   types.Type
	ID     int
}

// Same reports whether two entries are interchangeable for constraint
// matching: types equal and, for returnAddress entries, sources equal so
// that distinct subroutine returns are never cross-merged.
func (e *Entry) Same(other *Entry) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	if e.Type != other.Type {
		return false
	}
	if e.Type.IsReturnAddress() {
		return e.Source == other.Source
	}
	return true
}

// Mergeable reports whether other can meet e at a join point.
func (e *Entry) Mergeable(other *Entry) bool {
	if e.Type.IsReturnAddress() && other.Type.IsReturnAddress() {
		return e.Source == other.Source
	}
	return e.Type.Mergeable(other.Type)
}

func (e *Entry) String() string {
	if e == nil {
		return "<nil entry>"
	}
	if e.Value != nil {
		return fmt.Sprintf("%s(%s)", e.Type, e.Value)
	}
	return e.Type.String()
}

// ParamSource marks an entry as originating from a method parameter.
type ParamSource int

func (s ParamSource) SourceName() string { return fmt.Sprintf("parameter %d", int(s)) }

// ReceiverSource marks an entry as the method receiver.
type ReceiverSource struct{}

func (ReceiverSource) SourceName() string { return "this" }

// LocalAccess is one append-only record of a local variable read or write.
type LocalAccess struct {
	Entry *Entry
	Index int
	Read  bool
}

// Overwrite records a local slot transition inside a delta.
type Overwrite struct {
	Old   *Entry
	New   *Entry
	Index int
}

// Delta records the effect of a single instruction on a frame.
type Delta struct {
	Source     jerrors.Source
	Pops       []*Entry
	Pushes     []*Entry
	Dups       []*Entry
	Overwrites []Overwrite
	Swapped    bool
}
