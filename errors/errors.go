package errors

import (
	"fmt"
	"strings"
)

// Kind categorizes the error
type Kind string

const (
	// Constant pool / codec.
	KindUnknownTag           Kind = "unknown_tag"
	KindConstantNotSupported Kind = "constant_not_supported"
	KindRecursiveConstant    Kind = "recursive_constant"
	KindIOShort              Kind = "io_short"

	// Frame calculus.
	KindInvalidType         Kind = "invalid_type"
	KindInvalidTypeCategory Kind = "invalid_type_category"
	KindStackUnderflow      Kind = "stack_underflow"
	KindUnknownLocal        Kind = "unknown_local"

	// Structural CFG errors.
	KindInvalidBlock Kind = "invalid_block"
	KindInvalidEdge  Kind = "invalid_edge"

	// Frame merging at control-flow joins.
	KindInvalidStackMerge  Kind = "invalid_stack_merge"
	KindInvalidLocalsMerge Kind = "invalid_locals_merge"
)

// Source describes where an error originated: a block, an edge, an
// instruction within a block, or nothing at all.
type Source interface {
	SourceName() string
}

// InstructionInBlock pins an error to a specific instruction inside a block.
type InstructionInBlock struct {
	Block int
	Index int
	Insn  fmt.Stringer
}

func (s InstructionInBlock) SourceName() string {
	if s.Insn != nil {
		return fmt.Sprintf("block %d [%d] %s", s.Block, s.Index, s.Insn)
	}
	return fmt.Sprintf("block %d [%d]", s.Block, s.Index)
}

// Error is the structured error type used throughout jawa.
type Error struct {
	Source Source
	Cause  error
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Kind))

	if e.Source != nil {
		b.WriteString(" at ")
		b.WriteString(e.Source.SourceName())
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error with a formatted detail message.
func New(kind Kind, source Source, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Source: source, Detail: detail}
}

// Wrap wraps an existing error with additional context.
func Wrap(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Convenience constructors for common error patterns

// UnknownTag creates an error for an unrecognized constant pool tag.
func UnknownTag(tag uint8, index uint16) *Error {
	return New(KindUnknownTag, nil, "unknown constant tag %d at pool index %d", tag, index)
}

// ConstantNotSupported creates an error for a constant newer than the class
// file version.
func ConstantNotSupported(what string, index uint16) *Error {
	return New(KindConstantNotSupported, nil, "constant %s at pool index %d not supported by class file version", what, index)
}

// RecursiveConstant creates an error for a constant that references itself.
func RecursiveConstant(index uint16) *Error {
	return New(KindRecursiveConstant, nil, "constant at pool index %d references itself", index)
}

// IOShort creates an error for a truncated buffer.
func IOShort(expected, actual int, cause error) *Error {
	return &Error{
		Kind:   KindIOShort,
		Detail: fmt.Sprintf("expected %d byte(s), have %d", expected, actual),
		Cause:  cause,
	}
}

// StackUnderflow creates an error for popping from an empty or too-short stack.
func StackUnderflow(source Source, depth int) *Error {
	return New(KindStackUnderflow, source, "stack underflow by %d slot(s)", depth)
}

// UnknownLocal creates an error for reading an unset local variable.
func UnknownLocal(source Source, index int) *Error {
	return New(KindUnknownLocal, source, "local %d is not set", index)
}

// InvalidType creates a type mismatch error.
func InvalidType(source Source, expected, actual fmt.Stringer) *Error {
	return New(KindInvalidType, source, "expected type %s, got %s", expected, actual)
}

// InvalidTypeCategory creates an error for a category-2 value split or
// mismatched category.
func InvalidTypeCategory(source Source, detail string) *Error {
	return New(KindInvalidTypeCategory, source, "%s", detail)
}

// InvalidBlock creates a structural block error.
func InvalidBlock(source Source, format string, args ...any) *Error {
	return New(KindInvalidBlock, source, format, args...)
}

// InvalidEdge creates a structural edge error.
func InvalidEdge(source Source, format string, args ...any) *Error {
	return New(KindInvalidEdge, source, format, args...)
}

// InvalidStackMerge creates an error for incompatible stacks at a join point.
func InvalidStackMerge(source Source, format string, args ...any) *Error {
	return New(KindInvalidStackMerge, source, format, args...)
}

// InvalidLocalsMerge creates an error for incompatible locals at a join point.
func InvalidLocalsMerge(source Source, format string, args ...any) *Error {
	return New(KindInvalidLocalsMerge, source, format, args...)
}
