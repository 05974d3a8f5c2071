package errors

import (
	"fmt"
	"strings"
)

// Verifier accumulates errors during disassembly, tracing and assembly.
// A single failure does not invalidate other diagnostics; callers inspect
// the collected list after the pass completes.
//
// The zero value is ready to use.
type Verifier struct {
	errs []*Error
}

// Report appends an error to the log. Nil errors are ignored.
func (v *Verifier) Report(err *Error) {
	if err != nil {
		v.errs = append(v.errs, err)
	}
}

// Reportf constructs and appends an error in one call.
func (v *Verifier) Reportf(kind Kind, source Source, format string, args ...any) {
	v.errs = append(v.errs, New(kind, source, format, args...))
}

// Errors returns a copy of the collected errors in report order.
func (v *Verifier) Errors() []*Error {
	out := make([]*Error, len(v.errs))
	copy(out, v.errs)
	return out
}

// Len returns the number of collected errors.
func (v *Verifier) Len() int {
	return len(v.errs)
}

// HasKind reports whether any collected error has the given kind.
func (v *Verifier) HasKind(kind Kind) bool {
	for _, err := range v.errs {
		if err.Kind == kind {
			return true
		}
	}
	return false
}

// Raise returns a composite error if any errors were collected, nil otherwise.
func (v *Verifier) Raise() error {
	if len(v.errs) == 0 {
		return nil
	}
	return &VerifyError{Errors: v.Errors()}
}

// VerifyError is the composite failure raised after a pass with a non-empty
// error log.
type VerifyError struct {
	Errors []*Error
}

func (e *VerifyError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d verification error(s):", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *VerifyError) Is(target error) bool {
	_, ok := target.(*VerifyError)
	return ok
}
