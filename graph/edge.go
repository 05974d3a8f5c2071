package graph

import (
	"fmt"
	"strings"

	"github.com/jawatools/jawa/insns"
)

// Kind is the control-flow transfer type of an edge.
type Kind uint8

const (
	KindFallthrough Kind = iota
	KindJump
	KindJsrJump
	KindJsrFallthrough
	KindRet
	KindSwitch
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindFallthrough:
		return "fallthrough"
	case KindJump:
		return "jump"
	case KindJsrJump:
		return "jsr jump"
	case KindJsrFallthrough:
		return "jsr fallthrough"
	case KindRet:
		return "ret"
	case KindSwitch:
		return "switch"
	case KindException:
		return "exception"
	default:
		return "invalid"
	}
}

// Limit returns the maximum number of parallel edges of this kind leaving
// one block, or -1 when unbounded.
func (k Kind) Limit() int {
	switch k {
	case KindSwitch, KindException:
		return -1
	default:
		return 1
	}
}

// Edge is a typed control-flow transfer between two blocks, named by label.
//
// Insn is the jump or switch instruction that creates the edge, when there
// is one. Value is the switch case key (nil for the default case).
// Throwable, Priority and InlineCoverage apply to exception edges: the
// caught class (empty means java/lang/Throwable), the handler table order,
// and whether the covered range extends over inlined targets.
type Edge struct {
	Insn           *insns.Instruction
	Value          *int32
	Throwable      string
	From           int
	To             int
	Priority       int
	Kind           Kind
	InlineCoverage bool
}

// Opaque reports whether the edge's target is not yet resolved.
func (e *Edge) Opaque() bool {
	return e.To == NoTarget
}

// ThrowableName returns the caught class of an exception edge, defaulting
// to java/lang/Throwable.
func (e *Edge) ThrowableName() string {
	if e.Throwable == "" {
		return "java/lang/Throwable"
	}
	return e.Throwable
}

func blockName(label int) string {
	switch label {
	case ReturnLabel:
		return "return"
	case RethrowLabel:
		return "rethrow"
	case NoTarget:
		return "?"
	default:
		return fmt.Sprintf("block %d", label)
	}
}

func (e *Edge) SourceName() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" edge ")
	b.WriteString(blockName(e.From))
	b.WriteString(" -> ")
	b.WriteString(blockName(e.To))
	if e.Kind == KindSwitch {
		if e.Value == nil {
			b.WriteString(" (default)")
		} else {
			fmt.Fprintf(&b, " (case %d)", *e.Value)
		}
	}
	return b.String()
}

func (e *Edge) String() string {
	return e.SourceName()
}
