// Package graph implements the control-flow graph over JVM instructions:
// extended basic blocks connected by typed edges, and the disassembler that
// builds the graph from a Code attribute.
//
// Blocks live in an arena keyed by label and edges name blocks by label
// rather than holding pointers, so removing or rewriting a block cannot
// leave dangling references.
package graph

import (
	"fmt"

	"github.com/jawatools/jawa/insns"
)

// Reserved block labels.
const (
	EntryLabel   = 0
	ReturnLabel  = -1
	RethrowLabel = -2
)

// NoTarget marks an edge whose destination is not yet known (a ret before
// subroutine resolution).
const NoTarget = int(-1) << 31

// Block is an extended basic block: a maximal straight-line instruction
// sequence. The terminator, if any, lives on the block's outgoing edges.
//
// A block with Inline set may be replicated at each incoming call site
// during assembly instead of being reached by a jump; jsr fallthrough
// targets are always inline.
type Block struct {
	Insns  []*insns.Instruction
	Label  int
	Inline bool
}

// Add appends an instruction to the block.
func (b *Block) Add(in *insns.Instruction) {
	b.Insns = append(b.Insns, in)
}

func (b *Block) SourceName() string {
	switch b.Label {
	case ReturnLabel:
		return "return block"
	case RethrowLabel:
		return "rethrow block"
	default:
		return fmt.Sprintf("block %d", b.Label)
	}
}

func (b *Block) String() string {
	return b.SourceName()
}
