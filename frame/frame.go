package frame

import (
	"sort"

	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/types"
)

// Frame is the abstract-interpretation state at one execution point: an
// operand stack (top last), a sparse locals map, running maxima, and the
// append-only local access log the liveness analysis is derived from.
//
// A category-2 value occupies two slots; the slot above it on the stack and
// the local after it hold a top sentinel so that lengths reflect slot counts.
type Frame struct {
	Verifier *jerrors.Verifier

	Stack    []*Entry
	Locals   map[int]*Entry
	Accesses []LocalAccess
	Consumed map[*Entry]struct{}
	Deltas   []*Delta

	MaxStack  int
	MaxLocals int

	source jerrors.Source
	cur    *Delta
	nextID *int
}

// New creates an empty frame reporting through v.
func New(v *jerrors.Verifier) *Frame {
	id := 0
	return &Frame{
		Verifier: v,
		Locals:   make(map[int]*Entry),
		Consumed: make(map[*Entry]struct{}),
		nextID:   &id,
	}
}

// Method identifies a method being analyzed.
type Method struct {
	Class      string
	Name       string
	Descriptor string
	Static     bool
}

// Initial builds the frame at method entry: the receiver at local 0 (an
// uninitializedThis for a constructor) and parameters laid out by category.
func Initial(m Method, v *jerrors.Verifier) (*Frame, error) {
	f := New(v)
	f.source = ReceiverSource{}

	index := 0
	if !m.Static {
		receiver := types.Object(m.Class)
		if m.Name == "<init>" {
			receiver = types.UninitializedThis(m.Class)
		}
		f.Locals[0] = f.newEntry(receiver, nil)
		index = 1
	}

	params, _, _, err := types.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	for i, param := range params {
		f.source = ParamSource(i)
		entry := f.newEntry(param.Widened(), nil)
		f.Locals[index] = entry
		if param.Wide() {
			f.Locals[index+1] = f.newEntry(types.Top, nil)
			index += 2
		} else {
			index++
		}
	}

	f.MaxLocals = index
	f.source = nil
	return f, nil
}

// SetSource sets the provenance attached to entries and errors produced by
// subsequent operations.
func (f *Frame) SetSource(source jerrors.Source) {
	f.source = source
}

// Source returns the current provenance.
func (f *Frame) Source() jerrors.Source {
	return f.source
}

func (f *Frame) newEntry(t types.Type, value classfile.Constant) *Entry {
	*f.nextID++
	return &Entry{ID: *f.nextID, Source: f.source, Type: t, Value: value}
}

// NewEntry creates an entry of the given type with the current source.
func (f *Frame) NewEntry(t types.Type, value classfile.Constant) *Entry {
	return f.newEntry(t, value)
}

// Start begins recording a delta for the given source.
func (f *Frame) Start(source jerrors.Source) {
	f.source = source
	f.cur = &Delta{Source: source}
}

// Finish ends the current delta recording session and appends the delta.
func (f *Frame) Finish() *Delta {
	delta := f.cur
	if delta != nil {
		f.Deltas = append(f.Deltas, delta)
	}
	f.cur = nil
	return delta
}

// Push pushes a new entry of the given type, with an optional literal value.
// Narrow integer types widen to int; wide types append a top sentinel.
func (f *Frame) Push(t types.Type, value classfile.Constant) *Entry {
	entry := f.newEntry(t.Widened(), value)
	f.pushEntry(entry, t.Wide())
	return entry
}

// PushEntry pushes an existing entry (a local load, a dup).
func (f *Frame) PushEntry(entry *Entry) {
	f.pushEntry(entry, entry.Type.Wide())
}

func (f *Frame) pushEntry(entry *Entry, wide bool) {
	f.Stack = append(f.Stack, entry)
	if f.cur != nil {
		f.cur.Pushes = append(f.cur.Pushes, entry)
	}
	if wide {
		f.Stack = append(f.Stack, f.newEntry(types.Top, nil))
	}
	if len(f.Stack) > f.MaxStack {
		f.MaxStack = len(f.Stack)
	}
}

func (f *Frame) rawPop() *Entry {
	if len(f.Stack) == 0 {
		f.Verifier.Report(jerrors.StackUnderflow(f.source, 1))
		return f.newEntry(types.Top, nil)
	}
	entry := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	if f.cur != nil {
		f.cur.Pops = append(f.cur.Pops, entry)
	}
	f.Consumed[entry] = struct{}{}
	return entry
}

// Pop pops one value, type-checking it against expect. A mismatch reports
// and substitutes a cast entry of the merged type; an underflow reports and
// synthesizes top.
func (f *Frame) Pop(expect types.Type) *Entry {
	if expect.Wide() {
		f.rawPop() // the sentinel slot
		value := f.rawPop()
		return f.checked(value, expect)
	}

	value := f.rawPop()
	if value.Type.Wide() {
		f.Verifier.Report(jerrors.InvalidTypeCategory(f.source, "popped half of a category-2 value"))
	}
	return f.checked(value, expect)
}

func (f *Frame) checked(value *Entry, expect types.Type) *Entry {
	if expect.Mergeable(value.Type) {
		return value
	}
	f.Verifier.Report(jerrors.InvalidType(f.source, expect, value.Type))
	cast := f.newEntry(expect.Merge(value.Type), nil)
	cast.Parent = value
	return cast
}

// PopAny pops one slot without a type expectation (pop, monitorexit).
func (f *Frame) PopAny() *Entry {
	return f.rawPop()
}

// splits reports whether cutting the stack depth slots below the top would
// split a category-2 value and its sentinel.
func (f *Frame) splits(depth int) bool {
	cut := len(f.Stack) - depth
	if cut <= 0 || cut >= len(f.Stack) {
		return false
	}
	return f.Stack[cut-1].Type.Wide()
}

// DupX duplicates the top count slots and inserts the copy below depth
// additional slots. dup is DupX(1, 0), dup2_x1 is DupX(2, 1) and so on.
func (f *Frame) DupX(count, depth int) {
	need := count + depth
	if len(f.Stack) < need {
		f.Verifier.Report(jerrors.StackUnderflow(f.source, need-len(f.Stack)))
		for len(f.Stack) < need {
			f.Stack = append([]*Entry{f.newEntry(types.Top, nil)}, f.Stack...)
		}
	}
	if f.splits(count) || f.splits(need) {
		f.Verifier.Report(jerrors.InvalidTypeCategory(f.source, "duplication splits a category-2 value"))
	}

	top := make([]*Entry, count)
	copy(top, f.Stack[len(f.Stack)-count:])
	if f.cur != nil {
		f.cur.Dups = append(f.cur.Dups, top...)
	}

	insert := len(f.Stack) - need
	rest := make([]*Entry, 0, len(f.Stack)+count)
	rest = append(rest, f.Stack[:insert]...)
	rest = append(rest, top...)
	rest = append(rest, f.Stack[insert:]...)
	f.Stack = rest

	if len(f.Stack) > f.MaxStack {
		f.MaxStack = len(f.Stack)
	}
}

// Swap exchanges the top two category-1 values.
func (f *Frame) Swap() {
	if len(f.Stack) < 2 {
		f.Verifier.Report(jerrors.StackUnderflow(f.source, 2-len(f.Stack)))
		for len(f.Stack) < 2 {
			f.Stack = append([]*Entry{f.newEntry(types.Top, nil)}, f.Stack...)
		}
	}
	if f.splits(1) || f.splits(2) {
		f.Verifier.Report(jerrors.InvalidTypeCategory(f.source, "swap splits a category-2 value"))
	}
	last := len(f.Stack) - 1
	f.Stack[last], f.Stack[last-1] = f.Stack[last-1], f.Stack[last]
	if f.cur != nil {
		f.cur.Swapped = true
	}
}

// Get reads a local variable, recording the access. An unknown local
// reports and synthesizes top.
func (f *Frame) Get(index int, expect types.Type) *Entry {
	entry, ok := f.Locals[index]
	if !ok {
		f.Verifier.Report(jerrors.UnknownLocal(f.source, index))
		entry = f.newEntry(types.Top, nil)
	}
	f.Accesses = append(f.Accesses, LocalAccess{Read: true, Index: index, Entry: entry})
	return f.checked(entry, expect)
}

// Set writes a local variable, recording the access. Wide values reserve a
// top sentinel at index+1, and overwriting the upper half of a wide value
// invalidates the lower half.
func (f *Frame) Set(index int, entry *Entry) {
	old := f.Locals[index]
	f.Accesses = append(f.Accesses, LocalAccess{Read: false, Index: index, Entry: entry})
	if f.cur != nil {
		f.cur.Overwrites = append(f.cur.Overwrites, Overwrite{Index: index, Old: old, New: entry})
	}
	if old != nil {
		f.Consumed[old] = struct{}{}
	}

	if prev, ok := f.Locals[index-1]; ok && prev.Type.Wide() {
		f.Locals[index-1] = f.newEntry(types.Top, nil)
	}

	f.Locals[index] = entry
	size := 1
	if entry.Type.Wide() {
		f.Locals[index+1] = f.newEntry(types.Top, nil)
		size = 2
	}
	if index+size > f.MaxLocals {
		f.MaxLocals = index + size
	}
}

// Replace structurally replaces every occurrence of old in the stack and
// locals with a new entry of the given type whose parent is old. This is
// how an uninitialized value becomes initialized after its constructor runs.
func (f *Frame) Replace(old *Entry, t types.Type) *Entry {
	replacement := f.newEntry(t, old.Value)
	replacement.Parent = old

	for i, entry := range f.Stack {
		if entry == old {
			f.Stack[i] = replacement
		}
	}
	for i, entry := range f.Locals {
		if entry == old {
			f.Locals[i] = replacement
		}
	}
	return replacement
}

// Copy clones the frame. Both copies preserve entry identity and clone the
// consumed set. A shallow copy starts a fresh access log and delta list; a
// deep copy also clones the log and the deltas.
func (f *Frame) Copy(deep bool) *Frame {
	clone := &Frame{
		Verifier:  f.Verifier,
		Stack:     append([]*Entry(nil), f.Stack...),
		Locals:    make(map[int]*Entry, len(f.Locals)),
		Consumed:  make(map[*Entry]struct{}, len(f.Consumed)),
		MaxStack:  f.MaxStack,
		MaxLocals: f.MaxLocals,
		source:    f.source,
		nextID:    f.nextID,
	}
	for i, entry := range f.Locals {
		clone.Locals[i] = entry
	}
	for entry := range f.Consumed {
		clone.Consumed[entry] = struct{}{}
	}
	if deep {
		clone.Accesses = append([]LocalAccess(nil), f.Accesses...)
		clone.Deltas = append([]*Delta(nil), f.Deltas...)
	}
	return clone
}

// LocalIndices returns the occupied local indices in ascending order.
func (f *Frame) LocalIndices() []int {
	indices := make([]int, 0, len(f.Locals))
	for i := range f.Locals {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// ClearStack empties the operand stack (entering an exception handler).
func (f *Frame) ClearStack() {
	for _, entry := range f.Stack {
		f.Consumed[entry] = struct{}{}
	}
	f.Stack = f.Stack[:0]
}
