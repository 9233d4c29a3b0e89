package vm

import (
	"github.com/chazu/druk/gc"
)

// ---------------------------------------------------------------------------
// GcString
// ---------------------------------------------------------------------------

// GcString is an immutable heap string.
type GcString struct {
	gc.Header
	Data string
}

// NewString allocates a string on h.
func NewString(h *gc.Heap, s string) *GcString {
	return gc.Alloc(h, &GcString{Data: s})
}

func (*GcString) Kind() gc.Kind    { return gc.KindString }
func (*GcString) Trace(*gc.Marker) {}
func (*GcString) Type() Type       { return TypeString }
func (*GcString) value()           {}
func (s *GcString) String() string { return s.Data }

// ---------------------------------------------------------------------------
// GcArray
// ---------------------------------------------------------------------------

// GcArray is a growable array of values.
type GcArray struct {
	gc.Header
	Elements []Value
}

// NewArray allocates an array on h holding elems. The caller must keep every
// heap value in elems reachable until the call returns.
func NewArray(h *gc.Heap, elems ...Value) *GcArray {
	return gc.Alloc(h, &GcArray{Elements: elems})
}

func (*GcArray) Kind() gc.Kind { return gc.KindArray }
func (*GcArray) Type() Type    { return TypeArray }
func (*GcArray) value()        {}

func (a *GcArray) Trace(m *gc.Marker) {
	for _, v := range a.Elements {
		markValue(m, v)
	}
}

// Len returns the number of elements.
func (a *GcArray) Len() int {
	return len(a.Elements)
}

// ---------------------------------------------------------------------------
// GcStruct
// ---------------------------------------------------------------------------

// GcStruct maps field names to values. Fields iterate in insertion order.
type GcStruct struct {
	gc.Header
	index  map[string]int
	names  []string
	values []Value
}

// NewStruct allocates an empty struct on h.
func NewStruct(h *gc.Heap) *GcStruct {
	return gc.Alloc(h, &GcStruct{index: make(map[string]int)})
}

func (*GcStruct) Kind() gc.Kind { return gc.KindStruct }
func (*GcStruct) Type() Type    { return TypeStruct }
func (*GcStruct) value()        {}

func (s *GcStruct) Trace(m *gc.Marker) {
	for _, v := range s.values {
		markValue(m, v)
	}
}

// Get returns the named field.
func (s *GcStruct) Get(name string) (Value, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.values[i], true
}

// Set inserts or overwrites the named field.
func (s *GcStruct) Set(name string, v Value) {
	if i, ok := s.index[name]; ok {
		s.values[i] = v
		return
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	s.values = append(s.values, v)
}

// Has reports whether the struct defines name.
func (s *GcStruct) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of fields.
func (s *GcStruct) Len() int {
	return len(s.names)
}

// Names returns field names in insertion order. The slice is shared.
func (s *GcStruct) Names() []string {
	return s.names
}

// Values returns field values in insertion order. The slice is shared.
func (s *GcStruct) Values() []Value {
	return s.values
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is a compiled function: a name, an arity and the chunk holding its
// bytecode. It is immutable once constructed. There are no closures; a
// function sees only its own frame's locals and the globals.
type Function struct {
	gc.Header
	Name  string
	Arity int
	Chunk *Chunk

	verified bool
}

// NewFunction allocates a function object on h. Heap constants in chunk must
// be reachable (or pinned) until the call returns.
func NewFunction(h *gc.Heap, name string, arity int, chunk *Chunk) *Function {
	if chunk == nil {
		chunk = NewChunk()
	}
	return gc.Alloc(h, &Function{Name: name, Arity: arity, Chunk: chunk})
}

func (*Function) Kind() gc.Kind { return gc.KindFunction }
func (*Function) Type() Type    { return TypeFunction }
func (*Function) value()        {}

// Trace marks the constant pool, which is where nested functions and string
// literals live.
func (f *Function) Trace(m *gc.Marker) {
	if f.Chunk == nil {
		return
	}
	for _, c := range f.Chunk.Constants {
		markValue(m, c)
	}
}

// DisplayName returns the name used in stack traces.
func (f *Function) DisplayName() string {
	if f.Name == "" {
		return "script"
	}
	return f.Name
}
