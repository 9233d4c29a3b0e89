package gc

import "fmt"

// Kind identifies the payload type of a heap object.
type Kind uint8

const (
	KindString Kind = iota
	KindArray
	KindStruct
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Header is the bookkeeping every heap object embeds. It records which slot
// of which heap owns the object. The zero Header belongs to no heap.
type Header struct {
	heap  *Heap
	slot  uint32
	gen   uint32
	freed bool
}

func (h *Header) gcHeader() *Header { return h }

// Live reports whether the object is currently owned by a heap. It turns
// false once a sweep reclaims the object.
func (h *Header) Live() bool {
	return h.heap != nil && !h.freed
}

// Handle returns the slot and generation identifying the object in its heap.
func (h *Header) Handle() (slot, gen uint32) {
	return h.slot, h.gen
}

// HandleOf returns the slot and generation of o. Together they resolve back
// to o through Heap.Lookup until o is collected.
func HandleOf(o Object) (slot, gen uint32) {
	return o.gcHeader().Handle()
}

// Object is a collectable payload. Implementations embed Header and report
// every object they reference through Trace.
type Object interface {
	Kind() Kind
	Trace(m *Marker)
	gcHeader() *Header
}

// Marker carries the mark phase. Objects handed to Mark are traced at most
// once per collection, so reference cycles terminate.
type Marker struct {
	heap *Heap
	gray []Object
}

// Mark flags o as reachable and schedules it for tracing.
func (m *Marker) Mark(o Object) {
	if o == nil {
		return
	}
	h := o.gcHeader()
	if h.heap != m.heap {
		panic(fmt.Sprintf("gc: %s object does not belong to this heap", o.Kind()))
	}
	if h.freed {
		panic(fmt.Sprintf("gc: reached collected %s object in slot %d", o.Kind(), h.slot))
	}
	if m.heap.marks.test(h.slot) {
		return
	}
	m.heap.marks.set(h.slot)
	m.gray = append(m.gray, o)
}

func (m *Marker) drain() {
	for len(m.gray) > 0 {
		n := len(m.gray) - 1
		o := m.gray[n]
		m.gray[n] = nil
		m.gray = m.gray[:n]
		o.Trace(m)
	}
}
