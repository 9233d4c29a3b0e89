// Package gc implements the tracing collector that owns every runtime heap
// object: strings, arrays, structs and function objects.
//
// The heap is a slot arena. Each allocation claims a free slot (or appends a
// new one), a parallel bitset holds the mark bits, and sweeping returns every
// unmarked slot to the free list. Collection is whole-heap, stop-the-world and
// runs synchronously on the allocating call path once the live count reaches
// the current threshold.
//
// Reachability starts from the registered root sources (see RootSet) plus any
// pinned objects, and follows Object.Trace transitively.
package gc

import (
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
)

// ErrHeapExhausted is the panic value raised when Config.MaxObjects cannot be
// honoured even after a full collection.
var ErrHeapExhausted = errors.New("gc: heap exhausted")

var log = commonlog.GetLogger("druk.gc")

// Stats summarises the heap's collection history.
type Stats struct {
	Collections uint64
	Freed       uint64
	Live        int
	Threshold   int
	LastPause   time.Duration
}

// Heap owns collectable objects.
type Heap struct {
	cfg Config

	slots []Object
	gens  []uint32
	free  []uint32
	marks bitset

	live      int
	threshold int

	roots RootSet
	pins  map[Object]int

	collecting bool
	stats      Stats
}

// NewHeap returns an empty heap using cfg. Zero fields in cfg take defaults.
func NewHeap(cfg Config) *Heap {
	cfg = cfg.normalized()
	return &Heap{
		cfg:       cfg,
		threshold: cfg.InitialThreshold,
		pins:      make(map[Object]int),
	}
}

// Alloc places obj in the heap and returns it. It may run a collection
// first, so anything the caller still needs must already be reachable from a
// root.
func Alloc[T Object](h *Heap, obj T) T {
	h.place(obj)
	return obj
}

func (h *Heap) place(obj Object) {
	hdr := obj.gcHeader()
	if hdr.heap != nil {
		panic(fmt.Sprintf("gc: %s object allocated twice", obj.Kind()))
	}
	if h.collecting {
		panic("gc: allocation during collection")
	}

	collected := h.maybeCollect()
	if h.cfg.MaxObjects > 0 && h.live >= h.cfg.MaxObjects {
		if !collected {
			h.Collect()
		}
		if h.live >= h.cfg.MaxObjects {
			panic(fmt.Errorf("%w: %d live objects (max %d)", ErrHeapExhausted, h.live, h.cfg.MaxObjects))
		}
	}

	var slot uint32
	if n := len(h.free); n > 0 {
		slot = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		slot = uint32(len(h.slots))
		h.slots = append(h.slots, nil)
		h.gens = append(h.gens, 0)
		h.marks.grow(len(h.slots))
	}

	h.gens[slot]++
	hdr.heap = h
	hdr.slot = slot
	hdr.gen = h.gens[slot]
	h.slots[slot] = obj
	h.live++
}

// maybeCollect collects when the live count has reached the threshold and
// reports whether it did.
func (h *Heap) maybeCollect() bool {
	if h.live < h.threshold {
		return false
	}
	h.Collect()
	return true
}

// Collect runs a full mark-sweep cycle and returns the updated stats.
func (h *Heap) Collect() Stats {
	start := time.Now()
	before := h.live

	h.collecting = true
	h.markPhase()
	h.sweepPhase()
	h.collecting = false

	freed := before - h.live
	h.threshold = h.cfg.nextThreshold(h.live)

	h.stats.Collections++
	h.stats.Freed += uint64(freed)
	h.stats.LastPause = time.Since(start)

	log.Debugf("collected %d objects, %d remaining, next threshold %d", freed, h.live, h.threshold)
	return h.Stats()
}

func (h *Heap) markPhase() {
	m := &Marker{heap: h}
	h.roots.traceAll(m)
	for o := range h.pins {
		m.Mark(o)
	}
	m.drain()
}

func (h *Heap) sweepPhase() {
	alive := 0
	for i, obj := range h.slots {
		if obj == nil {
			continue
		}
		slot := uint32(i)
		if h.marks.test(slot) {
			alive++
			continue
		}
		obj.gcHeader().freed = true
		h.slots[i] = nil
		h.free = append(h.free, slot)
	}
	h.marks.reset()
	h.live = alive
}

// Roots returns the heap's root registry.
func (h *Heap) Roots() *RootSet {
	return &h.roots
}

// Pin keeps o alive until a matching Unpin. Pins nest.
func (h *Heap) Pin(o Object) {
	if o.gcHeader().heap != h {
		panic(fmt.Sprintf("gc: pinning %s object from another heap", o.Kind()))
	}
	h.pins[o]++
}

// Unpin releases one Pin of o.
func (h *Heap) Unpin(o Object) {
	n, ok := h.pins[o]
	if !ok {
		return
	}
	if n <= 1 {
		delete(h.pins, o)
		return
	}
	h.pins[o] = n - 1
}

// Pinned reports whether o currently holds at least one pin.
func (h *Heap) Pinned(o Object) bool {
	return h.pins[o] > 0
}

// Lookup resolves a slot/generation handle to its object. It fails for
// handles whose object has since been collected.
func (h *Heap) Lookup(slot, gen uint32) (Object, bool) {
	if int(slot) >= len(h.slots) {
		return nil, false
	}
	obj := h.slots[slot]
	if obj == nil || h.gens[slot] != gen {
		return nil, false
	}
	return obj, true
}

// Live returns the number of objects currently owned by the heap.
func (h *Heap) Live() int {
	return h.live
}

// Threshold returns the live count that triggers the next collection.
func (h *Heap) Threshold() int {
	return h.threshold
}

// Stats returns cumulative collection statistics.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.Live = h.live
	s.Threshold = h.threshold
	return s
}
