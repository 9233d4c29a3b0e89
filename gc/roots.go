package gc

// TraceFunc marks every object a root source keeps alive.
type TraceFunc func(m *Marker)

// RootID identifies a registered root source.
type RootID uint64

type rootSource struct {
	id    RootID
	name  string
	trace TraceFunc
}

// RootSet is the registry of root sources consulted by the mark phase.
type RootSet struct {
	next    RootID
	sources []rootSource
}

// Add registers a root source and returns the ID used to remove it.
func (r *RootSet) Add(name string, fn TraceFunc) RootID {
	r.next++
	r.sources = append(r.sources, rootSource{id: r.next, name: name, trace: fn})
	return r.next
}

// Remove unregisters a root source. It reports whether the ID was known.
func (r *RootSet) Remove(id RootID) bool {
	for i, src := range r.sources {
		if src.id == id {
			r.sources = append(r.sources[:i], r.sources[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered sources.
func (r *RootSet) Len() int {
	return len(r.sources)
}

// Names lists registered sources in registration order.
func (r *RootSet) Names() []string {
	names := make([]string, len(r.sources))
	for i, src := range r.sources {
		names[i] = src.name
	}
	return names
}

func (r *RootSet) traceAll(m *Marker) {
	for _, src := range r.sources {
		src.trace(m)
	}
}
