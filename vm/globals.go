package vm

import "github.com/chazu/druk/gc"

// globals is the VM-wide name -> value table.
//
// Values live in a slice addressed through an index map so a cached slot
// stays valid while the table grows. Every mutation bumps version; the
// single-entry cache is consulted only while its recorded version is
// current, so it can never observe a stale binding.
type globals struct {
	index   map[string]int
	names   []string
	values  []Value
	version uint64
	cache   globalCache
}

type globalCache struct {
	name    string
	slot    int
	version uint64
	valid   bool
}

func newGlobals() *globals {
	return &globals{index: make(map[string]int)}
}

// resolve returns the slot bound to name.
func (g *globals) resolve(name string) (int, bool) {
	if c := &g.cache; c.valid && c.version == g.version && c.name == name {
		return c.slot, true
	}
	slot, ok := g.index[name]
	if !ok {
		return 0, false
	}
	g.remember(name, slot)
	return slot, true
}

func (g *globals) remember(name string, slot int) {
	g.cache = globalCache{name: name, slot: slot, version: g.version, valid: true}
}

func (g *globals) get(name string) (Value, bool) {
	slot, ok := g.resolve(name)
	if !ok {
		return nil, false
	}
	return g.values[slot], true
}

// set assigns an existing global. It reports false when name is unbound.
func (g *globals) set(name string, v Value) bool {
	slot, ok := g.resolve(name)
	if !ok {
		return false
	}
	g.values[slot] = v
	g.version++
	g.remember(name, slot)
	return true
}

// define inserts or overwrites name.
func (g *globals) define(name string, v Value) {
	slot, ok := g.index[name]
	if ok {
		g.values[slot] = v
	} else {
		slot = len(g.values)
		g.index[name] = slot
		g.names = append(g.names, name)
		g.values = append(g.values, v)
	}
	g.version++
	g.remember(name, slot)
}

// invalidate drops the cached slot.
func (g *globals) invalidate() {
	g.cache = globalCache{}
}

func (g *globals) len() int {
	return len(g.values)
}

func (g *globals) trace(m *gc.Marker) {
	for _, v := range g.values {
		markValue(m, v)
	}
}
