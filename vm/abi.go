package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/druk/gc"
)

// ErrStaleHandle is returned by Unpack for a heap reference whose object has
// been collected or does not have the tagged type.
var ErrStaleHandle = errors.New("stale heap handle")

// PackedValue is the fixed 24-byte layout native code uses to exchange
// values with the VM: a one-byte type tag, seven bytes of padding, an 8-byte
// payload and an 8-byte extra word.
//
// Scalars travel in Data. Heap references travel as a slot/generation
// handle (slot in Data, generation in Extra) so native code never holds a
// pointer the collector cannot see.
type PackedValue struct {
	Tag   uint8
	_     [7]byte
	Data  uint64
	Extra int64
}

// Pack converts v to its packed form.
func Pack(v Value) PackedValue {
	if v == nil {
		return PackedValue{Tag: uint8(TypeNil)}
	}
	p := PackedValue{Tag: uint8(v.Type())}
	switch x := v.(type) {
	case Nil:
	case Int:
		p.Data = uint64(x)
	case Bool:
		if x {
			p.Data = 1
		}
	case RawFunction:
		p.Data = uint64(x)
	case gc.Object:
		slot, gen := gc.HandleOf(x)
		p.Data = uint64(slot)
		p.Extra = int64(gen)
	}
	return p
}

// Unpack converts p back to a Value, resolving heap handles against h.
func Unpack(h *gc.Heap, p PackedValue) (Value, error) {
	switch Type(p.Tag) {
	case TypeNil:
		return Nil{}, nil
	case TypeInt:
		return Int(int64(p.Data)), nil
	case TypeBool:
		return Bool(p.Data != 0), nil
	case TypeRawFunction:
		return RawFunction(uintptr(p.Data)), nil
	case TypeString, TypeArray, TypeStruct, TypeFunction:
		obj, ok := h.Lookup(uint32(p.Data), uint32(p.Extra))
		if !ok {
			return nil, fmt.Errorf("%w: %s slot %d generation %d", ErrStaleHandle, Type(p.Tag), p.Data, p.Extra)
		}
		v, ok := obj.(Value)
		if !ok || v.Type() != Type(p.Tag) {
			return nil, fmt.Errorf("%w: slot %d holds %s, want %s", ErrStaleHandle, p.Data, obj.Kind(), Type(p.Tag))
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value tag %d", p.Tag)
	}
}
