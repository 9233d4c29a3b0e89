package vm

import (
	"fmt"

	"github.com/chazu/druk/gc"
)

// Type is the runtime type tag of a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeInt
	TypeBool
	TypeString
	TypeFunction
	TypeArray
	TypeStruct
	TypeRawFunction
)

var typeNames = [...]string{
	TypeNil:         "nil",
	TypeInt:         "int",
	TypeBool:        "bool",
	TypeString:      "string",
	TypeFunction:    "function",
	TypeArray:       "array",
	TypeStruct:      "struct",
	TypeRawFunction: "native",
}

// String returns the name TypeOf reports for the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Value is any runtime value. The variants are:
//
//	Nil, Int, Bool      inline scalars
//	*GcString           heap string
//	*GcArray            heap array
//	*GcStruct           heap struct
//	*Function           heap function object
//	RawFunction         native code address, never dereferenced by the VM
//
// The heap variants are gc.Objects themselves, so a Value never owns heap
// memory: it is a non-owning reference the collector may reclaim once no root
// reaches it.
type Value interface {
	Type() Type
	value()
}

// Nil is the absent value.
type Nil struct{}

// Int is a 64-bit signed integer.
type Int int64

// Bool is a boolean.
type Bool bool

// RawFunction is the entry address of natively compiled code.
type RawFunction uintptr

func (Nil) Type() Type         { return TypeNil }
func (Int) Type() Type         { return TypeInt }
func (Bool) Type() Type        { return TypeBool }
func (RawFunction) Type() Type { return TypeRawFunction }

func (Nil) value()         {}
func (Int) value()         {}
func (Bool) value()        {}
func (RawFunction) value() {}

// markValue marks the heap object v refers to, if any. Every heap variant is
// a gc.Object, so no variant can be skipped here.
func markValue(m *gc.Marker, v Value) {
	if o, ok := v.(gc.Object); ok {
		m.Mark(o)
	}
}

// IsFalsey reports whether v counts as false in a conditional: only Nil and
// Bool(false) do. Int 0 and the empty string are truthy.
func IsFalsey(v Value) bool {
	switch x := v.(type) {
	case Nil:
		return true
	case Bool:
		return !bool(x)
	default:
		return false
	}
}

// Equal reports structural equality: scalars and strings compare by content,
// arrays, structs and functions by identity.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Nil:
		_, ok := b.(Nil)
		return ok
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case *GcString:
		y, ok := b.(*GcString)
		return ok && (x == y || x.Data == y.Data)
	case *GcArray:
		y, ok := b.(*GcArray)
		return ok && x == y
	case *GcStruct:
		y, ok := b.(*GcStruct)
		return ok && x == y
	case *Function:
		y, ok := b.(*Function)
		return ok && x == y
	case RawFunction:
		y, ok := b.(RawFunction)
		return ok && x == y
	default:
		return false
	}
}
