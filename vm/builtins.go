package vm

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf8"
)

// The helpers below implement the collection and builtin opcodes. Each one
// validates its operands while they are still on the stack, and allocates
// only while every value it still needs is reachable from the stack.

func (vm *VM) add() error {
	switch a := vm.peek(1).(type) {
	case Int:
		if b, ok := vm.peek(0).(Int); ok {
			vm.pop()
			vm.stack[vm.sp-1] = a + b
			return nil
		}
	case *GcString:
		if b, ok := vm.peek(0).(*GcString); ok {
			s := NewString(vm.heap, a.Data+b.Data)
			vm.pop()
			vm.stack[vm.sp-1] = s
			return nil
		}
	}
	return errors.New("Operands must be two numbers or two strings.")
}

// ---------------------------------------------------------------------------
// Arrays and structs
// ---------------------------------------------------------------------------

func (vm *VM) buildArray(count int) {
	base := vm.sp - count
	arr := NewArray(vm.heap, slices.Clone(vm.stack[base:vm.sp])...)
	clear(vm.stack[base:vm.sp])
	vm.sp = base
	vm.push(arr)
}

// buildStruct consumes count name/value pairs, first field deepest.
func (vm *VM) buildStruct(count int) error {
	base := vm.sp - 2*count
	for i := base; i < vm.sp; i += 2 {
		if _, ok := vm.stack[i].(*GcString); !ok {
			return errors.New("Struct field name must be a string.")
		}
	}
	s := NewStruct(vm.heap)
	for i := base; i < vm.sp; i += 2 {
		s.Set(vm.stack[i].(*GcString).Data, vm.stack[i+1])
	}
	clear(vm.stack[base:vm.sp])
	vm.sp = base
	vm.push(s)
	return nil
}

func (vm *VM) index() error {
	key := vm.peek(0)
	var elem Value
	switch c := vm.peek(1).(type) {
	case *GcArray:
		i, ok := key.(Int)
		if !ok {
			return errors.New("Array index must be an integer.")
		}
		if i < 0 || int64(i) >= int64(len(c.Elements)) {
			return fmt.Errorf("Array index out of bounds: %d (length %d).", i, len(c.Elements))
		}
		elem = c.Elements[i]
	case *GcStruct:
		name, ok := key.(*GcString)
		if !ok {
			return errors.New("Struct key must be a string.")
		}
		v, ok := c.Get(name.Data)
		if !ok {
			return fmt.Errorf("Undefined field '%s'.", name.Data)
		}
		elem = v
	default:
		return errors.New("Can only index arrays and structs.")
	}
	vm.pop()
	vm.stack[vm.sp-1] = elem
	return nil
}

func (vm *VM) indexSet() error {
	value := vm.peek(0)
	arr, ok := vm.peek(2).(*GcArray)
	if !ok {
		return errors.New("Can only index arrays.")
	}
	i, ok := vm.peek(1).(Int)
	if !ok {
		return errors.New("Array index must be an integer.")
	}
	if i < 0 || int64(i) >= int64(len(arr.Elements)) {
		return fmt.Errorf("Array index out of bounds: %d (length %d).", i, len(arr.Elements))
	}
	arr.Elements[i] = value
	vm.pop()
	vm.pop()
	vm.stack[vm.sp-1] = value
	return nil
}

func (vm *VM) getField(name string) error {
	s, ok := vm.peek(0).(*GcStruct)
	if !ok {
		return errors.New("Can only access fields on structs.")
	}
	v, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("Undefined field '%s'.", name)
	}
	vm.stack[vm.sp-1] = v
	return nil
}

func (vm *VM) setField(name string) error {
	value := vm.peek(0)
	s, ok := vm.peek(1).(*GcStruct)
	if !ok {
		return errors.New("Can only set fields on structs.")
	}
	s.Set(name, value)
	vm.pop()
	vm.stack[vm.sp-1] = value
	return nil
}

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

func (vm *VM) length() error {
	var n int
	switch x := vm.peek(0).(type) {
	case *GcArray:
		n = len(x.Elements)
	case *GcStruct:
		n = x.Len()
	case *GcString:
		n = utf8.RuneCountInString(x.Data)
	default:
		return errors.New("len() requires array, struct or string.")
	}
	vm.stack[vm.sp-1] = Int(n)
	return nil
}

func (vm *VM) arrayPush() error {
	elem := vm.peek(0)
	arr, ok := vm.peek(1).(*GcArray)
	if !ok {
		return errors.New("push() requires array as first argument.")
	}
	arr.Elements = append(arr.Elements, elem)
	vm.pop()
	vm.stack[vm.sp-1] = Nil{}
	return nil
}

func (vm *VM) arrayPop() error {
	arr, ok := vm.peek(0).(*GcArray)
	if !ok {
		return errors.New("pop() requires array.")
	}
	n := len(arr.Elements)
	if n == 0 {
		return errors.New("Cannot pop from empty array.")
	}
	elem := arr.Elements[n-1]
	arr.Elements[n-1] = nil
	arr.Elements = arr.Elements[:n-1]
	vm.stack[vm.sp-1] = elem
	return nil
}

func (vm *VM) typeOf() {
	name := NewString(vm.heap, vm.peek(0).Type().String())
	vm.stack[vm.sp-1] = name
}

func (vm *VM) keys() error {
	s, ok := vm.peek(0).(*GcStruct)
	if !ok {
		return errors.New("keys() requires a struct.")
	}
	// The result stays on the stack above the struct while key strings are
	// allocated.
	arr := NewArray(vm.heap)
	vm.push(arr)
	arr.Elements = make([]Value, 0, s.Len())
	for _, name := range s.Names() {
		arr.Elements = append(arr.Elements, NewString(vm.heap, name))
	}
	vm.pop()
	vm.stack[vm.sp-1] = arr
	return nil
}

func (vm *VM) values() error {
	s, ok := vm.peek(0).(*GcStruct)
	if !ok {
		return errors.New("values() requires a struct.")
	}
	arr := NewArray(vm.heap, slices.Clone(s.Values())...)
	vm.stack[vm.sp-1] = arr
	return nil
}

func (vm *VM) contains() error {
	needle := vm.peek(0)
	var found bool
	switch h := vm.peek(1).(type) {
	case *GcArray:
		found = slices.ContainsFunc(h.Elements, func(v Value) bool { return Equal(v, needle) })
	case *GcStruct:
		if name, ok := needle.(*GcString); ok {
			found = h.Has(name.Data)
		}
	default:
		return errors.New("contains() requires array or struct.")
	}
	vm.pop()
	vm.stack[vm.sp-1] = Bool(found)
	return nil
}

// input pushes the next line from stdin without its line terminator, or
// Nil once the input is exhausted.
func (vm *VM) input() {
	line, err := vm.stdin.ReadString('\n')
	if err != nil && line == "" {
		if !errors.Is(err, io.EOF) {
			log.Debugf("input: %s", err)
		}
		vm.push(Nil{})
		return
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	vm.push(NewString(vm.heap, line))
}
