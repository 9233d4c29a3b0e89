package vm

import "fmt"

// stackNeed holds how many operands each fixed-arity opcode requires above
// the frame's callee slot. Variable-arity opcodes check their own count.
var stackNeed [256]int8

func init() {
	for op, info := range opcodeInfoTable {
		stackNeed[op] = int8(info.StackPop)
	}
}

// run is the main execution loop. It returns when the outermost frame
// returns or the first runtime error unwinds every frame.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[len(vm.frames)-1]
	code := frame.Function.Chunk.Code
	consts := frame.Function.Chunk.Constants
	ip := frame.IP

	fail := func(format string, args ...any) InterpretResult {
		frame.IP = ip
		return vm.runtimeError(format, args...)
	}

	// enter switches the cached frame state to the innermost frame.
	enter := func() {
		frame = &vm.frames[len(vm.frames)-1]
		code = frame.Function.Chunk.Code
		consts = frame.Function.Chunk.Constants
		ip = frame.IP
	}

	for {
		if ip >= len(code) {
			return fail("Execution ran past the end of %s.", frame.Function.DisplayName())
		}
		// Every instruction pushes at most one value beyond what it pops.
		if vm.sp >= len(vm.stack) {
			return fail("Stack overflow.")
		}

		op := Opcode(code[ip])
		if vm.trace {
			fmt.Fprintf(vm.stderr, "[%04x] %-16s sp=%d\n", ip, op, vm.sp)
		}
		ip++

		if need := int(stackNeed[op]); need > 0 && vm.sp-frame.BP-1 < need {
			return fail("Stack underflow in %s.", op)
		}

		switch op {
		case OpReturn:
			result := vm.pop()
			bp := frame.BP
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				vm.resetStack()
				vm.result = result
				vm.push(result)
				return InterpretOK
			}
			clear(vm.stack[bp:vm.sp])
			vm.sp = bp
			vm.push(result)
			enter()

		// ============ Constants ============
		case OpConstant:
			vm.push(consts[code[ip]])
			ip++

		case OpNil:
			vm.push(Nil{})

		case OpTrue:
			vm.push(Bool(true))

		case OpFalse:
			vm.push(Bool(false))

		case OpPop:
			vm.pop()

		// ============ Variables ============
		case OpGetLocal:
			slot := frame.BP + int(code[ip])
			ip++
			if slot >= vm.sp {
				return fail("Invalid local slot %d.", slot-frame.BP)
			}
			vm.push(vm.stack[slot])

		case OpSetLocal:
			slot := frame.BP + int(code[ip])
			ip++
			if slot >= vm.sp {
				return fail("Invalid local slot %d.", slot-frame.BP)
			}
			vm.stack[slot] = vm.peek(0)

		case OpGetGlobal:
			name := consts[code[ip]].(*GcString).Data
			ip++
			v, ok := vm.globals.get(name)
			if !ok {
				return fail("Undefined variable '%s'.", name)
			}
			vm.push(v)

		case OpDefineGlobal:
			name := consts[code[ip]].(*GcString).Data
			ip++
			vm.globals.define(name, vm.pop())

		case OpSetGlobal:
			name := consts[code[ip]].(*GcString).Data
			ip++
			if !vm.globals.set(name, vm.peek(0)) {
				return fail("Undefined variable '%s'.", name)
			}

		// ============ Arithmetic and comparison ============
		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(Equal(a, b)))

		case OpAdd:
			if err := vm.add(); err != nil {
				return fail("%v", err)
			}

		case OpGreater, OpLess, OpSubtract, OpMultiply, OpDivide:
			a, aok := vm.peek(1).(Int)
			b, bok := vm.peek(0).(Int)
			if !aok || !bok {
				return fail("Operands must be numbers.")
			}
			if op == OpDivide && b == 0 {
				return fail("Division by zero.")
			}
			vm.pop()
			vm.pop()
			switch op {
			case OpGreater:
				vm.push(Bool(a > b))
			case OpLess:
				vm.push(Bool(a < b))
			case OpSubtract:
				vm.push(a - b)
			case OpMultiply:
				vm.push(a * b)
			case OpDivide:
				vm.push(a / b)
			}

		case OpNot:
			vm.push(Bool(IsFalsey(vm.pop())))

		case OpNegate:
			v, ok := vm.peek(0).(Int)
			if !ok {
				return fail("Operand must be a number.")
			}
			vm.stack[vm.sp-1] = -v

		case OpPrint:
			fmt.Fprintln(vm.stdout, Display(vm.pop()))

		// ============ Control flow ============
		case OpJump:
			offset := int(code[ip])<<8 | int(code[ip+1])
			ip += 2 + offset

		case OpJumpIfFalse:
			offset := int(code[ip])<<8 | int(code[ip+1])
			ip += 2
			if IsFalsey(vm.peek(0)) {
				ip += offset
			}

		case OpLoop:
			offset := int(code[ip])<<8 | int(code[ip+1])
			ip += 2 - offset

		case OpCall:
			argc := int(code[ip])
			ip++
			if vm.sp-frame.BP-1 < argc+1 {
				return fail("Stack underflow in %s.", op)
			}
			fn, ok := vm.peek(argc).(*Function)
			if !ok {
				return fail("Can only call functions.")
			}
			if argc != fn.Arity {
				return fail("Expected %d arguments but got %d.", fn.Arity, argc)
			}
			if len(vm.frames) >= vm.maxFrames {
				return fail("Stack overflow.")
			}
			if err := verify(fn); err != nil {
				return fail("Invalid bytecode in %v.", err)
			}
			frame.IP = ip
			vm.frames = append(vm.frames, CallFrame{Function: fn, BP: vm.sp - argc - 1})
			enter()

		// ============ Collections ============
		case OpBuildArray:
			count := int(code[ip])
			ip++
			if vm.sp-frame.BP-1 < count {
				return fail("Stack underflow in %s.", op)
			}
			vm.buildArray(count)

		case OpBuildStruct:
			count := int(code[ip])
			ip++
			if vm.sp-frame.BP-1 < 2*count {
				return fail("Stack underflow in %s.", op)
			}
			if err := vm.buildStruct(count); err != nil {
				return fail("%v", err)
			}

		case OpIndex:
			if err := vm.index(); err != nil {
				return fail("%v", err)
			}

		case OpIndexSet:
			if err := vm.indexSet(); err != nil {
				return fail("%v", err)
			}

		case OpGetField:
			name := consts[code[ip]].(*GcString).Data
			ip++
			if err := vm.getField(name); err != nil {
				return fail("%v", err)
			}

		case OpSetField:
			name := consts[code[ip]].(*GcString).Data
			ip++
			if err := vm.setField(name); err != nil {
				return fail("%v", err)
			}

		// ============ Builtins ============
		case OpLen:
			if err := vm.length(); err != nil {
				return fail("%v", err)
			}

		case OpPush:
			if err := vm.arrayPush(); err != nil {
				return fail("%v", err)
			}

		case OpPopArray:
			if err := vm.arrayPop(); err != nil {
				return fail("%v", err)
			}

		case OpTypeOf:
			vm.typeOf()

		case OpKeys:
			if err := vm.keys(); err != nil {
				return fail("%v", err)
			}

		case OpValues:
			if err := vm.values(); err != nil {
				return fail("%v", err)
			}

		case OpContains:
			if err := vm.contains(); err != nil {
				return fail("%v", err)
			}

		case OpInput:
			vm.input()

		default:
			// Unreachable for verified chunks.
			return fail("Unknown opcode 0x%02X.", byte(op))
		}
	}
}
