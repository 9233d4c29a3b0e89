// Package vm implements the Druk bytecode virtual machine.
//
// This package contains:
//   - The Value sum type and its heap payloads (strings, arrays, structs,
//     function objects), all allocated from a gc.Heap
//   - Chunk: bytecode, line table and constant pool, with the emit and
//     patch helpers a code generator needs
//   - The CHNK binary format and a disassembler
//   - The stack-based interpreter with call frames, a globals table and
//     the collection and I/O builtins
//   - PackedValue, the fixed layout native code uses to exchange values
//
// # Calling convention
//
// A call pushes the callee followed by its arguments and emits Call argc.
// The new frame's slot 0 is the callee and slots 1..argc the arguments;
// locals follow. Return pops the result, discards the frame's slots and
// pushes the result for the caller. Interpret uses the same layout for the
// outermost function.
//
// # Rooting
//
// A VM registers its operand stack, frames, globals and last result as a
// root source on its heap. Any instruction that allocates keeps the values
// it still needs on the stack until the allocation returns.
package vm
