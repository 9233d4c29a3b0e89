package vm

import "fmt"

// Opcode is a single-byte instruction discriminator. The numbering is part
// of the CHNK wire format and must not be reordered.
type Opcode byte

const (
	OpReturn       Opcode = iota // Pop result, discard frame
	OpConstant                   // Push constant: OpConstant <index:u8>
	OpNil                        // Push nil
	OpTrue                       // Push true
	OpFalse                      // Push false
	OpPop                        // Pop top of stack
	OpGetLocal                   // Push local: OpGetLocal <slot:u8>
	OpSetLocal                   // Store TOS to local, keep it: OpSetLocal <slot:u8>
	OpGetGlobal                  // Push global: OpGetGlobal <name:u8>
	OpDefineGlobal               // Pop and define global: OpDefineGlobal <name:u8>
	OpSetGlobal                  // Store TOS to existing global: OpSetGlobal <name:u8>
	OpEqual                      // Pop two, push a == b
	OpGreater                    // Pop two ints, push a > b
	OpLess                       // Pop two ints, push a < b
	OpAdd                        // Pop two, push a + b (ints or strings)
	OpSubtract                   // Pop two ints, push a - b
	OpMultiply                   // Pop two ints, push a * b
	OpDivide                     // Pop two ints, push a / b
	OpNot                        // Pop one, push its falsiness
	OpNegate                     // Pop int, push -v
	OpPrint                      // Pop and print
	OpJump                       // Jump forward: OpJump <offset:u16>
	OpJumpIfFalse                // Jump forward if TOS is falsey: OpJumpIfFalse <offset:u16>
	OpLoop                       // Jump backward: OpLoop <offset:u16>
	OpCall                       // Call callee below args: OpCall <argc:u8>

	// Collections
	OpBuildArray  // Build array from N values: OpBuildArray <count:u8>
	OpIndex       // Pop index and container, push element
	OpIndexSet    // Pop value, index, array; store; push value
	OpBuildStruct // Build struct from N name/value pairs: OpBuildStruct <count:u8>
	OpGetField    // Pop struct, push field: OpGetField <name:u8>
	OpSetField    // Pop value and struct, store, push value: OpSetField <name:u8>

	// Builtins
	OpLen      // Pop array, struct or string, push its length
	OpPush     // Pop element and array, append, push nil
	OpPopArray // Pop array, remove and push its last element
	OpTypeOf   // Pop value, push its type name
	OpKeys     // Pop struct, push array of field names
	OpValues   // Pop struct, push array of field values
	OpContains // Pop needle and haystack, push membership
	OpInput    // Push one line from stdin, or nil at EOF
)

// OpcodeInfo contains metadata about an opcode. StackPop is -1 when the
// count depends on an operand. An instruction that only inspects the top of
// the stack counts it as popped and pushed again.
type OpcodeInfo struct {
	Name       string
	StackPop   int
	StackPush  int
	OperandLen int
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpReturn:       {"RETURN", 1, 0, 0},
	OpConstant:     {"CONSTANT", 0, 1, 1},
	OpNil:          {"NIL", 0, 1, 0},
	OpTrue:         {"TRUE", 0, 1, 0},
	OpFalse:        {"FALSE", 0, 1, 0},
	OpPop:          {"POP", 1, 0, 0},
	OpGetLocal:     {"GET_LOCAL", 0, 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, 1, 1},
	OpGetGlobal:    {"GET_GLOBAL", 0, 1, 1},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 0, 1},
	OpSetGlobal:    {"SET_GLOBAL", 1, 1, 1},

	OpEqual:    {"EQUAL", 2, 1, 0},
	OpGreater:  {"GREATER", 2, 1, 0},
	OpLess:     {"LESS", 2, 1, 0},
	OpAdd:      {"ADD", 2, 1, 0},
	OpSubtract: {"SUBTRACT", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpNot:      {"NOT", 1, 1, 0},
	OpNegate:   {"NEGATE", 1, 1, 0},
	OpPrint:    {"PRINT", 1, 0, 0},

	OpJump:        {"JUMP", 0, 0, 2},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 1, 2},
	OpLoop:        {"LOOP", 0, 0, 2},
	OpCall:        {"CALL", -1, 1, 1},

	OpBuildArray:  {"BUILD_ARRAY", -1, 1, 1},
	OpIndex:       {"INDEX", 2, 1, 0},
	OpIndexSet:    {"INDEX_SET", 3, 1, 0},
	OpBuildStruct: {"BUILD_STRUCT", -1, 1, 1},
	OpGetField:    {"GET_FIELD", 1, 1, 1},
	OpSetField:    {"SET_FIELD", 2, 1, 1},

	OpLen:      {"LEN", 1, 1, 0},
	OpPush:     {"PUSH", 2, 1, 0},
	OpPopArray: {"POP_ARRAY", 1, 1, 0},
	OpTypeOf:   {"TYPE_OF", 1, 1, 0},
	OpKeys:     {"KEYS", 1, 1, 0},
	OpValues:   {"VALUES", 1, 1, 0},
	OpContains: {"CONTAINS", 2, 1, 0},
	OpInput:    {"INPUT", 0, 1, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode carries a 16-bit jump offset.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// UsesConstant returns true if the u8 operand indexes the constant pool.
func (op Opcode) UsesConstant() bool {
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal, OpGetField, OpSetField:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := OpReturn; op <= OpInput; op++ {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
