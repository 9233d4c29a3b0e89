package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/druk/gc"
)

// Operand limits. Constant and local indices are one byte; jump offsets are
// two bytes, big-endian.
const (
	MaxConstants  = 256
	MaxJumpOffset = 0xFFFF
)

var (
	// ErrTooManyConstants is returned when a chunk's constant pool would
	// need an index that does not fit in one operand byte.
	ErrTooManyConstants = errors.New("too many constants in one chunk")

	// ErrJumpTooFar is returned when a jump distance does not fit in 16 bits.
	ErrJumpTooFar = errors.New("jump distance exceeds 16 bits")
)

// Chunk is the compiled bytecode of one function: the code bytes, a line
// table with one entry per code byte, and a deduplicated constant pool.
//
// Code and Lines are append-only while a chunk is being generated; after it
// is handed to a Function it is treated as immutable.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value

	// Strings owned by a chunk rebuilt by Deserialize. They stay pinned
	// until Release.
	owned []*GcString

	// Constant indices whose function value could not be serialized.
	unlinked []int
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:  make([]byte, 0, 64),
		Lines: make([]int, 0, 64),
	}
}

// Write appends one byte and records its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// Emit appends an opcode with its operand bytes and returns the offset of
// the opcode.
func (c *Chunk) Emit(op Opcode, line int, operands ...byte) int {
	offset := len(c.Code)
	c.WriteOp(op, line)
	for _, b := range operands {
		c.Write(b, line)
	}
	return offset
}

// AddConstant adds a value to the pool and returns its index. A value
// structurally equal to an existing constant reuses that index. The returned
// index may exceed the one-byte operand limit; callers that encode it must
// reject indices >= MaxConstants.
func (c *Chunk) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if Equal(existing, v) {
			return i
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// EmitConstant emits OpConstant for v, adding it to the pool if needed.
func (c *Chunk) EmitConstant(v Value, line int) (int, error) {
	idx := c.AddConstant(v)
	if idx >= MaxConstants {
		return 0, fmt.Errorf("%w: index %d", ErrTooManyConstants, idx)
	}
	return c.Emit(OpConstant, line, byte(idx)), nil
}

// Patch overwrites a previously written byte.
func (c *Chunk) Patch(offset int, b byte) {
	c.Code[offset] = b
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode, line int) int {
	c.Emit(op, line, 0xFF, 0xFF)
	return len(c.Code) - 2
}

// PatchJump patches a forward jump so it lands on the current end of code.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	// Relative to the byte after the 2-byte operand
	delta := len(c.Code) - (placeholderOffset + 2)
	if delta < 0 || delta > MaxJumpOffset {
		return fmt.Errorf("%w: %d", ErrJumpTooFar, delta)
	}
	c.Patch(placeholderOffset, byte(delta>>8))
	c.Patch(placeholderOffset+1, byte(delta))
	return nil
}

// EmitLoop emits a backward jump to loopStart.
func (c *Chunk) EmitLoop(loopStart int, line int) error {
	delta := len(c.Code) + 3 - loopStart
	if delta < 0 || delta > MaxJumpOffset {
		return fmt.Errorf("%w: %d", ErrJumpTooFar, delta)
	}
	c.Emit(OpLoop, line, byte(delta>>8), byte(delta))
	return nil
}

// LineAt returns the source line recorded for the byte at offset, or 0 when
// the line table does not cover it.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// Len returns the length of the code section.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// readUint16 reads a big-endian jump operand at offset.
func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// ---------------------------------------------------------------------------
// Function constants that did not survive serialization
// ---------------------------------------------------------------------------

// Unlinked returns the constant indices that held functions when the chunk
// was serialized. They read as Nil until Link supplies the function.
func (c *Chunk) Unlinked() []int {
	return slices.Clone(c.unlinked)
}

// Link installs fn at an unlinked constant index.
func (c *Chunk) Link(index int, fn *Function) error {
	i := slices.Index(c.unlinked, index)
	if i < 0 {
		return fmt.Errorf("constant %d is not an unlinked function slot", index)
	}
	if fn == nil {
		return fmt.Errorf("constant %d: nil function", index)
	}
	c.Constants[index] = fn
	c.unlinked = slices.Delete(c.unlinked, i, i+1)
	return nil
}

// Release drops the pins a deserialized chunk holds on its string
// constants. Afterwards the strings live only as long as the function
// holding the chunk is reachable.
func (c *Chunk) Release(h *gc.Heap) {
	for _, s := range c.owned {
		h.Unpin(s)
	}
	c.owned = nil
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// Validate checks that every instruction is well formed: known opcodes,
// operands present, constant indices inside the pool, name operands that
// refer to strings and jump targets inside the code. A chunk with function
// constants still awaiting Link fails with ErrFunctionConstant.
func (c *Chunk) Validate() error {
	if len(c.unlinked) > 0 {
		return fmt.Errorf("%w: constants %v", ErrFunctionConstant, c.unlinked)
	}
	for offset := 0; offset < len(c.Code); {
		op := Opcode(c.Code[offset])
		if !op.Valid() {
			return fmt.Errorf("offset %04X: unknown opcode 0x%02X", offset, byte(op))
		}
		next := offset + op.InstructionLen()
		if next > len(c.Code) {
			return fmt.Errorf("offset %04X: %s truncated", offset, op)
		}

		if op.UsesConstant() {
			idx := int(c.Code[offset+1])
			if idx >= len(c.Constants) {
				return fmt.Errorf("offset %04X: %s constant %d out of range (pool has %d)", offset, op, idx, len(c.Constants))
			}
			if op != OpConstant {
				if _, ok := c.Constants[idx].(*GcString); !ok {
					return fmt.Errorf("offset %04X: %s name constant %d is %s, want string", offset, op, idx, c.Constants[idx].Type())
				}
			}
		}

		if op.IsJump() {
			delta := int(c.readUint16(offset + 1))
			target := next + delta
			if op == OpLoop {
				target = next - delta
			}
			if target < 0 || target > len(c.Code) {
				return fmt.Errorf("offset %04X: %s target %04X outside code", offset, op, target)
			}
		}
		offset = next
	}
	return nil
}
