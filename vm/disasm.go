package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the chunk.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d bytes, %d constants\n", len(c.Code), len(c.Constants)))

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, constantText(v)))
		}
	}
	if len(c.unlinked) > 0 {
		sb.WriteString(fmt.Sprintf("; Unlinked functions: %v\n", c.unlinked))
	}
	sb.WriteString("\n")

	sb.WriteString("; Code:\n")
	for offset := 0; offset < len(c.Code); {
		text, n := c.disassembleInstruction(offset)
		line := "   |"
		if offset == 0 || c.LineAt(offset) != c.LineAt(offset-1) {
			line = fmt.Sprintf("%4d", c.LineAt(offset))
		}
		sb.WriteString(fmt.Sprintf("%04X %s  %s\n", offset, line, text))
		offset += n
	}

	return sb.String()
}

// DisassembleInstruction returns a human-readable representation of a single
// instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	text, _ := c.disassembleInstruction(offset)
	return text
}

// disassembleInstruction returns the text for the instruction at offset and
// its length. Truncated instructions consume the rest of the code.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", op), len(c.Code) - offset
	}

	switch {
	case op.UsesConstant():
		idx := int(c.Code[offset+1])
		val := "<out of range>"
		if idx < len(c.Constants) {
			val = constantText(c.Constants[idx])
		}
		return fmt.Sprintf("%-16s %3d ; %s", op, idx, val), n

	case op.IsJump():
		delta := int(c.readUint16(offset + 1))
		target := offset + n + delta
		if op == OpLoop {
			target = offset + n - delta
		}
		return fmt.Sprintf("%-16s %04X", op, target), n

	case op == OpGetLocal || op == OpSetLocal:
		return fmt.Sprintf("%-16s slot %d", op, c.Code[offset+1]), n

	case op == OpCall:
		return fmt.Sprintf("%-16s argc %d", op, c.Code[offset+1]), n

	case op == OpBuildArray || op == OpBuildStruct:
		return fmt.Sprintf("%-16s count %d", op, c.Code[offset+1]), n

	default:
		return op.String(), n
	}
}

// constantText renders a constant for listings: strings quoted and
// truncated, integers in decimal, other values in their Print form.
func constantText(v Value) string {
	switch x := v.(type) {
	case *GcString:
		text := []rune(x.Data)
		if len(text) > 40 {
			return fmt.Sprintf("%q...", string(text[:37]))
		}
		return fmt.Sprintf("%q", x.Data)
	case Int:
		return fmt.Sprintf("%d", int64(x))
	default:
		return Display(v)
	}
}
