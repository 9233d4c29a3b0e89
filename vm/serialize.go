package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chazu/druk/gc"
)

// ChunkMagic identifies a serialized chunk.
var ChunkMagic = []byte("CHNK")

// Constant tags in the serialized constant table.
const (
	tagNil      byte = 0x00
	tagString   byte = 0x01
	tagInt      byte = 0x02
	tagBool     byte = 0x03
	tagFunction byte = 0x04
)

const chunkHeaderLen = 16

var (
	// ErrBadMagic is returned when serialized data does not start with "CHNK".
	ErrBadMagic = errors.New("invalid chunk magic")

	// ErrTruncated is returned when serialized data ends early.
	ErrTruncated = errors.New("unexpected end of chunk")

	// ErrFunctionConstant marks function constants that serialization cannot
	// carry and that have not been re-linked.
	ErrFunctionConstant = errors.New("unlinked function constant")
)

// Serialize encodes the chunk in the CHNK format:
//
//	[magic:4] [code_size:u32] [constants_size:u32] [lines_size:u32]
//	[code:code_size]
//	[lines:lines_size*i32]
//	[constants: tag:u8 payload...]
//
// Integers are little-endian. Function constants are written as a bare
// tag; Deserialize leaves them for the embedder to re-link.
func (c *Chunk) Serialize() ([]byte, error) {
	buf := make([]byte, 0, chunkHeaderLen+len(c.Code)+4*len(c.Lines)+9*len(c.Constants))

	buf = append(buf, ChunkMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Constants)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Lines)))

	buf = append(buf, c.Code...)
	for _, line := range c.Lines {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(line)))
	}

	for i, v := range c.Constants {
		switch x := v.(type) {
		case Nil:
			buf = append(buf, tagNil)
		case *GcString:
			buf = append(buf, tagString)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(x.Data)))
			buf = append(buf, x.Data...)
		case Int:
			buf = append(buf, tagInt)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(x))
		case Bool:
			buf = append(buf, tagBool)
			if x {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case *Function:
			buf = append(buf, tagFunction)
		default:
			return nil, fmt.Errorf("serialize constant %d: %s values cannot be serialized", i, v.Type())
		}
	}

	return buf, nil
}

// Deserialize decodes a CHNK-encoded chunk. String constants are allocated
// on h and stay pinned until Chunk.Release. Function constants come back as
// Nil and are listed by Chunk.Unlinked.
func Deserialize(data []byte, h *gc.Heap) (*Chunk, error) {
	if len(data) < chunkHeaderLen {
		return nil, fmt.Errorf("%w: need %d header bytes, got %d", ErrTruncated, chunkHeaderLen, len(data))
	}
	if string(data[0:4]) != string(ChunkMagic) {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrBadMagic, ChunkMagic, data[0:4])
	}

	codeSize := int(binary.LittleEndian.Uint32(data[4:]))
	constSize := int(binary.LittleEndian.Uint32(data[8:]))
	linesSize := int(binary.LittleEndian.Uint32(data[12:]))
	pos := chunkHeaderLen

	if codeSize > len(data)-pos {
		return nil, fmt.Errorf("%w reading code section: need %d bytes at pos %d", ErrTruncated, codeSize, pos)
	}
	c := &Chunk{Code: make([]byte, codeSize)}
	copy(c.Code, data[pos:pos+codeSize])
	pos += codeSize

	if linesSize > (len(data)-pos)/4 {
		return nil, fmt.Errorf("%w reading line table: need %d entries at pos %d", ErrTruncated, linesSize, pos)
	}
	c.Lines = make([]int, linesSize)
	for i := range c.Lines {
		c.Lines[i] = int(int32(binary.LittleEndian.Uint32(data[pos:])))
		pos += 4
	}

	// Each constant takes at least its tag byte.
	if constSize > len(data)-pos {
		return nil, fmt.Errorf("%w reading constants: %d declared, %d bytes left", ErrTruncated, constSize, len(data)-pos)
	}
	c.Constants = make([]Value, 0, constSize)

	fail := func(err error) (*Chunk, error) {
		c.Release(h)
		return nil, err
	}

	for i := 0; i < constSize; i++ {
		if pos >= len(data) {
			return fail(fmt.Errorf("%w reading constant %d tag", ErrTruncated, i))
		}
		tag := data[pos]
		pos++

		switch tag {
		case tagNil:
			c.Constants = append(c.Constants, Nil{})
		case tagString:
			if pos+4 > len(data) {
				return fail(fmt.Errorf("%w reading constant %d length", ErrTruncated, i))
			}
			n := int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
			if n > len(data)-pos {
				return fail(fmt.Errorf("%w reading constant %d: need %d bytes", ErrTruncated, i, n))
			}
			s := NewString(h, string(data[pos:pos+n]))
			h.Pin(s)
			c.owned = append(c.owned, s)
			c.Constants = append(c.Constants, s)
			pos += n
		case tagInt:
			if pos+8 > len(data) {
				return fail(fmt.Errorf("%w reading constant %d", ErrTruncated, i))
			}
			c.Constants = append(c.Constants, Int(int64(binary.LittleEndian.Uint64(data[pos:]))))
			pos += 8
		case tagBool:
			if pos >= len(data) {
				return fail(fmt.Errorf("%w reading constant %d", ErrTruncated, i))
			}
			c.Constants = append(c.Constants, Bool(data[pos] != 0))
			pos++
		case tagFunction:
			c.unlinked = append(c.unlinked, len(c.Constants))
			c.Constants = append(c.Constants, Nil{})
		default:
			return fail(fmt.Errorf("constant %d: unknown tag 0x%02X", i, tag))
		}
	}

	if pos != len(data) {
		return fail(fmt.Errorf("%d trailing bytes after chunk", len(data)-pos))
	}
	return c, nil
}
