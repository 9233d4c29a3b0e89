// Package image bundles compiled Druk functions into a single loadable
// program image.
//
// A CHNK chunk cannot carry function constants, so an image stores every
// function reachable from the entry point as its own CHNK blob plus a link
// table mapping each function-typed constant slot to the index of the
// function that belongs there. Load rebuilds the functions on a heap and
// re-links the slots.
//
// Images are encoded as canonical CBOR, so the same program always produces
// the same bytes.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/druk/gc"
	"github.com/chazu/druk/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("druk.image")

// FormatVersion is the image layout this package reads and writes.
const FormatVersion = 1

// ErrUnlinked is returned by Load when a function constant slot has no
// entry in its link table.
var ErrUnlinked = errors.New("unlinked function constant")

// FunctionImage is one serialized function.
type FunctionImage struct {
	Name  string `cbor:"1,keyasint"`
	Arity int    `cbor:"2,keyasint"`
	// Chunk is the function body in CHNK format.
	Chunk []byte `cbor:"3,keyasint"`
	// Links maps a constant index in Chunk to an index in Image.Functions.
	Links map[uint8]int `cbor:"4,keyasint,omitempty"`
}

// Image is a program: a set of functions and the one to run first.
type Image struct {
	Version   int             `cbor:"1,keyasint"`
	Entry     int             `cbor:"2,keyasint"`
	Functions []FunctionImage `cbor:"3,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Build captures entry and every function reachable through its constant
// pools. The entry function is always Functions[0].
func Build(entry *vm.Function) (*Image, error) {
	if entry == nil {
		return nil, errors.New("image: nil entry function")
	}

	img := &Image{Version: FormatVersion}
	index := map[*vm.Function]int{entry: 0}
	queue := []*vm.Function{entry}

	for i := 0; i < len(queue); i++ {
		fn := queue[i]
		data, err := fn.Chunk.Serialize()
		if err != nil {
			return nil, fmt.Errorf("image: function %s: %w", fn.DisplayName(), err)
		}

		fi := FunctionImage{Name: fn.Name, Arity: fn.Arity, Chunk: data}
		for c, v := range fn.Chunk.Constants {
			callee, ok := v.(*vm.Function)
			if !ok {
				continue
			}
			if c > 0xFF {
				return nil, fmt.Errorf("image: function %s: constant %d: %w", fn.DisplayName(), c, vm.ErrTooManyConstants)
			}
			target, seen := index[callee]
			if !seen {
				target = len(queue)
				index[callee] = target
				queue = append(queue, callee)
			}
			if fi.Links == nil {
				fi.Links = make(map[uint8]int)
			}
			fi.Links[uint8(c)] = target
		}
		img.Functions = append(img.Functions, fi)
	}

	log.Debugf("built image of %s with %d functions", entry.DisplayName(), len(img.Functions))
	return img, nil
}

// Encode serializes the image to canonical CBOR.
func (img *Image) Encode() ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Decode parses a CBOR-encoded image.
func Decode(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("image: unsupported version %d (want %d)", img.Version, FormatVersion)
	}
	return &img, nil
}

// FromChunk wraps a bare CHNK blob as a one-function image. The chunk must
// not reference other functions.
func FromChunk(name string, chnk []byte) *Image {
	return &Image{
		Version:   FormatVersion,
		Functions: []FunctionImage{{Name: name, Chunk: chnk}},
	}
}

// Parse accepts either an encoded image or a bare CHNK chunk.
func Parse(data []byte) (*Image, error) {
	if bytes.HasPrefix(data, vm.ChunkMagic) {
		return FromChunk("", data), nil
	}
	return Decode(data)
}

// ReadFile parses the image or chunk stored at path.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// WriteFile encodes img to path.
func (img *Image) WriteFile(path string) error {
	data, err := img.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load rebuilds the image's functions on h and re-links their function
// constants. The returned entry function is pinned; the caller unpins it
// when done. Every other function stays alive through the entry's constant
// graph for as long as it is reachable.
func (img *Image) Load(h *gc.Heap) (*vm.Function, error) {
	if len(img.Functions) == 0 {
		return nil, errors.New("image: no functions")
	}
	if img.Entry < 0 || img.Entry >= len(img.Functions) {
		return nil, fmt.Errorf("image: entry %d out of range (%d functions)", img.Entry, len(img.Functions))
	}

	fns := make([]*vm.Function, 0, len(img.Functions))
	defer func() {
		for _, fn := range fns {
			fn.Chunk.Release(h)
			h.Unpin(fn)
		}
	}()

	for i, fi := range img.Functions {
		chunk, err := vm.Deserialize(fi.Chunk, h)
		if err != nil {
			return nil, fmt.Errorf("image: function %d (%s): %w", i, fi.Name, err)
		}
		fn := vm.NewFunction(h, fi.Name, fi.Arity, chunk)
		h.Pin(fn)
		fns = append(fns, fn)
	}

	for i, fi := range img.Functions {
		chunk := fns[i].Chunk
		for slot, target := range fi.Links {
			if target < 0 || target >= len(fns) {
				return nil, fmt.Errorf("image: function %d (%s) constant %d links to missing function %d", i, fi.Name, slot, target)
			}
			if err := chunk.Link(int(slot), fns[target]); err != nil {
				return nil, fmt.Errorf("image: function %d (%s): %w", i, fi.Name, err)
			}
		}
		if rest := chunk.Unlinked(); len(rest) > 0 {
			return nil, fmt.Errorf("image: function %d (%s) constants %v: %w", i, fi.Name, rest, ErrUnlinked)
		}
	}

	entry := fns[img.Entry]
	h.Pin(entry)
	log.Debugf("loaded image: %d functions, entry %s", len(fns), entry.DisplayName())
	return entry, nil
}
