package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/druk/gc"
)

// stressConfig collects on every allocation.
var stressConfig = gc.Config{InitialThreshold: 1, MinThreshold: 1 << 30}

// quietConfig never collects in a small test.
var quietConfig = gc.Config{InitialThreshold: 1 << 20}

type harness struct {
	t      *testing.T
	heap   *gc.Heap
	vm     *VM
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	return newHarnessWithHeap(t, gc.NewHeap(quietConfig), opts...)
}

func newHarnessWithHeap(t *testing.T, h *gc.Heap, opts ...Option) *harness {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	base := []Option{WithStdout(out), WithStderr(errOut), WithStdin(strings.NewReader(""))}
	vm := New(h, append(base, opts...)...)
	t.Cleanup(vm.Close)
	return &harness{t: t, heap: h, vm: vm, out: out, errOut: errOut}
}

// str allocates a pinned string for use as a constant.
func (hs *harness) str(s string) *GcString {
	v := NewString(hs.heap, s)
	hs.heap.Pin(v)
	return v
}

// fn wraps c in a pinned function object.
func (hs *harness) fn(name string, arity int, c *Chunk) *Function {
	f := NewFunction(hs.heap, name, arity, c)
	hs.heap.Pin(f)
	return f
}

// run interprets c as an unnamed top-level script.
func (hs *harness) run(c *Chunk) InterpretResult {
	return hs.vm.Interpret(hs.fn("", 0, c))
}

// mustRun interprets c and fails the test unless it returns OK.
func (hs *harness) mustRun(c *Chunk) Value {
	hs.t.Helper()
	if res := hs.run(c); res != InterpretOK {
		hs.t.Fatalf("Interpret = %s, want ok; stderr:\n%s", res, hs.errOut.String())
	}
	return hs.vm.Result()
}

// asm builds a chunk one instruction at a time.
type asm struct {
	t     *testing.T
	hs    *harness
	chunk *Chunk
	line  int
}

func (hs *harness) asm() *asm {
	return &asm{t: hs.t, hs: hs, chunk: NewChunk(), line: 1}
}

func (a *asm) at(line int) *asm {
	a.line = line
	return a
}

func (a *asm) op(op Opcode, operands ...byte) *asm {
	a.chunk.Emit(op, a.line, operands...)
	return a
}

func (a *asm) constant(v Value) *asm {
	a.t.Helper()
	if _, err := a.chunk.EmitConstant(v, a.line); err != nil {
		a.t.Fatal(err)
	}
	return a
}

func (a *asm) num(n int64) *asm {
	return a.constant(Int(n))
}

func (a *asm) str(s string) *asm {
	return a.constant(a.hs.str(s))
}

// named emits an instruction whose operand names a string constant.
func (a *asm) named(op Opcode, name string) *asm {
	a.t.Helper()
	idx := a.chunk.AddConstant(a.hs.str(name))
	if idx >= MaxConstants {
		a.t.Fatalf("constant pool full")
	}
	return a.op(op, byte(idx))
}

func (a *asm) ret() *Chunk {
	a.op(OpReturn)
	return a.chunk
}

func mustInt(t *testing.T, v Value, want int64) {
	t.Helper()
	got, ok := v.(Int)
	if !ok {
		t.Fatalf("value = %s (%T), want Int(%d)", Display(v), v, want)
	}
	if int64(got) != want {
		t.Errorf("value = %d, want %d", got, want)
	}
}

func mustString(t *testing.T, v Value, want string) {
	t.Helper()
	got, ok := v.(*GcString)
	if !ok {
		t.Fatalf("value = %s (%T), want string %q", Display(v), v, want)
	}
	if got.Data != want {
		t.Errorf("value = %q, want %q", got.Data, want)
	}
}
