package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chazu/druk/gc"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("druk.vm")

// Defaults for VM limits.
const (
	DefaultMaxFrames = 64
	DefaultStackMax  = DefaultMaxFrames * 256
)

// Names under which SetArgs publishes the command line.
const (
	ArgvGlobal         = "argv"
	ArgcGlobal         = "argc"
	ArgvGlobalDzongkha = "ནང་འཇུག་ཐོ་"
	ArgcGlobalDzongkha = "ནང་འཇུག་གྲངས་"
)

// processStdin buffers os.Stdin once for every VM in the process, so VMs
// sharing it never read ahead into each other's lines.
var processStdin = sync.OnceValue(func() *bufio.Reader {
	return bufio.NewReader(os.Stdin)
})

// CallFrame is the execution state of one function invocation.
type CallFrame struct {
	Function *Function
	IP       int // offset of the next byte to execute
	BP       int // stack index of slot 0 (the callee)
}

// VM is a stack machine that interprets one function at a time. It is not
// safe for concurrent use. Several VMs may share a heap; each registers its
// own roots.
type VM struct {
	heap   *gc.Heap
	rootID gc.RootID
	closed bool

	stack  []Value
	sp     int // next free slot
	frames []CallFrame

	maxFrames int
	globals   *globals
	result    Value
	lastErr   error

	stdout io.Writer
	stderr io.Writer
	stdin  *bufio.Reader
	trace  bool
}

// Option configures a VM.
type Option func(*VM)

// WithMaxFrames sets the maximum call depth.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithStackMax sets the operand stack capacity in values.
func WithStackMax(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stack = make([]Value, n)
		}
	}
}

// WithStdout sets the writer Print uses.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// WithStderr sets the writer runtime errors and traces go to.
func WithStderr(w io.Writer) Option {
	return func(vm *VM) { vm.stderr = w }
}

// WithStdin sets the reader Input reads lines from. A *bufio.Reader is used
// as is, so VMs given the same one share its buffer.
func WithStdin(r io.Reader) Option {
	return func(vm *VM) {
		if br, ok := r.(*bufio.Reader); ok {
			vm.stdin = br
			return
		}
		vm.stdin = bufio.NewReader(r)
	}
}

// WithTrace prints every executed instruction to the error writer.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// New creates a VM allocating from heap and registers its roots: the
// operand stack, the active frames, the globals and the last result.
func New(heap *gc.Heap, opts ...Option) *VM {
	vm := &VM{
		heap:      heap,
		stack:     make([]Value, DefaultStackMax),
		frames:    make([]CallFrame, 0, DefaultMaxFrames),
		maxFrames: DefaultMaxFrames,
		globals:   newGlobals(),
		result:    Nil{},
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdin:     processStdin(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.rootID = heap.Roots().Add("vm", vm.traceRoots)
	return vm
}

// Close unregisters the VM's roots. Objects only it referenced become
// collectable.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.heap.Roots().Remove(vm.rootID)
	vm.closed = true
}

func (vm *VM) traceRoots(m *gc.Marker) {
	for _, v := range vm.stack[:vm.sp] {
		markValue(m, v)
	}
	for i := range vm.frames {
		m.Mark(vm.frames[i].Function)
	}
	vm.globals.trace(m)
	markValue(m, vm.result)
}

// Heap returns the heap the VM allocates from.
func (vm *VM) Heap() *gc.Heap {
	return vm.heap
}

// SetArgs publishes args as the argv array and argc count, under both the
// English and the Dzongkha names.
func (vm *VM) SetArgs(args []string) {
	// Bind the array first so it is rooted while its strings are allocated.
	argv := NewArray(vm.heap)
	vm.globals.define(ArgvGlobal, argv)
	for _, a := range args {
		argv.Elements = append(argv.Elements, NewString(vm.heap, a))
	}

	argc := Int(len(args))
	vm.globals.define(ArgcGlobal, argc)
	vm.globals.define(ArgvGlobalDzongkha, argv)
	vm.globals.define(ArgcGlobalDzongkha, argc)
}

// DefineGlobal binds name, replacing any previous value.
func (vm *VM) DefineGlobal(name string, v Value) {
	if v == nil {
		v = Nil{}
	}
	vm.globals.define(name, v)
}

// Global returns the value bound to name.
func (vm *VM) Global(name string) (Value, bool) {
	return vm.globals.get(name)
}

// Result returns the value the outermost frame returned from the last
// successful Interpret, or Nil.
func (vm *VM) Result() Value {
	return vm.result
}

// StackDepth returns the number of values on the operand stack.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// LastError returns the error behind the most recent non-OK Interpret, or
// nil after a successful one. Runtime failures are *RuntimeError.
func (vm *VM) LastError() error {
	return vm.lastErr
}

// Interpret runs fn as the outermost frame until it returns. The function
// value occupies slot 0 of its own frame, matching the calling convention
// for user calls.
func (vm *VM) Interpret(fn *Function) InterpretResult {
	if vm.closed {
		panic("vm: Interpret on closed VM")
	}
	vm.frames = vm.frames[:0]
	vm.resetStack()
	vm.result = Nil{}
	vm.lastErr = nil

	if fn == nil {
		return vm.compileError(fmt.Errorf("no function to interpret"))
	}
	if err := verify(fn); err != nil {
		return vm.compileError(err)
	}

	log.Debugf("interpret %s (%d bytes)", fn.DisplayName(), fn.Chunk.Len())
	vm.push(fn)
	vm.frames = append(vm.frames, CallFrame{Function: fn})

	result := vm.run()
	log.Debugf("interpret %s finished: %s", fn.DisplayName(), result)
	return result
}

func (vm *VM) compileError(err error) InterpretResult {
	vm.lastErr = err
	fmt.Fprintf(vm.stderr, "Invalid bytecode: %v\n", err)
	return InterpretCompileError
}

// verify validates fn and every function reachable through its constant
// pool. Verified functions are remembered, since they are immutable.
func verify(fn *Function) error {
	seen := map[*Function]bool{}
	var walk func(*Function) error
	walk = func(f *Function) error {
		if f.verified || seen[f] {
			return nil
		}
		seen[f] = true
		if f.Chunk == nil {
			return fmt.Errorf("%s: no chunk", f.DisplayName())
		}
		if err := f.Chunk.Validate(); err != nil {
			return fmt.Errorf("%s: %w", f.DisplayName(), err)
		}
		for _, c := range f.Chunk.Constants {
			if nested, ok := c.(*Function); ok {
				if err := walk(nested); err != nil {
					return err
				}
			}
		}
		f.verified = true
		return nil
	}
	return walk(fn)
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = nil
	return v
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	clear(vm.stack[:vm.sp])
	vm.sp = 0
}
