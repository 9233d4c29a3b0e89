package vm

import (
	"fmt"
	"io"
	"strings"
)

// InterpretResult is the outcome of one Interpret call.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// TraceEntry is one frame of a runtime error's call stack.
type TraceEntry struct {
	Function string // empty for the top-level script
	Line     int
}

func (e TraceEntry) String() string {
	if e.Function == "" {
		return fmt.Sprintf("[line %d] in script", e.Line)
	}
	return fmt.Sprintf("[line %d] in %s()", e.Line, e.Function)
}

// RuntimeError describes a failed execution. Trace lists frames innermost
// first.
type RuntimeError struct {
	Message string
	Trace   []TraceEntry
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// Report writes the message followed by one line per frame.
func (e *RuntimeError) Report(w io.Writer) {
	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteByte('\n')
	for _, entry := range e.Trace {
		sb.WriteString(entry.String())
		sb.WriteByte('\n')
	}
	io.WriteString(w, sb.String())
}

// runtimeError records a RuntimeError for the current frames, reports it,
// and unwinds every frame and the whole stack. The current frame's IP must
// already be saved.
func (vm *VM) runtimeError(format string, args ...any) InterpretResult {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.Function
		err.Trace = append(err.Trace, TraceEntry{
			Function: fn.Name,
			Line:     fn.Chunk.LineAt(frame.IP - 1),
		})
	}
	err.Report(vm.stderr)
	log.Debugf("runtime error: %s (%d frames)", err.Message, len(err.Trace))

	vm.lastErr = err
	vm.frames = vm.frames[:0]
	vm.resetStack()
	return InterpretRuntimeError
}
