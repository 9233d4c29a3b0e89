// Druk CLI - runs, inspects and stores compiled Druk program images.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/druk/gc"
	"github.com/chazu/druk/image"
	"github.com/chazu/druk/manifest"
	"github.com/chazu/druk/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("druk.cli")

// version is overridden at link time.
var version = "dev"

// Exit codes, following sysexits.h.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 64
	exitDataErr  = 65
	exitSoftware = 70
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return fmt.Sprint(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	manifest  *manifest.Manifest
	storePath string

	// executable locates the binary `bundle` copies; nil means os.Executable.
	executable func() (string, error)
}

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if exe, err := os.Executable(); err == nil {
		if code, ok := a.runEmbedded(exe, os.Args); ok {
			os.Exit(code)
		}
	}
	os.Exit(a.run(os.Args[1:]))
}

func (a *app) usage(fs *flag.FlagSet) {
	fmt.Fprintf(a.stderr, "Usage: druk [options] <command> [arguments]\n\n")
	fmt.Fprintf(a.stderr, "Commands:\n")
	fmt.Fprintf(a.stderr, "  run [FILE] [args...]        Run an image or CHNK file (default: [project] entry)\n")
	fmt.Fprintf(a.stderr, "  disasm FILE                 Disassemble every function in an image\n")
	fmt.Fprintf(a.stderr, "  bundle FILE -o EXE          Build a standalone executable running FILE\n")
	fmt.Fprintf(a.stderr, "  store put NAME FILE         Save an image in the store\n")
	fmt.Fprintf(a.stderr, "  store get NAME OUT          Write a stored image to a file\n")
	fmt.Fprintf(a.stderr, "  store list                  List stored images\n")
	fmt.Fprintf(a.stderr, "  store rm NAME               Delete a stored image\n")
	fmt.Fprintf(a.stderr, "  store run NAME [args...]    Run a stored image\n")
	fmt.Fprintf(a.stderr, "  version                     Print the version\n\n")
	fmt.Fprintf(a.stderr, "Options:\n")
	fs.PrintDefaults()
}

// run executes one CLI invocation and returns the process exit code.
func (a *app) run(args []string) int {
	fs := flag.NewFlagSet("druk", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var verbose verbosity
	fs.Var(&verbose, "v", "Verbose logging (repeat for more)")
	dir := fs.String("C", ".", "Project directory to search for "+manifest.FileName)
	storePath := fs.String("store", "", "Image database path (overrides [store] path)")
	fs.Usage = func() { a.usage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	if m == nil {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitFailure
		}
		m = manifest.Default(abs)
	}
	a.manifest = m
	a.storePath = m.StorePath()
	if *storePath != "" {
		a.storePath = *storePath
	}

	level := max(int(verbose), m.Log.Verbosity)
	if f := m.LogFile(); f != "" {
		commonlog.Configure(level, &f)
	} else {
		commonlog.Configure(level, nil)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		a.usage(fs)
		return exitUsage
	}

	switch rest[0] {
	case "run":
		return a.handleRunCommand(rest[1:])
	case "disasm":
		return a.handleDisasmCommand(rest[1:])
	case "store":
		return a.handleStoreCommand(rest[1:])
	case "bundle":
		return a.handleBundleCommand(rest[1:])
	case "version":
		fmt.Fprintf(a.stdout, "druk %s\n", version)
		return exitOK
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n", rest[0])
		a.usage(fs)
		return exitUsage
	}
}

// handleRunCommand processes `druk run`.
func (a *app) handleRunCommand(args []string) int {
	path := a.manifest.Project.Entry
	if len(args) > 0 {
		path, args = args[0], args[1:]
	}
	if path == "" {
		fmt.Fprintln(a.stderr, "Usage: druk run FILE [args...]")
		fmt.Fprintf(a.stderr, "  (or set [project] entry in %s)\n", manifest.FileName)
		return exitUsage
	}

	if name, ok := storeRef(path); ok {
		return a.runStored(name, args)
	}
	img, err := image.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	return a.runImage(img, path, args)
}

// storeRef reports whether path names a stored image as store:NAME.
func storeRef(path string) (string, bool) {
	name, ok := strings.CutPrefix(path, "store:")
	return name, ok && name != ""
}

// runImage loads img on a fresh heap and interprets its entry function.
// argv[0] is the program name.
func (a *app) runImage(img *image.Image, program string, args []string) (code int) {
	heap := gc.NewHeap(a.manifest.HeapConfig())

	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok || !errors.Is(err, gc.ErrHeapExhausted) {
				panic(r)
			}
			fmt.Fprintf(a.stderr, "Fatal: %v\n", err)
			code = exitSoftware
		}
	}()

	entry, err := img.Load(heap)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	defer heap.Unpin(entry)

	opts := append(a.manifest.VMOptions(),
		vm.WithStdout(a.stdout),
		vm.WithStderr(a.stderr),
		vm.WithStdin(a.stdin),
	)
	machine := vm.New(heap, opts...)
	defer machine.Close()

	machine.SetArgs(append([]string{program}, args...))
	result := machine.Interpret(entry)

	stats := heap.Stats()
	log.Debugf("%s: %s after %d collections (%d freed, %d live)", program, result, stats.Collections, stats.Freed, stats.Live)

	switch result {
	case vm.InterpretOK:
		return exitOK
	case vm.InterpretCompileError:
		return exitDataErr
	default:
		return exitSoftware
	}
}

// handleDisasmCommand processes `druk disasm`.
func (a *app) handleDisasmCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "Usage: druk disasm FILE")
		return exitUsage
	}
	img, err := image.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	if err := disassembleImage(a.stdout, img); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	return exitOK
}

// disassembleImage prints each function of img. Function constants are shown
// by the name of the function they link to.
func disassembleImage(w io.Writer, img *image.Image) error {
	heap := gc.NewHeap(gc.DefaultConfig())
	var pinned []gc.Object
	defer func() {
		for _, o := range pinned {
			heap.Unpin(o)
		}
	}()

	for i, fi := range img.Functions {
		chunk, err := vm.Deserialize(fi.Chunk, heap)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		defer chunk.Release(heap)

		for slot, target := range fi.Links {
			if target < 0 || target >= len(img.Functions) {
				return fmt.Errorf("function %d: constant %d links to missing function %d", i, slot, target)
			}
			callee := img.Functions[target]
			stub := vm.NewFunction(heap, callee.Name, callee.Arity, nil)
			heap.Pin(stub)
			pinned = append(pinned, stub)
			if err := chunk.Link(int(slot), stub); err != nil {
				return fmt.Errorf("function %d: %w", i, err)
			}
		}

		name := fi.Name
		if name == "" {
			name = "script"
		}
		label := fmt.Sprintf("%s/%d", name, fi.Arity)
		if i == img.Entry {
			label += " (entry)"
		}
		fmt.Fprintf(w, "%s\n", chunk.Disassemble(label))
	}
	return nil
}
