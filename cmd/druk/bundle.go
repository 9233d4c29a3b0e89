package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/chazu/druk/image"
	"github.com/chazu/druk/manifest"
	"github.com/tliron/commonlog"
)

// A bundled executable is the druk binary followed by a trailer:
//
//	[encoded image][length: u32 little-endian][bundleMarker]
const bundleMarker = "DRUK_BYTECODE_V1"

const trailerLen = 4 + len(bundleMarker)

// bundleLayout locates the trailer of an executable. stubLen is the size of
// the file without it; payload is nil when the file carries no trailer.
type bundleLayout struct {
	stubLen int64
	payload []byte
}

// readBundle inspects the executable at path for an appended image.
func readBundle(path string) (bundleLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		return bundleLayout{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return bundleLayout{}, err
	}
	size := info.Size()
	if size < int64(trailerLen) {
		return bundleLayout{stubLen: size}, nil
	}

	trailer := make([]byte, trailerLen)
	if _, err := f.ReadAt(trailer, size-int64(trailerLen)); err != nil {
		return bundleLayout{}, fmt.Errorf("cannot read trailer of %s: %w", path, err)
	}
	if !bytes.Equal(trailer[4:], []byte(bundleMarker)) {
		return bundleLayout{stubLen: size}, nil
	}

	n := int64(binary.LittleEndian.Uint32(trailer[:4]))
	stubLen := size - int64(trailerLen) - n
	if stubLen < 0 {
		return bundleLayout{}, fmt.Errorf("%s: embedded image length %d exceeds file size", path, n)
	}
	payload := make([]byte, n)
	if _, err := f.ReadAt(payload, stubLen); err != nil {
		return bundleLayout{}, fmt.Errorf("cannot read embedded image of %s: %w", path, err)
	}
	return bundleLayout{stubLen: stubLen, payload: payload}, nil
}

// writeBundle copies the first stubLen bytes of stub to out and appends
// payload with its trailer.
func writeBundle(out, stub string, stubLen int64, payload []byte) error {
	if int64(len(payload)) > math.MaxUint32 {
		return errors.New("image too large to bundle")
	}
	src, err := os.Open(stub)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.NewSectionReader(src, 0, stubLen)); err != nil {
		dst.Close()
		return fmt.Errorf("cannot copy %s: %w", stub, err)
	}

	trailer := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
	trailer = append(trailer, bundleMarker...)
	for _, b := range [][]byte{payload, trailer} {
		if _, err := dst.Write(b); err != nil {
			dst.Close()
			return err
		}
	}
	return dst.Close()
}

// handleBundleCommand processes `druk bundle IMAGE -o EXE`.
func (a *app) handleBundleCommand(args []string) int {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	out := fs.String("o", "", "Output executable")

	// Flags may follow the image path.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return exitUsage
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if len(positional) != 1 || *out == "" {
		fmt.Fprintln(a.stderr, "Usage: druk bundle IMAGE -o EXE")
		return exitUsage
	}

	img, err := image.ReadFile(positional[0])
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	payload, err := img.Encode()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}

	stub, err := a.executablePath()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: cannot locate druk executable: %v\n", err)
		return exitFailure
	}
	// Bundling from a bundled binary replaces its image.
	layout, err := readBundle(stub)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := writeBundle(*out, stub, layout.stubLen, payload); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}

	log.Infof("bundled %s into %s (%d bytes)", positional[0], *out, len(payload))
	fmt.Fprintf(a.stdout, "%s %d\n", *out, len(payload))
	return exitOK
}

func (a *app) executablePath() (string, error) {
	if a.executable != nil {
		return a.executable()
	}
	return os.Executable()
}

// runEmbedded runs the image appended to exe, if there is one, with argv as
// the program's command line. It reports false when exe carries no image.
func (a *app) runEmbedded(exe string, argv []string) (int, bool) {
	layout, err := readBundle(exe)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr, true
	}
	if layout.payload == nil {
		return 0, false
	}

	img, err := image.Parse(layout.payload)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: embedded image: %v\n", err)
		return exitDataErr, true
	}

	commonlog.Configure(0, nil)
	a.manifest = manifest.Default(filepath.Dir(exe))
	program, args := exe, []string(nil)
	if len(argv) > 0 {
		program, args = argv[0], argv[1:]
	}
	return a.runImage(img, program, args), true
}
