// Package manifest handles druk.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/druk/gc"
	"github.com/chazu/druk/vm"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "druk.toml"

// DefaultStorePath is the image database location relative to the project.
const DefaultStorePath = ".druk/images.db"

// Manifest represents a druk.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	VM      VMConfig    `toml:"vm"`
	GC      GCConfig    `toml:"gc"`
	Store   StoreConfig `toml:"store"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the druk.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Entry is the image file, or store:NAME, that `druk run` uses when no
	// program is given.
	Entry string `toml:"entry"`
}

// VMConfig bounds the interpreter.
type VMConfig struct {
	MaxFrames int  `toml:"max_frames"`
	StackMax  int  `toml:"stack_max"`
	Trace     bool `toml:"trace"`
}

// GCConfig tunes collection. Field meanings follow gc.Config.
type GCConfig struct {
	InitialThreshold int `toml:"initial_threshold"`
	GrowthFactor     int `toml:"growth_factor"`
	MinThreshold     int `toml:"min_threshold"`
	MaxObjects       int `toml:"max_objects"`
}

// StoreConfig locates the image database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures host diagnostics.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no druk.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults(toml.MetaData{})
	return m
}

// Load parses a druk.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.applyDefaults(md)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a druk.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	switch {
	case m.VM.MaxFrames < 0:
		return fmt.Errorf("vm.max_frames must not be negative")
	case m.VM.StackMax < 0:
		return fmt.Errorf("vm.stack_max must not be negative")
	case m.GC.InitialThreshold < 0:
		return fmt.Errorf("gc.initial_threshold must not be negative")
	case m.GC.GrowthFactor == 1 || m.GC.GrowthFactor < 0:
		return fmt.Errorf("gc.growth_factor must be at least 2")
	case m.GC.MinThreshold < 0:
		return fmt.Errorf("gc.min_threshold must not be negative")
	case m.GC.MaxObjects < 0:
		return fmt.Errorf("gc.max_objects must not be negative")
	}
	return nil
}

// applyDefaults fills unset fields. An explicit gc.min_threshold of zero is
// kept: the threshold then never resets to its initial value.
func (m *Manifest) applyDefaults(md toml.MetaData) {
	if m.VM.MaxFrames == 0 {
		m.VM.MaxFrames = vm.DefaultMaxFrames
	}
	if m.VM.StackMax == 0 {
		m.VM.StackMax = vm.DefaultStackMax
	}
	if m.GC.InitialThreshold == 0 {
		m.GC.InitialThreshold = gc.DefaultInitialThreshold
	}
	if m.GC.GrowthFactor == 0 {
		m.GC.GrowthFactor = gc.DefaultGrowthFactor
	}
	if m.GC.MinThreshold == 0 && !md.IsDefined("gc", "min_threshold") {
		m.GC.MinThreshold = gc.DefaultMinThreshold
	}
	if m.Store.Path == "" {
		m.Store.Path = DefaultStorePath
	}
}

// HeapConfig returns the collector settings.
func (m *Manifest) HeapConfig() gc.Config {
	return gc.Config{
		InitialThreshold: m.GC.InitialThreshold,
		GrowthFactor:     m.GC.GrowthFactor,
		MinThreshold:     m.GC.MinThreshold,
		MaxObjects:       m.GC.MaxObjects,
	}
}

// VMOptions returns interpreter options for the configured limits.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxFrames(m.VM.MaxFrames),
		vm.WithStackMax(m.VM.StackMax),
		vm.WithTrace(m.VM.Trace),
	}
}

// StorePath returns the absolute path of the image database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
