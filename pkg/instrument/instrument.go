// Package instrument is the driver composing parser, transformer, code
// generator, and source-map builder into the per-file instrumentation
// pipeline.
//
// Each file's pipeline runs start-to-finish in one goroutine and shares
// no mutable state with other pipelines except the temp-file and
// path-pair registries, which are mutex-guarded. The source map is only
// observable after the instrumented file is fully written; registration
// happens strictly after the write.
package instrument

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/luakit/luacov-instrument/pkg/config"
	"github.com/luakit/luacov-instrument/pkg/errors"
	"github.com/luakit/luacov-instrument/pkg/generator"
	"github.com/luakit/luacov-instrument/pkg/parser"
	"github.com/luakit/luacov-instrument/pkg/sourcemap"
	"github.com/luakit/luacov-instrument/pkg/transform"
)

// Result is the outcome of a successful instrumentation
type Result struct {
	InstrumentedPath string
	SourceMap        *sourcemap.SourceMap
}

// Instrumenter runs the instrumentation pipeline. It is reentrant per
// file: concurrent calls on distinct paths are safe.
type Instrumenter struct {
	cfg    *config.Config
	logger Logger
	root   *TempRoot
	pairs  *PairRegistry
}

// Option configures an Instrumenter
type Option func(*Instrumenter)

// WithLogger sets the driver logger; the default is silent
func WithLogger(l Logger) Option {
	return func(in *Instrumenter) { in.logger = l }
}

// WithBuildLog enables the build.log diagnostics file under the temp root
func WithBuildLog() Option {
	return func(in *Instrumenter) { in.root.EnableLog(true) }
}

// New creates an Instrumenter from the loaded configuration (user and
// project config files over the built-in defaults); when loading fails it
// uses the built-in defaults
func New(opts ...Option) (*Instrumenter, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	return NewWithConfig(cfg, opts...), nil
}

// NewWithConfig creates an Instrumenter with a custom configuration
func NewWithConfig(cfg *config.Config, opts ...Option) *Instrumenter {
	in := &Instrumenter{
		cfg:    cfg,
		logger: NewNoOpLogger(),
		root:   NewTempRoot(),
		pairs:  NewPairRegistry(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Config returns the active configuration
func (in *Instrumenter) Config() *config.Config { return in.cfg }

// Pairs returns the registered original↔instrumented path pairs
func (in *Instrumenter) Pairs() []PathPair { return in.pairs.Pairs() }

// TempEntries returns the artifacts written under the temp root
func (in *Instrumenter) TempEntries() []FileEntry { return in.root.Entries() }

// TempRootDir returns the managed temp root directory; empty until the
// first instrumented file is written.
func (in *Instrumenter) TempRootDir() string { return in.root.Path() }

// Shutdown removes the temporary root and everything under it
func (in *Instrumenter) Shutdown() error { return in.root.Shutdown() }

// InstrumentFile rewrites one Lua file with tracking calls, writes the
// result under the managed temp root, and returns the instrumented path
// together with the authoritative source map.
func (in *Instrumenter) InstrumentFile(path string) (*Result, error) {
	if path == "" {
		return nil, errors.New(errors.Validation, "file path must be a non-empty string")
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.IO, err, "failed to read source file").With("path", path)
	}

	root, err := parser.Parse(src, path)
	if err != nil {
		return nil, errors.Wrap(errors.Parse, err, "failed to parse Lua source").With("path", path)
	}

	transformed, hints, err := transform.New().Transform(root)
	if err != nil {
		return nil, errors.Wrap(errors.Transform, err, "failed to insert tracking calls").With("path", path)
	}
	in.logger.Debugf("Inserted %d tracking calls: %s", len(hints.TrackingLookup), path)

	output, err := generator.New().Generate(transformed)
	if err != nil {
		return nil, errors.Wrap(errors.Codegen, err, "failed to generate instrumented source").With("path", path)
	}

	instrumentedPath, err := in.root.Write(path, output)
	if err != nil {
		return nil, err
	}

	builder := sourcemap.NewBuilder()
	m, err := builder.Build(path, string(src), string(output))
	if err != nil {
		in.root.Discard(instrumentedPath)
		return nil, err
	}
	for _, w := range builder.Warnings() {
		in.logger.Warnf("Source map alignment: %s: %s", path, w)
		in.root.Logf("align %s: %s", path, w)
	}

	if in.cfg.SourceMap.Enabled && in.cfg.SourceMap.Format != config.FormatNone {
		if err := in.writeMapSidecar(instrumentedPath, m); err != nil {
			in.root.Discard(instrumentedPath)
			return nil, err
		}
	}

	// Registration happens strictly after the write; no observer sees a
	// half-written artifact bound to its map.
	in.pairs.Register(path, instrumentedPath)
	in.root.Logf("instrumented %s -> %s", path, instrumentedPath)
	in.logger.Infof("Instrumented: %s -> %s", path, instrumentedPath)

	return &Result{InstrumentedPath: instrumentedPath, SourceMap: m}, nil
}

func (in *Instrumenter) writeMapSidecar(instrumentedPath string, m *sourcemap.SourceMap) error {
	payload, err := m.Serialize()
	if err != nil {
		return err
	}
	mapPath := instrumentedPath + ".map"
	if err := os.WriteFile(mapPath, []byte(payload), 0o644); err != nil {
		return errors.Wrap(errors.IO, err, "failed to write source map sidecar").With("path", mapPath)
	}
	return nil
}

// InstrumentTree instruments every .lua file under path (or path itself
// when it is a file), honoring the include/exclude filters. Files that
// fail keep the rest of the tree going; the first error is returned
// after the walk together with the successful results.
func (in *Instrumenter) InstrumentTree(path string) ([]*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(errors.IO, err, "failed to stat path").With("path", path)
	}

	var files []string
	if info.IsDir() {
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(p, ".lua") {
				return nil
			}
			files = append(files, p)
			return nil
		})
		if walkErr != nil {
			return nil, errors.Wrap(errors.IO, walkErr, "failed to walk directory").With("path", path)
		}
	} else {
		files = []string{path}
	}

	var results []*Result
	var firstErr error
	for _, f := range files {
		selected, err := in.cfg.Selects(f)
		if err != nil {
			return results, errors.Wrap(errors.Validation, err, "bad file filter")
		}
		if !selected {
			in.logger.Debugf("Skipping (filtered): %s", f)
			continue
		}
		res, err := in.InstrumentFile(f)
		if err != nil {
			in.logger.Errorf("Failed: %s: %v", f, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}
