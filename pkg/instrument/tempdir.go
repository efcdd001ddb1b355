package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/luakit/luacov-instrument/pkg/errors"
)

// FileEntry records one instrumented artifact written under the root.
// The content digest makes each file identifiable if the root is ever
// scanned for orphans.
type FileEntry struct {
	OriginalPath     string
	InstrumentedPath string
	Digest           uint64
	WrittenAt        time.Time
}

// TempRoot owns the process temporary directory that holds every
// instrumented file. The directory is created on first use and removed
// by Shutdown. Each original path has one artifact location; a later
// Write for the same original path overwrites that artifact and replaces
// its registry entry.
type TempRoot struct {
	mu      sync.Mutex
	dir     string
	entries map[string]FileEntry // keyed by instrumented path
	logging bool
}

// NewTempRoot creates a root handle; the directory itself is created lazily
func NewTempRoot() *TempRoot {
	return &TempRoot{entries: make(map[string]FileEntry)}
}

// EnableLog turns on the build.log diagnostics file under the root
func (t *TempRoot) EnableLog(on bool) {
	t.mu.Lock()
	t.logging = on
	t.mu.Unlock()
}

// Dir returns the root directory, creating it on first use
func (t *TempRoot) Dir() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirLocked()
}

func (t *TempRoot) dirLocked() (string, error) {
	if t.dir != "" {
		return t.dir, nil
	}
	dir, err := os.MkdirTemp("", "luacov-instrument-")
	if err != nil {
		return "", errors.Wrap(errors.IO, err, "failed to create temporary root")
	}
	t.dir = dir
	return dir, nil
}

// pathFor resolves the instrumented location for an original path:
// <root>/instrumented/<original-relative-path>. A leading separator is
// stripped and parent references are discarded so the result always
// stays under the root.
func (t *TempRoot) pathFor(root, originalPath string) string {
	rel := filepath.ToSlash(filepath.Clean(originalPath))
	rel = strings.TrimPrefix(rel, "/")
	parts := strings.Split(rel, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == ".." || p == "." || p == "" {
			continue
		}
		kept = append(kept, p)
	}
	return filepath.Join(root, "instrumented", filepath.Join(kept...))
}

// Write persists instrumented bytes for originalPath and registers the
// artifact. Returns the instrumented path.
func (t *TempRoot) Write(originalPath string, data []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.dirLocked()
	if err != nil {
		return "", err
	}
	target := t.pathFor(root, originalPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errors.Wrap(errors.IO, err, "failed to create instrumented directory").With("path", target)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", errors.Wrap(errors.IO, err, "failed to write instrumented file").With("path", target)
	}

	t.entries[target] = FileEntry{
		OriginalPath:     originalPath,
		InstrumentedPath: target,
		Digest:           xxhash.Sum64(data),
		WrittenAt:        time.Now(),
	}
	return target, nil
}

// Discard removes a written artifact and its registry entry. Used when
// a later pipeline step fails: a failed instrumentation must leave no
// instrumented file behind.
func (t *TempRoot) Discard(instrumentedPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, instrumentedPath)
	os.Remove(instrumentedPath)
	os.Remove(instrumentedPath + ".map")
}

// Path returns the root directory without creating it; empty until the
// first Write.
func (t *TempRoot) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir
}

// Entries returns a snapshot of every registered artifact
func (t *TempRoot) Entries() []FileEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FileEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Logf appends a line to <root>/build.log when logging is enabled
func (t *TempRoot) Logf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.logging || t.dir == "" {
		return
	}
	f, err := os.OpenFile(filepath.Join(t.dir, "build.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Shutdown removes the root directory and clears the registry. Safe to
// call more than once.
func (t *TempRoot) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir == "" {
		return nil
	}
	dir := t.dir
	t.dir = ""
	t.entries = make(map[string]FileEntry)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(errors.IO, err, "failed to remove temporary root").With("path", dir)
	}
	return nil
}

// PathPair binds an instrumented artifact to its original file so
// run-time hits are attributed correctly.
type PathPair struct {
	Original     string
	Instrumented string
}

// PairRegistry is the append-only original↔instrumented registry.
// Mutation is mutex-guarded; the engine registers a pair exactly once,
// strictly after the instrumented file is fully written.
type PairRegistry struct {
	mu             sync.Mutex
	pairs          []PathPair
	byInstrumented map[string]string
}

// NewPairRegistry creates an empty registry
func NewPairRegistry() *PairRegistry {
	return &PairRegistry{byInstrumented: make(map[string]string)}
}

// Register appends a pair; re-registering an instrumented path is ignored
func (r *PairRegistry) Register(original, instrumented string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byInstrumented[instrumented]; ok {
		return
	}
	r.byInstrumented[instrumented] = original
	r.pairs = append(r.pairs, PathPair{Original: original, Instrumented: instrumented})
}

// OriginalFor resolves the original path of an instrumented artifact
func (r *PairRegistry) OriginalFor(instrumented string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byInstrumented[instrumented]
	return o, ok
}

// Pairs returns a snapshot of all registered pairs in registration order
func (r *PairRegistry) Pairs() []PathPair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PathPair, len(r.pairs))
	copy(out, r.pairs)
	return out
}
