// Package sourcemap builds and queries the authoritative line map
// between an original Lua file and its instrumented counterpart.
//
// The map is rebuilt from the emitted text rather than predicted during
// transformation, so it stays correct regardless of code generator
// layout.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/luakit/luacov-instrument/pkg/errors"
)

// Boundary is the (start, finish) span of a statement whose original
// source occupies more than one physical line.
type Boundary struct {
	Start  int `json:"start"`
	Finish int `json:"finish"`
}

// TrackingSet maps instrumented line → itself for every line holding a
// tracking call. Legacy payloads stored boolean values; the decoder
// coerces `true` to the key and the encoder only ever writes integers.
type TrackingSet map[int]int

// UnmarshalJSON accepts both integer and boolean values
func (t *TrackingSet) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(TrackingSet, len(raw))
	for k, v := range raw {
		key, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("tracking_lookup key %q is not an integer", k)
		}
		switch v := v.(type) {
		case bool:
			if v {
				out[key] = key
			}
		case float64:
			out[key] = int(v)
		default:
			return fmt.Errorf("tracking_lookup value for %q is neither integer nor boolean", k)
		}
	}
	*t = out
	return nil
}

// SourceMap relates original and instrumented line numbers for one file
type SourceMap struct {
	Path                   string           `json:"path"`
	OriginalToInstrumented map[int]int      `json:"original_to_instrumented"`
	InstrumentedToOriginal map[int]int      `json:"instrumented_to_original"`
	TrackingLookup         TrackingSet      `json:"tracking_lookup"`
	StatementBoundaries    map[int]Boundary `json:"statement_boundaries"`
	OriginalLineCount      int              `json:"original_line_count"`
	InstrumentedLineCount  int              `json:"instrumented_line_count"`
}

// New creates an empty source map for the given original path
func New(path string) *SourceMap {
	return &SourceMap{
		Path:                   path,
		OriginalToInstrumented: make(map[int]int),
		InstrumentedToOriginal: make(map[int]int),
		TrackingLookup:         make(TrackingSet),
		StatementBoundaries:    make(map[int]Boundary),
	}
}

// Lookup failure sentinels. ErrTrackingLine is distinct from ErrNotFound
// so callers can tell "this instrumented line is engine-inserted" apart
// from "this line has no mapping".
var (
	ErrNotFound     = errors.New(errors.NotFound, "no mapping for line")
	ErrTrackingLine = errors.New(errors.NotFound, "instrumented line holds a tracking call")
)

// GetInstrumentedLine maps an original line to its instrumented line.
// Lines inside a multi-line statement resolve through the statement's
// first line; otherwise the direct map is consulted, then the nearest
// mapped original line within distance 2.
func (m *SourceMap) GetInstrumentedLine(originalLine int) (int, error) {
	for _, b := range m.StatementBoundaries {
		if originalLine >= b.Start && originalLine <= b.Finish {
			if i, ok := m.OriginalToInstrumented[b.Start]; ok {
				return i, nil
			}
		}
	}
	if i, ok := m.OriginalToInstrumented[originalLine]; ok {
		return i, nil
	}
	for d := 1; d <= 2; d++ {
		if i, ok := m.OriginalToInstrumented[originalLine-d]; ok {
			return i, nil
		}
		if i, ok := m.OriginalToInstrumented[originalLine+d]; ok {
			return i, nil
		}
	}
	return 0, ErrNotFound
}

// GetOriginalLine maps an instrumented line back to its original line.
// Tracking lines report ErrTrackingLine rather than ErrNotFound.
func (m *SourceMap) GetOriginalLine(instrumentedLine int) (int, error) {
	if _, ok := m.TrackingLookup[instrumentedLine]; ok {
		return 0, ErrTrackingLine
	}
	if o, ok := m.InstrumentedToOriginal[instrumentedLine]; ok {
		return o, nil
	}
	return 0, ErrNotFound
}

// IsTrackingLine reports whether the instrumented line holds a tracking call
func (m *SourceMap) IsTrackingLine(instrumentedLine int) bool {
	_, ok := m.TrackingLookup[instrumentedLine]
	return ok
}

// Serialize renders the map as indented JSON. Integer map keys are
// string-encoded decimals, which is how encoding/json represents
// integer-keyed maps natively.
func (m *SourceMap) Serialize() (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.Runtime, err, "failed to serialize source map")
	}
	return string(data), nil
}

// Deserialize parses a serialized map, fills recomputable fields that
// are missing, and rebuilds symmetry between the two direction maps.
func Deserialize(data string) (*SourceMap, error) {
	if data == "" {
		return nil, errors.New(errors.Validation, "cannot deserialize empty payload")
	}
	var m SourceMap
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, errors.Wrap(errors.Runtime, err, "unparseable source map payload")
	}
	if m.Path == "" {
		return nil, errors.New(errors.Runtime, "source map payload missing required field: path")
	}
	if m.OriginalToInstrumented == nil && m.InstrumentedToOriginal == nil {
		return nil, errors.New(errors.Runtime, "source map payload missing required field: original_to_instrumented")
	}

	// Recomputable fields default to empty
	if m.OriginalToInstrumented == nil {
		m.OriginalToInstrumented = make(map[int]int)
	}
	if m.InstrumentedToOriginal == nil {
		m.InstrumentedToOriginal = make(map[int]int)
	}
	if m.TrackingLookup == nil {
		m.TrackingLookup = make(TrackingSet)
	}
	if m.StatementBoundaries == nil {
		m.StatementBoundaries = make(map[int]Boundary)
	}

	// Rebuild the reverse map from the forward map for any asymmetric pair
	for o, i := range m.OriginalToInstrumented {
		if _, ok := m.InstrumentedToOriginal[i]; !ok {
			m.InstrumentedToOriginal[i] = o
		}
	}
	for i, o := range m.InstrumentedToOriginal {
		if _, ok := m.OriginalToInstrumented[o]; !ok {
			m.OriginalToInstrumented[o] = i
		}
	}
	return &m, nil
}

// Validate checks every structural invariant and returns the first
// violation. The full report is available through the Validator.
func (m *SourceMap) Validate() error {
	result := NewValidator(m).Validate()
	if result.Valid {
		return nil
	}
	first := result.Errors[0]
	return errors.New(errors.Validation, first.Message).With("type", first.Type)
}
