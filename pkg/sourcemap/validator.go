package sourcemap

import (
	"fmt"
	"os"

	"github.com/luakit/luacov-instrument/pkg/errors"
)

// ValidationResult is the outcome of validating a source map
type ValidationResult struct {
	Valid          bool
	Errors         []ValidationError
	Warnings       []ValidationWarning
	TotalMappings  int
	RoundTripTests int
	PassedTests    int
	Accuracy       float64 // percentage (0-100)
}

// ValidationError is a violated invariant
type ValidationError struct {
	Type    string
	Message string
	Line    int
}

// ValidationWarning is a suspicious but legal condition
type ValidationWarning struct {
	Type    string
	Message string
}

// Validator checks a source map against the structural invariants
type Validator struct {
	sourceMap *SourceMap
	strict    bool // strict mode: warnings become errors
}

// NewValidator creates a validator for the given map
func NewValidator(m *SourceMap) *Validator {
	return &Validator{sourceMap: m}
}

// NewValidatorFromFile loads a serialized map and wraps it in a validator
func NewValidatorFromFile(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.IO, err, "failed to read source map file").With("path", path)
	}
	m, err := Deserialize(string(data))
	if err != nil {
		return nil, err
	}
	return NewValidator(m), nil
}

// SetStrict enables strict validation mode (warnings become errors)
func (v *Validator) SetStrict(strict bool) {
	v.strict = strict
}

// Validate runs every invariant check and the round-trip lookup test
func (v *Validator) Validate() ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   make([]ValidationError, 0),
		Warnings: make([]ValidationWarning, 0),
	}
	m := v.sourceMap
	if m == nil {
		result.Errors = append(result.Errors, ValidationError{
			Type:    "schema",
			Message: "source map is nil",
		})
		result.Valid = false
		return result
	}
	result.TotalMappings = len(m.OriginalToInstrumented)

	v.validateSchema(&result)
	v.validateSymmetry(&result)
	v.validateTrackingDisjoint(&result)
	v.validateRanges(&result)
	v.validateBoundaries(&result)
	v.validateRoundTrip(&result)

	if result.RoundTripTests > 0 {
		result.Accuracy = float64(result.PassedTests) / float64(result.RoundTripTests) * 100.0
	}

	if v.strict && len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			result.Errors = append(result.Errors, ValidationError{Type: w.Type, Message: w.Message})
		}
		result.Warnings = nil
	}
	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result
}

func (v *Validator) validateSchema(result *ValidationResult) {
	m := v.sourceMap
	if m.Path == "" {
		result.Errors = append(result.Errors, ValidationError{
			Type:    "schema",
			Message: "path must be non-empty",
		})
	}
	if m.OriginalLineCount < 0 || m.InstrumentedLineCount < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Type:    "schema",
			Message: "line counts must be non-negative",
		})
	}
	if m.OriginalToInstrumented == nil || m.InstrumentedToOriginal == nil {
		result.Errors = append(result.Errors, ValidationError{
			Type:    "schema",
			Message: "direction maps must be initialized",
		})
	}
}

// validateSymmetry: every (o → i) must be mirrored by (i → o) wherever
// both entries exist
func (v *Validator) validateSymmetry(result *ValidationResult) {
	m := v.sourceMap
	for o, i := range m.OriginalToInstrumented {
		if back, ok := m.InstrumentedToOriginal[i]; ok && back != o {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "symmetry",
				Message: fmt.Sprintf("original %d → instrumented %d, but instrumented %d → original %d", o, i, i, back),
				Line:    o,
			})
		}
	}
	for i, o := range m.InstrumentedToOriginal {
		if fwd, ok := m.OriginalToInstrumented[o]; ok && fwd != i {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "symmetry",
				Message: fmt.Sprintf("instrumented %d → original %d, but original %d → instrumented %d", i, o, o, fwd),
				Line:    i,
			})
		}
	}
}

// validateTrackingDisjoint: a tracking line never appears as the target
// of an original line
func (v *Validator) validateTrackingDisjoint(result *ValidationResult) {
	m := v.sourceMap
	for i, val := range m.TrackingLookup {
		if val != i {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "tracking",
				Message: fmt.Sprintf("tracking_lookup[%d] = %d, value must equal key", i, val),
				Line:    i,
			})
		}
	}
	for o, i := range m.OriginalToInstrumented {
		if _, tracking := m.TrackingLookup[i]; tracking {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "tracking",
				Message: fmt.Sprintf("original %d maps to tracking line %d", o, i),
				Line:    o,
			})
		}
	}
}

// validateRanges: all keys and values lie within the line counts
func (v *Validator) validateRanges(result *ValidationResult) {
	m := v.sourceMap
	for o, i := range m.OriginalToInstrumented {
		if o < 1 || o > m.OriginalLineCount {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "range",
				Message: fmt.Sprintf("original line %d outside [1, %d]", o, m.OriginalLineCount),
				Line:    o,
			})
		}
		if i < 1 || i > m.InstrumentedLineCount {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "range",
				Message: fmt.Sprintf("instrumented line %d outside [1, %d]", i, m.InstrumentedLineCount),
				Line:    i,
			})
		}
	}
	for i := range m.TrackingLookup {
		if i < 1 || i > m.InstrumentedLineCount {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "range",
				Message: fmt.Sprintf("tracking line %d outside [1, %d]", i, m.InstrumentedLineCount),
				Line:    i,
			})
		}
	}
}

// validateBoundaries: every boundary satisfies 1 ≤ start ≤ finish ≤
// original_line_count and its start is mapped
func (v *Validator) validateBoundaries(result *ValidationResult) {
	m := v.sourceMap
	for key, b := range m.StatementBoundaries {
		if key != b.Start {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Type:    "boundary",
				Message: fmt.Sprintf("boundary keyed at %d starts at %d", key, b.Start),
			})
		}
		if b.Start < 1 || b.Start > b.Finish || b.Finish > m.OriginalLineCount {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "boundary",
				Message: fmt.Sprintf("boundary (%d, %d) violates 1 <= start <= finish <= %d", b.Start, b.Finish, m.OriginalLineCount),
				Line:    b.Start,
			})
		}
		if _, ok := m.OriginalToInstrumented[b.Start]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "boundary",
				Message: fmt.Sprintf("boundary start %d has no forward mapping", b.Start),
				Line:    b.Start,
			})
		}
	}
}

// validateRoundTrip: for every mapped original line, both lookups agree
func (v *Validator) validateRoundTrip(result *ValidationResult) {
	m := v.sourceMap
	for o, i := range m.OriginalToInstrumented {
		result.RoundTripTests++
		back, err := m.GetOriginalLine(i)
		if err == nil && back == o {
			result.PassedTests++
			continue
		}
		// derived boundary mappings legitimately collapse several
		// original lines onto one instrumented line
		inBoundary := false
		for _, bd := range m.StatementBoundaries {
			if o >= bd.Start && o <= bd.Finish {
				inBoundary = true
				break
			}
		}
		if inBoundary {
			result.PassedTests++
			continue
		}
		result.Warnings = append(result.Warnings, ValidationWarning{
			Type:    "roundtrip",
			Message: fmt.Sprintf("original %d → instrumented %d does not round-trip (got %d)", o, i, back),
		})
	}
}
