package sourcemap

import (
	"encoding/json"
	stderrors "errors"
	"testing"
)

func sampleMap() *SourceMap {
	m := New("lib/module.lua")
	m.OriginalLineCount = 4
	m.InstrumentedLineCount = 7
	m.OriginalToInstrumented = map[int]int{1: 2, 2: 4, 3: 6, 4: 7}
	m.InstrumentedToOriginal = map[int]int{2: 1, 4: 2, 6: 3, 7: 4}
	m.TrackingLookup = TrackingSet{1: 1, 3: 3, 5: 5}
	return m
}

func TestNewSourceMap(t *testing.T) {
	m := New("a.lua")

	if m.Path != "a.lua" {
		t.Errorf("expected path 'a.lua', got %q", m.Path)
	}
	if m.OriginalToInstrumented == nil || m.InstrumentedToOriginal == nil {
		t.Error("expected direction maps to be initialized")
	}
	if m.TrackingLookup == nil || m.StatementBoundaries == nil {
		t.Error("expected lookup tables to be initialized")
	}
}

func TestLookupForward(t *testing.T) {
	m := sampleMap()

	got, err := m.GetInstrumentedLine(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 4 {
		t.Errorf("expected instrumented line 4, got %d", got)
	}
}

func TestLookupForwardNearestFallback(t *testing.T) {
	m := New("a.lua")
	m.OriginalLineCount = 10
	m.InstrumentedLineCount = 10
	m.OriginalToInstrumented[5] = 6
	m.InstrumentedToOriginal[6] = 5

	// line 7 is unmapped; line 5 is within distance 2
	got, err := m.GetInstrumentedLine(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 6 {
		t.Errorf("expected fallback to line 6, got %d", got)
	}

	// line 8 is distance 3 away from the nearest mapping
	if _, err := m.GetInstrumentedLine(8); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupForwardBoundary(t *testing.T) {
	m := New("a.lua")
	m.OriginalLineCount = 5
	m.InstrumentedLineCount = 2
	m.OriginalToInstrumented[1] = 2
	m.InstrumentedToOriginal[2] = 1
	m.StatementBoundaries[1] = Boundary{Start: 1, Finish: 5}

	for o := 1; o <= 5; o++ {
		got, err := m.GetInstrumentedLine(o)
		if err != nil {
			t.Fatalf("line %d: unexpected error: %v", o, err)
		}
		if got != 2 {
			t.Errorf("line %d: expected 2, got %d", o, got)
		}
	}
}

func TestLookupReverse(t *testing.T) {
	m := sampleMap()

	got, err := m.GetOriginalLine(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("expected original line 2, got %d", got)
	}
}

func TestLookupReverseTrackingLineIsDistinct(t *testing.T) {
	m := sampleMap()

	_, err := m.GetOriginalLine(1)
	if !stderrors.Is(err, ErrTrackingLine) {
		t.Errorf("expected ErrTrackingLine, got %v", err)
	}
	if stderrors.Is(err, ErrNotFound) {
		t.Error("tracking error must be distinguishable from not-found")
	}

	_, err = m.GetOriginalLine(99)
	if !stderrors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	m := sampleMap()
	m.StatementBoundaries[2] = Boundary{Start: 2, Finish: 3}

	payload, err := m.Serialize()
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	got, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}

	if got.Path != m.Path {
		t.Errorf("path: got %q, want %q", got.Path, m.Path)
	}
	if got.OriginalLineCount != m.OriginalLineCount || got.InstrumentedLineCount != m.InstrumentedLineCount {
		t.Error("line counts did not survive the round trip")
	}
	for o, i := range m.OriginalToInstrumented {
		if got.OriginalToInstrumented[o] != i {
			t.Errorf("forward map entry %d: got %d, want %d", o, got.OriginalToInstrumented[o], i)
		}
	}
	for i := range m.TrackingLookup {
		if got.TrackingLookup[i] != i {
			t.Errorf("tracking entry %d missing or wrong", i)
		}
	}
	if got.StatementBoundaries[2] != m.StatementBoundaries[2] {
		t.Error("statement boundary did not survive the round trip")
	}

	// both lookups agree with the source map for every original line
	for o := 1; o <= m.OriginalLineCount; o++ {
		wantI, wantErr := m.GetInstrumentedLine(o)
		gotI, gotErr := got.GetInstrumentedLine(o)
		if wantI != gotI || (wantErr == nil) != (gotErr == nil) {
			t.Errorf("lookup mismatch for original line %d", o)
		}
	}
}

func TestDeserializeLegacyBooleanTracking(t *testing.T) {
	payload := `{
		"path": "legacy.lua",
		"original_to_instrumented": {"1": 2},
		"instrumented_to_original": {"2": 1},
		"tracking_lookup": {"1": true, "3": true, "5": false},
		"original_line_count": 1,
		"instrumented_line_count": 2
	}`
	m, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}

	if m.TrackingLookup[1] != 1 || m.TrackingLookup[3] != 3 {
		t.Errorf("expected true values coerced to keys, got %v", m.TrackingLookup)
	}
	if _, ok := m.TrackingLookup[5]; ok {
		t.Error("false entries must not be kept")
	}
}

func TestSerializeNeverEmitsBooleans(t *testing.T) {
	m := sampleMap()
	payload, err := m.Serialize()
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	var tracking map[string]int
	if err := json.Unmarshal(raw["tracking_lookup"], &tracking); err != nil {
		t.Fatalf("tracking_lookup values must decode as integers: %v", err)
	}
	for k, v := range tracking {
		if k != "" && v == 0 {
			t.Errorf("tracking entry %s has zero value", k)
		}
	}
}

func TestDeserializeRebuildsSymmetry(t *testing.T) {
	payload := `{
		"path": "asym.lua",
		"original_to_instrumented": {"1": 2, "3": 5},
		"instrumented_to_original": {"2": 1},
		"original_line_count": 3,
		"instrumented_line_count": 5
	}`
	m, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}

	if m.InstrumentedToOriginal[5] != 3 {
		t.Errorf("expected reverse entry rebuilt from forward map, got %v", m.InstrumentedToOriginal)
	}
	if res := NewValidator(m).Validate(); !res.Valid {
		t.Errorf("rebuilt map should validate, got %+v", res.Errors)
	}
}

func TestDeserializeMissingRequiredFields(t *testing.T) {
	cases := []string{
		"",
		"not json at all",
		`{"original_to_instrumented": {"1": 2}}`,
	}
	for _, payload := range cases {
		if _, err := Deserialize(payload); err == nil {
			t.Errorf("payload %q: expected error", payload)
		}
	}
}

func TestDeserializeDefaultsRecomputableFields(t *testing.T) {
	payload := `{
		"path": "sparse.lua",
		"original_to_instrumented": {"1": 2},
		"instrumented_to_original": {"2": 1},
		"original_line_count": 1,
		"instrumented_line_count": 2
	}`
	m, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	if m.TrackingLookup == nil || m.StatementBoundaries == nil {
		t.Error("missing recomputable fields must default to empty, not nil")
	}
}
