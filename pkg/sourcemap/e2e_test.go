package sourcemap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luakit/luacov-instrument/pkg/generator"
	"github.com/luakit/luacov-instrument/pkg/parser"
	"github.com/luakit/luacov-instrument/pkg/transform"
)

// instrumentSource runs the full parse → transform → generate pipeline
func instrumentSource(t *testing.T, src string) string {
	t.Helper()
	root, err := parser.ParseString(src)
	require.NoError(t, err)
	transformed, _, err := transform.New().Transform(root)
	require.NoError(t, err)
	out, err := generator.New().Generate(transformed)
	require.NoError(t, err)
	return string(out)
}

func buildFor(t *testing.T, src string) (*SourceMap, string) {
	t.Helper()
	instrumented := instrumentSource(t, src)
	m, err := Build("e2e.lua", src, instrumented)
	require.NoError(t, err)
	return m, instrumented
}

func TestEndToEndSingleStatement(t *testing.T) {
	m, instrumented := buildFor(t, "return 42")

	assert.Equal(t, "__coverage_tracker.track(1)\nreturn 42\n", instrumented)
	assert.Equal(t, map[int]int{1: 2}, m.OriginalToInstrumented)
	assert.Equal(t, TrackingSet{1: 1}, m.TrackingLookup)
	assert.Equal(t, 1, m.OriginalLineCount)
	assert.Equal(t, 2, m.InstrumentedLineCount)

	_, err := m.GetOriginalLine(1)
	assert.ErrorIs(t, err, ErrTrackingLine)

	require.True(t, NewValidator(m).Validate().Valid)
}

func TestEndToEndBranch(t *testing.T) {
	src := strings.Join([]string{
		"local x = 1",
		"if x > 0 then",
		"  return x",
		"end",
	}, "\n")
	m, instrumented := buildFor(t, src)

	// tracking before the local, the if itself, and the return; the
	// closing end is structural
	assert.Equal(t, 3, strings.Count(instrumented, transform.TrackingMarker))
	assert.Equal(t, map[int]int{1: 2, 2: 4, 3: 6, 4: 7}, m.OriginalToInstrumented)

	// symmetry holds for every mapped line
	for o, i := range m.OriginalToInstrumented {
		back, err := m.GetOriginalLine(i)
		require.NoError(t, err)
		assert.Equal(t, o, back)
		fwd, err := m.GetInstrumentedLine(o)
		require.NoError(t, err)
		assert.Equal(t, i, fwd)
	}

	require.True(t, NewValidator(m).Validate().Valid)
}

func TestEndToEndMultiLineCall(t *testing.T) {
	src := strings.Join([]string{
		"print(",
		`  "hello",`,
		`  "world"`,
		")",
	}, "\n")
	m, instrumented := buildFor(t, src)

	assert.Equal(t, 1, strings.Count(instrumented, transform.TrackingMarker))
	assert.Equal(t, Boundary{Start: 1, Finish: 4}, m.StatementBoundaries[1])
	for o := 1; o <= 4; o++ {
		got, err := m.GetInstrumentedLine(o)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	}
	require.True(t, NewValidator(m).Validate().Valid)
}

func TestEndToEndEmptyFile(t *testing.T) {
	m, instrumented := buildFor(t, "")

	assert.Equal(t, "", instrumented)
	assert.Empty(t, m.OriginalToInstrumented)
	assert.Empty(t, m.InstrumentedToOriginal)
	assert.Equal(t, m.OriginalLineCount, m.InstrumentedLineCount)
}

func TestEndToEndCommentOnlyFile(t *testing.T) {
	src := "-- configuration notes\n-- nothing executable"
	m, instrumented := buildFor(t, src)

	assert.Equal(t, 0, strings.Count(instrumented, transform.TrackingMarker))
	assert.Equal(t, map[int]int{1: 1, 2: 2}, m.OriginalToInstrumented)
}

func TestEndToEndSerializeRoundTrip(t *testing.T) {
	src := strings.Join([]string{
		"local x = 1",
		"if x > 0 then",
		"  return x",
		"end",
	}, "\n")
	m, _ := buildFor(t, src)

	payload, err := m.Serialize()
	require.NoError(t, err)
	got, err := Deserialize(payload)
	require.NoError(t, err)

	require.True(t, NewValidator(got).Validate().Valid)
	for o := 1; o <= m.OriginalLineCount; o++ {
		wantLine, wantErr := m.GetInstrumentedLine(o)
		gotLine, gotErr := got.GetInstrumentedLine(o)
		assert.Equal(t, wantLine, gotLine, "original line %d", o)
		assert.Equal(t, wantErr == nil, gotErr == nil, "original line %d", o)
	}
	for i := 1; i <= m.InstrumentedLineCount; i++ {
		wantLine, wantErr := m.GetOriginalLine(i)
		gotLine, gotErr := got.GetOriginalLine(i)
		assert.Equal(t, wantLine, gotLine, "instrumented line %d", i)
		assert.Equal(t, wantErr == nil, gotErr == nil, "instrumented line %d", i)
	}
}

// Instrumenting already-instrumented text must still produce a valid
// map: tracking calls parse as ordinary calls and get their own prefix.
func TestEndToEndReinstrumentation(t *testing.T) {
	first := instrumentSource(t, "return 42")
	second := instrumentSource(t, first)

	// each of the two input statements gains a fresh tracking call
	firstCount := strings.Count(first, transform.TrackingMarker)
	secondCount := strings.Count(second, transform.TrackingMarker)
	assert.Equal(t, 1, firstCount)
	assert.Equal(t, 3, secondCount)

	m, err := Build("again.lua", first, second)
	require.NoError(t, err)
	require.True(t, NewValidator(m).Validate().Valid)
}
