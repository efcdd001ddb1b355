package sourcemap

import (
	"fmt"
	"strings"

	"github.com/luakit/luacov-instrument/pkg/errors"
	"github.com/luakit/luacov-instrument/pkg/transform"
)

// Diagnostic is a non-fatal alignment problem found while building a map
type Diagnostic struct {
	OriginalLine     int
	InstrumentedLine int
	Message          string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d/%d: %s", d.OriginalLine, d.InstrumentedLine, d.Message)
}

// lookAhead is the bounded window the diff walk searches on a miss
const lookAhead = 5

// Builder aligns an original and an instrumented line stream into a
// SourceMap. Alignment is never fatal: unmatched lines degrade to
// diagnostics, not errors.
type Builder struct {
	// Marker is the literal substring identifying tracking calls;
	// defaults to the transformer's reserved symbol.
	Marker string

	warnings []Diagnostic
}

// NewBuilder creates a builder using the engine's tracking marker
func NewBuilder() *Builder {
	return &Builder{Marker: transform.TrackingMarker}
}

// Warnings returns the diagnostics collected by the last Build
func (b *Builder) Warnings() []Diagnostic {
	return b.warnings
}

// Build is a convenience wrapper over a fresh builder
func Build(path, original, instrumented string) (*SourceMap, error) {
	return NewBuilder().Build(path, original, instrumented)
}

// Build constructs the authoritative map for the given streams
func (b *Builder) Build(path, original, instrumented string) (*SourceMap, error) {
	if path == "" {
		return nil, errors.New(errors.Validation, "source map path must be a non-empty string")
	}
	b.warnings = nil

	m := New(path)
	origLines := splitLines(original)
	instLines := splitLines(instrumented)
	m.OriginalLineCount = len(origLines)
	m.InstrumentedLineCount = len(instLines)

	// First pass: every instrumented line containing the marker is a
	// tracking line. Exact substring search, no patterns.
	for i, line := range instLines {
		if strings.Contains(line, b.Marker) {
			m.TrackingLookup[i+1] = i + 1
		}
	}

	b.align(m, origLines, instLines)
	b.detectBoundaries(m, origLines)
	b.fillBoundaryGaps(m)

	return m, nil
}

// align walks both line streams with two cursors, skipping tracking
// lines and recording matches under three equivalence predicates of
// decreasing specificity.
func (b *Builder) align(m *SourceMap, origLines, instLines []string) {
	o, i := 1, 1
	for o <= len(origLines) && i <= len(instLines) {
		if _, tracking := m.TrackingLookup[i]; tracking {
			i++
			continue
		}
		if b.equivalent(origLines[o-1], instLines[i-1]) {
			b.record(m, o, i)
			o++
			i++
			continue
		}

		matched := false
		for d := 1; d <= lookAhead && !matched; d++ {
			// forward on the instrumented side
			if i+d <= len(instLines) {
				if _, tracking := m.TrackingLookup[i+d]; !tracking &&
					b.equivalent(origLines[o-1], instLines[i+d-1]) {
					b.record(m, o, i+d)
					o++
					i = i + d + 1
					matched = true
					break
				}
			}
			// forward on the original side
			if o+d <= len(origLines) &&
				b.equivalent(origLines[o+d-1], instLines[i-1]) {
				b.record(m, o+d, i)
				o = o + d + 1
				i++
				matched = true
			}
		}
		if !matched {
			b.warnings = append(b.warnings, Diagnostic{
				OriginalLine:     o,
				InstrumentedLine: i,
				Message:          "no equivalent line within look-ahead window",
			})
			o++
			i++
		}
	}
}

// record stores the (o, i) pair in both direction maps, first entry wins
func (b *Builder) record(m *SourceMap, o, i int) {
	if _, seen := m.OriginalToInstrumented[o]; seen {
		return
	}
	if _, seen := m.InstrumentedToOriginal[i]; seen {
		return
	}
	m.OriginalToInstrumented[o] = i
	m.InstrumentedToOriginal[i] = o
}

// detectBoundaries runs the multi-line statement state machine over the
// original lines. A statement opens on a line ending in an open
// delimiter, a binary operator, or `=`; it closes on a line starting
// with a closing delimiter, ending in `;`, or the first
// non-continuation line once bracket depth returns to zero.
func (b *Builder) detectBoundaries(m *SourceMap, origLines []string) {
	start := 0
	depth := 0

	for o := 1; o <= len(origLines); o++ {
		trimmed := strings.TrimSpace(stripComment(origLines[o-1]))
		if trimmed == "" {
			continue
		}

		if start == 0 {
			if endsOpen(trimmed) || bracketDelta(trimmed) > 0 {
				start = o
				depth = bracketDelta(trimmed)
				if depth < 0 {
					depth = 0
				}
			}
			continue
		}

		depth += bracketDelta(trimmed)
		closed := startsWithCloser(trimmed) || strings.HasSuffix(trimmed, ";")
		if depth <= 0 && (closed || !endsOpen(trimmed)) {
			if o > start {
				if _, mapped := m.OriginalToInstrumented[start]; mapped {
					m.StatementBoundaries[start] = Boundary{Start: start, Finish: o}
				}
			}
			start = 0
			depth = 0
		}
	}
}

// fillBoundaryGaps gives an unmapped intermediate line of a multi-line
// statement the start line's target only while that target has no reverse
// entry. record always stores the reverse entry of a mapped start line, so
// after align no intermediate line is filled here; lookups resolve them
// through the boundary rule in GetInstrumentedLine.
func (b *Builder) fillBoundaryGaps(m *SourceMap) {
	for _, bd := range m.StatementBoundaries {
		target, ok := m.OriginalToInstrumented[bd.Start]
		if !ok {
			continue
		}
		for o := bd.Start + 1; o <= bd.Finish; o++ {
			if _, mapped := m.OriginalToInstrumented[o]; mapped {
				continue
			}
			if _, taken := m.InstrumentedToOriginal[target]; taken {
				continue
			}
			m.OriginalToInstrumented[o] = target
			m.InstrumentedToOriginal[target] = o
		}
	}
}

// ============================================================================
// Line predicates
// ============================================================================

// splitLines splits on newlines, keeping interior empty lines. A final
// newline terminates the last line rather than opening an empty one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// equivalent applies linesEquivalent plus the continuation-prefix rule:
// the first physical line of a multi-line statement ends open and the
// code generator joins the statement onto one line, so an open original
// line whose core content prefixes the instrumented line's core content
// is a match.
func (b *Builder) equivalent(origLine, instLine string) bool {
	if linesEquivalent(origLine, instLine, b.Marker) {
		return true
	}
	if !endsOpen(strings.TrimSpace(stripComment(origLine))) {
		return false
	}
	core := coreContent(origLine, b.Marker)
	return core != "" && strings.HasPrefix(coreContent(instLine, b.Marker), core)
}

// linesEquivalent applies the three predicates in decreasing specificity:
// byte-exact, whitespace-normalized, then core content (comments and
// tracking calls stripped, whitespace collapsed).
func linesEquivalent(origLine, instLine, marker string) bool {
	if origLine == instLine {
		return true
	}
	if stripWhitespace(origLine) == stripWhitespace(instLine) {
		return true
	}
	return coreContent(origLine, marker) == coreContent(instLine, marker)
}

func stripWhitespace(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r':
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// coreContent strips the trailing comment and any tracking-call
// substrings, then collapses whitespace.
func coreContent(s, marker string) string {
	s = stripComment(s)
	s = stripTrackingCalls(s, marker)
	return stripWhitespace(s)
}

// stripComment removes `--` to end of line. The scan ignores `--`
// occurring inside quoted strings.
func stripComment(s string) string {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '-':
			if i+1 < len(s) && s[i+1] == '-' {
				return s[:i]
			}
		}
	}
	return s
}

// stripTrackingCalls removes every `<marker>(digits)` occurrence
func stripTrackingCalls(s, marker string) string {
	for {
		idx := strings.Index(s, marker)
		if idx < 0 {
			return s
		}
		end := idx + len(marker)
		if end < len(s) && s[end] == '(' {
			rp := strings.IndexByte(s[end:], ')')
			if rp >= 0 {
				s = s[:idx] + s[end+rp+1:]
				continue
			}
		}
		s = s[:idx] + s[end:]
	}
}

// endsOpen reports whether a line leaves its statement open: trailing
// open delimiter, trailing binary operator or comma, or trailing `=`
func endsOpen(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '(', '{', '[', '=', '+', '-', '*', '/', '%', '^', ',', '<', '>':
		return true
	}
	if strings.HasSuffix(trimmed, "..") {
		return true
	}
	// keyword operators need a word boundary: `selector` must not read
	// as ending in `or`
	for _, op := range []string{"and", "or", "not"} {
		if strings.HasSuffix(trimmed, op) {
			rest := trimmed[:len(trimmed)-len(op)]
			if rest == "" {
				continue
			}
			c := rest[len(rest)-1]
			if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				return true
			}
		}
	}
	return false
}

func startsWithCloser(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case ')', '}', ']':
		return true
	}
	return false
}

// bracketDelta is the net open-minus-close bracket count of a line,
// ignoring brackets inside quoted strings.
func bracketDelta(s string) int {
	delta := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '{', '[':
			delta++
		case ')', '}', ']':
			delta--
		}
	}
	return delta
}
