package errors

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
)

// Snippet renders a parse failure with a source excerpt and caret, for
// CLI presentation.
type Snippet struct {
	Message  string
	Filename string
	Line     int // 1-indexed
	Column   int // 1-indexed
	Length   int // length of the error span (for the underline)

	// Source context
	SourceLines   []string // lines to display (with context)
	HighlightLine int      // index within SourceLines of the error line

	Annotation string // text after the carets
}

// sourceCache caches file contents to avoid repeated reads
var (
	sourceCache   = make(map[string][]string)
	sourceCacheMu sync.RWMutex
)

// NewSnippet builds a snippet for the given file position with two
// context lines on each side. Missing or unreadable files degrade to a
// snippet without source lines.
func NewSnippet(filename string, line, column int, message string) *Snippet {
	sourceLines, highlightIdx := extractSourceLines(filename, line, 2)
	return &Snippet{
		Message:       message,
		Filename:      filename,
		Line:          line,
		Column:        column,
		Length:        1,
		SourceLines:   sourceLines,
		HighlightLine: highlightIdx,
	}
}

// WithAnnotation adds an annotation after the caret run
func (s *Snippet) WithAnnotation(annotation string) *Snippet {
	s.Annotation = annotation
	return s
}

// Format produces the rustc-style rendering
func (s *Snippet) Format() string {
	var buf strings.Builder

	if s.Line > 0 {
		fmt.Fprintf(&buf, "Error: %s in %s:%d:%d\n\n",
			s.Message, filepath.Base(s.Filename), s.Line, s.Column)
	} else {
		fmt.Fprintf(&buf, "Error: %s\n\n", s.Message)
	}

	if len(s.SourceLines) > 0 && s.Line > 0 {
		startLine := s.Line - s.HighlightLine

		for i, line := range s.SourceLines {
			lineNum := startLine + i
			fmt.Fprintf(&buf, "  %4d | %s\n", lineNum, line)

			if i == s.HighlightLine {
				col := s.Column - 1
				if col > len(line) {
					col = len(line)
				}
				caretIndent := utf8.RuneCountInString(line[:col])
				caretLen := s.Length
				if caretLen < 1 {
					caretLen = 1
				}

				fmt.Fprintf(&buf, "       | %s%s",
					strings.Repeat(" ", caretIndent),
					strings.Repeat("^", caretLen),
				)
				if s.Annotation != "" {
					fmt.Fprintf(&buf, " %s", s.Annotation)
				}
				buf.WriteString("\n")
			}
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// extractSourceLines reads a source file and extracts lines with context.
// Returns the lines and the index of the target line within the slice.
func extractSourceLines(filename string, targetLine, contextLines int) ([]string, int) {
	sourceCacheMu.RLock()
	allLines, cached := sourceCache[filename]
	sourceCacheMu.RUnlock()

	if !cached {
		file, err := os.Open(filename)
		if err != nil {
			return nil, 0
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		allLines = []string{}
		for scanner.Scan() {
			allLines = append(allLines, scanner.Text())
		}
		if scanner.Err() != nil {
			return nil, 0
		}

		sourceCacheMu.Lock()
		sourceCache[filename] = allLines
		sourceCacheMu.Unlock()
	}

	targetIdx := targetLine - 1
	if targetIdx < 0 || targetIdx >= len(allLines) {
		return nil, 0
	}

	start := targetIdx - contextLines
	if start < 0 {
		start = 0
	}
	end := targetIdx + contextLines + 1
	if end > len(allLines) {
		end = len(allLines)
	}

	return allLines[start:end], targetIdx - start
}

// ClearCache clears the source file cache (useful for testing)
func ClearCache() {
	sourceCacheMu.Lock()
	sourceCache = make(map[string][]string)
	sourceCacheMu.Unlock()
}
