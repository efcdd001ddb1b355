package errors

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSnippetFormat(t *testing.T) {
	ClearCache()
	path := writeSource(t, "local a = 1\nlocal b = (\nlocal c = 3\n")

	out := NewSnippet(path, 2, 11, "unexpected symbol").
		WithAnnotation("syntax error").
		Format()

	if !strings.Contains(out, "Error: unexpected symbol in source.lua:2:11") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, "2 | local b = (") {
		t.Errorf("missing highlighted line in %q", out)
	}
	if !strings.Contains(out, "^ syntax error") {
		t.Errorf("missing caret annotation in %q", out)
	}
	// context lines on both sides
	if !strings.Contains(out, "local a = 1") || !strings.Contains(out, "local c = 3") {
		t.Errorf("missing context lines in %q", out)
	}
}

func TestSnippetMissingFileDegrades(t *testing.T) {
	ClearCache()
	out := NewSnippet("/does/not/exist.lua", 3, 1, "boom").Format()

	if !strings.Contains(out, "Error: boom") {
		t.Errorf("expected header even without source, got %q", out)
	}
	if strings.Contains(out, "|") {
		t.Errorf("expected no source gutter for unreadable file, got %q", out)
	}
}

func TestSnippetCachesFileContents(t *testing.T) {
	ClearCache()
	path := writeSource(t, "line one\nline two\n")

	first := NewSnippet(path, 1, 1, "m")
	if len(first.SourceLines) == 0 {
		t.Fatal("expected source lines")
	}

	// delete the file; the cached contents must still serve
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	second := NewSnippet(path, 2, 1, "m")
	if len(second.SourceLines) == 0 {
		t.Error("expected cached source lines after file removal")
	}
}

func TestSnippetOutOfRangeLine(t *testing.T) {
	ClearCache()
	path := writeSource(t, "only line\n")

	out := NewSnippet(path, 99, 1, "m").Format()
	if !strings.Contains(out, "Error: m") {
		t.Errorf("expected graceful fallback, got %q", out)
	}
}
