package millfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/burrmill/miller/pkg/engine"
)

// readAll pulls every logical line out of r.
func readAll(t *testing.T, r *Reader) ([]Line, error) {
	t.Helper()
	var lines []Line
	for {
		l, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, l)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func TestReader_CommentsAndContinuations(t *testing.T) {
	const src = `# Leading comment

tar kaldi 1.0 _KALDI_VER  # trailing comment
   : cxx mkl
	: _KALDI_REPO=git://x/kaldi.git
image cxx

builder base
`
	got, err := readAll(t, NewReaderFrom("Millfile", strings.NewReader(src)))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []Line{
		{
			Location: engine.SourceLocation{File: "Millfile", Line: 3},
			Text:     "tar kaldi 1.0 _KALDI_VER   : cxx mkl\t: _KALDI_REPO=git://x/kaldi.git",
		},
		{Location: engine.SourceLocation{File: "Millfile", Line: 6}, Text: "image cxx"},
		{Location: engine.SourceLocation{File: "Millfile", Line: 8}, Text: "builder base"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_CommentedOutContinuation(t *testing.T) {
	const src = "image a\n  # only a comment\n  : b\n"
	got, err := readAll(t, NewReaderFrom("m", strings.NewReader(src)))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "image a  : b" {
		t.Errorf("Unexpected lines: %+v", got)
	}
}

func TestReader_LeadingContinuation(t *testing.T) {
	const src = "\n# comment\n  image a\nimage b\n"
	r := NewReaderFrom("Millfile", strings.NewReader(src))

	_, err := r.Next()
	if !engine.IsParse(err) {
		t.Fatalf("Expected parse error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Millfile:3: ") ||
		!strings.Contains(err.Error(), "line starts with whitespace") {
		t.Errorf("Unexpected error text: %q", err.Error())
	}

	// Errors are sticky.
	if _, err2 := r.Next(); err2 != err {
		t.Errorf("Expected the same error again, got %v", err2)
	}
}

func TestReader_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	std := writeFile(t, dir, "std", "image a\n  : b\nimage b\n")
	local := writeFile(t, dir, "local", "\n\nver a 2 _X=1\n")

	got, err := readAll(t, NewReader(std, local))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []Line{
		{Location: engine.SourceLocation{File: std, Line: 1}, Text: "image a  : b"},
		{Location: engine.SourceLocation{File: std, Line: 3}, Text: "image b"},
		{Location: engine.SourceLocation{File: local, Line: 3}, Text: "ver a 2 _X=1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_ContinuationDoesNotCrossFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first", "image a\n")
	second := writeFile(t, dir, "second", "  : b\n")

	lines, err := readAll(t, NewReader(first, second))
	if !engine.IsParse(err) {
		t.Fatalf("Expected parse error, got %v", err)
	}
	if len(lines) != 1 || lines[0].Text != "image a" {
		t.Errorf("Expected the first file's line before the error, got %+v", lines)
	}
	if !strings.HasPrefix(err.Error(), second+":1: ") {
		t.Errorf("Expected error at %s:1, got %q", second, err.Error())
	}
}

func TestReader_MissingFile(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good", "image a\n")
	r := NewReader(good, filepath.Join(dir, "missing"))

	lines, err := readAll(t, r)
	if err == nil {
		t.Fatal("Expected error for a missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
	if len(lines) != 1 {
		t.Errorf("Expected lines of the good file to be returned first, got %+v", lines)
	}
}

func TestReader_Empty(t *testing.T) {
	// A whitespace-only line is blank after trimming, never a continuation.
	got, err := readAll(t, NewReaderFrom("m", strings.NewReader("# nothing\n\n   \n")))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no lines, got %+v", got)
	}
}
