package millfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/burrmill/miller/pkg/engine"
)

// maxLineLength bounds a single physical Millfile line.
const maxLineLength = 1 << 20

// Line is one logical Millfile line: comments stripped, trailing blanks
// trimmed and continuation lines concatenated.
type Line struct {
	// Location is the location of the first physical line.
	Location engine.SourceLocation

	// Text is the assembled line. Continuation lines keep their leading
	// whitespace, so they are always separated from the preceding text.
	Text string
}

// source is a not yet opened input.
type source struct {
	name string
	open func() (io.ReadCloser, error)
}

// Reader pulls logical lines out of a sequence of Millfiles, read in the
// order given. A logical line never spans two files.
type Reader struct {
	sources []source

	name    string
	lineNo  int
	scanner *bufio.Scanner
	closer  io.Closer

	pending *Line
	err     error
	log     zerolog.Logger
}

// NewReader creates a Reader over the named files. Files are opened lazily,
// so a missing file is reported when its first line is pulled.
func NewReader(files ...string) *Reader {
	r := &Reader{log: zerolog.Nop()}
	for _, f := range files {
		f := f
		r.sources = append(r.sources, source{
			name: f,
			open: func() (io.ReadCloser, error) { return os.Open(f) },
		})
	}
	return r
}

// NewReaderFrom creates a Reader over a single already open input. name is
// used in source locations only.
func NewReaderFrom(name string, in io.Reader) *Reader {
	return &Reader{
		sources: []source{{
			name: name,
			open: func() (io.ReadCloser, error) { return io.NopCloser(in), nil },
		}},
		log: zerolog.Nop(),
	}
}

// WithLogger sets the logger used for debug traces.
func (r *Reader) WithLogger(log zerolog.Logger) *Reader {
	r.log = log
	return r
}

// Next returns the next logical line, or io.EOF after the last one. Errors
// are sticky: once Next fails, it keeps returning the same error.
func (r *Reader) Next() (Line, error) {
	if r.err != nil {
		return Line{}, r.err
	}
	line, err := r.next()
	if err != nil {
		r.err = err
		r.Close()
	}
	return line, err
}

func (r *Reader) next() (Line, error) {
	for {
		if r.scanner == nil {
			if len(r.sources) == 0 {
				return Line{}, io.EOF
			}
			if err := r.openNext(); err != nil {
				return Line{}, err
			}
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return Line{}, fmt.Errorf("reading %s: %w", r.name, err)
			}
			r.closeCurrent()
			if r.pending != nil {
				out := *r.pending
				r.pending = nil
				return out, nil
			}
			continue
		}
		r.lineNo++

		text := r.scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimRightFunc(text, unicode.IsSpace)
		if text == "" {
			continue
		}

		loc := engine.SourceLocation{File: r.name, Line: r.lineNo}
		if first, _ := utf8.DecodeRuneInString(text); unicode.IsSpace(first) {
			if r.pending == nil {
				return Line{}, engine.NewParseError(loc, "non-continuation (first in file) line starts with whitespace").
					WithCode(engine.ErrCodeMalformedDirective)
			}
			r.pending.Text += text
			continue
		}

		prev := r.pending
		r.pending = &Line{Location: loc, Text: text}
		if prev != nil {
			return *prev, nil
		}
	}
}

func (r *Reader) openNext() error {
	src := r.sources[0]
	r.sources = r.sources[1:]
	rc, err := src.open()
	if err != nil {
		return fmt.Errorf("opening Millfile: %w", err)
	}
	r.log.Debug().Str("file", src.name).Msg("loading file")
	r.name = src.name
	r.lineNo = 0
	r.closer = rc
	r.scanner = bufio.NewScanner(rc)
	r.scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return nil
}

func (r *Reader) closeCurrent() {
	if r.closer != nil {
		_ = r.closer.Close()
	}
	r.closer = nil
	r.scanner = nil
}

// Close releases the file being read, if any. Reading all lines up to
// io.EOF closes every file, so Close is only needed when abandoning a
// Reader early.
func (r *Reader) Close() {
	r.closeCurrent()
	r.sources = nil
}
