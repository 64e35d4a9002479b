// Package millfile reads Millfiles and turns them into directives for the
// build planner.
//
// A Millfile is line oriented. Everything from '#' to the end of line is a
// comment. A line starting with whitespace continues the previous line.
// Each logical line has up to three fields separated by a colon followed by
// whitespace or the end of line:
//
//	tar kaldi 8ab7ef6 _KALDI_VER : cxx mkl : _KALDI_REPO=git://github.com/kaldi-asr/kaldi
//
// A colon not followed by whitespace, as in the URL above, does not separate
// fields.
package millfile

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/burrmill/miller/pkg/engine"
)

// fieldSeparator splits a logical line into fields.
var fieldSeparator = regexp.MustCompile(`:(?:\s+|$)`)

// Tokenize splits a logical line into a directive. It checks syntax only:
// the assignment field must hold unique, well-formed variables. Extra
// separators are not split further, and end up as malformed assignments.
func Tokenize(line Line) (engine.Directive, error) {
	var fields [3][]string
	for i, part := range fieldSeparator.Split(line.Text, 3) {
		fields[i] = strings.Fields(part)
	}
	assigns, err := engine.ParseAssignments(line.Location, fields[2])
	if err != nil {
		return engine.Directive{}, err
	}
	return engine.Directive{
		Location:    line.Location,
		Words:       fields[0],
		Deps:        engine.NewStringSet(fields[1]...),
		Assignments: assigns,
	}, nil
}

// Tokenizer pulls directives out of a Reader.
type Tokenizer struct {
	r *Reader
}

// NewTokenizer creates a Tokenizer reading from r.
func NewTokenizer(r *Reader) *Tokenizer {
	return &Tokenizer{r: r}
}

// Next returns the next directive, or io.EOF after the last one.
func (t *Tokenizer) Next() (engine.Directive, error) {
	line, err := t.r.Next()
	if err != nil {
		return engine.Directive{}, err
	}
	return Tokenize(line)
}

// ParseFiles tokenizes the files in order and hands every directive to fn.
// The first error, from reading, tokenizing or fn, stops parsing.
func ParseFiles(log zerolog.Logger, files []string, fn func(engine.Directive) error) error {
	r := NewReader(files...).WithLogger(log)
	defer r.Close()
	return parse(NewTokenizer(r), fn)
}

func parse(t *Tokenizer, fn func(engine.Directive) error) error {
	for {
		d, err := t.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}
