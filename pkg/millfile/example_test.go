package millfile_test

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/burrmill/miller/pkg/millfile"
)

func ExampleTokenizer() {
	const src = `
# Kaldi is built with the cxx builder.
tar kaldi 8ab7ef6 _KALDI_VER : cxx
    : _KALDI_REPO=https://github.com/kaldi-asr/kaldi
builder cxx
`
	tok := millfile.NewTokenizer(millfile.NewReaderFrom("Millfile", strings.NewReader(src)))
	for {
		d, err := tok.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(d.Location, d.Words, d.Deps.Sorted(), d.Assignments)
	}

	// Output:
	// Millfile:3 [tar kaldi 8ab7ef6 _KALDI_VER] [cxx] map[_KALDI_REPO:https://github.com/kaldi-asr/kaldi]
	// Millfile:5 [builder cxx] [] map[]
}
