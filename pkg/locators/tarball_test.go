package locators

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/burrmill/miller/pkg/engine"
)

// fakeLister serves a fixed object list.
type fakeLister struct {
	objects []ObjectAttrs
	queries []ObjectQuery
	err     error
}

func (f *fakeLister) ListObjects(ctx context.Context, q ObjectQuery, fn func(ObjectAttrs) error) error {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return f.err
	}
	for _, o := range f.objects {
		if !strings.HasPrefix(o.Name, q.Prefix) {
			continue
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

var deleted = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

func object(name string, gen int64, version string, current bool) ObjectAttrs {
	o := ObjectAttrs{Name: name, Generation: gen}
	if version != "" {
		o.Metadata = map[string]string{"version": version}
	}
	if !current {
		o.Deleted = deleted
	}
	return o
}

func softwareBucket() *fakeLister {
	return &fakeLister{objects: []ObjectAttrs{
		object("tarballs/kaldi.tar.gz", 3, "2.0", true),
		object("tarballs/kaldi.tar.gz", 6, "2.0", false),
		object("tarballs/kaldi.tar.gz", 2, "1.0", false),
		object("tarballs/kaldi.tar.gz", 1, "", false),
		object("tarballs/kaldi-1.0.tar.gz", 5, "", true),
		object("tarballs/srilm-1.7.3.tar.gz", 8, "", true),
		object("tarballs/cxx.tar.gz", 9, "", true),
		object("tarballs/README", 10, "", true),
		object("other/kaldi.tar.gz", 11, "9.9", true),
	}}
}

func TestTarballLocator_Locate(t *testing.T) {
	lister := softwareBucket()
	l := NewTarballLocator(lister, "sw")

	tests := []struct {
		name    string
		version string
		want    string
		found   bool
	}{
		{"kaldi", "2.0", "gs gs://sw/tarballs/kaldi.tar.gz#3", true},
		{"kaldi", "1.0", "gs gs://sw/tarballs/kaldi.tar.gz#2", true},
		{"kaldi", "3.0", "", false},
		{"kaldi", "9.9", "", false},
		{"srilm", "1.7.3", "gs gs://sw/tarballs/srilm-1.7.3.tar.gz#8", true},
		{"srilm", "", "", false},
		{"cxx", "", "gs gs://sw/tarballs/cxx.tar.gz#9", true},
		{"README", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"@"+tt.version, func(t *testing.T) {
			got, found, err := l.Locate(context.Background(), tt.name, tt.version)
			if err != nil {
				t.Fatalf("Locate failed: %v", err)
			}
			if found != tt.found || got != tt.want {
				t.Errorf("Locate(%q, %q) = %q, %v; want %q, %v", tt.name, tt.version, got, found, tt.want, tt.found)
			}
		})
	}

	if len(lister.queries) != 1 {
		t.Fatalf("Expected the directory to be listed once, got %d listings", len(lister.queries))
	}
	want := ObjectQuery{Bucket: "sw", Prefix: "tarballs/", Delimiter: "/", Versions: true}
	if diff := cmp.Diff(want, lister.queries[0]); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestTarballLocator_CandidateOrder(t *testing.T) {
	var listed int
	l := NewTarballLocator(softwareBucket(), "sw", WithListingHook(func(n int) { listed = n }))
	if err := l.load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := []candidate{
		{"2.0", true, "kaldi.tar.gz", 3},
		{"2.0", false, "kaldi.tar.gz", 6},
		{"1.0", false, "kaldi.tar.gz", 2},
		{"", true, "srilm-1.7.3.tar.gz", 8},
		{"", true, "kaldi-1.0.tar.gz", 5},
		{"", true, "cxx.tar.gz", 9},
	}
	if diff := cmp.Diff(want, l.cache, cmp.AllowUnexported(candidate{})); diff != "" {
		t.Errorf("candidate order mismatch (-want +got):\n%s", diff)
	}
	if listed != len(want) {
		t.Errorf("Expected listing hook with %d, got %d", len(want), listed)
	}
}

func manyTarballs(n int) *fakeLister {
	f := &fakeLister{}
	for i := 0; i < n; i++ {
		f.objects = append(f.objects, object("tarballs/t.tar.gz", int64(i+1), "v", false))
	}
	return f
}

func TestTarballLocator_Thresholds(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	l := NewTarballLocator(manyTarballs(5), "sw", WithThresholds(3, 10), WithTarballLogger(log))
	if _, _, err := l.Locate(context.Background(), "t", "v"); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if n := strings.Count(buf.String(), "is over 3"); n != 1 {
		t.Errorf("Expected one warning, got %d in %q", n, buf.String())
	}

	l = NewTarballLocator(manyTarballs(5), "sw", WithThresholds(3, 5))
	_, _, err := l.Locate(context.Background(), "t", "v")
	if err == nil {
		t.Fatal("Expected error for too many objects")
	}
	if !engine.IsConsistency(err) || engine.CodeOf(err) != engine.ErrCodeTooManyObjects {
		t.Errorf("Expected TOO_MANY_OBJECTS consistency error, got %v", err)
	}
	if !strings.Contains(err.Error(), "gs://sw/tarballs/ is over 5") {
		t.Errorf("Unexpected message: %v", err)
	}
}

func TestTarballLocator_ListingError(t *testing.T) {
	lister := &fakeLister{err: engine.NewRemoteError("boom", nil)}
	l := NewTarballLocator(lister, "sw")

	for i := 0; i < 2; i++ {
		if _, _, err := l.Locate(context.Background(), "kaldi", "1.0"); !engine.IsRemote(err) {
			t.Fatalf("Expected remote error, got %v", err)
		}
	}
	if len(lister.queries) != 2 {
		t.Errorf("Expected a failed listing to be retried on the next lookup, got %d listings", len(lister.queries))
	}
}

func TestSanitizeBucket(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"sw", "sw", false},
		{"gs://sw", "sw", false},
		{"gs://sw/", "sw", false},
		{"sw/", "sw", false},
		{"", "", true},
		{"gs://", "", true},
		{"gs://sw/dir", "", true},
		{"gs://sw//", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeBucket(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeBucket(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeBucket(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
