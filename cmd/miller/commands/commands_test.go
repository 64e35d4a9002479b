package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/burrmill/miller/pkg/config"
	"github.com/burrmill/miller/pkg/engine"
	"github.com/burrmill/miller/pkg/locators"
	"github.com/burrmill/miller/pkg/telemetry"
)

// fakeStore is an artifact store keyed by "name version".
type fakeStore struct {
	artifacts map[string]string
	fail      map[string]bool
	opts      locators.Options
	closed    bool
}

func (s *fakeStore) factory(opts locators.Options, tel *telemetry.Telemetry) (engine.Locators, func() error) {
	s.opts = opts
	l := engine.LocatorFunc(func(ctx context.Context, name, version string) (string, bool, error) {
		if s.fail[name] {
			return "", false, engine.NewRemoteError("registry is down", nil).WithOperation("HEAD " + name)
		}
		art, ok := s.artifacts[name+" "+version]
		return art, ok, nil
	})
	return locators.Instrument(engine.Locators{Image: l, Builder: l, Tar: l}, tel), func() error {
		s.closed = true
		return nil
	}
}

// clearEnv isolates a test from the calling environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{config.EnvGSLocation, config.EnvGSSoftware, config.EnvRoot, config.EnvLogLevel} {
		t.Setenv(v, "")
	}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeMillfile(t *testing.T, content string) string {
	t.Helper()
	return writeFile(t, filepath.Join(t.TempDir(), "Millfile"), content)
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, store *fakeStore, args ...string) result {
	t.Helper()
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	a := newApp("test", "none", "today")
	a.stderr = &stderr
	a.executable = func() (string, error) { return "", errors.New("no executable in tests") }
	if store != nil {
		a.newLocators = store.factory
	}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := a.execute(context.Background(), root)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

const kaldiMillfile = `
tar kaldi 1.0 _KALDI_VER
image cxx : kaldi
`

func TestBuild_StaleDependent(t *testing.T) {
	store := &fakeStore{artifacts: map[string]string{"kaldi 1.0": "gs gs://sw/tarballs/kaldi.tar.gz#1"}}
	res := run(t, store, "build", "-m", writeMillfile(t, kaldiMillfile), "--gs-software=gs://sw/", "--project=burrmill")
	if res.err != nil {
		t.Fatalf("build failed: %v\n%s", res.err, res.stderr)
	}
	if res.stdout != "build cxx -\nwait\n" {
		t.Errorf("Unexpected output %q", res.stdout)
	}
	if store.opts.GSSoftware != "sw" || store.opts.Project != "burrmill" {
		t.Errorf("Flags not passed to the locators: %+v", store.opts)
	}
	if !store.closed {
		t.Error("Expected the locators to be closed")
	}
}

func TestBuild_AllUpToDate(t *testing.T) {
	store := &fakeStore{artifacts: map[string]string{"kaldi 1.0": "x", "cxx ": "y"}}
	res := run(t, store, "build", "-m", writeMillfile(t, kaldiMillfile))
	if res.err != nil {
		t.Fatalf("build failed: %v", res.err)
	}
	if res.stdout != "" {
		t.Errorf("Expected no output, got %q", res.stdout)
	}
	if !strings.Contains(res.stderr, "examined build targets [cxx kaldi] are all up-to-date") {
		t.Errorf("Expected up-to-date message, got %q", res.stderr)
	}
}

func TestBuild_ForceAll(t *testing.T) {
	store := &fakeStore{artifacts: map[string]string{"kaldi 1.0": "x", "cxx ": "y"}}
	res := run(t, store, "build", "-m", writeMillfile(t, kaldiMillfile), "--force=*")
	if res.err != nil {
		t.Fatalf("build failed: %v", res.err)
	}
	want := "build kaldi 1.0 _KALDI_VER=1.0\nwait\nbuild cxx -\nwait\n"
	if diff := cmp.Diff(want, res.stdout); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_SkipConflict(t *testing.T) {
	store := &fakeStore{}
	res := run(t, store, "build", "-m", writeMillfile(t, "image cxx\nimage app : cxx\nskip cxx\n"))
	if engine.CodeOf(res.err) != engine.ErrCodeSkipConflict {
		t.Fatalf("Expected skip conflict, got %v", res.err)
	}
	if res.stdout != "" {
		t.Errorf("Expected no output for an inconsistent plan, got %q", res.stdout)
	}
	if !strings.Contains(res.stderr, "FTL") || !strings.Contains(res.stderr, "[cxx]") {
		t.Errorf("Expected a fatal diagnostic citing cxx, got %q", res.stderr)
	}
}

func TestBuild_SkippedStaleIsBuilt(t *testing.T) {
	store := &fakeStore{artifacts: map[string]string{"app ": "image us.gcr.io/proj/app:latest"}}
	res := run(t, store, "build", "-m", writeMillfile(t, "image cxx\nimage app : cxx\nskip cxx\n"))
	if res.err != nil {
		t.Fatalf("build failed: %v\n%s", res.err, res.stderr)
	}
	if res.stdout != "build cxx -\nwait\n" {
		t.Errorf("Unexpected output %q", res.stdout)
	}
	if !strings.Contains(res.stderr, "target is out-of-date but skipped") {
		t.Errorf("Expected a warning for the skipped target, got %q", res.stderr)
	}
}

func TestBuild_RemoteErrorKeepsPrintedBatches(t *testing.T) {
	store := &fakeStore{fail: map[string]bool{"cxx": true}}
	res := run(t, store, "build", "-m", writeMillfile(t, "tar kaldi 1.0\nimage cxx : kaldi\n"))
	if !engine.IsRemote(res.err) {
		t.Fatalf("Expected remote error, got %v", res.err)
	}
	if res.stdout != "build kaldi 1.0\nwait\n" {
		t.Errorf("Expected the first batch to stand, got %q", res.stdout)
	}
	if strings.Count(strings.TrimSpace(res.stderr), "\n") != 0 {
		t.Errorf("Expected a single diagnostic line, got %q", res.stderr)
	}
}

func TestGather(t *testing.T) {
	store := &fakeStore{artifacts: map[string]string{
		"kaldi 1.0": "gs gs://sw/tarballs/kaldi.tar.gz#1",
		"cxx ":      "image us.gcr.io/p/cxx:latest",
	}}
	mf := writeMillfile(t, "builder gcc\n"+kaldiMillfile+"image app : gcc\n")

	res := run(t, store, "gather", "-m", mf, "--targets=cxx,kaldi")
	if res.err != nil {
		t.Fatalf("gather failed: %v", res.err)
	}
	want := "cxx - image us.gcr.io/p/cxx:latest\nkaldi 1.0 gs gs://sw/tarballs/kaldi.tar.gz#1\n"
	if diff := cmp.Diff(want, res.stdout); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	res = run(t, store, "gather", "-m", mf)
	if engine.CodeOf(res.err) != engine.ErrCodeMissingArtifact {
		t.Fatalf("Expected missing artifact error, got %v", res.err)
	}
	if !strings.Contains(res.err.Error(), "[app]") || strings.Contains(res.err.Error(), "gcc") {
		t.Errorf("Expected only app to be missing, got %v", res.err)
	}
}

func TestOrder(t *testing.T) {
	dot := filepath.Join(t.TempDir(), "g.dot")
	res := run(t, nil, "order", "-m", writeMillfile(t, "image a : b c\nimage b : c\ntar c 1\n"), "--dot", dot)
	if res.err != nil {
		t.Fatalf("order failed: %v", res.err)
	}
	if res.stdout != "c\nb\na\n" {
		t.Errorf("Unexpected order %q", res.stdout)
	}
	data, err := os.ReadFile(dot)
	if err != nil {
		t.Fatalf("DOT file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "digraph") {
		t.Errorf("Unexpected DOT output %q", data)
	}
}

func TestOrder_Cycle(t *testing.T) {
	res := run(t, nil, "order", "-m", writeMillfile(t, "image a : b\nimage b : a\nimage c\n"))
	if engine.CodeOf(res.err) != engine.ErrCodeCircularDependency {
		t.Fatalf("Expected circular dependency, got %v", res.err)
	}
	if res.stdout != "" {
		t.Errorf("Expected no partial order, got %q", res.stdout)
	}
}

func TestCheck(t *testing.T) {
	res := run(t, nil, "check", "-m", writeMillfile(t, kaldiMillfile+"ver kaldi 1.1 _X=1\n"), "-f", "cxx")
	if res.err != nil {
		t.Fatalf("check failed: %v", res.err)
	}
	for _, want := range []string{"Combined Millfile:", "tar kaldi 1.1 _KALDI_VER", ">| Force set: {cxx}"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("Expected %q in output:\n%s", want, res.stdout)
		}
	}
}

func TestCheck_ParseError(t *testing.T) {
	mf := writeMillfile(t, "image cxx\nfrobnicate cxx\n")
	res := run(t, nil, "check", "-m", mf)
	if !engine.IsParse(res.err) {
		t.Fatalf("Expected parse error, got %v", res.err)
	}
	if !strings.Contains(res.err.Error(), mf+":2") {
		t.Errorf("Expected the location in the error, got %v", res.err)
	}
}

func TestStandardChain(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lib", "build", "Millfile"), kaldiMillfile)
	writeFile(t, filepath.Join(root, "etc", "build", "Millfile"), "ver kaldi 2.0\n")
	extra := writeMillfile(t, "image app : cxx\n")

	clearEnv(t)
	var stdout, stderr bytes.Buffer
	a := newApp("test", "none", "today")
	a.stderr = &stderr
	a.executable = func() (string, error) { return filepath.Join(root, "libexec", "miller"), nil }
	cmd := newRootCommand(a)
	cmd.SetArgs([]string{"order", "-d", "1", extra})
	cmd.SetOut(&stdout)
	if err := a.execute(context.Background(), cmd); err != nil {
		t.Fatalf("order failed: %v\n%s", err, stderr.String())
	}
	if stdout.String() != "kaldi\ncxx\napp\n" {
		t.Errorf("Unexpected order %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "using user's augmentation file") {
		t.Errorf("Expected debug log of the standard chain, got %q", stderr.String())
	}

	res := run(t, nil, "order")
	if res.err == nil || !strings.Contains(res.err.Error(), "cannot locate the installation root") {
		t.Errorf("Expected missing root error, got %v", res.err)
	}

	t.Setenv(config.EnvRoot, t.TempDir())
	cmd = newRootCommand(a)
	cmd.SetArgs([]string{"order"})
	cmd.SetOut(&stdout)
	if err := a.execute(context.Background(), cmd); err == nil || !strings.Contains(err.Error(), "default build file") {
		t.Errorf("Expected missing default Millfile error, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	mf := writeMillfile(t, kaldiMillfile)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"omit-std without files", []string{"build", "-m"}, "some are required with -m/--omit-std"},
		{"targets with force all", []string{"build", "-m", mf, "-t", "cxx", "-f", "*"}, "makes no sense with '--force=*'"},
		{"bad bucket", []string{"build", "-m", mf, "--gs-software", "gs://sw/dir"}, "--gs-software is passed invalid value"},
		{"unknown target", []string{"order", "-m", mf, "-t", "gcc"}, "unknown targets [gcc] to the start set"},
		{"bad log format", []string{"order", "-m", mf, "--log-format", "xml"}, "logging.format"},
		{"unknown flag", []string{"order", "--frobnicate"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, &fakeStore{}, tt.args...)
			if res.err == nil || !strings.Contains(res.err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, res.err)
			}
			if !strings.Contains(res.stderr, "FTL") {
				t.Errorf("Expected a fatal diagnostic, got %q", res.stderr)
			}
			if res.stdout != "" {
				t.Errorf("Expected no output, got %q", res.stdout)
			}
		})
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		targets string
		force   string
		want    selection
		wantErr bool
	}{
		{"", "", selection{}, false},
		{"*", "", selection{}, false},
		{"a,b", "", selection{targets: []string{"a", "b"}}, false},
		{"", "cxx", selection{force: []string{"cxx"}}, false},
		{"a", "cxx", selection{targets: []string{"a", "cxx"}, force: []string{"cxx"}}, false},
		{"", "*", selection{rebuildAll: true}, false},
		{"*", "*", selection{rebuildAll: true}, false},
		{"a", "*", selection{}, true},
		{"a,,b", "", selection{targets: []string{"a", "b"}}, false},
	}
	for _, tt := range tests {
		got, err := parseSelection(tt.targets, tt.force)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSelection(%q, %q) error = %v, wantErr %v", tt.targets, tt.force, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(selection{})); diff != "" {
			t.Errorf("parseSelection(%q, %q) mismatch (-want +got):\n%s", tt.targets, tt.force, diff)
		}
	}
}

func TestMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miller.prom")
	store := &fakeStore{artifacts: map[string]string{"kaldi 1.0": "x"}}
	res := run(t, store, "build", "-m", writeMillfile(t, kaldiMillfile), "--metrics-file", path)
	if res.err != nil {
		t.Fatalf("build failed: %v", res.err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	for _, want := range []string{
		`miller_runs_completed_total{command="build",status="success"} 1`,
		`miller_artifact_lookups_total{kind="tar",result="found"} 1`,
		`miller_artifact_lookups_total{kind="image",result="not_found"} 1`,
		`miller_batches_emitted_total{command="build"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %q in metrics:\n%s", want, data)
		}
	}
}
