package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildOrder_Empty(t *testing.T) {
	p := NewBuildPlan()
	order, err := p.BuildOrder()
	if err != nil {
		t.Fatalf("Expected no error for empty plan, got: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("Expected empty order, got %v", order)
	}
}

func TestBuildOrder_Diamond(t *testing.T) {
	p := mustPlan(t,
		dir(1, "builder cxx", "", ""),
		dir(2, "tar kaldi 1.0 _KALDI_VER", "cxx", ""),
		dir(3, "tar mkl 2019.5 _MKL_VER", "cxx", ""),
		dir(4, "image app", "kaldi mkl", ""),
	)
	order, err := p.BuildOrder()
	if err != nil {
		t.Fatalf("BuildOrder failed: %v", err)
	}
	want := []Batch{{"cxx"}, {"kaldi", "mkl"}, {"app"}}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildOrder_StartAndSkip(t *testing.T) {
	dirs := []Directive{
		dir(1, "builder cxx", "", ""),
		dir(2, "tar kaldi 1.0 _KALDI_VER", "cxx", ""),
		dir(3, "image app", "kaldi", ""),
		dir(4, "image other", "", ""),
	}

	t.Run("start set selects closure", func(t *testing.T) {
		p := mustPlan(t, dirs...)
		if err := p.Finalize([]string{"kaldi"}, nil, false); err != nil {
			t.Fatal(err)
		}
		order, err := p.BuildOrder()
		if err != nil {
			t.Fatalf("BuildOrder failed: %v", err)
		}
		if diff := cmp.Diff([]Batch{{"cxx"}, {"kaldi"}}, order); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("skipped dependency stays in closure", func(t *testing.T) {
		p := mustPlan(t, append(dirs, dir(5, "skip kaldi other", "", ""))...)
		order, err := p.BuildOrder()
		if err != nil {
			t.Fatalf("BuildOrder failed: %v", err)
		}
		if diff := cmp.Diff([]Batch{{"cxx"}, {"kaldi"}, {"app"}}, order); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuildOrder_DanglingDependency(t *testing.T) {
	// The dangling dependency is not reachable from the start set, and is
	// still fatal.
	p := mustPlan(t,
		dir(1, "image a", "", ""),
		dir(7, "image b", "ghost phantom", ""),
	)
	if err := p.Finalize([]string{"a"}, nil, false); err != nil {
		t.Fatal(err)
	}
	_, err := p.BuildOrder()
	if !IsConsistency(err) || CodeOf(err) != ErrCodeDanglingDependency {
		t.Fatalf("Expected dangling dependency error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Millfile:7: b: ghost phantom") {
		t.Errorf("Expected error to list location, target and deps, got %q", err.Error())
	}
}

func TestBuildOrder_Cycle(t *testing.T) {
	p := mustPlan(t,
		dir(1, "image base", "", ""),
		dir(2, "image a", "base c", ""),
		dir(3, "image b", "a", ""),
		dir(4, "image c", "b", ""),
		dir(5, "image top", "a", ""),
	)
	_, err := p.BuildOrder()
	if !IsConsistency(err) || CodeOf(err) != ErrCodeCircularDependency {
		t.Fatalf("Expected circular dependency error, got %v", err)
	}
	var e *EngineError
	if !errors.As(err, &e) {
		t.Fatalf("Expected *EngineError, got %T", err)
	}
	// Every stuck target is named, including the dependent outside the cycle.
	if diff := cmp.Diff([]string{"a", "b", "c", "top"}, e.Targets); diff != "" {
		t.Errorf("stuck targets mismatch (-want +got):\n%s", diff)
	}
}

// TestBuildOrder_RandomAcyclic checks on random DAGs that every reachable
// target is listed exactly once and that every dependency lands in an
// earlier batch than its dependent.
func TestBuildOrder_RandomAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(25)
		var dirs []Directive
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			dirs = append(dirs, dir(i+1, fmt.Sprintf("image t%d", i), strings.Join(deps, " "), ""))
		}
		p := mustPlan(t, dirs...)
		order, err := p.BuildOrder()
		if err != nil {
			t.Fatalf("iteration %d: BuildOrder failed: %v", iter, err)
		}

		index := make(map[string]int)
		for bi, batch := range order {
			for _, name := range batch {
				if _, dup := index[name]; dup {
					t.Fatalf("iteration %d: target %s listed twice", iter, name)
				}
				index[name] = bi
			}
		}
		if len(index) != n {
			t.Fatalf("iteration %d: expected %d targets, got %d", iter, n, len(index))
		}
		for name, bi := range index {
			for dep := range p.Target(name).Dependencies {
				if index[dep] >= bi {
					t.Errorf("iteration %d: dependency %s (batch %d) not before %s (batch %d)",
						iter, dep, index[dep], name, bi)
				}
			}
		}
	}
}

func TestBuildPlan_ToDOT(t *testing.T) {
	p := mustPlan(t,
		dir(1, "builder cxx", "", ""),
		dir(2, "tar kaldi 1.0", "cxx", ""),
		dir(3, "skip cxx", "", ""),
	)
	if err := p.Finalize([]string{"kaldi"}, nil, false); err != nil {
		t.Fatal(err)
	}
	order, err := p.BuildOrder()
	if err != nil {
		t.Fatal(err)
	}
	dot := p.ToDOT(order)
	for _, want := range []string{
		"digraph BuildOrder {",
		"subgraph cluster_batch_0",
		`"kaldi" [label="kaldi\ntar 1.0", fillcolor="lightgreen"`,
		`style="filled,rounded,dashed"`,
		`"cxx" -> "kaldi";`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}
