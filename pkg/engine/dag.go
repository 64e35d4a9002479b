package engine

import (
	"fmt"
	"strings"
)

// validateDanglingDeps checks that no declared target depends on an
// undefined one. Every target is checked, reachable from the start set or
// not.
func (p *BuildPlan) validateDanglingDeps() error {
	var lines []string
	missing := make(StringSet)
	for _, name := range p.TargetNames() {
		t := p.targets[name]
		var unknown []string
		for _, dep := range t.Dependencies.Sorted() {
			if _, ok := p.targets[dep]; !ok {
				unknown = append(unknown, dep)
				missing.Add(dep)
			}
		}
		if len(unknown) > 0 {
			lines = append(lines, fmt.Sprintf("%s: %s: %s", t.Source, name, strings.Join(unknown, " ")))
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return NewConsistencyError("the following dependencies have no rules to build them: " +
		strings.Join(lines, "; ")).
		WithCode(ErrCodeDanglingDependency).
		WithTargets(missing)
}

// closure returns the start names and everything reachable from them via
// dependency edges, each mapped to a private copy of its dependency set.
func (p *BuildPlan) closure(start StringSet) map[string]StringSet {
	clos := make(map[string]StringSet)
	seed := start
	for len(seed) > 0 {
		next := make(StringSet)
		for name := range seed {
			deps := p.targets[name].Dependencies.Clone()
			clos[name] = deps
			for dep := range deps {
				next.Add(dep)
			}
		}
		for name := range clos {
			delete(next, name)
		}
		seed = next
	}
	return clos
}

// BuildOrder computes the order in which the selected targets must be
// built, as a sequence of batches. Targets in a batch depend only on
// targets in earlier batches, and may be built in parallel.
//
// The selection is the start set (all targets if empty) minus the skip
// set, expanded with all transitive dependencies. Skipped targets may thus
// appear in the order as dependencies of other targets; whether that is
// fatal is decided when the build is constructed.
func (p *BuildPlan) BuildOrder() ([]Batch, error) {
	if err := p.validateDanglingDeps(); err != nil {
		return nil, err
	}

	start := p.start
	if len(start) == 0 {
		start = NewStringSet(p.TargetNames()...)
	}
	start = start.Difference(p.skip)
	p.log.Trace().Strs("start", start.Sorted()).Msg("inferring order from starting targets")

	clos := p.closure(start)

	// Kahn's algorithm, collecting every rank of satisfied targets into a batch.
	var order []Batch
	for {
		rank := make(StringSet)
		for name, deps := range clos {
			if len(deps) == 0 {
				rank.Add(name)
			}
		}
		if len(rank) == 0 {
			break
		}
		for name := range rank {
			delete(clos, name)
		}
		for _, deps := range clos {
			for name := range rank {
				delete(deps, name)
			}
		}
		order = append(order, Batch(rank.Sorted()))
	}

	if len(clos) > 0 {
		stuck := make(StringSet, len(clos))
		for name := range clos {
			stuck.Add(name)
		}
		return nil, NewConsistencyError(fmt.Sprintf("circular dependencies found among targets %v",
			stuck.Sorted())).
			WithCode(ErrCodeCircularDependency).
			WithTargets(stuck)
	}

	p.log.Debug().Interface("order", order).Msg("evaluated build order w.r.t. dependencies")
	return order, nil
}

// ToDOT renders the build order as a Graphviz digraph, one cluster per
// batch, with an edge from each dependency to its dependent.
func (p *BuildPlan) ToDOT(order []Batch) string {
	var sb strings.Builder

	sb.WriteString("digraph BuildOrder {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, batch := range order {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_batch_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Batch %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, name := range batch {
			t := p.targets[name]
			label := fmt.Sprintf("%s\\n%s %s", name, t.Kind, versionOrDash(t.Version))
			style := "filled,rounded"
			if p.skip.Has(name) {
				style = "filled,rounded,dashed"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"%s\"];\n",
				name, label, kindColor(t.Kind), style))
		}

		sb.WriteString("  }\n\n")
	}

	for _, batch := range order {
		for _, name := range batch {
			for _, dep := range p.targets[name].Dependencies.Sorted() {
				sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, name))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// kindColor returns a fill color for visualizing target kinds.
func kindColor(kind Kind) string {
	switch kind {
	case KindImage:
		return "lightblue"
	case KindBuilder:
		return "lightgray"
	case KindTar:
		return "lightgreen"
	default:
		return "white"
	}
}
