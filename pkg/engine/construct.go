package engine

import (
	"context"
	"fmt"
	"sort"
)

// lookupArtifact queries the locator for the target's kind.
func (p *BuildPlan) lookupArtifact(ctx context.Context, locs Locators, t *Target) (string, bool, error) {
	loc, err := locs.For(t.Kind)
	if err != nil {
		return "", false, err
	}
	return loc.Locate(ctx, t.Name(), t.Version)
}

// ConstructBuild converts a build order into a build sequence: for every
// batch, the build specs of the targets which are forced or whose artifact
// is missing. Up-to-date batches are dropped.
//
// A stale target in the skip set is still emitted with its batch, but it
// blocks every later batch that has anything to build: such a conflict is
// fatal.
func (p *BuildPlan) ConstructBuild(ctx context.Context, locs Locators, order []Batch) ([][]string, error) {
	var res [][]string
	blockers := make(StringSet)

	for _, batch := range order {
		dirty := make(StringSet)
		for _, name := range batch {
			if p.force.Has(name) {
				p.log.Debug().Str("target", name).Msg("forced rebuild")
				dirty.Add(name)
				continue
			}
			_, found, err := p.lookupArtifact(ctx, locs, p.targets[name])
			if err != nil {
				return res, err
			}
			if !found {
				dirty.Add(name)
			}
		}
		if len(dirty) == 0 {
			continue
		}

		if len(blockers) > 0 {
			return res, NewConsistencyError(fmt.Sprintf("target(s) %v are explicitly prevented from being built "+
				"with the 'skip' directive, but one or more targets in %v are out-of-date and depend on them. "+
				"As a rule, mark only independent targets to be skipped", blockers.Sorted(), dirty.Sorted())).
				WithCode(ErrCodeSkipConflict).
				WithTargets(blockers)
		}

		for _, name := range dirty.Intersect(p.skip).Sorted() {
			p.log.Warn().Str("target", name).Msg("target is out-of-date but skipped")
			blockers.Add(name)
		}

		specs := make([]string, 0, len(dirty))
		for _, name := range dirty.Sorted() {
			specs = append(specs, p.targets[name].BuildSpec())
		}
		res = append(res, specs)
	}
	return res, nil
}

// ConstructGather checks that the artifacts of all targets in the order
// are really there and returns their locations for assembling the
// deployable disk, one "NAME VERSION LOCATOR" line per target. Builders
// are never gathered. Every missing artifact is collected before failing,
// so that the error lists them all.
func (p *BuildPlan) ConstructGather(ctx context.Context, locs Locators, order []Batch) ([]string, error) {
	var res []string
	missing := make(StringSet)

	for _, batch := range order {
		for _, name := range batch {
			t := p.targets[name]
			if t.Kind == KindBuilder {
				p.log.Debug().Str("target", name).Msg("skipping non-deployable builder")
				continue
			}
			art, found, err := p.lookupArtifact(ctx, locs, t)
			if err != nil {
				return nil, err
			}
			if !found {
				missing.Add(name)
				continue
			}
			res = append(res, name+" "+versionOrDash(t.Version)+" "+art)
		}
	}

	if len(missing) > 0 {
		return nil, NewConsistencyError(fmt.Sprintf("build did not produce expected artifacts for targets %v. "+
			"Check the build logs, whether the artifact type (tar or image) is correct, and whether the build "+
			"places the artifact where it should be, with the correct version tarball metadatum or image tag",
			missing.Sorted())).
			WithCode(ErrCodeMissingArtifact).
			WithTargets(missing)
	}
	sort.Strings(res)
	return res, nil
}
