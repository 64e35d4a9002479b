// Package engine implements the Millfile build planner.
//
// # Overview
//
// A Millfile declares build targets: deployable container images, builder
// images used only to build other targets, and tarballs. The planner works
// in four steps:
//
//  1. Directives - AddDirective applies declarations, 'ver' overrides and
//     'skip' lists, in file order
//  2. Selection - Finalize merges the command line start and force sets
//  3. Order - BuildOrder expands the selection with all dependencies and
//     groups it into batches of mutually independent targets
//  4. Construction - ConstructBuild decides which targets to rebuild and
//     ConstructGather collects the locations of built artifacts
//
// # Directive Syntax
//
//	<kind> <path> [<version>] [<versionVariable>] [: dep dep ...] [: K=V ...]
//	ver <name> <version> [K=V ...]
//	skip <name> [<name> ...]
//
// Lines are tokenized into Directive records by package millfile; this
// package never reads files.
//
// # Artifact Locators
//
// Whether an artifact exists is asked through the Locator interface, one
// per target kind (see Locators). Package locators implements them over
// Google Cloud Storage and a container registry.
//
// # Errors
//
// Every failure is an *EngineError classified as a parse, consistency or
// remote error. Parse errors carry the Millfile location. Errors about a
// set of targets (cycles, missing artifacts) name every offending target.
//
// # Example Usage
//
//	plan := engine.NewBuildPlan(engine.WithLogger(log))
//	for _, d := range directives {
//	    if err := plan.AddDirective(d); err != nil {
//	        return err
//	    }
//	}
//	if err := plan.Finalize(targets, force, false); err != nil {
//	    return err
//	}
//	order, err := plan.BuildOrder()
//	if err != nil {
//	    return err
//	}
//	batches, err := plan.ConstructBuild(ctx, locs, order)
package engine
