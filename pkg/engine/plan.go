package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// BuildPlan owns the target registry and the skip, start and force sets.
// It is populated by applying directives in order, finalized with the
// command line sets, and then used read-only to compute the build order
// and resolve artifacts.
type BuildPlan struct {
	// targets maps target names to targets; later declarations replace
	// earlier ones wholesale.
	targets map[string]*Target

	// skip holds names explicitly excluded from being built.
	skip StringSet

	// start holds seed names to build; empty means all targets.
	start StringSet

	// force holds names rebuilt unconditionally.
	force StringSet

	log zerolog.Logger
}

// PlanOption configures a BuildPlan.
type PlanOption func(*BuildPlan)

// WithLogger sets the logger used for warnings and debug traces.
func WithLogger(log zerolog.Logger) PlanOption {
	return func(p *BuildPlan) {
		p.log = log
	}
}

// NewBuildPlan creates an empty build plan.
func NewBuildPlan(opts ...PlanOption) *BuildPlan {
	p := &BuildPlan{
		targets: make(map[string]*Target),
		skip:    make(StringSet),
		start:   make(StringSet),
		force:   make(StringSet),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Target returns the named target, or nil if it is not declared.
func (p *BuildPlan) Target(name string) *Target {
	return p.targets[name]
}

// TargetNames returns the names of all declared targets, sorted.
func (p *BuildPlan) TargetNames() []string {
	names := make([]string, 0, len(p.targets))
	for n := range p.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Skips returns the skip set, sorted.
func (p *BuildPlan) Skips() []string { return p.skip.Sorted() }

// Starts returns the start set, sorted.
func (p *BuildPlan) Starts() []string { return p.start.Sorted() }

// Forces returns the force set, sorted.
func (p *BuildPlan) Forces() []string { return p.force.Sorted() }

// AddDirective applies one directive to the plan. This is the semantic
// dispatch of the Millfile parser.
func (p *BuildPlan) AddDirective(d Directive) error {
	switch d.Kind() {
	case DirectiveTarget:
		return p.addTarget(d)
	case DirectiveVersion:
		return p.updateTarget(d)
	case DirectiveSkip:
		return p.addSkips(d)
	case DirectiveUnknown:
		word := ""
		if len(d.Words) > 0 {
			word = d.Words[0]
		}
		return NewParseError(d.Location, fmt.Sprintf("unknown directive '%s'. Known directives are %v",
			word, KnownDirectives())).
			WithCode(ErrCodeUnknownDirective)
	}
	return NewInternalError(fmt.Sprintf("unhandled directive kind %d", d.Kind()))
}

// parseTarget builds a Target out of a full target directive.
func parseTarget(d Directive) (*Target, error) {
	if n := len(d.Words); n < 2 || n > 4 {
		return nil, NewParseError(d.Location, fmt.Sprintf("the '%s' directive requires 2 to 4 tokens, but %d found in %v",
			d.Words[0], n, d.Words)).
			WithCode(ErrCodeMalformedDirective)
	}
	kind, _ := ParseKind(d.Words[0])
	words := append(append([]string(nil), d.Words...), "", "")
	t := &Target{
		Source:          d.Location,
		Kind:            kind,
		Path:            words[1],
		Version:         words[2],
		VersionVariable: words[3],
		Dependencies:    d.Deps.Clone(),
		Substitutions:   make(map[string]string, len(d.Assignments)),
	}
	for k, v := range d.Assignments {
		t.Substitutions[k] = v
	}

	if t.VersionVariable != "" {
		if err := ValidateVariable(d.Location, t.VersionVariable); err != nil {
			return nil, err
		}
		if _, ok := t.Substitutions[t.VersionVariable]; ok {
			return nil, NewParseError(d.Location, fmt.Sprintf("version variable %s is assigned within the substitutions section",
				t.VersionVariable)).
				WithCode(ErrCodeMalformedDirective)
		}
	}

	name := t.Name()
	if name == "" {
		return nil, NewParseError(d.Location, fmt.Sprintf("build path '%s' does not end in a target name", t.Path)).
			WithCode(ErrCodeMalformedDirective)
	}
	if t.Dependencies.Has(name) {
		return nil, NewConsistencyError(fmt.Sprintf("the target '%s' depends on itself", name)).
			WithCode(ErrCodeSelfDependency).
			WithLocation(d.Location)
	}
	return t, nil
}

// addTarget adds or replaces a full target declaration.
func (p *BuildPlan) addTarget(d Directive) error {
	t, err := parseTarget(d)
	if err != nil {
		return err
	}
	name := t.Name()
	if old, ok := p.targets[name]; ok {
		p.log.Trace().Stringer("source", t.Source).Str("target", name).
			Msgf("replacing target\n>|   %s\n>| with\n>|   %s", old, t)
	} else {
		p.log.Trace().Stringer("source", t.Source).Str("target", name).
			Msgf("adding target\n>|   %s", t)
	}
	p.targets[name] = t
	return nil
}

// validateNoColon checks a simple directive for the minimum number of words
// and the absence of colon-separated fields.
func validateNoColon(d Directive, minWords int) error {
	badCount := len(d.Words) < minWords
	badColon := len(d.Deps) > 0 || len(d.Assignments) > 0
	if !badCount && !badColon {
		return nil
	}
	msg := []string{fmt.Sprintf("directive '%s'", d.Words[0])}
	if badCount {
		msg = append(msg, fmt.Sprintf("requires at least %d arguments", minWords-1))
	}
	if badCount && badColon {
		msg = append(msg, "and")
	}
	if badColon {
		msg = append(msg, "does not accept colon-separated fields")
	}
	return NewParseError(d.Location, strings.Join(msg, " ")).
		WithCode(ErrCodeMalformedDirective)
}

// addSkips applies the 'skip' directive.
func (p *BuildPlan) addSkips(d Directive) error {
	if err := validateNoColon(d, 2); err != nil {
		return err
	}
	if err := p.addToSet("skip", p.skip, d.Words[1:]); err != nil {
		return err.WithLocation(d.Location)
	}
	return nil
}

// updateTarget applies the 'ver' directive: update the version and,
// optionally, the substitution variables of a declared target.
func (p *BuildPlan) updateTarget(d Directive) error {
	if err := validateNoColon(d, 3); err != nil {
		return err
	}
	name, version := d.Words[1], d.Words[2]
	substs, err := ParseAssignments(d.Location, d.Words[3:])
	if err != nil {
		return err
	}

	t := p.targets[name]
	if t == nil {
		return NewConsistencyError(fmt.Sprintf("unknown target '%s' in the 'ver' directive", name)).
			WithCode(ErrCodeUnknownTarget).
			WithLocation(d.Location)
	}
	if _, ok := substs[t.VersionVariable]; ok && t.VersionVariable != "" {
		return NewParseError(d.Location, fmt.Sprintf("version variable '%s' of the target '%s' cannot be directly "+
			"updated by the 'ver' directive substitution clause %v", t.VersionVariable, name, d.Words[3:])).
			WithCode(ErrCodeNotOverridable)
	}
	if t.Version == "" && t.VersionVariable == "" {
		return NewParseError(d.Location, fmt.Sprintf("target '%s' is declared at %s as unversioned "+
			"(it has neither version nor a version variable)", name, t.Source)).
			WithCode(ErrCodeNotOverridable)
	}
	if t.VersionVariable == "" && len(substs) == 0 {
		return NewParseError(d.Location, fmt.Sprintf("target '%s' declared at %s has no version variable, "+
			"and the 'ver' clause does not change or set any substitution variables of the target. "+
			"The version change alone would produce the same artifact as before under a different "+
			"version. This is a consistency violation", name, t.Source)).
			WithCode(ErrCodeNotOverridable)
	}
	if t.VersionVariable == "" {
		p.log.Warn().Msgf("%s: target '%s' declared at %s has no version variable. Make sure that the "+
			"updated substitutions %v will in fact produce the version '%s' which you are setting",
			d.Location, name, t.Source, d.Words[3:], version)
	}

	p.log.Trace().Stringer("source", d.Location).Str("target", name).
		Msgf("changing version from '%s' to '%s'", t.Version, version)
	t.Version = version
	for k, v := range substs {
		t.Substitutions[k] = v
	}
	return nil
}

// addToSet adds names to one of the plan sets, failing if any of them is
// not a declared target. setName is for diagnostics only.
func (p *BuildPlan) addToSet(setName string, set StringSet, names []string) *EngineError {
	add := NewStringSet(names...)
	unknown := make(StringSet)
	for n := range add {
		if _, ok := p.targets[n]; !ok {
			unknown.Add(n)
		}
	}
	if len(unknown) > 0 {
		return NewConsistencyError(fmt.Sprintf("attempt to add unknown targets %v to the %s set",
			unknown.Sorted(), setName)).
			WithCode(ErrCodeUnknownTarget).
			WithTargets(unknown)
	}
	for n := range add {
		set.Add(n)
	}
	p.log.Debug().Strs("added", add.Sorted()).Strs(setName, set.Sorted()).
		Msgf("updated %s set", setName)
	return nil
}

// Finalize merges the command line sets into the plan. It must be called
// after all Millfiles are loaded. With rebuildAll, every target is both
// started and forced, and targets and force are ignored.
func (p *BuildPlan) Finalize(targets, force []string, rebuildAll bool) error {
	if rebuildAll {
		all := p.TargetNames()
		if err := p.addToSet("start", p.start, all); err != nil {
			return err
		}
		if err := p.addToSet("force", p.force, all); err != nil {
			return err
		}
		return nil
	}
	if err := p.addToSet("start", p.start, targets); err != nil {
		return err
	}
	if err := p.addToSet("force", p.force, force); err != nil {
		return err
	}
	return nil
}

// String dumps the combined Millfile and the plan sets.
func (p *BuildPlan) String() string {
	setStr := func(s StringSet) string {
		if len(s) == 0 {
			return "{}"
		}
		return "{" + strings.Join(s.Sorted(), " ") + "}"
	}
	lines := []string{"Combined Millfile:"}
	for _, n := range p.TargetNames() {
		lines = append(lines, ">|   "+p.targets[n].String())
	}
	lines = append(lines,
		">| Skip set : "+setStr(p.skip),
		">| Start set: "+setStr(p.start),
		">| Force set: "+setStr(p.force))
	return strings.Join(lines, "\n")
}
