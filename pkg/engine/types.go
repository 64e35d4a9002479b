package engine

import (
	"fmt"
	"sort"
	"strings"
)

// SourceLocation identifies the Millfile line a directive was loaded from.
type SourceLocation struct {
	// File is the name of the Millfile as given on the command line.
	File string `json:"file"`

	// Line is the 1-based physical line number of the first line of the directive.
	Line int `json:"line"`
}

// String returns the location in the usual file:line form.
func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Kind is the kind of a build target. The kind determines which artifact
// locator answers for the target.
type Kind int

const (
	// KindImage is a deployable container image.
	KindImage Kind = iota

	// KindBuilder is a container image used only to build other targets.
	// Builders produce no deployable artifact and are never gathered.
	KindBuilder

	// KindTar is a tarball stored in the software bucket.
	KindTar
)

// Kinds lists every target kind, in the order they are documented.
var Kinds = []Kind{KindImage, KindBuilder, KindTar}

// String returns the Millfile directive word for the kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindBuilder:
		return "builder"
	case KindTar:
		return "tar"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a directive word to a target kind.
func ParseKind(word string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == word {
			return k, true
		}
	}
	return 0, false
}

// Target is the complete description of a single build target.
type Target struct {
	// Source is where the target was declared. Read-only.
	Source SourceLocation

	// Kind is the target kind. Read-only.
	Kind Kind

	// Path is the declared build path, usually a single word but may be
	// e.g. "my/dir/kaldi". Its last component is the target name.
	Path string

	// Version is the desired artifact version, or empty if the target is
	// unversioned. Replaced by the 'ver' directive.
	Version string

	// VersionVariable names a substitution variable which is populated
	// with Version at build time, e.g. "_KALDI_VER". Empty if none.
	VersionVariable string

	// Dependencies are names of targets this target requires. Never
	// mutated after the target is declared.
	Dependencies StringSet

	// Substitutions are build variables passed to the builder. Merged by
	// the 'ver' directive.
	Substitutions map[string]string
}

// Name returns the target name, the last component of its build path.
func (t *Target) Name() string {
	return TargetName(t.Path)
}

// TargetName converts a build path into a target name:
// my/dir/kaldi => kaldi, kaldi => kaldi.
func TargetName(buildPath string) string {
	if i := strings.LastIndexByte(buildPath, '/'); i >= 0 {
		return buildPath[i+1:]
	}
	return buildPath
}

// versionOrDash renders an empty version as "-".
func versionOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// BuildSpec returns the build directive line for the target, e.g.
// "build mkl 2019.5 _MKL_VER=2019.5" or "build cxx -".
func (t *Target) BuildSpec() string {
	spec := []string{"build", t.Name(), versionOrDash(t.Version)}
	for _, k := range sortedKeys(t.Substitutions) {
		spec = append(spec, k+"="+t.Substitutions[k])
	}
	if t.VersionVariable != "" && t.Version != "" {
		spec = append(spec, t.VersionVariable+"="+t.Version)
	}
	return strings.Join(spec, " ")
}

// String renders the target back in Millfile syntax, followed by its
// source location. Used in debug output.
func (t *Target) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join([]string{t.Kind.String(), t.Path, t.Version, t.VersionVariable}, " "))
	if len(t.Dependencies) > 0 {
		sb.WriteString(" : ")
		sb.WriteString(strings.Join(t.Dependencies.Sorted(), " "))
	}
	if len(t.Substitutions) > 0 {
		sb.WriteString(" : ")
		for i, k := range sortedKeys(t.Substitutions) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(k + "=" + t.Substitutions[k])
		}
	}
	sb.WriteString(" ## ")
	sb.WriteString(t.Source.String())
	return sb.String()
}

// DirectiveKind classifies a directive by its first word.
type DirectiveKind int

const (
	// DirectiveUnknown is any unrecognized first word.
	DirectiveUnknown DirectiveKind = iota

	// DirectiveTarget declares or replaces a target ("image", "builder", "tar").
	DirectiveTarget

	// DirectiveVersion overrides the version of a declared target ("ver").
	DirectiveVersion

	// DirectiveSkip excludes targets from being built ("skip").
	DirectiveSkip
)

// Directive words other than target kinds.
const (
	wordVersion = "ver"
	wordSkip    = "skip"
)

// KnownDirectives returns all directive words the planner accepts.
func KnownDirectives() []string {
	words := make([]string, 0, len(Kinds)+2)
	for _, k := range Kinds {
		words = append(words, k.String())
	}
	return append(words, wordVersion, wordSkip)
}

// Directive is one tokenized logical Millfile line. The three fields are
// separated in the source by a colon followed by whitespace or the end of
// line.
type Directive struct {
	// Location is the location of the first physical line.
	Location SourceLocation

	// Words is the first field: an ordered sequence of tokens.
	Words []string

	// Deps is the second field: an unordered set of target names.
	Deps StringSet

	// Assignments is the third field: KEY=VALUE variable assignments.
	Assignments map[string]string
}

// Kind classifies the directive by its first word.
func (d Directive) Kind() DirectiveKind {
	if len(d.Words) == 0 {
		return DirectiveUnknown
	}
	if _, ok := ParseKind(d.Words[0]); ok {
		return DirectiveTarget
	}
	switch d.Words[0] {
	case wordVersion:
		return DirectiveVersion
	case wordSkip:
		return DirectiveSkip
	default:
		return DirectiveUnknown
	}
}

// Batch is a set of target names with no dependency edges between them,
// all of whose dependencies are satisfied by earlier batches. The names are
// kept sorted.
type Batch []string

// sortedKeys returns the keys of a string map in sorted order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
