package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// ReservedVariablePrefix is reserved for variables set by the build
// machinery itself.
const ReservedVariablePrefix = "_GS_"

// variableRe matches user variable names: one or more groups of an
// underscore followed by capital letters and digits.
var variableRe = regexp.MustCompile(`^(?:_[0-9A-Z]+)+$`)

// ValidateVariable returns a parse error if name is not a valid
// user-defined build variable.
func ValidateVariable(loc SourceLocation, name string) error {
	if !variableRe.MatchString(name) {
		return NewParseError(loc, fmt.Sprintf("malformed variable '%s'. All user-defined variables "+
			"must begin with the underscore '_', contain only capital letters and digits, "+
			"not end with an underscore and not contain two underscores in a row", name)).
			WithCode(ErrCodeBadVariable)
	}
	if strings.HasPrefix(name, ReservedVariablePrefix) {
		return NewParseError(loc, fmt.Sprintf("malformed variable '%s': the prefix '%s' is reserved",
			name, ReservedVariablePrefix)).
			WithCode(ErrCodeBadVariable)
	}
	return nil
}

// ParseAssignments parses a sequence of KEY=VALUE tokens into a map. Every
// key must be a valid variable and assigned at most once. The value may
// be empty and may itself contain '='.
func ParseAssignments(loc SourceLocation, tokens []string) (map[string]string, error) {
	res := make(map[string]string, len(tokens))
	for _, a := range tokens {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, NewParseError(loc, fmt.Sprintf("malformed assignment '%s'", a)).
				WithCode(ErrCodeMalformedDirective)
		}
		if err := ValidateVariable(loc, k); err != nil {
			return nil, err
		}
		if _, dup := res[k]; dup {
			return nil, NewParseError(loc, fmt.Sprintf("in '%s': variable '%s' assigned twice on the line", a, k)).
				WithCode(ErrCodeDuplicateAssignment)
		}
		res[k] = v
	}
	return res, nil
}
