package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of a planner error.
type ErrorClass string

const (
	// ErrorClassParse indicates malformed Millfile syntax: bad directives,
	// bad variable names, duplicate assignments. Always carries a location.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassConsistency indicates valid syntax that violates the
	// target graph invariants: unknown or circular dependencies, skip
	// conflicts, missing artifacts.
	ErrorClassConsistency ErrorClass = "consistency"

	// ErrorClassRemote indicates a failed call to the artifact store,
	// the registry or the credential exchange. Never retried.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassInternal indicates a bug in the planner itself.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Location is the Millfile location the error relates to, if any.
	Location *SourceLocation `json:"location,omitempty"`

	// Targets are the target names involved, sorted.
	Targets []string `json:"targets,omitempty"`

	// Operation is the remote operation being performed, e.g. "HEAD https://...".
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	if e.Location != nil {
		sb.WriteString(e.Location.String())
		sb.WriteString(": ")
	}
	sb.WriteString(e.Class.label())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Operation != "" {
		fmt.Fprintf(&sb, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// label returns the diagnostic prefix for an error class.
func (c ErrorClass) label() string {
	switch c {
	case ErrorClassParse:
		return "ParseError"
	case ErrorClassConsistency:
		return "ConsistencyError"
	case ErrorClassRemote:
		return "RemoteError"
	default:
		return "InternalError"
	}
}

// ErrorLabels returns the class and code, for metrics and spans.
func (e *EngineError) ErrorLabels() (class, code string) {
	return string(e.Class), e.Code
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewParseError creates a new parse error at the given location.
func NewParseError(loc SourceLocation, message string) *EngineError {
	return &EngineError{
		Class:    ErrorClassParse,
		Message:  message,
		Location: &loc,
	}
}

// NewConsistencyError creates a new consistency error.
func NewConsistencyError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConsistency,
		Message: message,
	}
}

// NewRemoteError creates a new remote error.
func NewRemoteError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRemote,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
	}
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithLocation adds a Millfile location to an error.
func (e *EngineError) WithLocation(loc SourceLocation) *EngineError {
	e.Location = &loc
	return e
}

// WithTargets records the target names involved in the error.
func (e *EngineError) WithTargets(names StringSet) *EngineError {
	e.Targets = names.Sorted()
	return e
}

// WithOperation adds remote operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// IsParse returns true if the error is classified as a parse error.
func IsParse(err error) bool {
	return classOf(err) == ErrorClassParse
}

// IsConsistency returns true if the error is classified as a consistency error.
func IsConsistency(err error) bool {
	return classOf(err) == ErrorClassConsistency
}

// IsRemote returns true if the error is classified as a remote error.
func IsRemote(err error) bool {
	return classOf(err) == ErrorClassRemote
}

// CodeOf returns the error code of the first EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Common error codes.
const (
	ErrCodeMalformedDirective  = "MALFORMED_DIRECTIVE"
	ErrCodeBadVariable         = "BAD_VARIABLE"
	ErrCodeDuplicateAssignment = "DUPLICATE_ASSIGNMENT"
	ErrCodeUnknownDirective    = "UNKNOWN_DIRECTIVE"
	ErrCodeUnknownTarget       = "UNKNOWN_TARGET"
	ErrCodeSelfDependency      = "SELF_DEPENDENCY"
	ErrCodeNotOverridable      = "NOT_OVERRIDABLE"
	ErrCodeDanglingDependency  = "DANGLING_DEPENDENCY"
	ErrCodeCircularDependency  = "CIRCULAR_DEPENDENCY"
	ErrCodeSkipConflict        = "SKIP_CONFLICT"
	ErrCodeMissingArtifact     = "MISSING_ARTIFACT"
	ErrCodeTooManyObjects      = "TOO_MANY_OBJECTS"
	ErrCodeHTTPStatus          = "HTTP_STATUS"
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeConfig              = "CONFIG_ERROR"
)
