package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a safeguard error for the orchestrator's short-circuit logic.
type ErrorKind string

const (
	// ErrorKindConfiguration indicates a malformed safeguards declaration.
	// Raised before any snapshot is built or policy is invoked.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindLoad indicates a policy implementation could not be resolved.
	ErrorKindLoad ErrorKind = "load"

	// ErrorKindArtifactParse indicates a compiled artifact could not be decoded.
	ErrorKindArtifactParse ErrorKind = "artifact_parse"

	// ErrorKindPolicyExecution indicates a policy function raised an error or panicked.
	ErrorKindPolicyExecution ErrorKind = "policy_execution"

	// ErrorKindViolation indicates a policy failed at enforcement level error.
	ErrorKindViolation ErrorKind = "violation"

	// ErrorKindWarning indicates a policy failed at enforcement level warning.
	// Warnings are recorded in the report and never block.
	ErrorKindWarning ErrorKind = "warning"
)

// SafeguardError represents a classified error with policy context.
type SafeguardError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Policy is the policy name that caused the error, if applicable.
	Policy string `json:"policy,omitempty"`

	// File is the artifact file that caused the error, if applicable.
	File string `json:"file,omitempty"`

	// Entries lists offending declaration entries for configuration errors.
	Entries []string `json:"entries,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SafeguardError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Policy != "" {
		fmt.Fprintf(&b, " (policy=%s)", e.Policy)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " (file=%s)", e.File)
	}
	if len(e.Entries) > 0 {
		fmt.Fprintf(&b, " [entries: %s]", strings.Join(e.Entries, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SafeguardError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two safeguard errors match when their kinds match.
func (e *SafeguardError) Is(target error) bool {
	t, ok := target.(*SafeguardError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Fatal reports whether the error aborts the run before aggregation.
func (e *SafeguardError) Fatal() bool {
	switch e.Kind {
	case ErrorKindConfiguration, ErrorKindLoad, ErrorKindArtifactParse, ErrorKindPolicyExecution:
		return true
	default:
		return false
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, entries ...string) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindConfiguration,
		Message: message,
		Entries: entries,
	}
}

// NewLoadError creates a new load error for the named policy.
func NewLoadError(policy string, err error) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindLoad,
		Message: fmt.Sprintf("unable to load policy %q", policy),
		Policy:  policy,
		Err:     err,
	}
}

// NewArtifactParseError creates a new artifact parse error for the named file.
func NewArtifactParseError(file string, err error) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindArtifactParse,
		Message: fmt.Sprintf("failed to parse file %s in the artifacts directory", file),
		File:    file,
		Err:     err,
	}
}

// NewPolicyExecutionError creates a new policy execution error.
func NewPolicyExecutionError(policy string, err error) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindPolicyExecution,
		Message: fmt.Sprintf("there was a problem while processing policy %q", policy),
		Policy:  policy,
		Err:     err,
	}
}

// NewViolation creates a new policy violation.
func NewViolation(policy, message string) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindViolation,
		Message: message,
		Policy:  policy,
	}
}

// NewWarning creates a new policy warning.
func NewWarning(policy, message string) *SafeguardError {
	return &SafeguardError{
		Kind:    ErrorKindWarning,
		Message: message,
		Policy:  policy,
	}
}

// BlockedError is raised by the caller when at least one error-level policy failed.
type BlockedError struct {
	// Violations are the blocking policy violations, in declaration order.
	Violations []Violation
}

// Violation describes a single blocking policy failure.
type Violation struct {
	Title    string   `json:"title"`
	Policy   string   `json:"policy"`
	Messages []string `json:"messages"`
	DocsURL  string   `json:"docs_url,omitempty"`
}

// ErrDeploymentBlocked is the sentinel wrapped by every BlockedError.
var ErrDeploymentBlocked = errors.New("Deployment blocked by Serverless Safeguards")

// Error implements the error interface.
func (e *BlockedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrDeploymentBlocked.Error())
	for i, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %d) %s [%s]: %s", i+1, v.Title, v.Policy, strings.Join(v.Messages, " "))
		if v.DocsURL != "" {
			fmt.Fprintf(&b, "\n     details: %s", v.DocsURL)
		}
	}
	return b.String()
}

// Unwrap returns ErrDeploymentBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrDeploymentBlocked
}

// Error classification helpers

func kindOf(err error) (ErrorKind, bool) {
	var se *SafeguardError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsConfigurationError checks if an error is a configuration error.
func IsConfigurationError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindConfiguration
}

// IsLoadError checks if an error is a load error.
func IsLoadError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindLoad
}

// IsArtifactParseError checks if an error is an artifact parse error.
func IsArtifactParseError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindArtifactParse
}

// IsPolicyExecutionError checks if an error is a policy execution error.
func IsPolicyExecutionError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindPolicyExecution
}

// IsBlocked checks if an error is a deployment block.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrDeploymentBlocked)
}

// GetErrorKind extracts the error kind from an error, returning empty if not classified.
func GetErrorKind(err error) ErrorKind {
	k, _ := kindOf(err)
	return k
}
