package errors

import (
	"fmt"
)

// ParseError represents a YAML or script-source parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CompileError indicates a pipeline script failed to compile. Compile failures
// are surfaced to the caller and never cached.
type CompileError struct {
	ScriptName  string
	Diagnostics []string
	Err         error
}

// NewCompileError constructs a CompileError.
func NewCompileError(scriptName string, diagnostics []string, err error) error {
	return &CompileError{ScriptName: scriptName, Diagnostics: diagnostics, Err: err}
}

func (e *CompileError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Diagnostics) > 0 {
		return fmt.Sprintf("compile error: %s: %s", e.ScriptName, e.Diagnostics[0])
	}
	return fmt.Sprintf("compile error: %s: %v", e.ScriptName, e.Err)
}

// Unwrap exposes the underlying compiler error.
func (e *CompileError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SecretResolutionError reports a malformed interpolation template, such as an
// unclosed token. Individual lookup misses are handled locally by the resolver
// and never produce this error.
type SecretResolutionError struct {
	Template string
	Message  string
}

// NewSecretResolutionError constructs a SecretResolutionError.
func NewSecretResolutionError(template, message string) error {
	return &SecretResolutionError{Template: template, Message: message}
}

func (e *SecretResolutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("secret resolution error: %s", e.Message)
}

// CredentialResolutionError reports a credential id that could not be resolved
// through any registered provider. Raised before any side effect of a
// credential scope occurs.
type CredentialResolutionError struct {
	CredentialID string
	Err          error
}

// NewCredentialResolutionError constructs a CredentialResolutionError.
func NewCredentialResolutionError(id string, err error) error {
	return &CredentialResolutionError{CredentialID: id, Err: err}
}

func (e *CredentialResolutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("credential resolution error: %s: %v", e.CredentialID, e.Err)
	}
	return fmt.Sprintf("credential resolution error: unknown credential %q", e.CredentialID)
}

// Unwrap exposes the underlying error.
func (e *CredentialResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SecurityViolationError indicates a step's security level exceeded the
// execution policy ceiling. The step implementation is never invoked.
type SecurityViolationError struct {
	Step    string
	Level   string
	Ceiling string
}

// NewSecurityViolationError constructs a SecurityViolationError.
func NewSecurityViolationError(step, level, ceiling string) error {
	return &SecurityViolationError{Step: step, Level: level, Ceiling: ceiling}
}

func (e *SecurityViolationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("security violation: step %q requires level %s but policy ceiling is %s", e.Step, e.Level, e.Ceiling)
}

// StepFailureError represents a runtime failure while executing a step.
type StepFailureError struct {
	Step string
	Err  error
}

// NewStepFailureError constructs a StepFailureError.
func NewStepFailureError(step string, err error) error {
	return &StepFailureError{Step: step, Err: err}
}

func (e *StepFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Step != "" {
		return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step failed: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *StepFailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StageFailureError propagates a stage failure to the pipeline.
type StageFailureError struct {
	Stage string
	Err   error
}

// NewStageFailureError constructs a StageFailureError.
func NewStageFailureError(stage string, err error) error {
	return &StageFailureError{Stage: stage, Err: err}
}

func (e *StageFailureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the root error.
func (e *StageFailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CancellationError marks work that unwound after a cancellation request.
// Stages that observe it report Aborted rather than Failure.
type CancellationError struct {
	Scope string
	Err   error
}

// NewCancellationError constructs a CancellationError.
func NewCancellationError(scope string, err error) error {
	return &CancellationError{Scope: scope, Err: err}
}

func (e *CancellationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Scope != "" {
		return fmt.Sprintf("cancelled: %s: %v", e.Scope, e.Err)
	}
	return fmt.Sprintf("cancelled: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *CancellationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InternalError indicates an engine invariant violation, such as cache
// corruption. Logged at ERROR; fails the pipeline.
type InternalError struct {
	Component string
	Err       error
}

// NewInternalError constructs an InternalError.
func NewInternalError(component string, err error) error {
	return &InternalError{Component: component, Err: err}
}

func (e *InternalError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("internal error [%s]: %v", e.Component, e.Err)
}

// Unwrap exposes the underlying error.
func (e *InternalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
