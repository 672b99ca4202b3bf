package pipeline

import (
	"errors"

	"github.com/alexisbeaulieu97/conveyor/internal/executor"
	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	"github.com/alexisbeaulieu97/conveyor/internal/scriptcache"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// Exit codes of the orchestrator's public contract.
const (
	// ExitSuccess covers Success and Unstable runs.
	ExitSuccess = 0
	// ExitRuntimeFailure covers stage failures and aborted runs.
	ExitRuntimeFailure = 1
	// ExitCompileFailure covers script or configuration compilation errors.
	ExitCompileFailure = 2
	// ExitSecurityViolation covers policy-ceiling violations.
	ExitSecurityViolation = 3
)

// Result is the orchestrator's report of one run.
type Result struct {
	Status              executor.Status
	Stages              []executor.StageResult
	EnvironmentSnapshot map[string]string
	// Logs is the run's log stream handle; consumers registered on it saw
	// every event of the run.
	Logs *logx.Manager
	// CacheStats snapshots the compilation cache after the run.
	CacheStats scriptcache.Stats
}

// ExitCode maps a run outcome onto the process exit contract.
func ExitCode(result *Result, err error) int {
	var compileErr *conveyorerrors.CompileError
	var parseErr *conveyorerrors.ParseError
	var validationErr *conveyorerrors.ValidationError
	if errors.As(err, &compileErr) || errors.As(err, &parseErr) || errors.As(err, &validationErr) {
		return ExitCompileFailure
	}

	var securityErr *conveyorerrors.SecurityViolationError
	if errors.As(err, &securityErr) {
		return ExitSecurityViolation
	}

	if result != nil {
		switch result.Status {
		case executor.StatusSuccess, executor.StatusUnstable:
			return ExitSuccess
		default:
			return ExitRuntimeFailure
		}
	}
	if err != nil {
		return ExitRuntimeFailure
	}
	return ExitSuccess
}
