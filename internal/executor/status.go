package executor

import "fmt"

// Status is the lifecycle state of a stage (and, aggregated, of a pipeline).
type Status string

const (
	// StatusPending marks a stage that has not started.
	StatusPending Status = "Pending"
	// StatusRunning marks a stage in flight.
	StatusRunning Status = "Running"
	// StatusSuccess marks a completed stage.
	StatusSuccess Status = "Success"
	// StatusFailure marks a stage whose body failed.
	StatusFailure Status = "Failure"
	// StatusUnstable marks a succeeded stage whose post-hook failed.
	StatusUnstable Status = "Unstable"
	// StatusAborted marks a stage that unwound after cancellation.
	StatusAborted Status = "Aborted"
	// StatusNotBuilt marks a stage skipped because the pipeline stopped.
	StatusNotBuilt Status = "NotBuilt"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusUnstable, StatusAborted, StatusNotBuilt:
		return true
	default:
		return false
	}
}

// stageState guards the status transitions of one stage execution.
type stageState struct {
	status Status
}

func newStageState() *stageState {
	return &stageState{status: StatusPending}
}

func (s *stageState) transition(next Status) error {
	if s.status.Terminal() {
		return fmt.Errorf("stage already terminal in %s; cannot move to %s", s.status, next)
	}
	s.status = next
	return nil
}
