package executor

import (
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/steps"
)

// Post is the post-execution hook triple of a stage. Hooks may be nil.
type Post struct {
	Always    steps.Block
	OnSuccess steps.Block
	OnFailure steps.Block
}

// Stage is a named unit of pipeline work: either a sequential body or a set
// of parallel branches, plus optional post-execution hooks.
type Stage struct {
	Name string
	// Body runs the stage's steps in program order.
	Body steps.Block
	// Branches, when non-empty, run concurrently through the parallel step
	// instead of Body.
	Branches []steps.Branch
	Post     Post
}

// StepOutcome records a single dispatched step inside a stage.
type StepOutcome struct {
	Name     string
	Duration time.Duration
	Err      error
}

// StageResult is the emitted outcome of one stage.
type StageResult struct {
	Name         string
	Status       Status
	Duration     time.Duration
	ErrorMessage string
	Steps        []StepOutcome
}
