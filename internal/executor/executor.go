package executor

import (
	"context"
	"errors"
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	"github.com/alexisbeaulieu97/conveyor/internal/steps"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// Executor drives stages to completion: body, post-execution hooks, status
// aggregation. Stages run sequentially; parallelism lives inside a stage's
// branches.
type Executor struct {
	log *logx.Logger
}

// New creates an Executor logging through log (nil disables logging).
func New(log *logx.Logger) *Executor {
	return &Executor{log: log}
}

// RunPipeline executes stages in order, failing fast: a stage ending in
// Failure or Aborted stops the run and marks the remaining stages NotBuilt.
// The returned error carries the terminating stage's failure, nil when every
// stage succeeded (Unstable does not terminate the run).
func (e *Executor) RunPipeline(ctx context.Context, ec *execctx.Context, stages []Stage) ([]StageResult, error) {
	results := make([]StageResult, 0, len(stages))

	for i, stage := range stages {
		result, stageErr := e.RunStage(ctx, ec, stage)
		results = append(results, result)

		if result.Status == StatusFailure || result.Status == StatusAborted {
			for _, skipped := range stages[i+1:] {
				results = append(results, StageResult{Name: skipped.Name, Status: StatusNotBuilt})
			}
			if result.Status == StatusAborted {
				return results, stageErr
			}
			return results, conveyorerrors.NewStageFailureError(stage.Name, stageErr)
		}
	}
	return results, nil
}

// RunStage executes a single stage: mark Running, run the body (or parallel
// branches), classify the outcome, run post hooks, and emit the result.
func (e *Executor) RunStage(ctx context.Context, ec *execctx.Context, stage Stage) (StageResult, error) {
	state := newStageState()
	_ = state.transition(StatusRunning)

	stageCtx := logx.WithFields(ctx, map[string]any{"stage": stage.Name})
	rec := &stepRecorder{}
	stageCtx = withRecorder(stageCtx, rec)

	e.info(stageCtx, "stage started", "stage", stage.Name)
	start := time.Now()

	bodyErr := e.runBody(stageCtx, ec, stage)

	var status Status
	switch {
	case bodyErr == nil:
		status = StatusSuccess
	case isCancellation(bodyErr):
		status = StatusAborted
	default:
		status = StatusFailure
	}

	status = e.runPostHooks(stageCtx, ec, stage, status)
	if err := state.transition(status); err != nil {
		return StageResult{}, conveyorerrors.NewInternalError("executor", err)
	}

	result := StageResult{
		Name:     stage.Name,
		Status:   status,
		Duration: time.Since(start),
		Steps:    rec.snapshot(),
	}
	if bodyErr != nil {
		result.ErrorMessage = failureMessage(bodyErr)
	}

	e.info(stageCtx, "stage finished", "stage", stage.Name, "status", string(status), "duration_ms", result.Duration.Milliseconds())
	return result, bodyErr
}

func (e *Executor) runBody(ctx context.Context, ec *execctx.Context, stage Stage) error {
	if len(stage.Branches) > 0 {
		_, err := ec.Steps.Dispatch(ctx, ec, "parallel", map[string]any{"branches": stage.Branches})
		return err
	}
	if stage.Body == nil {
		return nil
	}
	_, err := stage.Body(ctx, ec)
	return err
}

// runPostHooks executes the stage's hook triple in spec order: the
// status-specific hook first, then always. A hook failure is logged and
// demotes Success to Unstable; it never resurrects a failed stage.
func (e *Executor) runPostHooks(ctx context.Context, ec *execctx.Context, stage Stage, status Status) Status {
	runHook := func(name string, hook steps.Block) bool {
		if hook == nil {
			return true
		}
		if _, err := hook(ctx, ec); err != nil {
			e.warn(ctx, "post hook failed", "stage", stage.Name, "hook", name, "error", err.Error())
			return false
		}
		return true
	}

	hooksOK := true
	switch status {
	case StatusSuccess:
		hooksOK = runHook("success", stage.Post.OnSuccess)
	case StatusFailure:
		hooksOK = runHook("failure", stage.Post.OnFailure)
	}
	if !runHook("always", stage.Post.Always) {
		hooksOK = false
	}

	if status == StatusSuccess && !hooksOK {
		return StatusUnstable
	}
	return status
}

func (e *Executor) info(ctx context.Context, msg string, fields ...any) {
	if e.log != nil {
		e.log.Info(ctx, msg, fields...)
	}
}

func (e *Executor) warn(ctx context.Context, msg string, fields ...any) {
	if e.log != nil {
		e.log.Warn(ctx, msg, fields...)
	}
}

func isCancellation(err error) bool {
	var cancelled *conveyorerrors.CancellationError
	if errors.As(err, &cancelled) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func failureMessage(err error) string {
	var stepErr *conveyorerrors.StepFailureError
	if errors.As(err, &stepErr) && stepErr.Err != nil {
		return stepErr.Err.Error()
	}
	return err.Error()
}

// AggregateStatus folds stage statuses into a pipeline status: Failure if any
// stage failed, otherwise Aborted if any stage aborted, otherwise Unstable if
// any stage was demoted, otherwise Success.
func AggregateStatus(results []StageResult) Status {
	agg := StatusSuccess
	for _, r := range results {
		switch r.Status {
		case StatusFailure:
			return StatusFailure
		case StatusAborted:
			agg = StatusAborted
		case StatusUnstable:
			if agg == StatusSuccess {
				agg = StatusUnstable
			}
		}
	}
	return agg
}
