package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/steps"
	"github.com/alexisbeaulieu97/conveyor/internal/workspace"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

func newExecEnv(t *testing.T) (*Executor, *execctx.Context) {
	t.Helper()

	registry := steps.NewRegistry()
	require.NoError(t, steps.RegisterBuiltins(registry))
	require.NoError(t, registry.Intercept(RecordingInterceptor()))
	registry.Freeze()

	main, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)

	store := credentials.NewStore(credentials.NewStaticProvider())
	creds := credentials.NewManager(store, t.TempDir(), nil)

	ec := execctx.New(
		"exec-test",
		execctx.NewEmptyEnvManager(),
		execctx.NewParamManager(nil),
		nil,
		workspace.NewManager(main),
		creds,
		registry,
		execctx.Policy{Ceiling: execctx.Trusted},
	)
	return New(nil), ec
}

func block(fn func(ctx context.Context, ec *execctx.Context) error) steps.Block {
	return func(ctx context.Context, ec *execctx.Context) (any, error) {
		return nil, fn(ctx, ec)
	}
}

func TestStageSuccessRunsSuccessThenAlways(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	var trace []string

	stage := Stage{
		Name: "Build",
		Body: block(func(ctx context.Context, ec *execctx.Context) error {
			trace = append(trace, "body")
			return nil
		}),
		Post: Post{
			OnSuccess: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "success")
				return nil
			}),
			OnFailure: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "failure")
				return nil
			}),
			Always: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "always")
				return nil
			}),
		},
	}

	result, err := e.RunStage(context.Background(), ec, stage)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, []string{"body", "success", "always"}, trace)
}

func TestStageFailureRunsFailureThenAlwaysAndCapturesMessage(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	var trace []string

	stage := Stage{
		Name: "Deploy",
		Body: func(ctx context.Context, scoped *execctx.Context) (any, error) {
			return scoped.Steps.Dispatch(ctx, scoped, "error", map[string]any{"message": "gate closed"})
		},
		Post: Post{
			OnSuccess: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "success")
				return nil
			}),
			OnFailure: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "failure")
				return nil
			}),
			Always: block(func(context.Context, *execctx.Context) error {
				trace = append(trace, "always")
				return nil
			}),
		},
	}

	result, err := e.RunStage(context.Background(), ec, stage)
	require.Error(t, err)
	require.Equal(t, StatusFailure, result.Status)
	require.Equal(t, "gate closed", result.ErrorMessage)
	require.Equal(t, []string{"failure", "always"}, trace)
}

func TestAlwaysRunsExactlyOncePerStage(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	always := 0
	stage := Stage{
		Name: "Count",
		Body: block(func(context.Context, *execctx.Context) error { return nil }),
		Post: Post{Always: block(func(context.Context, *execctx.Context) error {
			always++
			return nil
		})},
	}

	_, err := e.RunStage(context.Background(), ec, stage)
	require.NoError(t, err)
	require.Equal(t, 1, always)
}

func TestHookFailureDemotesSuccessToUnstable(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	stage := Stage{
		Name: "Fragile",
		Body: block(func(context.Context, *execctx.Context) error { return nil }),
		Post: Post{Always: block(func(context.Context, *execctx.Context) error {
			return fmt.Errorf("cleanup failed")
		})},
	}

	result, err := e.RunStage(context.Background(), ec, stage)
	require.NoError(t, err)
	require.Equal(t, StatusUnstable, result.Status)
}

func TestHookFailureDoesNotResurrectFailedStage(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	stage := Stage{
		Name: "Broken",
		Body: block(func(context.Context, *execctx.Context) error {
			return conveyorerrors.NewStepFailureError("sh", fmt.Errorf("exit 1"))
		}),
		Post: Post{OnFailure: block(func(context.Context, *execctx.Context) error {
			return fmt.Errorf("notification failed too")
		})},
	}

	result, _ := e.RunStage(context.Background(), ec, stage)
	require.Equal(t, StatusFailure, result.Status)
}

func TestPipelineFailFastMarksRemainingNotBuilt(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	ran := map[string]bool{}
	mk := func(name string, fail bool) Stage {
		return Stage{
			Name: name,
			Body: block(func(context.Context, *execctx.Context) error {
				ran[name] = true
				if fail {
					return fmt.Errorf("%s failed", name)
				}
				return nil
			}),
		}
	}

	results, err := e.RunPipeline(context.Background(), ec, []Stage{
		mk("one", false),
		mk("two", true),
		mk("three", false),
	})
	require.Error(t, err)

	var stageErr *conveyorerrors.StageFailureError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, "two", stageErr.Stage)

	require.Len(t, results, 3)
	require.Equal(t, StatusSuccess, results[0].Status)
	require.Equal(t, StatusFailure, results[1].Status)
	require.Equal(t, StatusNotBuilt, results[2].Status)
	require.False(t, ran["three"])
}

func TestCancellationMarksStageAborted(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	stage := Stage{
		Name: "Slow",
		Body: func(ctx context.Context, scoped *execctx.Context) (any, error) {
			return scoped.Steps.Dispatch(ctx, scoped, "sleep", map[string]any{"durationMs": 5000})
		},
	}

	results, err := e.RunPipeline(ctx, ec, []Stage{stage, {Name: "Never"}})
	require.Error(t, err)
	require.Equal(t, StatusAborted, results[0].Status)
	require.Equal(t, StatusNotBuilt, results[1].Status)
}

func TestBranchStageRunsInParallelAndAggregates(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	stage := Stage{
		Name: "Fanout",
		Branches: []steps.Branch{
			{Name: "lint", Block: func(context.Context, *execctx.Context) (any, error) { return "ok", nil }},
			{Name: "test", Block: func(context.Context, *execctx.Context) (any, error) { return "ok", nil }},
		},
	}

	result, err := e.RunStage(context.Background(), ec, stage)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	// The branch fan-out itself is a recorded step dispatch.
	require.Len(t, result.Steps, 1)
	require.Equal(t, "parallel", result.Steps[0].Name)
}

func TestRecorderCapturesStepOutcomesInOrder(t *testing.T) {
	t.Parallel()

	e, ec := newExecEnv(t)
	stage := Stage{
		Name: "Steps",
		Body: func(ctx context.Context, scoped *execctx.Context) (any, error) {
			if _, err := scoped.Steps.Dispatch(ctx, scoped, "writeFile", map[string]any{"path": "a.txt", "text": "1"}); err != nil {
				return nil, err
			}
			if _, err := scoped.Steps.Dispatch(ctx, scoped, "readFile", map[string]any{"path": "a.txt"}); err != nil {
				return nil, err
			}
			return scoped.Steps.Dispatch(ctx, scoped, "fileExists", map[string]any{"path": "a.txt"})
		},
	}

	result, err := e.RunStage(context.Background(), ec, stage)
	require.NoError(t, err)

	names := make([]string, len(result.Steps))
	for i, s := range result.Steps {
		names[i] = s.Name
	}
	require.Equal(t, []string{"writeFile", "readFile", "fileExists"}, names)
}

func TestAggregateStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusSuccess, AggregateStatus(nil))
	require.Equal(t, StatusSuccess, AggregateStatus([]StageResult{{Status: StatusSuccess}}))
	require.Equal(t, StatusUnstable, AggregateStatus([]StageResult{{Status: StatusSuccess}, {Status: StatusUnstable}}))
	require.Equal(t, StatusFailure, AggregateStatus([]StageResult{{Status: StatusUnstable}, {Status: StatusFailure}}))
	require.Equal(t, StatusAborted, AggregateStatus([]StageResult{{Status: StatusSuccess}, {Status: StatusAborted}}))
}

func TestTerminalStatusNeverTransitions(t *testing.T) {
	t.Parallel()

	state := newStageState()
	require.NoError(t, state.transition(StatusRunning))
	require.NoError(t, state.transition(StatusSuccess))
	require.Error(t, state.transition(StatusFailure))
	require.Error(t, state.transition(StatusRunning))
}
