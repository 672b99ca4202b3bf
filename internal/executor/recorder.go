package executor

import (
	"context"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/steps"
)

type recorderKey struct{}

// stepRecorder collects the step outcomes of the stage currently executing on
// this flow. The executor places one in the context; the recording
// interceptor appends to it.
type stepRecorder struct {
	mu       sync.Mutex
	outcomes []StepOutcome
}

func withRecorder(ctx context.Context, rec *stepRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recorderFrom(ctx context.Context) *stepRecorder {
	if rec, ok := ctx.Value(recorderKey{}).(*stepRecorder); ok {
		return rec
	}
	return nil
}

func (r *stepRecorder) record(outcome StepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *stepRecorder) snapshot() []StepOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// RecordingInterceptor observes every dispatch and files it with the active
// stage's recorder. Install it on the registry before Freeze.
func RecordingInterceptor() steps.Interceptor {
	return func(ctx context.Context, ec *execctx.Context, inv *steps.Invocation, next steps.Next) (any, error) {
		rec := recorderFrom(ctx)
		if rec == nil {
			return next(ctx)
		}
		start := time.Now()
		result, err := next(ctx)
		rec.record(StepOutcome{
			Name:     inv.Descriptor.Name,
			Duration: time.Since(start),
			Err:      err,
		})
		return result, err
	}
}
