package steps

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// BranchResults is the aggregate of a parallel step. Iteration via Names
// follows the declaration order of the branches regardless of completion
// order.
type BranchResults struct {
	names  []string
	values map[string]any
}

// Names returns the branch names in declaration order.
func (r *BranchResults) Names() []string {
	return append([]string(nil), r.names...)
}

// Get returns the result of a named branch.
func (r *BranchResults) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Len returns the number of branches.
func (r *BranchResults) Len() int { return len(r.names) }

func stepParallel(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	branches := args.Branches("branches")
	if len(branches) == 0 {
		return &BranchResults{values: map[string]any{}}, nil
	}

	seen := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		if b.Name == "" {
			return nil, conveyorerrors.NewStepFailureError("parallel", fmt.Errorf("branch has no name"))
		}
		if _, dup := seen[b.Name]; dup {
			return nil, conveyorerrors.NewStepFailureError("parallel", fmt.Errorf("duplicate branch name %q", b.Name))
		}
		seen[b.Name] = struct{}{}
	}

	// First failure cancels siblings; they observe it at their next
	// suspension point. All branches run to termination before the error
	// is re-raised.
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]any, len(branches))
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, branch := range branches {
		wg.Add(1)
		go func(i int, branch Branch) {
			defer wg.Done()

			scoped := logx.WithFields(branchCtx, map[string]any{"branch": branch.Name})
			result, err := branch.Block(scoped, ec)
			results[i] = result
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(i, branch)
	}
	wg.Wait()

	if firstErr != nil {
		var cancelled *conveyorerrors.CancellationError
		if errors.As(firstErr, &cancelled) && ctx.Err() != nil {
			return nil, firstErr
		}
		return nil, conveyorerrors.NewStepFailureError("parallel", firstErr)
	}

	aggregate := &BranchResults{
		names:  make([]string, len(branches)),
		values: make(map[string]any, len(branches)),
	}
	for i, branch := range branches {
		aggregate.names[i] = branch.Name
		aggregate.values[branch.Name] = results[i]
	}
	return aggregate, nil
}
