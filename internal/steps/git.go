package steps

import (
	"context"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// stepGitClone clones a repository into the active workspace. Registered as
// an SCM step; the heavy lifting belongs to go-git, the registry only
// mediates confinement and policy.
func stepGitClone(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	target, err := ec.Workdir().Path(args.String("dir"))
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError("gitClone", err)
	}

	options := &git.CloneOptions{
		URL:   args.String("url"),
		Depth: args.Int("depth"),
	}
	if branch := args.String("branch"); branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(branch)
		options.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, target, false, options)
	if err != nil {
		if ctx.Err() != nil {
			return nil, conveyorerrors.NewCancellationError("gitClone", ctx.Err())
		}
		return nil, conveyorerrors.NewStepFailureError("gitClone", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError("gitClone", err)
	}

	if log := ec.Logger("steps.gitClone"); log != nil {
		log.Info(ctx, "cloned repository", "url", options.URL, "revision", head.Hash().String())
	}
	return head.Hash().String(), nil
}
