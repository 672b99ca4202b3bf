package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// RegisterBuiltins installs the core step vocabulary into the registry.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		desc Descriptor
		impl Impl
	}{
		{
			desc: Descriptor{
				Name:     "sh",
				Category: CategoryBuild,
				Security: execctx.Restricted,
				Params: []ParamSpec{
					{Name: "command", Type: TypeString, Required: true},
					{Name: "returnStdout", Type: TypeBool, Default: false},
					{Name: "returnStatus", Type: TypeBool, Default: false},
				},
				Suspending: true,
			},
			impl: stepSh,
		},
		{
			desc: Descriptor{
				Name:     "echo",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "message", Type: TypeString, Required: true},
				},
			},
			impl: stepEcho,
		},
		{
			desc: Descriptor{
				Name:     "readFile",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "path", Type: TypeString, Required: true},
				},
				Suspending: true,
			},
			impl: stepReadFile,
		},
		{
			desc: Descriptor{
				Name:     "writeFile",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "path", Type: TypeString, Required: true},
					{Name: "text", Type: TypeString, Required: true},
				},
				Suspending: true,
			},
			impl: stepWriteFile,
		},
		{
			desc: Descriptor{
				Name:     "fileExists",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "path", Type: TypeString, Required: true},
				},
			},
			impl: stepFileExists,
		},
		{
			desc: Descriptor{
				Name:     "dir",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "path", Type: TypeString, Required: true},
					{Name: "body", Type: TypeBlock, Required: true},
				},
				Suspending: true,
			},
			impl: stepDir,
		},
		{
			desc: Descriptor{
				Name:     "withCredentials",
				Category: CategorySecurity,
				Security: execctx.Restricted,
				Params: []ParamSpec{
					{Name: "bindings", Type: TypeBindings, Required: true},
					{Name: "body", Type: TypeBlock, Required: true},
				},
				Suspending: true,
			},
			impl: stepWithCredentials,
		},
		{
			desc: Descriptor{
				Name:     "retry",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "times", Type: TypeInt, Required: true},
					{Name: "body", Type: TypeBlock, Required: true},
				},
				Suspending: true,
			},
			impl: stepRetry,
		},
		{
			desc: Descriptor{
				Name:     "parallel",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "branches", Type: TypeBranches, Required: true},
				},
				Suspending: true,
			},
			impl: stepParallel,
		},
		{
			desc: Descriptor{
				Name:     "timeout",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "durationMs", Type: TypeInt, Required: true},
					{Name: "body", Type: TypeBlock, Required: true},
				},
				Suspending: true,
			},
			impl: stepTimeout,
		},
		{
			desc: Descriptor{
				Name:     "sleep",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "durationMs", Type: TypeInt, Required: true},
				},
				Suspending: true,
			},
			impl: stepSleep,
		},
		{
			desc: Descriptor{
				Name:     "error",
				Category: CategoryUtil,
				Security: execctx.Unrestricted,
				Params: []ParamSpec{
					{Name: "message", Type: TypeString, Required: true},
				},
			},
			impl: stepError,
		},
		{
			desc: Descriptor{
				Name:     "gitClone",
				Category: CategorySCM,
				Security: execctx.Restricted,
				Params: []ParamSpec{
					{Name: "url", Type: TypeString, Required: true},
					{Name: "dir", Type: TypeString, Default: "."},
					{Name: "branch", Type: TypeString},
					{Name: "depth", Type: TypeInt, Default: 0},
				},
				Suspending: true,
			},
			impl: stepGitClone,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.desc, b.impl); err != nil {
			return err
		}
	}
	return nil
}

func stepSh(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	command := args.String("command")
	returnStdout := args.Bool("returnStdout")
	returnStatus := args.Bool("returnStatus")

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if ec.Workdir() != nil {
		cmd.Dir = ec.Workdir().Root()
	}
	if ec.Env != nil {
		cmd.Env = ec.Env.Environ()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	log := ec.Logger("steps.sh")
	if log != nil {
		if out := strings.TrimRight(stdout.String(), "\n"); out != "" && !returnStdout {
			log.Info(ctx, out)
		}
		if errOut := strings.TrimRight(stderr.String(), "\n"); errOut != "" {
			log.Warn(ctx, errOut)
		}
	}

	if ctx.Err() != nil {
		return nil, conveyorerrors.NewCancellationError("sh", ctx.Err())
	}

	status := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			status = exitErr.ExitCode()
		} else {
			return nil, conveyorerrors.NewStepFailureError("sh", runErr)
		}
	}

	if returnStatus {
		return status, nil
	}
	if status != 0 {
		return nil, conveyorerrors.NewStepFailureError("sh", fmt.Errorf("command exited with status %d", status))
	}
	if returnStdout {
		return stdout.String(), nil
	}
	return nil, nil
}

func stepEcho(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	if log := ec.Logger("steps.echo"); log != nil {
		log.Info(ctx, args.String("message"))
	}
	return nil, nil
}

func stepReadFile(_ context.Context, ec *execctx.Context, args Args) (any, error) {
	data, err := ec.Workdir().ReadFile(args.String("path"))
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError("readFile", err)
	}
	return string(data), nil
}

func stepWriteFile(_ context.Context, ec *execctx.Context, args Args) (any, error) {
	if err := ec.Workdir().WriteFile(args.String("path"), []byte(args.String("text"))); err != nil {
		return nil, conveyorerrors.NewStepFailureError("writeFile", err)
	}
	return nil, nil
}

func stepFileExists(_ context.Context, ec *execctx.Context, args Args) (any, error) {
	exists, err := ec.Workdir().Exists(args.String("path"))
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError("fileExists", err)
	}
	return exists, nil
}

func stepDir(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	sub, err := ec.Workdir().Subdir(args.String("path"))
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError("dir", err)
	}
	return args.Block("body")(ctx, ec.WithWorkdir(sub))
}

func stepWithCredentials(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	body := args.Block("body")
	var result any
	err := ec.Credentials.WithCredentials(ctx, ec.Env, args.Bindings("bindings"), func(ctx context.Context) error {
		var blockErr error
		result, blockErr = body(ctx, ec)
		return blockErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func stepRetry(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	times := args.Int("times")
	if times < 1 {
		times = 1
	}
	body := args.Block("body")

	var lastErr error
	for attempt := 1; attempt <= times; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, conveyorerrors.NewCancellationError("retry", err)
		}

		result, err := body(ctx, ec)
		if err == nil {
			return result, nil
		}

		// Cancellation unwinds immediately; retrying it would fight the
		// cancellation request.
		var cancelled *conveyorerrors.CancellationError
		if errors.As(err, &cancelled) {
			return nil, err
		}

		lastErr = err
		if log := ec.Logger("steps.retry"); log != nil && attempt < times {
			log.Warn(ctx, "attempt failed; retrying", "attempt", attempt, "of", times, "error", err.Error())
		}
	}
	return nil, lastErr
}

func stepSleep(ctx context.Context, _ *execctx.Context, args Args) (any, error) {
	timer := time.NewTimer(args.Millis("durationMs"))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, conveyorerrors.NewCancellationError("sleep", ctx.Err())
	}
}

func stepError(_ context.Context, _ *execctx.Context, args Args) (any, error) {
	return nil, conveyorerrors.NewStepFailureError("error", fmt.Errorf("%s", args.String("message")))
}

func stepTimeout(ctx context.Context, ec *execctx.Context, args Args) (any, error) {
	limit := args.Millis("durationMs")
	timeoutCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result, err := args.Block("body")(timeoutCtx, ec)
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, conveyorerrors.NewCancellationError("timeout", context.DeadlineExceeded)
		}
		return nil, err
	}
	return result, nil
}
