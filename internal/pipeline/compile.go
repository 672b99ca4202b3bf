package pipeline

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/executor"
	"github.com/alexisbeaulieu97/conveyor/internal/steps"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// CompileStages lowers a validated definition onto executor stages. Step
// invocations dispatch through the run's registry at execution time, so the
// definition stays data until the pipeline actually runs.
func CompileStages(def *Definition) ([]executor.Stage, error) {
	stages := make([]executor.Stage, 0, len(def.Stages))
	for _, stageDef := range def.Stages {
		stage := executor.Stage{Name: stageDef.Name}

		if len(stageDef.Branches) > 0 {
			branches, err := compileBranches(stageDef.Branches)
			if err != nil {
				return nil, err
			}
			stage.Branches = branches
		} else {
			body, err := compileSteps(stageDef.Steps)
			if err != nil {
				return nil, err
			}
			stage.Body = body
		}

		post, err := compilePost(stageDef.Post)
		if err != nil {
			return nil, err
		}
		stage.Post = post

		stages = append(stages, stage)
	}
	return stages, nil
}

func compilePost(post PostDef) (executor.Post, error) {
	out := executor.Post{}
	for _, hook := range []struct {
		steps  []StepDef
		target *steps.Block
	}{
		{post.Always, &out.Always},
		{post.OnSuccess, &out.OnSuccess},
		{post.OnFailure, &out.OnFailure},
	} {
		if len(hook.steps) == 0 {
			continue
		}
		block, err := compileSteps(hook.steps)
		if err != nil {
			return executor.Post{}, err
		}
		*hook.target = block
	}
	return out, nil
}

// compileSteps folds a step list into a block that dispatches each invocation
// in program order, stopping on the first error.
func compileSteps(defs []StepDef) (steps.Block, error) {
	invocations := make([]func(ctx context.Context, ec *execctx.Context) (any, error), 0, len(defs))
	for _, def := range defs {
		invoke, err := compileStep(def)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, invoke)
	}

	return func(ctx context.Context, ec *execctx.Context) (any, error) {
		var last any
		for _, invoke := range invocations {
			result, err := invoke(ctx, ec)
			if err != nil {
				return nil, err
			}
			last = result
		}
		return last, nil
	}, nil
}

func compileStep(def StepDef) (func(ctx context.Context, ec *execctx.Context) (any, error), error) {
	args := make(map[string]any, len(def.With)+3)
	for k, v := range def.With {
		args[k] = v
	}

	if len(def.Body) > 0 {
		body, err := compileSteps(def.Body)
		if err != nil {
			return nil, err
		}
		args["body"] = body
	}
	if len(def.Branches) > 0 {
		branches, err := compileBranches(def.Branches)
		if err != nil {
			return nil, err
		}
		args["branches"] = branches
	}
	if len(def.Bindings) > 0 {
		bindings, err := compileBindings(def.Bindings)
		if err != nil {
			return nil, err
		}
		args["bindings"] = bindings
	}

	name := def.Step
	return func(ctx context.Context, ec *execctx.Context) (any, error) {
		return ec.Steps.Dispatch(ctx, ec, name, args)
	}, nil
}

func compileBranches(defs []BranchDef) ([]steps.Branch, error) {
	branches := make([]steps.Branch, 0, len(defs))
	for _, def := range defs {
		block, err := compileSteps(def.Steps)
		if err != nil {
			return nil, err
		}
		branches = append(branches, steps.Branch{Name: def.Name, Block: block})
	}
	return branches, nil
}

func compileBindings(defs []BindingDef) ([]credentials.Binding, error) {
	bindings := make([]credentials.Binding, 0, len(defs))
	for _, def := range defs {
		binding, err := bindingFromDef(def)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func bindingFromDef(def BindingDef) (credentials.Binding, error) {
	switch def.Type {
	case "string":
		if def.Var == "" {
			return nil, bindingError(def, "var is required")
		}
		return credentials.StringBinding{ID: def.ID, Var: def.Var}, nil
	case "userPassword":
		if def.UserVar == "" || def.PassVar == "" {
			return nil, bindingError(def, "userVar and passVar are required")
		}
		return credentials.UserPasswordBinding{ID: def.ID, UserVar: def.UserVar, PassVar: def.PassVar}, nil
	case "file":
		if def.Var == "" {
			return nil, bindingError(def, "var is required")
		}
		return credentials.FileBinding{ID: def.ID, Var: def.Var}, nil
	case "sshKey":
		if def.UserVar == "" || def.KeyVar == "" {
			return nil, bindingError(def, "userVar and keyVar are required")
		}
		return credentials.SSHKeyBinding{ID: def.ID, UserVar: def.UserVar, KeyVar: def.KeyVar}, nil
	case "certificate":
		if def.KeystoreVar == "" {
			return nil, bindingError(def, "keystoreVar is required")
		}
		return credentials.CertBinding{ID: def.ID, KeystoreVar: def.KeystoreVar, PassVar: def.PassVar}, nil
	case "aws":
		if def.AccessVar == "" || def.SecretVar == "" {
			return nil, bindingError(def, "accessVar and secretVar are required")
		}
		return credentials.AWSBinding{ID: def.ID, AccessKeyVar: def.AccessVar, SecretKeyVar: def.SecretVar}, nil
	default:
		return nil, bindingError(def, "unknown binding type")
	}
}

func bindingError(def BindingDef, msg string) error {
	return conveyorerrors.NewValidationError(
		fmt.Sprintf("binding %q (%s)", def.ID, def.Type), msg, nil)
}
