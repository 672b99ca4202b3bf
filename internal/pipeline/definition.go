package pipeline

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)
)

// Definition is a fully described pipeline: the executable model produced by
// either the YAML loader or a compiled pipeline script.
type Definition struct {
	Name        string            `yaml:"name" validate:"required,min=1,max=100"`
	Agent       string            `yaml:"agent,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Parameters  map[string]any    `yaml:"parameters,omitempty"`
	Stages      []StageDef        `yaml:"stages" validate:"required,min=1,dive"`
}

// StageDef describes one stage: a sequential step list or parallel branches,
// plus optional post-execution hooks.
type StageDef struct {
	Name     string      `yaml:"name" validate:"required,stage_name"`
	Steps    []StepDef   `yaml:"steps,omitempty" validate:"omitempty,min=1,dive"`
	Branches []BranchDef `yaml:"branches,omitempty" validate:"omitempty,min=2,dive"`
	Post     PostDef     `yaml:"post,omitempty"`
}

// BranchDef names a parallel branch inside a stage.
type BranchDef struct {
	Name  string    `yaml:"name" validate:"required,stage_name"`
	Steps []StepDef `yaml:"steps" validate:"required,min=1,dive"`
}

// PostDef holds the post-execution hook step lists.
type PostDef struct {
	Always    []StepDef `yaml:"always,omitempty" validate:"omitempty,dive"`
	OnSuccess []StepDef `yaml:"success,omitempty" validate:"omitempty,dive"`
	OnFailure []StepDef `yaml:"failure,omitempty" validate:"omitempty,dive"`
}

// StepDef is one step invocation. Structured steps nest further steps in Body
// or Branches; withCredentials carries binding declarations.
type StepDef struct {
	Step     string         `yaml:"step" validate:"required"`
	With     map[string]any `yaml:"with,omitempty"`
	Body     []StepDef      `yaml:"body,omitempty" validate:"omitempty,dive"`
	Branches []BranchDef    `yaml:"branches,omitempty" validate:"omitempty,dive"`
	Bindings []BindingDef   `yaml:"bindings,omitempty" validate:"omitempty,dive"`
}

// BindingDef declares a credential binding in configuration form.
type BindingDef struct {
	Type        string `yaml:"type" validate:"required,oneof=string userPassword file sshKey certificate aws"`
	ID          string `yaml:"id" validate:"required"`
	Var         string `yaml:"var,omitempty"`
	UserVar     string `yaml:"userVar,omitempty"`
	PassVar     string `yaml:"passVar,omitempty"`
	KeyVar      string `yaml:"keyVar,omitempty"`
	KeystoreVar string `yaml:"keystoreVar,omitempty"`
	AccessVar   string `yaml:"accessVar,omitempty"`
	SecretVar   string `yaml:"secretVar,omitempty"`
}

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("stage_name", func(fl validator.FieldLevel) bool {
			return stageNamePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})
	return validateInst
}

// Validate performs schema and cross-field validation on the definition.
func Validate(def *Definition) error {
	if def == nil {
		return conveyorerrors.NewValidationError("pipeline", "definition is nil", nil)
	}

	if err := validatorInstance().Struct(def); err != nil {
		return conveyorerrors.NewValidationError("pipeline", err.Error(), err)
	}

	seen := make(map[string]struct{}, len(def.Stages))
	for i, stage := range def.Stages {
		if _, dup := seen[stage.Name]; dup {
			return conveyorerrors.NewValidationError(
				fmt.Sprintf("stages[%d].name", i),
				fmt.Sprintf("duplicate stage name %q", stage.Name), nil)
		}
		seen[stage.Name] = struct{}{}

		if len(stage.Steps) > 0 && len(stage.Branches) > 0 {
			return conveyorerrors.NewValidationError(
				fmt.Sprintf("stages[%d]", i),
				fmt.Sprintf("stage %q declares both steps and branches", stage.Name), nil)
		}
		if len(stage.Steps) == 0 && len(stage.Branches) == 0 {
			return conveyorerrors.NewValidationError(
				fmt.Sprintf("stages[%d]", i),
				fmt.Sprintf("stage %q has no work", stage.Name), nil)
		}

		branchSeen := make(map[string]struct{}, len(stage.Branches))
		for j, branch := range stage.Branches {
			if _, dup := branchSeen[branch.Name]; dup {
				return conveyorerrors.NewValidationError(
					fmt.Sprintf("stages[%d].branches[%d].name", i, j),
					fmt.Sprintf("duplicate branch name %q", branch.Name), nil)
			}
			branchSeen[branch.Name] = struct{}{}
		}
	}
	return nil
}
