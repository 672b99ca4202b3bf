package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
)

// Category groups steps by purpose.
type Category string

const (
	// CategoryBuild covers compilation and command execution.
	CategoryBuild Category = "Build"
	// CategorySCM covers source-control operations.
	CategorySCM Category = "SCM"
	// CategoryTest covers test execution.
	CategoryTest Category = "Test"
	// CategoryDeploy covers deployment operations.
	CategoryDeploy Category = "Deploy"
	// CategoryUtil covers general-purpose helpers.
	CategoryUtil Category = "Util"
	// CategorySecurity covers credential and policy operations.
	CategorySecurity Category = "Security"
	// CategoryNotification covers outbound notifications.
	CategoryNotification Category = "Notification"
)

// ParamType names the accepted shape of a step parameter.
type ParamType string

const (
	// TypeString is a string parameter.
	TypeString ParamType = "string"
	// TypeBool is a boolean parameter.
	TypeBool ParamType = "bool"
	// TypeInt is an integer parameter.
	TypeInt ParamType = "int"
	// TypeBlock is a nested block of work.
	TypeBlock ParamType = "block"
	// TypeBranches is an ordered list of named blocks.
	TypeBranches ParamType = "branches"
	// TypeBindings is a list of credential bindings.
	TypeBindings ParamType = "bindings"
)

// ParamSpec describes one parameter of a step.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
}

// Descriptor is the registry metadata of a step.
type Descriptor struct {
	Name       string
	Category   Category
	Security   execctx.SecurityLevel
	Params     []ParamSpec
	Suspending bool
}

// Block is a nested unit of work a structured step runs under a derived
// execution context.
type Block func(ctx context.Context, ec *execctx.Context) (any, error)

// Branch names a block for parallel execution.
type Branch struct {
	Name  string
	Block Block
}

// Impl is a step implementation.
type Impl func(ctx context.Context, ec *execctx.Context, args Args) (any, error)

// Args carries the bound arguments of one dispatch.
type Args map[string]any

// String returns a string argument; absent or mistyped yields "".
func (a Args) String(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// Bool returns a bool argument, defaulting to false.
func (a Args) Bool(name string) bool {
	if v, ok := a[name].(bool); ok {
		return v
	}
	return false
}

// Int returns an integer argument, accepting the numeric types that survive
// script-boundary conversion.
func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Millis interprets an integer argument as a millisecond duration.
func (a Args) Millis(name string) time.Duration {
	return time.Duration(a.Int(name)) * time.Millisecond
}

// Block returns a block argument or nil.
func (a Args) Block(name string) Block {
	if v, ok := a[name].(Block); ok {
		return v
	}
	return nil
}

// Branches returns a branches argument or nil.
func (a Args) Branches(name string) []Branch {
	if v, ok := a[name].([]Branch); ok {
		return v
	}
	return nil
}

// Bindings returns a credential-bindings argument or nil.
func (a Args) Bindings(name string) []credentials.Binding {
	if v, ok := a[name].([]credentials.Binding); ok {
		return v
	}
	return nil
}

// bind validates args against the descriptor's parameter schema, applying
// defaults and rejecting missing required or unknown parameters.
func bind(desc Descriptor, args Args) (Args, error) {
	known := make(map[string]ParamSpec, len(desc.Params))
	for _, p := range desc.Params {
		known[p.Name] = p
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("step %q has no parameter %q", desc.Name, name)
		}
	}

	bound := make(Args, len(desc.Params))
	for k, v := range args {
		bound[k] = v
	}
	for _, p := range desc.Params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("step %q requires parameter %q", desc.Name, p.Name)
		}
		if p.Default != nil {
			bound[p.Name] = p.Default
		}
	}
	return bound, nil
}
