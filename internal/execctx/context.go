package execctx

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	"github.com/alexisbeaulieu97/conveyor/internal/workspace"
)

// SecurityLevel classifies how much a step is allowed to touch. The ordering
// is strict: Unrestricted < Restricted < Trusted.
type SecurityLevel int

const (
	// Unrestricted steps are safe for any script.
	Unrestricted SecurityLevel = iota
	// Restricted steps reach outside the workspace (processes, network).
	Restricted
	// Trusted steps may alter the host beyond the run's confinement.
	Trusted
)

func (l SecurityLevel) String() string {
	switch l {
	case Unrestricted:
		return "Unrestricted"
	case Restricted:
		return "Restricted"
	case Trusted:
		return "Trusted"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
}

// ParseSecurityLevel maps a level name onto a SecurityLevel.
func ParseSecurityLevel(name string) (SecurityLevel, error) {
	switch name {
	case "", "Unrestricted", "unrestricted":
		return Unrestricted, nil
	case "Restricted", "restricted":
		return Restricted, nil
	case "Trusted", "trusted":
		return Trusted, nil
	default:
		return Unrestricted, fmt.Errorf("unknown security level %q", name)
	}
}

// Policy is the run's execution policy.
type Policy struct {
	// Ceiling is the highest security level a dispatched step may carry.
	Ceiling SecurityLevel
	// EmptyEnvBase starts the environment manager without host variables.
	EmptyEnvBase bool
}

// Dispatcher dispatches a named step under an execution context. The step
// registry implements it; declaring the surface here keeps the context free
// of a dependency on the registry package.
type Dispatcher interface {
	Dispatch(ctx context.Context, ec *Context, name string, args map[string]any) (any, error)
}

// ParamManager holds the run's parameters.
type ParamManager struct {
	mu     sync.RWMutex
	params map[string]any
}

// NewParamManager copies the given parameters.
func NewParamManager(params map[string]any) *ParamManager {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return &ParamManager{params: out}
}

// Get returns a parameter and whether it is present.
func (p *ParamManager) Get(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.params[name]
	return v, ok
}

// String returns a parameter rendered as a string, or fallback when absent.
func (p *ParamManager) String(name, fallback string) string {
	v, ok := p.Get(name)
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Snapshot returns a copy of all parameters.
func (p *ParamManager) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// Context is the per-run service locator handed to every step: environment,
// parameters, logging, workspaces, credentials, and the step dispatcher. It
// is constructed at run start and torn down after post-execution hooks.
type Context struct {
	RunID       string
	Env         *EnvManager
	Params      *ParamManager
	Logs        *logx.Manager
	Workspaces  *workspace.Manager
	Credentials *credentials.Manager
	Steps       Dispatcher
	Policy      Policy

	// workdir is the active workspace; dir-scoped steps derive a child
	// context with a different one.
	workdir *workspace.Workspace
}

// New assembles a Context. workdir defaults to the manager's main workspace.
func New(runID string, env *EnvManager, params *ParamManager, logs *logx.Manager, workspaces *workspace.Manager, creds *credentials.Manager, steps Dispatcher, policy Policy) *Context {
	var workdir *workspace.Workspace
	if workspaces != nil {
		workdir = workspaces.Main()
	}
	return &Context{
		RunID:       runID,
		Env:         env,
		Params:      params,
		Logs:        logs,
		Workspaces:  workspaces,
		Credentials: creds,
		Steps:       steps,
		Policy:      policy,
		workdir:     workdir,
	}
}

// Workdir returns the active workspace.
func (c *Context) Workdir() *workspace.Workspace {
	return c.workdir
}

// WithWorkdir returns a child context whose active workspace is the given
// one. The parent is unchanged; restoration is the caller's scope exit.
func (c *Context) WithWorkdir(ws *workspace.Workspace) *Context {
	child := *c
	child.workdir = ws
	return &child
}

// Logger returns a named logger bound to the run's log manager.
func (c *Context) Logger(name string) *logx.Logger {
	if c.Logs == nil {
		return nil
	}
	return c.Logs.Logger(name)
}

// Teardown removes the run's temporary workspaces. The log manager is not
// closed here. Safe to call once after post-execution hooks complete.
func (c *Context) Teardown() error {
	var err error
	if c.Workspaces != nil {
		err = c.Workspaces.Teardown()
	}
	return err
}
