package steps

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// Next continues a dispatch down the interceptor chain.
type Next func(ctx context.Context) (any, error)

// Invocation is the dispatch record an interceptor observes.
type Invocation struct {
	Descriptor Descriptor
	Args       Args
}

// Interceptor wraps step dispatch. Interceptors run in registration order
// with the real implementation innermost; a mock interceptor returns without
// calling next.
type Interceptor func(ctx context.Context, ec *execctx.Context, inv *Invocation, next Next) (any, error)

type registration struct {
	desc Descriptor
	impl Impl
}

// Registry holds named step implementations and their metadata. It is
// append-only while open and immutable once frozen at pipeline start.
type Registry struct {
	mu           sync.RWMutex
	steps        map[string]registration
	interceptors []Interceptor
	frozen       bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]registration)}
}

// Register adds a step. Registration fails on duplicates and after Freeze.
func (r *Registry) Register(desc Descriptor, impl Impl) error {
	if desc.Name == "" {
		return fmt.Errorf("step descriptor has no name")
	}
	if impl == nil {
		return fmt.Errorf("step %q has no implementation", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen; cannot register step %q", desc.Name)
	}
	if _, exists := r.steps[desc.Name]; exists {
		return fmt.Errorf("step %q already registered", desc.Name)
	}
	r.steps[desc.Name] = registration{desc: desc, impl: impl}
	return nil
}

// Intercept appends an interceptor to the chain. Fails after Freeze.
func (r *Registry) Intercept(i Interceptor) error {
	if i == nil {
		return fmt.Errorf("interceptor is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen; cannot add interceptor")
	}
	r.interceptors = append(r.interceptors, i)
	return nil
}

// Freeze seals the registry for the pipeline's lifetime.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Descriptor returns the metadata of a named step.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.steps[name]
	return reg.desc, ok
}

// Names lists the registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch binds args, enforces the run's security ceiling, and invokes the
// step through the interceptor chain. A step above the ceiling fails before
// any interceptor or implementation runs.
func (r *Registry) Dispatch(ctx context.Context, ec *execctx.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	reg, ok := r.steps[name]
	interceptors := r.interceptors
	r.mu.RUnlock()

	if !ok {
		return nil, conveyorerrors.NewStepFailureError(name, fmt.Errorf("unknown step"))
	}

	if ec != nil && reg.desc.Security > ec.Policy.Ceiling {
		return nil, conveyorerrors.NewSecurityViolationError(name, reg.desc.Security.String(), ec.Policy.Ceiling.String())
	}

	bound, err := bind(reg.desc, args)
	if err != nil {
		return nil, conveyorerrors.NewStepFailureError(name, err)
	}

	inv := &Invocation{Descriptor: reg.desc, Args: bound}

	next := func(ctx context.Context) (any, error) {
		return reg.impl(ctx, ec, bound)
	}
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		inner := next
		next = func(ctx context.Context) (any, error) {
			return interceptor(ctx, ec, inv, inner)
		}
	}

	return next(ctx)
}

var _ execctx.Dispatcher = (*Registry)(nil)
