package steps

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/workspace"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

func newTestContext(t *testing.T, r *Registry, ceiling execctx.SecurityLevel) *execctx.Context {
	t.Helper()

	main, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)

	store := credentials.NewStore(credentials.NewStaticProvider())
	creds := credentials.NewManager(store, t.TempDir(), nil)

	return execctx.New(
		"test-run",
		execctx.NewEmptyEnvManager(),
		execctx.NewParamManager(nil),
		nil,
		workspace.NewManager(main),
		creds,
		r,
		execctx.Policy{Ceiling: ceiling},
	)
}

func TestRegisterRejectsDuplicatesAndFrozen(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	desc := Descriptor{Name: "noop", Category: CategoryUtil}
	impl := func(context.Context, *execctx.Context, Args) (any, error) { return nil, nil }

	require.NoError(t, r.Register(desc, impl))
	require.Error(t, r.Register(desc, impl))

	r.Freeze()
	require.Error(t, r.Register(Descriptor{Name: "late"}, impl))
	require.Error(t, r.Intercept(func(ctx context.Context, ec *execctx.Context, inv *Invocation, next Next) (any, error) {
		return next(ctx)
	}))
}

func TestDispatchUnknownStep(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ec := newTestContext(t, r, execctx.Trusted)

	_, err := r.Dispatch(context.Background(), ec, "nope", nil)
	require.Error(t, err)

	var sfe *conveyorerrors.StepFailureError
	require.ErrorAs(t, err, &sfe)
}

func TestSecurityCeilingBlocksDispatch(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	invoked := false
	require.NoError(t, r.Register(Descriptor{
		Name:     "dangerous",
		Category: CategoryDeploy,
		Security: execctx.Trusted,
	}, func(context.Context, *execctx.Context, Args) (any, error) {
		invoked = true
		return nil, nil
	}))

	intercepted := false
	require.NoError(t, r.Intercept(func(ctx context.Context, ec *execctx.Context, inv *Invocation, next Next) (any, error) {
		intercepted = true
		return next(ctx)
	}))

	ec := newTestContext(t, r, execctx.Restricted)
	_, err := r.Dispatch(context.Background(), ec, "dangerous", nil)

	var sve *conveyorerrors.SecurityViolationError
	require.ErrorAs(t, err, &sve)
	require.Equal(t, "dangerous", sve.Step)
	require.False(t, invoked)
	require.False(t, intercepted)
}

func TestParameterBinding(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var got Args
	require.NoError(t, r.Register(Descriptor{
		Name: "typed",
		Params: []ParamSpec{
			{Name: "needed", Type: TypeString, Required: true},
			{Name: "optional", Type: TypeInt, Default: 7},
		},
	}, func(_ context.Context, _ *execctx.Context, args Args) (any, error) {
		got = args
		return nil, nil
	}))

	ec := newTestContext(t, r, execctx.Trusted)

	_, err := r.Dispatch(context.Background(), ec, "typed", map[string]any{"needed": "x"})
	require.NoError(t, err)
	require.Equal(t, "x", got.String("needed"))
	require.Equal(t, 7, got.Int("optional"))

	_, err = r.Dispatch(context.Background(), ec, "typed", nil)
	require.ErrorContains(t, err, `requires parameter "needed"`)

	_, err = r.Dispatch(context.Background(), ec, "typed", map[string]any{"needed": "x", "extra": true})
	require.ErrorContains(t, err, `no parameter "extra"`)
}

func TestInterceptorsComposeInRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var trace []string

	require.NoError(t, r.Register(Descriptor{Name: "traced"}, func(context.Context, *execctx.Context, Args) (any, error) {
		trace = append(trace, "impl")
		return "result", nil
	}))

	for _, label := range []string{"outer", "inner"} {
		label := label
		require.NoError(t, r.Intercept(func(ctx context.Context, ec *execctx.Context, inv *Invocation, next Next) (any, error) {
			trace = append(trace, label+"-before")
			result, err := next(ctx)
			trace = append(trace, label+"-after")
			return result, err
		}))
	}

	ec := newTestContext(t, r, execctx.Trusted)
	result, err := r.Dispatch(context.Background(), ec, "traced", nil)
	require.NoError(t, err)
	require.Equal(t, "result", result)
	require.Equal(t, []string{"outer-before", "inner-before", "impl", "inner-after", "outer-after"}, trace)
}

func TestMockInterceptorShortCircuits(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	invoked := false
	require.NoError(t, r.Register(Descriptor{
		Name:   "sh-like",
		Params: []ParamSpec{{Name: "command", Type: TypeString, Required: true}},
	}, func(context.Context, *execctx.Context, Args) (any, error) {
		invoked = true
		return nil, fmt.Errorf("must not run")
	}))

	var recorded []Invocation
	require.NoError(t, r.Intercept(func(ctx context.Context, ec *execctx.Context, inv *Invocation, next Next) (any, error) {
		recorded = append(recorded, *inv)
		return "canned", nil
	}))

	ec := newTestContext(t, r, execctx.Trusted)
	result, err := r.Dispatch(context.Background(), ec, "sh-like", map[string]any{"command": "make test"})
	require.NoError(t, err)
	require.Equal(t, "canned", result)
	require.False(t, invoked)
	require.Len(t, recorded, 1)
	require.Equal(t, "make test", recorded[0].Args.String("command"))
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	names := r.Names()
	require.Contains(t, names, "sh")
	require.Contains(t, names, "parallel")
	require.Contains(t, names, "gitClone")
	require.IsIncreasing(t, names)
}
