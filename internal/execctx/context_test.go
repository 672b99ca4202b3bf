package execctx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/conveyor/internal/workspace"
)

func TestEnvManagerInheritsHostEnvironment(t *testing.T) {
	t.Setenv("CONVEYOR_TEST_MARKER", "present")

	m := NewEnvManager()
	require.Equal(t, "present", m.Get("CONVEYOR_TEST_MARKER"))

	empty := NewEmptyEnvManager()
	_, ok := empty.Lookup("CONVEYOR_TEST_MARKER")
	require.False(t, ok)
}

func TestEnvManagerSnapshotIsolation(t *testing.T) {
	t.Parallel()

	m := NewEmptyEnvManager()
	m.Set("A", "1")

	snap := m.Snapshot()
	m.Set("A", "2")
	require.Equal(t, "1", snap["A"])
	require.Equal(t, "2", m.Get("A"))
}

func TestEnvManagerEnvironSorted(t *testing.T) {
	t.Parallel()

	m := NewEmptyEnvManager()
	m.Set("B", "2")
	m.Set("A", "1")
	require.Equal(t, []string{"A=1", "B=2"}, m.Environ())
}

func TestParamManagerLookups(t *testing.T) {
	t.Parallel()

	p := NewParamManager(map[string]any{"branch": "main", "retries": 3})

	require.Equal(t, "main", p.String("branch", "dev"))
	require.Equal(t, "3", p.String("retries", ""))
	require.Equal(t, "dev", p.String("missing", "dev"))

	_, ok := p.Get("missing")
	require.False(t, ok)
}

func TestSecurityLevelOrderingAndParsing(t *testing.T) {
	t.Parallel()

	require.True(t, Unrestricted < Restricted)
	require.True(t, Restricted < Trusted)

	lvl, err := ParseSecurityLevel("Trusted")
	require.NoError(t, err)
	require.Equal(t, Trusted, lvl)

	lvl, err = ParseSecurityLevel("")
	require.NoError(t, err)
	require.Equal(t, Unrestricted, lvl)

	_, err = ParseSecurityLevel("root")
	require.Error(t, err)
}

func TestWithWorkdirDerivesChildContext(t *testing.T) {
	t.Parallel()

	main, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	wm := workspace.NewManager(main)

	ec := New("run-1", NewEmptyEnvManager(), NewParamManager(nil), nil, wm, nil, nil, Policy{})
	require.Equal(t, main.Root(), ec.Workdir().Root())

	sub, err := main.Subdir("nested")
	require.NoError(t, err)

	child := ec.WithWorkdir(sub)
	require.Equal(t, sub.Root(), child.Workdir().Root())
	require.Equal(t, main.Root(), ec.Workdir().Root())
	require.Same(t, ec.Env, child.Env)
}

func TestTeardownRemovesTempWorkspaces(t *testing.T) {
	t.Parallel()

	main, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	wm := workspace.NewManager(main)

	ec := New("run-2", NewEmptyEnvManager(), NewParamManager(nil), nil, wm, nil, nil, Policy{})

	temp, err := wm.GetTempWorkspace("stage-scratch")
	require.NoError(t, err)

	require.NoError(t, ec.Teardown())
	_, statErr := os.Stat(temp.Root())
	require.True(t, os.IsNotExist(statErr))
}
