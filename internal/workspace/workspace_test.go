package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return ws
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, ws.WriteFile("out/report.txt", []byte("hello")))

	data, err := ws.ReadFile("out/report.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	exists, err := ws.Exists("out/report.txt")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = ws.Exists("out/other.txt")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestEscapingPathsRejected(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	_, err := ws.ReadFile("../outside.txt")
	require.Error(t, err)

	err = ws.WriteFile("a/../../outside.txt", []byte("x"))
	require.Error(t, err)

	_, err = ws.Path("/etc/passwd")
	require.Error(t, err)
}

func TestDotDotInsideRootIsNormalized(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, ws.WriteFile("a/b/../c.txt", []byte("normalized")))

	data, err := ws.ReadFile("a/c.txt")
	require.NoError(t, err)
	require.Equal(t, "normalized", string(data))
}

func TestSymlinkEscapeIsConfined(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}
	t.Parallel()

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))

	ws := newWorkspace(t)
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Root(), "leak")))

	// The resolved path must stay inside the root, so the outside file is
	// not reachable through the link.
	_, err := ws.ReadFile("leak/secret.txt")
	require.Error(t, err)
}

func TestListAndFindFiles(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, ws.WriteFile("src/main.go", []byte("package main")))
	require.NoError(t, ws.WriteFile("src/util.go", []byte("package main")))
	require.NoError(t, ws.WriteFile("docs/readme.md", []byte("# hi")))

	children, err := ws.List(".", false)
	require.NoError(t, err)
	require.Equal(t, []string{"docs", "src"}, children)

	all, err := ws.List(".", true)
	require.NoError(t, err)
	require.Contains(t, all, filepath.Join("src", "main.go"))
	require.Contains(t, all, filepath.Join("docs", "readme.md"))

	goFiles, err := ws.FindFiles("src/*.go")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join("src", "main.go"), filepath.Join("src", "util.go")}, goFiles)
}

func TestPolicyForbidsOperations(t *testing.T) {
	t.Parallel()

	denyWrites := func(op Op, rel string) error {
		if op == OpWrite {
			return fmt.Errorf("read-only workspace")
		}
		return nil
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.txt"), []byte("ok"), 0o644))

	ws, err := New(dir, denyWrites)
	require.NoError(t, err)

	_, err = ws.ReadFile("present.txt")
	require.NoError(t, err)

	err = ws.WriteFile("new.txt", []byte("nope"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "policy forbids write")
}

func TestCleanKeepsRoot(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, ws.WriteFile("a.txt", []byte("1")))
	require.NoError(t, ws.WriteFile("d/b.txt", []byte("2")))

	require.NoError(t, ws.Clean())

	entries, err := os.ReadDir(ws.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSubdirConfinement(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	sub, err := ws.Subdir("nested")
	require.NoError(t, err)

	require.NoError(t, sub.WriteFile("inner.txt", []byte("x")))

	data, err := ws.ReadFile("nested/inner.txt")
	require.NoError(t, err)
	require.Equal(t, "x", string(data))

	_, err = sub.ReadFile("../outside-sub.txt")
	require.Error(t, err)
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatZip, FormatTarGz} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			ws := newWorkspace(t)
			require.NoError(t, ws.WriteFile("payload/a.txt", []byte("alpha")))
			require.NoError(t, ws.WriteFile("payload/sub/b.txt", []byte("beta")))

			name := "bundle.zip"
			if format == FormatTarGz {
				name = "bundle.tar.gz"
			}
			require.NoError(t, ws.Archive("payload", name, format))
			require.NoError(t, ws.Unarchive(name, "restored"))

			a, err := ws.ReadFile("restored/a.txt")
			require.NoError(t, err)
			require.Equal(t, "alpha", string(a))

			b, err := ws.ReadFile("restored/sub/b.txt")
			require.NoError(t, err)
			require.Equal(t, "beta", string(b))
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	got, err := ParseFormat("ZIP")
	require.NoError(t, err)
	require.Equal(t, FormatZip, got)

	got, err = ParseFormat("tgz")
	require.NoError(t, err)
	require.Equal(t, FormatTarGz, got)

	_, err = ParseFormat("rar")
	require.Error(t, err)
}

func TestTempWorkspaceLifecycle(t *testing.T) {
	t.Parallel()

	main := newWorkspace(t)
	m := NewManager(main)

	tempA, err := m.GetTempWorkspace("scratch")
	require.NoError(t, err)
	require.NoError(t, tempA.WriteFile("note.txt", []byte("temp")))

	again, err := m.GetTempWorkspace("scratch")
	require.NoError(t, err)
	require.Equal(t, tempA.Root(), again.Root())

	require.NoError(t, m.Teardown())

	_, statErr := os.Stat(tempA.Root())
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(main.Root())
	require.NoError(t, statErr)
}
