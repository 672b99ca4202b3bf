package workspace

import (
	"fmt"
	"os"
	"sync"
)

// Manager owns the main workspace of a run and any temporary workspaces
// handed out during it. Temporary workspaces are guaranteed-removed at
// teardown.
type Manager struct {
	main *Workspace

	mu    sync.Mutex
	temps map[string]*Workspace
}

// NewManager wraps the given main workspace.
func NewManager(main *Workspace) *Manager {
	return &Manager{main: main, temps: make(map[string]*Workspace)}
}

// Main returns the run's primary workspace.
func (m *Manager) Main() *Workspace { return m.main }

// GetTempWorkspace returns the named scoped workspace, creating it on first
// use. The same name returns the same workspace for the life of the run.
func (m *Manager) GetTempWorkspace(name string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.temps[name]; ok {
		return ws, nil
	}

	dir, err := os.MkdirTemp("", "conveyor-ws-"+sanitizeName(name)+"-")
	if err != nil {
		return nil, fmt.Errorf("create temp workspace %q: %w", name, err)
	}
	ws, err := New(dir, nil)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	m.temps[name] = ws
	return ws, nil
}

// Teardown removes every temporary workspace. The main workspace survives.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, ws := range m.temps {
		if err := os.RemoveAll(ws.Root()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove temp workspace %q: %w", name, err)
		}
		delete(m.temps, name)
	}
	return firstErr
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
