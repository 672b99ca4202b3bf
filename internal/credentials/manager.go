package credentials

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// Environment is the mutable variable surface a credential scope injects into.
// The execution context's environment manager satisfies it.
type Environment interface {
	Set(key, value string)
	Unset(key string)
	Lookup(key string) (string, bool)
}

// Manager owns credential resolution and the lifecycle of credential scopes.
// Scopes nest: inner bindings shadow outer ones for the duration of the inner
// block and restoration is strictly LIFO.
type Manager struct {
	store    *Store
	tempRoot string
	log      *logx.Logger

	mu     sync.Mutex
	active int
}

// NewManager creates a Manager resolving through store. Temporary credential
// files are created under tempRoot (the OS default when empty).
func NewManager(store *Store, tempRoot string, log *logx.Logger) *Manager {
	return &Manager{store: store, tempRoot: tempRoot, log: log}
}

// Store exposes the underlying credential store.
func (m *Manager) Store() *Store { return m.store }

// Get resolves a credential id through the provider chain.
func (m *Manager) Get(ctx context.Context, id string) (SecretValue, error) {
	return m.store.Get(ctx, id)
}

// ActiveScopes reports how many credential scopes are currently open.
func (m *Manager) ActiveScopes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// WithCredentials resolves every binding, injects the resulting variables into
// env, materializes file-shaped secrets, runs fn, and restores everything on
// every exit path. A credential id that cannot be resolved fails before any
// side effect; a materialization failure rolls back files already created.
func (m *Manager) WithCredentials(ctx context.Context, env Environment, bindings []Binding, fn func(ctx context.Context) error) error {
	// Resolve every credential up front so a missing id has no side effects.
	values := make(map[string]SecretValue, len(bindings))
	for _, b := range bindings {
		id := b.CredentialID()
		if _, done := values[id]; done {
			continue
		}
		value, err := m.store.Get(ctx, id)
		if err != nil {
			return conveyorerrors.NewCredentialResolutionError(id, nil)
		}
		values[id] = value
	}

	mat, err := newMaterializer(m.store, m.tempRoot)
	if err != nil {
		return err
	}

	delta := make(map[string]string)
	for _, b := range bindings {
		vars, err := b.bind(ctx, values[b.CredentialID()], mat)
		if err != nil {
			mat.cleanup()
			return conveyorerrors.NewCredentialResolutionError(b.CredentialID(), err)
		}
		for k, v := range vars {
			delta[k] = v
		}
	}

	type saved struct {
		value string
		set   bool
	}
	previous := make(map[string]saved, len(delta))
	for k, v := range delta {
		old, ok := env.Lookup(k)
		previous[k] = saved{value: old, set: ok}
		env.Set(k, v)
	}

	m.mu.Lock()
	m.active++
	m.mu.Unlock()

	defer func() {
		for k, prev := range previous {
			if prev.set {
				env.Set(k, prev.value)
			} else {
				env.Unset(k)
			}
		}
		mat.cleanup()

		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	return fn(ctx)
}
