package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Binding maps a stored credential onto environment variables and, for
// file-shaped secrets, a materialized temporary file. Bind is pure with
// respect to the process environment; file creation is staged through the
// materializer so the enclosing scope can roll it back.
type Binding interface {
	// CredentialID names the stored credential this binding consumes.
	CredentialID() string
	bind(ctx context.Context, value SecretValue, m *materializer) (map[string]string, error)
}

// StringBinding exposes a plaintext credential as a single variable.
type StringBinding struct {
	ID  string
	Var string
}

// CredentialID implements Binding.
func (b StringBinding) CredentialID() string { return b.ID }

func (b StringBinding) bind(_ context.Context, value SecretValue, _ *materializer) (map[string]string, error) {
	secret, ok := value.(PlainText)
	if !ok {
		return nil, fmt.Errorf("credential %q is %s, not a plaintext secret", b.ID, value)
	}
	return map[string]string{b.Var: secret.Value}, nil
}

// UserPasswordBinding exposes a user/password pair as two variables.
type UserPasswordBinding struct {
	ID      string
	UserVar string
	PassVar string
}

// CredentialID implements Binding.
func (b UserPasswordBinding) CredentialID() string { return b.ID }

func (b UserPasswordBinding) bind(_ context.Context, value SecretValue, _ *materializer) (map[string]string, error) {
	secret, ok := value.(UserPassword)
	if !ok {
		return nil, fmt.Errorf("credential %q is %s, not a user/password secret", b.ID, value)
	}
	return map[string]string{
		b.UserVar: secret.Username,
		b.PassVar: secret.Password,
	}, nil
}

// FileBinding materializes a secret into a temporary file and exposes its path.
type FileBinding struct {
	ID  string
	Var string
}

// CredentialID implements Binding.
func (b FileBinding) CredentialID() string { return b.ID }

func (b FileBinding) bind(_ context.Context, value SecretValue, m *materializer) (map[string]string, error) {
	var payload []byte
	switch secret := value.(type) {
	case PlainText:
		payload = []byte(secret.Value)
	case FileBacked:
		data, err := os.ReadFile(secret.Path)
		if err != nil {
			return nil, fmt.Errorf("read credential %q payload: %w", b.ID, err)
		}
		payload = data
	default:
		return nil, fmt.Errorf("credential %q is %s, not a file-shaped secret", b.ID, value)
	}

	path, err := m.writeFile(b.ID, payload)
	if err != nil {
		return nil, err
	}
	return map[string]string{b.Var: path}, nil
}

// SSHKeyBinding exposes an SSH key's username and a materialized key file.
type SSHKeyBinding struct {
	ID      string
	UserVar string
	KeyVar  string
}

// CredentialID implements Binding.
func (b SSHKeyBinding) CredentialID() string { return b.ID }

func (b SSHKeyBinding) bind(_ context.Context, value SecretValue, m *materializer) (map[string]string, error) {
	secret, ok := value.(SSHKey)
	if !ok {
		return nil, fmt.Errorf("credential %q is %s, not an ssh key", b.ID, value)
	}
	data, err := os.ReadFile(secret.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key for credential %q: %w", b.ID, err)
	}
	path, err := m.writeFile(b.ID, data)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		b.UserVar: secret.Username,
		b.KeyVar:  path,
	}, nil
}

// CertBinding exposes a keystore path and, when the certificate references a
// password credential, the resolved password.
type CertBinding struct {
	ID          string
	KeystoreVar string
	PassVar     string
}

// CredentialID implements Binding.
func (b CertBinding) CredentialID() string { return b.ID }

func (b CertBinding) bind(ctx context.Context, value SecretValue, m *materializer) (map[string]string, error) {
	secret, ok := value.(Certificate)
	if !ok {
		return nil, fmt.Errorf("credential %q is %s, not a certificate", b.ID, value)
	}
	data, err := os.ReadFile(secret.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore for credential %q: %w", b.ID, err)
	}
	path, err := m.writeFile(b.ID, data)
	if err != nil {
		return nil, err
	}

	delta := map[string]string{b.KeystoreVar: path}
	if b.PassVar != "" && secret.PasswordID != "" {
		password, err := m.store.Get(ctx, secret.PasswordID)
		if err != nil {
			return nil, fmt.Errorf("resolve keystore password %q: %w", secret.PasswordID, err)
		}
		plain, ok := password.(PlainText)
		if !ok {
			return nil, fmt.Errorf("keystore password %q is %s, not a plaintext secret", secret.PasswordID, password)
		}
		delta[b.PassVar] = plain.Value
	}
	return delta, nil
}

// AWSBinding exposes an AWS key pair as two variables.
type AWSBinding struct {
	ID           string
	AccessKeyVar string
	SecretKeyVar string
}

// CredentialID implements Binding.
func (b AWSBinding) CredentialID() string { return b.ID }

func (b AWSBinding) bind(_ context.Context, value SecretValue, _ *materializer) (map[string]string, error) {
	secret, ok := value.(AWSKeys)
	if !ok {
		return nil, fmt.Errorf("credential %q is %s, not an aws key pair", b.ID, value)
	}
	return map[string]string{
		b.AccessKeyVar: secret.AccessKeyID,
		b.SecretKeyVar: secret.SecretAccessKey,
	}, nil
}

// materializer stages temporary credential files for one scope. All files live
// under a scope-private directory with 0700 permissions and are removed when
// the scope exits or when binding rolls back.
type materializer struct {
	store *Store
	dir   string
	files []string
	seq   int
}

func newMaterializer(store *Store, tempRoot string) (*materializer, error) {
	dir, err := os.MkdirTemp(tempRoot, "conveyor-creds-")
	if err != nil {
		return nil, fmt.Errorf("create credential scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("restrict credential scratch dir: %w", err)
	}
	return &materializer{store: store, dir: dir}, nil
}

func (m *materializer) writeFile(id string, payload []byte) (string, error) {
	m.seq++
	path := filepath.Join(m.dir, fmt.Sprintf("%s-%d", sanitizeID(id), m.seq))
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("materialize credential %q: %w", id, err)
	}
	m.files = append(m.files, path)
	return path, nil
}

func (m *materializer) cleanup() {
	for i := len(m.files) - 1; i >= 0; i-- {
		_ = os.Remove(m.files[i])
	}
	m.files = nil
	if m.dir != "" {
		_ = os.RemoveAll(m.dir)
		m.dir = ""
	}
}

func sanitizeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
