package credentials

import (
	"fmt"
)

// SecretValue is a typed credential payload. The String rendering of every
// variant is opaque: it names the variant and any non-sensitive identifier but
// never the sensitive component, so values are safe to log by accident.
type SecretValue interface {
	fmt.Stringer
	secretValue()
}

// PlainText is a single opaque secret string.
type PlainText struct {
	Value string
}

func (PlainText) secretValue() {}

func (p PlainText) String() string { return "PlainText{****}" }

// UserPassword pairs a username with a password.
type UserPassword struct {
	Username string
	Password string
}

func (UserPassword) secretValue() {}

func (u UserPassword) String() string {
	return fmt.Sprintf("UserPassword{user=%s, password=****}", u.Username)
}

// FileBacked references a secret whose payload lives in a file.
type FileBacked struct {
	Path string
}

func (FileBacked) secretValue() {}

func (f FileBacked) String() string { return "FileBacked{****}" }

// SSHKey is a private key with an owning username and optional passphrase
// credential reference.
type SSHKey struct {
	Username     string
	KeyPath      string
	PassphraseID string
}

func (SSHKey) secretValue() {}

func (s SSHKey) String() string {
	if s.PassphraseID != "" {
		return fmt.Sprintf("SSHKey{user=%s, passphraseId=%s, key=****}", s.Username, s.PassphraseID)
	}
	return fmt.Sprintf("SSHKey{user=%s, key=****}", s.Username)
}

// Certificate is a keystore with an optional password credential reference.
type Certificate struct {
	KeystorePath string
	PasswordID   string
}

func (Certificate) secretValue() {}

func (c Certificate) String() string {
	if c.PasswordID != "" {
		return fmt.Sprintf("Certificate{passwordId=%s, keystore=****}", c.PasswordID)
	}
	return "Certificate{keystore=****}"
}

// AWSKeys is an access-key pair.
type AWSKeys struct {
	AccessKeyID     string
	SecretAccessKey string
}

func (AWSKeys) secretValue() {}

func (a AWSKeys) String() string {
	return fmt.Sprintf("AWSKeys{accessKeyId=%s, secretAccessKey=****}", a.AccessKeyID)
}

// GoString keeps %#v output as opaque as String.
func (p PlainText) GoString() string    { return p.String() }
func (u UserPassword) GoString() string { return u.String() }
func (f FileBacked) GoString() string   { return f.String() }
func (s SSHKey) GoString() string       { return s.String() }
func (c Certificate) GoString() string  { return c.String() }
func (a AWSKeys) GoString() string      { return a.String() }
