package scriptcache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the content-addressed identity of a script/configuration
// pair: a SHA-256 over the source bytes combined with a SHA-256 over the
// canonical configuration bytes. Byte-equal inputs produce equal fingerprints;
// distinct configurations produce distinct fingerprints.
type Fingerprint struct {
	SourceHash string
	ConfigHash string
}

// NewFingerprint hashes the script source and the canonical configuration.
func NewFingerprint(source []byte, config []byte) Fingerprint {
	src := sha256.Sum256(source)
	cfg := sha256.Sum256(config)
	return Fingerprint{
		SourceHash: hex.EncodeToString(src[:]),
		ConfigHash: hex.EncodeToString(cfg[:]),
	}
}

// Key renders the fingerprint as a single map key.
func (f Fingerprint) Key() string {
	return f.SourceHash + ":" + f.ConfigHash
}
