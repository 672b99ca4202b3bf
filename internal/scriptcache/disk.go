package scriptcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
)

// Codec encodes artifacts for the disk tier and decodes them back. Decode
// must reject payloads it does not understand; the cache treats any decode
// failure as a miss.
type Codec interface {
	Encode(a Artifact) ([]byte, error)
	Decode(data []byte) (Artifact, error)
}

var diskMagic = []byte("CONVEYORCACHE")

const diskFormatVersion uint16 = 1

// diskTier persists cache entries as one file per fingerprint. Every failure
// is logged and swallowed: the disk tier is a cache of a cache, never a source
// of truth.
type diskTier struct {
	dir   string
	codec Codec
	log   *logx.Logger
}

func newDiskTier(dir string, codec Codec, log *logx.Logger) *diskTier {
	return &diskTier{dir: dir, codec: codec, log: log}
}

func (d *diskTier) path(fp Fingerprint) string {
	return filepath.Join(d.dir, fmt.Sprintf("script_%s_%s.cache", fp.SourceHash, fp.ConfigHash))
}

func (d *diskTier) read(ctx context.Context, fp Fingerprint) (Artifact, bool) {
	data, err := os.ReadFile(d.path(fp))
	if err != nil {
		if !os.IsNotExist(err) {
			d.diag(ctx, "disk cache read failed", err)
		}
		return nil, false
	}

	payload, ok := stripHeader(data)
	if !ok {
		d.diag(ctx, "disk cache entry has unknown format; ignoring", nil)
		return nil, false
	}

	artifact, err := d.codec.Decode(payload)
	if err != nil {
		d.diag(ctx, "disk cache entry undecodable; ignoring", err)
		return nil, false
	}
	return artifact, true
}

func (d *diskTier) write(ctx context.Context, fp Fingerprint, artifact Artifact) {
	payload, err := d.codec.Encode(artifact)
	if err != nil {
		d.diag(ctx, "disk cache encode failed", err)
		return
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.diag(ctx, "disk cache dir unavailable", err)
		return
	}

	var buf bytes.Buffer
	buf.Write(diskMagic)
	_ = binary.Write(&buf, binary.BigEndian, diskFormatVersion)
	buf.Write(payload)

	// Write through a temp file and rename so readers never observe a
	// partial entry.
	target := d.path(fp)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		d.diag(ctx, "disk cache write failed", err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		d.diag(ctx, "disk cache rename failed", err)
	}
}

func (d *diskTier) diag(ctx context.Context, msg string, err error) {
	if d.log == nil {
		return
	}
	if err != nil {
		d.log.Warn(ctx, msg, "error", err.Error())
		return
	}
	d.log.Warn(ctx, msg)
}

func stripHeader(data []byte) ([]byte, bool) {
	headerLen := len(diskMagic) + 2
	if len(data) < headerLen {
		return nil, false
	}
	if !bytes.HasPrefix(data, diskMagic) {
		return nil, false
	}
	version := binary.BigEndian.Uint16(data[len(diskMagic):headerLen])
	if version != diskFormatVersion {
		return nil, false
	}
	return data[headerLen:], true
}
