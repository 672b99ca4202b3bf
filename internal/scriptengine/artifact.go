package scriptengine

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/alexisbeaulieu97/conveyor/internal/scriptcache"
)

// Artifact is a compiled pipeline script. It retains the source and config it
// was produced from so the disk cache tier can persist it portably; the goja
// program itself is process-local.
type Artifact struct {
	Name   string
	Source string
	Config CompilationConfig

	program *goja.Program
}

// SizeBytes approximates the artifact's in-memory footprint. goja does not
// expose program sizes, so the source length with a constant multiplier
// stands in.
func (a *Artifact) SizeBytes() int64 {
	return int64(len(a.Source))*3 + 512
}

var _ scriptcache.Artifact = (*Artifact)(nil)

// diskEntry is the persisted form of an artifact: everything needed to
// recompile, never the process-local program.
type diskEntry struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Engine string   `json:"engine"`
	Strict bool     `json:"strict"`
	Global []string `json:"globals,omitempty"`
	Import []string `json:"imports,omitempty"`
}

// artifactCodec persists artifacts for the cache's disk tier. Decoding
// recompiles the stored source; a decode or recompile failure is treated as a
// cache miss by the tier.
type artifactCodec struct{}

// Encode implements scriptcache.Codec.
func (artifactCodec) Encode(a scriptcache.Artifact) ([]byte, error) {
	artifact, ok := a.(*Artifact)
	if !ok {
		return nil, fmt.Errorf("unexpected artifact type %T", a)
	}
	return json.Marshal(diskEntry{
		Name:   artifact.Name,
		Source: artifact.Source,
		Engine: artifact.Config.EngineID,
		Strict: artifact.Config.Strict,
		Global: artifact.Config.GlobalNames,
		Import: artifact.Config.DefaultImports,
	})
}

// Decode implements scriptcache.Codec.
func (artifactCodec) Decode(data []byte) (scriptcache.Artifact, error) {
	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	program, err := goja.Compile(entry.Name, entry.Source, entry.Strict)
	if err != nil {
		return nil, fmt.Errorf("recompile cached script: %w", err)
	}
	return &Artifact{
		Name:   entry.Name,
		Source: entry.Source,
		Config: CompilationConfig{
			EngineID:       entry.Engine,
			Strict:         entry.Strict,
			GlobalNames:    entry.Global,
			DefaultImports: entry.Import,
		},
		program: program,
	}, nil
}
