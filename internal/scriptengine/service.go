package scriptengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	"github.com/alexisbeaulieu97/conveyor/internal/scriptcache"
)

// Codec returns the cache codec for script artifacts, for wiring into a
// scriptcache disk tier.
func Codec() scriptcache.Codec { return artifactCodec{} }

// Service is the public script-engine entry point: it dispatches to a
// registered engine by id or file extension and compiles through the shared
// artifact cache. Compile failures are never cached.
type Service struct {
	cache *scriptcache.Cache
	log   *logx.Logger

	mu      sync.RWMutex
	engines map[string]Engine
}

// NewService creates a Service compiling through cache. A nil cache disables
// caching entirely.
func NewService(cache *scriptcache.Cache, log *logx.Logger) *Service {
	return &Service{
		cache:   cache,
		log:     log,
		engines: make(map[string]Engine),
	}
}

// Register adds an engine under its ID. Later registrations replace earlier
// ones with the same ID.
func (s *Service) Register(engine Engine) {
	if engine == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[engine.ID()] = engine
}

// EngineByID looks an engine up by its identifier.
func (s *Service) EngineByID(id string) (Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, ok := s.engines[id]
	if !ok {
		return nil, fmt.Errorf("no script engine registered for id %q", id)
	}
	return engine, nil
}

// EngineForFile selects the engine claiming the longest matching extension of
// filename.
func (s *Service) EngineForFile(filename string) (Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Engine
	bestLen := 0
	for _, engine := range s.engines {
		for _, ext := range engine.Extensions() {
			if strings.HasSuffix(filename, ext) && len(ext) > bestLen {
				best = engine
				bestLen = len(ext)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no script engine registered for file %q", filename)
	}
	return best, nil
}

// Compile produces an artifact for source under cfg, consulting the cache
// first. On a miss the artifact is compiled and, on success, stored.
func (s *Service) Compile(ctx context.Context, name, source string, cfg CompilationConfig) (*Artifact, error) {
	engineID := cfg.EngineID
	if engineID == "" {
		engineID = "js"
		cfg.EngineID = engineID
	}
	engine, err := s.EngineByID(engineID)
	if err != nil {
		return nil, err
	}

	fp := scriptcache.NewFingerprint([]byte(source), cfg.CanonicalBytes())
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, fp); ok {
			if artifact, ok := cached.(*Artifact); ok {
				return artifact, nil
			}
		}
	}

	artifact, err := engine.Compile(ctx, name, source, cfg)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, fp, artifact)
	}
	return artifact, nil
}

// Validate checks that source compiles under cfg.
func (s *Service) Validate(ctx context.Context, name, source string, cfg CompilationConfig) error {
	_, err := s.Compile(ctx, name, source, cfg)
	return err
}

// Execute evaluates a compiled artifact under its owning engine.
func (s *Service) Execute(ctx context.Context, artifact *Artifact, cfg EvalConfig) (*Outcome, error) {
	engine, err := s.EngineByID(artifact.Config.EngineID)
	if err != nil {
		return nil, err
	}
	return engine.Execute(ctx, artifact, cfg)
}

// CompileAndExecute composes Compile and Execute, stopping on compile failure.
func (s *Service) CompileAndExecute(ctx context.Context, name, source string, compileCfg CompilationConfig, evalCfg EvalConfig) (*Outcome, error) {
	artifact, err := s.Compile(ctx, name, source, compileCfg)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, artifact, evalCfg)
}

// CacheStats exposes the compilation cache counters, zero-valued without a
// cache.
func (s *Service) CacheStats() scriptcache.Stats {
	if s.cache == nil {
		return scriptcache.Stats{}
	}
	return s.cache.Stats()
}
