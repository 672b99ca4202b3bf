package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/alexisbeaulieu97/conveyor/internal/credentials"
	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/executor"
	"github.com/alexisbeaulieu97/conveyor/internal/interpolate"
	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	"github.com/alexisbeaulieu97/conveyor/internal/scriptcache"
	"github.com/alexisbeaulieu97/conveyor/internal/scriptengine"
	"github.com/alexisbeaulieu97/conveyor/internal/steps"
	"github.com/alexisbeaulieu97/conveyor/internal/workspace"
)

// agentEnvVar signals that the process already runs under an agent; further
// agent delegation is skipped when it is set.
const agentEnvVar = "IS_AGENT"

// Options configures an Orchestrator.
type Options struct {
	// Workdir roots the run's workspace. A temporary directory is used when
	// empty.
	Workdir string
	// CacheDir enables the persistent compilation cache tier.
	CacheDir string
	// CacheConfig tunes the in-memory cache tier; Dir and Codec are managed
	// by the orchestrator.
	CacheConfig scriptcache.Config
	// TempRoot hosts materialized credential files.
	TempRoot string
	// EnvFile overlays dotenv-style variables onto the run environment.
	EnvFile string
	// Policy is the run's execution policy.
	Policy execctx.Policy
	// Properties seed the resolver's sysProp provider.
	Properties map[string]string
	// Providers extend the credential store; the environment-variable
	// provider is always present as the last resort.
	Providers []credentials.Provider
	// Interceptors are installed on the step registry after the recording
	// interceptor, before Freeze.
	Interceptors []steps.Interceptor
	// LogWriter receives console log output (stdout when nil); Pretty picks
	// the human-readable renderer.
	LogWriter io.Writer
	Pretty    bool
	// QueueCapacity bounds the log event queue.
	QueueCapacity int
	// Params are the run parameters exposed to steps.
	Params map[string]any
}

// Orchestrator wires the engine together for whole runs: resolve secrets,
// compile the script or parse the config, build the execution context, drive
// the executor, and report a PipelineResult.
type Orchestrator struct {
	opts     Options
	logs     *logx.Manager
	log      *logx.Logger
	resolver *interpolate.Resolver
	store    *credentials.Store
	cache    *scriptcache.Cache
	service  *scriptengine.Service
}

// New assembles an Orchestrator and its process-scoped services.
func New(opts Options) *Orchestrator {
	logs := logx.NewManager(logx.Options{QueueCapacity: opts.QueueCapacity})
	logs.Register(logx.NewConsoleConsumer(opts.LogWriter, opts.Pretty))
	log := logs.Logger("orchestrator")

	store := credentials.NewStore(opts.Providers...)
	store.RegisterProvider(credentials.EnvProvider{})

	resolver := interpolate.New(
		interpolate.WithLogger(logs.Logger("resolver")),
		interpolate.WithProperties(opts.Properties),
	)
	// Configs may reference stored plaintext credentials directly.
	resolver.Register("credentials", func(ctx context.Context, key string) (string, error) {
		value, err := store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		plain, ok := value.(credentials.PlainText)
		if !ok {
			return "", fmt.Errorf("credential %q is not plaintext", key)
		}
		return plain.Value, nil
	})

	cacheCfg := opts.CacheConfig
	cacheCfg.Dir = opts.CacheDir
	cacheCfg.Codec = scriptengine.Codec()
	cacheCfg.Logger = logs.Logger("scriptcache")
	cache := scriptcache.New(cacheCfg)

	service := scriptengine.NewService(cache, logs.Logger("scriptengine"))
	service.Register(scriptengine.NewGojaEngine(logs.Logger("script")))

	return &Orchestrator{
		opts:     opts,
		logs:     logs,
		log:      log,
		resolver: resolver,
		store:    store,
		cache:    cache,
		service:  service,
	}
}

// Logs exposes the orchestrator's log manager for extra consumers.
func (o *Orchestrator) Logs() *logx.Manager { return o.logs }

// Close flushes and stops the log pipeline.
func (o *Orchestrator) Close() { o.logs.Close() }

// Load produces a validated definition from source: pipeline scripts are
// compiled and evaluated, anything else is treated as YAML with secret
// resolution applied before the loader runs.
func (o *Orchestrator) Load(ctx context.Context, sourceName string, source []byte) (*Definition, error) {
	if _, err := o.service.EngineForFile(sourceName); err == nil {
		return o.loadScript(ctx, sourceName, source)
	}
	return o.loadConfig(ctx, sourceName, source)
}

func (o *Orchestrator) loadScript(ctx context.Context, sourceName string, source []byte) (*Definition, error) {
	collector := NewScriptCollector()

	engine, err := o.service.EngineForFile(sourceName)
	if err != nil {
		return nil, err
	}

	artifact, err := o.service.Compile(ctx, sourceName, string(source), scriptengine.CompilationConfig{
		EngineID:    engine.ID(),
		GlobalNames: collector.GlobalNames(),
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.service.Execute(ctx, artifact, scriptengine.EvalConfig{Globals: collector.Globals()}); err != nil {
		return nil, err
	}
	return collector.Definition()
}

func (o *Orchestrator) loadConfig(ctx context.Context, sourceName string, source []byte) (*Definition, error) {
	resolved, err := o.resolver.Resolve(ctx, string(source))
	if err != nil {
		return nil, err
	}
	return ParseDefinition(sourceName, []byte(resolved))
}

// Run executes source end to end and reports the aggregated result. The
// returned error carries the terminating failure; the Result is populated
// whenever stages were reached.
func (o *Orchestrator) Run(ctx context.Context, sourceName string, source []byte) (*Result, error) {
	runID := uuid.NewString()
	ctx = logx.WithCorrelationID(ctx, runID)

	def, err := o.Load(ctx, sourceName, source)
	if err != nil {
		o.log.Error(ctx, err, "pipeline load failed", "source", sourceName)
		return nil, err
	}

	stages, err := CompileStages(def)
	if err != nil {
		return nil, err
	}

	ec, err := o.buildContext(ctx, runID, def)
	if err != nil {
		return nil, err
	}
	defer func() {
		if terr := ec.Teardown(); terr != nil {
			o.log.Warn(ctx, "context teardown incomplete", "error", terr.Error())
		}
	}()

	if _, isAgent := ec.Env.Lookup(agentEnvVar); isAgent {
		o.log.Debug(ctx, "already running under an agent; skipping agent delegation")
	} else if def.Agent != "" {
		o.log.Debug(ctx, "agent provisioning delegated to embedder", "agent", def.Agent)
	}

	o.log.Info(ctx, "pipeline started", "pipeline", def.Name, "run_id", runID, "stages", len(stages))

	exec := executor.New(o.logs.Logger("executor"))
	stageResults, runErr := exec.RunPipeline(ctx, ec, stages)

	result := &Result{
		Status:              executor.AggregateStatus(stageResults),
		Stages:              stageResults,
		EnvironmentSnapshot: ec.Env.Snapshot(),
		Logs:                o.logs,
		CacheStats:          o.cache.Stats(),
	}

	o.log.Info(ctx, "pipeline finished", "pipeline", def.Name, "status", string(result.Status))
	return result, runErr
}

func (o *Orchestrator) buildContext(ctx context.Context, runID string, def *Definition) (*execctx.Context, error) {
	var env *execctx.EnvManager
	if o.opts.Policy.EmptyEnvBase {
		env = execctx.NewEmptyEnvManager()
	} else {
		env = execctx.NewEnvManager()
	}

	if o.opts.EnvFile != "" {
		overlay, err := godotenv.Read(o.opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %q: %w", o.opts.EnvFile, err)
		}
		for k, v := range overlay {
			env.Set(k, v)
		}
	}

	// Definition environment values may carry interpolation tokens.
	for k, v := range def.Environment {
		resolved, err := o.resolver.Resolve(ctx, v)
		if err != nil {
			return nil, err
		}
		env.Set(k, resolved)
	}

	workdir := o.opts.Workdir
	if workdir == "" {
		dir, err := os.MkdirTemp("", "conveyor-run-")
		if err != nil {
			return nil, fmt.Errorf("create run workspace: %w", err)
		}
		workdir = dir
	}
	main, err := workspace.New(workdir, nil)
	if err != nil {
		return nil, err
	}

	registry := steps.NewRegistry()
	if err := steps.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	if err := registry.Intercept(executor.RecordingInterceptor()); err != nil {
		return nil, err
	}
	for _, interceptor := range o.opts.Interceptors {
		if err := registry.Intercept(interceptor); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	params := def.Parameters
	if len(o.opts.Params) > 0 {
		merged := make(map[string]any, len(params)+len(o.opts.Params))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range o.opts.Params {
			merged[k] = v
		}
		params = merged
	}

	creds := credentials.NewManager(o.store, o.opts.TempRoot, o.logs.Logger("credentials"))

	return execctx.New(
		runID,
		env,
		execctx.NewParamManager(params),
		o.logs,
		workspace.NewManager(main),
		creds,
		registry,
		o.opts.Policy,
	), nil
}
