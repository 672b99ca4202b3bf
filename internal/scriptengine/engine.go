package scriptengine

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// Engine compiles and evaluates scripts of one dialect.
type Engine interface {
	// ID identifies the engine in compilation configs.
	ID() string
	// Extensions lists the file suffixes the engine claims.
	Extensions() []string
	// Compile translates source into an executable artifact.
	Compile(ctx context.Context, name, source string, cfg CompilationConfig) (*Artifact, error)
	// Execute evaluates a previously compiled artifact.
	Execute(ctx context.Context, artifact *Artifact, cfg EvalConfig) (*Outcome, error)
}

// GojaEngine executes JavaScript pipeline scripts on the goja runtime. Each
// evaluation gets a fresh isolated runtime; the compiled program is shared and
// immutable.
type GojaEngine struct {
	log *logx.Logger
}

// NewGojaEngine creates the JavaScript engine.
func NewGojaEngine(log *logx.Logger) *GojaEngine {
	return &GojaEngine{log: log}
}

// ID implements Engine.
func (e *GojaEngine) ID() string { return "js" }

// Extensions implements Engine.
func (e *GojaEngine) Extensions() []string {
	return []string{".pipeline.js", ".conveyor.js"}
}

// Compile implements Engine. Failures carry the compiler diagnostics and are
// never cached by callers.
func (e *GojaEngine) Compile(_ context.Context, name, source string, cfg CompilationConfig) (*Artifact, error) {
	program, err := goja.Compile(name, source, cfg.Strict)
	if err != nil {
		return nil, conveyorerrors.NewCompileError(name, []string{err.Error()}, err)
	}
	return &Artifact{
		Name:    name,
		Source:  source,
		Config:  cfg,
		program: program,
	}, nil
}

// Execute implements Engine. The runtime observes context cancellation and
// the optional eval timeout through goja's interrupt mechanism.
func (e *GojaEngine) Execute(ctx context.Context, artifact *Artifact, cfg EvalConfig) (*Outcome, error) {
	if artifact == nil || artifact.program == nil {
		return nil, conveyorerrors.NewInternalError("scriptengine", fmt.Errorf("artifact has no compiled program"))
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	outcome := &Outcome{}
	if err := e.installConsole(ctx, vm, outcome); err != nil {
		return nil, err
	}
	for name, value := range cfg.Globals {
		if err := vm.Set(name, value); err != nil {
			return nil, conveyorerrors.NewInternalError("scriptengine", fmt.Errorf("install global %q: %w", name, err))
		}
	}

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchdogDone:
		}
	}()

	value, err := vm.RunProgram(artifact.program)
	if err != nil {
		return nil, evalError(ctx, artifact.Name, err)
	}

	if cfg.EntryPoint != "" {
		entry, ok := goja.AssertFunction(vm.Get(cfg.EntryPoint))
		if !ok {
			return nil, conveyorerrors.NewStepFailureError(artifact.Name, fmt.Errorf("entry point %q is not a function", cfg.EntryPoint))
		}
		args := make([]goja.Value, len(cfg.EntryArgs))
		for i, a := range cfg.EntryArgs {
			args[i] = vm.ToValue(a)
		}
		value, err = entry(goja.Undefined(), args...)
		if err != nil {
			return nil, evalError(ctx, artifact.Name, err)
		}
	}

	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		outcome.Value = value.Export()
	}
	return outcome, nil
}

func (e *GojaEngine) installConsole(ctx context.Context, vm *goja.Runtime, outcome *Outcome) error {
	console := vm.NewObject()
	logLine := func(call goja.FunctionCall) goja.Value {
		parts := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		line := fmt.Sprintln(parts...)
		line = line[:len(line)-1]
		outcome.ConsoleLines = append(outcome.ConsoleLines, line)
		if e.log != nil {
			e.log.Info(ctx, line, "source", "script")
		}
		return goja.Undefined()
	}
	if err := console.Set("log", logLine); err != nil {
		return err
	}
	if err := console.Set("error", logLine); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// evalError classifies an evaluation failure: interrupts raised by the
// watchdog become cancellation errors, everything else a step failure.
func evalError(ctx context.Context, name string, err error) error {
	if _, ok := err.(*goja.InterruptedError); ok {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return conveyorerrors.NewCancellationError("script "+name, cause)
	}
	return conveyorerrors.NewStepFailureError(name, err)
}

var _ Engine = (*GojaEngine)(nil)
