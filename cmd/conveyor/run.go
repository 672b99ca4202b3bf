package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/conveyor/internal/execctx"
	"github.com/alexisbeaulieu97/conveyor/internal/pipeline"
)

type runFlags struct {
	workdir  string
	cacheDir string
	envFile  string
	ceiling  string
	emptyEnv bool
	jsonLogs bool
	params   []string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <pipeline-file>",
		Short: "Execute a pipeline script or YAML definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.workdir, "workdir", "w", "", "workspace root (temporary directory when unset)")
	cmd.Flags().StringVar(&flags.cacheDir, "cache-dir", "", "persistent script compilation cache directory")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "dotenv overlay applied to the run environment")
	cmd.Flags().StringVar(&flags.ceiling, "security-ceiling", "Restricted", "maximum step security level (Unrestricted|Restricted|Trusted)")
	cmd.Flags().BoolVar(&flags.emptyEnv, "empty-env", false, "start from an empty environment instead of inheriting the host's")
	cmd.Flags().BoolVar(&flags.jsonLogs, "json-logs", false, "force JSON log output")
	cmd.Flags().StringArrayVarP(&flags.params, "param", "p", nil, "run parameter as key=value (repeatable)")
	return cmd
}

func runPipeline(cmd *cobra.Command, path string, flags *runFlags) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return &exitError{code: pipeline.ExitCompileFailure, err: err}
	}

	ceiling, err := execctx.ParseSecurityLevel(flags.ceiling)
	if err != nil {
		return &exitError{code: pipeline.ExitCompileFailure, err: err}
	}

	params, err := parseParams(flags.params)
	if err != nil {
		return &exitError{code: pipeline.ExitCompileFailure, err: err}
	}

	pretty := !flags.jsonLogs && term.IsTerminal(int(os.Stdout.Fd()))

	orchestrator := pipeline.New(pipeline.Options{
		Workdir:  flags.workdir,
		CacheDir: flags.cacheDir,
		EnvFile:  flags.envFile,
		Policy:   execctx.Policy{Ceiling: ceiling, EmptyEnvBase: flags.emptyEnv},
		Params:   params,
		Pretty:   pretty,
	})
	defer orchestrator.Close()

	result, runErr := orchestrator.Run(cmd.Context(), path, source)
	code := pipeline.ExitCode(result, runErr)

	if result != nil {
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary(result))
	}
	if code != 0 {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := cutParam(pair)
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q; expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func cutParam(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], pair[:i] != ""
		}
	}
	return "", "", false
}
