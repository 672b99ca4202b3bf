package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/conveyor/internal/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline-file>",
		Short: "Compile and validate a pipeline without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return &exitError{code: pipeline.ExitCompileFailure, err: err}
			}

			orchestrator := pipeline.New(pipeline.Options{
				LogWriter: cmd.ErrOrStderr(),
			})
			defer orchestrator.Close()

			def, err := orchestrator.Load(cmd.Context(), args[0], source)
			if err != nil {
				return &exitError{code: pipeline.ExitCompileFailure, err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d stages)\n", def.Name, len(def.Stages))
			return nil
		},
	}
}
