package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor runs programmable CI/CD pipelines",
		Long:          "Conveyor compiles pipeline scripts or YAML definitions and executes their stages through a sandboxed step registry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// execute runs the CLI and maps the outcome onto the process exit contract.
func execute() (int, error) {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if coded, ok := err.(*exitError); ok {
			return coded.code, coded.err
		}
		return 1, err
	}
	return 0, nil
}

// exitError carries a specific exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
