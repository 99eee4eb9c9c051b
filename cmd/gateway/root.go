package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes, per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitTransientError = 2
	exitSafetyRefused  = 3
)

var cfgPath string

// Execute builds the root command, runs it, and translates the result into
// one of the spec's exit codes, grounded on the teacher's
// migrations.CLI.Execute wrapped around a cobra.Command tree.
func Execute() int {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Multi-database natural-language-to-SQL query gateway",
		Long:  "Accepts a question and a registered database name, generates a read-only SQL statement, validates it, executes it, and returns the result with a confidence judgement.",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(
		newRunCommand(),
		newRegisterDBCommand(),
		newQueryCommand(),
	)

	if err := root.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return exitOK
}

// exitCoder lets a subcommand's RunE attach a specific exit code to its
// returned error without cobra itself knowing about spec §6's taxonomy.
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) ExitCode() int { return e.code }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}
