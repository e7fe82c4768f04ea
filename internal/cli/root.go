// Package cli implements the crudkit command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/crudkit/pkg/crudkit"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// sysError marks failures of the environment (filesystem, database) as
// opposed to bad input.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

func sysErr(err error) error {
	if err == nil {
		return nil
	}
	return &sysError{err: err}
}

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var se *sysError
	if errors.As(err, &se) {
		return exitSysError
	}
	return exitUserError
}

// rootFlags holds the global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	backend   string
	dsn       string
	logLevel  string
	logFormat string
}

// app carries the state one command invocation shares across subcommands.
type app struct {
	flags    rootFlags
	settings *settings

	// listening, when set, is called with the address serve bound to.
	listening func(addr string)
}

// NewRootCmd creates the top-level "crudkit" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "crudkit",
		Short:   "A generic CRUD service over SQLite or PostgreSQL",
		Long:    "crudkit serves create, read, update, patch and delete endpoints for its\nentities and manages the database they are stored in.",
		Version: crudkit.Version,
		// Errors are printed once by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/crudkit)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: .crudkit-db)")
	pf.StringVar(&a.flags.backend, cfgKeyBackend, "", "storage backend: sqlite or postgres")
	pf.StringVar(&a.flags.dsn, cfgKeyDSN, "", "connection string for the postgres backend")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newServeCmd(a),
		newSeedCmd(a),
		newExportCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Args[1:], os.Stderr))
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}
