// Package cli implements the stockctl operator commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes returned by stockctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitRowsRejected = 10
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
}

var validFormats = []string{"text", "json"}

// errRowsRejected marks an import that finished with rejected rows.
var errRowsRejected = errors.New("rows rejected")

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errRowsRejected):
		return ExitRowsRejected
	default:
		return ExitFailure
	}
}

// NewRootCommand creates the stockctl root command.
func NewRootCommand(env *Env) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "stockctl",
		Short:         "Operate the stockflow inventory service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(env, opts))
	cmd.AddCommand(newImportCommand(env, opts))
	cmd.AddCommand(newStockCommand(env, opts))
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
