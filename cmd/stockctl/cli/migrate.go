package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockflow/internal/platform/db"
)

func newMigrateCommand(env *Env, opts *RootOptions) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger and stock tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts := db.Schema()
			out := cmd.OutOrStdout()
			if printOnly {
				for _, stmt := range stmts {
					_, _ = fmt.Fprintf(out, "%s;\n\n", stmt)
				}
				return nil
			}
			if err := env.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if opts.Format == "json" {
				return writeJSON(out, map[string]any{"ok": true, "statements": len(stmts)})
			}
			_, _ = fmt.Fprintf(out, "applied %d statement(s)\n", len(stmts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}
