package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockflow/internal/importer"
)

type importOptions struct {
	dir   string
	async bool
}

func newImportCommand(env *Env, opts *RootOptions) *cobra.Command {
	iopts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Validate CSV movement files and publish them as events",
		Long: `Validate CSV movement files and publish the valid rows to the event topic.

Without file arguments every matching file of --dir (or IMPORT_INPUT_DIR) is
imported. Rejected rows are reported and make the command exit with code 10.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if iopts.async {
				return runImportAsync(cmd, env, opts, iopts, args)
			}
			return runImport(cmd, env, opts, iopts, args)
		},
	}
	cmd.Flags().StringVar(&iopts.dir, "dir", "", "directory to import when no files are given")
	cmd.Flags().BoolVar(&iopts.async, "async", false, "enqueue the import for the worker instead of running it here")
	return cmd
}

func runImport(cmd *cobra.Command, env *Env, opts *RootOptions, iopts *importOptions, files []string) error {
	ctx := cmd.Context()
	imp, release, err := env.Importer(ctx)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer release()

	var reports []importer.Report
	var runErr error
	if len(files) == 0 {
		reports, runErr = imp.ImportDir(ctx, iopts.dir)
	} else {
		var errs []error
		for _, file := range files {
			report, err := imp.ImportFile(ctx, file)
			reports = append(reports, report)
			if err != nil {
				errs = append(errs, err)
			}
		}
		runErr = errors.Join(errs...)
	}

	if err := renderReports(cmd.OutOrStdout(), opts.Format, reports); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("import: %w", runErr)
	}
	for _, report := range reports {
		if len(report.Rejected) > 0 {
			return fmt.Errorf("import: %w", errRowsRejected)
		}
	}
	return nil
}

func runImportAsync(cmd *cobra.Command, env *Env, opts *RootOptions, iopts *importOptions, files []string) error {
	ctx := cmd.Context()
	enq, release, err := env.Enqueuer(ctx)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer release()

	type queued struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Queue string `json:"queue"`
	}
	var out []queued
	if len(files) == 0 {
		info, err := enq.EnqueueImportScan(ctx, iopts.dir)
		if err != nil {
			return fmt.Errorf("import: enqueue scan: %w", err)
		}
		out = append(out, queued{ID: info.ID, Type: info.Type, Queue: info.Queue})
	}
	for _, file := range files {
		info, err := enq.EnqueueImportFile(ctx, file)
		if err != nil {
			return fmt.Errorf("import: enqueue %s: %w", file, err)
		}
		out = append(out, queued{ID: info.ID, Type: info.Type, Queue: info.Queue})
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, out)
	}
	for _, q := range out {
		_, _ = fmt.Fprintf(w, "enqueued %s %s on %s\n", q.Type, q.ID, q.Queue)
	}
	return nil
}

func renderReports(w io.Writer, format string, reports []importer.Report) error {
	if format == "json" {
		if reports == nil {
			reports = []importer.Report{}
		}
		return writeJSON(w, reports)
	}
	if len(reports) == 0 {
		_, _ = fmt.Fprintln(w, "no files to import")
		return nil
	}
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s: processed=%d validated=%d published=%d rejected=%d\n",
			r.File, r.Processed, r.Validated, r.Published, len(r.Rejected))
		for _, rej := range r.Rejected {
			_, _ = fmt.Fprintf(w, "  line %d: %s\n", rej.Line, rej.Reason)
		}
	}
	return nil
}
