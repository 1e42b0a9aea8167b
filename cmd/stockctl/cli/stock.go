package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

func newStockCommand(env *Env, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Query stock levels and ledger entries",
	}
	cmd.AddCommand(newStockGetCommand(env, opts))
	cmd.AddCommand(newStockListCommand(env, opts))
	cmd.AddCommand(newStockEntryCommand(env, opts))
	return cmd
}

func newStockGetCommand(env *Env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <item> <store>",
		Short: "Show the stock record of one item at one store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("stock get: invalid item %q", args[0])
			}
			store, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("stock get: invalid store %q", args[1])
			}
			reader, release, err := env.Reader(cmd.Context())
			if err != nil {
				return fmt.Errorf("stock get: %w", err)
			}
			defer release()

			rec, err := reader.GetStock(cmd.Context(), event.Key{ItemNumber: item, StoreNumber: store})
			if err != nil {
				return fmt.Errorf("stock get: %w", err)
			}
			return renderRecords(cmd, opts, []stock.Record{rec}, false)
		},
	}
}

func newStockListCommand(env *Env, opts *RootOptions) *cobra.Command {
	var (
		filter stock.Filter
		store  int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stock records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, release, err := env.Reader(cmd.Context())
			if err != nil {
				return fmt.Errorf("stock list: %w", err)
			}
			defer release()

			if cmd.Flags().Changed("store") {
				filter.StoreNumber = &store
			}
			records, err := reader.ListStock(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("stock list: %w", err)
			}
			return renderRecords(cmd, opts, records, true)
		},
	}
	cmd.Flags().Int64Var(&store, "store", 0, "only records of this store")
	cmd.Flags().IntVar(&filter.Limit, "limit", 200, "maximum records to return")
	return cmd
}

func newStockEntryCommand(env *Env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entry <transaction-id>",
		Short: "Show the ledger entry of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("stock entry: invalid transaction id %q", args[0])
			}
			reader, release, err := env.Reader(cmd.Context())
			if err != nil {
				return fmt.Errorf("stock entry: %w", err)
			}
			defer release()

			entry, err := reader.GetEntry(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("stock entry: %w", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s item=%d store=%d qty=%d at=%s\n",
				entry.TransactionID, entry.Type, entry.ItemNumber, entry.StoreNumber, entry.Quantity,
				entry.OccurredAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func renderRecords(cmd *cobra.Command, opts *RootOptions, records []stock.Record, list bool) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if !list && len(records) == 1 {
			return writeJSON(out, records[0])
		}
		if records == nil {
			records = []stock.Record{}
		}
		return writeJSON(out, records)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ITEM\tSTORE\tQUANTITY\tLAST UPDATE")
	for _, rec := range records {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", rec.ItemNumber, rec.StoreNumber, rec.CurrentValue, rec.LastUpdate.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
