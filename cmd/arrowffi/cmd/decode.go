package cmd

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/arrow-wasm-ffi/host"
	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

func newTableCmd(a *app) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "table FILE",
		Short: "Decode every chunk of an IPC stream or file",
		Example: `  arrowffi table events.arrow
  arrowffi table --wasm arrowffi.wasm -o json events.arrow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := a.decoder(ctx, nil)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			table, err := d.DecodeTable(ctx, data)
			if err != nil {
				return err
			}
			defer table.Release()

			out := cmd.OutOrStdout()
			if err := a.print(out, server.Summarize(table.Schema, table.Batches)); err != nil {
				return err
			}
			if show {
				printColumns(out, table.Batches)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print column values")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		index uint32
		show  bool
	)

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Decode one chunk of an IPC stream or file",
		Example: `  arrowffi batch --index 2 events.arrow`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := a.decoder(ctx, nil)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			rec, err := d.DecodeRecordBatch(ctx, data, host.WithChunkIndex(index))
			if err != nil {
				return err
			}
			defer rec.Release()

			out := cmd.OutOrStdout()
			records := []arrow.Record{rec}
			if err := a.print(out, server.Summarize(rec.Schema(), records)); err != nil {
				return err
			}
			if show {
				printColumns(out, records)
			}
			return nil
		},
	}

	cmd.Flags().Uint32VarP(&index, "index", "i", 0, "Zero-based chunk index")
	cmd.Flags().BoolVar(&show, "show", false, "Print column values")
	return cmd
}
