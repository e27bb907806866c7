package cmd

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/arrow-wasm-ffi/arrow"
	"github.com/VanDung-dev/arrow-wasm-ffi/internal/fixture"
)

var compressions = map[string]arrow.Compression{
	"none": arrow.CompressionNone,
	"lz4":  arrow.CompressionLZ4,
	"zstd": arrow.CompressionZstd,
}

func newGenerateCmd(*app) *cobra.Command {
	var (
		rows        []int
		format      string
		compression string
		wide        bool
	)

	cmd := &cobra.Command{
		Use:   "generate FILE",
		Short: "Write sample IPC data",
		Long: `Generate writes deterministic event batches, or with --wide a single batch
covering every supported column type. FILE "-" writes to stdout.`,
		Example: `  arrowffi generate --rows 3,0,5 events.arrow
  arrowffi generate --format file --wide wide.arrow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rows) == 0 {
				return fmt.Errorf("--rows needs at least one batch")
			}

			var w *arrow.IPCWriter
			switch format {
			case "stream":
				w = arrow.NewIPCWriter()
			case "file":
				w = arrow.NewIPCFileWriter()
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			c, ok := compressions[compression]
			if !ok {
				return fmt.Errorf("unknown compression %q", compression)
			}
			w = w.WithCompression(c)

			mem := memory.NewGoAllocator()
			var data []byte
			if wide {
				rec := fixture.WideRecord(mem, rows[0])
				defer rec.Release()
				out, err := w.SerializeToIPC(rec)
				if err != nil {
					return err
				}
				data = out
			} else {
				records, err := fixture.EventBatches(mem, rows...)
				if err != nil {
					return err
				}
				defer fixture.Release(records)
				out, err := w.SerializeMultipleToIPC(fixture.EventSchema(), records)
				if err != nil {
					return err
				}
				data = out
			}

			if args[0] == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), args[0])
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&rows, "rows", []int{100}, "Rows per batch")
	cmd.Flags().StringVar(&format, "format", "stream", "IPC format (stream, file)")
	cmd.Flags().StringVar(&compression, "compression", "none", "Body compression (none, lz4, zstd)")
	cmd.Flags().BoolVar(&wide, "wide", false, "Write one batch of every supported column type")
	return cmd
}
