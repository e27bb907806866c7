package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/arrow-wasm-ffi/arrow"
	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the framing, schema and chunk layout of IPC data",
		Long: `Inspect reads IPC data on the host, without the decoder module, and
reports what a decode would see.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			meta, err := arrow.ParseMetadata(data)
			if err != nil {
				return err
			}
			defer meta.Release()

			out := cmd.OutOrStdout()
			if a.output == "text" {
				indexed := "indexed"
				if meta.NumChunks == arrow.UnknownChunks {
					indexed = "not indexed"
				}
				fmt.Fprintf(out, "format: %s (%s)\n", meta.Format, indexed)
				if md := meta.Schema.Metadata(); md.Len() > 0 {
					for i, k := range md.Keys() {
						fmt.Fprintf(out, "metadata: %s=%s\n", k, md.Values()[i])
					}
				}
				fmt.Fprintln(out)
			}

			resp := &server.Response{OK: true}
			for rec, err := range meta.Chunks() {
				if err != nil {
					return err
				}
				resp.Chunks = append(resp.Chunks, server.ChunkInfo{Rows: rec.NumRows(), Columns: rec.NumCols()})
			}
			resp.Schema = server.Summarize(meta.Schema, nil).Schema
			return a.print(out, resp)
		},
	}
}
