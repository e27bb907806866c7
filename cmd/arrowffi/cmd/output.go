package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

// print writes resp in the selected output format.
func (a *app) print(w io.Writer, resp *server.Response) error {
	if a.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTYPE\tNULLABLE")
	for _, f := range resp.Schema {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", f.Name, f.Type, f.Nullable)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var rows int64
	for _, c := range resp.Chunks {
		rows += c.Rows
	}
	fmt.Fprintf(w, "\n%d chunk(s), %d row(s)\n", len(resp.Chunks), rows)
	for i, c := range resp.Chunks {
		fmt.Fprintf(w, "  [%d] rows=%d columns=%d\n", i, c.Rows, c.Columns)
	}
	return nil
}

func printColumns(w io.Writer, records []arrow.Record) {
	for i, rec := range records {
		fmt.Fprintf(w, "\nchunk %d\n", i)
		for j, col := range rec.Columns() {
			fmt.Fprintf(w, "  %s: %s\n", rec.ColumnName(j), col)
		}
	}
}
