package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/hybridmem/datarecording"
	"github.com/sarchlab/hybridmem/mem/trace"
)

var reportCmd = &cobra.Command{
	Use:   "report <db>",
	Short: "Summarize a database recorded by replay --db.",
	Long: "`report <db>` prints the run information and the per-epoch " +
		"summaries stored in a .sqlite3 file written by `replay --db`.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(ctx context.Context, out io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	reader := datarecording.NewReader(path)
	defer reader.Close()

	reader.MapTable(datarecording.ExecTable, datarecording.ExecInfo{})
	reader.MapTable(trace.EpochTable, trace.EpochEntry{})

	infos, _, err := reader.Query(ctx, datarecording.ExecTable,
		datarecording.QueryParams{})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for _, i := range infos {
		info := i.(*datarecording.ExecInfo)
		fmt.Fprintf(out, "%s: %s\n", info.Property, info.Value)
	}

	epochs, total, err := reader.Query(ctx, trace.EpochTable,
		datarecording.QueryParams{OrderBy: "controller, epoch"})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(out, "\n%d epochs\n", total)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "controller\tepoch\tended\tredirects\trevokes\t"+
		"write backs\tevictions\tpage moves\tbackpressures")

	for _, e := range epochs {
		s := e.(*trace.EpochEntry)
		fmt.Fprintf(w, "%s\t%d\t%t\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Controller, s.Epoch, s.Ended, s.Redirects, s.Revokes,
			s.WriteBacks, s.Evictions, s.PageMoves, s.Backpressures)
	}

	return w.Flush()
}
