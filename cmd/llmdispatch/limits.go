package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ld "github.com/ineyio/llmdispatch"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the compiled-in buckets, start-up rate limits and prices",
	Args:  cobra.NoArgs,
	RunE:  runLimits,
}

func init() {
	rootCmd.AddCommand(limitsCmd)
}

func runLimits(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tREQUESTS\tTOKENS\tRESET\tPROMPT/1K\tCOMPLETION/1K")
	for _, b := range ld.Buckets() {
		s := ld.DefaultSnapshot(b)
		p := ld.PriceFor(b)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%.4f\t%.4f\n",
			b, s.LimitRequests, s.LimitTokens, s.ResetRequests, p.Prompt, p.Completion)
	}
	return w.Flush()
}
