package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cropdoc/internal/resilience"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List interventions whose validation gave up",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "failures list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No failed validations.")
			return nil
		}

		formatFailures(os.Stdout, entries)
		if total, err := st.CountDLQ(ctx); err == nil && total > len(entries) {
			fmt.Fprintf(os.Stderr, "\nShowing %d of %d failed validations.\n", len(entries), total)
		}
		return nil
	},
}

func formatFailures(w io.Writer, entries []resilience.DLQEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERVENTION\tCHECK\tTYPE\tATTEMPTS\tFAILED AT\tERROR")
	for _, e := range entries {
		check := e.FailedCheck
		if check == "" {
			check = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.InterventionID, check, e.ErrorType, e.RetryCount, e.MaxRetries,
			e.LastFailedAt.Format(time.RFC3339), truncate(e.Error, 80))
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	failuresCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	failuresCmd.Flags().Int("limit", 50, "maximum entries to show")
	rootCmd.AddCommand(failuresCmd)
}
