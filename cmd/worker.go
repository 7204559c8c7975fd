package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the intervention validation workers and lease sweeper",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		vs, err := buildValidation(st)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		vs.run(gctx, g)
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
