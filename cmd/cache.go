package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the diagnosis cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired entries from the shared diagnosis cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc, err := buildDiagnosis(st)
		if err != nil {
			return err
		}
		_, shared, err := svc.Cache().Purge(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("cache purged", zap.Int64("shared_entries", shared))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
