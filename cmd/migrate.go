package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/knowledge"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))

		if !migrateSeed {
			return nil
		}
		static, err := knowledge.NewStaticSource()
		if err != nil {
			return err
		}
		if err := knowledge.Seed(ctx, st, static); err != nil {
			return eris.Wrap(err, "seed knowledge")
		}
		zap.L().Info("knowledge seeded from static table", zap.Strings("crops", static.Crops()))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "load the built-in knowledge table into the store")
	rootCmd.AddCommand(migrateCmd)
}
