package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cropdoc",
	Short: "Crop diagnosis engine and intervention validation service",
	Long: `cropdoc ranks likely diseases, pests and deficiencies for field observations
and validates recorded farm interventions against the product registry,
field weather and safety guidelines.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		zap.L().Debug("config loaded", zap.String("command", cmd.Name()), zap.String("store", cfg.Store.Driver))
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or /etc/cropdoc/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
