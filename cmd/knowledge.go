package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/cropdoc/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the structured knowledge store",
}

var (
	knowledgeFile   string
	knowledgeSheet  string
	knowledgeStages bool
)

var knowledgeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import knowledge records or growth stages from CSV or XLSX",
	Example: `  cropdoc knowledge import --file wheat.xlsx --sheet Diseases
  cropdoc knowledge import --file bbch.csv --stages`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if knowledgeStages {
			_, err = knowledge.ImportStagesFile(ctx, st, knowledgeFile, knowledgeSheet)
		} else {
			_, err = knowledge.ImportFile(ctx, st, knowledgeFile, knowledgeSheet)
		}
		return err
	},
}

func init() {
	f := knowledgeImportCmd.Flags()
	f.StringVar(&knowledgeFile, "file", "", "path to a .csv or .xlsx file (required)")
	f.StringVar(&knowledgeSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	f.BoolVar(&knowledgeStages, "stages", false, "file holds growth-stage descriptions")
	_ = knowledgeImportCmd.MarkFlagRequired("file")

	knowledgeCmd.AddCommand(knowledgeImportCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
