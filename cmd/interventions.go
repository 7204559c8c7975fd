package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/validation"
)

var interventionsCmd = &cobra.Command{
	Use:   "interventions",
	Short: "Record interventions and inspect their validation",
}

var interventionsRecordCmd = &cobra.Command{
	Use:   "record <payload.json>",
	Short: "Record an intervention from a JSON payload file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read payload")
		}
		var payload model.InterventionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return eris.Wrap(err, "parse payload")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := validation.NewRecorder(st).RecordIntervention(ctx, payload)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var interventionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an intervention and its validation status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := validation.NewRecorder(st).Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	interventionsCmd.AddCommand(interventionsRecordCmd, interventionsShowCmd)
	rootCmd.AddCommand(interventionsCmd)
}
