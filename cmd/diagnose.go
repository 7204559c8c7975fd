package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/model"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Diagnose a single field observation",
	Example: `  cropdoc diagnose --crop wheat --symptoms yellow-leaves,stunted-growth --temperature 18
  cropdoc diagnose --crop tomato --text "lower leaves curling with brown rings" --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("diagnose"); err != nil {
			return err
		}

		ev, err := evidenceFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			zap.L().Warn("store unavailable, using static knowledge only", zap.Error(err))
		} else {
			defer st.Close() //nolint:errcheck
		}

		svc, err := buildDiagnosis(st)
		if err != nil {
			return err
		}

		text, _ := cmd.Flags().GetString("text")
		var res *model.DiagnosisResult
		if text != "" {
			res, err = svc.DiagnoseText(ctx, ev, text)
		} else {
			res, err = svc.Diagnose(ctx, ev)
		}
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		formatDiagnosis(os.Stdout, res)
		return nil
	},
}

var envFlags = map[string]model.EnvField{
	"temperature":   model.EnvTemperatureC,
	"humidity":      model.EnvHumidityPct,
	"rainfall":      model.EnvRainfallMM,
	"wind":          model.EnvWindKPH,
	"soil-moisture": model.EnvSoilMoisturePct,
}

// evidenceFromFlags builds evidence from flags. Only readings whose flags
// were set are treated as observed.
func evidenceFromFlags(fs *pflag.FlagSet) (model.EvidenceSet, error) {
	crop, _ := fs.GetString("crop")
	symptoms, _ := fs.GetStringSlice("symptoms")
	stage, _ := fs.GetString("stage")

	ev := model.EvidenceSet{Crop: crop, Symptoms: symptoms, GrowthStage: stage}

	for name, field := range envFlags {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetFloat64(name)
		if err != nil {
			return ev, err
		}
		setReading(&ev.Environment, field, v)
	}

	if fs.Changed("area") {
		area, _ := fs.GetFloat64("area")
		ev.AffectedArea = &area
	}
	if fs.Changed("lat") != fs.Changed("lon") {
		return ev, model.NewInputError("location", "--lat and --lon must be set together")
	}
	if fs.Changed("lat") {
		lat, _ := fs.GetFloat64("lat")
		lon, _ := fs.GetFloat64("lon")
		ev.Location = &model.Location{Latitude: lat, Longitude: lon}
	}
	return ev, nil
}

func setReading(env *model.Environment, f model.EnvField, v float64) {
	switch f {
	case model.EnvTemperatureC:
		env.TemperatureC = &v
	case model.EnvHumidityPct:
		env.HumidityPct = &v
	case model.EnvRainfallMM:
		env.RainfallMM = &v
	case model.EnvWindKPH:
		env.WindKPH = &v
	case model.EnvSoilMoisturePct:
		env.SoilMoisturePct = &v
	}
}

func formatDiagnosis(w io.Writer, res *model.DiagnosisResult) {
	fmt.Fprintf(w, "Overall confidence: %s\n", res.Tier)
	if res.StageDescription != "" {
		fmt.Fprintf(w, "Growth stage: %s\n", res.StageDescription)
	}
	if res.Provenance.Note != "" {
		fmt.Fprintf(w, "Note: %s\n", res.Provenance.Note)
	}
	if len(res.Matches) == 0 {
		fmt.Fprintln(w, "\nNo matching conditions found.")
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONDITION\tCATEGORY\tCONFIDENCE\tTIER\tMATCHED")
	for _, m := range res.Matches {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n",
			m.Record.Name, m.Record.Category, m.Confidence, m.Tier, strings.Join(m.MatchedSymptoms, ", "))
	}
	tw.Flush() //nolint:errcheck

	if len(res.Treatments) > 0 {
		fmt.Fprintln(w, "\nTreatments:")
		for _, t := range res.Treatments {
			fmt.Fprintf(w, "  - %s\n", t)
		}
	}
	if len(res.Prevention) > 0 {
		fmt.Fprintln(w, "\nPrevention:")
		for _, p := range res.Prevention {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}
}

func addDiagnoseFlags(f *pflag.FlagSet) {
	f.String("crop", "", "crop name (required)")
	f.StringSlice("symptoms", nil, "comma-separated symptom tokens")
	f.String("stage", "", "growth stage code, e.g. BBCH 31")
	f.String("text", "", "free-text description to extract symptoms from")
	f.Float64("temperature", 0, "air temperature in °C")
	f.Float64("humidity", 0, "relative humidity in %")
	f.Float64("rainfall", 0, "rainfall in mm")
	f.Float64("wind", 0, "wind speed in km/h")
	f.Float64("soil-moisture", 0, "soil moisture in %")
	f.Float64("area", 0, "affected area in hectares")
	f.Float64("lat", 0, "observation latitude")
	f.Float64("lon", 0, "observation longitude")
	f.Bool("json", false, "print the full result as JSON")
}

func init() {
	addDiagnoseFlags(diagnoseCmd.Flags())
	_ = diagnoseCmd.MarkFlagRequired("crop")
	rootCmd.AddCommand(diagnoseCmd)
}
