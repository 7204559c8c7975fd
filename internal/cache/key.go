// Package cache provides the two-tier diagnosis cache: a process-local LRU
// in front of a shared store, with single-flight computation on miss.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/cropdoc/internal/model"
)

// KeyPrefix versions the key layout. Bump it when the normalization changes.
const KeyPrefix = "dx:v1:"

// Decimal places kept for numeric evidence.
const (
	readingDecimals  = 1
	areaDecimals     = 2
	locationDecimals = 2
)

// Normalize rounds numeric evidence to the precision Key keeps. Resolving
// normalized evidence makes equal keys imply equal results.
func Normalize(ev model.EvidenceSet) model.EvidenceSet {
	env := ev.Environment
	for _, p := range []**float64{&env.TemperatureC, &env.HumidityPct, &env.RainfallMM, &env.WindKPH, &env.SoilMoisturePct} {
		if *p != nil {
			v := round(**p, readingDecimals)
			*p = &v
		}
	}

	out := ev.WithEnvironment(env)
	if ev.AffectedArea != nil {
		v := round(*ev.AffectedArea, areaDecimals)
		out.AffectedArea = &v
	}
	if ev.Location != nil {
		out.Location = &model.Location{
			Latitude:  round(ev.Location.Latitude, locationDecimals),
			Longitude: round(ev.Location.Longitude, locationDecimals),
		}
	}
	return out
}

// Key derives a deterministic cache key from evidence. Equivalent evidence
// (reordered or duplicated symptoms, different case, float formatting
// noise) yields the same key.
func Key(ev model.EvidenceSet) string {
	fold := cases.Fold()

	var b strings.Builder
	b.WriteString("crop=")
	b.WriteString(fold.String(strings.TrimSpace(ev.Crop)))

	set := make(map[string]struct{}, len(ev.Symptoms))
	for _, s := range ev.Symptoms {
		tok := fold.String(model.NormalizeToken(s))
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	symptoms := make([]string, 0, len(set))
	for s := range set {
		symptoms = append(symptoms, s)
	}
	slices.Sort(symptoms)
	b.WriteString("|symptoms=")
	b.WriteString(strings.Join(symptoms, ","))

	for _, f := range model.EnvFields {
		if v, ok := ev.Environment.Value(f); ok {
			b.WriteString("|")
			b.WriteString(string(f))
			b.WriteString("=")
			b.WriteString(formatRounded(v, readingDecimals))
		}
	}

	if stage := model.NormalizeToken(ev.GrowthStage); stage != "" {
		b.WriteString("|stage=")
		b.WriteString(stage)
	}
	if ev.AffectedArea != nil {
		b.WriteString("|area=")
		b.WriteString(formatRounded(*ev.AffectedArea, areaDecimals))
	}
	if ev.Location != nil {
		b.WriteString("|loc=")
		b.WriteString(formatRounded(ev.Location.Latitude, locationDecimals))
		b.WriteString(",")
		b.WriteString(formatRounded(ev.Location.Longitude, locationDecimals))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func formatRounded(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	// -0.0 and 0.0 must collide.
	if strings.TrimLeft(s, "-0.") == "" {
		return strconv.FormatFloat(0, 'f', decimals, 64)
	}
	return s
}

// round goes through formatRounded so values agree with the key text.
func round(v float64, decimals int) float64 {
	r, err := strconv.ParseFloat(formatRounded(v, decimals), 64)
	if err != nil {
		return v
	}
	return r
}
