package model

import (
	"strings"
	"time"
)

// EnvField names an environmental reading that a predicate can test.
type EnvField string

const (
	EnvTemperatureC    EnvField = "temperature_c"
	EnvHumidityPct     EnvField = "humidity_pct"
	EnvRainfallMM      EnvField = "rainfall_mm"
	EnvWindKPH         EnvField = "wind_kph"
	EnvSoilMoisturePct EnvField = "soil_moisture_pct"
)

// EnvFields lists every known environmental field in canonical order.
var EnvFields = []EnvField{
	EnvTemperatureC,
	EnvHumidityPct,
	EnvRainfallMM,
	EnvWindKPH,
	EnvSoilMoisturePct,
}

// Environment holds optional ambient readings. A nil field means "not observed".
type Environment struct {
	TemperatureC    *float64 `json:"temperature_c,omitempty" yaml:"temperature_c,omitempty"`
	HumidityPct     *float64 `json:"humidity_pct,omitempty" yaml:"humidity_pct,omitempty"`
	RainfallMM      *float64 `json:"rainfall_mm,omitempty" yaml:"rainfall_mm,omitempty"`
	WindKPH         *float64 `json:"wind_kph,omitempty" yaml:"wind_kph,omitempty"`
	SoilMoisturePct *float64 `json:"soil_moisture_pct,omitempty" yaml:"soil_moisture_pct,omitempty"`
}

// Value returns the reading for a field and whether it was observed.
func (e Environment) Value(f EnvField) (float64, bool) {
	var p *float64
	switch f {
	case EnvTemperatureC:
		p = e.TemperatureC
	case EnvHumidityPct:
		p = e.HumidityPct
	case EnvRainfallMM:
		p = e.RainfallMM
	case EnvWindKPH:
		p = e.WindKPH
	case EnvSoilMoisturePct:
		p = e.SoilMoisturePct
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Any reports whether at least one reading is present.
func (e Environment) Any() bool {
	for _, f := range EnvFields {
		if _, ok := e.Value(f); ok {
			return true
		}
	}
	return false
}

// Merge returns a copy of e with missing readings filled from other.
// Readings already present in e always win.
func (e Environment) Merge(other Environment) Environment {
	out := e
	if out.TemperatureC == nil {
		out.TemperatureC = other.TemperatureC
	}
	if out.HumidityPct == nil {
		out.HumidityPct = other.HumidityPct
	}
	if out.RainfallMM == nil {
		out.RainfallMM = other.RainfallMM
	}
	if out.WindKPH == nil {
		out.WindKPH = other.WindKPH
	}
	if out.SoilMoisturePct == nil {
		out.SoilMoisturePct = other.SoilMoisturePct
	}
	return out
}

// Location is a WGS84 point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EvidenceSet is a user-supplied field observation. It is treated as a value:
// every transformation returns a copy and leaves the receiver untouched.
type EvidenceSet struct {
	Crop         string      `json:"crop"`
	Symptoms     []string    `json:"symptoms"`
	Environment  Environment `json:"environment,omitempty"`
	GrowthStage  string      `json:"growth_stage,omitempty"`
	AffectedArea *float64    `json:"affected_area,omitempty"`
	Location     *Location   `json:"location,omitempty"`
}

// Validate rejects evidence the resolver must never see.
func (e EvidenceSet) Validate() error {
	if strings.TrimSpace(e.Crop) == "" {
		return NewInputError("crop", "crop is required")
	}
	n := 0
	for _, s := range e.Symptoms {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if n == 0 {
		return NewInputError("symptoms", "at least one symptom is required")
	}
	if e.AffectedArea != nil && (*e.AffectedArea < 0 || *e.AffectedArea > 1) {
		return NewInputError("affected_area", "affected area must be a fraction between 0 and 1")
	}
	if e.Location != nil {
		if e.Location.Latitude < -90 || e.Location.Latitude > 90 ||
			e.Location.Longitude < -180 || e.Location.Longitude > 180 {
			return NewInputError("location", "location is out of range")
		}
	}
	return nil
}

// WithEnvironment returns a copy of e whose environment is env.
func (e EvidenceSet) WithEnvironment(env Environment) EvidenceSet {
	out := e
	out.Environment = env
	out.Symptoms = append([]string(nil), e.Symptoms...)
	return out
}

// SymptomSet returns the normalized, de-duplicated symptom tokens.
func (e EvidenceSet) SymptomSet() map[string]struct{} {
	set := make(map[string]struct{}, len(e.Symptoms))
	for _, s := range e.Symptoms {
		tok := NormalizeToken(s)
		if tok == "" {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// NormalizeToken lower-cases and trims a symptom, crop or stage token and
// collapses internal whitespace and underscores to single hyphens.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '\t' || r == '-'
	})
	return strings.Join(fields, "-")
}

// TimeWindow is an inclusive observation period for environmental readings.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// WindowEnding returns the window of length d that ends at t.
func WindowEnding(t time.Time, d time.Duration) TimeWindow {
	return TimeWindow{From: t.Add(-d), To: t}
}
