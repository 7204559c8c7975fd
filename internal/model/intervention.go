package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ValidationStatus is the post-hoc validation state of an intervention.
type ValidationStatus string

const (
	StatusPending          ValidationStatus = "pending"
	StatusInProgress       ValidationStatus = "in_progress"
	StatusValidated        ValidationStatus = "validated"
	StatusFlagged          ValidationStatus = "flagged"
	StatusValidationFailed ValidationStatus = "validation_failed"
)

// Terminal reports whether validation has finished for this status.
func (s ValidationStatus) Terminal() bool {
	switch s {
	case StatusValidated, StatusFlagged, StatusValidationFailed:
		return true
	default:
		return false
	}
}

// InterventionType classifies a journal entry.
type InterventionType string

const (
	InterventionSpraying    InterventionType = "spraying"
	InterventionFertilizing InterventionType = "fertilizing"
	InterventionSeeding     InterventionType = "seeding"
	InterventionIrrigation  InterventionType = "irrigation"
	InterventionTillage     InterventionType = "tillage"
	InterventionHarvest     InterventionType = "harvest"
	InterventionOther       InterventionType = "other"
)

var knownInterventionTypes = map[InterventionType]bool{
	InterventionSpraying:    true,
	InterventionFertilizing: true,
	InterventionSeeding:     true,
	InterventionIrrigation:  true,
	InterventionTillage:     true,
	InterventionHarvest:     true,
	InterventionOther:       true,
}

// ProductApplication is one product applied during an intervention.
type ProductApplication struct {
	Name               string  `json:"name"`
	RegistrationNumber string  `json:"registration_number,omitempty"`
	Dose               float64 `json:"dose,omitempty"`
	Unit               string  `json:"unit,omitempty"`
}

// InterventionPayload is the submitted body of an intervention.
type InterventionPayload struct {
	FarmID    string               `json:"farm_id"`
	ParcelID  string               `json:"parcel_id"`
	Type      InterventionType     `json:"type"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
	AreaHa    float64              `json:"area_ha"`
	Products  []ProductApplication `json:"products,omitempty"`
	Notes     string               `json:"notes,omitempty"`
	Location  *Location            `json:"location,omitempty"`
	// Boundary is an optional GeoJSON polygon of the worked parcel.
	Boundary   json.RawMessage `json:"boundary,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// Validate rejects payloads that must never reach the store.
func (p InterventionPayload) Validate() error {
	if strings.TrimSpace(p.FarmID) == "" {
		return NewInputError("farm_id", "farm id is required")
	}
	if strings.TrimSpace(p.ParcelID) == "" {
		return NewInputError("parcel_id", "parcel id is required")
	}
	if !knownInterventionTypes[p.Type] {
		return NewInputError("type", "unknown intervention type "+string(p.Type))
	}
	if p.StartedAt.IsZero() {
		return NewInputError("started_at", "start time is required")
	}
	if !p.EndedAt.IsZero() && p.EndedAt.Before(p.StartedAt) {
		return NewInputError("ended_at", "end time is before start time")
	}
	if p.AreaHa < 0 {
		return NewInputError("area_ha", "worked area cannot be negative")
	}
	for _, pr := range p.Products {
		if strings.TrimSpace(pr.Name) == "" {
			return NewInputError("products", "product name is required")
		}
	}
	return nil
}

// Subjects returns the safety-guideline subjects for the payload: each
// product name, or the intervention type when no product was applied.
func (p InterventionPayload) Subjects() []string {
	if len(p.Products) == 0 {
		return []string{string(p.Type)}
	}
	out := make([]string, 0, len(p.Products))
	for _, pr := range p.Products {
		out = append(out, pr.Name)
	}
	return out
}

// CheckVerdict is the outcome of one collaborator check.
type CheckVerdict struct {
	Check     string `json:"check"`
	Compliant bool   `json:"compliant"`
	Detail    string `json:"detail,omitempty"`
}

// ValidationDetail accumulates check outcomes on an intervention.
type ValidationDetail struct {
	Verdicts  []CheckVerdict `json:"verdicts,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
}

// InterventionRecord is a journal entry plus its validation state.
type InterventionRecord struct {
	ID               string              `json:"id"`
	Payload          InterventionPayload `json:"payload"`
	Status           ValidationStatus    `json:"status"`
	ValidationDetail *ValidationDetail   `json:"validation_detail,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// ValidationTask is a queue entry for one intervention. LeaseEpoch fences
// writes from a worker whose lease was reclaimed by another.
type ValidationTask struct {
	ID             string     `json:"id"`
	InterventionID string     `json:"intervention_id"`
	Attempts       int        `json:"attempts"`
	NextRetryAt    time.Time  `json:"next_retry_at"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LeaseEpoch     int        `json:"lease_epoch"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
