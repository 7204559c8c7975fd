package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/model"
)

// prepareRecord fills the identity and timestamps of a new intervention.
func prepareRecord(rec *model.InterventionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Status = model.StatusPending
}

func marshalDetail(detail *model.ValidationDetail) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	return b, eris.Wrap(err, "marshal validation detail")
}

func decodeIntervention(rec *model.InterventionRecord, payloadJSON, detailJSON []byte) error {
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return eris.Wrap(err, "unmarshal intervention payload")
	}
	if len(detailJSON) > 0 && string(detailJSON) != "null" {
		var detail model.ValidationDetail
		if err := json.Unmarshal(detailJSON, &detail); err != nil {
			return eris.Wrap(err, "unmarshal validation detail")
		}
		rec.ValidationDetail = &detail
	}
	return nil
}

func dlqLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
