package validation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/store"
)

// Recorder is the synchronous write path for interventions. It never waits
// on validation.
type Recorder struct {
	store  store.ValidationStore
	notify func()
	log    *zap.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithNotify sets a callback run after each successful write, typically
// Pool.Wake. It must not block.
func WithNotify(fn func()) RecorderOption {
	return func(r *Recorder) { r.notify = fn }
}

// NewRecorder creates a Recorder over st.
func NewRecorder(st store.ValidationStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: st,
		log:   zap.L().With(zap.String("component", "validation")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordIntervention validates payload, durably writes it with status
// pending together with its validation task, and returns the record.
func (r *Recorder) RecordIntervention(ctx context.Context, payload model.InterventionPayload) (*model.InterventionRecord, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	rec := &model.InterventionRecord{Payload: payload, Status: model.StatusPending}
	if err := r.store.CreateIntervention(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "validation: record intervention")
	}

	r.log.Info("intervention recorded",
		zap.String("intervention_id", rec.ID),
		zap.String("farm_id", payload.FarmID),
		zap.String("type", string(payload.Type)),
	)
	if r.notify != nil {
		r.notify()
	}
	return rec, nil
}

// Status returns the current record for id. Unknown ids wrap
// model.ErrNotFound.
func (r *Recorder) Status(ctx context.Context, id string) (*model.InterventionRecord, error) {
	rec, err := r.store.GetIntervention(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "validation: status %s", id)
	}
	return rec, nil
}
