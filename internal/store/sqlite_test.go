package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cropdoc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func ptr(v float64) *float64 { return &v }

func wheatRecords() []model.KnowledgeRecord {
	return []model.KnowledgeRecord{
		{
			Name:       "Nitrogen deficiency",
			Crop:       "Wheat",
			Category:   model.CategoryDeficiency,
			Symptoms:   []string{"yellow-leaves", "stunted-growth", "pale-color"},
			Triggers:   []model.Predicate{{Field: model.EnvTemperatureC, Min: ptr(10), Max: ptr(25)}},
			Treatments: []string{"Apply nitrogen top dressing"},
		},
		{
			Name:         "Leaf rust",
			Code:         "PUCCRT",
			Crop:         "wheat",
			Category:     model.CategoryDisease,
			Symptoms:     []string{"orange-pustules"},
			GrowthStages: []string{"31", "39"},
		},
	}
}

func TestSQLiteStore_ImportAndFindKnowledge(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	n, err := s.ImportKnowledge(ctx, wheatRecords())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := s.FindByCropAndCategory(ctx, "WHEAT", model.CategoryDeficiency)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Nitrogen deficiency", recs[0].Name)
	assert.Equal(t, "wheat", recs[0].Crop)
	assert.Equal(t, model.ProvenanceDatabase, recs[0].Provenance)
	require.Len(t, recs[0].Triggers, 1)
	assert.Equal(t, 25.0, *recs[0].Triggers[0].Max)
	assert.Empty(t, recs[0].GrowthStages)

	recs, err = s.FindByCropAndCategory(ctx, "dragonfruit", model.CategoryDisease)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLiteStore_ImportKnowledgeUpserts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.ImportKnowledge(ctx, wheatRecords())
	require.NoError(t, err)

	updated := wheatRecords()[1]
	updated.Treatments = []string{"Fungicide at flag leaf"}
	_, err = s.ImportKnowledge(ctx, []model.KnowledgeRecord{updated})
	require.NoError(t, err)

	recs, err := s.FindByCropAndCategory(ctx, "wheat", model.CategoryDisease)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"Fungicide at flag leaf"}, recs[0].Treatments)
}

func TestSQLiteStore_Describe(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.ImportStages(ctx, []model.GrowthStage{{Crop: "wheat", Code: "31", Description: "First node detectable"}})
	require.NoError(t, err)

	desc, ok, err := s.Describe(ctx, "Wheat", "31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "First node detectable", desc)

	_, ok, err = s.Describe(ctx, "wheat", "99")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Cache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SetCached(ctx, "dx:live", []byte("live"), now.Add(time.Hour)))
	require.NoError(t, s.SetCached(ctx, "dx:stale", []byte("stale"), now.Add(-time.Minute)))

	payload, exp, found, err := s.GetCached(ctx, "dx:live", now)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("live"), payload)
	assert.WithinDuration(t, now.Add(time.Hour), exp, time.Millisecond)

	_, _, found, err = s.GetCached(ctx, "dx:stale", now)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetCached(ctx, "dx:live", []byte("newer"), now.Add(2*time.Hour)))
	payload, _, _, err = s.GetCached(ctx, "dx:live", now)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), payload)

	n, err := s.DeleteExpiredCache(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func newIntervention() *model.InterventionRecord {
	return &model.InterventionRecord{
		Payload: model.InterventionPayload{
			FarmID:    "farm-1",
			ParcelID:  "parcel-7",
			Type:      model.InterventionSpraying,
			StartedAt: time.Date(2026, 4, 2, 7, 0, 0, 0, time.UTC),
			AreaHa:    3.5,
			Products:  []model.ProductApplication{{Name: "Copper oxychloride", Dose: 2, Unit: "kg/ha"}},
		},
	}
}

func TestSQLiteStore_CreateAndGetIntervention(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.StatusPending, rec.Status)

	got, err := s.GetIntervention(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "parcel-7", got.Payload.ParcelID)
	assert.Nil(t, got.ValidationDetail)

	_, err = s.GetIntervention(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteStore_TransitionStatusIsCompareAndSet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))

	ok, err := s.TransitionStatus(ctx, rec.ID, model.StatusPending, model.StatusInProgress, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionStatus(ctx, rec.ID, model.StatusPending, model.StatusInProgress, nil)
	require.NoError(t, err)
	assert.False(t, ok, "second swap from pending must fail")

	detail := &model.ValidationDetail{Verdicts: []model.CheckVerdict{{Check: "registry", Compliant: false, Detail: "product withdrawn"}}}
	ok, err = s.TransitionStatus(ctx, rec.ID, model.StatusInProgress, model.StatusFlagged, detail)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetIntervention(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, got.Status)
	require.NotNil(t, got.ValidationDetail)
	assert.Equal(t, "product withdrawn", got.ValidationDetail.Verdicts[0].Detail)
}

func TestSQLiteStore_ClaimRescheduleComplete(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))
	now := time.Now().Add(time.Second)

	tasks, err := s.ClaimTasks(ctx, "w1", time.Minute, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, rec.ID, task.InterventionID)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, 1, task.LeaseEpoch)
	assert.Equal(t, "w1", task.LeaseOwner)
	require.NotNil(t, task.LeaseExpiresAt)

	again, err := s.ClaimTasks(ctx, "w2", time.Minute, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased task must not be claimed twice")

	ok, err := s.RescheduleTask(ctx, task, now.Add(time.Hour), "weather: 503")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err = s.ClaimTasks(ctx, "w2", time.Minute, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "task is not due yet")

	later := now.Add(2 * time.Hour)
	again, err = s.ClaimTasks(ctx, "w2", time.Minute, later, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].Attempts)
	assert.Equal(t, "weather: 503", again[0].LastError)

	ok, err = s.CompleteTask(ctx, task)
	require.NoError(t, err)
	assert.False(t, ok, "stale lease holder cannot complete")

	ok, err = s.CompleteTask(ctx, again[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_FinishTaskFenced(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))
	now := time.Now().Add(time.Second)

	stale, err := s.ClaimTasks(ctx, "w1", time.Minute, now, 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	ok, err := s.TransitionStatus(ctx, rec.ID, model.StatusPending, model.StatusInProgress, nil)
	require.NoError(t, err)
	require.True(t, ok)

	later := now.Add(2 * time.Minute)
	current, err := s.ClaimTasks(ctx, "w2", time.Minute, later, 1)
	require.NoError(t, err)
	require.Len(t, current, 1)

	ok, err = s.FinishTask(ctx, stale[0], model.StatusValidationFailed, &model.ValidationDetail{LastError: "late", Attempts: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := s.GetIntervention(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Nil(t, got.ValidationDetail)

	ok, err = s.FinishTask(ctx, current[0], model.StatusValidated, &model.ValidationDetail{Attempts: 2})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetIntervention(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, got.Status)
	assert.Equal(t, 2, got.ValidationDetail.Attempts)

	left, err := s.ClaimTasks(ctx, "w3", time.Minute, later.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSQLiteStore_ClaimTakesExpiredLease(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIntervention(ctx, newIntervention()))
	now := time.Now().Add(time.Second)

	first, err := s.ClaimTasks(ctx, "w1", time.Minute, now, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.ClaimTasks(ctx, "w2", time.Minute, now.Add(2*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "w2", second[0].LeaseOwner)
	assert.Equal(t, first[0].LeaseEpoch+1, second[0].LeaseEpoch)

	ok, err := s.RescheduleTask(ctx, first[0], now, "late")
	require.NoError(t, err)
	assert.False(t, ok, "fenced by lease epoch")
}

func TestSQLiteStore_RecoverExpiredLeases(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))
	now := time.Now().Add(time.Second)

	tasks, err := s.ClaimTasks(ctx, "w1", time.Minute, now, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	ok, err := s.TransitionStatus(ctx, rec.ID, model.StatusPending, model.StatusInProgress, nil)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.RecoverExpiredLeases(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lease still live")

	sweep := now.Add(2 * time.Minute)
	n, err = s.RecoverExpiredLeases(ctx, sweep)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.RecoverExpiredLeases(ctx, sweep)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a released lease is recovered once")

	got, err := s.GetIntervention(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	reclaimed, err := s.ClaimTasks(ctx, "w2", time.Minute, sweep, 1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, 3, reclaimed[0].LeaseEpoch)
}

func TestSQLiteStore_DLQ(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, rec))
	now := time.Now().UTC()

	require.NoError(t, s.EnqueueDLQ(ctx, resilience.DLQEntry{
		InterventionID: rec.ID,
		Error:          "weather: 503 service unavailable",
		ErrorType:      resilience.ErrorTypeTransient,
		FailedCheck:    "weather",
		RetryCount:     3,
		MaxRetries:     3,
		CreatedAt:      now,
		LastFailedAt:   now,
	}))

	count, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entries, err := s.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].InterventionID)
	assert.Equal(t, "weather", entries[0].FailedCheck)
	assert.True(t, entries[0].Exhausted())

	entries, err = s.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypePermanent})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first, second := newIntervention(), newIntervention()
	require.NoError(t, s.CreateIntervention(ctx, first))
	require.NoError(t, s.CreateIntervention(ctx, second))

	ok, err := s.TransitionStatus(ctx, second.ID, model.StatusPending, model.StatusFlagged, nil)
	require.NoError(t, err)
	require.True(t, ok)

	counts, err := s.CountByStatus(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[model.ValidationStatus]int{
		model.StatusPending: 1,
		model.StatusFlagged: 1,
	}, counts)

	counts, err = s.CountByStatus(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, counts)
}
