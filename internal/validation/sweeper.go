package validation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/store"
)

// DefaultSweepSchedule runs lease recovery once a minute.
const DefaultSweepSchedule = "@every 1m"

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper periodically releases expired task leases so crashed workers'
// tasks become claimable and their records return to pending.
type Sweeper struct {
	store    store.ValidationStore
	schedule cron.Schedule
	spec     string
	after    func()
	now      func() time.Time
	log      *zap.Logger
}

// NewSweeper parses spec (standard cron or a descriptor such as
// "@every 30s"). An empty spec uses DefaultSweepSchedule. after, if set, runs
// whenever a sweep released at least one lease.
func NewSweeper(st store.ValidationStore, spec string, after func()) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "validation: parse sweep schedule %q", spec)
	}
	return &Sweeper{
		store:    st,
		schedule: sched,
		spec:     spec,
		after:    after,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "validation.sweeper")),
	}, nil
}

// SweepOnce recovers every lease that has expired by now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.RecoverExpiredLeases(ctx, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "validation: recover expired leases")
	}
	if n > 0 {
		s.log.Info("recovered expired leases", zap.Int("count", n))
		if s.after != nil {
			s.after()
		}
	}
	return n, nil
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep
// to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("lease sweep failed", zap.Error(err))
		}
	}))

	s.log.Info("lease sweeper starting", zap.String("schedule", s.spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
