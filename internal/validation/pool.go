package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cropdoc/internal/config"
	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
	"github.com/sells-group/cropdoc/internal/store"
)

// PoolConfig sizes the worker pool and its retry budget.
type PoolConfig struct {
	Workers      int
	BatchSize    int
	Lease        time.Duration
	PollInterval time.Duration
	// Retry supplies MaxAttempts and the backoff curve between claims.
	Retry resilience.RetryConfig
}

// PoolConfigFrom builds a PoolConfig from application config.
func PoolConfigFrom(cfg config.ValidationConfig) PoolConfig {
	retry := resilience.RetryPolicy(cfg.MaxAttempts,
		time.Duration(cfg.InitialBackoffMs)*time.Millisecond,
		time.Duration(cfg.MaxBackoffMs)*time.Millisecond,
	)
	return PoolConfig{
		Workers:      cfg.Workers,
		BatchSize:    cfg.BatchSize,
		Lease:        cfg.Lease,
		PollInterval: cfg.PollInterval,
		Retry:        retry,
	}
}

// Pool is a fixed set of workers draining the validation queue.
type Pool struct {
	store   store.ValidationStore
	checker *Checker
	cfg     PoolConfig
	owner   string
	wake    chan struct{}
	now     func() time.Time
	log     *zap.Logger
}

// NewPool creates a worker pool. Zero config fields take defaults.
func NewPool(st store.ValidationStore, checker *Checker, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}

	host, _ := os.Hostname()
	return &Pool{
		store:   st,
		checker: checker,
		cfg:     cfg,
		owner:   fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "validation")),
	}
}

// Wake nudges idle workers to poll immediately. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("validation pool starting",
		zap.String("owner", p.owner),
		zap.Int("workers", p.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		owner := fmt.Sprintf("%s-%d", p.owner, i)
		g.Go(func() error {
			p.loop(gctx, owner)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("validation pool stopped", zap.String("owner", p.owner))
	return err
}

func (p *Pool) loop(ctx context.Context, owner string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := p.runOnce(ctx, owner)
		if err != nil && ctx.Err() == nil {
			p.log.Error("claim validation tasks", zap.String("owner", owner), zap.Error(err))
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single batch. It returns the number of
// tasks claimed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	return p.runOnce(ctx, p.owner+"-0")
}

func (p *Pool) runOnce(ctx context.Context, owner string) (int, error) {
	tasks, err := p.store.ClaimTasks(ctx, owner, p.cfg.Lease, p.now(), p.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "validation: claim tasks")
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		p.process(ctx, task)
	}
	return len(tasks), nil
}

// process runs one claimed task to an outcome. Lost leases and failed store
// writes leave the task for lease recovery.
func (p *Pool) process(ctx context.Context, task model.ValidationTask) {
	log := p.log.With(
		zap.String("intervention_id", task.InterventionID),
		zap.String("task_id", task.ID),
		zap.Int("attempt", task.Attempts),
	)

	rec, err := p.store.GetIntervention(ctx, task.InterventionID)
	if errors.Is(err, model.ErrNotFound) {
		log.Warn("task references a missing intervention, dropping")
		p.complete(ctx, task, log)
		return
	}
	if err != nil {
		p.retryLater(ctx, task, err, log)
		return
	}

	if rec.Status.Terminal() {
		log.Debug("intervention already validated, skipping", zap.String("status", string(rec.Status)))
		p.complete(ctx, task, log)
		return
	}

	if rec.Status == model.StatusPending {
		ok, err := p.store.TransitionStatus(ctx, rec.ID, model.StatusPending, model.StatusInProgress, nil)
		if err != nil {
			p.retryLater(ctx, task, err, log)
			return
		}
		if !ok && !p.stillInProgress(ctx, task, log) {
			return
		}
	}

	verdicts, err := p.checker.Run(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fail(ctx, task, verdicts, err, log)
		return
	}

	status := model.StatusValidated
	for _, v := range verdicts {
		if !v.Compliant {
			status = model.StatusFlagged
			break
		}
	}
	detail := &model.ValidationDetail{Verdicts: verdicts, Attempts: task.Attempts}
	if ok := p.finish(ctx, task, status, detail, log); ok {
		log.Info("intervention validated", zap.String("status", string(status)))
	}
}

// stillInProgress re-reads a record whose pending CAS lost. Work continues
// only when the record is in progress under a reclaimed lease.
func (p *Pool) stillInProgress(ctx context.Context, task model.ValidationTask, log *zap.Logger) bool {
	rec, err := p.store.GetIntervention(ctx, task.InterventionID)
	if err != nil {
		log.Warn("reload intervention", zap.Error(err))
		return false
	}
	switch {
	case rec.Status.Terminal():
		p.complete(ctx, task, log)
		return false
	case rec.Status == model.StatusInProgress:
		return true
	default:
		return false
	}
}

// fail reschedules a transient failure with backoff or ends validation.
func (p *Pool) fail(ctx context.Context, task model.ValidationTask, verdicts []model.CheckVerdict, err error, log *zap.Logger) {
	var failedCheck string
	var ce *CheckError
	if errors.As(err, &ce) {
		failedCheck = ce.Check
	}

	if resilience.IsTransient(err) && task.Attempts < p.cfg.Retry.MaxAttempts {
		next := p.now().Add(resilience.Backoff(task.Attempts-1, p.cfg.Retry))
		ok, rerr := p.store.RescheduleTask(ctx, task, next, err.Error())
		if rerr != nil || !ok {
			log.Warn("reschedule lost lease", zap.Bool("rescheduled", ok), zap.Error(rerr))
			return
		}
		detail := &model.ValidationDetail{Verdicts: verdicts, LastError: err.Error(), Attempts: task.Attempts}
		if _, terr := p.store.TransitionStatus(ctx, task.InterventionID, model.StatusInProgress, model.StatusPending, detail); terr != nil {
			log.Warn("reset intervention to pending", zap.Error(terr))
		}
		log.Warn("validation check failed, retrying",
			zap.String("check", failedCheck),
			zap.Time("next_retry_at", next),
			zap.Error(err),
		)
		return
	}

	detail := &model.ValidationDetail{Verdicts: verdicts, LastError: err.Error(), Attempts: task.Attempts}
	if !p.finish(ctx, task, model.StatusValidationFailed, detail, log) {
		return
	}

	now := p.now().UTC()
	entry := resilience.DLQEntry{
		InterventionID: task.InterventionID,
		Error:          err.Error(),
		ErrorType:      resilience.ClassifyError(err),
		FailedCheck:    failedCheck,
		RetryCount:     task.Attempts,
		MaxRetries:     p.cfg.Retry.MaxAttempts,
		CreatedAt:      task.CreatedAt,
		LastFailedAt:   now,
	}
	if derr := p.store.EnqueueDLQ(ctx, entry); derr != nil {
		log.Error("enqueue dead letter", zap.Error(derr))
	}
	log.Error("intervention validation failed",
		zap.String("check", failedCheck),
		zap.String("error_type", entry.ErrorType),
		zap.Error(err),
	)
}

// finish moves the record to a terminal status and deletes the task while
// the lease is still held. It reports whether this worker made the
// transition.
func (p *Pool) finish(ctx context.Context, task model.ValidationTask, status model.ValidationStatus, detail *model.ValidationDetail, log *zap.Logger) bool {
	ok, err := p.store.FinishTask(ctx, task, status, detail)
	if err != nil {
		log.Error("record validation outcome", zap.String("status", string(status)), zap.Error(err))
		return false
	}
	if !ok {
		log.Warn("lease or status moved on, outcome discarded", zap.String("status", string(status)))
	}
	return ok
}

func (p *Pool) complete(ctx context.Context, task model.ValidationTask, log *zap.Logger) {
	ok, err := p.store.CompleteTask(ctx, task)
	if err != nil {
		log.Error("complete task", zap.Error(err))
		return
	}
	if !ok {
		log.Debug("task lease moved on before completion")
	}
}

// retryLater reschedules a task after a store error without touching the
// record.
func (p *Pool) retryLater(ctx context.Context, task model.ValidationTask, cause error, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	next := p.now().Add(resilience.Backoff(task.Attempts-1, p.cfg.Retry))
	if _, err := p.store.RescheduleTask(ctx, task, next, cause.Error()); err != nil {
		log.Error("reschedule task", zap.Error(err))
	}
	log.Warn("validation deferred", zap.Error(cause))
}
