// Package scheduler is the in-process trigger: it invokes the match batch on
// a cron schedule, as an alternative to an external cron hitting the HTTP
// trigger endpoint.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/kiranshivaraju/facematch/internal/cache"
	"github.com/kiranshivaraju/facematch/internal/matcher"
)

const jobTag = "match-generator"

type Runner interface {
	ProcessBatch(ctx context.Context) (*matcher.BatchSummary, error)
}

// Locker guards a batch across replicas. A nil Locker means this process is
// the only trigger.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Trigger struct {
	scheduler *gocron.Scheduler
	runner    Runner
	locker    Locker
	lockTTL   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	job     *gocron.Job
}

// New registers the batch on cronExpr. SingletonModeAll keeps a slow batch
// from overlapping the next tick within this process.
func New(cronExpr string, runner Runner, locker Locker, lockTTL time.Duration, logger *slog.Logger) (*Trigger, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	t := &Trigger{
		scheduler: s,
		runner:    runner,
		locker:    locker,
		lockTTL:   lockTTL,
		logger:    logger,
	}

	job, err := s.Cron(cronExpr).Tag(jobTag).Do(func() {
		t.RunOnce(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	t.job = job
	return t, nil
}

func (t *Trigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.logger.Warn("scheduler is already running")
		return
	}
	t.scheduler.StartAsync()
	t.running = true
	t.logger.Info("scheduler started", "job", jobTag, "next_run", t.job.NextRun())
}

// Stop waits for a running batch to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.scheduler.Stop()
	t.running = false
	t.logger.Info("scheduler stopped")
}

func (t *Trigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Trigger) NextRun() time.Time {
	return t.job.NextRun()
}

// RunOnce executes one batch unless another replica holds the batch lock.
// Lock errors fail open: the job store's conditional claims still prevent
// double processing.
func (t *Trigger) RunOnce(ctx context.Context) {
	if t.locker != nil {
		token, ok, err := t.locker.TryLock(ctx, cache.BatchLockKey, t.lockTTL)
		switch {
		case err != nil:
			t.logger.Warn("batch lock unavailable, running anyway", "error", err)
		case !ok:
			t.logger.Debug("batch already running elsewhere, skipping tick")
			return
		default:
			defer func() {
				if err := t.locker.Unlock(context.WithoutCancel(ctx), cache.BatchLockKey, token); err != nil {
					t.logger.Warn("release batch lock failed", "error", err)
				}
			}()
		}
	}

	start := time.Now()
	summary, err := t.runner.ProcessBatch(ctx)
	if err != nil {
		t.logger.Error("scheduled match batch failed", "error", err)
		return
	}
	t.logger.Info("scheduled match batch finished",
		"processed", summary.ProcessedCount,
		"duration_ms", time.Since(start).Milliseconds())
}
