// Package matcher drains due match jobs: it claims each job, resolves the
// owning profile, runs the similarity searches the job asks for, persists
// new matches and moves the job to its next state.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/internal/search"
	"github.com/kiranshivaraju/facematch/internal/settings"
	"github.com/kiranshivaraju/facematch/internal/store"
	"github.com/kiranshivaraju/facematch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Store is the subset of the data layer the processor needs.
type Store interface {
	ClaimDueJobs(ctx context.Context, limit int) ([]*models.MatchJob, error)
	MarkProcessing(ctx context.Context, id, token uuid.UUID) (*models.MatchJob, error)
	MarkRequeued(ctx context.Context, id, token uuid.UUID, nextRunAt time.Time) error
	MarkRetry(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...store.JobUpdateOption) error
	MarkCompleted(ctx context.Context, id, token uuid.UUID, note string) error
	MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...store.JobUpdateOption) error
	ReleaseStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	InsertMatch(ctx context.Context, m models.MatchRecord) error
	InsertCelebrityMatch(ctx context.Context, m models.CelebrityMatchRecord) error
}

// stateWriteTimeout bounds the final transition of a claimed job. It runs
// outside the batch deadline so a job claimed late in the batch still leaves
// processing.
const stateWriteTimeout = 10 * time.Second

type Config struct {
	BatchSize      int
	Workers        int
	CelebrityLimit int
	RetryBackoff   time.Duration
	StaleAfter     time.Duration
	BatchTimeout   time.Duration
}

// BatchSummary is the response body of one trigger invocation.
type BatchSummary struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message"`
	ProcessedCount int          `json:"processedCount"`
	Results        []*JobResult `json:"results,omitempty"`
}

type JobResult struct {
	JobID               uuid.UUID `json:"jobId"`
	UserID              uuid.UUID `json:"userId"`
	Success             bool      `json:"success"`
	Message             string    `json:"message"`
	UserMatchCount      int       `json:"userMatchCount"`
	CelebrityMatchCount int       `json:"celebrityMatchCount"`
}

type Processor struct {
	store    Store
	gateway  search.Gateway
	settings settings.Provider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(s Store, gw search.Gateway, sp settings.Provider, cfg Config, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Processor{
		store:    s,
		gateway:  gw,
		settings: sp,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch runs one invocation. It returns an error only when the batch
// cannot start: the due jobs or the settings could not be read. Per-job
// failures are reported in the summary.
func (p *Processor) ProcessBatch(ctx context.Context) (*BatchSummary, error) {
	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.BatchTimeout)
		defer cancel()
	}

	if p.cfg.StaleAfter > 0 {
		released, err := p.store.ReleaseStaleJobs(ctx, p.cfg.StaleAfter)
		if err != nil {
			p.logger.Warn("release stale jobs failed", "error", err)
		} else if released > 0 {
			p.logger.Warn("released stale jobs", "count", released, "older_than", p.cfg.StaleAfter)
		}
	}

	jobs, err := p.store.ClaimDueJobs(ctx, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return &BatchSummary{Success: true, Message: "No pending jobs"}, nil
	}

	snapshot, err := p.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	p.logger.Info("processing match batch", "jobs", len(jobs), "workers", p.cfg.Workers,
		"threshold", snapshot.MatchThreshold, "rate_limit", snapshot.MatchRateLimit)

	now := p.now()
	policy := Policy{RequeueDelay: snapshot.RequeueDelay(), RetryBackoff: p.cfg.RetryBackoff}

	slots := make([]*JobResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			slots[i] = p.processJob(ctx, job, snapshot, policy, now)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*JobResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	if err := ctx.Err(); err != nil {
		p.logger.Warn("batch deadline reached, unclaimed jobs left for the next invocation",
			"due", len(jobs), "processed", len(results), "error", err)
	}

	return &BatchSummary{
		Success:        true,
		Message:        fmt.Sprintf("Processed %d jobs", len(results)),
		ProcessedCount: len(results),
		Results:        results,
	}, nil
}

// processJob returns nil when the job was not claimed: another invocation
// got it first, it is no longer due, or the batch ran out of time.
func (p *Processor) processJob(ctx context.Context, queued *models.MatchJob, snapshot models.Settings, policy Policy, now time.Time) *JobResult {
	logger := p.logger.With("job_id", queued.ID, "user_id", queued.UserID)
	if ctx.Err() != nil {
		return nil
	}

	token := uuid.New()
	job, err := p.store.MarkProcessing(ctx, queued.ID, token)
	if err != nil {
		if errors.Is(err, store.ErrJobConflict) {
			logger.Debug("job already claimed or no longer due")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("mark processing failed", "error", err)
		return &JobResult{JobID: queued.ID, UserID: queued.UserID, Message: "Failed to mark as processing: " + err.Error()}
	}

	result := &JobResult{JobID: job.ID, UserID: job.UserID}
	outcome := p.runSafely(ctx, job, snapshot, result, logger)
	switch outcome.Kind {
	case OutcomeMatched:
		result.Success = true
		result.Message = "Completed successfully"
	case OutcomeStale:
		result.Success = true
		result.Message = "Face no longer default"
	default:
		result.Message = outcome.Message
	}

	tr := Decide(job, outcome, now, policy)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()
	if err := p.apply(writeCtx, job.ID, token, tr); err != nil {
		logger.Error("job state update failed", "action", tr.Action, "error", err)
		result.Success = false
		result.Message = fmt.Sprintf("%s (state update failed: %v)", result.Message, err)
		return result
	}

	logger.Info("job processed", "action", tr.Action,
		"user_matches", result.UserMatchCount, "celebrity_matches", result.CelebrityMatchCount)
	return result
}

func (p *Processor) apply(ctx context.Context, id, token uuid.UUID, tr Transition) error {
	switch tr.Action {
	case ActionRequeue:
		return p.store.MarkRequeued(ctx, id, token, tr.NextRunAt)
	case ActionRetry:
		var opts []store.JobUpdateOption
		if !tr.NextRunAt.IsZero() {
			opts = append(opts, store.WithNextRunAt(tr.NextRunAt))
		}
		return p.store.MarkRetry(ctx, id, token, tr.ErrorMessage, opts...)
	case ActionComplete:
		return p.store.MarkCompleted(ctx, id, token, tr.ErrorMessage)
	case ActionFail:
		var opts []store.JobUpdateOption
		if tr.AttemptCounted {
			opts = append(opts, store.WithAttemptCounted())
		}
		return p.store.MarkFailed(ctx, id, token, tr.ErrorMessage, opts...)
	}
	return fmt.Errorf("unknown action %s", tr.Action)
}

// runSafely turns a panic in one job into a transient outcome so the rest
// of the batch carries on.
func (p *Processor) runSafely(ctx context.Context, job *models.MatchJob, snapshot models.Settings, result *JobResult, logger *slog.Logger) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job", "panic", r, "stack", string(debug.Stack()))
			outcome = Outcome{Kind: OutcomeTransient, Message: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()
	return p.run(ctx, job, snapshot, result, logger)
}

func (p *Processor) run(ctx context.Context, job *models.MatchJob, snapshot models.Settings, result *JobResult, logger *slog.Logger) Outcome {
	profile, err := p.store.GetProfile(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{Kind: OutcomeInvalid, Message: "Profile not found"}
	}
	if err != nil {
		return Outcome{Kind: OutcomeTransient, Message: "Failed to load profile: " + err.Error()}
	}
	if !profile.Matchable() {
		return Outcome{Kind: OutcomeInvalid, Message: "User profile missing school or gender"}
	}
	if !profile.HasDefaultFace(job.FaceID) {
		return Outcome{Kind: OutcomeStale, Message: "Face no longer set as default"}
	}

	var failedInserts int

	if job.JobType.IncludesUsers() {
		faces, err := p.gateway.FindSimilarUserFaces(ctx, search.UserSearch{
			FaceID:    job.FaceID,
			School:    *profile.School,
			Gender:    *profile.Gender,
			Threshold: snapshot.MatchThreshold,
			Limit:     snapshot.MatchRateLimit,
		})
		if err != nil {
			logger.Warn("user face search failed", "error", err)
			return Outcome{Kind: OutcomeTransient, Message: "Search failed: " + err.Error()}
		}
		for _, f := range faces {
			if f.FaceID == job.FaceID {
				continue
			}
			err := p.store.InsertMatch(ctx, models.NewMatchRecord(job.FaceID, f.FaceID, f.Similarity))
			switch {
			case err == nil:
				result.UserMatchCount++
			case errors.Is(err, store.ErrDuplicateKey):
			default:
				failedInserts++
				logger.Error("insert user match failed", "face_id", f.FaceID, "error", err)
			}
		}
	}

	if job.JobType.IncludesCelebrities() {
		celebs, err := p.gateway.FindSimilarCelebrityFaces(ctx, search.CelebritySearch{
			FaceID:    job.FaceID,
			Gender:    *profile.Gender,
			Threshold: snapshot.MatchThreshold,
			Limit:     p.cfg.CelebrityLimit,
		})
		if err != nil {
			logger.Warn("celebrity search failed", "error", err)
			return Outcome{Kind: OutcomeTransient, Message: "Celebrity search failed: " + err.Error()}
		}
		for _, c := range celebs {
			err := p.store.InsertCelebrityMatch(ctx, models.CelebrityMatchRecord{
				FaceID:          job.FaceID,
				CelebrityID:     c.CelebrityID,
				SimilarityScore: c.Similarity,
			})
			switch {
			case err == nil:
				result.CelebrityMatchCount++
			case errors.Is(err, store.ErrDuplicateKey):
			default:
				failedInserts++
				logger.Error("insert celebrity match failed", "celebrity_id", c.CelebrityID, "error", err)
			}
		}
	}

	if failedInserts > 0 {
		return Outcome{Kind: OutcomeTransient, Message: fmt.Sprintf("Failed to insert %d match records", failedInserts)}
	}
	return Outcome{Kind: OutcomeMatched}
}
