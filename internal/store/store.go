package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidReference = errors.New("referenced resource does not exist")

// ErrJobConflict is returned by a job transition whose conditional update
// matched no row: the job is gone or another invocation moved it first.
var ErrJobConflict = errors.New("job not in expected state")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	JobStore
	MatchStore
	ProfileStore
	SettingsStore
	APIKeyStore
}

// JobStore is the durable match_jobs queue. Every transition is a single
// conditional UPDATE on the expected current status, and every move out of
// processing also matches the claim token stamped by MarkProcessing, so two
// overlapping invocations can never both move the same job.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.MatchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.MatchJob, error)
	ClaimDueJobs(ctx context.Context, limit int) ([]*models.MatchJob, error)
	MarkProcessing(ctx context.Context, id, token uuid.UUID) (*models.MatchJob, error)
	MarkRequeued(ctx context.Context, id, token uuid.UUID, nextRunAt time.Time) error
	MarkRetry(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...JobUpdateOption) error
	MarkCompleted(ctx context.Context, id, token uuid.UUID, note string) error
	MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...JobUpdateOption) error
	ReleaseStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	EnqueueDefaultFaces(ctx context.Context, jobType models.JobType, maxAttempts int) (int64, error)
	JobStats(ctx context.Context) ([]models.JobStats, error)
}

// MatchStore persists confirmed matches. Inserts of an existing pair return
// ErrDuplicateKey.
type MatchStore interface {
	InsertMatch(ctx context.Context, m models.MatchRecord) error
	InsertCelebrityMatch(ctx context.Context, m models.CelebrityMatchRecord) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error)
	CreateFace(ctx context.Context, face *models.Face) error
	SetDefaultFace(ctx context.Context, profileID, faceID uuid.UUID) error
}

type SettingsStore interface {
	GetSettings(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
}

type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type jobUpdateParams struct {
	NextRunAt      *time.Time
	AttemptCounted bool
}

type JobUpdateOption func(*jobUpdateParams)

// WithNextRunAt moves a retried job's next_run_at instead of leaving it as is.
func WithNextRunAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.NextRunAt = &t
	}
}

// WithAttemptCounted makes MarkFailed record the failing attempt.
func WithAttemptCounted() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.AttemptCounted = true
	}
}

func applyJobUpdateOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}
