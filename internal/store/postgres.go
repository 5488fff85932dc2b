package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Match Jobs ---

const jobColumns = `id, face_id, user_id, status, job_type, attempts, max_attempts, next_run_at,
	error_message, started_at, completed_at, created_at, updated_at, claim_token`

func scanJob(row pgx.Row) (*models.MatchJob, error) {
	var j models.MatchJob
	var status, jobType string
	err := row.Scan(&j.ID, &j.FaceID, &j.UserID, &status, &jobType, &j.Attempts, &j.MaxAttempts,
		&j.NextRunAt, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt, &j.ClaimToken)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.JobType = models.JobType(jobType)
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.MatchJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO match_jobs (id, face_id, user_id, status, job_type, attempts, max_attempts, next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.FaceID, job.UserID, string(job.Status), string(job.JobType.Normalize()),
		job.Attempts, job.MaxAttempts, job.NextRunAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrInvalidReference
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.MatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM match_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimDueJobs returns up to limit pending jobs whose next_run_at has passed,
// earliest-scheduled and oldest-created first. The rows are not locked; the
// caller owns a job only after MarkProcessing succeeds.
func (s *PostgresStore) ClaimDueJobs(ctx context.Context, limit int) ([]*models.MatchJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM match_jobs
		 WHERE status = 'pending' AND next_run_at <= NOW()
		 ORDER BY next_run_at ASC, created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing is the claim. It succeeds only while the job is pending and
// due, stamps token as the holder and returns the row as claimed. A job that
// another invocation claimed, or requeued into the future, is ErrJobConflict.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id, token uuid.UUID) (*models.MatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE match_jobs SET status = 'processing', claim_token = $2, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND next_run_at <= NOW()
		 RETURNING `+jobColumns, id, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobConflict
	}
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkRequeued(ctx context.Context, id, token uuid.UUID, nextRunAt time.Time) error {
	return s.transition(ctx, "mark requeued",
		`UPDATE match_jobs SET status = 'pending', claim_token = NULL, next_run_at = $3, error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND claim_token = $2`, id, token, nextRunAt)
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...JobUpdateOption) error {
	params := applyJobUpdateOptions(opts)
	return s.transition(ctx, "mark retry",
		`UPDATE match_jobs SET status = 'pending', claim_token = NULL, attempts = attempts + 1, error_message = $3,
		   next_run_at = COALESCE($4::timestamptz, next_run_at), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND claim_token = $2`, id, token, errMsg, params.NextRunAt)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, token uuid.UUID, note string) error {
	return s.transition(ctx, "mark completed",
		`UPDATE match_jobs SET status = 'completed', claim_token = NULL, completed_at = NOW(),
		   error_message = NULLIF($3, ''), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND claim_token = $2`, id, token, note)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg string, opts ...JobUpdateOption) error {
	params := applyJobUpdateOptions(opts)
	increment := 0
	if params.AttemptCounted {
		increment = 1
	}
	return s.transition(ctx, "mark failed",
		`UPDATE match_jobs SET status = 'failed', claim_token = NULL, attempts = attempts + $4, completed_at = NOW(),
		   error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND claim_token = $2`, id, token, errMsg, increment)
}

// transition runs a conditional status update and reports ErrJobConflict
// when no row was in the expected state under the caller's claim.
func (s *PostgresStore) transition(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobConflict
	}
	return nil
}

// ReleaseStaleJobs returns jobs stuck in processing for longer than olderThan
// to the queue without consuming an attempt. Clearing the claim token means a
// late write from the original holder conflicts instead of landing.
func (s *PostgresStore) ReleaseStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE match_jobs SET status = 'pending', claim_token = NULL,
		   error_message = 'released after stale processing', updated_at = NOW()
		 WHERE status = 'processing' AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnqueueDefaultFaces creates one due job for every profile's default face
// that has an embedding and no pending or processing job.
func (s *PostgresStore) EnqueueDefaultFaces(ctx context.Context, jobType models.JobType, maxAttempts int) (int64, error) {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO match_jobs (face_id, user_id, job_type, max_attempts)
		 SELECT f.id, p.id, $1, $2
		 FROM profiles p
		 JOIN faces f ON f.id = p.default_face_id
		 WHERE f.embedding IS NOT NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM match_jobs j
		     WHERE j.face_id = f.id AND j.status IN ('pending', 'processing'))`,
		string(jobType.Normalize()), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("enqueue default faces: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) JobStats(ctx context.Context) ([]models.JobStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), MIN(created_at) FROM match_jobs GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := []models.JobStats{}
	for rows.Next() {
		var st models.JobStats
		var status string
		if err := rows.Scan(&status, &st.Count, &st.OldestJob); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		st.Status = models.JobStatus(status)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// --- Matches ---

func (s *PostgresStore) InsertMatch(ctx context.Context, m models.MatchRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO matches (face_a_id, face_b_id, similarity_score) VALUES ($1, $2, $3)`,
		m.FaceAID, m.FaceBID, m.SimilarityScore)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCelebrityMatch(ctx context.Context, m models.CelebrityMatchRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO celebrity_matches (face_id, celebrity_id, similarity_score) VALUES ($1, $2, $3)`,
		m.FaceID, m.CelebrityID, m.SimilarityScore)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert celebrity match: %w", err)
	}
	return nil
}

// --- Profiles and Faces ---

func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, school, gender, default_face_id FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.School, &p.Gender, &p.DefaultFaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	var f models.Face
	err := s.pool.QueryRow(ctx,
		`SELECT id, profile_id, embedding, created_at FROM faces WHERE id = $1`, id,
	).Scan(&f.ID, &f.ProfileID, &f.Embedding, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get face: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) CreateFace(ctx context.Context, face *models.Face) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO faces (id, profile_id, embedding, created_at) VALUES ($1, $2, $3, $4)`,
		face.ID, face.ProfileID, face.Embedding, face.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrInvalidReference
		}
		return fmt.Errorf("create face: %w", err)
	}
	return nil
}

// SetDefaultFace selects one of the profile's own faces as its default.
func (s *PostgresStore) SetDefaultFace(ctx context.Context, profileID, faceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET default_face_id = $2, updated_at = NOW()
		 WHERE id = $1 AND EXISTS (SELECT 1 FROM faces WHERE id = $2 AND profile_id = $1)`,
		profileID, faceID)
	if err != nil {
		return fmt.Errorf("set default face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM system_settings WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage, len(keys))
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		values[key] = json.RawMessage(raw)
	}
	return values, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
