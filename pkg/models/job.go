package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a MatchJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType selects which similarity searches a job runs.
type JobType string

const (
	JobTypeUserMatch      JobType = "user_match"
	JobTypeCelebrityMatch JobType = "celebrity_match"
	JobTypeBoth           JobType = "both"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeUserMatch, JobTypeCelebrityMatch, JobTypeBoth:
		return true
	}
	return false
}

// Normalize maps an empty or unknown type to JobTypeBoth.
func (t JobType) Normalize() JobType {
	if !t.Valid() {
		return JobTypeBoth
	}
	return t
}

func (t JobType) IncludesUsers() bool {
	t = t.Normalize()
	return t == JobTypeUserMatch || t == JobTypeBoth
}

func (t JobType) IncludesCelebrities() bool {
	t = t.Normalize()
	return t == JobTypeCelebrityMatch || t == JobTypeBoth
}

const DefaultMaxAttempts = 3

// MatchJob is one scheduled "compute matches for this face" task. Successful
// jobs are requeued with a later NextRunAt rather than deleted, so the same
// row drives continuous re-matching as new users join.
type MatchJob struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	FaceID       uuid.UUID  `db:"face_id"       json:"face_id"`
	UserID       uuid.UUID  `db:"user_id"       json:"user_id"`
	Status       JobStatus  `db:"status"        json:"status"`
	JobType      JobType    `db:"job_type"      json:"job_type"`
	Attempts     int        `db:"attempts"      json:"attempts"`
	MaxAttempts  int        `db:"max_attempts"  json:"max_attempts"`
	NextRunAt    time.Time  `db:"next_run_at"   json:"next_run_at"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`

	// ClaimToken identifies the invocation holding a processing job. Only
	// that holder can move the job out of processing.
	ClaimToken *uuid.UUID `db:"claim_token" json:"-"`
}

// NewMatchJob builds a pending job that is due immediately.
func NewMatchJob(faceID, userID uuid.UUID, jobType JobType, maxAttempts int) *MatchJob {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	return &MatchJob{
		ID:          uuid.New(),
		FaceID:      faceID,
		UserID:      userID,
		Status:      JobStatusPending,
		JobType:     jobType.Normalize(),
		MaxAttempts: maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobStats is the per-status view of the queue.
type JobStats struct {
	Status    JobStatus  `json:"status"`
	Count     int        `json:"count"`
	OldestJob *time.Time `json:"oldest_job,omitempty"`
}
