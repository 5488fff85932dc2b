package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/internal/api/response"
	"github.com/kiranshivaraju/facematch/internal/store"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

// JobStore is the data access the job admin endpoints need.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.MatchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.MatchJob, error)
	EnqueueDefaultFaces(ctx context.Context, jobType models.JobType, maxAttempts int) (int64, error)
	JobStats(ctx context.Context) ([]models.JobStats, error)
	GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error)
}

type createJobRequest struct {
	FaceID      string `json:"face_id"      validate:"required,uuid"`
	UserID      string `json:"user_id"      validate:"omitempty,uuid"`
	JobType     string `json:"job_type"     validate:"omitempty,oneof=user_match celebrity_match both"`
	MaxAttempts int    `json:"max_attempts" validate:"omitempty,min=1,max=20"`
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs. The owning
// user defaults to the face's profile.
func NewCreateJobHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if !decodeAndValidate(w, r, &req, false) {
			return
		}

		faceID := uuid.MustParse(req.FaceID)
		face, err := s.GetFace(r.Context(), faceID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Face not found", nil)
			return
		}
		if err != nil {
			slog.Error("get face failed", "face_id", faceID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load face", nil)
			return
		}

		userID := face.ProfileID
		if req.UserID != "" {
			userID = uuid.MustParse(req.UserID)
			if userID != face.ProfileID {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request parameters",
					map[string]string{"user_id": "does not own face"})
				return
			}
		}

		job := models.NewMatchJob(faceID, userID, models.JobType(req.JobType), req.MaxAttempts)
		if err := s.CreateJob(r.Context(), job); err != nil {
			if errors.Is(err, store.ErrInvalidReference) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Face not found", nil)
				return
			}
			slog.Error("create job failed", "face_id", faceID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		response.Created(w, job)
	}
}

type enqueueDefaultsRequest struct {
	JobType     string `json:"job_type"     validate:"omitempty,oneof=user_match celebrity_match both"`
	MaxAttempts int    `json:"max_attempts" validate:"omitempty,min=1,max=20"`
}

// NewEnqueueDefaultsHandler returns the handler for
// POST /api/v1/jobs/enqueue-defaults. The body is optional.
func NewEnqueueDefaultsHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueDefaultsRequest
		if !decodeAndValidate(w, r, &req, true) {
			return
		}

		n, err := s.EnqueueDefaultFaces(r.Context(), models.JobType(req.JobType), req.MaxAttempts)
		if err != nil {
			slog.Error("enqueue default faces failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue jobs", nil)
			return
		}

		slog.Info("enqueued default face jobs", "count", n)
		response.JSON(w, map[string]int64{"enqueued": n})
	}
}

// NewJobStatsHandler returns the handler for GET /api/v1/jobs/stats.
func NewJobStatsHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.JobStats(r.Context())
		if err != nil {
			slog.Error("job stats failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job stats", nil)
			return
		}
		if stats == nil {
			stats = []models.JobStats{}
		}
		response.JSON(w, stats)
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("get job failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, job)
	}
}
