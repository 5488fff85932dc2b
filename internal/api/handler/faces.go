package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/internal/api/response"
	"github.com/kiranshivaraju/facematch/internal/store"
	"github.com/kiranshivaraju/facematch/pkg/models"
	"github.com/pgvector/pgvector-go"
)

// FaceStore is the data access face registration needs.
type FaceStore interface {
	CreateFace(ctx context.Context, face *models.Face) error
	SetDefaultFace(ctx context.Context, profileID, faceID uuid.UUID) error
	CreateJob(ctx context.Context, job *models.MatchJob) error
}

// len must equal models.EmbeddingDimensions.
type createFaceRequest struct {
	ProfileID   string    `json:"profile_id"   validate:"required,uuid"`
	Embedding   []float32 `json:"embedding"    validate:"required,len=512"`
	MakeDefault bool      `json:"make_default"`
	JobType     string    `json:"job_type"     validate:"omitempty,oneof=user_match celebrity_match both"`
	MaxAttempts int       `json:"max_attempts" validate:"omitempty,min=1,max=20"`
}

type createFaceResponse struct {
	Face *models.Face     `json:"face"`
	Job  *models.MatchJob `json:"job"`
}

// NewCreateFaceHandler returns the handler for POST /api/v1/faces. It stores
// an embedding from the extraction service, optionally makes it the
// profile's default face, and enqueues the face's first match job.
func NewCreateFaceHandler(s FaceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFaceRequest
		if !decodeAndValidate(w, r, &req, false) {
			return
		}

		vec := pgvector.NewVector(req.Embedding)
		face := &models.Face{
			ID:        uuid.New(),
			ProfileID: uuid.MustParse(req.ProfileID),
			Embedding: &vec,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.CreateFace(r.Context(), face); err != nil {
			if errors.Is(err, store.ErrInvalidReference) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Profile not found", nil)
				return
			}
			slog.Error("create face failed", "profile_id", face.ProfileID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create face", nil)
			return
		}

		if req.MakeDefault {
			if err := s.SetDefaultFace(r.Context(), face.ProfileID, face.ID); err != nil {
				slog.Error("set default face failed", "profile_id", face.ProfileID, "face_id", face.ID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to set default face", nil)
				return
			}
		}

		job := models.NewMatchJob(face.ID, face.ProfileID, models.JobType(req.JobType), req.MaxAttempts)
		if err := s.CreateJob(r.Context(), job); err != nil {
			slog.Error("create job failed", "face_id", face.ID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue match job", nil)
			return
		}

		slog.Info("face registered", "face_id", face.ID, "profile_id", face.ProfileID, "job_id", job.ID)
		response.Created(w, createFaceResponse{Face: face, Job: job})
	}
}
