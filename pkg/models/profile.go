package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Profile is the subset of a user profile the matcher reads.
type Profile struct {
	ID            uuid.UUID  `db:"id"              json:"id"`
	Name          string     `db:"name"            json:"name"`
	School        *string    `db:"school"          json:"school,omitempty"`
	Gender        *string    `db:"gender"          json:"gender,omitempty"`
	DefaultFaceID *uuid.UUID `db:"default_face_id" json:"default_face_id,omitempty"`
}

// Matchable reports whether the profile carries the attributes the user
// search filters on.
func (p *Profile) Matchable() bool {
	return p.School != nil && *p.School != "" && p.Gender != nil && *p.Gender != ""
}

// HasDefaultFace reports whether faceID is the profile's selected face.
func (p *Profile) HasDefaultFace(faceID uuid.UUID) bool {
	return p.DefaultFaceID != nil && *p.DefaultFaceID == faceID
}

// EmbeddingDimensions is the length of every stored face embedding.
const EmbeddingDimensions = 512

// Face is a photo-derived biometric record. Embeddings are produced by the
// external extraction service; this service only stores and compares them.
type Face struct {
	ID        uuid.UUID        `db:"id"         json:"id"`
	ProfileID uuid.UUID        `db:"profile_id" json:"profile_id"`
	Embedding *pgvector.Vector `db:"embedding"  json:"-"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
