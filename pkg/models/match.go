package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// MatchRecord is a confirmed user-to-user similarity. FaceAID always sorts
// before FaceBID so an unordered pair maps to exactly one row.
type MatchRecord struct {
	FaceAID         uuid.UUID `db:"face_a_id"        json:"face_a_id"`
	FaceBID         uuid.UUID `db:"face_b_id"        json:"face_b_id"`
	SimilarityScore float64   `db:"similarity_score" json:"similarity_score"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// NewMatchRecord orders x and y by their byte representation, which is the
// same order Postgres applies to uuid columns.
func NewMatchRecord(x, y uuid.UUID, score float64) MatchRecord {
	a, b := x, y
	if bytes.Compare(y[:], x[:]) < 0 {
		a, b = y, x
	}
	return MatchRecord{FaceAID: a, FaceBID: b, SimilarityScore: score}
}

// CelebrityMatchRecord is a confirmed user-to-celebrity similarity, unique on
// (FaceID, CelebrityID).
type CelebrityMatchRecord struct {
	FaceID          uuid.UUID `db:"face_id"          json:"face_id"`
	CelebrityID     uuid.UUID `db:"celebrity_id"     json:"celebrity_id"`
	SimilarityScore float64   `db:"similarity_score" json:"similarity_score"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// SimilarFace is one ranked candidate returned by the user-face search.
type SimilarFace struct {
	FaceID     uuid.UUID `json:"face_id"`
	ProfileID  uuid.UUID `json:"profile_id"`
	Similarity float64   `json:"similarity"`
}

// SimilarCelebrity is one ranked candidate returned by the celebrity search.
type SimilarCelebrity struct {
	CelebrityID uuid.UUID `json:"celebrity_id"`
	Similarity  float64   `json:"similarity"`
}
