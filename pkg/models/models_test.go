package models_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestNewMatchRecord_CanonicalOrdering(t *testing.T) {
	low := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	r1 := models.NewMatchRecord(low, high, 0.8)
	r2 := models.NewMatchRecord(high, low, 0.8)

	assert.Equal(t, low, r1.FaceAID)
	assert.Equal(t, high, r1.FaceBID)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 0.8, r1.SimilarityScore)
}

func TestNewMatchRecord_RandomPairs(t *testing.T) {
	for i := 0; i < 200; i++ {
		x, y := uuid.New(), uuid.New()
		r := models.NewMatchRecord(x, y, 0.5)
		assert.Negative(t, bytes.Compare(r.FaceAID[:], r.FaceBID[:]))
		assert.ElementsMatch(t, []uuid.UUID{x, y}, []uuid.UUID{r.FaceAID, r.FaceBID})
		// String order agrees with byte order for canonical lowercase UUIDs.
		assert.Less(t, r.FaceAID.String(), r.FaceBID.String())
	}
}

func TestJobType(t *testing.T) {
	tests := []struct {
		in         models.JobType
		users      bool
		celebrites bool
	}{
		{models.JobTypeUserMatch, true, false},
		{models.JobTypeCelebrityMatch, false, true},
		{models.JobTypeBoth, true, true},
		{"", true, true},
		{"bogus", true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.users, tt.in.IncludesUsers())
			assert.Equal(t, tt.celebrites, tt.in.IncludesCelebrities())
		})
	}
}

func TestNewMatchJob_Defaults(t *testing.T) {
	job := models.NewMatchJob(uuid.New(), uuid.New(), "", 0)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeBoth, job.JobType)
	assert.Equal(t, models.DefaultMaxAttempts, job.MaxAttempts)
	assert.Zero(t, job.Attempts)
	assert.False(t, job.NextRunAt.IsZero())
}

func TestProfile_Matchable(t *testing.T) {
	school, gender, empty := "Columbia", "female", ""
	assert.True(t, (&models.Profile{School: &school, Gender: &gender}).Matchable())
	assert.False(t, (&models.Profile{School: &school}).Matchable())
	assert.False(t, (&models.Profile{School: &empty, Gender: &gender}).Matchable())
}

func TestProfile_HasDefaultFace(t *testing.T) {
	face := uuid.New()
	assert.True(t, (&models.Profile{DefaultFaceID: &face}).HasDefaultFace(face))
	assert.False(t, (&models.Profile{DefaultFaceID: &face}).HasDefaultFace(uuid.New()))
	assert.False(t, (&models.Profile{}).HasDefaultFace(face))
}
