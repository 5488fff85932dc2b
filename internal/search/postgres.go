package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

// PostgresGateway searches embeddings with pgvector's cosine distance
// operator. Similarity is 1 - distance.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

func NewPostgresGateway(pool *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{pool: pool}
}

func (g *PostgresGateway) FindSimilarUserFaces(ctx context.Context, q UserSearch) ([]models.SimilarFace, error) {
	rows, err := g.pool.Query(ctx, `
		WITH query AS (
			SELECT f.embedding, f.profile_id FROM faces f WHERE f.id = $1
		)
		SELECT f.id, f.profile_id, 1 - (f.embedding <=> query.embedding) AS similarity
		FROM faces f
		JOIN profiles p ON p.id = f.profile_id
		CROSS JOIN query
		WHERE f.embedding IS NOT NULL
		  AND query.embedding IS NOT NULL
		  AND f.profile_id <> query.profile_id
		  AND p.default_face_id = f.id
		  AND p.school = $2
		  AND p.gender = $3
		  AND 1 - (f.embedding <=> query.embedding) >= $4
		ORDER BY f.embedding <=> query.embedding
		LIMIT $5`,
		q.FaceID, q.School, q.Gender, q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	defer rows.Close()

	faces := []models.SimilarFace{}
	for rows.Next() {
		var f models.SimilarFace
		if err := rows.Scan(&f.FaceID, &f.ProfileID, &f.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrGatewayError, err)
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	return faces, nil
}

func (g *PostgresGateway) FindSimilarCelebrityFaces(ctx context.Context, q CelebritySearch) ([]models.SimilarCelebrity, error) {
	rows, err := g.pool.Query(ctx, `
		WITH query AS (
			SELECT f.embedding FROM faces f WHERE f.id = $1
		)
		SELECT c.id, 1 - (c.embedding <=> query.embedding) AS similarity
		FROM celebrities c
		CROSS JOIN query
		WHERE c.embedding IS NOT NULL
		  AND query.embedding IS NOT NULL
		  AND (c.gender IS NULL OR c.gender = $2)
		  AND ($5 = '' OR c.category = $5)
		  AND 1 - (c.embedding <=> query.embedding) >= $3
		ORDER BY c.embedding <=> query.embedding
		LIMIT $4`,
		q.FaceID, q.Gender, q.Threshold, q.Limit, q.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	defer rows.Close()

	celebs := []models.SimilarCelebrity{}
	for rows.Next() {
		var id uuid.UUID
		var sim float64
		if err := rows.Scan(&id, &sim); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrGatewayError, err)
		}
		celebs = append(celebs, models.SimilarCelebrity{CelebrityID: id, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	return celebs, nil
}

var _ Gateway = (*PostgresGateway)(nil)
