// Package search finds stored faces whose embeddings are similar to a query
// face. Two gateways exist: a native pgvector query against the local
// database and an HTTP client for a hosted RPC endpoint exposing the same
// search functions.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/facematch/internal/config"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

// Sentinel errors for gateway failures. All of them are transient from the
// processor's point of view.
var (
	ErrGatewayUnreachable = errors.New("search gateway unreachable")
	ErrGatewayError       = errors.New("search gateway error")
	ErrGatewayTimeout     = errors.New("search gateway timeout")
)

// Gateway runs similarity searches. Results are ordered by descending
// similarity and never include candidates below the threshold.
type Gateway interface {
	FindSimilarUserFaces(ctx context.Context, q UserSearch) ([]models.SimilarFace, error)
	FindSimilarCelebrityFaces(ctx context.Context, q CelebritySearch) ([]models.SimilarCelebrity, error)
}

// UserSearch looks for faces of other users at the same school with the same gender.
type UserSearch struct {
	FaceID    uuid.UUID
	School    string
	Gender    string
	Threshold float64
	Limit     int
}

// CelebritySearch looks for celebrities of the same gender. Celebrities with
// no recorded gender match every query. An empty Category searches all.
type CelebritySearch struct {
	FaceID    uuid.UUID
	Gender    string
	Threshold float64
	Limit     int
	Category  string
}

// New builds the gateway selected by cfg.Gateway.
func New(cfg config.SearchConfig, pool *pgxpool.Pool) (Gateway, error) {
	switch cfg.Gateway {
	case "postgres":
		return NewPostgresGateway(pool), nil
	case "rpc":
		return NewRPCGateway(cfg.RPCURL, cfg.RPCKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported search gateway: %q", cfg.Gateway)
	}
}
