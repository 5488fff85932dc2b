package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

const (
	userSearchFunction      = "find_similar_faces_advanced"
	celebritySearchFunction = "find_celebrity_matches_advanced"
)

// RPCGateway calls the search functions through a PostgREST-style RPC
// endpoint at {baseURL}/rest/v1/rpc/{function}.
type RPCGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRPCGateway creates a new RPC search client.
func NewRPCGateway(baseURL, apiKey string, timeout time.Duration) *RPCGateway {
	return &RPCGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type userSearchParams struct {
	QueryFaceID    uuid.UUID `json:"query_face_id"`
	UserSchool     string    `json:"user_school"`
	UserGender     string    `json:"user_gender"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

type celebritySearchParams struct {
	QueryFaceID    uuid.UUID `json:"query_face_id"`
	UserGender     string    `json:"user_gender"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
	CategoryFilter *string   `json:"category_filter"`
}

// rpcCelebrity accepts both response shapes the celebrity function has
// shipped with: celebrity_id or id.
type rpcCelebrity struct {
	CelebrityID uuid.UUID `json:"celebrity_id"`
	ID          uuid.UUID `json:"id"`
	Similarity  float64   `json:"similarity"`
}

func (g *RPCGateway) FindSimilarUserFaces(ctx context.Context, q UserSearch) ([]models.SimilarFace, error) {
	params := userSearchParams{
		QueryFaceID:    q.FaceID,
		UserSchool:     q.School,
		UserGender:     q.Gender,
		MatchThreshold: q.Threshold,
		MatchCount:     q.Limit,
	}

	var raw []models.SimilarFace
	if err := g.call(ctx, userSearchFunction, params, &raw); err != nil {
		return nil, err
	}

	faces := make([]models.SimilarFace, 0, len(raw))
	for _, f := range raw {
		if f.FaceID == uuid.Nil {
			continue
		}
		faces = append(faces, f)
	}
	return faces, nil
}

func (g *RPCGateway) FindSimilarCelebrityFaces(ctx context.Context, q CelebritySearch) ([]models.SimilarCelebrity, error) {
	params := celebritySearchParams{
		QueryFaceID:    q.FaceID,
		UserGender:     q.Gender,
		MatchThreshold: q.Threshold,
		MatchCount:     q.Limit,
	}
	if q.Category != "" {
		params.CategoryFilter = &q.Category
	}

	var raw []rpcCelebrity
	if err := g.call(ctx, celebritySearchFunction, params, &raw); err != nil {
		return nil, err
	}

	celebs := make([]models.SimilarCelebrity, 0, len(raw))
	for _, c := range raw {
		id := c.CelebrityID
		if id == uuid.Nil {
			id = c.ID
		}
		// A row without either id cannot be stored.
		if id == uuid.Nil {
			continue
		}
		celebs = append(celebs, models.SimilarCelebrity{CelebrityID: id, Similarity: c.Similarity})
	}
	return celebs, nil
}

func (g *RPCGateway) call(ctx context.Context, function string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", function, err)
	}

	u := fmt.Sprintf("%s/rest/v1/rpc/%s", g.baseURL, function)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s status %d: %s", ErrGatewayError, function, resp.StatusCode, errorMessage(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrGatewayError, function, err)
	}
	return nil
}

func (g *RPCGateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
}

// errorMessage extracts the message field of an error body, falling back to
// the raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(data))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

var _ Gateway = (*RPCGateway)(nil)
