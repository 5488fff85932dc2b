package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- helpers ---

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestGateway(t *testing.T, baseURL string) *RPCGateway {
	t.Helper()
	return NewRPCGateway(baseURL, "service-key", 5*time.Second)
}

// --- FindSimilarUserFaces ---

func TestFindSimilarUserFaces_ValidResponse(t *testing.T) {
	faceID := uuid.New()
	matchID := uuid.New()
	profileID := uuid.New()

	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/find_similar_faces_advanced" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("apikey") != "service-key" {
			t.Errorf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("unexpected authorization: %s", r.Header.Get("Authorization"))
		}

		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if params["query_face_id"] != faceID.String() {
			t.Errorf("unexpected query_face_id: %v", params["query_face_id"])
		}
		if params["user_school"] != "Columbia" || params["user_gender"] != "female" {
			t.Errorf("unexpected filters: %v", params)
		}
		if params["match_threshold"] != 0.5 || params["match_count"] != float64(2) {
			t.Errorf("unexpected threshold/count: %v", params)
		}

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"face_id": matchID, "profile_id": profileID, "similarity": 0.93},
		})
	})

	faces, err := newTestGateway(t, ts.URL).FindSimilarUserFaces(context.Background(), UserSearch{
		FaceID: faceID, School: "Columbia", Gender: "female", Threshold: 0.5, Limit: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].FaceID != matchID || faces[0].ProfileID != profileID || faces[0].Similarity != 0.93 {
		t.Errorf("unexpected face: %+v", faces[0])
	}
}

func TestFindSimilarUserFaces_NullResponse(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	})

	faces, err := newTestGateway(t, ts.URL).FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if faces == nil || len(faces) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", faces)
	}
}

func TestFindSimilarUserFaces_ErrorStatus(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"function does not exist"}`))
	})

	_, err := newTestGateway(t, ts.URL).FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if !errors.Is(err, ErrGatewayError) {
		t.Fatalf("expected ErrGatewayError, got %v", err)
	}
	if want := "function does not exist"; !strings.Contains(err.Error(), want) {
		t.Errorf("expected error to contain %q, got %q", want, err.Error())
	}
}

func TestFindSimilarUserFaces_MalformedJSON(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := newTestGateway(t, ts.URL).FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if !errors.Is(err, ErrGatewayError) {
		t.Fatalf("expected ErrGatewayError, got %v", err)
	}
}

func TestFindSimilarUserFaces_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestGateway(t, url).FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if !errors.Is(err, ErrGatewayUnreachable) {
		t.Fatalf("expected ErrGatewayUnreachable, got %v", err)
	}
}

func TestFindSimilarUserFaces_Timeout(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	g := NewRPCGateway(ts.URL, "service-key", 50*time.Millisecond)
	_, err := g.FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("expected ErrGatewayTimeout, got %v", err)
	}
}

// --- FindSimilarCelebrityFaces ---

func TestFindSimilarCelebrityFaces_ValidResponse(t *testing.T) {
	celebA := uuid.New()
	celebB := uuid.New()

	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/find_celebrity_matches_advanced" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if v, ok := params["category_filter"]; !ok || v != nil {
			t.Errorf("expected explicit null category_filter, got %v", v)
		}
		if _, ok := params["user_school"]; ok {
			t.Errorf("celebrity search must not send user_school")
		}

		// One row uses celebrity_id, the other the older id field.
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"celebrity_id": celebA, "similarity": 0.81},
			{"id": celebB, "similarity": 0.64},
		})
	})

	celebs, err := newTestGateway(t, ts.URL).FindSimilarCelebrityFaces(context.Background(), CelebritySearch{
		FaceID: uuid.New(), Gender: "male", Threshold: 0.5, Limit: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(celebs) != 2 {
		t.Fatalf("expected 2 celebrities, got %d", len(celebs))
	}
	if celebs[0].CelebrityID != celebA || celebs[1].CelebrityID != celebB {
		t.Errorf("unexpected celebrity ids: %+v", celebs)
	}
}

func TestFindSimilarCelebrityFaces_DropsRowsWithoutID(t *testing.T) {
	celeb := uuid.New()
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"similarity": 0.9},
			{"celebrity_id": celeb, "similarity": 0.7},
		})
	})

	celebs, err := newTestGateway(t, ts.URL).FindSimilarCelebrityFaces(context.Background(), CelebritySearch{
		FaceID: uuid.New(), Gender: "female", Threshold: 0.5, Limit: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(celebs) != 1 || celebs[0].CelebrityID != celeb {
		t.Errorf("expected only %s, got %+v", celeb, celebs)
	}
}

func TestFindSimilarUserFaces_DropsRowsWithoutFaceID(t *testing.T) {
	face := uuid.New()
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"profile_id": uuid.New(), "similarity": 0.9},
			{"face_id": face, "profile_id": uuid.New(), "similarity": 0.7},
		})
	})

	faces, err := newTestGateway(t, ts.URL).FindSimilarUserFaces(context.Background(), UserSearch{
		FaceID: uuid.New(), School: "NYU", Gender: "female", Threshold: 0.5, Limit: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 1 || faces[0].FaceID != face {
		t.Errorf("expected only %s, got %+v", face, faces)
	}
}

func TestNewRPCGateway_TrimsTrailingSlash(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/find_similar_faces_advanced" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("[]"))
	})

	_, err := newTestGateway(t, ts.URL+"/").FindSimilarUserFaces(context.Background(), UserSearch{FaceID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindSimilarCelebrityFaces_CategoryFilter(t *testing.T) {
	ts := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		if params["category_filter"] != "actors" {
			t.Errorf("unexpected category_filter: %v", params["category_filter"])
		}
		_, _ = w.Write([]byte("[]"))
	})

	celebs, err := newTestGateway(t, ts.URL).FindSimilarCelebrityFaces(context.Background(), CelebritySearch{
		FaceID: uuid.New(), Gender: "female", Limit: 20, Category: "actors",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(celebs) != 0 {
		t.Errorf("expected no celebrities, got %d", len(celebs))
	}
}

// --- classifyError ---

func TestClassifyError_ContextDeadline(t *testing.T) {
	err := classifyError(context.DeadlineExceeded)
	if !errors.Is(err, ErrGatewayTimeout) {
		t.Errorf("expected ErrGatewayTimeout, got %v", err)
	}
}

func TestClassifyError_Generic(t *testing.T) {
	err := classifyError(errors.New("connection reset"))
	if !errors.Is(err, ErrGatewayUnreachable) {
		t.Errorf("expected ErrGatewayUnreachable, got %v", err)
	}
}
