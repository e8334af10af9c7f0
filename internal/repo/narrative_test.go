package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/incident-rca/internal/models"
)

func TestNarrativeClientRecommend(t *testing.T) {
	hits := 0
	client := NewNarrativeClient("https://narrative.test/base", "/api/v1/recommendations", time.Second, nil)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/base/api/v1/recommendations" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body models.RecommendationRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.IncidentID != "inc-1" || body.Category != models.CategoryDependency {
			t.Fatalf("unexpected request body: %+v", body)
		}
		return jsonResponse(http.StatusOK, `{"recommendations":["Fail over the database","  ","Review pool sizing"]}`), nil
	}))

	recs, err := client.Recommend(context.Background(), models.RecommendationRequest{
		IncidentID: "inc-1",
		Category:   models.CategoryDependency,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream request, got %d", hits)
	}
	if len(recs) != 2 || recs[0] != "Fail over the database" {
		t.Fatalf("unexpected recommendations: %+v", recs)
	}
}

func TestNarrativeClientErrors(t *testing.T) {
	unconfigured := NewNarrativeClient("", "/recommend", time.Second, nil)
	if _, err := unconfigured.Recommend(context.Background(), models.RecommendationRequest{}); err == nil {
		t.Fatalf("expected error for missing base URL")
	}

	client := NewNarrativeClient("https://narrative.test", "recommend", time.Second, nil)
	client.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, "upstream"), nil
	}))
	if _, err := client.Recommend(context.Background(), models.RecommendationRequest{IncidentID: "inc-1"}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
