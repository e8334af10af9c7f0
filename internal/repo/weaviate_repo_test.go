package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/incident-rca/internal/cache"
	"github.com/miradorstack/incident-rca/internal/models"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

const fingerprintGraphQL = `{"data":{"Get":{"IncidentFingerprint":[
 {"incidentId":"inc-7","title":"payments outage","summary":"db pool","rootCause":"dependency","categories":["dependency"],"sources":["payments-service"],"severityProfile":"{\"detection\":[0,0,0,1]}","occurredAt":"2024-01-02T15:04:05Z"},
 {"title":"missing id"}
]}}}`

func TestSimilarFingerprintsNoEndpoint(t *testing.T) {
	r := NewWeaviateRepo(WeaviateConfig{}, cache.NoopProvider{}, nil)
	_, err := r.SimilarFingerprints(context.Background(), models.Fingerprint{}, 5)
	if !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}

func TestStoreFingerprintNoEndpoint(t *testing.T) {
	r := NewWeaviateRepo(WeaviateConfig{}, nil, nil)
	err := r.StoreFingerprint(context.Background(), models.HistoricalIncident{IncidentID: "inc-1"})
	if !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}

func TestSimilarFingerprintsDecodesAndCaches(t *testing.T) {
	var hits int
	var query string
	cacheStub := newStubCache()
	r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test/", CacheTTL: time.Minute}, cacheStub, nil)
	r.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		query = body["query"]
		return jsonResponse(http.StatusOK, fingerprintGraphQL), nil
	}))

	fp := models.Fingerprint{IncidentID: "inc-9", Categories: []string{"dependency"}, Sources: []string{"payments-service", "db"}}
	ctx := context.Background()
	first, err := r.SimilarFingerprints(ctx, fp, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream call, got %d", hits)
	}
	if !strings.Contains(query, "IncidentFingerprint(") || !strings.Contains(query, `valueText: ["dependency"]`) {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(first) != 1 {
		t.Fatalf("expected malformed record to be skipped, got %+v", first)
	}
	got := first[0]
	if got.IncidentID != "inc-7" || got.Fingerprint.SeverityProfile[models.PhaseDetection][3] != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("expected occurredAt to be parsed")
	}

	reordered := models.Fingerprint{IncidentID: "inc-9", Categories: []string{"dependency"}, Sources: []string{"db", "payments-service"}}
	second, err := r.SimilarFingerprints(ctx, reordered, 10)
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(second) != 1 || second[0].IncidentID != "inc-7" {
		t.Fatalf("unexpected cached payload: %+v", second)
	}
}

func TestSimilarFingerprintsPropagatesFailures(t *testing.T) {
	cases := map[string]*http.Response{
		"status":  jsonResponse(http.StatusServiceUnavailable, "down"),
		"graphql": jsonResponse(http.StatusOK, `{"errors":[{"message":"class not found"}]}`),
		"decode":  jsonResponse(http.StatusOK, `not json`),
	}
	for name, resp := range cases {
		resp := resp
		t.Run(name, func(t *testing.T) {
			cacheStub := newStubCache()
			r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test", CacheTTL: time.Minute}, cacheStub, nil)
			r.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
				return resp, nil
			}))
			out, err := r.SimilarFingerprints(context.Background(), models.Fingerprint{Categories: []string{"dependency"}}, 5)
			if err == nil {
				t.Fatalf("expected error, got %+v", out)
			}
			if cacheStub.sets != 0 {
				t.Fatalf("failures must not be cached")
			}
		})
	}
}

func TestStoreFingerprintPutsObject(t *testing.T) {
	var payload map[string]any
	r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test", APIKey: "secret"}, nil, nil)
	r.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPut || req.URL.Path != "/v1/objects/IncidentFingerprint/"+ObjectID("inc-1") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, `{}`), nil
	}))

	incident := models.HistoricalIncident{
		IncidentID: "inc-1",
		Title:      "Dependency failure in db",
		Fingerprint: models.Fingerprint{
			Categories:      []string{"dependency"},
			SeverityProfile: map[models.Phase]models.SeverityHistogram{models.PhaseDetection: {0, 0, 0, 1}},
		},
		OccurredAt: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
	}
	if err := r.StoreFingerprint(context.Background(), incident); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["class"] != DefaultFingerprintClass || payload["id"] != ObjectID("inc-1") {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	props := payload["properties"].(map[string]any)
	if props["occurredAt"] != "2024-01-02T15:04:05Z" || props["severityProfile"] != `{"detection":[0,0,0,1]}` {
		t.Fatalf("unexpected properties: %+v", props)
	}
	if sources, ok := props["sources"].([]any); !ok || len(sources) != 0 {
		t.Fatalf("expected empty sources array, got %#v", props["sources"])
	}
}

func TestStoreFingerprintSurfacesRejection(t *testing.T) {
	r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test"}, nil, nil)
	r.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, `{"error":"invalid"}`), nil
	}))
	err := r.StoreFingerprint(context.Background(), models.HistoricalIncident{IncidentID: "inc-1"})
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected upstream message in error, got %v", err)
	}
}

// fakeObjectServer mimics Weaviate object semantics: POST rejects existing IDs,
// PUT answers 404 for unknown ones.
type fakeObjectServer struct {
	objects map[string]map[string]any
	calls   []string
}

func (f *fakeObjectServer) roundTrip(req *http.Request) (*http.Response, error) {
	f.calls = append(f.calls, req.Method+" "+req.URL.Path)
	var payload map[string]any
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		return jsonResponse(http.StatusBadRequest, `{"error":"bad json"}`), nil
	}
	id, _ := payload["id"].(string)
	_, exists := f.objects[id]
	switch {
	case req.Method == http.MethodPost && req.URL.Path == "/v1/objects":
		if exists {
			return jsonResponse(http.StatusUnprocessableEntity, `{"error":"id already exists"}`), nil
		}
	case req.Method == http.MethodPut && strings.HasSuffix(req.URL.Path, "/"+id):
		if !exists {
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	default:
		return jsonResponse(http.StatusMethodNotAllowed, ``), nil
	}
	f.objects[id] = payload
	return jsonResponse(http.StatusOK, `{}`), nil
}

func TestStoreFingerprintTwiceReplacesObject(t *testing.T) {
	server := &fakeObjectServer{objects: map[string]map[string]any{}}
	r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test"}, nil, nil)
	r.httpClient = newTestClient(server.roundTrip)

	ctx := context.Background()
	if err := r.StoreFingerprint(ctx, models.HistoricalIncident{IncidentID: "inc-1", Title: "first"}); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := r.StoreFingerprint(ctx, models.HistoricalIncident{IncidentID: "inc-1", Title: "second"}); err != nil {
		t.Fatalf("second store: %v", err)
	}

	objectPath := "/v1/objects/IncidentFingerprint/" + ObjectID("inc-1")
	want := []string{"PUT " + objectPath, "POST /v1/objects", "PUT " + objectPath}
	if strings.Join(server.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls: %v", server.calls)
	}
	if len(server.objects) != 1 {
		t.Fatalf("expected a single object, got %d", len(server.objects))
	}
	props := server.objects[ObjectID("inc-1")]["properties"].(map[string]any)
	if props["title"] != "second" {
		t.Fatalf("expected object to be replaced, got %+v", props)
	}
}

func TestStoreFingerprintInvalidatesCachedLookups(t *testing.T) {
	var graphqlHits int
	server := &fakeObjectServer{objects: map[string]map[string]any{}}
	r := NewWeaviateRepo(WeaviateConfig{Endpoint: "https://weaviate.test", CacheTTL: time.Minute}, newStubCache(), nil)
	r.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/v1/graphql" {
			graphqlHits++
			return jsonResponse(http.StatusOK, fingerprintGraphQL), nil
		}
		return server.roundTrip(req)
	}))

	ctx := context.Background()
	fp := models.Fingerprint{Categories: []string{"dependency"}}
	for i := 0; i < 2; i++ {
		if _, err := r.SimilarFingerprints(ctx, fp, 5); err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	if graphqlHits != 1 {
		t.Fatalf("expected cached second lookup, hits=%d", graphqlHits)
	}

	if err := r.StoreFingerprint(ctx, models.HistoricalIncident{IncidentID: "inc-8"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := r.SimilarFingerprints(ctx, fp, 5); err != nil {
		t.Fatalf("lookup after store: %v", err)
	}
	if graphqlHits != 2 {
		t.Fatalf("expected store to invalidate cached lookups, hits=%d", graphqlHits)
	}
}

func TestObjectIDIsStable(t *testing.T) {
	if ObjectID("inc-1") != ObjectID("inc-1") || ObjectID("inc-1") == ObjectID("inc-2") {
		t.Fatalf("object ids must be deterministic per incident")
	}
}
