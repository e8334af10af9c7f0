package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/repo"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// object mirrors the properties the fingerprint store writes.
type object struct {
	IncidentID      string   `json:"incidentId"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	RootCause       string   `json:"rootCause"`
	Categories      []string `json:"categories"`
	Sources         []string `json:"sources"`
	SeverityProfile string   `json:"severityProfile"`
	OccurredAt      string   `json:"occurredAt"`
}

// store keys objects by Weaviate object ID.
type store struct {
	mu      sync.RWMutex
	objects map[string]object
}

func newStore() *store {
	s := &store{objects: make(map[string]object)}
	detection, _ := json.Marshal(map[models.Phase]models.SeverityHistogram{
		models.PhaseDetection:  {0, 0, 0.5, 0.5},
		models.PhaseMitigation: {1, 0, 0, 0},
	})
	seed := []object{
		{
			IncidentID:      "hist-db-pool",
			Title:           "Dependency failure in payments-service",
			Summary:         "connection pool exhausted on the primary database",
			RootCause:       "dependency",
			Categories:      []string{"dependency", "performance"},
			Sources:         []string{"payments-service", "db"},
			SeverityProfile: string(detection),
			OccurredAt:      time.Now().Add(-72 * time.Hour).UTC().Format(time.RFC3339),
		},
		{
			IncidentID:      "hist-bad-deploy",
			Title:           "Deployment regression in checkout",
			Summary:         "release 2.3.1 rolled back after elevated 500s",
			RootCause:       "deployment",
			Categories:      []string{"deployment", "customer-impact"},
			Sources:         []string{"checkout", "ci"},
			SeverityProfile: string(detection),
			OccurredAt:      time.Now().Add(-240 * time.Hour).UTC().Format(time.RFC3339),
		},
	}
	for _, o := range seed {
		s.objects[repo.ObjectID(o.IncidentID)] = o
	}
	return s
}

func (s *store) list() []object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out
}

// create stores a new object and reports false when the ID is taken.
func (s *store) create(id string, o object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; ok {
		return false
	}
	s.objects[id] = o
	return true
}

// replace overwrites an object and reports false when it does not exist.
func (s *store) replace(id string, o object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return false
	}
	s.objects[id] = o
	return true
}

type objectPayload struct {
	Class      string `json:"class"`
	ID         string `json:"id"`
	Properties object `json:"properties"`
}

func decodeObject(w http.ResponseWriter, r *http.Request) (objectPayload, bool) {
	var payload objectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ID == "" || payload.Properties.IncidentID == "" {
		http.Error(w, `{"error":"invalid object"}`, http.StatusUnprocessableEntity)
		return payload, false
	}
	return payload, true
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	logger := utils.NewLogger("info", false).With(slog.String("component", "mock-store"))
	db := newStore()

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// The mock ignores the where clause and returns every object; ranking is the
	// engine's job.
	r.HandleFunc("/v1/graphql", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"data": map[string]any{"Get": map[string]any{"IncidentFingerprint": db.list()}},
		})
	}).Methods(http.MethodPost)

	// Like Weaviate, POST only creates and PUT only replaces.
	r.HandleFunc("/v1/objects", func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodeObject(w, r)
		if !ok {
			return
		}
		if !db.create(payload.ID, payload.Properties) {
			http.Error(w, `{"error":"id '`+payload.ID+`' already exists"}`, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, map[string]any{"id": payload.ID, "class": payload.Class})
	}).Methods(http.MethodPost)

	r.HandleFunc("/v1/objects/{class}/{id}", func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodeObject(w, r)
		if !ok {
			return
		}
		id := mux.Vars(r)["id"]
		if payload.ID != id {
			http.Error(w, `{"error":"id mismatch"}`, http.StatusUnprocessableEntity)
			return
		}
		if !db.replace(id, payload.Properties) {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"id": id, "class": mux.Vars(r)["class"]})
	}).Methods(http.MethodPut)

	r.HandleFunc("/api/v1/recommendations", func(w http.ResponseWriter, r *http.Request) {
		var req models.RecommendationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"recommendations": []string{
				"Confirm " + req.PrimaryCause + " with the owning team",
				"Attach the incident timeline to the post-incident review",
			},
		})
	}).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
