package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/incident-rca/internal/models"
)

var testStart = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(minutes int) time.Time {
	return testStart.Add(time.Duration(minutes) * time.Minute)
}

// paymentsIncident is delivered out of order on purpose.
func paymentsIncident() []models.Event {
	return []models.Event{
		{Timestamp: at(2), Source: "payments-service", Severity: models.SeverityWarning, Message: "restart payments-service"},
		{Timestamp: at(0), Source: "payments-service", Severity: models.SeverityCritical, Message: "payments-service timeout"},
		{Timestamp: at(3), Source: "payments-service", Severity: models.SeverityInfo, Message: "recovered"},
		{Timestamp: at(1), Source: "oncall", Severity: models.SeverityInfo, Message: "ack"},
	}
}

type fakeStore struct {
	mu      sync.Mutex
	history []models.HistoricalIncident
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeStore) SimilarFingerprints(ctx context.Context, fp models.Fingerprint, limit int) ([]models.HistoricalIncident, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWriter struct {
	mu     sync.Mutex
	stored []models.HistoricalIncident
	err    error
}

func (f *fakeWriter) StoreFingerprint(ctx context.Context, incident models.HistoricalIncident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, incident)
	return f.err
}

type fakeRecommender struct {
	recs []string
	err  error
	got  models.RecommendationRequest
}

func (f *fakeRecommender) Recommend(ctx context.Context, req models.RecommendationRequest) ([]string, error) {
	f.got = req
	return f.recs, f.err
}
