package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/incident-rca/internal/extractors"
	"github.com/miradorstack/incident-rca/internal/metrics"
	"github.com/miradorstack/incident-rca/internal/models"
)

// FingerprintStore is the read-only view of historical incidents.
type FingerprintStore interface {
	SimilarFingerprints(ctx context.Context, fp models.Fingerprint, limit int) ([]models.HistoricalIncident, error)
}

// SimilarityWeights blend the three similarity components. They are normalised to
// sum to one.
type SimilarityWeights struct {
	Categories float64
	Sources    float64
	Severity   float64
}

// SimilarityOptions configures ranking and store access.
type SimilarityOptions struct {
	Threshold      float64
	TopK           int
	Weights        SimilarityWeights
	CandidateLimit int
	StoreTimeout   time.Duration
	Retries        int
}

// DefaultSimilarityOptions returns threshold 0.5, top 5 and 0.35/0.35/0.30 weights.
func DefaultSimilarityOptions() SimilarityOptions {
	return SimilarityOptions{
		Threshold:      0.5,
		TopK:           5,
		Weights:        SimilarityWeights{Categories: 0.35, Sources: 0.35, Severity: 0.30},
		CandidateLimit: 50,
		StoreTimeout:   2 * time.Second,
		Retries:        1,
	}
}

func (o SimilarityOptions) withDefaults() SimilarityOptions {
	def := DefaultSimilarityOptions()
	if o.Threshold < 0 || o.Threshold > 1 {
		o.Threshold = def.Threshold
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	sum := o.Weights.Categories + o.Weights.Sources + o.Weights.Severity
	if o.Weights.Categories < 0 || o.Weights.Sources < 0 || o.Weights.Severity < 0 || sum <= 0 {
		o.Weights = def.Weights
	} else {
		o.Weights = SimilarityWeights{
			Categories: o.Weights.Categories / sum,
			Sources:    o.Weights.Sources / sum,
			Severity:   o.Weights.Severity / sum,
		}
	}
	if o.CandidateLimit < o.TopK {
		o.CandidateLimit = def.CandidateLimit
		if o.CandidateLimit < o.TopK {
			o.CandidateLimit = o.TopK
		}
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = def.StoreTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Retries > 1 {
		o.Retries = 1
	}
	return o
}

// SimilarityMatcher ranks historical incidents against the current fingerprint.
type SimilarityMatcher struct {
	store  FingerprintStore
	opts   SimilarityOptions
	logger *slog.Logger
}

// NewSimilarityMatcher constructs a matcher. A nil store makes every lookup fail
// with SimilarityStoreError.
func NewSimilarityMatcher(store FingerprintStore, opts SimilarityOptions, logger *slog.Logger) *SimilarityMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimilarityMatcher{store: store, opts: opts.withDefaults(), logger: logger}
}

// Match queries the store and returns incidents scoring at least the threshold,
// descending by score, most recent first on ties, capped at TopK. An empty slice
// is a valid result. Store failures are returned as *SimilarityStoreError.
func (m *SimilarityMatcher) Match(ctx context.Context, fp models.Fingerprint) ([]models.SimilarIncident, error) {
	if m.store == nil {
		return []models.SimilarIncident{}, &SimilarityStoreError{Err: errors.New("store not configured")}
	}

	history, err := m.lookup(ctx, fp)
	if err != nil {
		return []models.SimilarIncident{}, &SimilarityStoreError{Err: err}
	}
	return m.Rank(fp, history), nil
}

func (m *SimilarityMatcher) lookup(ctx context.Context, fp models.Fingerprint) ([]models.HistoricalIncident, error) {
	var lastErr error
	for attempt := 0; attempt <= m.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		history, err := m.store.SimilarFingerprints(attemptCtx, fp, m.opts.CandidateLimit)
		cancel()
		if err == nil {
			if len(history) == 0 {
				metrics.IncStoreLookup(metrics.ResultEmpty)
			} else {
				metrics.IncStoreLookup(metrics.ResultOK)
			}
			return history, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncStoreLookup(metrics.ResultTimeout)
		} else {
			metrics.IncStoreLookup(metrics.ResultError)
		}
		m.logger.Warn("similarity store lookup failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return nil, fmt.Errorf("lookup failed after %d attempt(s): %w", m.opts.Retries+1, lastErr)
}

// Rank scores history against fp without touching the store. The current incident
// is never matched against itself.
func (m *SimilarityMatcher) Rank(fp models.Fingerprint, history []models.HistoricalIncident) []models.SimilarIncident {
	results := make([]models.SimilarIncident, 0, len(history))
	for _, h := range history {
		if fp.IncidentID != "" && h.IncidentID == fp.IncidentID {
			continue
		}
		score := Similarity(fp, h.Fingerprint, m.opts.Weights)
		if score < m.opts.Threshold {
			continue
		}
		occurred := h.OccurredAt
		if occurred.IsZero() {
			occurred = h.Fingerprint.OccurredAt
		}
		results = append(results, models.SimilarIncident{
			IncidentID:      h.IncidentID,
			Title:           h.Title,
			Summary:         h.Summary,
			RootCause:       h.RootCause,
			SimilarityScore: score,
			OccurredAt:      occurred,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		if !results[i].OccurredAt.Equal(results[j].OccurredAt) {
			return results[i].OccurredAt.After(results[j].OccurredAt)
		}
		return results[i].IncidentID < results[j].IncidentID
	})
	if len(results) > m.opts.TopK {
		results = results[:m.opts.TopK]
	}
	return results
}

// Similarity blends category overlap, source overlap and severity-profile closeness
// into a score in [0,1].
func Similarity(a, b models.Fingerprint, w SimilarityWeights) float64 {
	score := w.Categories*jaccard(a.Categories, b.Categories) +
		w.Sources*jaccard(a.Sources, b.Sources) +
		w.Severity*severityCloseness(a.SeverityProfile, b.SeverityProfile)
	return clamp(score, 0, 1)
}

// jaccard is |A∩B| / |A∪B|; two empty sets share nothing and score zero.
func jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for k := range setA {
		union[k] = struct{}{}
	}
	inter := 0
	seenB := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, dup := seenB[v]; dup {
			continue
		}
		seenB[v] = struct{}{}
		if _, ok := setA[v]; ok {
			inter++
		}
		union[v] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

// severityCloseness is one minus the mean histogram distance over the phases
// populated on either side. A phase populated on one side only counts as fully
// distant.
func severityCloseness(a, b map[models.Phase]models.SeverityHistogram) float64 {
	phases := []models.Phase{models.PhasePrecursor, models.PhaseDetection, models.PhaseMitigation, models.PhaseResolution}
	total := 0.0
	compared := 0
	for _, phase := range phases {
		ha, okA := a[phase]
		hb, okB := b[phase]
		if !okA && !okB {
			continue
		}
		compared++
		if okA != okB {
			total += 1
			continue
		}
		total += extractors.HistogramDistance(ha, hb)
	}
	if compared == 0 {
		return 0
	}
	return 1 - total/float64(compared)
}
