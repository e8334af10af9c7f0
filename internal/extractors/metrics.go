package extractors

import (
	"math"
	"sort"

	"github.com/miradorstack/incident-rca/internal/models"
)

// MetadataOutlier captures an event whose numeric metadata value is anomalous
// relative to the other events carrying the same key.
type MetadataOutlier struct {
	Sequence int
	Key      string
	Value    float64
	Score    float64
}

// MetadataExtractor scores numeric event metadata (latency, error rate, ...) with a
// population z-score.
type MetadataExtractor struct {
	threshold  float64
	minSamples int
}

// NewMetadataExtractor creates a metadata outlier detector. A non-positive threshold
// defaults to 2.0.
func NewMetadataExtractor(threshold float64) *MetadataExtractor {
	if threshold <= 0 {
		threshold = 2.0
	}
	return &MetadataExtractor{threshold: threshold, minSamples: 3}
}

// Detect returns outliers ordered by event sequence then key.
func (e *MetadataExtractor) Detect(events []models.Event) []MetadataOutlier {
	if len(events) == 0 {
		return nil
	}

	type sample struct {
		sequence int
		value    float64
	}
	byKey := make(map[string][]sample)
	for _, ev := range events {
		for key := range ev.Metadata {
			if key == models.MetadataActionKey {
				continue
			}
			if v, ok := ev.MetadataFloat(key); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
				byKey[key] = append(byKey[key], sample{sequence: ev.Sequence, value: v})
			}
		}
	}

	outliers := make([]MetadataOutlier, 0)
	for key, samples := range byKey {
		if len(samples) < e.minSamples {
			continue
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.value
		}
		m := mean(values)
		std := stdDev(values, m)
		if std == 0 {
			continue
		}
		for _, s := range samples {
			score := (s.value - m) / std
			if score >= e.threshold {
				outliers = append(outliers, MetadataOutlier{Sequence: s.sequence, Key: key, Value: s.value, Score: score})
			}
		}
	}

	sort.Slice(outliers, func(i, j int) bool {
		if outliers[i].Sequence != outliers[j].Sequence {
			return outliers[i].Sequence < outliers[j].Sequence
		}
		return outliers[i].Key < outliers[j].Key
	})
	return outliers
}

// OutlierSequences indexes outliers by event sequence.
func OutlierSequences(outliers []MetadataOutlier) map[int]struct{} {
	set := make(map[int]struct{}, len(outliers))
	for _, o := range outliers {
		set[o.Sequence] = struct{}{}
	}
	return set
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}
