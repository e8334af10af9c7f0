package extractors

import "github.com/miradorstack/incident-rca/internal/models"

// SeverityProfile builds a normalised severity histogram for every populated phase,
// precursors included. Phases without events are omitted.
func SeverityProfile(tl models.Timeline) map[models.Phase]models.SeverityHistogram {
	profile := make(map[models.Phase]models.SeverityHistogram, 4)
	for _, seg := range tl.Segments() {
		if len(seg.Events) == 0 {
			continue
		}
		profile[seg.Phase] = Histogram(seg.Events)
	}
	return profile
}

// Histogram counts events per severity and normalises the counts to sum to one.
func Histogram(events []models.Event) models.SeverityHistogram {
	var hist models.SeverityHistogram
	if len(events) == 0 {
		return hist
	}
	for _, ev := range events {
		idx := int(ev.Severity)
		if idx < 0 || idx >= len(hist) {
			continue
		}
		hist[idx]++
	}
	total := float64(len(events))
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

// HistogramDistance is half the L1 distance between two normalised histograms,
// which lies in [0,1].
func HistogramDistance(a, b models.SeverityHistogram) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / 2
}
