package extractors

import "github.com/miradorstack/incident-rca/internal/models"

// BuildFingerprint derives the similarity features of an analysed incident: the
// hypothesis categories, the sources of their supporting events and the per-phase
// severity profile. Sources fall back to the detection phase, then to every source,
// when no hypothesis carries support.
func BuildFingerprint(incidentID string, tl models.Timeline, hypotheses []models.Hypothesis) models.Fingerprint {
	categories := make(map[string]struct{})
	sources := make(map[string]struct{})
	for _, h := range hypotheses {
		if h.Category != models.CategoryUnknown && h.Category != "" {
			categories[string(h.Category)] = struct{}{}
		}
		if h.RawScore <= 0 {
			continue
		}
		for _, ref := range h.SupportingEvents {
			sources[ref.Source] = struct{}{}
		}
	}
	if len(sources) == 0 {
		for _, ev := range tl.Detection.Events {
			sources[ev.Source] = struct{}{}
		}
	}
	if len(sources) == 0 {
		for _, src := range Sources(tl) {
			sources[src] = struct{}{}
		}
	}

	return models.Fingerprint{
		IncidentID:      incidentID,
		Categories:      sortedKeys(categories),
		Sources:         sortedKeys(sources),
		SeverityProfile: SeverityProfile(tl),
		OccurredAt:      tl.Start(),
	}
}
