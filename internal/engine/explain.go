package engine

import (
	"fmt"
	"sort"

	"github.com/miradorstack/incident-rca/internal/models"
)

// ExplainHypothesis collects the evidence for hypothesis id from a calibrated
// set. Supporting evidence is the hypothesis's own events; conflicting evidence
// is every event that backs a rival and not this hypothesis. The result depends
// only on its inputs.
func ExplainHypothesis(tl models.Timeline, hypotheses []models.Hypothesis, id string) (models.HypothesisExplanation, error) {
	selected := -1
	available := make([]string, 0, len(hypotheses))
	for i, h := range hypotheses {
		available = append(available, h.ID)
		if h.ID == id {
			selected = i
		}
	}
	if selected < 0 {
		return models.HypothesisExplanation{}, &HypothesisNotFoundError{HypothesisID: id, Available: available}
	}
	h := hypotheses[selected]

	bySequence := make(map[int]models.Event, len(tl.Events))
	for _, ev := range tl.Events {
		bySequence[ev.Sequence] = ev
	}

	own := make(map[int]struct{}, len(h.SupportingEvents))
	supporting := make([]models.Event, 0, len(h.SupportingEvents))
	for _, ref := range h.SupportingEvents {
		own[ref.Sequence] = struct{}{}
		if ev, ok := bySequence[ref.Sequence]; ok {
			supporting = append(supporting, ev)
		}
	}

	rivals := make(map[int][]string)
	for i, rival := range hypotheses {
		if i == selected {
			continue
		}
		for _, ref := range rival.SupportingEvents {
			if _, mine := own[ref.Sequence]; mine {
				continue
			}
			rivals[ref.Sequence] = appendUnique(rivals[ref.Sequence], rival.ID)
		}
	}
	conflicting := make([]models.ConflictingEvidence, 0, len(rivals))
	for seq, ids := range rivals {
		ev, ok := bySequence[seq]
		if !ok {
			continue
		}
		conflicting = append(conflicting, models.ConflictingEvidence{Event: ev, Supports: ids})
	}
	sortByTimeline(supporting)
	sort.SliceStable(conflicting, func(i, j int) bool {
		return timelineLess(conflicting[i].Event, conflicting[j].Event)
	})

	explanation := h.Explanation
	if explanation == "" {
		explanation = fmt.Sprintf("%s is backed by %d event(s), first from %s; %d event(s) back rival causes only. Calibrated confidence %.2f.",
			h.CauseDescription, len(supporting), h.PrimarySource, len(conflicting), h.Confidence())
	}

	return models.HypothesisExplanation{
		HypothesisID:        h.ID,
		CauseDescription:    h.CauseDescription,
		Category:            h.Category,
		Confidence:          h.Confidence(),
		Primary:             h.Primary,
		Explanation:         explanation,
		SupportingEvidence:  supporting,
		ConflictingEvidence: conflicting,
	}, nil
}

func timelineLess(a, b models.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Sequence < b.Sequence
}

func sortByTimeline(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool { return timelineLess(events[i], events[j]) })
}
