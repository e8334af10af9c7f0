package models

import "time"

// Phase names a contiguous segment of an incident timeline.
type Phase string

const (
	PhasePrecursor  Phase = "precursor"
	PhaseDetection  Phase = "detection"
	PhaseMitigation Phase = "mitigation"
	PhaseResolution Phase = "resolution"
)

// IncidentPhases are the three boundary-delimited phases in timeline order.
var IncidentPhases = []Phase{PhaseDetection, PhaseMitigation, PhaseResolution}

// PhaseSegment holds the events falling inside one phase.
type PhaseSegment struct {
	Phase   Phase     `json:"phase"`
	Present bool      `json:"phase_present"`
	Start   time.Time `json:"start,omitempty"`
	End     time.Time `json:"end,omitempty"`
	Events  []Event   `json:"events"`
}

// PhaseSummary is a deterministic one-line story of a phase.
type PhaseSummary struct {
	Phase           Phase   `json:"phase"`
	Count           int     `json:"count"`
	DurationMinutes float64 `json:"duration_minutes"`
	Summary         string  `json:"summary"`
}

// Timeline is the ordered, phase-partitioned view of an incident's events.
// Events preceding the first boundary marker are kept as precursors.
type Timeline struct {
	Events         []Event        `json:"-"`
	Precursors     PhaseSegment   `json:"precursors"`
	Detection      PhaseSegment   `json:"detection"`
	Mitigation     PhaseSegment   `json:"mitigation"`
	Resolution     PhaseSegment   `json:"resolution"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	Summaries      []PhaseSummary `json:"phase_summaries,omitempty"`
}

// Len returns the number of events across all segments.
func (t Timeline) Len() int {
	return len(t.Events)
}

// Segment returns the segment for phase.
func (t Timeline) Segment(phase Phase) PhaseSegment {
	switch phase {
	case PhaseDetection:
		return t.Detection
	case PhaseMitigation:
		return t.Mitigation
	case PhaseResolution:
		return t.Resolution
	default:
		return t.Precursors
	}
}

// Segments returns precursor, detection, mitigation and resolution segments in order.
func (t Timeline) Segments() []PhaseSegment {
	return []PhaseSegment{t.Precursors, t.Detection, t.Mitigation, t.Resolution}
}

// PhaseOf returns the phase containing the event with the given sequence number.
func (t Timeline) PhaseOf(sequence int) Phase {
	for _, seg := range t.Segments() {
		for _, ev := range seg.Events {
			if ev.Sequence == sequence {
				return seg.Phase
			}
		}
	}
	return PhasePrecursor
}

// Start is the timestamp of the earliest event.
func (t Timeline) Start() time.Time {
	if len(t.Events) == 0 {
		return time.Time{}
	}
	return t.Events[0].Timestamp
}

// End is the timestamp of the latest event.
func (t Timeline) End() time.Time {
	if len(t.Events) == 0 {
		return time.Time{}
	}
	return t.Events[len(t.Events)-1].Timestamp
}
