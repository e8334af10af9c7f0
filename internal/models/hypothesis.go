package models

import "time"

// Category classifies a candidate root cause.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryDependency     Category = "dependency"
	CategoryDeployment     Category = "deployment"
	CategoryPerformance    Category = "performance"
	CategoryCustomerImpact Category = "customer-impact"
	CategoryUnknown        Category = "unknown"
)

// Reliability is a qualitative indicator of how distinguishable the top causes are.
type Reliability string

const (
	ReliabilityHigh     Reliability = "high"
	ReliabilityModerate Reliability = "moderate"
	ReliabilityLow      Reliability = "low"
)

// Hypothesis is a candidate root cause. SupportingEvents are weak references; the
// hypothesis never owns the events.
type Hypothesis struct {
	ID                   string     `json:"id"`
	CauseDescription     string     `json:"cause_description"`
	Category             Category   `json:"category"`
	RawScore             float64    `json:"raw_score"`
	RuleIDs              []string   `json:"rule_ids,omitempty"`
	PrimarySource        string     `json:"primary_source"`
	SupportingEvents     []EventRef `json:"supporting_events"`
	Explanation          string     `json:"explanation,omitempty"`
	OracleAdjustment     float64    `json:"oracle_adjustment,omitempty"`
	CalibratedConfidence *float64   `json:"calibrated_confidence,omitempty"`
	Primary              bool       `json:"primary"`
}

// EarliestSupport returns the timestamp of the earliest supporting event.
func (h Hypothesis) EarliestSupport() time.Time {
	var earliest time.Time
	for _, ref := range h.SupportingEvents {
		if earliest.IsZero() || ref.Timestamp.Before(earliest) {
			earliest = ref.Timestamp
		}
	}
	return earliest
}

// EarliestSequence returns the lowest ingestion sequence among supporting events
// with the earliest timestamp, or -1 when there is no support.
func (h Hypothesis) EarliestSequence() int {
	seq := -1
	var ts time.Time
	for _, ref := range h.SupportingEvents {
		if seq < 0 || ref.Timestamp.Before(ts) || (ref.Timestamp.Equal(ts) && ref.Sequence < seq) {
			seq = ref.Sequence
			ts = ref.Timestamp
		}
	}
	return seq
}

// Confidence returns the calibrated confidence or zero when not yet calibrated.
func (h Hypothesis) Confidence() float64 {
	if h.CalibratedConfidence == nil {
		return 0
	}
	return *h.CalibratedConfidence
}

// CalibrationResult wraps a hypothesis' calibrated confidence and reliability flag.
type CalibrationResult struct {
	HypothesisID         string      `json:"hypothesis_id"`
	CalibratedConfidence float64     `json:"calibrated_confidence"`
	ReliabilityFlag      Reliability `json:"reliability_flag"`
}

// EvidenceReport describes the evidence behind a calibration run. It is
// informational and never alters the confidence distribution.
type EvidenceReport struct {
	TimelineLength int     `json:"timeline_length"`
	Candidates     int     `json:"candidates"`
	TotalRawScore  float64 `json:"total_raw_score"`
	TopMargin      float64 `json:"top_margin"`
	ZeroEvidence   bool    `json:"zero_evidence"`
}

// Calibration is the outcome of calibrating one hypothesis set.
type Calibration struct {
	Hypotheses  []Hypothesis        `json:"hypotheses"`
	Results     []CalibrationResult `json:"results"`
	PrimaryID   string              `json:"primary_id,omitempty"`
	Reliability Reliability         `json:"reliability_flag"`
	Evidence    EvidenceReport      `json:"evidence"`
}

// Primary returns the primary hypothesis, if any.
func (c Calibration) Primary() (Hypothesis, bool) {
	for _, h := range c.Hypotheses {
		if h.Primary {
			return h, true
		}
	}
	return Hypothesis{}, false
}
