package models

import "time"

// ImpactSummary counts high-severity signals across the timeline.
type ImpactSummary struct {
	NumEvents       int      `json:"num_events"`
	NumCritical     int      `json:"num_critical"`
	NumErrors       int      `json:"num_errors"`
	DurationMinutes float64  `json:"duration_minutes"`
	KeySignals      []string `json:"key_signals,omitempty"`
}

// Report is the pipeline output contract consumed by downstream collaborators.
type Report struct {
	ReportID            string            `json:"report_id"`
	IncidentID          string            `json:"incident_id"`
	Severity            Severity          `json:"severity"`
	PrimaryCause        string            `json:"primary_cause"`
	Category            Category          `json:"category"`
	Confidence          float64           `json:"confidence"`
	ReliabilityFlag     Reliability       `json:"reliability_flag"`
	Timeline            Timeline          `json:"timeline"`
	Hypotheses          []Hypothesis      `json:"hypotheses"`
	Evidence            EvidenceReport    `json:"evidence"`
	SimilarIncidents    []SimilarIncident `json:"similar_incidents"`
	CausalGraph         CausalGraph       `json:"causal_graph"`
	Impact              ImpactSummary     `json:"impact"`
	DegradedReasoning   bool              `json:"degraded_reasoning"`
	DegradedSimilarity  bool              `json:"degraded_similarity"`
	ReasoningCommentary string            `json:"reasoning_commentary,omitempty"`
	Contrastive         string            `json:"contrastive_explanations,omitempty"`
	Recommendations     []string          `json:"recommendations"`
	CreatedAt           time.Time         `json:"created_at"`
}
