package models

// ExplainRequest asks for the evidence behind one hypothesis of an incident.
type ExplainRequest struct {
	AnalysisRequest
	HypothesisID string
}

// ConflictingEvidence is an event backing rival hypotheses but not the explained one.
type ConflictingEvidence struct {
	Event    Event    `json:"event"`
	Supports []string `json:"supports"`
}

// HypothesisExplanation lays out the evidence for and against one hypothesis.
type HypothesisExplanation struct {
	IncidentID          string                `json:"incident_id"`
	HypothesisID        string                `json:"hypothesis_id"`
	CauseDescription    string                `json:"cause_description"`
	Category            Category              `json:"category"`
	Confidence          float64               `json:"calibrated_confidence"`
	Primary             bool                  `json:"primary"`
	Explanation         string                `json:"explanation"`
	SupportingEvidence  []Event               `json:"supporting_evidence"`
	ConflictingEvidence []ConflictingEvidence `json:"conflicting_evidence"`
	DegradedReasoning   bool                  `json:"degraded_reasoning"`
}
