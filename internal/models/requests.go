package models

// AnalysisRequest carries one normalised incident for analysis.
type AnalysisRequest struct {
	IncidentID string
	TenantID   string
	Events     []Event
}

// RecommendationRequest is handed to the recommendation collaborator.
type RecommendationRequest struct {
	TenantID     string       `json:"tenant_id,omitempty"`
	IncidentID   string       `json:"incident_id"`
	Severity     Severity     `json:"severity"`
	PrimaryCause string       `json:"primary_cause"`
	Category     Category     `json:"category"`
	Confidence   float64      `json:"confidence"`
	Hypotheses   []Hypothesis `json:"hypotheses"`
}
