package models

import "time"

// SeverityHistogram holds normalised event counts per severity (info..critical).
type SeverityHistogram [4]float64

// Fingerprint is the compact feature summary of an incident used for similarity.
type Fingerprint struct {
	IncidentID      string                      `json:"incident_id"`
	Categories      []string                    `json:"categories"`
	Sources         []string                    `json:"sources"`
	SeverityProfile map[Phase]SeverityHistogram `json:"severity_profile"`
	OccurredAt      time.Time                   `json:"occurred_at"`
}

// HistoricalIncident is a stored fingerprint plus descriptive metadata.
type HistoricalIncident struct {
	IncidentID  string      `json:"incident_id"`
	Title       string      `json:"title"`
	Summary     string      `json:"summary"`
	RootCause   string      `json:"root_cause"`
	Fingerprint Fingerprint `json:"fingerprint"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// SimilarIncident is a read-only lookup result ranked by similarity.
type SimilarIncident struct {
	IncidentID      string    `json:"incident_id"`
	Title           string    `json:"title,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	RootCause       string    `json:"root_cause,omitempty"`
	SimilarityScore float64   `json:"similarity_score"`
	OccurredAt      time.Time `json:"occurred_at"`
}
