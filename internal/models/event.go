package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity is an ordered impact level: info < warning < error < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// SeverityLevels lists every severity in ascending order.
var SeverityLevels = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Weight maps the severity onto (0,1], critical being 1.
func (s Severity) Weight() float64 {
	return float64(s+1) / float64(SeverityCritical+1)
}

// ParseSeverity accepts the canonical names plus the usual log-level aliases.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info", "information", "debug", "notice", "low":
		return SeverityInfo, nil
	case "warning", "warn", "medium":
		return SeverityWarning, nil
	case "error", "err", "high":
		return SeverityError, nil
	case "critical", "crit", "fatal", "emergency", "alert":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", value)
	}
}

// MarshalJSON renders the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MetadataActionKey tags an event with an explicit incident action
// ("acknowledgment", "mitigation" or "recovery").
const MetadataActionKey = "action"

// Event is one observed occurrence. Events are treated as immutable once ingested.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Sequence is the ingestion position, assigned by the timeline builder and used
	// as the secondary sort key.
	Sequence int `json:"sequence"`
}

// MetadataString returns the metadata value for key rendered as a string.
func (e Event) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	v, ok := e.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MetadataFloat returns the metadata value for key when it is numeric.
func (e Event) MetadataFloat(key string) (float64, bool) {
	if e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// EventRef is a weak reference to an event within one analysis run.
type EventRef struct {
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Ref builds a weak reference to the event.
func (e Event) Ref() EventRef {
	return EventRef{Sequence: e.Sequence, Timestamp: e.Timestamp, Source: e.Source}
}

// MaxSeverity returns the highest severity among events (info when empty).
func MaxSeverity(events []Event) Severity {
	max := SeverityInfo
	for _, ev := range events {
		if ev.Severity > max {
			max = ev.Severity
		}
	}
	return max
}
