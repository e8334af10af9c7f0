package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// wireEvent is the request shape of one event. Timestamps are RFC 3339.
type wireEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

type wireAnalysisRequest struct {
	IncidentID string      `json:"incident_id"`
	TenantID   string      `json:"tenant_id"`
	Events     []wireEvent `json:"events"`
}

type wireExplainRequest struct {
	wireAnalysisRequest
	HypothesisID string `json:"hypothesis_id"`
}

// FromStructAnalysisRequest maps the request document into a domain request.
// Malformed events are rejected; an empty event list is left for the pipeline
// to reject.
func FromStructAnalysisRequest(req *structpb.Struct) (models.AnalysisRequest, error) {
	if req == nil {
		return models.AnalysisRequest{}, fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("encode request: %w", err)
	}
	return DecodeAnalysisRequest(data)
}

// DecodeAnalysisRequest parses the JSON request body shared by gRPC and HTTP.
func DecodeAnalysisRequest(data []byte) (models.AnalysisRequest, error) {
	var wire wireAnalysisRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return wire.toDomain()
}

// FromStructExplainRequest maps the explain request document into a domain request.
func FromStructExplainRequest(req *structpb.Struct) (models.ExplainRequest, error) {
	if req == nil {
		return models.ExplainRequest{}, fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return models.ExplainRequest{}, fmt.Errorf("encode request: %w", err)
	}
	return DecodeExplainRequest(data)
}

// DecodeExplainRequest parses an analysis request body carrying a hypothesis_id.
func DecodeExplainRequest(data []byte) (models.ExplainRequest, error) {
	var wire wireExplainRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.ExplainRequest{}, fmt.Errorf("decode request: %w", err)
	}
	id := strings.TrimSpace(wire.HypothesisID)
	if id == "" {
		return models.ExplainRequest{}, fmt.Errorf("hypothesis_id is required")
	}
	req, err := wire.toDomain()
	if err != nil {
		return models.ExplainRequest{}, err
	}
	return models.ExplainRequest{AnalysisRequest: req, HypothesisID: id}, nil
}

func (wire wireAnalysisRequest) toDomain() (models.AnalysisRequest, error) {
	if strings.TrimSpace(wire.IncidentID) == "" {
		return models.AnalysisRequest{}, fmt.Errorf("incident_id is required")
	}

	events := make([]models.Event, 0, len(wire.Events))
	for i, ev := range wire.Events {
		if strings.TrimSpace(ev.Timestamp) == "" {
			return models.AnalysisRequest{}, fmt.Errorf("events[%d].timestamp is required", i)
		}
		ts, err := utils.ParseTimestamp(ev.Timestamp)
		if err != nil {
			return models.AnalysisRequest{}, fmt.Errorf("events[%d].timestamp: %w", i, err)
		}
		sev, err := models.ParseSeverity(ev.Severity)
		if err != nil {
			return models.AnalysisRequest{}, fmt.Errorf("events[%d].severity: %w", i, err)
		}
		events = append(events, models.Event{
			ID:        ev.ID,
			Timestamp: ts,
			Source:    strings.TrimSpace(ev.Source),
			Severity:  sev,
			Message:   ev.Message,
			Metadata:  ev.Metadata,
		})
	}

	return models.AnalysisRequest{
		IncidentID: wire.IncidentID,
		TenantID:   wire.TenantID,
		Events:     events,
	}, nil
}

// ToStructReport converts a report into its response document.
func ToStructReport(report models.Report) (*structpb.Struct, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert report: %w", err)
	}
	return out, nil
}

// ToStructExplanation converts a hypothesis explanation into its response document.
func ToStructExplanation(explanation models.HypothesisExplanation) (*structpb.Struct, error) {
	data, err := json.Marshal(explanation)
	if err != nil {
		return nil, fmt.Errorf("encode explanation: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert explanation: %w", err)
	}
	return out, nil
}

// ToStructHealth builds the health response document.
func ToStructHealth(status string, p95 time.Duration) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"status":         status,
		"latency_p95_ms": float64(p95.Microseconds()) / 1000,
	})
}
