// Package oracle wraps the external causal-reasoning model behind a typed contract.
// Callers never see free text from the model: responses are decoded into
// Response and any decoding problem surfaces as an error.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when the model answer carries no usable JSON object.
var ErrMalformedResponse = errors.New("oracle: malformed response")

// Candidate is one rule-based hypothesis submitted for assessment.
type Candidate struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	RawScore    float64 `json:"raw_score"`
}

// Request is the oracle input: a timeline digest and the candidate causes.
type Request struct {
	IncidentID      string      `json:"incident_id,omitempty"`
	TimelineSummary string      `json:"timeline_summary"`
	Candidates      []Candidate `json:"candidates"`
}

// Assessment is the oracle verdict on one candidate. Adjustment is a relative score
// change; callers clamp it before use.
type Assessment struct {
	ID          string  `json:"id"`
	Explanation string  `json:"explanation"`
	Adjustment  float64 `json:"adjustment"`
}

// Response is the decoded oracle answer. Contrastive explains why the leading
// candidate beats its rivals; it is optional.
type Response struct {
	Assessments []Assessment `json:"assessments"`
	Commentary  string       `json:"commentary,omitempty"`
	Contrastive string       `json:"contrastive,omitempty"`
}

// Oracle assesses candidate causes.
type Oracle interface {
	Assess(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Assess implements Oracle.
func (f Func) Assess(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ParseResponse extracts the first '{' to last '}' span of text and decodes it.
func ParseResponse(text string) (Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Response{}, ErrMalformedResponse
	}
	var resp Response
	if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp, nil
}

const systemPrompt = `You are an SRE assisting with incident root-cause analysis.
You receive an incident timeline digest and rule-based candidate causes.
Answer with a single JSON object and nothing else:
{"assessments":[{"id":"<candidate id>","explanation":"<one or two sentences>","adjustment":<number between -0.2 and 0.2>}],"commentary":"<short overall assessment>","contrastive":"<why the strongest candidate beats the alternatives>"}
A positive adjustment means the evidence supports the candidate more than its score suggests.
In "contrastive", name the evidence that supports the strongest candidate and what weakens each alternative. Only use facts from the timeline.`

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request) (string, error) {
	payload, err := json.MarshalIndent(req.Candidates, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if req.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\n\n", req.IncidentID)
	}
	b.WriteString("Timeline:\n")
	b.WriteString(req.TimelineSummary)
	b.WriteString("\n\nCandidates:\n")
	b.Write(payload)
	b.WriteString("\n")
	return b.String(), nil
}
