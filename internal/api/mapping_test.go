package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-rca/internal/models"
)

func TestFromStructAnalysisRequest(t *testing.T) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"incident_id": "incident-1",
		"tenant_id":   "tenant",
		"events": []interface{}{
			map[string]interface{}{
				"id":        "ev-1",
				"timestamp": "2024-03-01T12:00:00Z",
				"source":    " checkout ",
				"severity":  "crit",
				"message":   "checkout failed",
				"metadata":  map[string]interface{}{"latency_ms": 1200, "action": "mitigation"},
			},
			map[string]interface{}{
				"timestamp": "2024-03-01T12:01:00.5Z",
				"source":    "checkout",
				"message":   "no severity means info",
			},
		},
	})
	require.NoError(t, err)

	domainReq, err := FromStructAnalysisRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "incident-1", domainReq.IncidentID)
	assert.Equal(t, "tenant", domainReq.TenantID)
	require.Len(t, domainReq.Events, 2)

	first := domainReq.Events[0]
	assert.Equal(t, "checkout", first.Source)
	assert.Equal(t, models.SeverityCritical, first.Severity)
	assert.True(t, first.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	latency, ok := first.MetadataFloat("latency_ms")
	assert.True(t, ok)
	assert.Equal(t, 1200.0, latency)
	assert.Equal(t, "mitigation", first.MetadataString(models.MetadataActionKey))

	assert.Equal(t, models.SeverityInfo, domainReq.Events[1].Severity)
	assert.Equal(t, 500*time.Millisecond, domainReq.Events[1].Timestamp.Sub(time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)))
}

func TestDecodeAnalysisRequestRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing incident":  `{"events":[]}`,
		"missing timestamp": `{"incident_id":"i","events":[{"source":"a"}]}`,
		"bad timestamp":     `{"incident_id":"i","events":[{"timestamp":"yesterday"}]}`,
		"bad severity":      `{"incident_id":"i","events":[{"timestamp":"2024-03-01T12:00:00Z","severity":"apocalyptic"}]}`,
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAnalysisRequest([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeAnalysisRequestAllowsEmptyEvents(t *testing.T) {
	req, err := DecodeAnalysisRequest([]byte(`{"incident_id":"i"}`))
	require.NoError(t, err)
	assert.Empty(t, req.Events)
}

func TestFromStructAnalysisRequestNil(t *testing.T) {
	_, err := FromStructAnalysisRequest(nil)
	assert.Error(t, err)
}

func TestToStructReport(t *testing.T) {
	conf := 0.75
	report := models.Report{
		ReportID:        "r-1",
		IncidentID:      "incident-1",
		Severity:        models.SeverityError,
		PrimaryCause:    "Deployment regression in api",
		Category:        models.CategoryDeployment,
		Confidence:      conf,
		ReliabilityFlag: models.ReliabilityModerate,
		Hypotheses: []models.Hypothesis{{
			ID:                   "hyp-deployment-api",
			CauseDescription:     "Deployment regression in api",
			Category:             models.CategoryDeployment,
			CalibratedConfidence: &conf,
			Primary:              true,
		}},
		SimilarIncidents: []models.SimilarIncident{},
		Recommendations:  []string{"Roll back"},
		CreatedAt:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	out, err := ToStructReport(report)
	require.NoError(t, err)
	fields := out.GetFields()
	assert.Equal(t, "error", fields["severity"].GetStringValue())
	assert.Equal(t, "moderate", fields["reliability_flag"].GetStringValue())
	assert.Equal(t, 0.75, fields["confidence"].GetNumberValue())
	assert.Equal(t, "2024-03-01T12:00:00Z", fields["created_at"].GetStringValue())
	assert.Len(t, fields["hypotheses"].GetListValue().GetValues(), 1)
	assert.NotNil(t, fields["similar_incidents"].GetListValue())
	assert.Equal(t, "Roll back", fields["recommendations"].GetListValue().GetValues()[0].GetStringValue())
}

func TestDecodeExplainRequest(t *testing.T) {
	req, err := DecodeExplainRequest([]byte(`{"incident_id":"i","hypothesis_id":" hyp-a ","events":[{"timestamp":"2024-03-01T12:00:00Z","source":"db"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "hyp-a", req.HypothesisID)
	assert.Equal(t, "i", req.IncidentID)
	require.Len(t, req.Events, 1)

	_, err = DecodeExplainRequest([]byte(`{"incident_id":"i"}`))
	assert.Error(t, err)
	_, err = DecodeExplainRequest([]byte(`{"hypothesis_id":"hyp-a"}`))
	assert.Error(t, err)
	_, err = FromStructExplainRequest(nil)
	assert.Error(t, err)
}

func TestToStructExplanation(t *testing.T) {
	ev := models.Event{Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Source: "db", Severity: models.SeverityCritical, Message: "down"}
	out, err := ToStructExplanation(models.HypothesisExplanation{
		HypothesisID:        "hyp-a",
		Confidence:          0.4,
		SupportingEvidence:  []models.Event{ev},
		ConflictingEvidence: []models.ConflictingEvidence{{Event: ev, Supports: []string{"hyp-b"}}},
	})
	require.NoError(t, err)
	fields := out.GetFields()
	assert.Equal(t, 0.4, fields["calibrated_confidence"].GetNumberValue())
	assert.Len(t, fields["supporting_evidence"].GetListValue().GetValues(), 1)
	conflict := fields["conflicting_evidence"].GetListValue().GetValues()[0].GetStructValue().GetFields()
	assert.Equal(t, "hyp-b", conflict["supports"].GetListValue().GetValues()[0].GetStringValue())
}

func TestToStructHealth(t *testing.T) {
	out, err := ToStructHealth("SERVING", 1500*time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, "SERVING", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, 1.5, out.GetFields()["latency_p95_ms"].GetNumberValue())
}
