package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-rca/internal/engine"
	"github.com/miradorstack/incident-rca/internal/models"
)

type analyzerStub struct {
	report      models.Report
	explanation models.HypothesisExplanation
	err         error
	got         models.AnalysisRequest
	gotExplain  models.ExplainRequest
	calls       int
}

func (a *analyzerStub) Analyze(_ context.Context, req models.AnalysisRequest) (models.Report, error) {
	a.calls++
	a.got = req
	return a.report, a.err
}

func (a *analyzerStub) Explain(_ context.Context, req models.ExplainRequest) (models.HypothesisExplanation, error) {
	a.calls++
	a.gotExplain = req
	return a.explanation, a.err
}

func analysisRequest(t *testing.T, events ...map[string]interface{}) *structpb.Struct {
	t.Helper()
	list := make([]interface{}, 0, len(events))
	for _, ev := range events {
		list = append(list, ev)
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"incident_id": "inc-42",
		"tenant_id":   "tenant-a",
		"events":      list,
	})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func event(offset time.Duration, source, severity, message string) map[string]interface{} {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return map[string]interface{}{
		"timestamp": base.Add(offset).Format(time.RFC3339),
		"source":    source,
		"severity":  severity,
		"message":   message,
	}
}

func TestAnalyzeIncidentMapsRequestAndReport(t *testing.T) {
	stub := &analyzerStub{report: models.Report{
		IncidentID:      "inc-42",
		PrimaryCause:    "Dependency failure in db",
		Category:        models.CategoryDependency,
		Confidence:      0.8,
		ReliabilityFlag: models.ReliabilityHigh,
		Severity:        models.SeverityCritical,
	}}
	service := NewRCAService(nil, stub, time.Second)

	resp, err := service.AnalyzeIncident(context.Background(), analysisRequest(t,
		event(0, "db", "critical", "connection refused"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.got.IncidentID != "inc-42" || stub.got.TenantID != "tenant-a" || len(stub.got.Events) != 1 {
		t.Fatalf("unexpected domain request: %+v", stub.got)
	}
	if stub.got.Events[0].Severity != models.SeverityCritical {
		t.Fatalf("severity not parsed: %v", stub.got.Events[0].Severity)
	}
	fields := resp.GetFields()
	if fields["primary_cause"].GetStringValue() != "Dependency failure in db" {
		t.Fatalf("unexpected primary cause: %v", fields["primary_cause"])
	}
	if fields["severity"].GetStringValue() != "critical" || fields["reliability_flag"].GetStringValue() != "high" {
		t.Fatalf("unexpected report fields: %v", fields)
	}
}

func TestAnalyzeIncidentInvalidRequest(t *testing.T) {
	stub := &analyzerStub{}
	service := NewRCAService(nil, stub, 0)

	bad := analysisRequest(t, map[string]interface{}{"source": "db", "message": "no timestamp"})
	_, err := service.AnalyzeIncident(context.Background(), bad)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("pipeline must not run for malformed requests")
	}

	if _, err := service.AnalyzeIncident(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for nil request, got %v", err)
	}
}

func TestAnalyzeIncidentWithoutPipeline(t *testing.T) {
	service := NewRCAService(nil, nil, 0)
	_, err := service.AnalyzeIncident(context.Background(), analysisRequest(t))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
	health, err := service.HealthCheck(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health.GetFields()["status"].GetStringValue() != "NOT_SERVING" {
		t.Fatalf("unexpected health: %v", health)
	}
}

func TestAnalyzeIncidentEmptyEventsRejected(t *testing.T) {
	service := NewRCAService(nil, engine.NewPipeline(nil, engine.Dependencies{}), time.Second)
	_, err := service.AnalyzeIncident(context.Background(), analysisRequest(t))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for empty timeline, got %v", err)
	}
}

func TestAnalyzeIncidentEndToEnd(t *testing.T) {
	service := NewRCAService(nil, engine.NewPipeline(nil, engine.Dependencies{}), time.Second)
	resp, err := service.AnalyzeIncident(context.Background(), analysisRequest(t,
		event(0, "payments-service", "critical", "payments-service timeout calling db"),
		event(2*time.Minute, "payments-service", "warning", "restart payments-service"),
		event(4*time.Minute, "payments-service", "info", "recovered"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := resp.GetFields()
	if fields["incident_id"].GetStringValue() != "inc-42" {
		t.Fatalf("unexpected incident id: %v", fields["incident_id"])
	}
	if fields["category"].GetStringValue() != string(models.CategoryDependency) {
		t.Fatalf("unexpected category: %v", fields["category"])
	}
	if !fields["degraded_similarity"].GetBoolValue() {
		t.Fatalf("expected degraded similarity without a store")
	}
	if len(fields["hypotheses"].GetListValue().GetValues()) == 0 {
		t.Fatalf("expected hypotheses in report")
	}
}

func explainRequest(t *testing.T, hypothesisID string, events ...map[string]interface{}) *structpb.Struct {
	t.Helper()
	req := analysisRequest(t, events...)
	req.Fields["hypothesis_id"] = structpb.NewStringValue(hypothesisID)
	return req
}

func TestExplainHypothesisMapsRequest(t *testing.T) {
	stub := &analyzerStub{explanation: models.HypothesisExplanation{
		IncidentID:   "inc-42",
		HypothesisID: "hyp-dependency-db",
		Confidence:   0.7,
		Primary:      true,
	}}
	service := NewRCAService(nil, stub, time.Second)

	resp, err := service.ExplainHypothesis(context.Background(), explainRequest(t, " hyp-dependency-db ",
		event(0, "db", "critical", "connection refused"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.gotExplain.HypothesisID != "hyp-dependency-db" || stub.gotExplain.IncidentID != "inc-42" {
		t.Fatalf("unexpected domain request: %+v", stub.gotExplain)
	}
	fields := resp.GetFields()
	if fields["hypothesis_id"].GetStringValue() != "hyp-dependency-db" || !fields["primary"].GetBoolValue() {
		t.Fatalf("unexpected explanation fields: %v", fields)
	}
	if fields["calibrated_confidence"].GetNumberValue() != 0.7 {
		t.Fatalf("unexpected confidence: %v", fields["calibrated_confidence"])
	}
}

func TestExplainHypothesisRequiresHypothesisID(t *testing.T) {
	stub := &analyzerStub{}
	service := NewRCAService(nil, stub, 0)

	_, err := service.ExplainHypothesis(context.Background(), analysisRequest(t, event(0, "db", "critical", "down")))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("pipeline must not run without a hypothesis id")
	}
}

func TestExplainHypothesisEndToEnd(t *testing.T) {
	service := NewRCAService(nil, engine.NewPipeline(nil, engine.Dependencies{}), time.Second)
	events := []map[string]interface{}{
		event(0, "payments-service", "critical", "payments-service timeout calling db"),
		event(2*time.Minute, "payments-service", "warning", "restart payments-service"),
		event(4*time.Minute, "payments-service", "info", "recovered"),
	}

	resp, err := service.ExplainHypothesis(context.Background(), explainRequest(t, "hyp-dependency-payments-service", events...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := resp.GetFields()
	if fields["incident_id"].GetStringValue() != "inc-42" || !fields["primary"].GetBoolValue() {
		t.Fatalf("unexpected explanation: %v", fields)
	}
	if len(fields["supporting_evidence"].GetListValue().GetValues()) == 0 {
		t.Fatalf("expected supporting evidence")
	}

	_, err = service.ExplainHypothesis(context.Background(), explainRequest(t, "hyp-unknown", events...))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found for unknown hypothesis, got %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{&engine.IncompleteTimelineError{IncidentID: "x"}, codes.InvalidArgument},
		{&engine.HypothesisNotFoundError{HypothesisID: "hyp-x"}, codes.NotFound},
		{fmt.Errorf("stage: %w", &engine.GraphInvariantViolation{Reason: "cycle"}), codes.Internal},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
