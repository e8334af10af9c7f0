package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-rca/internal/api"
	"github.com/miradorstack/incident-rca/internal/engine"
	"github.com/miradorstack/incident-rca/internal/metrics"
	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// Analyzer runs incident analyses.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (models.Report, error)
	Explain(ctx context.Context, req models.ExplainRequest) (models.HypothesisExplanation, error)
}

// RCAService implements the gRPC RCAEngine service.
type RCAService struct {
	logger    *slog.Logger
	pipeline  Analyzer
	timeout   time.Duration
	latencies *utils.LatencyTracker
}

var _ api.RCAEngineServer = (*RCAService)(nil)

// NewRCAService constructs the RCA service facade. A positive timeout bounds each
// analysis in addition to the caller's deadline.
func NewRCAService(logger *slog.Logger, pipeline Analyzer, timeout time.Duration) *RCAService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RCAService{
		logger:    logger,
		pipeline:  pipeline,
		timeout:   timeout,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// AnalyzeIncident validates the request, runs the pipeline and returns the report.
func (s *RCAService) AnalyzeIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	domainReq, err := api.FromStructAnalysisRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.logger.Debug("AnalyzeIncident called",
		slog.String("incident_id", domainReq.IncidentID),
		slog.String("tenant_id", domainReq.TenantID),
		slog.Int("events", len(domainReq.Events)),
	)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := s.pipeline.Analyze(ctx, domainReq)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		code := ErrorCode(err)
		if code == codes.InvalidArgument {
			s.logger.Warn("analysis rejected", slog.String("incident_id", domainReq.IncidentID), slog.Any("error", err))
		} else {
			s.logger.Error("analysis failed",
				slog.String("incident_id", domainReq.IncidentID),
				slog.String("op", utils.Op(err)),
				slog.Any("error", err),
			)
		}
		return nil, status.Error(code, err.Error())
	}

	outcome := metrics.OutcomeSuccess
	if report.DegradedReasoning || report.DegradedSimilarity {
		outcome = metrics.OutcomeDegraded
	}
	metrics.ObserveAnalysis(duration, outcome)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("analysis latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	resp, err := api.ToStructReport(report)
	if err != nil {
		s.logger.Error("encode report failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode report")
	}
	return resp, nil
}

// ExplainHypothesis rebuilds the hypothesis set for the request's events and
// returns the evidence behind the requested hypothesis.
func (s *RCAService) ExplainHypothesis(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	domainReq, err := api.FromStructExplainRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	explanation, err := s.pipeline.Explain(ctx, domainReq)
	if err != nil {
		code := ErrorCode(err)
		if code == codes.Internal {
			s.logger.Error("explain failed",
				slog.String("incident_id", domainReq.IncidentID),
				slog.String("hypothesis_id", domainReq.HypothesisID),
				slog.String("op", utils.Op(err)),
				slog.Any("error", err),
			)
		}
		return nil, status.Error(code, err.Error())
	}

	resp, err := api.ToStructExplanation(explanation)
	if err != nil {
		s.logger.Error("encode explanation failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode explanation")
	}
	return resp, nil
}

// HealthCheck returns the current health state.
func (s *RCAService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state := "SERVING"
	if s.pipeline == nil {
		state = "NOT_SERVING"
	}
	resp, err := api.ToStructHealth(state, s.LatencyP95())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *RCAService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// ErrorCode maps pipeline errors onto gRPC status codes.
func ErrorCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case engine.IsIncompleteTimeline(err):
		return codes.InvalidArgument
	case engine.IsHypothesisNotFound(err):
		return codes.NotFound
	case engine.IsGraphInvariantViolation(err):
		return codes.Internal
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}
