package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/incident-rca/internal/extractors"
	"github.com/miradorstack/incident-rca/internal/metrics"
	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/tracing"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// Recommender produces follow-up actions for a finished analysis. Its output is
// passed through to the report untouched.
type Recommender interface {
	Recommend(ctx context.Context, req models.RecommendationRequest) ([]string, error)
}

// FingerprintWriter persists the fingerprint of an analysed incident.
type FingerprintWriter interface {
	StoreFingerprint(ctx context.Context, incident models.HistoricalIncident) error
}

// FailureMode declares how a stage failure affects the analysis.
type FailureMode int

const (
	// FailFatal aborts the analysis.
	FailFatal FailureMode = iota
	// FailDegrade keeps going and flags the report.
	FailDegrade
	// FailIgnore keeps going and only logs.
	FailIgnore
)

// Stage names.
const (
	StageTimeline        = "timeline"
	StageHypotheses      = "hypotheses"
	StageCalibration     = "calibration"
	StageSimilarity      = "similarity"
	StageGraph           = "causal_graph"
	StageRecommendations = "recommendations"
	StagePersist         = "persist_fingerprint"
)

// StageFailureModes is the declared failure policy of every stage.
var StageFailureModes = map[string]FailureMode{
	StageTimeline:        FailFatal,
	StageHypotheses:      FailDegrade,
	StageCalibration:     FailFatal,
	StageSimilarity:      FailDegrade,
	StageGraph:           FailFatal,
	StageRecommendations: FailIgnore,
	StagePersist:         FailIgnore,
}

// Dependencies are the collaborators of a Pipeline. Nil stage components are
// replaced by defaults; nil Recommender and Writer are skipped.
type Dependencies struct {
	Timeline    *TimelineBuilder
	Hypotheses  *HypothesisGenerator
	Calibrator  *Calibrator
	Similarity  *SimilarityMatcher
	Graph       *CausalGraphBuilder
	Recommender Recommender
	Writer      FingerprintWriter
}

// Pipeline orchestrates timeline, hypotheses and calibration in sequence, then
// similarity and causal graph concurrently, and assembles the report.
type Pipeline struct {
	logger      *slog.Logger
	timeline    *TimelineBuilder
	hypotheses  *HypothesisGenerator
	calibrator  *Calibrator
	similarity  *SimilarityMatcher
	graph       *CausalGraphBuilder
	recommender Recommender
	writer      FingerprintWriter
	now         func() time.Time
}

// NewPipeline constructs a new analysis pipeline.
func NewPipeline(logger *slog.Logger, deps Dependencies) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Timeline == nil {
		deps.Timeline = NewTimelineBuilder(DefaultTimelineOptions(), logger)
	}
	if deps.Hypotheses == nil {
		rules, _ := NewRuleEngineFromConfig(DefaultRules(), logger)
		deps.Hypotheses = NewHypothesisGenerator(rules, nil, DefaultHypothesisOptions(), logger)
	}
	if deps.Calibrator == nil {
		deps.Calibrator = NewCalibrator(DefaultCalibrationOptions(), logger)
	}
	if deps.Similarity == nil {
		deps.Similarity = NewSimilarityMatcher(nil, DefaultSimilarityOptions(), logger)
	}
	if deps.Graph == nil {
		deps.Graph = NewCausalGraphBuilder(0, logger)
	}

	return &Pipeline{
		logger:      logger,
		timeline:    deps.Timeline,
		hypotheses:  deps.Hypotheses,
		calibrator:  deps.Calibrator,
		similarity:  deps.Similarity,
		graph:       deps.Graph,
		recommender: deps.Recommender,
		writer:      deps.Writer,
		now:         time.Now,
	}
}

// Analyze runs the full analysis. Only an empty event set or a corrupted causal
// graph fail the call; every other stage failure is reflected in report flags.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) (models.Report, error) {
	ctx, span := tracing.StartSpan(ctx, "rca.analyze",
		attribute.String("incident_id", req.IncidentID),
		attribute.Int("events", len(req.Events)),
	)
	report, err := p.analyze(ctx, req)
	tracing.EndSpan(span, err)
	return report, err
}

// Explain reruns timeline, hypothesis and calibration stages for req and lays out
// the evidence for and against req.HypothesisID. An unknown ID yields
// *HypothesisNotFoundError.
func (p *Pipeline) Explain(ctx context.Context, req models.ExplainRequest) (models.HypothesisExplanation, error) {
	ctx, span := tracing.StartSpan(ctx, "rca.explain",
		attribute.String("incident_id", req.IncidentID),
		attribute.String("hypothesis_id", req.HypothesisID),
	)
	explanation, err := p.explain(ctx, req)
	tracing.EndSpan(span, err)
	return explanation, err
}

func (p *Pipeline) explain(ctx context.Context, req models.ExplainRequest) (models.HypothesisExplanation, error) {
	a, err := p.assess(ctx, req.AnalysisRequest)
	if err != nil {
		return models.HypothesisExplanation{}, err
	}
	out, err := ExplainHypothesis(a.timeline, a.calibration.Hypotheses, req.HypothesisID)
	if err != nil {
		return models.HypothesisExplanation{}, err
	}
	out.IncidentID = req.IncidentID
	out.DegradedReasoning = a.degradedReasoning
	return out, nil
}

// assessment is the output of the sequential stages.
type assessment struct {
	timeline          models.Timeline
	set               HypothesisSet
	degradedReasoning bool
	calibration       models.Calibration
}

// assess runs the sequential stages shared by analysis and explanation.
func (p *Pipeline) assess(ctx context.Context, req models.AnalysisRequest) (assessment, error) {
	var tl models.Timeline
	if _, err := p.runStage(ctx, StageTimeline, func(context.Context) error {
		var err error
		tl, err = p.timeline.Build(req.IncidentID, req.Events)
		return err
	}); err != nil {
		return assessment{}, err
	}

	var set HypothesisSet
	degradedReasoning, _ := p.runStage(ctx, StageHypotheses, func(ctx context.Context) error {
		set = p.hypotheses.Generate(ctx, req.IncidentID, tl)
		return set.OracleErr
	})

	var calibration models.Calibration
	if _, err := p.runStage(ctx, StageCalibration, func(context.Context) error {
		calibration = p.calibrator.Calibrate(set.Hypotheses, tl.Len())
		if len(calibration.Hypotheses) == 0 {
			return fmt.Errorf("calibration produced no hypotheses")
		}
		return nil
	}); err != nil {
		return assessment{}, err
	}
	return assessment{timeline: tl, set: set, degradedReasoning: degradedReasoning, calibration: calibration}, nil
}

func (p *Pipeline) analyze(ctx context.Context, req models.AnalysisRequest) (models.Report, error) {
	a, err := p.assess(ctx, req)
	if err != nil {
		return models.Report{}, err
	}
	tl, set, degradedReasoning, calibration := a.timeline, a.set, a.degradedReasoning, a.calibration

	fingerprint := extractors.BuildFingerprint(req.IncidentID, tl, calibration.Hypotheses)

	var (
		similar            []models.SimilarIncident
		degradedSimilarity bool
		graph              models.CausalGraph
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		degradedSimilarity, _ = p.runStage(gctx, StageSimilarity, func(ctx context.Context) error {
			var err error
			similar, err = p.similarity.Match(ctx, fingerprint)
			return err
		})
		return nil
	})
	g.Go(func() error {
		_, err := p.runStage(gctx, StageGraph, func(context.Context) error {
			var err error
			graph, err = p.graph.Build(tl, calibration.Hypotheses)
			return err
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Report{}, err
	}
	if similar == nil {
		similar = []models.SimilarIncident{}
	}

	report := models.Report{
		ReportID:            uuid.NewString(),
		IncidentID:          req.IncidentID,
		Severity:            models.MaxSeverity(tl.Events),
		ReliabilityFlag:     calibration.Reliability,
		Timeline:            tl,
		Hypotheses:          calibration.Hypotheses,
		Evidence:            calibration.Evidence,
		SimilarIncidents:    similar,
		CausalGraph:         graph,
		Impact:              buildImpact(tl),
		DegradedReasoning:   degradedReasoning,
		DegradedSimilarity:  degradedSimilarity,
		ReasoningCommentary: set.Commentary,
		Contrastive:         set.Contrastive,
		Recommendations:     []string{},
		CreatedAt:           p.now().UTC(),
	}
	if primary, ok := calibration.Primary(); ok {
		report.PrimaryCause = primary.CauseDescription
		report.Category = primary.Category
		report.Confidence = primary.Confidence()
	}

	if p.recommender != nil {
		_, _ = p.runStage(ctx, StageRecommendations, func(ctx context.Context) error {
			recs, err := p.recommender.Recommend(ctx, models.RecommendationRequest{
				TenantID:     req.TenantID,
				IncidentID:   req.IncidentID,
				Severity:     report.Severity,
				PrimaryCause: report.PrimaryCause,
				Category:     report.Category,
				Confidence:   report.Confidence,
				Hypotheses:   report.Hypotheses,
			})
			if err != nil {
				return err
			}
			if recs != nil {
				report.Recommendations = recs
			}
			return nil
		})
	}

	if p.writer != nil {
		_, _ = p.runStage(ctx, StagePersist, func(ctx context.Context) error {
			return p.writer.StoreFingerprint(ctx, models.HistoricalIncident{
				IncidentID:  req.IncidentID,
				Title:       report.PrimaryCause,
				Summary:     timelineSummary(tl),
				RootCause:   string(report.Category),
				Fingerprint: fingerprint,
				OccurredAt:  fingerprint.OccurredAt,
			})
		})
	}

	return report, nil
}

// runStage times and traces fn and applies the stage's declared failure mode.
// degraded is true when a non-fatal stage failed; err is only returned for fatal
// stages.
func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) error) (degraded bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "rca.stage."+name)
	start := time.Now()
	stageErr := fn(ctx)
	elapsed := time.Since(start)
	metrics.ObserveStage(name, elapsed)
	tracing.EndSpan(span, stageErr)

	if stageErr == nil {
		p.logger.Debug("stage completed", slog.String("stage", name), slog.Duration("elapsed", elapsed))
		return false, nil
	}

	switch StageFailureModes[name] {
	case FailDegrade:
		metrics.IncDegradation(name)
		p.logger.Warn("stage degraded", slog.String("stage", name), slog.Any("error", stageErr))
		return true, nil
	case FailIgnore:
		p.logger.Warn("stage failed", slog.String("stage", name), slog.Any("error", stageErr))
		return false, nil
	default:
		p.logger.Error("stage failed", slog.String("stage", name), slog.Any("error", stageErr))
		return false, stageErr
	}
}

const maxKeySignals = 10

func buildImpact(tl models.Timeline) models.ImpactSummary {
	impact := models.ImpactSummary{
		NumEvents:       tl.Len(),
		DurationMinutes: utils.DurationMinutes(tl.Start(), tl.End()),
	}
	for _, ev := range tl.Events {
		switch ev.Severity {
		case models.SeverityCritical:
			impact.NumCritical++
		case models.SeverityError:
			impact.NumErrors++
		default:
			continue
		}
		if len(impact.KeySignals) < maxKeySignals {
			signal := strings.TrimSpace(ev.Message)
			if ev.Source != "" {
				signal = ev.Source + ": " + signal
			}
			impact.KeySignals = append(impact.KeySignals, signal)
		}
	}
	return impact
}
