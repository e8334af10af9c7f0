package engine

import (
	"log/slog"
	"sort"

	"github.com/miradorstack/incident-rca/internal/models"
)

// CalibrationOptions sets the separation margins behind the reliability flag.
type CalibrationOptions struct {
	// LowMargin: a top-two gap below it flags the result low.
	LowMargin float64
	// ModerateMargin: a top-two gap below it (and at least LowMargin) flags moderate.
	ModerateMargin float64
}

// DefaultCalibrationOptions returns margins 0.1 and 0.25.
func DefaultCalibrationOptions() CalibrationOptions {
	return CalibrationOptions{LowMargin: 0.1, ModerateMargin: 0.25}
}

// Calibrator turns raw plausibility scores into a confidence distribution over the
// current hypothesis set.
type Calibrator struct {
	opts   CalibrationOptions
	logger *slog.Logger
}

// NewCalibrator constructs a Calibrator.
func NewCalibrator(opts CalibrationOptions, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultCalibrationOptions()
	if opts.LowMargin <= 0 {
		opts.LowMargin = def.LowMargin
	}
	if opts.ModerateMargin < opts.LowMargin {
		opts.ModerateMargin = opts.LowMargin
	}
	return &Calibrator{opts: opts, logger: logger}
}

// Calibrate normalises raw scores by their sum, or uniformly when the sum is zero,
// marks the primary hypothesis and derives the reliability flag. The input slice is
// not modified.
func (c *Calibrator) Calibrate(hypotheses []models.Hypothesis, timelineLength int) models.Calibration {
	out := models.Calibration{
		Hypotheses: make([]models.Hypothesis, len(hypotheses)),
		Results:    make([]models.CalibrationResult, 0, len(hypotheses)),
	}
	copy(out.Hypotheses, hypotheses)

	total := 0.0
	for _, h := range out.Hypotheses {
		if h.RawScore > 0 {
			total += h.RawScore
		}
	}
	zeroEvidence := total <= 0

	for i := range out.Hypotheses {
		var conf float64
		if zeroEvidence {
			conf = 1 / float64(len(out.Hypotheses))
		} else {
			conf = clamp(out.Hypotheses[i].RawScore, 0, total) / total
		}
		out.Hypotheses[i].CalibratedConfidence = &conf
		out.Hypotheses[i].Primary = false
	}

	primary := -1
	for i, h := range out.Hypotheses {
		if primary < 0 || outranks(h, out.Hypotheses[primary]) {
			primary = i
		}
	}
	if primary >= 0 {
		out.Hypotheses[primary].Primary = true
		out.PrimaryID = out.Hypotheses[primary].ID
	}

	margin := topMargin(out.Hypotheses)
	out.Reliability = c.reliability(len(out.Hypotheses), margin, zeroEvidence)
	for _, h := range out.Hypotheses {
		out.Results = append(out.Results, models.CalibrationResult{
			HypothesisID:         h.ID,
			CalibratedConfidence: h.Confidence(),
			ReliabilityFlag:      out.Reliability,
		})
	}
	out.Evidence = models.EvidenceReport{
		TimelineLength: timelineLength,
		Candidates:     len(out.Hypotheses),
		TotalRawScore:  total,
		TopMargin:      margin,
		ZeroEvidence:   zeroEvidence,
	}

	c.logger.Debug("hypotheses calibrated",
		slog.Int("candidates", len(out.Hypotheses)),
		slog.String("primary", out.PrimaryID),
		slog.String("reliability", string(out.Reliability)),
		slog.Float64("margin", margin),
	)
	return out
}

// outranks reports whether a should be primary over b: higher confidence, then the
// earlier supporting event.
func outranks(a, b models.Hypothesis) bool {
	if a.Confidence() != b.Confidence() {
		return a.Confidence() > b.Confidence()
	}
	earlier, _ := supportPrecedes(a, b)
	return earlier
}

// topMargin is the gap between the two highest confidences, or the top confidence
// itself when there is a single candidate.
func topMargin(hypotheses []models.Hypothesis) float64 {
	confs := make([]float64, 0, len(hypotheses))
	for _, h := range hypotheses {
		confs = append(confs, h.Confidence())
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(confs)))
	switch len(confs) {
	case 0:
		return 0
	case 1:
		return confs[0]
	default:
		return confs[0] - confs[1]
	}
}

func (c *Calibrator) reliability(candidates int, margin float64, zeroEvidence bool) models.Reliability {
	switch {
	case candidates == 0 || zeroEvidence:
		return models.ReliabilityLow
	case margin < c.opts.LowMargin:
		return models.ReliabilityLow
	case margin < c.opts.ModerateMargin:
		return models.ReliabilityModerate
	default:
		return models.ReliabilityHigh
	}
}
