package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/incident-rca/internal/extractors"
	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/oracle"
)

// HypothesisOptions tunes evidence weighting.
type HypothesisOptions struct {
	// PhaseDecay multiplies evidence once per phase step after detection:
	// mitigation evidence weighs PhaseDecay, resolution PhaseDecay².
	PhaseDecay float64
	// OutlierBoost multiplies evidence from events with anomalous numeric metadata.
	OutlierBoost float64
	// OutlierThreshold is the z-score above which metadata counts as anomalous.
	OutlierThreshold float64
	// MaxAdjustment bounds the relative oracle score adjustment.
	MaxAdjustment float64
}

// DefaultHypothesisOptions returns the standard weighting.
func DefaultHypothesisOptions() HypothesisOptions {
	return HypothesisOptions{PhaseDecay: 0.5, OutlierBoost: 1.25, OutlierThreshold: 2.0, MaxAdjustment: 0.2}
}

func (o HypothesisOptions) withDefaults() HypothesisOptions {
	def := DefaultHypothesisOptions()
	if o.PhaseDecay <= 0 || o.PhaseDecay > 1 {
		o.PhaseDecay = def.PhaseDecay
	}
	if o.OutlierBoost < 1 {
		o.OutlierBoost = def.OutlierBoost
	}
	if o.OutlierThreshold <= 0 {
		o.OutlierThreshold = def.OutlierThreshold
	}
	if o.MaxAdjustment <= 0 || o.MaxAdjustment > 1 {
		o.MaxAdjustment = def.MaxAdjustment
	}
	return o
}

// HypothesisSet is the generator output.
type HypothesisSet struct {
	Hypotheses        []models.Hypothesis
	DegradedReasoning bool
	Commentary        string
	Contrastive       string
	// OracleErr is set when the oracle failed; it never aborts generation.
	OracleErr error
}

// HypothesisGenerator proposes candidate root causes from a timeline.
type HypothesisGenerator struct {
	rules     *RuleEngine
	oracle    oracle.Oracle
	extractor *extractors.MetadataExtractor
	opts      HypothesisOptions
	logger    *slog.Logger
}

// NewHypothesisGenerator constructs a generator. A nil oracle disables reasoning
// augmentation without marking reports degraded.
func NewHypothesisGenerator(rules *RuleEngine, reasoner oracle.Oracle, opts HypothesisOptions, logger *slog.Logger) *HypothesisGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &HypothesisGenerator{
		rules:     rules,
		oracle:    reasoner,
		extractor: extractors.NewMetadataExtractor(opts.OutlierThreshold),
		opts:      opts,
		logger:    logger,
	}
}

// Generate scores the rule pack against the timeline, deduplicates, consults the
// oracle and returns hypotheses ordered by raw score descending.
func (g *HypothesisGenerator) Generate(ctx context.Context, incidentID string, tl models.Timeline) HypothesisSet {
	candidates := g.scoreRules(tl)
	candidates = dedupe(candidates)

	set := HypothesisSet{}
	if len(candidates) == 0 {
		set.Hypotheses = []models.Hypothesis{fallbackHypothesis(tl)}
		return set
	}

	if g.oracle != nil {
		if err := g.augment(ctx, incidentID, tl, candidates, &set); err != nil {
			set.DegradedReasoning = true
			set.OracleErr = &ReasoningOracleError{Err: err}
			g.logger.Warn("reasoning oracle unavailable, using rule-based scores",
				slog.String("incident_id", incidentID), slog.Any("error", err))
		}
	}

	sortHypotheses(candidates)
	set.Hypotheses = candidates
	return set
}

func (g *HypothesisGenerator) scoreRules(tl models.Timeline) []models.Hypothesis {
	if g.rules == nil {
		return nil
	}

	outliers := extractors.OutlierSequences(g.extractor.Detect(tl.Events))
	phases := make(map[int]models.Phase, len(tl.Events))
	for _, seg := range tl.Segments() {
		for _, ev := range seg.Events {
			phases[ev.Sequence] = seg.Phase
		}
	}

	byRule := make(map[string]*models.Hypothesis)
	order := make([]string, 0)
	for _, ev := range tl.Events {
		normalized := normalizeText(ev.Message)
		for _, rule := range g.rules.rules {
			if !rule.Matches(ev, normalized) {
				continue
			}
			weight := rule.Score * g.decay(phases[ev.Sequence])
			if _, ok := outliers[ev.Sequence]; ok {
				weight *= g.opts.OutlierBoost
			}

			h, ok := byRule[rule.ID]
			if !ok {
				h = &models.Hypothesis{
					Category: rule.Category,
					RuleIDs:  []string{rule.ID},
				}
				byRule[rule.ID] = h
				order = append(order, rule.ID)
			}
			h.RawScore += weight
			h.SupportingEvents = append(h.SupportingEvents, ev.Ref())
		}
	}

	rulesByID := make(map[string]Rule, len(g.rules.rules))
	for _, rule := range g.rules.rules {
		rulesByID[rule.ID] = rule
	}

	out := make([]models.Hypothesis, 0, len(order))
	for _, id := range order {
		h := byRule[id]
		h.PrimarySource = primarySource(*h)
		h.CauseDescription = describe(rulesByID[id].Description, h.PrimarySource)
		out = append(out, *h)
	}
	return out
}

// decay weighs detection and precursor evidence fully and halves (by default)
// the weight for every phase after detection.
func (g *HypothesisGenerator) decay(phase models.Phase) float64 {
	switch phase {
	case models.PhaseMitigation:
		return g.opts.PhaseDecay
	case models.PhaseResolution:
		return g.opts.PhaseDecay * g.opts.PhaseDecay
	default:
		return 1
	}
}

func primarySource(h models.Hypothesis) string {
	seq := h.EarliestSequence()
	for _, ref := range h.SupportingEvents {
		if ref.Sequence == seq {
			return ref.Source
		}
	}
	return ""
}

func describe(description, source string) string {
	if source == "" {
		return description
	}
	return fmt.Sprintf("%s in %s", description, source)
}

// dedupe merges candidates sharing category and primary source, summing raw scores
// and uniting supporting events. IDs are assigned from the merge key; distinct
// keys whose slugs collide get a numeric suffix in first-seen order.
func dedupe(candidates []models.Hypothesis) []models.Hypothesis {
	type mergeKey struct {
		category models.Category
		source   string
	}
	merged := make(map[mergeKey]int)
	used := make(map[string]int)
	out := make([]models.Hypothesis, 0, len(candidates))
	for _, h := range candidates {
		key := mergeKey{category: h.Category, source: h.PrimarySource}
		idx, ok := merged[key]
		if !ok {
			h.ID = uniqueID(used, hypothesisID(h.Category, h.PrimarySource))
			merged[key] = len(out)
			out = append(out, h)
			continue
		}
		existing := &out[idx]
		existing.RawScore += h.RawScore
		existing.RuleIDs = appendUnique(existing.RuleIDs, h.RuleIDs...)
		existing.SupportingEvents = unionRefs(existing.SupportingEvents, h.SupportingEvents)
	}
	return out
}

func hypothesisID(category models.Category, source string) string {
	id := "hyp-" + string(category)
	if src := strings.TrimSpace(normalizeText(source)); src != "" {
		id += "-" + strings.ReplaceAll(src, " ", "-")
	}
	return id
}

func uniqueID(used map[string]int, base string) string {
	used[base]++
	if n := used[base]; n > 1 {
		id := fmt.Sprintf("%s-%d", base, n)
		for used[id] > 0 {
			n++
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[base] = n
		used[id]++
		return id
	}
	return base
}

func unionRefs(a, b []models.EventRef) []models.EventRef {
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]models.EventRef, 0, len(a)+len(b))
	for _, refs := range [][]models.EventRef{a, b} {
		for _, ref := range refs {
			if _, ok := seen[ref.Sequence]; ok {
				continue
			}
			seen[ref.Sequence] = struct{}{}
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (g *HypothesisGenerator) augment(ctx context.Context, incidentID string, tl models.Timeline, candidates []models.Hypothesis, set *HypothesisSet) error {
	req := oracle.Request{
		IncidentID:      incidentID,
		TimelineSummary: timelineSummary(tl),
		Candidates:      make([]oracle.Candidate, 0, len(candidates)),
	}
	for _, h := range candidates {
		req.Candidates = append(req.Candidates, oracle.Candidate{
			ID:          h.ID,
			Description: h.CauseDescription,
			Category:    string(h.Category),
			RawScore:    h.RawScore,
		})
	}

	resp, err := g.oracle.Assess(ctx, req)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(candidates))
	for i, h := range candidates {
		index[h.ID] = i
	}
	for _, a := range resp.Assessments {
		i, ok := index[a.ID]
		if !ok {
			continue
		}
		adj := clamp(a.Adjustment, -g.opts.MaxAdjustment, g.opts.MaxAdjustment)
		candidates[i].OracleAdjustment = adj
		candidates[i].RawScore *= 1 + adj
		candidates[i].Explanation = strings.TrimSpace(a.Explanation)
	}
	set.Commentary = strings.TrimSpace(resp.Commentary)
	set.Contrastive = strings.TrimSpace(resp.Contrastive)
	return nil
}

// fallbackHypothesis is emitted when no rule fires, so calibration always has a
// candidate. It carries zero evidence.
func fallbackHypothesis(tl models.Timeline) models.Hypothesis {
	anchor := tl.Events[0]
	if tl.Detection.Present {
		anchor = tl.Detection.Events[0]
	}
	return models.Hypothesis{
		ID:               hypothesisID(models.CategoryUnknown, anchor.Source),
		CauseDescription: describe("Undetermined cause", anchor.Source),
		Category:         models.CategoryUnknown,
		PrimarySource:    anchor.Source,
		SupportingEvents: []models.EventRef{anchor.Ref()},
	}
}

// sortHypotheses orders by raw score descending, then earliest supporting event,
// then description.
func sortHypotheses(hyps []models.Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool {
		if hyps[i].RawScore != hyps[j].RawScore {
			return hyps[i].RawScore > hyps[j].RawScore
		}
		if earlier, decided := supportPrecedes(hyps[i], hyps[j]); decided {
			return earlier
		}
		return hyps[i].CauseDescription < hyps[j].CauseDescription
	})
}

// supportPrecedes compares earliest supporting events. decided is false on a tie.
func supportPrecedes(a, b models.Hypothesis) (earlier bool, decided bool) {
	sa, sb := a.EarliestSequence(), b.EarliestSequence()
	switch {
	case sa < 0 && sb < 0:
		return false, false
	case sa < 0:
		return false, true
	case sb < 0:
		return true, true
	}
	ta, tb := a.EarliestSupport(), b.EarliestSupport()
	if !ta.Equal(tb) {
		return ta.Before(tb), true
	}
	if sa != sb {
		return sa < sb, true
	}
	return false, false
}
