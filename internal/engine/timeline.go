package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// Explicit action tags accepted under models.MetadataActionKey.
const (
	ActionAcknowledgment = "acknowledgment"
	ActionMitigation     = "mitigation"
	ActionRecovery       = "recovery"
)

// TimelineOptions holds the keyword vocabularies used to spot boundary markers
// in event messages when no explicit action tag is present.
type TimelineOptions struct {
	MitigationKeywords     []string
	RecoveryKeywords       []string
	AcknowledgmentKeywords []string
}

// DefaultTimelineOptions returns the built-in marker vocabularies.
func DefaultTimelineOptions() TimelineOptions {
	return TimelineOptions{
		MitigationKeywords: []string{
			"restart", "restarted", "restarting",
			"rollback", "rolled back", "roll back", "rolling back",
			"failover", "failed over",
			"scale", "scaled", "scaling", "scale up", "scale out",
			"mitigate", "mitigated", "mitigating", "mitigation",
			"revert", "reverted", "drain", "drained",
			"reroute", "rerouted", "disable", "disabled", "hotfix",
		},
		RecoveryKeywords: []string{
			"recovered", "recovery", "resolved", "restored", "healthy",
			"back to normal", "stabilized", "stabilised", "operational",
		},
		AcknowledgmentKeywords: []string{
			"ack", "acked", "acknowledge", "acknowledged",
			"acknowledgment", "acknowledgement", "paged", "on call",
		},
	}
}

func (o TimelineOptions) withDefaults() TimelineOptions {
	def := DefaultTimelineOptions()
	if len(o.MitigationKeywords) == 0 {
		o.MitigationKeywords = def.MitigationKeywords
	}
	if len(o.RecoveryKeywords) == 0 {
		o.RecoveryKeywords = def.RecoveryKeywords
	}
	if len(o.AcknowledgmentKeywords) == 0 {
		o.AcknowledgmentKeywords = def.AcknowledgmentKeywords
	}
	return o
}

// TimelineBuilder orders events and partitions them into incident phases.
type TimelineBuilder struct {
	opts   TimelineOptions
	logger *slog.Logger
}

// NewTimelineBuilder constructs a TimelineBuilder. Empty vocabularies fall back
// to the defaults.
func NewTimelineBuilder(opts TimelineOptions, logger *slog.Logger) *TimelineBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimelineBuilder{opts: opts.withDefaults(), logger: logger}
}

type eventTags struct {
	ack        bool
	mitigation bool
	recovery   bool
}

func (b *TimelineBuilder) tag(ev models.Event) eventTags {
	if action := strings.ToLower(strings.TrimSpace(ev.MetadataString(models.MetadataActionKey))); action != "" {
		switch action {
		case ActionAcknowledgment, "acknowledgement", "ack":
			return eventTags{ack: true}
		case ActionMitigation, "remediation":
			return eventTags{mitigation: true}
		case ActionRecovery, "resolution":
			return eventTags{recovery: true}
		}
	}
	text := normalizeText(ev.Message)
	return eventTags{
		ack:        containsAffirmedPhrase(text, b.opts.AcknowledgmentKeywords),
		mitigation: containsAffirmedPhrase(text, b.opts.MitigationKeywords),
		recovery:   containsAffirmedPhrase(text, b.opts.RecoveryKeywords),
	}
}

// Build sorts events by timestamp (ties keep ingestion order) and segments them.
// Ingestion order is recorded in each event's Sequence. Missing boundary markers
// yield absent phases; only an empty input is an error.
func (b *TimelineBuilder) Build(incidentID string, events []models.Event) (models.Timeline, error) {
	if len(events) == 0 {
		return models.Timeline{}, &IncompleteTimelineError{IncidentID: incidentID}
	}

	ordered := make([]models.Event, len(events))
	for i, ev := range events {
		ev.Sequence = i
		ordered[i] = ev
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	tags := make([]eventTags, len(ordered))
	for i, ev := range ordered {
		tags[i] = b.tag(ev)
	}

	detection := -1
	for i, ev := range ordered {
		if ev.Severity == models.SeverityCritical {
			detection = i
			break
		}
	}

	// Markers must be strictly increasing in position so phases never overlap.
	mitigation := firstTagged(tags, detection+1, func(t eventTags) bool { return t.mitigation })
	after := detection
	if mitigation >= 0 {
		after = mitigation
	}
	resolution := firstTagged(tags, after+1, func(t eventTags) bool { return t.recovery })

	tl := models.Timeline{Events: ordered}
	boundaries := []struct {
		phase models.Phase
		index int
	}{
		{models.PhaseDetection, detection},
		{models.PhaseMitigation, mitigation},
		{models.PhaseResolution, resolution},
	}

	buckets := map[models.Phase][]models.Event{}
	for i, ev := range ordered {
		phase := models.PhasePrecursor
		for _, boundary := range boundaries {
			if boundary.index >= 0 && i >= boundary.index {
				phase = boundary.phase
			}
		}
		buckets[phase] = append(buckets[phase], ev)
	}

	tl.Precursors = segment(models.PhasePrecursor, buckets[models.PhasePrecursor])
	tl.Detection = segment(models.PhaseDetection, buckets[models.PhaseDetection])
	tl.Mitigation = segment(models.PhaseMitigation, buckets[models.PhaseMitigation])
	tl.Resolution = segment(models.PhaseResolution, buckets[models.PhaseResolution])

	for i, ev := range ordered {
		if tags[i].ack && (detection < 0 || i >= detection) {
			ts := ev.Timestamp
			tl.AcknowledgedAt = &ts
			break
		}
	}

	tl.Summaries = summarize(tl)

	b.logger.Debug("timeline built",
		slog.String("incident_id", incidentID),
		slog.Int("events", len(ordered)),
		slog.Int("precursors", len(tl.Precursors.Events)),
		slog.Bool("detection", tl.Detection.Present),
		slog.Bool("mitigation", tl.Mitigation.Present),
		slog.Bool("resolution", tl.Resolution.Present),
	)
	return tl, nil
}

func firstTagged(tags []eventTags, from int, match func(eventTags) bool) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(tags); i++ {
		if match(tags[i]) {
			return i
		}
	}
	return -1
}

func segment(phase models.Phase, events []models.Event) models.PhaseSegment {
	seg := models.PhaseSegment{Phase: phase, Events: events}
	if seg.Events == nil {
		seg.Events = []models.Event{}
		return seg
	}
	seg.Present = true
	seg.Start = events[0].Timestamp
	seg.End = events[len(events)-1].Timestamp
	return seg
}

// summarize renders a deterministic one-line story per populated segment.
func summarize(tl models.Timeline) []models.PhaseSummary {
	summaries := make([]models.PhaseSummary, 0, 4)
	for _, seg := range tl.Segments() {
		if !seg.Present {
			continue
		}
		first := seg.Events[0]
		last := seg.Events[len(seg.Events)-1]
		duration := utils.DurationMinutes(seg.Start, seg.End)

		var text string
		if len(seg.Events) == 1 {
			text = fmt.Sprintf("%s: 1 event at %s, %s reported %q",
				seg.Phase, first.Timestamp.UTC().Format("15:04:05"), first.Source, first.Message)
		} else {
			text = fmt.Sprintf("%s: %d events over %.1f min, from %s %q to %s %q",
				seg.Phase, len(seg.Events), duration, first.Source, first.Message, last.Source, last.Message)
		}
		summaries = append(summaries, models.PhaseSummary{
			Phase:           seg.Phase,
			Count:           len(seg.Events),
			DurationMinutes: duration,
			Summary:         text,
		})
	}
	return summaries
}

// timelineSummary joins the phase stories into a prompt-sized digest.
func timelineSummary(tl models.Timeline) string {
	lines := make([]string, 0, len(tl.Summaries)+1)
	if tl.AcknowledgedAt != nil {
		lines = append(lines, "acknowledged at "+tl.AcknowledgedAt.UTC().Format("15:04:05"))
	}
	for _, s := range tl.Summaries {
		lines = append(lines, s.Summary)
	}
	return strings.Join(lines, "\n")
}
