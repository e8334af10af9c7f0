package extractors

import (
	"sort"
	"time"

	"github.com/miradorstack/incident-rca/internal/models"
)

// SourceProfile summarises how one source behaved across the timeline.
type SourceProfile struct {
	Source              string
	Events              int
	FirstSeen           time.Time
	LastSeen            time.Time
	MaxSeverity         models.Severity
	CriticalInDetection bool
}

// SourceProfiles returns per-source statistics keyed by source name.
func SourceProfiles(tl models.Timeline) map[string]SourceProfile {
	profiles := make(map[string]SourceProfile)
	for _, ev := range tl.Events {
		p, ok := profiles[ev.Source]
		if !ok {
			p = SourceProfile{Source: ev.Source, FirstSeen: ev.Timestamp, MaxSeverity: ev.Severity}
		}
		p.Events++
		if ev.Timestamp.Before(p.FirstSeen) {
			p.FirstSeen = ev.Timestamp
		}
		if ev.Timestamp.After(p.LastSeen) {
			p.LastSeen = ev.Timestamp
		}
		if ev.Severity > p.MaxSeverity {
			p.MaxSeverity = ev.Severity
		}
		profiles[ev.Source] = p
	}
	for _, ev := range tl.Detection.Events {
		if ev.Severity != models.SeverityCritical {
			continue
		}
		p := profiles[ev.Source]
		p.CriticalInDetection = true
		profiles[ev.Source] = p
	}
	return profiles
}

// Sources lists the distinct event sources in timeline order of first appearance.
func Sources(tl models.Timeline) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ev := range tl.Events {
		if _, ok := seen[ev.Source]; ok {
			continue
		}
		seen[ev.Source] = struct{}{}
		out = append(out, ev.Source)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
