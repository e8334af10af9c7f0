package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/incident-rca/internal/extractors"
	"github.com/miradorstack/incident-rca/internal/metrics"
	"github.com/miradorstack/incident-rca/internal/models"
)

// ImpactNodeID identifies the synthetic user-visible impact node.
const ImpactNodeID = "impact"

// CausalGraphBuilder assembles the dependency graph from calibrated hypotheses.
type CausalGraphBuilder struct {
	relevance float64
	logger    *slog.Logger
}

// NewCausalGraphBuilder constructs a builder. Hypotheses below relevance do not
// become root-cause nodes; a non-positive value defaults to 0.05.
func NewCausalGraphBuilder(relevance float64, logger *slog.Logger) *CausalGraphBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if relevance <= 0 || relevance > 1 {
		relevance = 0.05
	}
	return &CausalGraphBuilder{relevance: relevance, logger: logger}
}

// Build creates root-cause, intermediate and impact nodes and the edges between
// them. Edges running backwards in time are dropped. The finished graph is checked
// for acyclicity and returned with nodes in topological order.
func (b *CausalGraphBuilder) Build(tl models.Timeline, hypotheses []models.Hypothesis) (models.CausalGraph, error) {
	profiles := extractors.SourceProfiles(tl)
	nodes := make(map[string]models.CausalNode)
	edges := make([]models.CausalEdge, 0)

	impact := models.CausalNode{
		ID:         ImpactNodeID,
		Label:      impactLabel(tl),
		Kind:       models.NodeImpact,
		OccurredAt: impactTime(tl),
	}
	nodes[impact.ID] = impact

	retained := make([]models.Hypothesis, 0, len(hypotheses))
	for _, h := range hypotheses {
		if h.Confidence() >= b.relevance {
			retained = append(retained, h)
		}
	}

	// Intermediate node time is the earliest supporting event from that source
	// across every retained hypothesis.
	sourceTimes := make(map[string]time.Time)
	for _, h := range retained {
		for _, ref := range h.SupportingEvents {
			if t, ok := sourceTimes[ref.Source]; !ok || ref.Timestamp.Before(t) {
				sourceTimes[ref.Source] = ref.Timestamp
			}
		}
	}
	for source, ts := range sourceTimes {
		id := intermediateID(source)
		nodes[id] = models.CausalNode{
			ID:         id,
			Label:      source,
			Kind:       models.NodeIntermediate,
			OccurredAt: ts,
		}
	}

	for _, h := range retained {
		sources := supportSources(h)
		root := models.CausalNode{
			ID:         rootID(h.ID),
			Label:      h.CauseDescription,
			Kind:       models.NodeRootCause,
			Category:   h.Category,
			OccurredAt: rootTime(h, sources, sourceTimes),
		}
		nodes[root.ID] = root

		for _, source := range sources {
			edges = b.addEdge(edges, root, nodes[intermediateID(source)], h.Confidence())
		}
	}

	allSources := make([]string, 0, len(sourceTimes))
	for source := range sourceTimes {
		allSources = append(allSources, source)
	}
	sort.Strings(allSources)
	for _, source := range allSources {
		profile := profiles[source]
		weight := fractionalWeight(profile.MaxSeverity)
		if profile.CriticalInDetection {
			weight = 1
		}
		edges = b.addEdge(edges, nodes[intermediateID(source)], impact, weight)
	}

	ordered, err := topoSort(nodes, edges)
	if err != nil {
		return models.CausalGraph{}, err
	}
	return models.CausalGraph{Nodes: ordered, Edges: edges}, nil
}

func (b *CausalGraphBuilder) addEdge(edges []models.CausalEdge, from, to models.CausalNode, weight float64) []models.CausalEdge {
	if from.OccurredAt.After(to.OccurredAt) {
		metrics.IncDroppedEdge()
		b.logger.Warn("dropping causal edge against timeline order",
			slog.String("from", from.ID),
			slog.String("to", to.ID),
			slog.Time("from_time", from.OccurredAt),
			slog.Time("to_time", to.OccurredAt),
		)
		return edges
	}
	return append(edges, models.CausalEdge{From: from.ID, To: to.ID, Weight: clamp(weight, 0, 1)})
}

// fractionalWeight maps severity proportionally onto (0,1) so only a critical
// detection-phase signal earns full weight.
func fractionalWeight(sev models.Severity) float64 {
	return float64(sev+1) / float64(models.SeverityCritical+2)
}

// rootTime is the hypothesis's earliest supporting event, pulled back to the
// first failure any retained hypothesis saw in one of its sources. A cause
// cannot start after the components it explains were already failing.
func rootTime(h models.Hypothesis, sources []string, sourceTimes map[string]time.Time) time.Time {
	ts := h.EarliestSupport()
	for _, source := range sources {
		if st, ok := sourceTimes[source]; ok && st.Before(ts) {
			ts = st
		}
	}
	return ts
}

func supportSources(h models.Hypothesis) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ref := range h.SupportingEvents {
		if _, ok := seen[ref.Source]; ok {
			continue
		}
		seen[ref.Source] = struct{}{}
		out = append(out, ref.Source)
	}
	sort.Strings(out)
	return out
}

// impactTime is the last detection-phase event, or the last event when detection
// is absent.
func impactTime(tl models.Timeline) time.Time {
	if tl.Detection.Present {
		return tl.Detection.End
	}
	return tl.End()
}

func impactLabel(tl models.Timeline) string {
	sev := models.MaxSeverity(tl.Events)
	return fmt.Sprintf("user-visible impact (%s)", sev)
}

func rootID(hypothesisID string) string { return "cause:" + hypothesisID }

func intermediateID(source string) string { return "source:" + source }

var kindRank = map[models.NodeKind]int{
	models.NodeRootCause:    0,
	models.NodeIntermediate: 1,
	models.NodeImpact:       2,
}

// topoSort runs Kahn's algorithm, releasing ready nodes by time, kind and ID so the
// order is deterministic. Any leftover node means a cycle.
func topoSort(nodes map[string]models.CausalNode, edges []models.CausalEdge) ([]models.CausalNode, error) {
	indegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for id := range nodes {
		indegree[id] = 0
	}
	for _, e := range edges {
		if _, ok := nodes[e.From]; !ok {
			return nil, &GraphInvariantViolation{Reason: "edge references unknown node " + e.From}
		}
		if _, ok := nodes[e.To]; !ok {
			return nil, &GraphInvariantViolation{Reason: "edge references unknown node " + e.To}
		}
		if nodes[e.From].OccurredAt.After(nodes[e.To].OccurredAt) {
			return nil, &GraphInvariantViolation{Reason: fmt.Sprintf("edge %s -> %s runs backwards in time", e.From, e.To)}
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
		indegree[e.To]++
	}

	less := func(a, b models.CausalNode) bool {
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if kindRank[a.Kind] != kindRank[b.Kind] {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		return a.ID < b.ID
	}

	ready := make([]models.CausalNode, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, nodes[id])
		}
	}

	ordered := make([]models.CausalNode, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)
		for _, to := range adjacency[next.ID] {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, nodes[to])
			}
		}
	}

	if len(ordered) != len(nodes) {
		return nil, &GraphInvariantViolation{Reason: fmt.Sprintf("cycle detected: %d of %d nodes sorted", len(ordered), len(nodes))}
	}
	return ordered, nil
}
