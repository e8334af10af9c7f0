package models

import "time"

// NodeKind distinguishes causal graph node roles.
type NodeKind string

const (
	NodeRootCause    NodeKind = "root-cause"
	NodeIntermediate NodeKind = "intermediate-failure"
	NodeImpact       NodeKind = "impact"
)

// CausalNode is a vertex in the causal dependency graph.
type CausalNode struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Kind       NodeKind  `json:"kind"`
	Category   Category  `json:"category,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CausalEdge states that From contributed to To with the given weight.
type CausalEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// CausalGraph is an acyclic graph; Nodes are in topological order.
type CausalGraph struct {
	Nodes []CausalNode `json:"nodes"`
	Edges []CausalEdge `json:"edges"`
}

// Node looks up a node by ID.
func (g CausalGraph) Node(id string) (CausalNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return CausalNode{}, false
}
