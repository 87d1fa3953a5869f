// Package graph holds the semantic graph model shared by the cache engine,
// the knowledge-graph HTTP surface, and the assistant's graph tools.
//
// The JSON shape of these types is the generic interchange format: nodes
// carry "type", edges carry "source" and "target". Rendering dialects such
// as from/to/group are frontend adapter concerns and never appear here.
package graph

import (
	"fmt"

	pkgerrors "datalens/pkg/errors"
)

// Kind separates schema graphs (built from declarative metadata) from data
// graphs (built from live records).
type Kind string

const (
	KindSchema Kind = "schema"
	KindData   Kind = "data"
)

// ParseKind validates a graph kind received from a caller
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSchema, KindData:
		return Kind(s), nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown graph kind %q", s))
	}
}

// NodeType tags the entity class a node represents
type NodeType string

const (
	NodeTypeProduct NodeType = "product"
	NodeTypeTable   NodeType = "table"
	NodeTypeElement NodeType = "element"
	NodeTypeRecord  NodeType = "record"
)

// EdgeType tags the relationship class an edge represents
type EdgeType string

const (
	EdgeTypeContains    EdgeType = "contains"
	EdgeTypeForeignKey  EdgeType = "foreign_key"
	EdgeTypeAssociation EdgeType = "association"
	EdgeTypeComposition EdgeType = "composition"
)

// Cardinality of an edge's target side
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// JoinClause is one ON condition of an association or foreign key. It is the
// irreducible unit needed to synthesize JOIN statements and must survive
// every rebuild and serialization round-trip.
type JoinClause struct {
	LeftField   string `json:"left_field"`
	Op          string `json:"op"`
	RightEntity string `json:"right_entity"`
	RightField  string `json:"right_field"`
}

// Node is a vertex of a semantic graph
type Node struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Type       NodeType               `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge is a directed relationship between two nodes. Composition edges carry
// cascade-delete semantics in the "cascade_delete" property.
type Edge struct {
	SourceID    string                 `json:"source"`
	TargetID    string                 `json:"target"`
	Type        EdgeType               `json:"type"`
	Label       string                 `json:"label,omitempty"`
	Cardinality Cardinality            `json:"cardinality,omitempty"`
	Join        []JoinClause           `json:"join,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// Statistics summarizes a graph for status endpoints
type Statistics struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type,omitempty"`
	EdgesByType map[string]int `json:"edges_by_type,omitempty"`
}

// Graph is an immutable-once-published snapshot. Node and edge order is
// preserved through serialization so rebuilds of identical inputs diff
// deterministically.
type Graph struct {
	ID                string     `json:"id"`
	Kind              Kind       `json:"kind"`
	Nodes             []Node     `json:"nodes"`
	Edges             []Edge     `json:"edges"`
	Statistics        Statistics `json:"statistics"`
	SourceFingerprint string     `json:"source_fingerprint"`
}

// New creates an empty graph of the given kind
func New(id string, kind Kind) *Graph {
	return &Graph{
		ID:    id,
		Kind:  kind,
		Nodes: []Node{},
		Edges: []Edge{},
	}
}

// AddNode appends a node, rejecting duplicate ids
func (g *Graph) AddNode(node Node) error {
	if node.ID == "" {
		return pkgerrors.NewValidationError("node id cannot be empty")
	}
	for _, existing := range g.Nodes {
		if existing.ID == node.ID {
			return pkgerrors.NewConflictError(fmt.Sprintf("node %q already exists", node.ID))
		}
	}
	g.Nodes = append(g.Nodes, node)
	return nil
}

// AddEdge appends an edge. Both endpoints must already exist in the graph.
func (g *Graph) AddEdge(edge Edge) error {
	if !g.HasNode(edge.SourceID) {
		return pkgerrors.NewValidationError(fmt.Sprintf("edge source %q references a missing node", edge.SourceID))
	}
	if !g.HasNode(edge.TargetID) {
		return pkgerrors.NewValidationError(fmt.Sprintf("edge target %q references a missing node", edge.TargetID))
	}
	g.Edges = append(g.Edges, edge)
	return nil
}

// HasNode reports whether a node id exists in the graph
func (g *Graph) HasNode(id string) bool {
	for _, n := range g.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// NodeByID returns the node with the given id
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks the structural invariants: unique node ids and edge
// endpoints that reference existing nodes.
func (g *Graph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return pkgerrors.NewValidationError("node id cannot be empty")
		}
		if _, dup := seen[n.ID]; dup {
			return pkgerrors.NewValidationError(fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		if _, ok := seen[e.SourceID]; !ok {
			return pkgerrors.NewValidationError(fmt.Sprintf("edge source %q references a missing node", e.SourceID))
		}
		if _, ok := seen[e.TargetID]; !ok {
			return pkgerrors.NewValidationError(fmt.Sprintf("edge target %q references a missing node", e.TargetID))
		}
	}
	return nil
}

// RecomputeStatistics refreshes the cached counters from the current
// node and edge sets.
func (g *Graph) RecomputeStatistics() {
	stats := Statistics{
		NodeCount:   len(g.Nodes),
		EdgeCount:   len(g.Edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	for _, n := range g.Nodes {
		stats.NodesByType[string(n.Type)]++
	}
	for _, e := range g.Edges {
		stats.EdgesByType[string(e.Type)]++
	}
	g.Statistics = stats
}

// Neighbours returns the subgraph reachable from a start node within the
// given depth, following edges in both directions. Node and edge order
// follows breadth-first discovery order, so results are deterministic.
func (g *Graph) Neighbours(startID string, depth int) (*Graph, error) {
	start, ok := g.NodeByID(startID)
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node %q", startID))
	}
	if depth < 0 {
		return nil, pkgerrors.NewValidationError("depth cannot be negative")
	}

	sub := New(fmt.Sprintf("%s:neighbours:%s", g.ID, startID), g.Kind)
	sub.SourceFingerprint = g.SourceFingerprint

	visited := map[string]struct{}{startID: {}}
	_ = sub.AddNode(start)
	frontier := []string{startID}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			for _, e := range g.Edges {
				var other string
				switch id {
				case e.SourceID:
					other = e.TargetID
				case e.TargetID:
					other = e.SourceID
				default:
					continue
				}
				if _, seen := visited[other]; !seen {
					visited[other] = struct{}{}
					if node, found := g.NodeByID(other); found {
						_ = sub.AddNode(node)
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	for _, e := range g.Edges {
		_, hasSrc := visited[e.SourceID]
		_, hasDst := visited[e.TargetID]
		if hasSrc && hasDst {
			_ = sub.AddEdge(e)
		}
	}

	sub.RecomputeStatistics()
	return sub, nil
}

// Clone returns a deep copy. The cache hands out clones so callers can never
// mutate a published generation.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		ID:                g.ID,
		Kind:              g.Kind,
		Nodes:             make([]Node, len(g.Nodes)),
		Edges:             make([]Edge, len(g.Edges)),
		Statistics:        g.Statistics,
		SourceFingerprint: g.SourceFingerprint,
	}
	for i, n := range g.Nodes {
		clone.Nodes[i] = n
		clone.Nodes[i].Properties = cloneProperties(n.Properties)
	}
	for i, e := range g.Edges {
		clone.Edges[i] = e
		clone.Edges[i].Join = append([]JoinClause(nil), e.Join...)
		clone.Edges[i].Properties = cloneProperties(e.Properties)
	}
	if g.Statistics.NodesByType != nil {
		clone.Statistics.NodesByType = make(map[string]int, len(g.Statistics.NodesByType))
		for k, v := range g.Statistics.NodesByType {
			clone.Statistics.NodesByType[k] = v
		}
	}
	if g.Statistics.EdgesByType != nil {
		clone.Statistics.EdgesByType = make(map[string]int, len(g.Statistics.EdgesByType))
		for k, v := range g.Statistics.EdgesByType {
			clone.Statistics.EdgesByType[k] = v
		}
	}
	return clone
}

func cloneProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
