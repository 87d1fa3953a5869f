package graph

import (
	"encoding/json"

	pkgerrors "datalens/pkg/errors"
)

// Marshal serializes a graph into the generic interchange format. Node and
// edge order is preserved byte-for-byte across identical inputs.
func Marshal(g *Graph) ([]byte, error) {
	payload, err := json.Marshal(g)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "serializing graph")
	}
	return payload, nil
}

// Unmarshal parses the generic interchange format and verifies the
// structural invariants before returning the graph.
func Unmarshal(payload []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, pkgerrors.NewCacheCorruptError("", "", err)
	}
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	if err := g.Validate(); err != nil {
		return nil, pkgerrors.NewCacheCorruptError(string(g.Kind), g.ID, err)
	}
	return &g, nil
}
