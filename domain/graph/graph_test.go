package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "datalens/pkg/errors"
)

func buildInvoiceGraph(t *testing.T) *Graph {
	t.Helper()

	g := New("default", KindSchema)
	require.NoError(t, g.AddNode(Node{ID: "product:Invoice", Label: "Invoice", Type: NodeTypeProduct}))
	require.NoError(t, g.AddNode(Node{ID: "table:sales.Invoice", Label: "Invoice", Type: NodeTypeTable}))
	require.NoError(t, g.AddNode(Node{ID: "table:sales.Customer", Label: "Customer", Type: NodeTypeTable}))
	require.NoError(t, g.AddNode(Node{ID: "element:sales.Invoice.customer_id", Label: "customer_id", Type: NodeTypeElement}))

	require.NoError(t, g.AddEdge(Edge{
		SourceID: "product:Invoice", TargetID: "table:sales.Invoice",
		Type: EdgeTypeContains, Cardinality: CardinalityMany,
	}))
	require.NoError(t, g.AddEdge(Edge{
		SourceID: "table:sales.Invoice", TargetID: "element:sales.Invoice.customer_id",
		Type: EdgeTypeContains, Cardinality: CardinalityOne,
	}))
	require.NoError(t, g.AddEdge(Edge{
		SourceID: "table:sales.Invoice", TargetID: "table:sales.Customer",
		Type: EdgeTypeAssociation, Label: "billed_to", Cardinality: CardinalityOne,
		Join: []JoinClause{{LeftField: "customer_id", Op: "=", RightEntity: "sales.Customer", RightField: "id"}},
	}))

	g.RecomputeStatistics()
	g.SourceFingerprint = Fingerprint("sales-schema-v1")
	return g
}

func TestAddEdgeRejectsMissingEndpoints(t *testing.T) {
	g := New("default", KindSchema)
	require.NoError(t, g.AddNode(Node{ID: "a", Type: NodeTypeTable}))

	err := g.AddEdge(Edge{SourceID: "a", TargetID: "ghost", Type: EdgeTypeAssociation})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	err = g.AddEdge(Edge{SourceID: "ghost", TargetID: "a", Type: EdgeTypeAssociation})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	g := New("default", KindSchema)
	require.NoError(t, g.AddNode(Node{ID: "a", Type: NodeTypeTable}))

	err := g.AddNode(Node{ID: "a", Type: NodeTypeTable})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestValidateCatchesDanglingEdges(t *testing.T) {
	g := buildInvoiceGraph(t)
	require.NoError(t, g.Validate())

	// Simulate a corrupted payload that references a deleted node
	g.Edges = append(g.Edges, Edge{SourceID: "table:sales.Invoice", TargetID: "gone", Type: EdgeTypeAssociation})
	assert.Error(t, g.Validate())
}

func TestSerializationRoundTripIsIdentity(t *testing.T) {
	original := buildInvoiceGraph(t)

	payload, err := Marshal(original)
	require.NoError(t, err)

	restored, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	// Round-tripping again yields the same bytes, order preserved
	payload2, err := Marshal(restored)
	require.NoError(t, err)
	assert.Equal(t, payload, payload2)
}

func TestSerializationUsesGenericFieldNames(t *testing.T) {
	g := buildInvoiceGraph(t)

	payload, err := Marshal(g)
	require.NoError(t, err)

	assert.Contains(t, string(payload), `"source"`)
	assert.Contains(t, string(payload), `"target"`)
	assert.NotContains(t, string(payload), `"from"`)
	assert.NotContains(t, string(payload), `"to":`)
	assert.NotContains(t, string(payload), `"group"`)
}

func TestUnmarshalRejectsCorruptPayloads(t *testing.T) {
	_, err := Unmarshal([]byte(`{"nodes": [`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCacheCorrupt(err))

	// Structurally invalid graphs are corrupt too
	_, err = Unmarshal([]byte(`{"id":"g","kind":"schema","nodes":[],"edges":[{"source":"x","target":"y","type":"association"}]}`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCacheCorrupt(err))
}

func TestNeighboursRespectsDepth(t *testing.T) {
	g := buildInvoiceGraph(t)

	depth1, err := g.Neighbours("product:Invoice", 1)
	require.NoError(t, err)
	assert.Len(t, depth1.Nodes, 2) // product + invoice table
	assert.Len(t, depth1.Edges, 1)

	depth2, err := g.Neighbours("product:Invoice", 2)
	require.NoError(t, err)
	assert.Len(t, depth2.Nodes, 4)
	assert.Len(t, depth2.Edges, 3)

	depth0, err := g.Neighbours("product:Invoice", 0)
	require.NoError(t, err)
	assert.Len(t, depth0.Nodes, 1)
	assert.Empty(t, depth0.Edges)
}

func TestNeighboursUnknownNode(t *testing.T) {
	g := buildInvoiceGraph(t)

	_, err := g.Neighbours("node:missing", 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestNeighboursKeepsJoinClauses(t *testing.T) {
	g := buildInvoiceGraph(t)

	sub, err := g.Neighbours("table:sales.Customer", 1)
	require.NoError(t, err)

	var association *Edge
	for i := range sub.Edges {
		if sub.Edges[i].Type == EdgeTypeAssociation {
			association = &sub.Edges[i]
		}
	}
	require.NotNil(t, association)
	require.Len(t, association.Join, 1)
	assert.Equal(t, "customer_id", association.Join[0].LeftField)
	assert.Equal(t, "sales.Customer", association.Join[0].RightEntity)
}

func TestCloneIsIndependent(t *testing.T) {
	g := buildInvoiceGraph(t)
	clone := g.Clone()

	require.Equal(t, g, clone)

	clone.Nodes[0].Properties = map[string]interface{}{"mutated": true}
	clone.Edges[2].Join[0].LeftField = "mutated"
	clone.Statistics.NodesByType["table"] = 99

	assert.Nil(t, g.Nodes[0].Properties)
	assert.Equal(t, "customer_id", g.Edges[2].Join[0].LeftField)
	assert.Equal(t, 2, g.Statistics.NodesByType["table"])
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint([]string{"Invoice", "Customer"}, "v1")
	b := Fingerprint([]string{"Invoice", "Customer"}, "v1")
	c := Fingerprint([]string{"Invoice", "Customer"}, "v2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("schema")
	require.NoError(t, err)
	assert.Equal(t, KindSchema, kind)

	kind, err = ParseKind("data")
	require.NoError(t, err)
	assert.Equal(t, KindData, kind)

	_, err = ParseKind("hologram")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}
