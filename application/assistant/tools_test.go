package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/application/ports"
	"datalens/domain/catalog"
	"datalens/domain/conversation"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

type stubResolver struct {
	mapping map[string]string
}

func (r *stubResolver) ResolveTerm(_ context.Context, term string) (*ports.TermResolution, error) {
	tag, ok := r.mapping[term]
	if !ok {
		return nil, apperrors.NewNotFoundError("term " + term)
	}
	return &ports.TermResolution{Term: term, SemanticTag: tag}, nil
}

func newTestToolset(t *testing.T, repo *stubRepository, resolver ports.SemanticResolver) *Toolset {
	t.Helper()
	return NewToolset(repo, &stubGraphs{g: newSchemaGraph(t)}, resolver)
}

func TestToolset_DefinitionsInRegistrationOrder(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	defs := ts.Definitions()
	require.Len(t, defs, 5)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	assert.Equal(t, []string{
		"list_data_products",
		"describe_table",
		"execute_query",
		"graph_neighbours",
		"find_fields_by_semantic_tag",
	}, names)

	for _, def := range defs {
		assert.NotEmpty(t, def.Description, "tool %s needs a description", def.Name)
		assert.Equal(t, "object", def.InputSchema["type"])
	}
}

func TestToolset_ListDataProducts(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	result, err := ts.Run(context.Background(), ports.ToolCall{
		Name:  "list_data_products",
		Input: map[string]interface{}{},
	}, conversation.Context{})
	require.NoError(t, err)

	payload := result.Payload.(map[string]interface{})
	products := payload["products"].([]catalog.ProductDescriptor)
	require.Len(t, products, 2)
	assert.Equal(t, "Invoice", products[0].Name)
}

func TestToolset_DescribeTableDefaultsSchemaFromSession(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	result, err := ts.Run(context.Background(), ports.ToolCall{
		Name:  "describe_table",
		Input: map[string]interface{}{"table": "Invoice"},
	}, conversation.Context{Schema: "default"})
	require.NoError(t, err)

	assert.Equal(t, []string{"default.Invoice"}, result.Sources)
	payload := result.Payload.(map[string]interface{})
	assert.Equal(t, "default", payload["schema"])

	_, err = ts.Run(context.Background(), ports.ToolCall{
		Name:  "describe_table",
		Input: map[string]interface{}{},
	}, conversation.Context{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestToolset_ExecuteQueryCoercesArguments(t *testing.T) {
	repo := newStubRepository()
	var gotSQL string
	var gotParams []interface{}
	var gotLimit int
	repo.queryFn = func(_ context.Context, sql string, params []interface{}, limit int) (*catalog.QueryResult, error) {
		gotSQL, gotParams, gotLimit = sql, params, limit
		return &catalog.QueryResult{RowCount: 0}, nil
	}
	ts := newTestToolset(t, repo, nil)

	_, err := ts.Run(context.Background(), ports.ToolCall{
		Name: "execute_query",
		Input: map[string]interface{}{
			"sql":    "SELECT * FROM {{Invoice}} WHERE status = ?",
			"params": []interface{}{"open"},
			"limit":  float64(5),
		},
	}, conversation.Context{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM {{Invoice}} WHERE status = ?", gotSQL)
	assert.Equal(t, []interface{}{"open"}, gotParams)
	assert.Equal(t, 5, gotLimit)

	_, err = ts.Run(context.Background(), ports.ToolCall{
		Name:  "execute_query",
		Input: map[string]interface{}{"sql": "SELECT 1"},
	}, conversation.Context{})
	require.NoError(t, err)
	assert.Equal(t, -1, gotLimit)

	_, err = ts.Run(context.Background(), ports.ToolCall{
		Name:  "execute_query",
		Input: map[string]interface{}{},
	}, conversation.Context{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestToolset_GraphNeighbours(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	result, err := ts.Run(context.Background(), ports.ToolCall{
		Name:  "graph_neighbours",
		Input: map[string]interface{}{"node_id": "table:default.Invoice"},
	}, conversation.Context{Schema: "default"})
	require.NoError(t, err)

	neighbourhood := result.Payload.(*graph.Graph)
	assert.True(t, neighbourhood.HasNode("table:default.Invoice"))
	assert.True(t, neighbourhood.HasNode("element:default.Invoice.currency_code"))
	assert.Equal(t, []string{"table:default.Invoice"}, result.Sources)

	_, err = ts.Run(context.Background(), ports.ToolCall{
		Name:  "graph_neighbours",
		Input: map[string]interface{}{"node_id": "table:default.Missing"},
	}, conversation.Context{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestToolset_FindFieldsBySemanticTag(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	result, err := ts.Run(context.Background(), ports.ToolCall{
		Name:  "find_fields_by_semantic_tag",
		Input: map[string]interface{}{"tag": "currency"},
	}, conversation.Context{Schema: "default"})
	require.NoError(t, err)

	payload := result.Payload.(map[string]interface{})
	fields := payload["fields"].([]fieldMatch)
	require.Len(t, fields, 1)
	assert.Equal(t, "default.Invoice.currency_code", fields[0].Field)
	assert.Equal(t, "default.Invoice", fields[0].Table)
	assert.Equal(t, "currency_code", fields[0].Column)
	assert.Equal(t, "Currency", fields[0].SemanticTag)
	assert.Equal(t, []string{"default.Invoice"}, result.Sources)
}

func TestToolset_FindFieldsResolvesBusinessTerms(t *testing.T) {
	resolver := &stubResolver{mapping: map[string]string{"money": "Currency"}}
	ts := newTestToolset(t, newStubRepository(), resolver)

	result, err := ts.Run(context.Background(), ports.ToolCall{
		Name:  "find_fields_by_semantic_tag",
		Input: map[string]interface{}{"tag": "money"},
	}, conversation.Context{Schema: "default"})
	require.NoError(t, err)

	payload := result.Payload.(map[string]interface{})
	assert.Equal(t, "Currency", payload["tag"])
	require.Len(t, payload["fields"].([]fieldMatch), 1)

	// Unknown terms fall back to literal tag matching
	result, err = ts.Run(context.Background(), ports.ToolCall{
		Name:  "find_fields_by_semantic_tag",
		Input: map[string]interface{}{"tag": "Currency"},
	}, conversation.Context{Schema: "default"})
	require.NoError(t, err)
	payload = result.Payload.(map[string]interface{})
	require.Len(t, payload["fields"].([]fieldMatch), 1)
}

func TestToolset_UnknownTool(t *testing.T) {
	ts := newTestToolset(t, newStubRepository(), nil)

	_, err := ts.Run(context.Background(), ports.ToolCall{Name: "drop_table"}, conversation.Context{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "drop_table")
}
