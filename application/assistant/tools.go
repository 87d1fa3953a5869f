package assistant

import (
	"context"
	"fmt"
	"strings"

	"datalens/application/ports"
	"datalens/domain/conversation"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

// defaultSchema scopes tool calls that name no schema and run in a session
// without a pinned one.
const defaultSchema = "default"

// defaultNeighbourDepth bounds graph_neighbours when the model omits depth
const defaultNeighbourDepth = 1

// ToolResult is one tool invocation outcome. Payload is serialized into the
// role=tool message; Sources feed the final response's source list.
type ToolResult struct {
	Payload interface{}
	Sources []string
}

type toolFunc func(ctx context.Context, input map[string]interface{}) (*ToolResult, error)

type tool struct {
	definition ports.ToolDefinition
	run        toolFunc
}

// Toolset is the tool catalogue one orchestrator exposes to the model. All
// data access funnels through the repository and graph cache contracts, so
// tool calls inherit their validation, deadlines, and retry behavior.
type Toolset struct {
	repo     ports.Repository
	graphs   ports.GraphProvider
	semantic ports.SemanticResolver

	order []string
	tools map[string]tool
}

// NewToolset builds the standard tool catalogue. The semantic resolver is
// optional; without it, find_fields_by_semantic_tag matches literal tags.
func NewToolset(repo ports.Repository, graphs ports.GraphProvider, semantic ports.SemanticResolver) *Toolset {
	ts := &Toolset{
		repo:     repo,
		graphs:   graphs,
		semantic: semantic,
		tools:    make(map[string]tool),
	}

	ts.register(ports.ToolDefinition{
		Name:        "list_data_products",
		Description: "Lists the data products available in the catalog with their schema and source.",
		InputSchema: objectSchema(nil, nil),
	}, ts.listDataProducts)

	ts.register(ports.ToolDefinition{
		Name:        "describe_table",
		Description: "Returns the columns of a table with types, labels, semantic tags, and nullability.",
		InputSchema: objectSchema(map[string]interface{}{
			"schema": stringProperty("Schema holding the table. Defaults to the session's schema."),
			"table":  stringProperty("Table or data product name."),
		}, []string{"table"}),
	}, ts.describeTable)

	ts.register(ports.ToolDefinition{
		Name:        "execute_query",
		Description: "Runs a read-only SQL query. Only SELECT and WITH statements are accepted. Reference data products as {{ProductName}}.",
		InputSchema: objectSchema(map[string]interface{}{
			"sql": stringProperty("The SELECT or WITH statement to run."),
			"params": map[string]interface{}{
				"type":        "array",
				"description": "Positional parameters bound to ? placeholders.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum rows to return. Omit for the default.",
			},
		}, []string{"sql"}),
	}, ts.executeQuery)

	ts.register(ports.ToolDefinition{
		Name:        "graph_neighbours",
		Description: "Returns the knowledge-graph neighbourhood of a node: related products, tables, and fields.",
		InputSchema: objectSchema(map[string]interface{}{
			"node_id": stringProperty("Graph node id, e.g. table:default.Invoice."),
			"depth": map[string]interface{}{
				"type":        "integer",
				"description": "Traversal depth. Defaults to 1.",
			},
			"schema": stringProperty("Schema whose graph is queried. Defaults to the session's schema."),
		}, []string{"node_id"}),
	}, ts.graphNeighbours)

	ts.register(ports.ToolDefinition{
		Name:        "find_fields_by_semantic_tag",
		Description: "Finds catalog fields carrying a semantic tag, resolving business terms to tags when a semantic layer is configured.",
		InputSchema: objectSchema(map[string]interface{}{
			"tag":    stringProperty("Semantic tag or business term, e.g. Currency."),
			"schema": stringProperty("Schema to search. Defaults to the session's schema."),
		}, []string{"tag"}),
	}, ts.findFieldsBySemanticTag)

	return ts
}

func (ts *Toolset) register(def ports.ToolDefinition, run toolFunc) {
	ts.order = append(ts.order, def.Name)
	ts.tools[def.Name] = tool{definition: def, run: run}
}

// Definitions returns the tool catalogue in registration order
func (ts *Toolset) Definitions() []ports.ToolDefinition {
	defs := make([]ports.ToolDefinition, 0, len(ts.order))
	for _, name := range ts.order {
		defs = append(defs, ts.tools[name].definition)
	}
	return defs
}

// Run executes one tool call. Missing schema arguments default to the
// session's pinned schema.
func (ts *Toolset) Run(ctx context.Context, call ports.ToolCall, sessionCtx conversation.Context) (*ToolResult, error) {
	entry, ok := ts.tools[call.Name]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown tool %q", call.Name))
	}

	input := make(map[string]interface{}, len(call.Input)+1)
	for k, v := range call.Input {
		input[k] = v
	}
	if _, has := input["schema"]; !has && sessionCtx.Schema != "" {
		input["schema"] = sessionCtx.Schema
	}
	return entry.run(ctx, input)
}

func (ts *Toolset) listDataProducts(ctx context.Context, _ map[string]interface{}) (*ToolResult, error) {
	products, err := ts.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Payload: map[string]interface{}{"products": products},
	}, nil
}

func (ts *Toolset) describeTable(ctx context.Context, input map[string]interface{}) (*ToolResult, error) {
	table := stringArg(input, "table")
	if table == "" {
		return nil, apperrors.NewValidationError("describe_table requires a table name")
	}
	schema := schemaArg(input)

	columns, err := ts.repo.DescribeTable(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Payload: map[string]interface{}{
			"schema":  schema,
			"table":   table,
			"columns": columns,
		},
		Sources: []string{schema + "." + table},
	}, nil
}

func (ts *Toolset) executeQuery(ctx context.Context, input map[string]interface{}) (*ToolResult, error) {
	sql := stringArg(input, "sql")
	if sql == "" {
		return nil, apperrors.NewValidationError("execute_query requires a sql statement")
	}

	var params []interface{}
	if raw, ok := input["params"].([]interface{}); ok {
		params = raw
	}

	limit := -1
	if raw, ok := input["limit"]; ok {
		limit = intArg(raw, -1)
	}

	result, err := ts.repo.ExecuteQuery(ctx, sql, params, limit)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Payload: result}, nil
}

func (ts *Toolset) graphNeighbours(ctx context.Context, input map[string]interface{}) (*ToolResult, error) {
	nodeID := stringArg(input, "node_id")
	if nodeID == "" {
		return nil, apperrors.NewValidationError("graph_neighbours requires a node_id")
	}
	depth := defaultNeighbourDepth
	if raw, ok := input["depth"]; ok {
		depth = intArg(raw, defaultNeighbourDepth)
	}
	schema := schemaArg(input)

	g, _, err := ts.graphs.GetOrRebuild(ctx, graph.KindSchema, schema)
	if err != nil {
		return nil, err
	}
	neighbourhood, err := g.Neighbours(nodeID, depth)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Payload: neighbourhood,
		Sources: []string{nodeID},
	}, nil
}

// fieldMatch is one find_fields_by_semantic_tag hit
type fieldMatch struct {
	Field       string `json:"field"`
	Table       string `json:"table"`
	Column      string `json:"column"`
	Label       string `json:"label,omitempty"`
	SemanticTag string `json:"semantic_tag"`
}

func (ts *Toolset) findFieldsBySemanticTag(ctx context.Context, input map[string]interface{}) (*ToolResult, error) {
	tag := stringArg(input, "tag")
	if tag == "" {
		return nil, apperrors.NewValidationError("find_fields_by_semantic_tag requires a tag")
	}
	schema := schemaArg(input)

	// A configured semantic layer may map a business term onto the
	// canonical tag; unknown terms fall through as literal tags.
	if ts.semantic != nil {
		resolution, err := ts.semantic.ResolveTerm(ctx, tag)
		if err == nil && resolution.SemanticTag != "" {
			tag = resolution.SemanticTag
		} else if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	g, _, err := ts.graphs.GetOrRebuild(ctx, graph.KindSchema, schema)
	if err != nil {
		return nil, err
	}

	matches := []fieldMatch{}
	sources := []string{}
	seenTables := map[string]struct{}{}
	for _, node := range g.Nodes {
		if node.Type != graph.NodeTypeElement {
			continue
		}
		nodeTag, _ := node.Properties["semantic_tag"].(string)
		if !strings.EqualFold(nodeTag, tag) {
			continue
		}
		field := strings.TrimPrefix(node.ID, "element:")
		table, column := splitFieldPath(field)
		matches = append(matches, fieldMatch{
			Field:       field,
			Table:       table,
			Column:      column,
			Label:       node.Label,
			SemanticTag: nodeTag,
		})
		if _, seen := seenTables[table]; !seen && table != "" {
			seenTables[table] = struct{}{}
			sources = append(sources, table)
		}
	}

	return &ToolResult{
		Payload: map[string]interface{}{
			"tag":    tag,
			"fields": matches,
		},
		Sources: sources,
	}, nil
}

// splitFieldPath separates "schema.table.column" into its table path and
// column name.
func splitFieldPath(field string) (table, column string) {
	idx := strings.LastIndex(field, ".")
	if idx < 0 {
		return "", field
	}
	return field[:idx], field[idx+1:]
}

func schemaArg(input map[string]interface{}) string {
	if schema := stringArg(input, "schema"); schema != "" {
		return schema
	}
	return defaultSchema
}

func stringArg(input map[string]interface{}, key string) string {
	value, _ := input[key].(string)
	return strings.TrimSpace(value)
}

// intArg converts a JSON-decoded numeric argument, which arrives as float64
func intArg(raw interface{}, fallback int) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func objectSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object"}
	if len(properties) > 0 {
		schema["properties"] = properties
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}
