package graphcache

import (
	"context"
	"fmt"

	"datalens/application/ports"
	"datalens/domain/catalog"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

// defaultMaxRecords bounds how many rows per table a data graph absorbs
const defaultMaxRecords = 200

// DataBuilder assembles data graphs from live records of the embedded
// backend. The graph id is a product name; the graph holds an anchor node
// for the product, record nodes for its rows, and edges that follow the
// product's declared associations through actual key values.
type DataBuilder struct {
	repo       ports.Repository
	source     ports.SchemaSource
	maxRecords int
}

// NewDataBuilder creates a builder reading rows from repo and structure
// from source
func NewDataBuilder(repo ports.Repository, source ports.SchemaSource, maxRecords int) *DataBuilder {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	return &DataBuilder{repo: repo, source: source, maxRecords: maxRecords}
}

// dataScope is the structure a data graph build walks: the product's root
// table and the associations fanning out from it.
type dataScope struct {
	product      catalog.ProductDescriptor
	rootTable    string
	schema       string
	associations []catalog.AssociationDescriptor
}

func (b *DataBuilder) scope(ctx context.Context, product string) (*dataScope, error) {
	products, err := b.source.Products(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading products")
	}
	var found *catalog.ProductDescriptor
	for i := range products {
		if products[i].Name == product {
			found = &products[i]
			break
		}
	}
	if found == nil {
		return nil, apperrors.NewNotFoundError("data product " + product)
	}

	// The root table carries the product's name by catalog convention
	tables, err := b.source.Tables(ctx, found.Schema)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading tables")
	}
	rootExists := false
	for _, table := range tables {
		if table.Name == product {
			rootExists = true
			break
		}
	}
	if !rootExists {
		return nil, apperrors.NewNotFoundError("root table of product " + product)
	}

	associations, err := b.source.Associations(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading associations")
	}
	scope := &dataScope{product: *found, rootTable: product, schema: found.Schema}
	for _, assoc := range associations {
		if assoc.SourceSchema == found.Schema && assoc.SourceTable == product {
			scope.associations = append(scope.associations, assoc)
		}
	}
	return scope, nil
}

// Fingerprint hashes the row counts of every table the graph would absorb
// plus the association structure. Inserts and deletes invalidate the cache;
// in-place updates require a forced rebuild.
func (b *DataBuilder) Fingerprint(ctx context.Context, product string) (string, error) {
	scope, err := b.scope(ctx, product)
	if err != nil {
		return "", err
	}

	counts := map[string]interface{}{}
	for _, table := range scope.tableSet() {
		result, err := b.repo.ExecuteQuery(ctx,
			fmt.Sprintf(`SELECT COUNT(*) AS n FROM %q`, table), nil, 1)
		if err != nil {
			return "", err
		}
		if result.RowCount > 0 {
			counts[table] = result.Rows[0]["n"]
		}
	}
	return graph.Fingerprint(product, scope.associations, counts), nil
}

func (s *dataScope) tableSet() []string {
	tables := []string{s.rootTable}
	seen := map[string]bool{s.rootTable: true}
	for _, assoc := range s.associations {
		if !seen[assoc.TargetTable] {
			seen[assoc.TargetTable] = true
			tables = append(tables, assoc.TargetTable)
		}
	}
	return tables
}

// Build assembles the data graph for one product
func (b *DataBuilder) Build(ctx context.Context, product string) (*graph.Graph, error) {
	scope, err := b.scope(ctx, product)
	if err != nil {
		return nil, err
	}

	g := graph.New(product, graph.KindData)
	err = g.AddNode(graph.Node{
		ID:    "product:" + product,
		Label: product,
		Type:  graph.NodeTypeProduct,
		Properties: map[string]interface{}{
			"schema": scope.schema,
		},
	})
	if err != nil {
		return nil, err
	}

	rootRows, rootIDs, err := b.recordNodes(ctx, g, scope.schema, scope.rootTable)
	if err != nil {
		return nil, err
	}
	for _, nodeID := range rootIDs {
		err := g.AddEdge(graph.Edge{
			SourceID:    "product:" + product,
			TargetID:    nodeID,
			Type:        graph.EdgeTypeContains,
			Cardinality: graph.CardinalityMany,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, assoc := range scope.associations {
		targetRows, _, err := b.recordNodes(ctx, g, scope.schema, assoc.TargetTable)
		if err != nil {
			return nil, err
		}
		if err := b.linkRecords(g, scope.rootTable, rootRows, assoc, targetRows); err != nil {
			return nil, err
		}
	}

	g.RecomputeStatistics()
	fingerprint, err := b.Fingerprint(ctx, product)
	if err != nil {
		return nil, err
	}
	g.SourceFingerprint = fingerprint
	return g, nil
}

// record pairs a row with the node id it produced
type record struct {
	nodeID string
	row    map[string]interface{}
}

// recordNodes queries one table and adds a node per row, skipping tables
// already absorbed. Node ids are "record:<table>/<key>".
func (b *DataBuilder) recordNodes(ctx context.Context, g *graph.Graph, schema, table string) ([]record, []string, error) {
	columns, err := b.source.Columns(ctx, schema, table)
	if err != nil {
		return nil, nil, apperrors.Wrapf(err, "reading columns of %s.%s", schema, table)
	}
	keyColumn, labelColumn := keyAndLabelColumns(columns)

	result, err := b.repo.ExecuteQuery(ctx,
		fmt.Sprintf(`SELECT * FROM %q`, table), nil, b.maxRecords)
	if err != nil {
		return nil, nil, apperrors.Wrapf(err, "reading rows of %s", table)
	}

	records := make([]record, 0, len(result.Rows))
	nodeIDs := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		key := fmt.Sprintf("%v", row[keyColumn])
		nodeID := fmt.Sprintf("record:%s/%s", table, key)

		label := key
		if labelColumn != "" {
			if v, ok := row[labelColumn]; ok && v != nil {
				label = fmt.Sprintf("%v", v)
			}
		}

		if !g.HasNode(nodeID) {
			properties := make(map[string]interface{}, len(row)+1)
			for k, v := range row {
				properties[k] = v
			}
			properties["table"] = table
			err := g.AddNode(graph.Node{
				ID:         nodeID,
				Label:      label,
				Type:       graph.NodeTypeRecord,
				Properties: properties,
			})
			if err != nil {
				return nil, nil, err
			}
		}
		records = append(records, record{nodeID: nodeID, row: row})
		nodeIDs = append(nodeIDs, nodeID)
	}
	return records, nodeIDs, nil
}

// linkRecords adds one edge per (source, target) row pair whose values
// satisfy every join condition of the association.
func (b *DataBuilder) linkRecords(g *graph.Graph, sourceTable string, sources []record, assoc catalog.AssociationDescriptor, targets []record) error {
	var edgeType graph.EdgeType
	switch assoc.Kind {
	case catalog.AssociationComposition:
		edgeType = graph.EdgeTypeComposition
	case catalog.AssociationForeignKey:
		edgeType = graph.EdgeTypeForeignKey
	default:
		edgeType = graph.EdgeTypeAssociation
	}

	for _, source := range sources {
		for _, target := range targets {
			if !joinsMatch(source.row, target.row, assoc.Joins) {
				continue
			}
			edge := graph.Edge{
				SourceID:    source.nodeID,
				TargetID:    target.nodeID,
				Type:        edgeType,
				Label:       assoc.Name,
				Cardinality: graph.Cardinality(assoc.Cardinality),
			}
			if assoc.CascadeDelete {
				edge.Properties = map[string]interface{}{"cascade_delete": true}
			}
			if err := g.AddEdge(edge); err != nil {
				return apperrors.Wrapf(err, "linking %s", assoc.Name)
			}
		}
	}
	return nil
}

// joinsMatch reports whether every join condition holds between two rows.
// Values are compared through their string form, which unifies the numeric
// types different drivers return.
func joinsMatch(source, target map[string]interface{}, joins []catalog.JoinCondition) bool {
	if len(joins) == 0 {
		return false
	}
	for _, join := range joins {
		left, leftOK := source[join.LeftField]
		right, rightOK := target[join.RightField]
		if !leftOK || !rightOK || left == nil || right == nil {
			return false
		}
		if fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right) {
			return false
		}
	}
	return true
}

// keyAndLabelColumns picks the row-key column (first declared primary key,
// else "id", else the first column) and a display column when one is tagged.
func keyAndLabelColumns(columns []catalog.ColumnDescriptor) (string, string) {
	key := ""
	label := ""
	for _, column := range columns {
		if column.PrimaryKey && key == "" {
			key = column.Name
		}
		if column.SemanticTag == "display_name" && label == "" {
			label = column.Name
		}
	}
	if key == "" {
		for _, column := range columns {
			if column.Name == "id" {
				key = "id"
				break
			}
		}
	}
	if key == "" && len(columns) > 0 {
		key = columns[0].Name
	}
	return key, label
}
