package graphcache

import (
	"context"
	"fmt"

	"datalens/application/ports"
	"datalens/domain/catalog"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

// SchemaBuilder assembles schema graphs from the catalog's declarative
// documents. The graph id is the schema name. Node ids are stable across
// rebuilds: "product:<name>", "table:<schema>.<table>",
// "element:<schema>.<table>.<column>".
type SchemaBuilder struct {
	source ports.SchemaSource
}

// NewSchemaBuilder creates a builder over the given schema source
func NewSchemaBuilder(source ports.SchemaSource) *SchemaBuilder {
	return &SchemaBuilder{source: source}
}

// schemaInputs is the full document set one build consumes. Fingerprints
// hash exactly this, so any catalog change invalidates the cache.
type schemaInputs struct {
	Products     []catalog.ProductDescriptor           `json:"products"`
	Tables       []catalog.TableDescriptor             `json:"tables"`
	Columns      map[string][]catalog.ColumnDescriptor `json:"columns"`
	Associations []catalog.AssociationDescriptor       `json:"associations"`
	TableProduct map[string]string                     `json:"table_product"`
}

func (b *SchemaBuilder) collect(ctx context.Context, schema string) (*schemaInputs, error) {
	products, err := b.source.Products(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading products")
	}
	tables, err := b.source.Tables(ctx, schema)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading tables")
	}
	if len(tables) == 0 {
		return nil, apperrors.NewNotFoundError("schema " + schema)
	}

	inputs := &schemaInputs{
		Products:     products,
		Tables:       tables,
		Columns:      make(map[string][]catalog.ColumnDescriptor, len(tables)),
		TableProduct: make(map[string]string, len(tables)),
	}
	for _, table := range tables {
		columns, err := b.source.Columns(ctx, table.Schema, table.Name)
		if err != nil {
			return nil, apperrors.Wrapf(err, "reading columns of %s.%s", table.Schema, table.Name)
		}
		inputs.Columns[table.Schema+"."+table.Name] = columns
	}

	associations, err := b.source.Associations(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading associations")
	}
	for _, assoc := range associations {
		if assoc.SourceSchema == schema {
			inputs.Associations = append(inputs.Associations, assoc)
		}
	}

	if lookup, ok := b.source.(interface {
		TableProduct(ctx context.Context, schema, table string) (string, error)
	}); ok {
		for _, table := range tables {
			product, err := lookup.TableProduct(ctx, table.Schema, table.Name)
			if err == nil {
				inputs.TableProduct[table.Schema+"."+table.Name] = product
			}
		}
	}
	return inputs, nil
}

// Fingerprint hashes the current catalog documents for the schema
func (b *SchemaBuilder) Fingerprint(ctx context.Context, schema string) (string, error) {
	inputs, err := b.collect(ctx, schema)
	if err != nil {
		return "", err
	}
	return graph.Fingerprint(inputs), nil
}

// Build assembles the schema graph: product nodes own table nodes, table
// nodes own element nodes, and associations become typed edges carrying
// their join conditions.
func (b *SchemaBuilder) Build(ctx context.Context, schema string) (*graph.Graph, error) {
	inputs, err := b.collect(ctx, schema)
	if err != nil {
		return nil, err
	}

	g := graph.New(schema, graph.KindSchema)

	for _, product := range inputs.Products {
		err := g.AddNode(graph.Node{
			ID:    "product:" + product.Name,
			Label: product.Name,
			Type:  graph.NodeTypeProduct,
			Properties: map[string]interface{}{
				"description": product.Description,
				"source":      product.Source,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	for _, table := range inputs.Tables {
		qualified := table.Schema + "." + table.Name
		tableNodeID := "table:" + qualified
		err := g.AddNode(graph.Node{
			ID:    tableNodeID,
			Label: table.Name,
			Type:  graph.NodeTypeTable,
			Properties: map[string]interface{}{
				"schema":      table.Schema,
				"description": table.Description,
			},
		})
		if err != nil {
			return nil, err
		}

		if product, ok := inputs.TableProduct[qualified]; ok && g.HasNode("product:"+product) {
			err := g.AddEdge(graph.Edge{
				SourceID:    "product:" + product,
				TargetID:    tableNodeID,
				Type:        graph.EdgeTypeContains,
				Cardinality: graph.CardinalityMany,
			})
			if err != nil {
				return nil, err
			}
		}

		for _, column := range inputs.Columns[qualified] {
			label := column.Label
			if label == "" {
				label = column.Name
			}
			properties := map[string]interface{}{
				"data_type": column.Type,
				"nullable":  column.Nullable,
			}
			if column.SemanticTag != "" {
				properties["semantic_tag"] = column.SemanticTag
			}
			if column.Length > 0 {
				properties["length"] = column.Length
			}
			if column.ValueListRef != "" {
				properties["value_list_ref"] = column.ValueListRef
			}
			if column.PrimaryKey {
				properties["primary_key"] = true
			}

			elementNodeID := fmt.Sprintf("element:%s.%s", qualified, column.Name)
			err := g.AddNode(graph.Node{
				ID:         elementNodeID,
				Label:      label,
				Type:       graph.NodeTypeElement,
				Properties: properties,
			})
			if err != nil {
				return nil, err
			}
			err = g.AddEdge(graph.Edge{
				SourceID:    tableNodeID,
				TargetID:    elementNodeID,
				Type:        graph.EdgeTypeContains,
				Cardinality: graph.CardinalityOne,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	for _, assoc := range inputs.Associations {
		edge, err := associationEdge(assoc)
		if err != nil {
			return nil, err
		}
		if err := g.AddEdge(edge); err != nil {
			return nil, apperrors.Wrapf(err, "association %s", assoc.Name)
		}
	}

	g.RecomputeStatistics()
	g.SourceFingerprint = graph.Fingerprint(inputs)
	return g, nil
}

// associationEdge converts a declared association into a graph edge. Join
// conditions convert one-to-one; losing one would break downstream JOIN
// synthesis.
func associationEdge(assoc catalog.AssociationDescriptor) (graph.Edge, error) {
	var edgeType graph.EdgeType
	switch assoc.Kind {
	case catalog.AssociationComposition:
		edgeType = graph.EdgeTypeComposition
	case catalog.AssociationForeignKey:
		edgeType = graph.EdgeTypeForeignKey
	case catalog.AssociationPlain:
		edgeType = graph.EdgeTypeAssociation
	default:
		return graph.Edge{}, apperrors.NewConfigError(fmt.Sprintf(
			"association %s has unknown kind %q", assoc.Name, assoc.Kind))
	}

	joins := make([]graph.JoinClause, len(assoc.Joins))
	for i, join := range assoc.Joins {
		joins[i] = graph.JoinClause{
			LeftField:   join.LeftField,
			Op:          join.Op,
			RightEntity: join.RightEntity,
			RightField:  join.RightField,
		}
	}

	label := assoc.Label
	if label == "" {
		label = assoc.Name
	}

	edge := graph.Edge{
		SourceID:    "table:" + assoc.SourceSchema + "." + assoc.SourceTable,
		TargetID:    "table:" + assoc.TargetSchema + "." + assoc.TargetTable,
		Type:        edgeType,
		Label:       label,
		Cardinality: graph.Cardinality(assoc.Cardinality),
		Join:        joins,
	}
	if assoc.CascadeDelete {
		edge.Properties = map[string]interface{}{"cascade_delete": true}
	}
	return edge, nil
}
