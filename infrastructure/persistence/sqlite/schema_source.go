package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"datalens/domain/catalog"
	apperrors "datalens/pkg/errors"
)

// SchemaSource serves the declarative schema documents from the catalog
// tables. The schema-graph builder is its only consumer.
type SchemaSource struct {
	store *Store
}

// NewSchemaSource creates a schema source over the store
func NewSchemaSource(store *Store) *SchemaSource {
	return &SchemaSource{store: store}
}

// Products lists every data product
func (s *SchemaSource) Products(ctx context.Context) ([]catalog.ProductDescriptor, error) {
	var rows []struct {
		Name        string `db:"name"`
		Description string `db:"description"`
		Domain      string `db:"domain"`
		SchemaName  string `db:"schema_name"`
	}
	err := s.store.db.SelectContext(ctx, &rows,
		`SELECT name, description, domain, schema_name FROM data_products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("reading data products: %w", err)
	}

	products := make([]catalog.ProductDescriptor, len(rows))
	for i, row := range rows {
		products[i] = catalog.ProductDescriptor{
			Name:        row.Name,
			Description: row.Description,
			Schema:      row.SchemaName,
			Source:      row.Domain,
		}
	}
	return products, nil
}

// Tables lists the tables of a schema with their owning product
func (s *SchemaSource) Tables(ctx context.Context, schema string) ([]catalog.TableDescriptor, error) {
	var rows []struct {
		SchemaName  string `db:"schema_name"`
		TableName   string `db:"table_name"`
		Description string `db:"description"`
	}
	err := s.store.db.SelectContext(ctx, &rows,
		`SELECT schema_name, table_name, description FROM catalog_tables WHERE schema_name = ? ORDER BY table_name`,
		schema)
	if err != nil {
		return nil, fmt.Errorf("reading catalog tables: %w", err)
	}

	tables := make([]catalog.TableDescriptor, len(rows))
	for i, row := range rows {
		tables[i] = catalog.TableDescriptor{
			Schema:      row.SchemaName,
			Name:        row.TableName,
			Description: row.Description,
		}
	}
	return tables, nil
}

// TableProduct resolves the product owning a table
func (s *SchemaSource) TableProduct(ctx context.Context, schema, table string) (string, error) {
	var product string
	err := s.store.db.GetContext(ctx, &product,
		`SELECT product_name FROM catalog_tables WHERE schema_name = ? AND table_name = ?`,
		schema, table)
	if err != nil {
		return "", apperrors.NewNotFoundError("table " + schema + "." + table)
	}
	return product, nil
}

// Columns returns the annotated columns of one table in declared order
func (s *SchemaSource) Columns(ctx context.Context, schema, table string) ([]catalog.ColumnDescriptor, error) {
	var rows []struct {
		ColumnName   string `db:"column_name"`
		DataType     string `db:"data_type"`
		Label        string `db:"label"`
		SemanticTag  string `db:"semantic_tag"`
		Length       int    `db:"length"`
		Nullable     bool   `db:"nullable"`
		ValueListRef string `db:"value_list_ref"`
		PrimaryKey   bool   `db:"primary_key"`
	}
	err := s.store.db.SelectContext(ctx, &rows,
		`SELECT column_name, data_type, label, semantic_tag, length, nullable, value_list_ref, primary_key
		 FROM catalog_columns WHERE schema_name = ? AND table_name = ? ORDER BY ordinal`,
		schema, table)
	if err != nil {
		return nil, fmt.Errorf("reading catalog columns: %w", err)
	}

	columns := make([]catalog.ColumnDescriptor, len(rows))
	for i, row := range rows {
		columns[i] = catalog.ColumnDescriptor{
			Name:         row.ColumnName,
			Type:         row.DataType,
			Label:        row.Label,
			SemanticTag:  row.SemanticTag,
			Length:       row.Length,
			Nullable:     row.Nullable,
			ValueListRef: row.ValueListRef,
			PrimaryKey:   row.PrimaryKey,
		}
	}
	return columns, nil
}

// Associations returns every declared relationship with its join conditions
func (s *SchemaSource) Associations(ctx context.Context) ([]catalog.AssociationDescriptor, error) {
	var rows []struct {
		Name           string `db:"name"`
		SchemaName     string `db:"schema_name"`
		SourceTable    string `db:"source_table"`
		TargetTable    string `db:"target_table"`
		Kind           string `db:"kind"`
		Cardinality    string `db:"cardinality"`
		CascadeDelete  bool   `db:"cascade_delete"`
		JoinConditions string `db:"join_conditions"`
	}
	err := s.store.db.SelectContext(ctx, &rows,
		`SELECT name, schema_name, source_table, target_table, kind, cardinality, cascade_delete, join_conditions
		 FROM catalog_associations ORDER BY schema_name, source_table, name`)
	if err != nil {
		return nil, fmt.Errorf("reading catalog associations: %w", err)
	}

	associations := make([]catalog.AssociationDescriptor, len(rows))
	for i, row := range rows {
		var joins []catalog.JoinCondition
		if err := json.Unmarshal([]byte(row.JoinConditions), &joins); err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf(
				"association %s on %s.%s has malformed join conditions: %v",
				row.Name, row.SchemaName, row.SourceTable, err))
		}
		associations[i] = catalog.AssociationDescriptor{
			Name:          row.Name,
			SourceSchema:  row.SchemaName,
			SourceTable:   row.SourceTable,
			TargetSchema:  row.SchemaName,
			TargetTable:   row.TargetTable,
			Kind:          catalog.AssociationKind(row.Kind),
			Cardinality:   row.Cardinality,
			CascadeDelete: row.CascadeDelete,
			Joins:         joins,
		}
	}
	return associations, nil
}
