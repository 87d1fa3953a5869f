// Package catalog defines the data-product metadata model served by the
// repository layer and consumed by the schema-graph builder and the
// assistant's tools.
package catalog

// ProductDescriptor identifies a logical data product. Callers always speak
// the logical name; each backend resolves the physical table privately.
type ProductDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema,omitempty"`
	Source      string `json:"source,omitempty"`
}

// TableDescriptor identifies one table of a schema
type TableDescriptor struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ColumnDescriptor carries the full column annotations the schema-graph
// builder needs: display label, semantic tag, length, nullability, and the
// value-list reference when a column is constrained to a code list.
type ColumnDescriptor struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Label        string `json:"label,omitempty"`
	SemanticTag  string `json:"semantic_tag,omitempty"`
	Length       int    `json:"length,omitempty"`
	Nullable     bool   `json:"nullable"`
	ValueListRef string `json:"value_list_ref,omitempty"`
	PrimaryKey   bool   `json:"primary_key,omitempty"`
}

// AssociationKind distinguishes structural relationship classes in schema
// metadata.
type AssociationKind string

const (
	AssociationPlain       AssociationKind = "association"
	AssociationForeignKey  AssociationKind = "foreign_key"
	AssociationComposition AssociationKind = "composition"
)

// JoinCondition is one ON condition of an association, expressed in schema
// terms. The graph builder converts these into edge join clauses.
type JoinCondition struct {
	LeftField   string `json:"left_field"`
	Op          string `json:"op"`
	RightEntity string `json:"right_entity"`
	RightField  string `json:"right_field"`
}

// AssociationDescriptor is a declared relationship between two tables
type AssociationDescriptor struct {
	Name          string          `json:"name"`
	SourceSchema  string          `json:"source_schema"`
	SourceTable   string          `json:"source_table"`
	TargetSchema  string          `json:"target_schema"`
	TargetTable   string          `json:"target_table"`
	Kind          AssociationKind `json:"kind"`
	Cardinality   string          `json:"cardinality"`
	Label         string          `json:"label,omitempty"`
	CascadeDelete bool            `json:"cascade_delete,omitempty"`
	Joins         []JoinCondition `json:"joins"`
}

// QueryColumn names one column of a result set
type QueryColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the uniform result shape of ExecuteQuery across backends
type QueryResult struct {
	Columns   []QueryColumn            `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
	ElapsedMS int64                    `json:"elapsed_ms"`
}
