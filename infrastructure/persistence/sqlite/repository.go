package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"datalens/domain/catalog"
	"datalens/infrastructure/persistence"
	"datalens/pkg/common"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/observability"
	"datalens/pkg/sqlguard"
)

// Repository is the embedded primary backend
type Repository struct {
	store        *Store
	queryTimeout time.Duration
	metrics      *observability.Collector
	logger       *zap.Logger
}

// NewRepository wraps a store as the primary repository capability
func NewRepository(store *Store, queryTimeout time.Duration, metrics *observability.Collector, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &Repository{
		store:        store,
		queryTimeout: queryTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Backend names this implementation
func (r *Repository) Backend() string {
	return "primary"
}

// physicalTableName resolves a logical product name. The embedded backend
// stores products under their logical names, so this is the identity.
func (r *Repository) physicalTableName(product string) string {
	return product
}

// ListProducts enumerates the seeded data products
func (r *Repository) ListProducts(ctx context.Context) ([]catalog.ProductDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var rows []struct {
		Name        string `db:"name"`
		Description string `db:"description"`
		Domain      string `db:"domain"`
		SchemaName  string `db:"schema_name"`
	}
	err := r.store.db.SelectContext(ctx, &rows,
		`SELECT name, description, domain, schema_name FROM data_products ORDER BY name`)
	if err != nil {
		return nil, r.classify(ctx, "list_products", err)
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

// ListTables enumerates the tables of a schema
func (r *Repository) ListTables(ctx context.Context, schema string) ([]catalog.TableDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var rows []struct {
		SchemaName  string `db:"schema_name"`
		TableName   string `db:"table_name"`
		Description string `db:"description"`
	}
	err := r.store.db.SelectContext(ctx, &rows,
		`SELECT schema_name, table_name, description FROM catalog_tables WHERE schema_name = ? ORDER BY table_name`,
		schema)
	if err != nil {
		return nil, r.classify(ctx, "list_tables", err)
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

// DescribeTable returns the annotated columns of a table
func (r *Repository) DescribeTable(ctx context.Context, schema, table string) ([]catalog.ColumnDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

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
	err := r.store.db.SelectContext(ctx, &rows,
		`SELECT column_name, data_type, label, semantic_tag, length, nullable, value_list_ref, primary_key
		 FROM catalog_columns WHERE schema_name = ? AND table_name = ? ORDER BY ordinal`,
		schema, table)
	if err != nil {
		return nil, r.classify(ctx, "describe_table", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFoundError("table " + schema + "." + table)
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

// ExecuteQuery validates, caps, and runs one read statement
func (r *Repository) ExecuteQuery(ctx context.Context, query string, params []interface{}, limit int) (*catalog.QueryResult, error) {
	query = catalog.ExpandProductRefs(query, r.physicalTableName)
	if err := sqlguard.ValidateReadOnly(query); err != nil {
		return nil, err
	}
	effectiveLimit, capped := sqlguard.EffectiveLimit(limit)

	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	start := time.Now()
	result, err := func() (*catalog.QueryResult, error) {
		rows, err := r.store.db.QueryxContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return persistence.CollectRows(rows, effectiveLimit, capped)
	}()
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		err = r.classify(ctx, "execute_query", err)
	}
	if r.metrics != nil {
		r.metrics.ObserveQuery(r.Backend(), "execute_query", status, elapsed)
	}
	if err != nil {
		return nil, err
	}

	result.ElapsedMS = elapsed.Milliseconds()
	return result, nil
}

// classify maps driver failures onto the platform taxonomy. The embedded
// backend has no network leg, so anything that is not a timeout is a query
// rejection carrying the backend's message verbatim.
func (r *Repository) classify(ctx context.Context, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(operation)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(operation)
	}
	r.logger.Debug("query failed",
		append(common.Fields(ctx),
			zap.String("backend", r.Backend()),
			zap.String("operation", operation),
			zap.Error(err))...)
	return apperrors.NewQueryInvalidError(err.Error(), err)
}
