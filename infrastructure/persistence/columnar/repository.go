// Package columnar implements the remote repository over the columnar
// analytics store. Data products live in namespaced physical tables there,
// and every call crosses the network, so operations run behind retry with
// capped backoff and a circuit breaker.
package columnar

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"datalens/domain/catalog"
	"datalens/infrastructure/persistence"
	"datalens/pkg/common"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/observability"
	"datalens/pkg/sqlguard"
)

// Options configure the remote connection and its physical naming scheme
type Options struct {
	DSN           string
	Namespace     string // table prefix component, e.g. NS_DP
	Source        string // source system component, e.g. sap_bdc
	SchemaVersion string // version suffix component, e.g. V1
	QueryTimeout  time.Duration
	Retry         persistence.RetryConfig
	Metrics       *observability.Collector
	Logger        *zap.Logger
}

// Repository is the remote columnar backend. The connection pool is lazy;
// an unreachable store surfaces per call as a backend availability error
// instead of failing startup.
type Repository struct {
	db            *sqlx.DB
	namespace     string
	source        string
	schemaVersion string
	queryTimeout  time.Duration
	retry         persistence.RetryConfig
	breaker       *gobreaker.CircuitBreaker
	metrics       *observability.Collector
	logger        *zap.Logger
}

// NewRepository opens a pool against the remote store
func NewRepository(opts Options) (*Repository, error) {
	if opts.DSN == "" {
		return nil, apperrors.NewConfigError("remote repository requires a DSN")
	}
	db, err := sqlx.Open("pgx", opts.DSN)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid remote DSN: " + err.Error())
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newWithDB(db, opts), nil
}

func newWithDB(db *sqlx.DB, opts Options) *Repository {
	if opts.Namespace == "" {
		opts.Namespace = "NS_DP"
	}
	if opts.Source == "" {
		opts.Source = "sap_bdc"
	}
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = "V1"
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = persistence.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "columnar",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("remote circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Query rejections are the caller's fault and must not open the
		// breaker; only availability failures count.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var exhausted *persistence.RetryExhaustedError
			return !errors.As(err, &exhausted) && !isTransient(err)
		},
	})

	return &Repository{
		db:            db,
		namespace:     opts.Namespace,
		source:        opts.Source,
		schemaVersion: opts.SchemaVersion,
		queryTimeout:  opts.QueryTimeout,
		retry:         opts.Retry,
		breaker:       breaker,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// Backend names this implementation
func (r *Repository) Backend() string {
	return "remote"
}

// Close releases the connection pool
func (r *Repository) Close() error {
	return r.db.Close()
}

// physicalTableName maps a logical product onto the namespaced table the
// remote store provisions for it.
func (r *Repository) physicalTableName(product string) string {
	return catalog.RemoteTableName(r.namespace, r.source, product, r.schemaVersion)
}

// logicalProductName inverts physicalTableName. The second return is false
// for tables outside the provisioned namespace.
func (r *Repository) logicalProductName(table string) (string, bool) {
	prefix := r.namespace + "_" + r.source + "_"
	suffix := "_" + r.schemaVersion
	if !strings.HasPrefix(table, prefix) || !strings.HasSuffix(table, suffix) {
		return "", false
	}
	product := strings.TrimSuffix(strings.TrimPrefix(table, prefix), suffix)
	if product == "" {
		return "", false
	}
	return product, true
}

// ListProducts recovers the product list from the provisioned namespace
func (r *Repository) ListProducts(ctx context.Context) ([]catalog.ProductDescriptor, error) {
	tables, err := r.ListTables(ctx, "public")
	if err != nil {
		return nil, err
	}

	products := make([]catalog.ProductDescriptor, 0, len(tables))
	for _, table := range tables {
		product, ok := r.logicalProductName(table.Name)
		if !ok {
			continue
		}
		products = append(products, catalog.ProductDescriptor{
			Name:   product,
			Schema: table.Schema,
			Source: r.source,
		})
	}
	return products, nil
}

// ListTables enumerates the remote schema's tables
func (r *Repository) ListTables(ctx context.Context, schema string) ([]catalog.TableDescriptor, error) {
	if schema == "" {
		schema = "public"
	}

	query := r.db.Rebind(
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = ? AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)

	var names []string
	err := r.call(ctx, "list_tables", func(ctx context.Context) error {
		names = names[:0]
		return r.db.SelectContext(ctx, &names, query, schema)
	})
	if err != nil {
		return nil, err
	}

	tables := make([]catalog.TableDescriptor, len(names))
	for i, name := range names {
		tables[i] = catalog.TableDescriptor{Schema: schema, Name: name}
	}
	return tables, nil
}

// DescribeTable reads column metadata for a logical product or physical
// table. Display annotations live in the local catalog only, so remote
// descriptors carry name, type, length, and nullability.
func (r *Repository) DescribeTable(ctx context.Context, schema, table string) ([]catalog.ColumnDescriptor, error) {
	if schema == "" {
		schema = "public"
	}
	physical := table
	if _, ok := r.logicalProductName(table); !ok {
		physical = r.physicalTableName(table)
	}

	query := r.db.Rebind(
		`SELECT column_name, data_type, is_nullable, COALESCE(character_maximum_length, 0) AS max_length
		 FROM information_schema.columns
		 WHERE table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`)

	var rows []struct {
		ColumnName string `db:"column_name"`
		DataType   string `db:"data_type"`
		IsNullable string `db:"is_nullable"`
		MaxLength  int    `db:"max_length"`
	}
	err := r.call(ctx, "describe_table", func(ctx context.Context) error {
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, query, schema, physical)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFoundError("table " + schema + "." + table)
	}

	columns := make([]catalog.ColumnDescriptor, len(rows))
	for i, row := range rows {
		columns[i] = catalog.ColumnDescriptor{
			Name:     row.ColumnName,
			Type:     row.DataType,
			Length:   row.MaxLength,
			Nullable: strings.EqualFold(row.IsNullable, "YES"),
		}
	}
	return columns, nil
}

// ExecuteQuery validates, caps, and runs one read statement remotely
func (r *Repository) ExecuteQuery(ctx context.Context, query string, params []interface{}, limit int) (*catalog.QueryResult, error) {
	query = catalog.ExpandProductRefs(query, r.physicalTableName)
	if err := sqlguard.ValidateReadOnly(query); err != nil {
		return nil, err
	}
	effectiveLimit, capped := sqlguard.EffectiveLimit(limit)
	query = r.db.Rebind(query)

	started := time.Now()
	var result *catalog.QueryResult
	err := r.call(ctx, "execute_query", func(ctx context.Context) error {
		rows, err := r.db.QueryxContext(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		result, err = persistence.CollectRows(rows, effectiveLimit, capped)
		return err
	})
	elapsed := time.Since(started)

	status := "ok"
	if err != nil {
		status = "error"
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

// call runs one remote operation behind the breaker and the retry policy,
// then maps the failure onto the platform taxonomy.
func (r *Repository) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	retryCfg := r.retry
	retryCfg.OnRetry = func(attempt int, err error) {
		if r.metrics != nil {
			r.metrics.QueryRetries.WithLabelValues(r.Backend()).Inc()
		}
		r.logger.Warn("retrying remote operation",
			append(common.Fields(ctx),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err))...)
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, persistence.RetryWithBackoff(ctx, retryCfg, isTransient, func() error {
			return fn(ctx)
		})
	})
	if err != nil {
		return r.classify(operation, err)
	}
	return nil
}

// isTransient extends the shared classifier with SQLSTATE classes. Server
// errors about connections, resources, or shutdowns are retryable; syntax
// and constraint rejections never are.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "53", "57", "58":
			return true
		default:
			return false
		}
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return persistence.IsTransient(err)
}

func (r *Repository) classify(operation string, err error) error {
	var exhausted *persistence.RetryExhaustedError
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.NewBackendUnavailableError(r.Backend(), err)
	case errors.As(err, &exhausted):
		return apperrors.NewBackendUnavailableError(r.Backend(), err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError(operation)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &pgErr):
		return apperrors.NewQueryInvalidError(pgErr.Message, err)
	case errors.Is(err, sql.ErrNoRows):
		return apperrors.NewNotFoundError(operation)
	case isTransient(err):
		return apperrors.NewBackendUnavailableError(r.Backend(), err)
	default:
		return apperrors.NewQueryInvalidError(err.Error(), err)
	}
}
