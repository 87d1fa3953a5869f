// Package sqlite implements the embedded primary backend: catalog metadata,
// demo business data, the graph cache table, and the persistent conversation
// variant, all inside one relational file.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"datalens/infrastructure/persistence/schema"
)

// Store owns the SQLite handle shared by the repository, schema source,
// graph store, and persistent conversation store.
type Store struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// NewStore opens (creating if needed) the database at path and ensures the
// platform schema exists.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	store := &Store{db: db, path: path, logger: logger}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the handle for the sibling stores in this package
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize migrates the platform schema to its current version and seeds
// the demo catalog
func (s *Store) initialize() error {
	if _, err := schema.Apply(s.db, platformMigrations(), s.logger); err != nil {
		return err
	}
	return s.seed()
}

// platformMigrations is the schema history of the embedded store. Append
// only; released versions never change.
func platformMigrations() []schema.Migration {
	return []schema.Migration{
		{
			Version:     1,
			Description: "catalog metadata",
			Statements: []string{
				`CREATE TABLE data_products (
					name TEXT PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					domain TEXT NOT NULL DEFAULT '',
					schema_name TEXT NOT NULL,
					version TEXT NOT NULL DEFAULT '1.0.0',
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE catalog_tables (
					schema_name TEXT NOT NULL,
					table_name TEXT NOT NULL,
					product_name TEXT NOT NULL REFERENCES data_products(name),
					description TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (schema_name, table_name)
				)`,
				`CREATE TABLE catalog_columns (
					schema_name TEXT NOT NULL,
					table_name TEXT NOT NULL,
					column_name TEXT NOT NULL,
					data_type TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					semantic_tag TEXT NOT NULL DEFAULT '',
					length INTEGER NOT NULL DEFAULT 0,
					nullable INTEGER NOT NULL DEFAULT 1,
					value_list_ref TEXT NOT NULL DEFAULT '',
					primary_key INTEGER NOT NULL DEFAULT 0,
					ordinal INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (schema_name, table_name, column_name)
				)`,
				`CREATE TABLE catalog_associations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					schema_name TEXT NOT NULL,
					source_table TEXT NOT NULL,
					target_table TEXT NOT NULL,
					kind TEXT NOT NULL,
					cardinality TEXT NOT NULL,
					cascade_delete INTEGER NOT NULL DEFAULT 0,
					join_conditions TEXT NOT NULL,
					UNIQUE (schema_name, source_table, target_table, name)
				)`,
				`CREATE INDEX idx_catalog_columns_tag ON catalog_columns(semantic_tag)`,
			},
		},
		{
			Version:     2,
			Description: "graph cache",
			Statements: []string{
				`CREATE TABLE graph_cache (
					kind TEXT NOT NULL,
					id TEXT NOT NULL,
					fingerprint TEXT NOT NULL,
					payload BLOB NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (kind, id)
				)`,
			},
		},
		{
			Version:     3,
			Description: "persistent conversations",
			Statements: []string{
				`CREATE TABLE ai_assistant_sessions (
					id TEXT PRIMARY KEY,
					context TEXT NOT NULL DEFAULT '{}',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					ttl_expiry DATETIME NOT NULL
				)`,
				`CREATE TABLE ai_assistant_messages (
					session_id TEXT NOT NULL REFERENCES ai_assistant_sessions(id) ON DELETE CASCADE,
					seq INTEGER NOT NULL,
					role TEXT NOT NULL,
					content TEXT NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}',
					created_at DATETIME NOT NULL,
					PRIMARY KEY (session_id, seq)
				)`,
				`CREATE INDEX idx_ai_assistant_messages_session ON ai_assistant_messages(session_id, seq)`,
			},
		},
		{
			// Demo business tables backing the seeded catalog. Queries from
			// the assistant land here on the primary backend.
			Version:     4,
			Description: "demo business data",
			Statements: []string{
				`CREATE TABLE Customer (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					country TEXT NOT NULL DEFAULT '',
					segment TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE Invoice (
					id INTEGER PRIMARY KEY,
					customer_id INTEGER NOT NULL REFERENCES Customer(id),
					amount REAL NOT NULL,
					currency_code TEXT NOT NULL DEFAULT 'EUR',
					status TEXT NOT NULL DEFAULT 'open',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE InvoiceItem (
					id INTEGER PRIMARY KEY,
					invoice_id INTEGER NOT NULL REFERENCES Invoice(id),
					position INTEGER NOT NULL,
					material TEXT NOT NULL,
					quantity REAL NOT NULL,
					net_value REAL NOT NULL
				)`,
			},
		},
	}
}
