// Package ports declares the capability contracts modules resolve from the
// container. These are ports in hexagonal architecture - callers never see
// an implementation, backends and stores plug in behind them.
package ports

import (
	"context"
	"time"

	"datalens/domain/catalog"
	"datalens/domain/conversation"
	"datalens/domain/graph"
)

// Repository defines uniform read-only data access over one backend.
// Implementations reject non-read statements before dispatch, bind
// parameters positionally with backend-native placeholders, and resolve
// logical product names to physical tables privately.
type Repository interface {
	// Backend names the implementation for logs and metrics ("primary", "remote")
	Backend() string

	// ListProducts enumerates the logical data products this backend serves
	ListProducts(ctx context.Context) ([]catalog.ProductDescriptor, error)

	// ListTables enumerates the tables within a schema
	ListTables(ctx context.Context, schema string) ([]catalog.TableDescriptor, error)

	// DescribeTable returns the annotated columns of a table
	DescribeTable(ctx context.Context, schema, table string) ([]catalog.ColumnDescriptor, error)

	// ExecuteQuery runs a validated read statement. A negative limit selects
	// the default; limits above the ceiling are capped and the result is
	// marked truncated.
	ExecuteQuery(ctx context.Context, sql string, params []interface{}, limit int) (*catalog.QueryResult, error)
}

// SchemaSource supplies the declarative schema documents the schema-graph
// builder consumes: products, tables, annotated columns, and associations
// with their join conditions.
type SchemaSource interface {
	Products(ctx context.Context) ([]catalog.ProductDescriptor, error)
	Tables(ctx context.Context, schema string) ([]catalog.TableDescriptor, error)
	Columns(ctx context.Context, schema, table string) ([]catalog.ColumnDescriptor, error)
	Associations(ctx context.Context) ([]catalog.AssociationDescriptor, error)
}

// GraphStatus describes one persisted cache row
type GraphStatus struct {
	Present     bool      `json:"cache_present"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
}

// GraphStore persists one row per (kind, id). Save commits atomically: a
// concurrent reader observes either the previous payload or the new one,
// never a partial write.
type GraphStore interface {
	// Load returns the persisted graph, ErrNotFound when no row exists, or
	// ErrCacheCorrupt when the payload cannot be decoded
	Load(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, error)

	// Save upserts the row for the graph's (kind, id)
	Save(ctx context.Context, g *graph.Graph) error

	// Delete removes the row, reporting whether one existed
	Delete(ctx context.Context, kind graph.Kind, id string) (bool, error)

	// Meta reports row presence and fingerprint without decoding the payload
	Meta(ctx context.Context, kind graph.Kind, id string) (*GraphStatus, error)
}

// GraphProvider is the caller-facing cache contract. Implementations return
// a coherent graph even when the persisted cache is missing, stale, or
// corrupt, and collapse concurrent rebuilds of one key into a single build.
type GraphProvider interface {
	// GetOrRebuild returns the cached graph, rebuilding on miss, stale
	// fingerprint, or corruption. The second result reports whether this
	// call rebuilt the graph.
	GetOrRebuild(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, bool, error)

	// ForceRebuild discards the cached graph and rebuilds. The commit is a
	// swap: in-flight readers keep the old graph until the new one lands.
	ForceRebuild(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, error)

	// Invalidate removes the persisted row, reporting whether one existed
	Invalidate(ctx context.Context, kind graph.Kind, id string) (bool, error)

	// Status reports cache state without triggering a rebuild
	Status(ctx context.Context, kind graph.Kind, id string) (*GraphStatus, error)
}

// ConversationStore is a keyed append-only message log. Reads sweep sessions
// that idled past their TTL. Operations on one session are serialized by the
// implementation; distinct sessions proceed concurrently.
type ConversationStore interface {
	// Create opens a session with a fresh id and the given exploration context
	Create(ctx context.Context, sessionCtx conversation.Context) (*conversation.Session, error)

	// Get returns a snapshot of the session, ErrNotFound if absent or expired
	Get(ctx context.Context, id string) (*conversation.Session, error)

	// Append adds a message and extends the session's TTL
	Append(ctx context.Context, id string, role conversation.Role, content string, metadata map[string]interface{}) (conversation.Message, error)

	// History returns the most recent messages in chronological order.
	// A non-positive window selects the default.
	History(ctx context.Context, id string, window int) ([]conversation.Message, error)

	// Delete removes the session, ErrNotFound if absent
	Delete(ctx context.Context, id string) error

	// ActiveSessions counts live sessions after sweeping expired ones
	ActiveSessions(ctx context.Context) (int, error)
}
