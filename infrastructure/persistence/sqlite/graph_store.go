package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"datalens/application/ports"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

// GraphStore persists one row per (kind, id) in the graph_cache table.
// Upserts replace the whole row in a single statement, so readers observe
// either the previous payload or the new one.
type GraphStore struct {
	store          *Store
	persistTimeout time.Duration
}

// NewGraphStore creates a graph store with the given persistence deadline
func NewGraphStore(store *Store, persistTimeout time.Duration) *GraphStore {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &GraphStore{store: store, persistTimeout: persistTimeout}
}

// Load reads and decodes the persisted graph
func (g *GraphStore) Load(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, error) {
	ctx, cancel := context.WithTimeout(ctx, g.persistTimeout)
	defer cancel()

	var payload []byte
	err := g.store.db.GetContext(ctx, &payload,
		`SELECT payload FROM graph_cache WHERE kind = ? AND id = ?`, string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("graph %s/%s", kind, id))
	}
	if err != nil {
		return nil, g.classify("load", err)
	}

	decoded, err := graph.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	if decoded.Kind != kind || decoded.ID != id {
		return nil, apperrors.NewCacheCorruptError(string(kind), id,
			fmt.Errorf("payload identifies %s/%s", decoded.Kind, decoded.ID))
	}
	return decoded, nil
}

// Save upserts the row for the graph's key
func (g *GraphStore) Save(ctx context.Context, gr *graph.Graph) error {
	payload, err := graph.Marshal(gr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.persistTimeout)
	defer cancel()

	_, err = g.store.db.ExecContext(ctx,
		`INSERT INTO graph_cache (kind, id, fingerprint, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET
		   fingerprint = excluded.fingerprint,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		string(gr.Kind), gr.ID, gr.SourceFingerprint, payload, time.Now().UTC())
	if err != nil {
		return g.classify("save", err)
	}
	return nil
}

// Delete removes the row, reporting whether one existed
func (g *GraphStore) Delete(ctx context.Context, kind graph.Kind, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.persistTimeout)
	defer cancel()

	result, err := g.store.db.ExecContext(ctx,
		`DELETE FROM graph_cache WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return false, g.classify("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, g.classify("delete", err)
	}
	return affected > 0, nil
}

// Meta reports presence, fingerprint, and build time without decoding
func (g *GraphStore) Meta(ctx context.Context, kind graph.Kind, id string) (*ports.GraphStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.persistTimeout)
	defer cancel()

	var row struct {
		Fingerprint string    `db:"fingerprint"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err := g.store.db.GetContext(ctx, &row,
		`SELECT fingerprint, updated_at FROM graph_cache WHERE kind = ? AND id = ?`, string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return &ports.GraphStatus{Present: false}, nil
	}
	if err != nil {
		return nil, g.classify("meta", err)
	}

	return &ports.GraphStatus{
		Present:     true,
		Fingerprint: row.Fingerprint,
		BuiltAt:     row.UpdatedAt,
	}, nil
}

func (g *GraphStore) classify(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("graph cache " + operation)
	}
	return apperrors.Wrapf(err, "graph cache %s failed", operation)
}
