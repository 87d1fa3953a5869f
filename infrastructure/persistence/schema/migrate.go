// Package schema applies versioned DDL migrations to the embedded store.
// The applied version lives in SQLite's user_version header field, so a
// database file always knows how far its schema has evolved.
package schema

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "datalens/pkg/errors"
)

// Migration is one schema step. Statements run inside a single transaction
// together with the version bump; a failed step leaves the file at the
// previous version.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// Apply brings the database up to the highest version in migrations,
// skipping steps the file already carries. Returns how many steps ran.
func Apply(db *sqlx.DB, migrations []Migration, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := validate(migrations); err != nil {
		return 0, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyOne(db, m); err != nil {
			return applied, apperrors.Wrapf(err, "schema migration %d (%s)", m.Version, m.Description)
		}
		logger.Info("schema migration applied",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))
		current = m.Version
		applied++
	}
	return applied, nil
}

// validate rejects migration lists the runner cannot apply deterministically
func validate(migrations []Migration) error {
	last := 0
	for _, m := range migrations {
		if m.Version <= 0 {
			return apperrors.NewConfigError(fmt.Sprintf(
				"schema migration %q has non-positive version %d", m.Description, m.Version))
		}
		if m.Version <= last {
			return apperrors.NewConfigError(fmt.Sprintf(
				"schema migration versions must increase: %d follows %d", m.Version, last))
		}
		if len(m.Statements) == 0 {
			return apperrors.NewConfigError(fmt.Sprintf(
				"schema migration %d (%s) has no statements", m.Version, m.Description))
		}
		last = m.Version
	}
	return nil
}

func currentVersion(db *sqlx.DB) (int, error) {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func applyOne(db *sqlx.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	// The pragma accepts no bind parameters; the version is a trusted int.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Version reports the schema version recorded in the database header
func Version(db *sqlx.DB) (int, error) {
	return currentVersion(db)
}
