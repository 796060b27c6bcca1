package digitaltwin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/database"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// SQLiteAdapter reads entities from the entities table created by the
// embedded migrations.
type SQLiteAdapter struct {
	db *database.DB
}

// NewSQLiteAdapter wraps an open, migrated database.
func NewSQLiteAdapter(db *database.DB) *SQLiteAdapter {
	return &SQLiteAdapter{db: db}
}

// FindByID implements Adapter.
func (a *SQLiteAdapter) FindByID(ctx context.Context, entityID string) (signal.Entity, error) {
	var e signal.Entity
	err := a.db.QueryRowContext(ctx,
		`SELECT id, name, description, uri, protocol, operation FROM entities WHERE id = ?`,
		entityID,
	).Scan(&e.ID, &e.Name, &e.Description, &e.URI, &e.Protocol, &e.Operation)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if err != nil {
		return signal.Entity{}, fmt.Errorf("querying entity %s: %w", entityID, err)
	}
	return e, nil
}

// Upsert inserts or replaces entities in one transaction.
func (a *SQLiteAdapter) Upsert(ctx context.Context, entities ...signal.Entity) error {
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, description, uri, protocol, operation, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				uri = excluded.uri,
				protocol = excluded.protocol,
				operation = excluded.operation,
				updated_at = excluded.updated_at`,
			e.ID, e.Name, e.Description, e.URI, e.Protocol, e.Operation, now,
		)
		if err != nil {
			return fmt.Errorf("upserting entity %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes an entity. Deleting an unknown id is not an error.
func (a *SQLiteAdapter) Delete(ctx context.Context, entityID string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, entityID); err != nil {
		return fmt.Errorf("deleting entity %s: %w", entityID, err)
	}
	return nil
}
