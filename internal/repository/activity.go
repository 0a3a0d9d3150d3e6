package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
)

// ActivityTypeRepository caches remote check types in the activity_types
// table.
type ActivityTypeRepository struct {
	pool *pgxpool.Pool
}

// NewActivityTypeRepository constructs a repository.
func NewActivityTypeRepository(pool *pgxpool.Pool) *ActivityTypeRepository {
	return &ActivityTypeRepository{pool: pool}
}

// Count returns how many types are cached.
func (r *ActivityTypeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_types`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activity types: %w", err)
	}
	return n, nil
}

// Get returns one type by remote id.
func (r *ActivityTypeRepository) Get(ctx context.Context, id string) (*model.ActivityType, error) {
	var t model.ActivityType
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, updated_at FROM activity_types WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select activity type: %w", err)
	}
	return &t, nil
}

// UpsertAll inserts or replaces every type in one transaction.
func (r *ActivityTypeRepository) UpsertAll(ctx context.Context, types []model.ActivityType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, t := range types {
		updated := t.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		batch.Queue(`
			INSERT INTO activity_types (id, name, description, updated_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at
		`, t.ID, t.Name, t.Description, updated.UTC())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert activity types: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteAll empties the table.
func (r *ActivityTypeRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM activity_types`); err != nil {
		return fmt.Errorf("delete activity types: %w", err)
	}
	return nil
}

// List returns every type ordered by name.
func (r *ActivityTypeRepository) List(ctx context.Context) ([]model.ActivityType, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, updated_at FROM activity_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query activity types: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ActivityType, error) {
		var t model.ActivityType
		err := row.Scan(&t.ID, &t.Name, &t.Description, &t.UpdatedAt)
		return t, err
	})
}
