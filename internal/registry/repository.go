package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines registry persistence.
type Repository interface {
	// Count returns the number of registered groups.
	Count(ctx context.Context) (int, error)

	// Insert stores new entries. Used once, when the registry is created.
	Insert(ctx context.Context, entries []Entry) error

	// List returns all entries in registry order.
	List(ctx context.Context) ([]Entry, error)

	// Get returns one entry. Returns ErrGroupNotFound if absent.
	Get(ctx context.Context, groupID string) (*Entry, error)

	// MarkProcessed flags a group as processed and returns the new progress.
	// Returns ErrGroupNotFound if absent.
	MarkProcessed(ctx context.Context, groupID string, at time.Time) (Progress, error)

	// Progress counts groups by completion.
	Progress(ctx context.Context) (Progress, error)
}

// SQLiteRepository implements Repository on the registry table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntry = `
	SELECT topology, ami_ids, ami_id_cnt, processed, position, updated_at
	FROM registry`

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registry").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting registry: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, entries []Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO registry (topology, ami_ids, ami_id_cnt, processed, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		ids, err := json.Marshal(e.DeviceIDs)
		if err != nil {
			return fmt.Errorf("marshalling ami_ids: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.GroupID, string(ids), e.DeviceCount, boolToInt(e.Processed), e.Position,
			e.UpdatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting group %s: %w", e.GroupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+" ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("querying registry: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registry: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, groupID string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+" WHERE topology = ?", groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	return e, err
}

func (r *SQLiteRepository) MarkProcessed(ctx context.Context, groupID string, at time.Time) (Progress, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE registry SET processed = 1, updated_at = ? WHERE topology = ?",
		at.UTC().Format(time.RFC3339), groupID,
	)
	if err != nil {
		return Progress{}, fmt.Errorf("marking group processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Progress{}, fmt.Errorf("marking group processed: %w", err)
	}
	if n == 0 {
		return Progress{}, ErrGroupNotFound
	}
	return r.Progress(ctx)
}

func (r *SQLiteRepository) Progress(ctx context.Context) (Progress, error) {
	var p Progress
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(processed), 0) FROM registry",
	).Scan(&p.Total, &p.Processed)
	if err != nil {
		return Progress{}, fmt.Errorf("querying progress: %w", err)
	}
	p.Unprocessed = p.Total - p.Processed
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e         Entry
		ids       string
		processed int
		updatedAt string
	)
	if err := s.Scan(&e.GroupID, &ids, &e.DeviceCount, &processed, &e.Position, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning registry row: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &e.DeviceIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling ami_ids of %s: %w", e.GroupID, err)
	}
	e.Processed = processed == 1
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
