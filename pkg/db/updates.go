package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"otafs/pkg/models"

	"github.com/google/uuid"
)

// InsertUpdate creates an update record. Re-inserting an existing
// (id, scope_key) pair is a no-op so that a crashed load can be resumed
// without disturbing the surviving row.
func (s *Store) InsertUpdate(update *models.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()

	// Writes serialize through the mutex, so a pre-check makes re-inserts
	// a clean no-op without relying on conflict-target resolution order.
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM updates WHERE id = ? AND scope_key = ?`,
		update.ID.String(), update.ScopeKey,
	).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	var metadataJSON []byte
	if len(update.Metadata) > 0 {
		metadataJSON, err = json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("%w: failed to serialize metadata: %w", ErrDatabaseError, err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO updates (id, scope_key, commit_time, runtime_version, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		update.ID.String(), update.ScopeKey, update.CommitTime.UnixMilli(),
		update.RuntimeVersion, int(update.Status), string(metadataJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// A different update already occupies this (scope_key, commit_time) slot.
			return fmt.Errorf("%w: conflicting update for scope %q at %v: %w",
				ErrDatabaseError, update.ScopeKey, update.CommitTime, err)
		}
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return nil
}

// GetUpdate retrieves an update record by id within a scope.
func (s *Store) GetUpdate(id uuid.UUID, scopeKey string) (*models.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(context.Background(),
		`SELECT id, scope_key, commit_time, runtime_version, status, metadata
		 FROM updates WHERE id = ? AND scope_key = ?`,
		id.String(), scopeKey,
	)
	return scanUpdate(row)
}

// AllUpdates returns every update record across all scopes, ordered by
// commit time then insertion order.
func (s *Store) AllUpdates() ([]*models.Update, error) {
	return s.queryUpdates(
		`SELECT id, scope_key, commit_time, runtime_version, status, metadata
		 FROM updates ORDER BY commit_time, rowid`)
}

// UpdatesForScope returns every update record within a scope, ordered by
// commit time then insertion order.
func (s *Store) UpdatesForScope(scopeKey string) ([]*models.Update, error) {
	return s.queryUpdates(
		`SELECT id, scope_key, commit_time, runtime_version, status, metadata
		 FROM updates WHERE scope_key = ? ORDER BY commit_time, rowid`,
		scopeKey)
}

// LaunchableUpdates returns the update records within a scope whose status
// permits launching (READY or EMBEDDED). Stale EMBEDDED rows are not
// filtered here; that requires the currently embedded manifest id, which
// only the launcher knows.
func (s *Store) LaunchableUpdates(scopeKey string) ([]*models.Update, error) {
	return s.queryUpdates(
		`SELECT id, scope_key, commit_time, runtime_version, status, metadata
		 FROM updates WHERE scope_key = ? AND status IN (?, ?)
		 ORDER BY commit_time, rowid`,
		scopeKey, int(models.UpdateStatusReady), int(models.UpdateStatusEmbedded))
}

// SetUpdateStatus transitions an update record to the given status.
func (s *Store) SetUpdateStatus(id uuid.UUID, scopeKey string, status models.UpdateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(),
		`UPDATE updates SET status = ? WHERE id = ? AND scope_key = ?`,
		int(status), id.String(), scopeKey,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if rowsAffected == 0 {
		return ErrUpdateNotFound
	}
	return nil
}

// DeleteUpdates removes update records and, via cascade, their join rows.
// Shared asset rows survive until DeleteUnreferencedAssets runs.
func (s *Store) DeleteUpdates(updates []*models.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, update := range updates {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM updates WHERE id = ? AND scope_key = ?`,
			update.ID.String(), update.ScopeKey,
		); err != nil {
			return fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// queryUpdates runs a SELECT over the updates table and scans all rows.
func (s *Store) queryUpdates(query string, args ...any) ([]*models.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var updates []*models.Update
	for rows.Next() {
		update, scanErr := scanUpdate(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		updates = append(updates, update)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return updates, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpdate(row rowScanner) (*models.Update, error) {
	var (
		idString     string
		commitMillis int64
		status       int
		metadataJSON sql.NullString
	)
	update := &models.Update{}

	err := row.Scan(&idString, &update.ScopeKey, &commitMillis, &update.RuntimeVersion, &status, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUpdateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	update.ID, err = uuid.Parse(idString)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed update id %q: %w", ErrDatabaseError, idString, err)
	}
	update.CommitTime = time.UnixMilli(commitMillis).UTC()
	update.Status = models.UpdateStatus(status)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &update.Metadata); err != nil {
			return nil, fmt.Errorf("%w: failed to parse metadata: %w", ErrDatabaseError, err)
		}
	}

	return update, nil
}
