package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store manages update and asset metadata in SQLite. It is the update
// record store and, through the assets table, the content-addressed store's
// source of truth for which hashes already exist locally.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new store with the given database path.
func New(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	ctx := context.Background()

	// Enable foreign keys
	if _, err := database.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %w", ErrDatabaseError, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}

	store := &Store{db: database}
	if err := store.Initialize(); err != nil {
		_ = database.Close()
		return nil, err
	}

	return store, nil
}

// Initialize creates the database schema.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(), Schema)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ValidateHash checks if a hash string is a valid hex-encoded SHA256.
func ValidateHash(hash string) bool {
	if len(hash) != hashLength {
		return false
	}
	for _, char := range hash {
		if (char < '0' || char > '9') && (char < 'a' || char > 'f') {
			return false
		}
	}
	return true
}

// nullable returns a NULL-storing value for empty strings so that the
// UNIQUE constraint on assets.hash ignores rows without a hash.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Stats summarizes store contents for the status API.
type Stats struct {
	UpdateCount    int64 `json:"update_count"`
	AssetCount     int64 `json:"asset_count"`
	TotalAssetSize int64 `json:"total_asset_size"`
}

// GetStats returns row counts and the total size of stored assets.
func (s *Store) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	err := s.db.QueryRowContext(context.Background(),
		`SELECT
		   (SELECT COUNT(*) FROM updates),
		   (SELECT COUNT(*) FROM assets),
		   (SELECT COALESCE(SUM(size), 0) FROM assets)`,
	).Scan(&stats.UpdateCount, &stats.AssetCount, &stats.TotalAssetSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return stats, nil
}
