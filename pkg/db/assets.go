package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"otafs/pkg/models"

	"github.com/google/uuid"
)

const assetColumns = `id, key, hash, type, relative_path, url, embedded_filename, size`

// InsertAsset creates an asset record and sets asset.ID. When a row with
// the same hash already exists the insert is dropped and the existing row
// is loaded into asset instead, making concurrent registration of one new
// hash idempotent.
func (s *Store) InsertAsset(asset *models.Asset) error {
	if asset.Hash != "" && !ValidateHash(asset.Hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, asset.Hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (key, hash, type, relative_path, url, embedded_filename, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		nullable(asset.Key), nullable(asset.Hash), nullable(asset.Type), nullable(asset.RelativePath),
		nullable(asset.URL), nullable(asset.EmbeddedFilename), asset.Size,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	if rowsAffected == 0 {
		// Lost the insert race or the hash was already registered; adopt
		// the surviving row's content fields, keeping the descriptor's own
		// identity (key, role, sources).
		existing, lookupErr := s.assetByHashLocked(ctx, asset.Hash)
		if lookupErr != nil {
			return lookupErr
		}
		asset.ID = existing.ID
		asset.RelativePath = existing.RelativePath
		asset.Size = existing.Size
		if asset.Type == "" {
			asset.Type = existing.Type
		}
		return nil
	}

	asset.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// UpdateAsset persists mutable asset fields (hash, path, size) by row id,
// typically after the physical bytes have been confirmed on disk.
func (s *Store) UpdateAsset(asset *models.Asset) error {
	if asset.Hash != "" && !ValidateHash(asset.Hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, asset.Hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(),
		`UPDATE assets SET key = ?, hash = ?, type = ?, relative_path = ?, url = ?,
		        embedded_filename = ?, size = ?
		 WHERE id = ?`,
		nullable(asset.Key), nullable(asset.Hash), nullable(asset.Type), nullable(asset.RelativePath),
		nullable(asset.URL), nullable(asset.EmbeddedFilename), asset.Size,
		asset.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if rowsAffected == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// GetAssetByHash retrieves an asset record by content hash. This is the
// content store's dedup fast-path lookup.
func (s *Store) GetAssetByHash(hash string) (*models.Asset, error) {
	if !ValidateHash(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.assetByHashLocked(context.Background(), hash)
}

// AddUpdateAsset records that an update is composed of an asset and what
// role the asset plays in it. Re-adding an existing join refreshes the
// role so retried loads can re-register surviving assets.
func (s *Store) AddUpdateAsset(updateID uuid.UUID, scopeKey string, assetID int64, isLaunchAsset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO updates_assets (update_id, scope_key, asset_id, is_launch_asset)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(update_id, scope_key, asset_id) DO UPDATE SET is_launch_asset = excluded.is_launch_asset`,
		updateID.String(), scopeKey, assetID, isLaunchAsset,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// AssetsForUpdate returns every asset joined to an update.
func (s *Store) AssetsForUpdate(updateID uuid.UUID, scopeKey string) ([]*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+assetColumnsPrefixed+`
		 FROM assets a
		 INNER JOIN updates_assets ua ON a.id = ua.asset_id
		 WHERE ua.update_id = ? AND ua.scope_key = ?
		 ORDER BY a.id`,
		updateID.String(), scopeKey,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var assets []*models.Asset
	for rows.Next() {
		asset, scanErr := scanJoinedAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assets = append(assets, asset)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return assets, nil
}

// GetLaunchAssetForUpdate returns the entry-point bundle joined to an update.
func (s *Store) GetLaunchAssetForUpdate(updateID uuid.UUID, scopeKey string) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+assetColumnsPrefixed+`
		 FROM assets a
		 INNER JOIN updates_assets ua ON a.id = ua.asset_id
		 WHERE ua.update_id = ? AND ua.scope_key = ? AND ua.is_launch_asset
		 LIMIT 1`,
		updateID.String(), scopeKey,
	)
	return scanJoinedAsset(row)
}

// CountAssetJoins returns the number of join rows for an update. Used to
// verify partial-progress bookkeeping.
func (s *Store) CountAssetJoins(updateID uuid.UUID, scopeKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM updates_assets WHERE update_id = ? AND scope_key = ?`,
		updateID.String(), scopeKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return count, nil
}

// IsHashReferenced checks if any update still references the given hash.
func (s *Store) IsHashReferenced(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	err := s.db.QueryRowContext(context.Background(),
		`SELECT EXISTS(
		   SELECT 1 FROM assets a
		   INNER JOIN updates_assets ua ON a.id = ua.asset_id
		   WHERE a.hash = ?)`,
		hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return exists, nil
}

// DeleteUnreferencedAssets removes asset rows that no surviving update
// references and returns them so the caller can delete the physical files.
func (s *Store) DeleteUnreferencedAssets() ([]*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE id NOT IN (SELECT asset_id FROM updates_assets)`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	var orphans []*models.Asset
	for rows.Next() {
		asset, scanErr := scanAsset(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, scanErr
		}
		orphans = append(orphans, asset)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	_ = rows.Close()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM assets WHERE id NOT IN (SELECT asset_id FROM updates_assets)`,
	); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return orphans, nil
}

// assetColumnsPrefixed qualifies assetColumns with the assets alias and
// appends the per-update role flag from the join row.
const assetColumnsPrefixed = `a.id, a.key, a.hash, a.type, a.relative_path, a.url, a.embedded_filename, a.size, ua.is_launch_asset`

func (s *Store) assetByHashLocked(ctx context.Context, hash string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE hash = ?`, hash)
	return scanAsset(row)
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var key, hash, assetType, relativePath, url, embeddedFilename sql.NullString
	asset := &models.Asset{}

	err := row.Scan(&asset.ID, &key, &hash, &assetType, &relativePath, &url,
		&embeddedFilename, &asset.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	asset.Key = key.String
	asset.Hash = hash.String
	asset.Type = assetType.String
	asset.RelativePath = relativePath.String
	asset.URL = url.String
	asset.EmbeddedFilename = embeddedFilename.String
	return asset, nil
}

// scanJoinedAsset reads an asset row joined to updates_assets, where the
// launch-asset role comes from the join row rather than the asset itself.
func scanJoinedAsset(row rowScanner) (*models.Asset, error) {
	var key, hash, assetType, relativePath, url, embeddedFilename sql.NullString
	asset := &models.Asset{}

	err := row.Scan(&asset.ID, &key, &hash, &assetType, &relativePath, &url,
		&embeddedFilename, &asset.Size, &asset.IsLaunchAsset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	asset.Key = key.String
	asset.Hash = hash.String
	asset.Type = assetType.String
	asset.RelativePath = relativePath.String
	asset.URL = url.String
	asset.EmbeddedFilename = embeddedFilename.String
	return asset, nil
}
