package db

// Schema contains the SQL statements to create the updates database schema.
const Schema = `
-- Updates table: one row per fetched-or-embedded release
CREATE TABLE IF NOT EXISTS updates (
    id              TEXT NOT NULL,
    scope_key       TEXT NOT NULL,
    commit_time     INTEGER NOT NULL,
    runtime_version TEXT NOT NULL,
    status          INTEGER NOT NULL,
    metadata        TEXT,
    created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (id, scope_key)
);

-- Assets table: content-addressed files shared across updates
CREATE TABLE IF NOT EXISTS assets (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    key               TEXT,
    hash              TEXT UNIQUE,
    type              TEXT,
    relative_path     TEXT,
    url               TEXT,
    embedded_filename TEXT,
    size              INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Join table: which assets make up which update. The launch-asset role
-- lives here, not on the asset row: shared content can be the entry
-- bundle of one update and a plain asset of another.
CREATE TABLE IF NOT EXISTS updates_assets (
    update_id       TEXT NOT NULL,
    scope_key       TEXT NOT NULL,
    asset_id        INTEGER NOT NULL,
    is_launch_asset BOOLEAN NOT NULL DEFAULT FALSE,
    FOREIGN KEY (update_id, scope_key) REFERENCES updates(id, scope_key) ON DELETE CASCADE,
    FOREIGN KEY (asset_id) REFERENCES assets(id) ON DELETE CASCADE,
    UNIQUE (update_id, scope_key, asset_id)
);

-- Indexes for performance
CREATE UNIQUE INDEX IF NOT EXISTS idx_updates_scope_commit ON updates(scope_key, commit_time);
CREATE INDEX IF NOT EXISTS idx_updates_status ON updates(status);
CREATE INDEX IF NOT EXISTS idx_assets_hash ON assets(hash);
CREATE INDEX IF NOT EXISTS idx_updates_assets_update ON updates_assets(update_id, scope_key);
CREATE INDEX IF NOT EXISTS idx_updates_assets_asset ON updates_assets(asset_id);
`

// hashLength is the expected length of a SHA256 hash in hexadecimal format.
const hashLength = 64
