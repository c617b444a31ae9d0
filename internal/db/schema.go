package db

const schema = `
CREATE TABLE IF NOT EXISTS users (
    address      TEXT PRIMARY KEY,
    username     TEXT DEFAULT '',
    elo          INTEGER NOT NULL DEFAULT 2701,
    created_at   DATETIME DEFAULT (datetime('now')),
    last_updated DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS networks (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    admin_address TEXT NOT NULL,
    join_secret   TEXT NOT NULL,
    members       TEXT NOT NULL DEFAULT '[]',
    created_at    DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_networks_name ON networks(name);

CREATE TABLE IF NOT EXISTS files (
    id               TEXT PRIMARY KEY,
    scope_id         TEXT NOT NULL,
    file_name        TEXT NOT NULL,
    fingerprint      TEXT NOT NULL,
    sha256_hash      TEXT DEFAULT '',
    size             INTEGER NOT NULL DEFAULT 0,
    uploader_address TEXT NOT NULL,
    uploader_name    TEXT DEFAULT '',
    retrieval_url    TEXT DEFAULT '',
    anchor_tx        TEXT DEFAULT '',
    uploaded_at      DATETIME DEFAULT (datetime('now'))
);
-- One accepted record per fingerprint per scope. The engine decides
-- new-vs-duplicate before inserting; this index turns a lost race between
-- two concurrent uploads into an insert error instead of a second record.
CREATE UNIQUE INDEX IF NOT EXISTS ux_files_scope_fingerprint ON files(scope_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_files_scope ON files(scope_id);
CREATE INDEX IF NOT EXISTS idx_files_uploader ON files(uploader_address);

CREATE TABLE IF NOT EXISTS alerts (
    id                        TEXT PRIMARY KEY,
    network_id                TEXT NOT NULL,
    duplicate_file_name       TEXT NOT NULL,
    duplicate_uploader        TEXT DEFAULT '',
    duplicate_uploader_address TEXT NOT NULL,
    original_uploader         TEXT DEFAULT '',
    original_uploader_address TEXT NOT NULL,
    original_date             TEXT DEFAULT '',
    fingerprint               TEXT NOT NULL,
    is_read                   INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
    read_at                   DATETIME,
    created_at                DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_alerts_network ON alerts(network_id);
`
