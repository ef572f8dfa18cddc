// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for run history.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per submitted job, updated as the session progresses
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    flow_run_id TEXT NOT NULL,
    worker_id TEXT NOT NULL DEFAULT '',
    bill_name TEXT NOT NULL DEFAULT '',
    replicas INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    completed TEXT NOT NULL DEFAULT '[]', -- JSON array of stage indices
    report TEXT NOT NULL DEFAULT '',
    timed_out INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,          -- Unix nanoseconds
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_flow_run_id ON runs(flow_run_id);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
