package store

import "strings"

// schemaStatements returns the DDL for every table, adapting a handful of
// type names between sqlite and postgres.
func schemaStatements(driver string) []string {
	blob := "TEXT"
	autoNow := "TEXT"
	_ = autoNow

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS storage_configs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			secrets ` + blob + `,
			quota_bytes INTEGER,
			root_prefix TEXT,
			extra ` + blob + `,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			mount_path TEXT NOT NULL UNIQUE,
			storage_config_id TEXT NOT NULL,
			storage_type TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by TEXT,
			web_proxy INTEGER NOT NULL DEFAULT 0,
			require_signature INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS upload_sessions (
			id TEXT PRIMARY KEY,
			principal_type TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			storage_type TEXT NOT NULL,
			storage_config_id TEXT NOT NULL,
			mount_id TEXT NOT NULL,
			fs_path TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			part_size INTEGER NOT NULL,
			total_parts INTEGER NOT NULL,
			bytes_uploaded INTEGER NOT NULL DEFAULT 0,
			uploaded_parts INTEGER NOT NULL DEFAULT 0,
			next_expected_range INTEGER NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL,
			part_policy TEXT,
			provider_upload_id TEXT,
			provider_upload_url TEXT,
			provider_meta ` + blob + `,
			status TEXT NOT NULL,
			expires_at_ms INTEGER,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_sessions_status ON upload_sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_sessions_mount ON upload_sessions(mount_id)`,
		`CREATE TABLE IF NOT EXISTS upload_parts (
			upload_id TEXT NOT NULL,
			part_no INTEGER NOT NULL,
			size INTEGER NOT NULL,
			provider_part_id TEXT,
			provider_meta ` + blob + `,
			byte_start INTEGER NOT NULL,
			byte_end INTEGER NOT NULL,
			status TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (upload_id, part_no)
		)`,
		`CREATE TABLE IF NOT EXISTS vfs_nodes (
			id TEXT PRIMARY KEY,
			owner_type TEXT,
			owner_id TEXT,
			scope_type TEXT,
			scope_id TEXT,
			parent_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			node_type TEXT NOT NULL,
			size INTEGER,
			mime_type TEXT,
			storage_type TEXT,
			content_ref TEXT,
			status TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vfs_nodes_parent ON vfs_nodes(parent_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			payload ` + blob + `,
			progress_total INTEGER NOT NULL DEFAULT 0,
			progress_processed INTEGER NOT NULL DEFAULT 0,
			progress_failed INTEGER NOT NULL DEFAULT 0,
			progress_skipped INTEGER NOT NULL DEFAULT 0,
			stats ` + blob + `,
			created_by_type TEXT,
			created_by_id TEXT,
			created_at_ms INTEGER NOT NULL,
			started_at_ms INTEGER,
			finished_at_ms INTEGER,
			error_message TEXT,
			trigger_type TEXT,
			trigger_ref TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(task_type)`,
		`CREATE TABLE IF NOT EXISTS fs_index_entries (
			mount_id TEXT NOT NULL,
			fs_path TEXT NOT NULL,
			name TEXT NOT NULL,
			is_dir INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			modified_ms INTEGER NOT NULL DEFAULT 0,
			mime_type TEXT,
			index_run_id TEXT,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (mount_id, fs_path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fs_index_name ON fs_index_entries(mount_id, name)`,
		`CREATE TABLE IF NOT EXISTS fs_index_state (
			mount_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_indexed_ms INTEGER,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fs_index_dirty (
			dedupe_key TEXT PRIMARY KEY,
			mount_id TEXT NOT NULL,
			fs_path TEXT NOT NULL,
			op TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fs_index_dirty_mount ON fs_index_dirty(mount_id)`,
		`CREATE TABLE IF NOT EXISTS usage_snapshots (
			storage_config_id TEXT PRIMARY KEY,
			total_bytes INTEGER,
			used_bytes INTEGER NOT NULL DEFAULT 0,
			taken_at_ms INTEGER NOT NULL
		)`,
	}

	if driver == "postgres" {
		for i, s := range stmts {
			stmts[i] = strings.ReplaceAll(s, "INTEGER NOT NULL DEFAULT 1", "BOOLEAN NOT NULL DEFAULT TRUE")
		}
	}
	return stmts
}
