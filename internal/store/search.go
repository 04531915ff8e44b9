package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// SearchIndexRepo persists the derived search index: entries, per-mount
// state, and the dirty reconciliation queue (§4.7).
type SearchIndexRepo struct{ db *DB }

func (r *SearchIndexRepo) UpsertEntry(ctx context.Context, e types.FsIndexEntry) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO fs_index_entries (mount_id, fs_path, name, is_dir, size, modified_ms, mime_type, index_run_id, updated_at_ms)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(mount_id, fs_path) DO UPDATE SET
			name=excluded.name, is_dir=excluded.is_dir, size=excluded.size, modified_ms=excluded.modified_ms,
			mime_type=excluded.mime_type, index_run_id=excluded.index_run_id, updated_at_ms=excluded.updated_at_ms`),
		e.MountID, e.FsPath, e.Name, boolToInt(e.IsDir), e.Size, e.ModifiedMs, e.MimeType, e.IndexRunID, e.UpdatedAtMs,
	)
	return wrapExecErr("store.search", "upsertEntry", err)
}

func (r *SearchIndexRepo) DeleteEntry(ctx context.Context, mountID, fsPath string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM fs_index_entries WHERE mount_id=? AND fs_path=?`), mountID, fsPath)
	return wrapExecErr("store.search", "deleteEntry", err)
}

// DeleteEntriesNotInRun removes every entry for mountID not stamped with
// the given run id, reconciling a full rebuild's final pass.
func (r *SearchIndexRepo) DeleteEntriesNotInRun(ctx context.Context, mountID, runID string) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		DELETE FROM fs_index_entries WHERE mount_id=? AND (index_run_id IS NULL OR index_run_id<>?)`), mountID, runID)
	if err != nil {
		return 0, wrapExecErr("store.search", "reconcile", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SearchCursor is the decoded keyset position a caller resumes a page
// from, one tuple of the (modified_ms DESC, fs_path ASC, mount_id ASC)
// ordering §4.7 defines (mount_id stands in for the spec's "id" tiebreak,
// since entries key on (mount_id, fs_path) rather than a surface rowid).
type SearchCursor struct {
	ModifiedMs int64
	FsPath     string
	MountID    string
}

// SearchPage runs one page of a substring-on-name query. mountID empty
// scopes across every mount (the "global" scope); pathPrefix, if set,
// further restricts to entries whose fs_path begins with pathPrefix+"/"
// (the "directory" scope). Results are ordered modifiedMs DESC, fsPath
// ASC, mountId ASC and keyset-paged on that same tuple (§4.7).
func (r *SearchIndexRepo) SearchPage(ctx context.Context, mountID, pathPrefix, query string, cursor *SearchCursor, limit int) ([]types.FsIndexEntry, error) {
	conds := []string{"name LIKE ? ESCAPE '\\'"}
	args := []interface{}{"%" + escapeLike(query) + "%"}

	if mountID != "" {
		conds = append(conds, "mount_id = ?")
		args = append(args, mountID)
	}
	if pathPrefix != "" {
		conds = append(conds, "fs_path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(pathPrefix+"/")+"%")
	}
	if cursor != nil {
		conds = append(conds, `(modified_ms < ?
			OR (modified_ms = ? AND fs_path > ?)
			OR (modified_ms = ? AND fs_path = ? AND mount_id > ?))`)
		args = append(args, cursor.ModifiedMs, cursor.ModifiedMs, cursor.FsPath, cursor.ModifiedMs, cursor.FsPath, cursor.MountID)
	}

	stmt := fmt.Sprintf(`
		SELECT mount_id, fs_path, name, is_dir, size, modified_ms, mime_type, index_run_id, updated_at_ms
		FROM fs_index_entries WHERE %s
		ORDER BY modified_ms DESC, fs_path ASC, mount_id ASC LIMIT ?`, strings.Join(conds, " AND "))
	args = append(args, limit)

	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(stmt), args...)
	if err != nil {
		return nil, wrapExecErr("store.search", "searchPage", err)
	}
	defer rows.Close()

	var out []types.FsIndexEntry
	for rows.Next() {
		var e types.FsIndexEntry
		var isDir int64
		var mime, runID sql.NullString
		if err := rows.Scan(&e.MountID, &e.FsPath, &e.Name, &isDir, &e.Size, &e.ModifiedMs, &mime, &runID, &e.UpdatedAtMs); err != nil {
			return nil, wrapExecErr("store.search", "scan", err)
		}
		e.IsDir = isDir != 0
		e.MimeType = mime.String
		e.IndexRunID = runID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// escapeLike escapes the LIKE metacharacters ('%', '_', the escape
// character itself) in a caller-supplied fragment before it's wrapped in
// wildcards, so a query containing them is matched literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func (r *SearchIndexRepo) GetState(ctx context.Context, mountID string) (*types.FsIndexState, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(`
		SELECT mount_id, status, last_indexed_ms, last_error FROM fs_index_state WHERE mount_id=?`), mountID)

	var st types.FsIndexState
	var lastIndexed sql.NullInt64
	var lastErr sql.NullString
	if err := row.Scan(&st.MountID, &st.Status, &lastIndexed, &lastErr); err != nil {
		if err == sql.ErrNoRows {
			return &types.FsIndexState{MountID: mountID, Status: types.IndexNotReady}, nil
		}
		return nil, wrapExecErr("store.search", "getState", err)
	}
	if lastIndexed.Valid {
		v := lastIndexed.Int64
		st.LastIndexedMs = &v
	}
	st.LastError = lastErr.String
	return &st, nil
}

func (r *SearchIndexRepo) SetState(ctx context.Context, st types.FsIndexState) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO fs_index_state (mount_id, status, last_indexed_ms, last_error) VALUES (?,?,?,?)
		ON CONFLICT(mount_id) DO UPDATE SET status=excluded.status, last_indexed_ms=excluded.last_indexed_ms, last_error=excluded.last_error`),
		st.MountID, st.Status, nullableInt64(st.LastIndexedMs), st.LastError,
	)
	return wrapExecErr("store.search", "setState", err)
}

// MarkDirty dedupes on DedupeKey (mountId:fsPath) per §3 so repeated
// writes to the same path collapse into one reconciliation row.
func (r *SearchIndexRepo) MarkDirty(ctx context.Context, d types.FsIndexDirty) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO fs_index_dirty (dedupe_key, mount_id, fs_path, op, created_at_ms) VALUES (?,?,?,?,?)
		ON CONFLICT(dedupe_key) DO UPDATE SET op=excluded.op, created_at_ms=excluded.created_at_ms`),
		d.DedupeKey, d.MountID, d.FsPath, d.Op, d.CreatedAtMs,
	)
	return wrapExecErr("store.search", "markDirty", err)
}

func (r *SearchIndexRepo) CountDirty(ctx context.Context, mountID string) (int, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(`SELECT COUNT(*) FROM fs_index_dirty WHERE mount_id=?`), mountID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, wrapExecErr("store.search", "countDirty", err)
	}
	return n, nil
}

func (r *SearchIndexRepo) ListDirty(ctx context.Context, mountID string, limit int) ([]types.FsIndexDirty, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(`
		SELECT dedupe_key, mount_id, fs_path, op, created_at_ms FROM fs_index_dirty
		WHERE mount_id=? ORDER BY created_at_ms LIMIT ?`), mountID, limit)
	if err != nil {
		return nil, wrapExecErr("store.search", "listDirty", err)
	}
	defer rows.Close()

	var out []types.FsIndexDirty
	for rows.Next() {
		var d types.FsIndexDirty
		if err := rows.Scan(&d.DedupeKey, &d.MountID, &d.FsPath, &d.Op, &d.CreatedAtMs); err != nil {
			return nil, wrapExecErr("store.search", "scanDirty", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SearchIndexRepo) ClearDirty(ctx context.Context, dedupeKeys []string) error {
	for _, key := range dedupeKeys {
		if _, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM fs_index_dirty WHERE dedupe_key=?`), key); err != nil {
			return wrapExecErr("store.search", "clearDirty", err)
		}
	}
	return nil
}
