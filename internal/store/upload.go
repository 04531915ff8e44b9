package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// UploadRepo persists UploadSession and UploadPart rows (§4.3).
type UploadRepo struct{ db *DB }

func (r *UploadRepo) Create(ctx context.Context, s types.UploadSession) error {
	meta, err := toJSON(s.ProviderMeta)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO upload_sessions (id, principal_type, principal_id, storage_type, storage_config_id,
			mount_id, fs_path, file_name, file_size, part_size, total_parts, bytes_uploaded, uploaded_parts,
			next_expected_range, strategy, part_policy, provider_upload_id, provider_upload_url, provider_meta,
			status, expires_at_ms, created_at_ms, updated_at_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		s.ID, s.Principal.Type, s.Principal.ID, s.StorageType, s.StorageConfigID,
		s.MountID, s.FsPath, s.FileName, s.FileSize, s.PartSize, s.TotalParts, s.BytesUploaded, s.UploadedParts,
		s.NextExpectedRange, s.Strategy, string(s.PartPolicy), s.ProviderUploadID, s.ProviderUploadURL, meta,
		s.Status, nullableInt64(s.ExpiresAtMs), s.CreatedAtMs, s.UpdatedAtMs,
	)
	return wrapExecErr("store.uploads", "create", err)
}

// UpdateProgress applies a part-write's effect on the parent session under
// one statement so concurrent part writes never race on BytesUploaded.
func (r *UploadRepo) UpdateProgress(ctx context.Context, id string, deltaBytes int64, deltaParts int, nextExpectedRange int64, updatedAtMs int64) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE upload_sessions
		SET bytes_uploaded = bytes_uploaded + ?, uploaded_parts = uploaded_parts + ?,
			next_expected_range = ?, updated_at_ms = ?, status = 'uploading'
		WHERE id = ?`),
		deltaBytes, deltaParts, nextExpectedRange, updatedAtMs, id,
	)
	return wrapExecErr("store.uploads", "updateProgress", err)
}

// TransitionStatus moves a session to a new terminal/non-terminal status,
// guarded by a WHERE on the current status to enforce §8 monotonicity at
// the storage layer (callers still check IsTerminal before calling this).
func (r *UploadRepo) TransitionStatus(ctx context.Context, id string, from, to types.UploadStatus, updatedAtMs int64) error {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE upload_sessions SET status=?, updated_at_ms=? WHERE id=? AND status=?`),
		to, updatedAtMs, id, from,
	)
	if err != nil {
		return wrapExecErr("store.uploads", "transitionStatus", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errConflictStatusRace("upload session", id)
	}
	return nil
}

func (r *UploadRepo) SetProviderUpload(ctx context.Context, id, providerUploadID, providerUploadURL string, updatedAtMs int64) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE upload_sessions SET provider_upload_id=?, provider_upload_url=?, updated_at_ms=? WHERE id=?`),
		providerUploadID, providerUploadURL, updatedAtMs, id,
	)
	return wrapExecErr("store.uploads", "setProviderUpload", err)
}

func (r *UploadRepo) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(uploadSessionSelect+` WHERE id=?`), id)
	return scanUploadSession(row)
}

// ListExpirable returns sessions past their ExpiresAtMs and still
// non-terminal, the cleanup_upload_sessions handler's working set.
func (r *UploadRepo) ListExpirable(ctx context.Context, nowMs int64, limit int) ([]types.UploadSession, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(uploadSessionSelect+`
		WHERE expires_at_ms IS NOT NULL AND expires_at_ms < ?
		AND status IN ('initiated','uploading') ORDER BY expires_at_ms LIMIT ?`), nowMs, limit)
	if err != nil {
		return nil, wrapExecErr("store.uploads", "listExpirable", err)
	}
	defer rows.Close()

	var out []types.UploadSession
	for rows.Next() {
		s, err := scanUploadSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListStaleTerminal returns terminal sessions older than the grace window,
// eligible for hard deletion.
func (r *UploadRepo) ListStaleTerminal(ctx context.Context, cutoffMs int64, limit int) ([]types.UploadSession, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(uploadSessionSelect+`
		WHERE status IN ('completed','aborted','error','expired') AND updated_at_ms < ?
		ORDER BY updated_at_ms LIMIT ?`), cutoffMs, limit)
	if err != nil {
		return nil, wrapExecErr("store.uploads", "listStaleTerminal", err)
	}
	defer rows.Close()

	var out []types.UploadSession
	for rows.Next() {
		s, err := scanUploadSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListStaleActive returns initiated|uploading sessions with no ExpiresAtMs
// whose UpdatedAtMs predates cutoffMs, the grace-hours half of
// cleanup_upload_sessions' expiry sweep (§4.6).
func (r *UploadRepo) ListStaleActive(ctx context.Context, cutoffMs int64, limit int) ([]types.UploadSession, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(uploadSessionSelect+`
		WHERE expires_at_ms IS NULL AND status IN ('initiated','uploading') AND updated_at_ms < ?
		ORDER BY updated_at_ms LIMIT ?`), cutoffMs, limit)
	if err != nil {
		return nil, wrapExecErr("store.uploads", "listStaleActive", err)
	}
	defer rows.Close()

	var out []types.UploadSession
	for rows.Next() {
		s, err := scanUploadSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *UploadRepo) Delete(ctx context.Context, id string) error {
	if err := r.DeleteParts(ctx, id); err != nil {
		return err
	}
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM upload_sessions WHERE id=?`), id)
	return wrapExecErr("store.uploads", "delete", err)
}

// DeleteParts drops the part ledger for a session without touching the
// session row itself, used by complete/abort which keep the session around
// for audit/history while clearing its now-irrelevant part rows.
func (r *UploadRepo) DeleteParts(ctx context.Context, id string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM upload_parts WHERE upload_id=?`), id)
	return wrapExecErr("store.uploads", "deleteParts", err)
}

// UpsertPart records (or overwrites, for idempotent re-uploads) one part.
func (r *UploadRepo) UpsertPart(ctx context.Context, p types.UploadPart) error {
	meta, err := toJSON(p.ProviderMeta)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO upload_parts (upload_id, part_no, size, provider_part_id, provider_meta, byte_start, byte_end, status, updated_at_ms)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(upload_id, part_no) DO UPDATE SET
			size=excluded.size, provider_part_id=excluded.provider_part_id, provider_meta=excluded.provider_meta,
			byte_start=excluded.byte_start, byte_end=excluded.byte_end, status=excluded.status, updated_at_ms=excluded.updated_at_ms`),
		p.UploadID, p.PartNo, p.Size, p.ProviderPartID, meta, p.ByteStart, p.ByteEnd, p.Status, p.UpdatedAtMs,
	)
	return wrapExecErr("store.uploads", "upsertPart", err)
}

func (r *UploadRepo) ListParts(ctx context.Context, uploadID string) ([]types.UploadPart, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(`
		SELECT upload_id, part_no, size, provider_part_id, provider_meta, byte_start, byte_end, status, updated_at_ms
		FROM upload_parts WHERE upload_id=? ORDER BY part_no`), uploadID)
	if err != nil {
		return nil, wrapExecErr("store.uploads", "listParts", err)
	}
	defer rows.Close()

	var out []types.UploadPart
	for rows.Next() {
		var p types.UploadPart
		var providerPartID sql.NullString
		var meta sql.NullString
		if err := rows.Scan(&p.UploadID, &p.PartNo, &p.Size, &providerPartID, &meta, &p.ByteStart, &p.ByteEnd, &p.Status, &p.UpdatedAtMs); err != nil {
			return nil, wrapExecErr("store.uploads", "scanPart", err)
		}
		p.ProviderPartID = providerPartID.String
		if meta.Valid {
			if err := fromJSON(meta.String, &p.ProviderMeta); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const uploadSessionSelect = `
	SELECT id, principal_type, principal_id, storage_type, storage_config_id, mount_id, fs_path, file_name,
		file_size, part_size, total_parts, bytes_uploaded, uploaded_parts, next_expected_range, strategy,
		part_policy, provider_upload_id, provider_upload_url, provider_meta, status, expires_at_ms,
		created_at_ms, updated_at_ms
	FROM upload_sessions`

func scanUploadSession(s scanner) (*types.UploadSession, error) {
	var sess types.UploadSession
	var partPolicy, providerUploadID, providerUploadURL, meta sql.NullString
	var expiresAt sql.NullInt64

	if err := s.Scan(&sess.ID, &sess.Principal.Type, &sess.Principal.ID, &sess.StorageType, &sess.StorageConfigID,
		&sess.MountID, &sess.FsPath, &sess.FileName, &sess.FileSize, &sess.PartSize, &sess.TotalParts,
		&sess.BytesUploaded, &sess.UploadedParts, &sess.NextExpectedRange, &sess.Strategy, &partPolicy,
		&providerUploadID, &providerUploadURL, &meta, &sess.Status, &expiresAt, &sess.CreatedAtMs, &sess.UpdatedAtMs,
	); err != nil {
		return nil, wrapExecErr("store.uploads", "scan", err)
	}
	sess.PartPolicy = types.PartVerificationPolicy(partPolicy.String)
	sess.ProviderUploadID = providerUploadID.String
	sess.ProviderUploadURL = providerUploadURL.String
	if expiresAt.Valid {
		v := expiresAt.Int64
		sess.ExpiresAtMs = &v
	}
	if meta.Valid {
		if err := fromJSON(meta.String, &sess.ProviderMeta); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}
