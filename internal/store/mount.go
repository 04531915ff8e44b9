package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// MountRepo persists pkg/types.Mount rows.
type MountRepo struct{ db *DB }

func (r *MountRepo) Create(ctx context.Context, m types.Mount) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO mounts (id, name, mount_path, storage_config_id, storage_type, is_active,
			created_by, web_proxy, require_signature, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Name, m.MountPath, m.StorageConfigID, m.StorageType, boolToInt(m.IsActive),
		m.CreatedBy, boolToInt(m.WebProxy), boolToInt(m.RequireSignature), m.CreatedAtMs, m.UpdatedAtMs,
	)
	return wrapExecErr("store.mounts", "create", err)
}

func (r *MountRepo) Update(ctx context.Context, m types.Mount) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE mounts SET name=?, mount_path=?, storage_config_id=?, storage_type=?, is_active=?,
			web_proxy=?, require_signature=?, updated_at_ms=?
		WHERE id=?`),
		m.Name, m.MountPath, m.StorageConfigID, m.StorageType, boolToInt(m.IsActive),
		boolToInt(m.WebProxy), boolToInt(m.RequireSignature), m.UpdatedAtMs, m.ID,
	)
	return wrapExecErr("store.mounts", "update", err)
}

func (r *MountRepo) Get(ctx context.Context, id string) (*types.Mount, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(mountSelect+` WHERE id=?`), id)
	return scanMount(row)
}

// GetByPath finds the mount whose mount_path is the longest prefix of
// fsPath, used by the resolver to find the owning mount for a request.
func (r *MountRepo) GetByPath(ctx context.Context, fsPath string) (*types.Mount, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(mountSelect+`
		WHERE is_active=1 AND (? = mount_path OR ? LIKE mount_path || '/%' OR mount_path = '/')
		ORDER BY length(mount_path) DESC LIMIT 1`), fsPath, fsPath)
	return scanMount(row)
}

func (r *MountRepo) List(ctx context.Context) ([]types.Mount, error) {
	rows, err := r.db.conn.QueryContext(ctx, mountSelect+` ORDER BY mount_path`)
	if err != nil {
		return nil, wrapExecErr("store.mounts", "list", err)
	}
	defer rows.Close()

	var out []types.Mount
	for rows.Next() {
		m, err := scanMount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM mounts WHERE id=?`), id)
	return wrapExecErr("store.mounts", "delete", err)
}

const mountSelect = `
	SELECT id, name, mount_path, storage_config_id, storage_type, is_active,
		created_by, web_proxy, require_signature, created_at_ms, updated_at_ms
	FROM mounts`

func scanMount(s scanner) (*types.Mount, error) {
	var m types.Mount
	var isActive, webProxy, requireSig int64
	var createdBy sql.NullString

	if err := s.Scan(&m.ID, &m.Name, &m.MountPath, &m.StorageConfigID, &m.StorageType, &isActive,
		&createdBy, &webProxy, &requireSig, &m.CreatedAtMs, &m.UpdatedAtMs); err != nil {
		return nil, wrapExecErr("store.mounts", "scan", err)
	}
	m.IsActive = isActive != 0
	m.WebProxy = webProxy != 0
	m.RequireSignature = requireSig != 0
	m.CreatedBy = createdBy.String
	return &m, nil
}
