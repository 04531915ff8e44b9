package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// VfsNodeRepo persists cached virtual-filesystem tree entries.
type VfsNodeRepo struct{ db *DB }

func (r *VfsNodeRepo) Upsert(ctx context.Context, n types.VfsNode) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO vfs_nodes (id, owner_type, owner_id, scope_type, scope_id, parent_id, name, node_type,
			size, mime_type, storage_type, content_ref, status, created_at_ms, updated_at_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, node_type=excluded.node_type, size=excluded.size, mime_type=excluded.mime_type,
			storage_type=excluded.storage_type, content_ref=excluded.content_ref, status=excluded.status,
			updated_at_ms=excluded.updated_at_ms`),
		n.ID, n.OwnerType, n.OwnerID, n.ScopeType, n.ScopeID, n.ParentID, n.Name, n.NodeType,
		nullableInt64(n.Size), n.MimeType, n.StorageType, n.ContentRef, n.Status, n.CreatedAtMs, n.UpdatedAtMs,
	)
	return wrapExecErr("store.vfsNodes", "upsert", err)
}

func (r *VfsNodeRepo) Get(ctx context.Context, id string) (*types.VfsNode, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(vfsNodeSelect+` WHERE id=?`), id)
	return scanVfsNode(row)
}

func (r *VfsNodeRepo) ListChildren(ctx context.Context, parentID string) ([]types.VfsNode, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(vfsNodeSelect+`
		WHERE parent_id=? AND status='active' ORDER BY node_type, name`), parentID)
	if err != nil {
		return nil, wrapExecErr("store.vfsNodes", "listChildren", err)
	}
	defer rows.Close()

	var out []types.VfsNode
	for rows.Next() {
		n, err := scanVfsNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *VfsNodeRepo) MarkDeleted(ctx context.Context, id string, updatedAtMs int64) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`UPDATE vfs_nodes SET status='deleted', updated_at_ms=? WHERE id=?`), updatedAtMs, id)
	return wrapExecErr("store.vfsNodes", "markDeleted", err)
}

const vfsNodeSelect = `
	SELECT id, owner_type, owner_id, scope_type, scope_id, parent_id, name, node_type, size, mime_type,
		storage_type, content_ref, status, created_at_ms, updated_at_ms
	FROM vfs_nodes`

func scanVfsNode(s scanner) (*types.VfsNode, error) {
	var n types.VfsNode
	var size sql.NullInt64

	if err := s.Scan(&n.ID, &n.OwnerType, &n.OwnerID, &n.ScopeType, &n.ScopeID, &n.ParentID, &n.Name, &n.NodeType,
		&size, &n.MimeType, &n.StorageType, &n.ContentRef, &n.Status, &n.CreatedAtMs, &n.UpdatedAtMs); err != nil {
		return nil, wrapExecErr("store.vfsNodes", "scan", err)
	}
	if size.Valid {
		v := size.Int64
		n.Size = &v
	}
	return &n, nil
}
