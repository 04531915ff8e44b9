package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// UsageRepo persists per-storage-config usage snapshots (§4.8).
type UsageRepo struct{ db *DB }

func (r *UsageRepo) Upsert(ctx context.Context, u types.UsageSnapshot) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO usage_snapshots (storage_config_id, total_bytes, used_bytes, taken_at_ms) VALUES (?,?,?,?)
		ON CONFLICT(storage_config_id) DO UPDATE SET total_bytes=excluded.total_bytes, used_bytes=excluded.used_bytes, taken_at_ms=excluded.taken_at_ms`),
		u.StorageConfigID, nullableInt64(u.TotalBytes), u.UsedBytes, u.TakenAtMs,
	)
	return wrapExecErr("store.usage", "upsert", err)
}

func (r *UsageRepo) Get(ctx context.Context, storageConfigID string) (*types.UsageSnapshot, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(`
		SELECT storage_config_id, total_bytes, used_bytes, taken_at_ms FROM usage_snapshots WHERE storage_config_id=?`), storageConfigID)

	var u types.UsageSnapshot
	var total sql.NullInt64
	if err := row.Scan(&u.StorageConfigID, &total, &u.UsedBytes, &u.TakenAtMs); err != nil {
		return nil, wrapExecErr("store.usage", "get", err)
	}
	if total.Valid {
		v := total.Int64
		u.TotalBytes = &v
	}
	return &u, nil
}

func (r *UsageRepo) ListAll(ctx context.Context) ([]types.UsageSnapshot, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT storage_config_id, total_bytes, used_bytes, taken_at_ms FROM usage_snapshots`)
	if err != nil {
		return nil, wrapExecErr("store.usage", "listAll", err)
	}
	defer rows.Close()

	var out []types.UsageSnapshot
	for rows.Next() {
		var u types.UsageSnapshot
		var total sql.NullInt64
		if err := rows.Scan(&u.StorageConfigID, &total, &u.UsedBytes, &u.TakenAtMs); err != nil {
			return nil, wrapExecErr("store.usage", "scan", err)
		}
		if total.Valid {
			v := total.Int64
			u.TotalBytes = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
