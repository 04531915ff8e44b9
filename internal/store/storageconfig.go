package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// StorageConfigRepo persists pkg/types.StorageConfig rows.
type StorageConfigRepo struct{ db *DB }

func (r *StorageConfigRepo) Create(ctx context.Context, c types.StorageConfig) error {
	secrets, err := toJSON(c.Secrets)
	if err != nil {
		return err
	}
	extra, err := toJSON(c.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO storage_configs (id, type, name, secrets, quota_bytes, root_prefix, extra, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Type, c.Name, secrets, nullableInt64(c.QuotaBytes), c.RootPrefix, extra, c.CreatedAtMs, c.UpdatedAtMs,
	)
	return wrapExecErr("store.storageConfigs", "create", err)
}

func (r *StorageConfigRepo) Update(ctx context.Context, c types.StorageConfig) error {
	secrets, err := toJSON(c.Secrets)
	if err != nil {
		return err
	}
	extra, err := toJSON(c.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE storage_configs SET type=?, name=?, secrets=?, quota_bytes=?, root_prefix=?, extra=?, updated_at_ms=?
		WHERE id=?`),
		c.Type, c.Name, secrets, nullableInt64(c.QuotaBytes), c.RootPrefix, extra, c.UpdatedAtMs, c.ID,
	)
	return wrapExecErr("store.storageConfigs", "update", err)
}

func (r *StorageConfigRepo) Get(ctx context.Context, id string) (*types.StorageConfig, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, type, name, secrets, quota_bytes, root_prefix, extra, created_at_ms, updated_at_ms
		FROM storage_configs WHERE id=?`), id)
	return scanStorageConfig(row)
}

func (r *StorageConfigRepo) List(ctx context.Context) ([]types.StorageConfig, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, type, name, secrets, quota_bytes, root_prefix, extra, created_at_ms, updated_at_ms
		FROM storage_configs ORDER BY created_at_ms`)
	if err != nil {
		return nil, wrapExecErr("store.storageConfigs", "list", err)
	}
	defer rows.Close()

	var out []types.StorageConfig
	for rows.Next() {
		c, err := scanStorageConfigRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *StorageConfigRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM storage_configs WHERE id=?`), id)
	return wrapExecErr("store.storageConfigs", "delete", err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStorageConfig(row *sql.Row) (*types.StorageConfig, error) {
	return scanStorageConfigScanner(row)
}

func scanStorageConfigRows(rows *sql.Rows) (*types.StorageConfig, error) {
	return scanStorageConfigScanner(rows)
}

func scanStorageConfigScanner(s scanner) (*types.StorageConfig, error) {
	var c types.StorageConfig
	var secrets, extra sql.NullString
	var quotaBytes sql.NullInt64

	if err := s.Scan(&c.ID, &c.Type, &c.Name, &secrets, &quotaBytes, &c.RootPrefix, &extra, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
		return nil, wrapExecErr("store.storageConfigs", "scan", err)
	}
	if quotaBytes.Valid {
		v := quotaBytes.Int64
		c.QuotaBytes = &v
	}
	if secrets.Valid {
		if err := fromJSON(secrets.String, &c.Secrets); err != nil {
			return nil, err
		}
	}
	if extra.Valid {
		if err := fromJSON(extra.String, &c.Extra); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
