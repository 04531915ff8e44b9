// Package store is the gateway's persistence layer: typed repositories over
// database/sql, one per §3 entity, in the shape storj's satellitedb
// factory uses (a single Open(driver, dsn, ...) that wires every repository off
// one *sql.DB). modernc.org/sqlite is the default cgo-free driver;
// github.com/lib/pq is wired for Postgres deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
)

// DB bundles the underlying connection pool with every typed repository.
type DB struct {
	conn   *sql.DB
	driver string

	StorageConfigs *StorageConfigRepo
	Mounts         *MountRepo
	Uploads        *UploadRepo
	VfsNodes       *VfsNodeRepo
	Tasks          *TaskRepo
	SearchIndex    *SearchIndexRepo
	Usage          *UsageRepo
}

// Open connects to driver ("sqlite" or "postgres") at dsn, applies the
// schema, and wires every repository off the resulting pool.
func Open(driver, dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*DB, error) {
	sqlDriver := driver
	if driver == "sqlite" {
		sqlDriver = "sqlite"
	} else if driver == "postgres" {
		sqlDriver = "postgres"
	} else {
		return nil, errors.Validation("store", fmt.Sprintf("unsupported database driver %q", driver))
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, errors.Internal("store", "failed to open database", err)
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		conn.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		conn.SetConnMaxLifetime(connMaxLifetime)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	db.StorageConfigs = &StorageConfigRepo{db: db}
	db.Mounts = &MountRepo{db: db}
	db.Uploads = &UploadRepo{db: db}
	db.VfsNodes = &VfsNodeRepo{db: db}
	db.Tasks = &TaskRepo{db: db}
	db.SearchIndex = &SearchIndexRepo{db: db}
	db.Usage = &UsageRepo{db: db}

	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies connectivity, used by the health checker.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(db.driver) {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return errors.Internal("store", "schema migration failed", err)
		}
	}
	return nil
}

func wrapExecErr(component, op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errors.NotFound(component, fmt.Sprintf("%s: not found", op))
	}
	return errors.DriverErr(component, op, 0, err)
}

// errConflictStatusRace reports a compare-and-swap status transition that
// lost the race (the row's current status no longer matched `from`).
func errConflictStatusRace(entity, id string) error {
	return errors.Conflict("store", fmt.Sprintf("%s %s: status changed concurrently", entity, id))
}
