package job

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const (
	minUsageConcurrency = 1
	maxUsageConcurrency = 10
)

// storageDriverFunc resolves the live driver for a storage config, without
// requiring a mount (DiskUsage is a storage-config-level operation).
type storageDriverFunc func(cfg types.StorageConfig) (types.Driver, error)

// NewRefreshStorageUsageHandler implements refresh_storage_usage_snapshots
// (§4.6): asks each StorageConfig's driver for disk usage, falling back to
// a sum of the config's mounts' search-index entry sizes when the driver
// doesn't support it, with
// bounded concurrency.
func NewRefreshStorageUsageHandler(db *store.DB, driverOf storageDriverFunc, now func() int64) Handler {
	return Handler{
		TaskType: types.TaskRefreshStorageUsage,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			configs, err := db.StorageConfigs.List(ctx)
			if err != nil {
				return nil, err
			}

			concurrency := payloadInt(task.Payload, "concurrency", maxUsageConcurrency)
			if concurrency < minUsageConcurrency {
				concurrency = minUsageConcurrency
			}
			if concurrency > maxUsageConcurrency {
				concurrency = maxUsageConcurrency
			}

			p := types.TaskProgress{Total: len(configs)}
			sem := make(chan struct{}, concurrency)
			g, gctx := errgroup.WithContext(ctx)

			for i := range configs {
				cfg := configs[i]
				sem <- struct{}{}
				g.Go(func() error {
					defer func() { <-sem }()
					used, derr := refreshOne(gctx, db, driverOf, cfg, now())
					if derr != nil {
						p.Failed++
						return nil
					}
					_ = used
					p.Processed++
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			progress(p)

			return map[string]interface{}{"refreshed": p.Processed, "failed": p.Failed}, nil
		},
	}
}

func refreshOne(ctx context.Context, db *store.DB, driverOf storageDriverFunc, cfg types.StorageConfig, nowMs int64) (int64, error) {
	drv, err := driverOf(cfg)
	if err != nil {
		return 0, err
	}

	used, err := drv.DiskUsage(types.OpContext{Context: ctx})
	if err != nil {
		if errors.Code(err) != errors.ErrCodeNotSupported {
			return 0, err
		}
		used, err = aggregateFromIndex(ctx, db, cfg.ID)
		if err != nil {
			return 0, err
		}
	}

	if err := db.Usage.Upsert(ctx, types.UsageSnapshot{
		StorageConfigID: cfg.ID, UsedBytes: used, TakenAtMs: nowMs,
	}); err != nil {
		return 0, err
	}
	return used, nil
}

// aggregateFromIndex sums the search index's per-entry sizes across every
// mount backed by storageConfigID, the fallback path for drivers that
// can't report DiskUsage directly.
func aggregateFromIndex(ctx context.Context, db *store.DB, storageConfigID string) (int64, error) {
	mounts, err := db.Mounts.List(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, m := range mounts {
		if m.StorageConfigID != storageConfigID {
			continue
		}
		var cursor *store.SearchCursor
		for {
			entries, err := db.SearchIndex.SearchPage(ctx, m.ID, "", "", cursor, 200)
			if err != nil {
				return 0, err
			}
			for _, e := range entries {
				if !e.IsDir {
					total += e.Size
				}
			}
			if len(entries) < 200 {
				break
			}
			last := entries[len(entries)-1]
			cursor = &store.SearchCursor{ModifiedMs: last.ModifiedMs, FsPath: last.FsPath, MountID: last.MountID}
		}
	}
	return total, nil
}
