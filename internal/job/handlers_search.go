package job

import (
	"context"
	"fmt"

	"github.com/cloudpaste/cloudpaste/internal/cache"
	"github.com/cloudpaste/cloudpaste/internal/search"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// mountDriverFunc resolves the live driver instance for one mount,
// satisfied by resolver.Manager.Driver in production and a stub in tests.
type mountDriverFunc func(ctx context.Context, mount *types.Mount) (types.Driver, error)

// NewFsIndexRebuildHandler drains payload.mountIds (each a mountId string)
// through search.Indexer.Rebuild depth-first, honouring cooperative
// cancellation between mounts (§4.6 fs_index_rebuild).
func NewFsIndexRebuildHandler(db *store.DB, ix *search.Indexer, driverOf mountDriverFunc, bus *cache.Bus) Handler {
	return Handler{
		TaskType: types.TaskFsIndexRebuild,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			mountIDs, err := payloadStrings(task.Payload, "mountIds")
			if err != nil {
				return nil, err
			}
			maxDepth := payloadInt(task.Payload, "maxDepth", 0)

			p := types.TaskProgress{Total: len(mountIDs)}
			stats := map[string]interface{}{}
			for _, mountID := range mountIDs {
				if cancelled(ctx, db, task.TaskID) {
					return stats, errors.Conflict("job", "cancelled by operator")
				}

				mount, err := db.Mounts.Get(ctx, mountID)
				if err != nil {
					p.Failed++
					progress(p)
					continue
				}
				drv, err := driverOf(ctx, mount)
				if err != nil {
					p.Failed++
					progress(p)
					continue
				}

				runID := task.TaskID + ":" + mountID
				if err := ix.Rebuild(ctx, mount, drv, runID, maxDepth); err != nil {
					p.Failed++
				} else {
					p.Processed++
					if bus != nil {
						bus.Publish(cache.Invalidation{Scope: cache.ScopeSearch, MountID: mountID})
					}
				}
				progress(p)
			}
			stats["mountsProcessed"] = p.Processed
			stats["mountsFailed"] = p.Failed
			return stats, nil
		},
	}
}

// NewFsIndexApplyDirtyHandler drains up to payload.maxItems dirty rows per
// mount named in payload.mountIds (§4.6 fs_index_apply_dirty).
func NewFsIndexApplyDirtyHandler(db *store.DB, ix *search.Indexer, driverOf mountDriverFunc, bus *cache.Bus) Handler {
	return Handler{
		TaskType: types.TaskFsIndexApplyDirty,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			mountIDs, err := payloadStrings(task.Payload, "mountIds")
			if err != nil {
				return nil, err
			}
			maxItems := payloadInt(task.Payload, "maxItems", 500)

			p := types.TaskProgress{Total: len(mountIDs)}
			totalApplied := 0
			for _, mountID := range mountIDs {
				if cancelled(ctx, db, task.TaskID) {
					return map[string]interface{}{"applied": totalApplied}, errors.Conflict("job", "cancelled by operator")
				}

				mount, err := db.Mounts.Get(ctx, mountID)
				if err != nil {
					p.Failed++
					progress(p)
					continue
				}
				drv, err := driverOf(ctx, mount)
				if err != nil {
					p.Failed++
					progress(p)
					continue
				}

				n, err := ix.ApplyDirty(ctx, mount, drv, maxItems)
				totalApplied += n
				if err != nil {
					p.Failed++
				} else {
					p.Processed++
					if bus != nil {
						bus.Publish(cache.Invalidation{Scope: cache.ScopeSearch, MountID: mountID})
					}
				}
				progress(p)
			}
			return map[string]interface{}{"applied": totalApplied, "mountsFailed": p.Failed}, nil
		},
	}
}

func payloadStrings(payload map[string]interface{}, key string) ([]string, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, errors.Validation("job", fmt.Sprintf("payload.%s is required", key))
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Validation("job", fmt.Sprintf("payload.%s must be an array", key))
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, errors.Validation("job", fmt.Sprintf("payload.%s entries must be strings", key))
		}
		out = append(out, s)
	}
	return out, nil
}

func payloadInt(payload map[string]interface{}, key string, def int) int {
	raw, ok := payload[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
