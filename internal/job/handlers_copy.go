package job

import (
	"context"
	"fmt"
	"path"

	"github.com/cloudpaste/cloudpaste/internal/cache"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// copyItem is one payload.items[] entry for the copy handler.
type copyItem struct {
	SourcePath string
	TargetPath string
}

// NewCopyHandler implements the copy job (§4.6): for each payload.items[]
// pair, recurses depth-first over directories, honouring skipExisting,
// updating progress per item, and invalidating listing caches for every
// mount it touched once done.
func NewCopyHandler(rs *resolver.Manager, db *store.DB, bus *cache.Bus, principal types.Principal) Handler {
	return Handler{
		TaskType: types.TaskCopy,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			items, err := parseCopyItems(task.Payload)
			if err != nil {
				return nil, err
			}
			skipExisting, _ := task.Payload["skipExisting"].(bool)

			p := types.TaskProgress{}
			touched := map[string]struct{}{}

			for _, item := range items {
				if cancelled(ctx, db, task.TaskID) {
					return progressStats(p), errors.Conflict("job", "cancelled by operator")
				}
				if err := copyRecursive(ctx, rs, db, task.TaskID, principal, item.SourcePath, item.TargetPath, skipExisting, &p, touched); err != nil {
					p.Failed++
				}
				progress(p)
			}

			if bus != nil {
				for mountID := range touched {
					bus.Publish(cache.Invalidation{Scope: cache.ScopeListing, MountID: mountID})
				}
			}
			return progressStats(p), nil
		},
	}
}

func copyRecursive(ctx context.Context, rs *resolver.Manager, db *store.DB, taskID string, principal types.Principal, srcPath, dstPath string, skipExisting bool, p *types.TaskProgress, touched map[string]struct{}) error {
	src, err := rs.Resolve(ctx, srcPath, false, principal)
	if err != nil {
		return err
	}
	if src.VirtualRoot || src.Mount == nil {
		return errors.Validation("job", "copy source must resolve to a mount")
	}
	dst, err := rs.Resolve(ctx, dstPath, false, principal)
	if err != nil {
		return err
	}
	if dst.VirtualRoot || dst.Mount == nil {
		return errors.Validation("job", "copy target must resolve to a mount")
	}

	drv, err := rs.Driver(ctx, src.Mount)
	if err != nil {
		return err
	}
	opCtx := types.OpContext{Context: ctx, Mount: src.Mount, Principal: principal}

	info, err := drv.Stat(src.SubPath, opCtx)
	if err != nil {
		return err
	}
	touched[src.Mount.ID] = struct{}{}
	touched[dst.Mount.ID] = struct{}{}

	if !info.IsDir {
		if skipExisting {
			dstDrv, err := rs.Driver(ctx, dst.Mount)
			if err != nil {
				return err
			}
			if exists, _ := dstDrv.Exists(dst.SubPath, types.OpContext{Context: ctx, Mount: dst.Mount, Principal: principal}); exists {
				p.Skipped++
				return nil
			}
		}
		result, err := drv.CopyItem(src.SubPath, dst.SubPath, opCtx)
		if err != nil {
			return err
		}
		if result.Status == types.CopyFailed {
			return errors.DriverErr("job", "copy", 0, fmt.Errorf("%s", result.Reason))
		}
		p.Processed++
		return nil
	}

	listing, err := drv.ListDirectory(src.SubPath, opCtx)
	if err != nil {
		return err
	}
	for _, child := range listing.Items {
		if cancelled(ctx, db, taskID) {
			return errors.Conflict("job", "cancelled by operator")
		}
		childSrc := path.Join(srcPath, child.Name)
		childDst := path.Join(dstPath, child.Name)
		if err := copyRecursive(ctx, rs, db, taskID, principal, childSrc, childDst, skipExisting, p, touched); err != nil {
			p.Failed++
		}
	}
	return nil
}

func parseCopyItems(payload map[string]interface{}) ([]copyItem, error) {
	raw, ok := payload["items"]
	if !ok {
		return nil, errors.Validation("job", "payload.items is required")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Validation("job", "payload.items must be an array")
	}
	out := make([]copyItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, errors.Validation("job", "payload.items entries must be objects")
		}
		src, _ := m["sourcePath"].(string)
		dst, _ := m["targetPath"].(string)
		if src == "" || dst == "" {
			return nil, errors.Validation("job", "payload.items entries require sourcePath and targetPath")
		}
		out = append(out, copyItem{SourcePath: src, TargetPath: dst})
	}
	return out, nil
}

func progressStats(p types.TaskProgress) map[string]interface{} {
	return map[string]interface{}{
		"processed": p.Processed, "failed": p.Failed, "skipped": p.Skipped,
	}
}
