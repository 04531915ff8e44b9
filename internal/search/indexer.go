package search

import (
	"context"
	"path"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// defaultApplyBatch bounds how many dirty rows one ApplyDirty call drains,
// matching the dirty-queue drain batching the fs_index_apply_dirty job
// uses (§4.6).
const defaultApplyBatch = 500

// Indexer drives the write-side reconciliation (apply-dirty) and the admin
// rebuild/clear controls (§4.7) against one mount's driver.
type Indexer struct {
	db  *store.DB
	now func() int64
}

// NewIndexer builds an Indexer over db.
func NewIndexer(db *store.DB) *Indexer {
	return &Indexer{db: db, now: func() int64 { return time.Now().UnixMilli() }}
}

func (ix *Indexer) opCtx(ctx context.Context, mount *types.Mount) types.OpContext {
	return types.OpContext{Context: ctx, Mount: mount, Principal: types.Principal{Type: types.PrincipalAdmin}}
}

// ApplyDirty drains up to limit dirty rows for mount, oldest first, asking
// the driver for fresh state on each and upserting or deleting the index
// entry accordingly (§4.6 fs_index_apply_dirty, §4.7 "write side").
func (ix *Indexer) ApplyDirty(ctx context.Context, mount *types.Mount, drv types.Driver, limit int) (processed int, err error) {
	if limit <= 0 {
		limit = defaultApplyBatch
	}

	dirty, err := ix.db.SearchIndex.ListDirty(ctx, mount.ID, limit)
	if err != nil {
		return 0, err
	}
	if len(dirty) == 0 {
		return 0, nil
	}

	opCtx := ix.opCtx(ctx, mount)
	var applied []string
	for _, d := range dirty {
		info, statErr := drv.Stat(d.FsPath, opCtx)
		if statErr != nil {
			if errors.Code(statErr) == errors.ErrCodeNotFound {
				if delErr := ix.db.SearchIndex.DeleteEntry(ctx, mount.ID, d.FsPath); delErr != nil {
					return processed, delErr
				}
				applied = append(applied, d.DedupeKey)
				processed++
				continue
			}
			return processed, statErr
		}

		entry := entryFromItem(mount.ID, d.FsPath, *info, "", ix.now())
		if upsertErr := ix.db.SearchIndex.UpsertEntry(ctx, entry); upsertErr != nil {
			return processed, upsertErr
		}
		applied = append(applied, d.DedupeKey)
		processed++
	}

	if err := ix.db.SearchIndex.ClearDirty(ctx, applied); err != nil {
		return processed, err
	}
	return processed, nil
}

// Rebuild walks mount's full tree, upserting an entry for every item found
// under runID, then deletes whatever survived from a prior run (§4.6
// fs_index_rebuild). maxDepth bounds recursion the way Options.MaxDepth
// does for listDirectory elsewhere; 0 means unbounded.
func (ix *Indexer) Rebuild(ctx context.Context, mount *types.Mount, drv types.Driver, runID string, maxDepth int) error {
	if err := ix.db.SearchIndex.SetState(ctx, types.FsIndexState{MountID: mount.ID, Status: types.IndexIndexing}); err != nil {
		return err
	}

	if err := ix.walk(ctx, mount, drv, runID, "/", 0, maxDepth); err != nil {
		ix.db.SearchIndex.SetState(ctx, types.FsIndexState{
			MountID: mount.ID, Status: types.IndexError, LastError: err.Error(),
		})
		return err
	}

	if _, err := ix.db.SearchIndex.DeleteEntriesNotInRun(ctx, mount.ID, runID); err != nil {
		return err
	}

	now := ix.now()
	return ix.db.SearchIndex.SetState(ctx, types.FsIndexState{
		MountID: mount.ID, Status: types.IndexReady, LastIndexedMs: &now,
	})
}

func (ix *Indexer) walk(ctx context.Context, mount *types.Mount, drv types.Driver, runID, subPath string, depth, maxDepth int) error {
	if maxDepth > 0 && depth > maxDepth {
		return nil
	}

	opCtx := ix.opCtx(ctx, mount)
	result, err := drv.ListDirectory(subPath, opCtx)
	if err != nil {
		return err
	}

	for _, item := range result.Items {
		itemPath := path.Join(subPath, item.Name)
		entry := entryFromItem(mount.ID, itemPath, item, runID, ix.now())
		if err := ix.db.SearchIndex.UpsertEntry(ctx, entry); err != nil {
			return err
		}
		if item.IsDir {
			if err := ix.walk(ctx, mount, drv, runID, itemPath, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear drops every derived row for mount and marks its state not_ready
// (§4.7 "clear").
func (ix *Indexer) Clear(ctx context.Context, mountID string) error {
	if _, err := ix.db.SearchIndex.DeleteEntriesNotInRun(ctx, mountID, ""); err != nil {
		return err
	}
	return ix.db.SearchIndex.SetState(ctx, types.FsIndexState{MountID: mountID, Status: types.IndexNotReady})
}

func entryFromItem(mountID, fsPath string, item types.ItemInfo, runID string, updatedAtMs int64) types.FsIndexEntry {
	var size int64
	if item.Size != nil {
		size = *item.Size
	}
	var modified int64
	if item.ModifiedMs != nil {
		modified = *item.ModifiedMs
	}
	return types.FsIndexEntry{
		MountID: mountID, FsPath: fsPath, Name: item.Name, IsDir: item.IsDir,
		Size: size, ModifiedMs: modified, MimeType: item.MimeType, IndexRunID: runID,
		UpdatedAtMs: updatedAtMs,
	}
}
