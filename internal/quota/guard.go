// Package quota implements the advisory storage-quota guard (§4.8): before
// any size-producing operation it compares the size delta against the
// storage config's configured cap minus the latest usage snapshot.
package quota

import (
	"context"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Guard checks size deltas against configured caps. It is advisory: callers
// race with concurrent writes, and the periodic usage-snapshot refresh
// (refresh_storage_usage_snapshots, §4.6) is the authority of record.
type Guard struct {
	usage *store.UsageRepo
}

// New builds a Guard over the usage snapshot repository.
func New(usage *store.UsageRepo) *Guard {
	return &Guard{usage: usage}
}

// Check rejects with QUOTA_EXCEEDED when newSize-oldSize would push usage
// past cfg.QuotaBytes. oldSize is 0 for new files, the prior object size
// for overwrites. A nil QuotaBytes means unlimited.
func (g *Guard) Check(ctx context.Context, cfg types.StorageConfig, oldSize, newSize int64) error {
	if cfg.QuotaBytes == nil {
		return nil
	}
	delta := newSize - oldSize
	if delta <= 0 {
		return nil
	}

	snap, err := g.usage.Get(ctx, cfg.ID)
	if err != nil {
		// No snapshot yet (e.g. before the first refresh_storage_usage_snapshots
		// run) is not a quota violation; the guard degrades to allow until a
		// baseline exists.
		if errors.Code(err) == errors.ErrCodeNotFound {
			return nil
		}
		return err
	}

	if snap.UsedBytes+delta > *cfg.QuotaBytes {
		return errors.QuotaExceeded("quota", "storage config "+cfg.ID+" would exceed its configured quota")
	}
	return nil
}
