package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func newIndexerTestSetup(t *testing.T, drv *fakeTreeDriver) (*Indexer, *store.DB, *types.Mount) {
	t.Helper()
	registerFakeSearchFactory()

	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgID := "cfg-" + t.Name()
	fakeSearchDriversMu.Lock()
	fakeSearchDrivers[cfgID] = drv
	fakeSearchDriversMu.Unlock()

	cfg := types.StorageConfig{ID: cfgID, Type: fakeSearchStorageType, Name: "fake"}
	require.NoError(t, db.StorageConfigs.Create(context.Background(), cfg))

	mount := &types.Mount{ID: "mnt-" + t.Name(), Name: "fake", MountPath: "/fake", StorageConfigID: cfgID, StorageType: fakeSearchStorageType, IsActive: true}
	require.NoError(t, db.Mounts.Create(context.Background(), *mount))

	return NewIndexer(db), db, mount
}

func TestRebuild_WalksTreeAndReconciles(t *testing.T) {
	drv := &fakeTreeDriver{
		children: map[string][]types.ItemInfo{
			"/": {
				{Name: "a.txt", IsDir: false, Size: ptrInt64(10), ModifiedMs: ptrInt64(100)},
				{Name: "sub", IsDir: true},
			},
			"/sub": {
				{Name: "b.txt", IsDir: false, Size: ptrInt64(20), ModifiedMs: ptrInt64(200)},
			},
		},
		files: map[string]types.FileInfo{},
	}
	ix, db, mount := newIndexerTestSetup(t, drv)

	require.NoError(t, ix.Rebuild(context.Background(), mount, drv, "run-1", 0))

	entries, err := db.SearchIndex.SearchPage(context.Background(), mount.ID, "", "txt", nil, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	state, err := db.SearchIndex.GetState(context.Background(), mount.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexReady, state.Status)
	require.NotNil(t, state.LastIndexedMs)
}

func TestRebuild_RemovesEntriesNotSeenInNewRun(t *testing.T) {
	drv := &fakeTreeDriver{
		children: map[string][]types.ItemInfo{
			"/": {{Name: "a.txt", IsDir: false, Size: ptrInt64(10), ModifiedMs: ptrInt64(100)}},
		},
		files: map[string]types.FileInfo{},
	}
	ix, db, mount := newIndexerTestSetup(t, drv)
	require.NoError(t, ix.Rebuild(context.Background(), mount, drv, "run-1", 0))

	drv.mu.Lock()
	drv.children["/"] = nil
	drv.mu.Unlock()
	require.NoError(t, ix.Rebuild(context.Background(), mount, drv, "run-2", 0))

	entries, err := db.SearchIndex.SearchPage(context.Background(), mount.ID, "", "txt", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyDirty_UpsertsAndDeletes(t *testing.T) {
	drv := &fakeTreeDriver{
		children: map[string][]types.ItemInfo{},
		files: map[string]types.FileInfo{
			"/a.txt": {Name: "a.txt", Size: ptrInt64(5), ModifiedMs: ptrInt64(111)},
		},
	}
	ix, db, mount := newIndexerTestSetup(t, drv)

	require.NoError(t, db.SearchIndex.MarkDirty(context.Background(), types.FsIndexDirty{
		MountID: mount.ID, FsPath: "/a.txt", Op: types.IndexOpUpsert, CreatedAtMs: 1, DedupeKey: mount.ID + ":/a.txt",
	}))
	require.NoError(t, db.SearchIndex.MarkDirty(context.Background(), types.FsIndexDirty{
		MountID: mount.ID, FsPath: "/gone.txt", Op: types.IndexOpDelete, CreatedAtMs: 2, DedupeKey: mount.ID + ":/gone.txt",
	}))

	n, err := ix.ApplyDirty(context.Background(), mount, drv, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := db.SearchIndex.CountDirty(context.Background(), mount.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	entries, err := db.SearchIndex.SearchPage(context.Background(), mount.ID, "", "a.txt", nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/a.txt", entries[0].FsPath)
}

func TestClear_DropsEntriesAndMarksNotReady(t *testing.T) {
	drv := &fakeTreeDriver{
		children: map[string][]types.ItemInfo{
			"/": {{Name: "a.txt", IsDir: false, Size: ptrInt64(10), ModifiedMs: ptrInt64(100)}},
		},
		files: map[string]types.FileInfo{},
	}
	ix, db, mount := newIndexerTestSetup(t, drv)
	require.NoError(t, ix.Rebuild(context.Background(), mount, drv, "run-1", 0))

	require.NoError(t, ix.Clear(context.Background(), mount.ID))

	entries, err := db.SearchIndex.SearchPage(context.Background(), mount.ID, "", "a.txt", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	state, err := db.SearchIndex.GetState(context.Background(), mount.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexNotReady, state.Status)
}
