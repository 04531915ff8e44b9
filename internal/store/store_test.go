package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStorageConfigRepo_CRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	quota := int64(1000)
	cfg := types.StorageConfig{
		ID: "sc1", Type: types.StorageS3, Name: "primary",
		Secrets: map[string]string{"accessKey": "encrypted:abc"},
		QuotaBytes: &quota, RootPrefix: "tenant-a/",
		CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	require.NoError(t, db.StorageConfigs.Create(ctx, cfg))

	got, err := db.StorageConfigs.Get(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Name)
	assert.Equal(t, "encrypted:abc", got.Secrets["accessKey"])
	require.NotNil(t, got.QuotaBytes)
	assert.Equal(t, int64(1000), *got.QuotaBytes)

	cfg.Name = "primary-renamed"
	cfg.UpdatedAtMs = 2
	require.NoError(t, db.StorageConfigs.Update(ctx, cfg))

	got, err = db.StorageConfigs.Get(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, "primary-renamed", got.Name)

	list, err := db.StorageConfigs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.StorageConfigs.Delete(ctx, "sc1"))
	_, err = db.StorageConfigs.Get(ctx, "sc1")
	assert.Error(t, err)
}

func TestMountRepo_GetByPath(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Mounts.Create(ctx, types.Mount{
		ID: "m1", Name: "docs", MountPath: "/docs", StorageConfigID: "sc1",
		StorageType: types.StorageS3, IsActive: true, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))
	require.NoError(t, db.Mounts.Create(ctx, types.Mount{
		ID: "m2", Name: "root", MountPath: "/", StorageConfigID: "sc2",
		StorageType: types.StorageLocal, IsActive: true, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))

	got, err := db.Mounts.GetByPath(ctx, "/docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	got, err = db.Mounts.GetByPath(ctx, "/other/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "m2", got.ID)
}

func TestUploadRepo_SessionAndParts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sess := types.UploadSession{
		ID: "u1", Principal: types.Principal{Type: types.PrincipalAdmin, ID: "root"},
		StorageType: types.StorageS3, StorageConfigID: "sc1", MountID: "m1", FsPath: "/docs/big.bin",
		FileName: "big.bin", FileSize: 1000, PartSize: 100, TotalParts: 10,
		Strategy: types.StrategyPerPartURL, PartPolicy: types.PartPolicyServerCanList,
		Status: types.UploadInitiated, CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	require.NoError(t, db.Uploads.Create(ctx, sess))

	require.NoError(t, db.Uploads.UpsertPart(ctx, types.UploadPart{
		UploadID: "u1", PartNo: 1, Size: 100, ByteStart: 0, ByteEnd: 99, Status: types.PartUploaded, UpdatedAtMs: 2,
	}))
	require.NoError(t, db.Uploads.UpdateProgress(ctx, "u1", 100, 1, 100, 2))

	got, err := db.Uploads.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.BytesUploaded)
	assert.Equal(t, 1, got.UploadedParts)
	assert.Equal(t, types.UploadUploading, got.Status)

	parts, err := db.Uploads.ListParts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	require.NoError(t, db.Uploads.TransitionStatus(ctx, "u1", types.UploadUploading, types.UploadCompleted, 3))
	err = db.Uploads.TransitionStatus(ctx, "u1", types.UploadUploading, types.UploadAborted, 4)
	assert.Error(t, err, "transition from stale status should lose the race")
}

func TestTaskRepo_ClaimAndFinish(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Tasks.Create(ctx, types.Task{
		TaskID: "t1", TaskType: types.TaskFsIndexRebuild, Status: types.TaskPending,
		Payload: map[string]interface{}{"mountId": "m1"}, CreatedAtMs: 1,
	}))

	claimed, err := db.Tasks.ClaimPending(ctx, 5, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, types.TaskRunning, claimed[0].Status)

	require.NoError(t, db.Tasks.UpdateProgress(ctx, "t1", types.TaskProgress{Total: 10, Processed: 10}))
	require.NoError(t, db.Tasks.Finish(ctx, "t1", types.TaskCompleted, "", 3, map[string]interface{}{"indexed": 10}))

	got, err := db.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, 10, got.Progress.Processed)
}

func TestTaskRepo_FinishDoesNotOverwriteCancelled(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Tasks.Create(ctx, types.Task{
		TaskID: "t2", TaskType: types.TaskCopy, Status: types.TaskPending, CreatedAtMs: 1,
	}))
	_, err := db.Tasks.ClaimPending(ctx, 5, 2)
	require.NoError(t, err)

	ok, err := db.Tasks.Cancel(ctx, "t2", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// A handler that observed the cancellation mid-run and returned an error
	// after Cancel already landed must not flip the row back to failed.
	require.NoError(t, db.Tasks.Finish(ctx, "t2", types.TaskFailed, "cancelled by operator", 4, nil))

	got, err := db.Tasks.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, got.Status)
}

func TestSearchIndexRepo_DirtyAndSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SearchIndex.UpsertEntry(ctx, types.FsIndexEntry{
		MountID: "m1", FsPath: "/docs/report.pdf", Name: "report.pdf", Size: 100, IndexRunID: "run1", UpdatedAtMs: 1,
	}))
	require.NoError(t, db.SearchIndex.UpsertEntry(ctx, types.FsIndexEntry{
		MountID: "m1", FsPath: "/docs/notes.txt", Name: "notes.txt", Size: 10, IndexRunID: "run1", UpdatedAtMs: 1,
	}))

	results, err := db.SearchIndex.SearchPage(ctx, "m1", "", "report", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "report.pdf", results[0].Name)

	require.NoError(t, db.SearchIndex.MarkDirty(ctx, types.FsIndexDirty{
		MountID: "m1", FsPath: "/docs/report.pdf", Op: types.IndexOpUpsert, CreatedAtMs: 1, DedupeKey: "m1:/docs/report.pdf",
	}))
	require.NoError(t, db.SearchIndex.MarkDirty(ctx, types.FsIndexDirty{
		MountID: "m1", FsPath: "/docs/report.pdf", Op: types.IndexOpDelete, CreatedAtMs: 2, DedupeKey: "m1:/docs/report.pdf",
	}))

	n, err := db.SearchIndex.CountDirty(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "dedupe key should collapse repeated writes to one row")

	dirty, err := db.SearchIndex.ListDirty(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, types.IndexOpDelete, dirty[0].Op)
}

func TestUsageRepo_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	total := int64(5000)
	require.NoError(t, db.Usage.Upsert(ctx, types.UsageSnapshot{StorageConfigID: "sc1", TotalBytes: &total, UsedBytes: 1000, TakenAtMs: 1}))

	got, err := db.Usage.Get(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.UsedBytes)

	require.NoError(t, db.Usage.Upsert(ctx, types.UsageSnapshot{StorageConfigID: "sc1", TotalBytes: &total, UsedBytes: 2000, TakenAtMs: 2}))
	got, err = db.Usage.Get(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.UsedBytes)
}
