package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestCleanupUploadSessionsHandler_ExpiresPastDeadline(t *testing.T) {
	db := newEngineTestDB(t)
	now := time.Now().UnixMilli()
	expiresAt := now - 1000

	require.NoError(t, db.Uploads.Create(context.Background(), types.UploadSession{
		ID: "s1", StorageType: fakeJobStorageType, StorageConfigID: "cfg1", MountID: "m1",
		FsPath: "/a.txt", FileName: "a.txt", Status: types.UploadInitiated,
		ExpiresAtMs: &expiresAt, CreatedAtMs: now, UpdatedAtMs: now,
	}))

	h := NewCleanupUploadSessionsHandler(db, func() int64 { return now })
	stats, err := h.Run(context.Background(), &types.Task{TaskID: "cleanup-1"}, func(types.TaskProgress) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats["expired"])

	sess, err := db.Uploads.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, types.UploadExpired, sess.Status)
}

func TestCleanupUploadSessionsHandler_DeletesOldTerminalSessions(t *testing.T) {
	db := newEngineTestDB(t)
	now := time.Now().UnixMilli()
	old := now - 40*24*time.Hour.Milliseconds()

	require.NoError(t, db.Uploads.Create(context.Background(), types.UploadSession{
		ID: "s2", StorageType: fakeJobStorageType, StorageConfigID: "cfg1", MountID: "m1",
		FsPath: "/b.txt", FileName: "b.txt", Status: types.UploadCompleted,
		CreatedAtMs: old, UpdatedAtMs: old,
	}))

	h := NewCleanupUploadSessionsHandler(db, func() int64 { return now })
	stats, err := h.Run(context.Background(), &types.Task{
		TaskID: "cleanup-2", Payload: map[string]interface{}{"keepDays": float64(30)},
	}, func(types.TaskProgress) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats["deleted"])

	_, err = db.Uploads.Get(context.Background(), "s2")
	require.Error(t, err)
}
