package job

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/search"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const fakeJobStorageType types.StorageType = "TEST_FAKE_JOB"

// fakeFlatDriver serves one fixed top-level listing, enough to exercise
// the fs_index_rebuild handler's per-mount dispatch without walking a real
// backing store.
type fakeFlatDriver struct {
	cfgID string
	items []types.ItemInfo
	files map[string]types.FileInfo
}

func (f *fakeFlatDriver) Type() types.StorageType       { return fakeJobStorageType }
func (f *fakeFlatDriver) Capabilities() types.Capability { return types.CapReader }
func (f *fakeFlatDriver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	if subPath != "/" {
		return &types.ListResult{Path: subPath}, nil
	}
	return &types.ListResult{Path: subPath, Items: f.items}, nil
}
func (f *fakeFlatDriver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return f.Stat(subPath, ctx)
}
func (f *fakeFlatDriver) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	return nil, errors.NotSupported("fake", "download")
}
func (f *fakeFlatDriver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "upload")
}
func (f *fakeFlatDriver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }
func (f *fakeFlatDriver) Remove(subPath string, ctx types.OpContext) error          { return nil }
func (f *fakeFlatDriver) Exists(subPath string, ctx types.OpContext) (bool, error)  { return true, nil }
func (f *fakeFlatDriver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	info, ok := f.files[subPath]
	if !ok {
		return nil, errors.NotFound("fake", subPath)
	}
	return &info, nil
}
func (f *fakeFlatDriver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	return errors.NotSupported("fake", "rename")
}
func (f *fakeFlatDriver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	return &types.CopyResult{Status: types.CopySuccess}, nil
}
func (f *fakeFlatDriver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeFlatDriver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeFlatDriver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeFlatDriver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("fake", "multipart")
}
func (f *fakeFlatDriver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, nil
}
func (f *fakeFlatDriver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no direct link")
}
func (f *fakeFlatDriver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no presigned upload")
}
func (f *fakeFlatDriver) DiskUsage(ctx types.OpContext) (int64, error) { return 42, nil }
func (f *fakeFlatDriver) HealthCheck(ctx context.Context) error        { return nil }

func newJobSearchTestSetup(t *testing.T, drv *fakeFlatDriver) (*store.DB, *types.Mount) {
	t.Helper()
	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := types.StorageConfig{ID: "cfg-" + t.Name(), Type: fakeJobStorageType, Name: "fake"}
	require.NoError(t, db.StorageConfigs.Create(context.Background(), cfg))

	mount := &types.Mount{ID: "mnt-" + t.Name(), Name: "fake", MountPath: "/fake", StorageConfigID: cfg.ID, StorageType: fakeJobStorageType, IsActive: true}
	require.NoError(t, db.Mounts.Create(context.Background(), *mount))

	return db, mount
}

func TestFsIndexRebuildHandler_IndexesMountAndMarksReady(t *testing.T) {
	drv := &fakeFlatDriver{items: []types.ItemInfo{
		{Name: "a.txt", IsDir: false, Size: ptr64(5), ModifiedMs: ptr64(100)},
	}}
	db, mount := newJobSearchTestSetup(t, drv)
	ix := search.NewIndexer(db)

	h := NewFsIndexRebuildHandler(db, ix, func(ctx context.Context, m *types.Mount) (types.Driver, error) {
		return drv, nil
	}, nil)

	task := &types.Task{TaskID: "rebuild-1", Payload: map[string]interface{}{"mountIds": []interface{}{mount.ID}}}
	stats, err := h.Run(context.Background(), task, func(types.TaskProgress) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats["mountsProcessed"])

	state, err := db.SearchIndex.GetState(context.Background(), mount.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexReady, state.Status)
}

func TestFsIndexApplyDirtyHandler_DrainsQueue(t *testing.T) {
	drv := &fakeFlatDriver{files: map[string]types.FileInfo{
		"/a.txt": {Name: "a.txt", Size: ptr64(5), ModifiedMs: ptr64(100)},
	}}
	db, mount := newJobSearchTestSetup(t, drv)
	ix := search.NewIndexer(db)

	require.NoError(t, db.SearchIndex.MarkDirty(context.Background(), types.FsIndexDirty{
		MountID: mount.ID, FsPath: "/a.txt", Op: types.IndexOpUpsert, CreatedAtMs: 1, DedupeKey: mount.ID + ":/a.txt",
	}))

	h := NewFsIndexApplyDirtyHandler(db, ix, func(ctx context.Context, m *types.Mount) (types.Driver, error) {
		return drv, nil
	}, nil)

	task := &types.Task{TaskID: "apply-1", Payload: map[string]interface{}{"mountIds": []interface{}{mount.ID}}}
	stats, err := h.Run(context.Background(), task, func(types.TaskProgress) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats["applied"])

	count, err := db.SearchIndex.CountDirty(context.Background(), mount.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func ptr64(v int64) *int64 { return &v }
