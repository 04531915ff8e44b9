package search

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const fakeSearchStorageType types.StorageType = "TEST_FAKE_SEARCH"

// fakeTreeDriver serves a fixed in-memory directory tree keyed by subPath,
// enough to exercise Rebuild's recursive walk and ApplyDirty's per-path
// Stat lookups without a real backing store.
type fakeTreeDriver struct {
	mu       sync.Mutex
	children map[string][]types.ItemInfo // dir subPath -> children
	files    map[string]types.FileInfo   // file subPath -> info
}

func (f *fakeTreeDriver) Type() types.StorageType       { return fakeSearchStorageType }
func (f *fakeTreeDriver) Capabilities() types.Capability { return types.CapReader | types.CapSearch }

func (f *fakeTreeDriver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.children[subPath]
	if !ok {
		return &types.ListResult{Path: subPath}, nil
	}
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func (f *fakeTreeDriver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return f.Stat(subPath, ctx)
}
func (f *fakeTreeDriver) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	return nil, errors.NotSupported("fake", "download")
}
func (f *fakeTreeDriver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "upload")
}
func (f *fakeTreeDriver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }
func (f *fakeTreeDriver) Remove(subPath string, ctx types.OpContext) error          { return nil }
func (f *fakeTreeDriver) Exists(subPath string, ctx types.OpContext) (bool, error) {
	_, err := f.Stat(subPath, ctx)
	return err == nil, nil
}
func (f *fakeTreeDriver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[subPath]
	if !ok {
		return nil, errors.NotFound("fake", subPath)
	}
	return &info, nil
}
func (f *fakeTreeDriver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	return errors.NotSupported("fake", "rename")
}
func (f *fakeTreeDriver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	return nil, errors.NotSupported("fake", "copy")
}
func (f *fakeTreeDriver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeTreeDriver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeTreeDriver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeTreeDriver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("fake", "multipart")
}
func (f *fakeTreeDriver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("fake", "multipart")
}
func (f *fakeTreeDriver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no direct link")
}
func (f *fakeTreeDriver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no presigned upload")
}
func (f *fakeTreeDriver) DiskUsage(ctx types.OpContext) (int64, error) { return 0, nil }
func (f *fakeTreeDriver) HealthCheck(ctx context.Context) error        { return nil }

var (
	fakeSearchDriversMu   sync.Mutex
	fakeSearchDrivers     = map[string]*fakeTreeDriver{}
	registerFakeSearchOne sync.Once
)

func registerFakeSearchFactory() {
	registerFakeSearchOne.Do(func() {
		driver.Register(fakeSearchStorageType, func(cfg types.StorageConfig) (types.Driver, error) {
			fakeSearchDriversMu.Lock()
			defer fakeSearchDriversMu.Unlock()
			d, ok := fakeSearchDrivers[cfg.ID]
			if !ok {
				return nil, errors.NotFound("fake", "no fake driver registered for "+cfg.ID)
			}
			return d, nil
		})
	})
}

func ptrInt64(v int64) *int64 { return &v }

func modTime(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}
