package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const fakeProxyStorageType types.StorageType = "TEST_FAKE_PROXY"

// fakeProxyDriver serves a fixed body from memory, exercising Range,
// If-None-Match and playlist-rewrite paths without a network dependency.
type fakeProxyDriver struct {
	body        map[string][]byte
	contentType map[string]string
	etag        string
}

func (f *fakeProxyDriver) Type() types.StorageType        { return fakeProxyStorageType }
func (f *fakeProxyDriver) Capabilities() types.Capability { return types.CapReader | types.CapProxy | types.CapRange }
func (f *fakeProxyDriver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	return &types.ListResult{Path: subPath}, nil
}
func (f *fakeProxyDriver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return nil, errors.NotFound("fake", subPath)
}
func (f *fakeProxyDriver) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	body, ok := f.body[subPath]
	if !ok {
		return nil, errors.NotFound("fake", subPath)
	}
	size := int64(len(body))
	ct := f.contentType[subPath]
	return &types.StreamDescriptor{
		Size:          &size,
		ContentType:   ct,
		ETag:          f.etag,
		SupportsRange: true,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(body))), nil
		},
		FetchRange: func(ctx context.Context, rangeHeader string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(body))), nil
		},
	}, nil
}
func (f *fakeProxyDriver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "read-only")
}
func (f *fakeProxyDriver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }
func (f *fakeProxyDriver) Remove(subPath string, ctx types.OpContext) error          { return nil }
func (f *fakeProxyDriver) Exists(subPath string, ctx types.OpContext) (bool, error)  { return true, nil }
func (f *fakeProxyDriver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return nil, errors.NotFound("fake", subPath)
}
func (f *fakeProxyDriver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	return nil
}
func (f *fakeProxyDriver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	return nil, errors.NotSupported("fake", "read-only")
}
func (f *fakeProxyDriver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("fake", "no multipart")
}
func (f *fakeProxyDriver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("fake", "no multipart")
}
func (f *fakeProxyDriver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("fake", "no multipart")
}
func (f *fakeProxyDriver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("fake", "no multipart")
}
func (f *fakeProxyDriver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("fake", "no multipart")
}
func (f *fakeProxyDriver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no direct link")
}
func (f *fakeProxyDriver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no presigned upload")
}
func (f *fakeProxyDriver) DiskUsage(ctx types.OpContext) (int64, error) { return 0, nil }
func (f *fakeProxyDriver) HealthCheck(ctx context.Context) error        { return nil }

var (
	proxyFakeDriversMu   sync.Mutex
	proxyFakeDrivers     = map[string]*fakeProxyDriver{}
	registerProxyFakeOne sync.Once
)

func registerProxyFakeFactory() {
	registerProxyFakeOne.Do(func() {
		driver.Register(fakeProxyStorageType, func(cfg types.StorageConfig) (types.Driver, error) {
			proxyFakeDriversMu.Lock()
			defer proxyFakeDriversMu.Unlock()
			d, ok := proxyFakeDrivers[cfg.ID]
			if !ok {
				return nil, errors.NotFound("fake", "no fake driver registered for "+cfg.ID)
			}
			return d, nil
		})
	})
}

func newProxyTestSetup(t *testing.T, drv *fakeProxyDriver, webProxy, requireSig bool) (*Service, *types.Mount) {
	t.Helper()
	registerProxyFakeFactory()

	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgID := "cfg-" + t.Name()
	proxyFakeDriversMu.Lock()
	proxyFakeDrivers[cfgID] = drv
	proxyFakeDriversMu.Unlock()
	cfg := types.StorageConfig{ID: cfgID, Type: fakeProxyStorageType, Name: "fake"}
	require.NoError(t, db.StorageConfigs.Create(context.Background(), cfg))

	mount := &types.Mount{
		ID: "mnt-" + t.Name(), Name: "fake", MountPath: "/m", StorageConfigID: cfgID,
		StorageType: fakeProxyStorageType, IsActive: true, WebProxy: webProxy, RequireSignature: requireSig,
	}
	require.NoError(t, db.Mounts.Create(context.Background(), *mount))

	rs := resolver.New(db)
	svc := New(rs, Config{Secret: "test-secret", DefaultExpiry: time.Minute, MaxExpiry: time.Hour, RewriteHLS: true})
	return svc, mount
}

func TestServeHTTP_PlainFile(t *testing.T) {
	drv := &fakeProxyDriver{
		body:        map[string][]byte{"/video.mp4": []byte("0123456789")},
		contentType: map[string]string{"/video.mp4": "video/mp4"},
		etag:        `W/"abc"`,
	}
	svc, _ := newProxyTestSetup(t, drv, true, false)

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4", nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, `W/"abc"`, w.Header().Get("ETag"))
	assert.Equal(t, "private, no-cache", w.Header().Get("Cache-Control"))
}

func TestServeHTTP_RequiresSignatureWhenMissing(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("x")}}
	svc, _ := newProxyTestSetup(t, drv, true, true)

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4", nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeHTTP_ValidSignatureSucceeds(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("hello")}}
	svc, _ := newProxyTestSetup(t, drv, true, true)

	query := svc.SignPath("/m/video.mp4", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4?"+query, nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestServeHTTP_TamperedSignatureRejected(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("hello")}}
	svc, _ := newProxyTestSetup(t, drv, true, true)

	query := svc.SignPath("/m/video.mp4", time.Minute)
	tampered := strings.Replace(query, "sign=", "sign=tampered", 1)
	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4?"+tampered, nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeHTTP_ExpiredSignatureRejected(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("hello")}}
	svc, _ := newProxyTestSetup(t, drv, true, true)
	svc.now = func() int64 { return time.Now().Add(-time.Hour).UnixMilli() }

	query := svc.SignPath("/m/video.mp4", time.Minute)
	svc.now = func() int64 { return time.Now().UnixMilli() }

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4?"+query, nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeHTTP_NonProxyMountRejected(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("hello")}}
	svc, _ := newProxyTestSetup(t, drv, false, false)

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4", nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHTTP_IfNoneMatchReturns304(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("hello")}, etag: `W/"v1"`}
	svc, _ := newProxyTestSetup(t, drv, true, false)

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4", nil)
	req.Header.Set("If-None-Match", `W/"v1"`)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestServeHTTP_RangeRequestServesPartial(t *testing.T) {
	drv := &fakeProxyDriver{body: map[string][]byte{"/video.mp4": []byte("0123456789")}}
	svc, _ := newProxyTestSetup(t, drv, true, false)

	req := httptest.NewRequest(http.MethodGet, "/p/m/video.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 2-4/10", w.Header().Get("Content-Range"))
}

func TestServeHTTP_PlaylistRewritten(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:10,\nsegment0.ts\nsegment1.ts\n"
	drv := &fakeProxyDriver{
		body:        map[string][]byte{"/stream.m3u8": []byte(playlist)},
		contentType: map[string]string{"/stream.m3u8": "application/vnd.apple.mpegurl"},
	}
	svc, _ := newProxyTestSetup(t, drv, true, false)

	req := httptest.NewRequest(http.MethodGet, "/p/m/stream.m3u8", nil)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req, "/p", types.Principal{Type: types.PrincipalAnon})

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "segment0.ts?sign=")
	assert.Contains(t, body, "segment1.ts?sign=")
	assert.Contains(t, body, `key.bin?sign=`)
}
