package upload

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

	"github.com/cloudpaste/cloudpaste/internal/cache"
	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/internal/quota"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// fakeProviderServer stands in for a provider resumable-session endpoint,
// recording the bytes it receives and returning 200 OK.
func fakeProviderServer(t *testing.T, received map[string][]byte) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received[r.Header.Get("Content-Range")] = body
		w.Header().Set("ETag", "provider-etag-1")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

const fakeStorageType types.StorageType = "TEST_FAKE_MULTIPART"

// fakeMultipartDriver exercises both orchestrator strategies: per_part_url
// when perPartURL is true, single_session otherwise.
type fakeMultipartDriver struct {
	perPartURL    bool
	sessionURL    string
	completedWith []types.UploadPart
	aborted       bool
}

func (f *fakeMultipartDriver) Type() types.StorageType       { return fakeStorageType }
func (f *fakeMultipartDriver) Capabilities() types.Capability { return types.CapReader | types.CapWriter | types.CapMultipart }
func (f *fakeMultipartDriver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	return &types.ListResult{Path: subPath}, nil
}
func (f *fakeMultipartDriver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return nil, errors.NotFound("fake", subPath)
}
func (f *fakeMultipartDriver) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	return nil, errors.NotFound("fake", subPath)
}
func (f *fakeMultipartDriver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	return &types.UploadResult{StoragePath: subPath}, nil
}
func (f *fakeMultipartDriver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }
func (f *fakeMultipartDriver) Remove(subPath string, ctx types.OpContext) error          { return nil }
func (f *fakeMultipartDriver) Exists(subPath string, ctx types.OpContext) (bool, error)  { return true, nil }
func (f *fakeMultipartDriver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return nil, errors.NotFound("fake", subPath)
}
func (f *fakeMultipartDriver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	return nil
}
func (f *fakeMultipartDriver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	return &types.CopyResult{Status: types.CopySuccess}, nil
}
func (f *fakeMultipartDriver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	if f.perPartURL {
		return &types.MultipartInit{ProviderUploadID: "provider-upload-1"}, nil
	}
	return &types.MultipartInit{ProviderMeta: map[string]string{"providerSessionUrl": f.sessionURL}}, nil
}
func (f *fakeMultipartDriver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	urls := make([]types.PartURL, 0, len(partNumbers))
	for _, n := range partNumbers {
		urls = append(urls, types.PartURL{PartNo: n, URL: "https://provider/part/" + string(rune('0'+n))})
	}
	return urls, nil
}
func (f *fakeMultipartDriver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	f.completedWith = parts
	return &types.UploadResult{StoragePath: subPath}, nil
}
func (f *fakeMultipartDriver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	f.aborted = true
	return nil
}
func (f *fakeMultipartDriver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, nil
}
func (f *fakeMultipartDriver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no direct link")
}
func (f *fakeMultipartDriver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("fake", "no presigned upload")
}
func (f *fakeMultipartDriver) DiskUsage(ctx types.OpContext) (int64, error) { return 0, nil }
func (f *fakeMultipartDriver) HealthCheck(ctx context.Context) error        { return nil }

var (
	fakeDriversMu   sync.Mutex
	fakeDrivers     = map[string]*fakeMultipartDriver{}
	registerFakeOne sync.Once
)

// registerFakeFactory registers one factory for fakeStorageType that looks
// up the per-test driver instance by storage config id, so each test can
// wire its own fakeMultipartDriver without colliding with another test's.
func registerFakeFactory() {
	registerFakeOne.Do(func() {
		driver.Register(fakeStorageType, func(cfg types.StorageConfig) (types.Driver, error) {
			fakeDriversMu.Lock()
			defer fakeDriversMu.Unlock()
			d, ok := fakeDrivers[cfg.ID]
			if !ok {
				return nil, errors.NotFound("fake", "no fake driver registered for "+cfg.ID)
			}
			return d, nil
		})
	})
}

func newTestSetup(t *testing.T, drv *fakeMultipartDriver) (*Orchestrator, *store.DB, *types.Mount) {
	t.Helper()
	registerFakeFactory()

	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgID := "cfg-" + t.Name()
	fakeDriversMu.Lock()
	fakeDrivers[cfgID] = drv
	fakeDriversMu.Unlock()

	cfg := types.StorageConfig{ID: cfgID, Type: fakeStorageType, Name: "fake"}
	require.NoError(t, db.StorageConfigs.Create(context.Background(), cfg))

	mount := &types.Mount{ID: "mnt-" + t.Name(), Name: "fake", MountPath: "/fake", StorageConfigID: cfgID, StorageType: fakeStorageType, IsActive: true}
	require.NoError(t, db.Mounts.Create(context.Background(), *mount))

	rs := resolver.New(db)
	qg := quota.New(db.Usage)
	bus := cache.NewBus(time.Minute, time.Minute, time.Minute)
	t.Cleanup(bus.Close)

	return New(db, rs, qg, bus, "https://gateway.example"), db, mount
}

func TestInitialize_PerPartURLStrategy(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)

	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyPerPartURL, res.Session.Strategy)
	assert.Equal(t, types.PartPolicyServerCanList, res.Session.PartPolicy)
	assert.Equal(t, "", res.UploadURL)
	assert.Equal(t, types.UploadInitiated, res.Session.Status)
	assert.Equal(t, 2, res.Session.TotalParts)
}

func TestInitialize_SingleSessionStrategy(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: false}
	o, _, mount := newTestSetup(t, drv)

	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)
	assert.Equal(t, types.StrategySingleSession, res.Session.Strategy)
	assert.Contains(t, res.UploadURL, "/v1/uploads/")
	assert.Contains(t, res.UploadURL, "/chunk")
}

func TestInitialize_RejectsBadFileName(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)

	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	_, err := o.Initialize(context.Background(), principal, mount, "/dir", "../a.txt", 100, 50, 0, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestSignParts_TransitionsToUploading(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)
	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)

	urls, err := o.SignParts(context.Background(), principal, mount, res.Session.ID, []int{1, 2})
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	sess, err := o.db.Uploads.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadUploading, sess.Status)
}

func TestSignParts_ForbiddenForOtherPrincipal(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)
	owner := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	other := types.Principal{Type: types.PrincipalAPIKey, ID: "user2"}

	res, err := o.Initialize(context.Background(), owner, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)

	_, err = o.SignParts(context.Background(), other, mount, res.Session.ID, []int{1})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))
}

func TestProxyChunk_UploadsAndCompletes(t *testing.T) {
	chunks := map[string][]byte{}
	server := fakeProviderServer(t, chunks)
	drv := &fakeMultipartDriver{perPartURL: false, sessionURL: server}
	o, _, mount := newTestSetup(t, drv)
	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 5, 5, 0, "")
	require.NoError(t, err)

	skipped, err := o.ProxyChunk(context.Background(), principal, mount, res.Session.ID, strings.NewReader("hello"), "bytes 0-4/5", 5)
	require.NoError(t, err)
	assert.False(t, skipped)

	result, err := o.Complete(context.Background(), principal, mount, res.Session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dir/a.txt", result.StoragePath)

	sess, err := o.db.Uploads.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadCompleted, sess.Status)
}

func TestAbort_TransitionsAndNotifiesDriver(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)
	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)

	require.NoError(t, o.Abort(context.Background(), principal, mount, res.Session.ID))
	assert.True(t, drv.aborted)

	sess, err := o.db.Uploads.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadAborted, sess.Status)
}

func TestAbort_RejectsAlreadyTerminal(t *testing.T) {
	drv := &fakeMultipartDriver{perPartURL: true}
	o, _, mount := newTestSetup(t, drv)
	principal := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	res, err := o.Initialize(context.Background(), principal, mount, "/dir", "a.txt", 100, 50, 0, "")
	require.NoError(t, err)
	require.NoError(t, o.Abort(context.Background(), principal, mount, res.Session.ID))

	err = o.Abort(context.Background(), principal, mount, res.Session.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestComputePartCount(t *testing.T) {
	assert.Equal(t, 1, computePartCount(10, 0))
	assert.Equal(t, 2, computePartCount(10, 5))
	assert.Equal(t, 3, computePartCount(11, 5))
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := parseContentRange("bytes 0-4/10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(4), end)
	assert.Equal(t, int64(10), total)

	_, _, _, err = parseContentRange("garbage")
	require.Error(t, err)
}

func TestVerifyAllPartsPresent(t *testing.T) {
	parts := []types.UploadPart{{PartNo: 1, Status: types.PartUploaded}, {PartNo: 2, Status: types.PartUploaded}}
	require.NoError(t, verifyAllPartsPresent(parts, 2))

	parts = []types.UploadPart{{PartNo: 1, Status: types.PartUploaded}}
	require.Error(t, verifyAllPartsPresent(parts, 2))
}
