// Package huggingface implements the HUGGINGFACE storage driver against the
// Hugging Face Hub HTTP API (dataset or model repository files), using
// go-resty the way xuebiya-cloudreve's HTTP-backed drivers do.
package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const hubBase = "https://huggingface.co"

func init() {
	driver.Register(types.StorageHuggingFace, New)
}

// Driver implements types.Driver over one Hugging Face Hub repository.
type Driver struct {
	http     *resty.Client
	repoType string // "datasets" | "models" | "spaces"
	repoID   string
	revision string
	root     string
}

// New builds a Driver. Secrets carries token; Extra carries repo_id
// ("owner/name"), repo_type (default "datasets"), revision (default "main").
func New(cfg types.StorageConfig) (types.Driver, error) {
	repoID := cfg.Extra["repo_id"]
	if repoID == "" {
		return nil, errors.Validation("driver.huggingface", "extra.repo_id is required")
	}
	repoType := cfg.Extra["repo_type"]
	if repoType == "" {
		repoType = "datasets"
	}
	revision := cfg.Extra["revision"]
	if revision == "" {
		revision = "main"
	}

	client := resty.New().SetBaseURL(hubBase).SetTimeout(60 * time.Second)
	if token := cfg.Secrets["token"]; token != "" {
		client.SetAuthToken(token)
	}

	return &Driver{http: client, repoType: repoType, repoID: repoID, revision: revision, root: strings.Trim(cfg.RootPrefix, "/")}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageHuggingFace }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapDirectLink
}

func (d *Driver) repoPath(subPath string) string {
	return strings.Trim(d.root+"/"+strings.TrimPrefix(subPath, "/"), "/")
}

func (d *Driver) apiPrefix() string {
	if d.repoType == "models" {
		return "/api/models/" + d.repoID
	}
	return "/api/" + d.repoType + "/" + d.repoID
}

func (d *Driver) translateStatus(op string, status int, body []byte) error {
	if status == http.StatusNotFound {
		return errors.NotFound("driver.huggingface", op+": path not found in repository")
	}
	return errors.DriverErr("driver.huggingface", op, status, fmt.Errorf("hub API error: %s", string(body)))
}

type hubTreeEntry struct {
	Type string `json:"type"` // "file" | "directory"
	Path string `json:"path"`
	Size int64  `json:"size"`
	OID  string `json:"oid"`
}

func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	path := d.repoPath(subPath)
	url := d.apiPrefix() + "/tree/" + d.revision
	if path != "" {
		url += "/" + path
	}
	resp, err := d.http.R().SetContext(toCtx(opCtx)).Get(url)
	if err != nil {
		return nil, errors.DriverErr("driver.huggingface", "listDirectory", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("listDirectory", resp.StatusCode(), resp.Body())
	}
	var entries []hubTreeEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return nil, errors.Internal("driver.huggingface", "failed to parse tree response", err)
	}

	items := make([]types.ItemInfo, 0, len(entries))
	for _, e := range entries {
		name := lastSegment(e.Path)
		isDir := e.Type == "directory"
		item := types.ItemInfo{Name: name, IsDir: isDir, Path: joinVirtual(subPath, name), ETag: e.OID}
		if !isDir {
			size := e.Size
			item.Size = &size
			item.MimeType = driver.DetectContentType(name)
		}
		items = append(items, item)
	}
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.Stat(subPath, ctx)
}

func (d *Driver) Stat(subPath string, opCtx types.OpContext) (*types.FileInfo, error) {
	resp, err := d.http.R().SetContext(toCtx(opCtx)).Head("/" + d.repoType + "/" + d.repoID + "/resolve/" + d.revision + "/" + d.repoPath(subPath))
	if err != nil {
		return nil, errors.DriverErr("driver.huggingface", "stat", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("stat", resp.StatusCode(), resp.Body())
	}
	size := resp.Size()
	item := types.ItemInfo{
		Name:     lastSegment(subPath),
		IsDir:    false,
		Size:     &size,
		MimeType: driver.DetectContentType(subPath),
		Path:     subPath,
		ETag:     strings.Trim(resp.Header().Get("ETag"), `"`),
	}
	return &item, nil
}

func (d *Driver) Exists(subPath string, ctx types.OpContext) (bool, error) {
	_, err := d.Stat(subPath, ctx)
	if err == nil {
		return true, nil
	}
	if errors.Code(err) == errors.ErrCodeNotFound {
		return false, nil
	}
	return false, err
}

func (d *Driver) resolveURL(subPath string) string {
	return hubBase + "/" + d.repoType + "/" + d.repoID + "/resolve/" + d.revision + "/" + d.repoPath(subPath)
}

func (d *Driver) DownloadFile(subPath string, opCtx types.OpContext) (*types.StreamDescriptor, error) {
	info, err := d.Stat(subPath, opCtx)
	if err != nil {
		return nil, err
	}
	return &types.StreamDescriptor{
		Size:          info.Size,
		ContentType:   info.MimeType,
		ETag:          info.ETag,
		SupportsRange: true,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			resp, err := d.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(d.resolveURL(subPath))
			if err != nil {
				return nil, errors.DriverErr("driver.huggingface", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
		FetchRange: func(ctx context.Context, rangeHeader string) (io.ReadCloser, error) {
			resp, err := d.http.R().SetContext(ctx).SetHeader("Range", rangeHeader).SetDoNotParseResponse(true).Get(d.resolveURL(subPath))
			if err != nil {
				return nil, errors.DriverErr("driver.huggingface", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
	}, nil
}

// UploadFile uses the Hub's single-commit upload API, the simpler of the
// two commit mechanisms the Hub supports (preupload+LFS is the other).
func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.huggingface", "failed to buffer upload body", err)
	}
	resp, err := d.http.R().SetContext(toCtx(opCtx)).SetBody(data).
		Post(d.apiPrefix() + "/upload/" + d.revision + "/" + d.repoPath(subPath))
	if err != nil {
		return nil, errors.DriverErr("driver.huggingface", "uploadFile", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("uploadFile", resp.StatusCode(), resp.Body())
	}
	return &types.UploadResult{StoragePath: subPath}, nil
}

func (d *Driver) CreateDirectory(subPath string, opCtx types.OpContext) error {
	_, err := d.UploadFile(strings.TrimSuffix(subPath, "/")+"/.gitkeep", strings.NewReader(""), opCtx)
	return err
}

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	resp, err := d.http.R().SetContext(toCtx(opCtx)).Delete(d.apiPrefix() + "/delete/" + d.revision + "/" + d.repoPath(subPath))
	if err != nil {
		return errors.DriverErr("driver.huggingface", "remove", 0, err)
	}
	if resp.IsError() {
		return d.translateStatus("remove", resp.StatusCode(), resp.Body())
	}
	return nil
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, opCtx types.OpContext) error {
	if _, err := d.CopyItem(oldSubPath, newSubPath, opCtx); err != nil {
		return err
	}
	return d.Remove(oldSubPath, opCtx)
}

func (d *Driver) CopyItem(srcSubPath, dstSubPath string, opCtx types.OpContext) (*types.CopyResult, error) {
	if opCtx.Options.SkipExisting {
		if ok, _ := d.Exists(dstSubPath, opCtx); ok {
			return &types.CopyResult{Status: types.CopySkipped}, nil
		}
	}
	stream, err := d.DownloadFile(srcSubPath, opCtx)
	if err != nil {
		return nil, err
	}
	rc, err := stream.Fetch(toCtx(opCtx))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := d.UploadFile(dstSubPath, rc, opCtx); err != nil {
		return nil, err
	}
	return &types.CopyResult{Status: types.CopySuccess}, nil
}

func (d *Driver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("driver.huggingface", "the Hub commit API is not a parallel multipart upload")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.huggingface", "the Hub commit API is not a parallel multipart upload")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.huggingface", "the Hub commit API is not a parallel multipart upload")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.huggingface", "the Hub commit API is not a parallel multipart upload")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.huggingface", "the Hub commit API is not a parallel multipart upload")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return d.resolveURL(subPath), nil
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.huggingface", "the Hub has no presigned client upload URL")
}

func (d *Driver) DiskUsage(ctx types.OpContext) (int64, error) {
	return 0, errors.NotSupported("driver.huggingface", "the Hub does not report repository storage usage per byte")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	resp, err := d.http.R().SetContext(ctx).Get(d.apiPrefix())
	if err != nil {
		return errors.DriverErr("driver.huggingface", "healthCheck", 0, err)
	}
	if resp.IsError() {
		return d.translateStatus("healthCheck", resp.StatusCode(), resp.Body())
	}
	return nil
}

func toCtx(opCtx types.OpContext) context.Context {
	if opCtx.Context != nil {
		return opCtx.Context
	}
	return context.Background()
}

func joinVirtual(base, name string) string {
	if base == "/" || base == "" {
		return "/" + name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
