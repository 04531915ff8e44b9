// Package webdav implements the WEBDAV storage driver: a thin HTTP client
// speaking PROPFIND/MKCOL/PUT/DELETE/COPY/MOVE against any RFC 4918 server.
//
// golang.org/x/net/webdav only ships server-side primitives (Handler,
// FileSystem, LockSystem); it has no client. The multistatus parsing and
// method set below are hand-rolled against the RFC instead.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func init() {
	driver.Register(types.StorageWebDAV, New)
}

// Driver implements types.Driver against a WebDAV server.
type Driver struct {
	http     *http.Client
	baseURL  string
	username string
	password string
}

// New builds a WebDAV Driver. Extra carries base_url; Secrets carries
// username/password for Basic auth.
func New(cfg types.StorageConfig) (types.Driver, error) {
	base := cfg.Extra["base_url"]
	if base == "" {
		return nil, errors.Validation("driver.webdav", "extra.base_url is required for a WEBDAV storage config")
	}
	return &Driver{
		http:     &http.Client{Timeout: 60 * time.Second},
		baseURL:  strings.TrimSuffix(base, "/") + "/" + strings.Trim(cfg.RootPrefix, "/"),
		username: cfg.Secrets["username"],
		password: cfg.Secrets["password"],
	}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageWebDAV }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapRange
}

func (d *Driver) urlFor(subPath string) string {
	return strings.TrimSuffix(d.baseURL, "/") + pathEscape(subPath)
}

func pathEscape(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func (d *Driver) newRequest(ctx context.Context, method, subPath string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.urlFor(subPath), body)
	if err != nil {
		return nil, errors.Internal("driver.webdav", "failed to build request", err)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}
	return req, nil
}

func (d *Driver) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, errors.DriverErr("driver.webdav", op, 0, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, errors.DriverErr("driver.webdav", op, resp.StatusCode, fmt.Errorf("server returned %s", resp.Status))
	}
	return resp, nil
}

type multistatusResponse struct {
	Href     string `xml:"href"`
	PropStat struct {
		Prop struct {
			DisplayName  string `xml:"displayname"`
			ContentLength int64 `xml:"getcontentlength"`
			LastModified string `xml:"getlastmodified"`
			ResourceType struct {
				Collection *struct{} `xml:"collection"`
			} `xml:"resourcetype"`
			ETag string `xml:"getetag"`
			ContentType string `xml:"getcontenttype"`
		} `xml:"prop"`
	} `xml:"propstat"`
}

type multistatus struct {
	Responses []multistatusResponse `xml:"response"`
}

func (d *Driver) propfind(ctx context.Context, subPath string, depth string) (*multistatus, error) {
	body := `<?xml version="1.0"?><propfind xmlns="DAV:"><allprop/></propfind>`
	req, err := d.newRequest(ctx, "PROPFIND", subPath, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", depth)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, errors.DriverErr("driver.webdav", "propfind", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NotFound("driver.webdav", subPath+" does not exist")
	}
	if resp.StatusCode >= 400 {
		return nil, errors.DriverErr("driver.webdav", "propfind", resp.StatusCode, fmt.Errorf("server returned %s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Internal("driver.webdav", "failed to read propfind body", err)
	}
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, errors.Internal("driver.webdav", "failed to parse multistatus response", err)
	}
	return &ms, nil
}

func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	ms, err := d.propfind(toCtx(opCtx), subPath, "1")
	if err != nil {
		return nil, err
	}

	items := make([]types.ItemInfo, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		name := lastSegment(strings.TrimSuffix(r.Href, "/"))
		if name == "" || name == lastSegment(strings.TrimSuffix(subPath, "/")) {
			continue
		}
		isDir := r.PropStat.Prop.ResourceType.Collection != nil
		item := types.ItemInfo{
			Name:  name,
			IsDir: isDir,
			Path:  joinVirtual(subPath, name),
			ETag:  strings.Trim(r.PropStat.Prop.ETag, `"`),
		}
		if !isDir {
			size := r.PropStat.Prop.ContentLength
			item.Size = &size
			item.MimeType = r.PropStat.Prop.ContentType
			if item.MimeType == "" {
				item.MimeType = driver.DetectContentType(name)
			}
			if t, perr := time.Parse(time.RFC1123, r.PropStat.Prop.LastModified); perr == nil {
				modMs := t.UnixMilli()
				item.ModifiedMs = &modMs
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.Stat(subPath, ctx)
}

func (d *Driver) Stat(subPath string, opCtx types.OpContext) (*types.FileInfo, error) {
	ms, err := d.propfind(toCtx(opCtx), subPath, "0")
	if err != nil {
		return nil, err
	}
	if len(ms.Responses) == 0 {
		return nil, errors.NotFound("driver.webdav", subPath+" does not exist")
	}
	r := ms.Responses[0]
	isDir := r.PropStat.Prop.ResourceType.Collection != nil
	item := types.ItemInfo{
		Name:  lastSegment(strings.TrimSuffix(subPath, "/")),
		IsDir: isDir,
		Path:  subPath,
		ETag:  strings.Trim(r.PropStat.Prop.ETag, `"`),
	}
	if !isDir {
		size := r.PropStat.Prop.ContentLength
		item.Size = &size
		item.MimeType = r.PropStat.Prop.ContentType
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
			req, err := d.newRequest(ctx, http.MethodGet, subPath, nil)
			if err != nil {
				return nil, err
			}
			resp, err := d.do(req, "downloadFile")
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		},
		FetchRange: func(ctx context.Context, rangeHeader string) (io.ReadCloser, error) {
			req, err := d.newRequest(ctx, http.MethodGet, subPath, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Range", rangeHeader)
			resp, err := d.do(req, "downloadFile")
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		},
	}, nil
}

func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.webdav", "failed to buffer upload body", err)
	}
	req, err := d.newRequest(toCtx(opCtx), http.MethodPut, subPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", driver.DetectContentType(subPath))
	req.ContentLength = int64(len(data))
	if _, err := d.do(req, "uploadFile"); err != nil {
		return nil, err
	}
	return &types.UploadResult{StoragePath: subPath}, nil
}

func (d *Driver) CreateDirectory(subPath string, opCtx types.OpContext) error {
	req, err := d.newRequest(toCtx(opCtx), "MKCOL", subPath, nil)
	if err != nil {
		return err
	}
	_, err = d.do(req, "createDirectory")
	return err
}

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	req, err := d.newRequest(toCtx(opCtx), http.MethodDelete, subPath, nil)
	if err != nil {
		return err
	}
	_, err = d.do(req, "remove")
	return err
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, opCtx types.OpContext) error {
	req, err := d.newRequest(toCtx(opCtx), "MOVE", oldSubPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Destination", d.urlFor(newSubPath))
	_, err = d.do(req, "renameItem")
	return err
}

func (d *Driver) CopyItem(srcSubPath, dstSubPath string, opCtx types.OpContext) (*types.CopyResult, error) {
	if opCtx.Options.SkipExisting {
		if ok, _ := d.Exists(dstSubPath, opCtx); ok {
			return &types.CopyResult{Status: types.CopySkipped}, nil
		}
	}
	req, err := d.newRequest(toCtx(opCtx), "COPY", srcSubPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Destination", d.urlFor(dstSubPath))
	if _, err := d.do(req, "copyItem"); err != nil {
		return nil, err
	}
	return &types.CopyResult{Status: types.CopySuccess}, nil
}

func (d *Driver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("driver.webdav", "WebDAV has no native multipart upload")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.webdav", "WebDAV has no native multipart upload")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.webdav", "WebDAV has no native multipart upload")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.webdav", "WebDAV has no native multipart upload")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.webdav", "WebDAV has no native multipart upload")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.webdav", "WebDAV servers are not assumed to issue signed direct links")
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.webdav", "WebDAV servers are not assumed to issue signed direct links")
}

func (d *Driver) DiskUsage(ctx types.OpContext) (int64, error) {
	return 0, errors.NotSupported("driver.webdav", "generic WebDAV servers do not expose account-level usage")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	req, err := d.newRequest(ctx, "PROPFIND", "/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Depth", "0")
	_, err = d.do(req, "healthCheck")
	return err
}

func toCtx(opCtx types.OpContext) context.Context {
	if opCtx.Context != nil {
		return opCtx.Context
	}
	return context.Background()
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func joinVirtual(base, name string) string {
	if base == "/" || base == "" {
		return "/" + name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}
