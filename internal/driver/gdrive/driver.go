// Package gdrive implements the GOOGLE_DRIVE storage driver against the
// Drive v3 REST API, refreshing tokens via golang.org/x/oauth2/google the
// way a gcsfuse-style client would.
package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const driveBase = "https://www.googleapis.com/drive/v3"
const driveUploadBase = "https://www.googleapis.com/upload/drive/v3"

func init() {
	driver.Register(types.StorageGoogleDrive, New)
}

// Driver implements types.Driver over the Google Drive v3 API. Google Drive
// is a flat ID graph rather than a path tree, so the driver maintains no
// local path cache and resolves each segment through the Drive "files.list"
// query with a parent filter on every call.
type Driver struct {
	http       *resty.Client
	uploadHTTP *resty.Client
	rootFolder string // Drive file id of the configured root; never set, paths are resolved from rootName on every call
	rootName   string
	mu         sync.Mutex
	source     oauth2.TokenSource
}

// New builds a Driver. Secrets carries client_id/client_secret/refresh_token;
// RootPrefix names the root folder by path relative to "My Drive".
func New(cfg types.StorageConfig) (types.Driver, error) {
	clientID := cfg.Secrets["client_id"]
	clientSecret := cfg.Secrets["client_secret"]
	refreshToken := cfg.Secrets["refresh_token"]
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.Validation("driver.gdrive", "client_id, client_secret and refresh_token secrets are required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive"},
	}
	source := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})

	return &Driver{
		http:       resty.New().SetBaseURL(driveBase).SetTimeout(30 * time.Second),
		uploadHTTP: resty.New().SetBaseURL(driveUploadBase).SetTimeout(5 * time.Minute),
		rootName:   strings.Trim(cfg.RootPrefix, "/"),
		source:     source,
	}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageGoogleDrive }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapDirectLink
}

func (d *Driver) token(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, err := d.source.Token()
	if err != nil {
		return "", errors.Unauthenticated("driver.gdrive", "failed to refresh Drive token").WithCause(err)
	}
	return tok.AccessToken, nil
}

func (d *Driver) req(opCtx types.OpContext, upload bool) (*resty.Request, error) {
	tok, err := d.token(toCtx(opCtx))
	if err != nil {
		return nil, err
	}
	client := d.http
	if upload {
		client = d.uploadHTTP
	}
	return client.R().SetContext(toCtx(opCtx)).SetAuthToken(tok), nil
}

type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Md5Checksum  string `json:"md5Checksum"`
	WebContentLink string `json:"webContentLink"`
}

type driveFileList struct {
	Files []driveFile `json:"files"`
}

const folderMime = "application/vnd.google-apps.folder"

func (d *Driver) translateStatus(op string, status int, body []byte) error {
	if status == http.StatusNotFound {
		return errors.NotFound("driver.gdrive", op+": file not found")
	}
	return errors.DriverErr("driver.gdrive", op, status, fmt.Errorf("drive API error: %s", string(body)))
}

// resolveID walks subPath segment by segment from the configured root,
// issuing one files.list query per segment (Drive has no path API).
func (d *Driver) resolveID(opCtx types.OpContext, subPath string) (string, bool, error) {
	parentID := "root"
	segments := strings.Split(strings.Trim(d.rootName+"/"+strings.Trim(subPath, "/"), "/"), "/")
	isDir := true
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		id, mime, err := d.findChild(opCtx, parentID, seg)
		if err != nil {
			return "", false, err
		}
		parentID = id
		isDir = mime == folderMime
		_ = i
	}
	return parentID, isDir, nil
}

func (d *Driver) findChild(opCtx types.OpContext, parentID, name string) (string, string, error) {
	r, err := d.req(opCtx, false)
	if err != nil {
		return "", "", err
	}
	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", parentID, strings.ReplaceAll(name, "'", "\\'"))
	resp, err := r.SetQueryParam("q", q).SetQueryParam("fields", "files(id,name,mimeType,size,modifiedTime,md5Checksum,webContentLink)").Get("/files")
	if err != nil {
		return "", "", errors.DriverErr("driver.gdrive", "resolve", 0, err)
	}
	if resp.IsError() {
		return "", "", d.translateStatus("resolve", resp.StatusCode(), resp.Body())
	}
	var list driveFileList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return "", "", errors.Internal("driver.gdrive", "failed to parse files.list response", err)
	}
	if len(list.Files) == 0 {
		return "", "", errors.NotFound("driver.gdrive", name+" does not exist")
	}
	return list.Files[0].ID, list.Files[0].MimeType, nil
}

func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	parentID, _, err := d.resolveID(opCtx, subPath)
	if err != nil {
		return nil, err
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", parentID)
	resp, err := r.SetQueryParam("q", q).SetQueryParam("fields", "files(id,name,mimeType,size,modifiedTime,md5Checksum)").Get("/files")
	if err != nil {
		return nil, errors.DriverErr("driver.gdrive", "listDirectory", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("listDirectory", resp.StatusCode(), resp.Body())
	}
	var list driveFileList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, errors.Internal("driver.gdrive", "failed to parse files.list response", err)
	}

	items := make([]types.ItemInfo, 0, len(list.Files))
	for _, f := range list.Files {
		items = append(items, driveFileToInfo(subPath, f))
	}
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func driveFileToInfo(parent string, f driveFile) types.ItemInfo {
	isDir := f.MimeType == folderMime
	item := types.ItemInfo{
		Name:  f.Name,
		IsDir: isDir,
		Path:  joinVirtual(parent, f.Name),
		ETag:  f.Md5Checksum,
	}
	if !isDir {
		var size int64
		fmt.Sscanf(f.Size, "%d", &size)
		item.Size = &size
		item.MimeType = f.MimeType
		mod := f.ModifiedTime.UnixMilli()
		item.ModifiedMs = &mod
	}
	return item
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.Stat(subPath, ctx)
}

func (d *Driver) Stat(subPath string, opCtx types.OpContext) (*types.FileInfo, error) {
	id, _, err := d.resolveID(opCtx, subPath)
	if err != nil {
		return nil, err
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetQueryParam("fields", "id,name,mimeType,size,modifiedTime,md5Checksum,webContentLink").Get("/files/" + id)
	if err != nil {
		return nil, errors.DriverErr("driver.gdrive", "stat", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("stat", resp.StatusCode(), resp.Body())
	}
	var f driveFile
	if err := json.Unmarshal(resp.Body(), &f); err != nil {
		return nil, errors.Internal("driver.gdrive", "failed to parse file response", err)
	}
	item := driveFileToInfo(parentOf(subPath), f)
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
	id, _, err := d.resolveID(opCtx, subPath)
	if err != nil {
		return nil, err
	}
	return &types.StreamDescriptor{
		Size:        info.Size,
		ContentType: info.MimeType,
		ETag:        info.ETag,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			r, err := d.req(types.OpContext{Context: ctx}, false)
			if err != nil {
				return nil, err
			}
			resp, err := r.SetDoNotParseResponse(true).SetQueryParam("alt", "media").Get("/files/" + id)
			if err != nil {
				return nil, errors.DriverErr("driver.gdrive", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
	}, nil
}

func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.gdrive", "failed to buffer upload body", err)
	}
	parentID, _, err := d.resolveID(opCtx, parentOf(subPath))
	if err != nil {
		return nil, err
	}

	existingID, _, statErr := d.resolveID(opCtx, subPath)
	r, err := d.req(opCtx, true)
	if err != nil {
		return nil, err
	}
	r = r.SetBody(data).SetHeader("Content-Type", driver.DetectContentType(subPath))

	var resp *resty.Response
	if statErr == nil && existingID != "" {
		resp, err = r.SetQueryParam("uploadType", "media").Put("/files/" + existingID)
	} else {
		metadata := map[string]interface{}{"name": lastSegment(subPath), "parents": []string{parentID}}
		metaJSON, _ := json.Marshal(metadata)
		resp, err = r.SetQueryParam("uploadType", "media").SetHeader("X-Upload-Metadata", string(metaJSON)).Post("/files")
	}
	if err != nil {
		return nil, errors.DriverErr("driver.gdrive", "uploadFile", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("uploadFile", resp.StatusCode(), resp.Body())
	}
	return &types.UploadResult{StoragePath: subPath}, nil
}

func (d *Driver) CreateDirectory(subPath string, opCtx types.OpContext) error {
	parentID, _, err := d.resolveID(opCtx, parentOf(subPath))
	if err != nil {
		return err
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"name":     lastSegment(subPath),
		"mimeType": folderMime,
		"parents":  []string{parentID},
	}
	resp, err := r.SetBody(payload).Post("/files")
	if err != nil {
		return errors.DriverErr("driver.gdrive", "createDirectory", 0, err)
	}
	if resp.IsError() {
		return d.translateStatus("createDirectory", resp.StatusCode(), resp.Body())
	}
	return nil
}

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	id, _, err := d.resolveID(opCtx, subPath)
	if err != nil {
		return err
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return err
	}
	resp, err := r.Delete("/files/" + id)
	if err != nil {
		return errors.DriverErr("driver.gdrive", "remove", 0, err)
	}
	if resp.IsError() {
		return d.translateStatus("remove", resp.StatusCode(), resp.Body())
	}
	return nil
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, opCtx types.OpContext) error {
	id, _, err := d.resolveID(opCtx, oldSubPath)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{"name": lastSegment(newSubPath)}
	if parentOf(oldSubPath) != parentOf(newSubPath) {
		newParentID, _, perr := d.resolveID(opCtx, parentOf(newSubPath))
		if perr != nil {
			return perr
		}
		oldParentID, _, perr := d.resolveID(opCtx, parentOf(oldSubPath))
		if perr != nil {
			return perr
		}
		r, rerr := d.req(opCtx, false)
		if rerr != nil {
			return rerr
		}
		resp, rerr := r.SetBody(payload).SetQueryParam("addParents", newParentID).SetQueryParam("removeParents", oldParentID).Patch("/files/" + id)
		if rerr != nil {
			return errors.DriverErr("driver.gdrive", "renameItem", 0, rerr)
		}
		if resp.IsError() {
			return d.translateStatus("renameItem", resp.StatusCode(), resp.Body())
		}
		return nil
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return err
	}
	resp, err := r.SetBody(payload).Patch("/files/" + id)
	if err != nil {
		return errors.DriverErr("driver.gdrive", "renameItem", 0, err)
	}
	if resp.IsError() {
		return d.translateStatus("renameItem", resp.StatusCode(), resp.Body())
	}
	return nil
}

func (d *Driver) CopyItem(srcSubPath, dstSubPath string, opCtx types.OpContext) (*types.CopyResult, error) {
	if opCtx.Options.SkipExisting {
		if ok, _ := d.Exists(dstSubPath, opCtx); ok {
			return &types.CopyResult{Status: types.CopySkipped}, nil
		}
	}
	id, _, err := d.resolveID(opCtx, srcSubPath)
	if err != nil {
		return nil, err
	}
	parentID, _, err := d.resolveID(opCtx, parentOf(dstSubPath))
	if err != nil {
		return nil, err
	}
	r, err := d.req(opCtx, false)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"name": lastSegment(dstSubPath), "parents": []string{parentID}}
	resp, err := r.SetBody(payload).Post("/files/" + id + "/copy")
	if err != nil {
		return nil, errors.DriverErr("driver.gdrive", "copyItem", 0, err)
	}
	if resp.IsError() {
		return nil, d.translateStatus("copyItem", resp.StatusCode(), resp.Body())
	}
	return &types.CopyResult{Status: types.CopySuccess}, nil
}

// Drive's resumable upload protocol is sequential like Graph's, so multipart
// is not exposed; see the onedrive driver's identical rationale.
func (d *Driver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("driver.gdrive", "Drive resumable uploads are sequential, not parallel multipart")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.gdrive", "Drive resumable uploads are sequential, not parallel multipart")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.gdrive", "Drive resumable uploads are sequential, not parallel multipart")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.gdrive", "Drive resumable uploads are sequential, not parallel multipart")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.gdrive", "Drive resumable uploads are sequential, not parallel multipart")
}

func (d *Driver) GenerateProxyURL(subPath string, opCtx types.OpContext) (string, error) {
	if _, err := d.Stat(subPath, opCtx); err != nil {
		return "", err
	}
	return "", errors.NotSupported("driver.gdrive", "Drive files require an OAuth header to download; no anonymous direct link")
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.gdrive", "Drive has no client-facing presigned upload URL")
}

func (d *Driver) DiskUsage(opCtx types.OpContext) (int64, error) {
	r, err := d.req(opCtx, false)
	if err != nil {
		return 0, err
	}
	resp, err := r.SetQueryParam("fields", "storageQuota").Get("/about")
	if err != nil {
		return 0, errors.DriverErr("driver.gdrive", "diskUsage", 0, err)
	}
	if resp.IsError() {
		return 0, d.translateStatus("diskUsage", resp.StatusCode(), resp.Body())
	}
	var about struct {
		StorageQuota struct {
			Usage string `json:"usage"`
		} `json:"storageQuota"`
	}
	if err := json.Unmarshal(resp.Body(), &about); err != nil {
		return 0, errors.Internal("driver.gdrive", "failed to parse about response", err)
	}
	var used int64
	fmt.Sscanf(about.StorageQuota.Usage, "%d", &used)
	return used, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	_, err := d.token(ctx)
	return err
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

func parentOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i > 0 {
		return p[:i]
	}
	return "/"
}
