// Package local implements the LOCAL storage driver: a plain directory tree
// rooted at the storage config's RootPrefix. It is the reference driver used
// to exercise the core against a back-end with no network latency or
// provider quirks, and the one mirror targets most often pair with.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
	"github.com/cloudpaste/cloudpaste/pkg/utils"
)

func init() {
	driver.Register(types.StorageLocal, New)
}

// Driver implements types.Driver over os/io against a root directory.
type Driver struct {
	root string
}

// New builds a local Driver from a StorageConfig whose RootPrefix names the
// base directory every sub-path is resolved under.
func New(cfg types.StorageConfig) (types.Driver, error) {
	root := cfg.RootPrefix
	if root == "" {
		return nil, errors.Validation("driver.local", "rootPrefix is required for a LOCAL storage config")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Internal("driver.local", "failed to create root directory", err)
	}
	return &Driver{root: root}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageLocal }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapAtomic | types.CapPagedList | types.CapRange
}

// resolve turns a virtual sub-path into an absolute filesystem path, refusing
// any traversal outside root even if the resolver's own normalisation were
// ever bypassed.
func (d *Driver) resolve(subPath string) (string, error) {
	clean := filepath.Clean("/" + subPath)
	abs, err := utils.SecureJoin(d.root, clean)
	if err != nil {
		return "", errors.Validation("driver.local", "path escapes storage root")
	}
	return abs, nil
}

func (d *Driver) translateErr(op, subPath string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return errors.NotFound("driver.local", subPath+" does not exist")
	}
	if os.IsExist(err) {
		return errors.Conflict("driver.local", subPath+" already exists")
	}
	if os.IsPermission(err) {
		return errors.Forbidden("driver.local", "permission denied for "+subPath)
	}
	return errors.DriverErr("driver.local", op, 0, err)
}

func (d *Driver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	abs, err := d.resolve(subPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, d.translateErr("listDirectory", subPath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]types.ItemInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, fileInfoToItem(e.Name(), joinVirtual(subPath, e.Name()), info))
	}
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.Stat(subPath, ctx)
}

func (d *Driver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	abs, err := d.resolve(subPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, d.translateErr("stat", subPath, err)
	}
	item := fileInfoToItem(filepath.Base(subPath), subPath, info)
	return &item, nil
}

func (d *Driver) Exists(subPath string, ctx types.OpContext) (bool, error) {
	abs, err := d.resolve(subPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, d.translateErr("exists", subPath, err)
}

func (d *Driver) DownloadFile(subPath string, opCtx types.OpContext) (*types.StreamDescriptor, error) {
	abs, err := d.resolve(subPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, d.translateErr("downloadFile", subPath, err)
	}
	if info.IsDir() {
		return nil, errors.Validation("driver.local", subPath+" is a directory")
	}

	size := info.Size()
	mtime := info.ModTime()
	return &types.StreamDescriptor{
		Size:          &size,
		ContentType:   driver.DetectContentType(subPath),
		LastModified:  &mtime,
		SupportsRange: true,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			f, err := os.Open(abs)
			if err != nil {
				return nil, d.translateErr("downloadFile", subPath, err)
			}
			return f, nil
		},
		FetchRange: func(ctx context.Context, rangeHeader string) (io.ReadCloser, error) {
			f, err := os.Open(abs)
			if err != nil {
				return nil, d.translateErr("downloadFile", subPath, err)
			}
			start, end, perr := parseByteRange(rangeHeader, size)
			if perr != nil {
				f.Close()
				return nil, perr
			}
			if _, err := f.Seek(start, io.SeekStart); err != nil {
				f.Close()
				return nil, errors.Internal("driver.local", "seek failed", err)
			}
			return &limitedReadCloser{r: io.LimitReader(f, end-start+1), c: f}, nil
		},
	}, nil
}

func (d *Driver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	abs, err := d.resolve(subPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, d.translateErr("uploadFile", subPath, err)
	}

	tmp := abs + ".tmp-upload"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, d.translateErr("uploadFile", subPath, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, errors.DriverErr("driver.local", "uploadFile", 0, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, errors.DriverErr("driver.local", "uploadFile", 0, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return nil, errors.DriverErr("driver.local", "uploadFile", 0, err)
	}
	return &types.UploadResult{StoragePath: subPath}, nil
}

func (d *Driver) CreateDirectory(subPath string, ctx types.OpContext) error {
	abs, err := d.resolve(subPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return d.translateErr("createDirectory", subPath, err)
	}
	return nil
}

func (d *Driver) Remove(subPath string, ctx types.OpContext) error {
	abs, err := d.resolve(subPath)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return d.translateErr("remove", subPath, err)
	}
	return nil
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	oldAbs, err := d.resolve(oldSubPath)
	if err != nil {
		return err
	}
	newAbs, err := d.resolve(newSubPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return d.translateErr("renameItem", newSubPath, err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return d.translateErr("renameItem", oldSubPath, err)
	}
	return nil
}

func (d *Driver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	srcAbs, err := d.resolve(srcSubPath)
	if err != nil {
		return nil, err
	}
	dstAbs, err := d.resolve(dstSubPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(srcAbs)
	if err != nil {
		return nil, d.translateErr("copyItem", srcSubPath, err)
	}
	if info.IsDir() {
		return &types.CopyResult{Status: types.CopyFailed, Reason: "directory copy not supported"}, nil
	}

	if ctx.Options.SkipExisting {
		if _, err := os.Stat(dstAbs); err == nil {
			return &types.CopyResult{Status: types.CopySkipped}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return nil, d.translateErr("copyItem", dstSubPath, err)
	}
	src, err := os.Open(srcAbs)
	if err != nil {
		return nil, d.translateErr("copyItem", srcSubPath, err)
	}
	defer src.Close()
	dst, err := os.Create(dstAbs)
	if err != nil {
		return nil, d.translateErr("copyItem", dstSubPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return nil, errors.DriverErr("driver.local", "copyItem", 0, err)
	}
	return &types.CopyResult{Status: types.CopySuccess}, nil
}

// Multipart operations are not meaningful against a local directory; the
// capability bit is intentionally left unset and these return NOT_SUPPORTED
// if the core ever calls them against a misconfigured mount.
func (d *Driver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("driver.local", "multipart upload is not supported by the local driver")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.local", "multipart upload is not supported by the local driver")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.local", "multipart upload is not supported by the local driver")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.local", "multipart upload is not supported by the local driver")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.local", "multipart upload is not supported by the local driver")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.local", "local files have no direct provider URL; use the proxy endpoint")
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.local", "local files have no direct provider upload URL")
}

func (d *Driver) DiskUsage(ctx types.OpContext) (int64, error) {
	var total int64
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() {
			if info, ierr := e.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.DriverErr("driver.local", "diskUsage", 0, err)
	}
	return total, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return errors.DriverErr("driver.local", "healthCheck", 0, err)
	}
	if !info.IsDir() {
		return errors.Internal("driver.local", "storage root is not a directory", nil)
	}
	return nil
}

func joinVirtual(base, name string) string {
	if base == "/" || base == "" {
		return "/" + name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}

func fileInfoToItem(name, path string, info os.FileInfo) types.ItemInfo {
	var size *int64
	if !info.IsDir() {
		s := info.Size()
		size = &s
	}
	mod := info.ModTime().UnixMilli()
	item := types.ItemInfo{
		Name:       name,
		IsDir:      info.IsDir(),
		Size:       size,
		ModifiedMs: &mod,
		Path:       path,
		StrongETag: true,
	}
	if !info.IsDir() {
		item.MimeType = driver.DetectContentType(path)
		item.ETag = weakFileETag(info)
	}
	return item
}

func weakFileETag(info os.FileInfo) string {
	return time.Unix(0, info.ModTime().UnixNano()).Format(time.RFC3339Nano)
}

func parseByteRange(header string, size int64) (start, end int64, err error) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Validation("driver.local", "malformed range header")
	}
	if parts[0] == "" {
		// suffix range: last N bytes
		var n int64
		if _, serr := parseInt(parts[1], &n); serr != nil {
			return 0, 0, errors.Validation("driver.local", "malformed range header")
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	}
	if _, serr := parseInt(parts[0], &start); serr != nil {
		return 0, 0, errors.Validation("driver.local", "malformed range header")
	}
	if parts[1] == "" {
		return start, size - 1, nil
	}
	if _, serr := parseInt(parts[1], &end); serr != nil {
		return 0, 0, errors.Validation("driver.local", "malformed range header")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func parseInt(s string, out *int64) (int, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	*out = v
	return 1, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
