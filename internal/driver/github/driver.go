// Package github implements the GITHUB storage driver: files in a mount are
// paths inside one repository branch, read and written through the
// Contents API via google/go-github.
package github

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	gogithub "github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func init() {
	driver.Register(types.StorageGitHub, New)
}

// Driver implements types.Driver over one repository branch's Contents API.
type Driver struct {
	client *gogithub.Client
	owner  string
	repo   string
	branch string
	root   string
}

// New builds a Driver. Secrets carries token; Extra carries owner/repo/branch.
func New(cfg types.StorageConfig) (types.Driver, error) {
	token := cfg.Secrets["token"]
	owner := cfg.Extra["owner"]
	repo := cfg.Extra["repo"]
	if token == "" || owner == "" || repo == "" {
		return nil, errors.Validation("driver.github", "token secret and extra.owner/extra.repo are required")
	}
	branch := cfg.Extra["branch"]
	if branch == "" {
		branch = "main"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	client := gogithub.NewClient(httpClient)

	return &Driver{client: client, owner: owner, repo: repo, branch: branch, root: strings.Trim(cfg.RootPrefix, "/")}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageGitHub }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapDirectLink
}

func (d *Driver) repoPath(subPath string) string {
	return strings.Trim(d.root+"/"+strings.TrimPrefix(subPath, "/"), "/")
}

func (d *Driver) translateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if rerr, ok := err.(*gogithub.ErrorResponse); ok {
		return errors.DriverErr("driver.github", op, rerr.Response.StatusCode, err)
	}
	return errors.DriverErr("driver.github", op, 0, err)
}

func (d *Driver) opts() *gogithub.RepositoryContentGetOptions {
	return &gogithub.RepositoryContentGetOptions{Ref: d.branch}
}

func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	_, dirContents, resp, err := d.client.Repositories.GetContents(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), d.opts())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.NotFound("driver.github", subPath+" does not exist")
		}
		return nil, d.translateErr("listDirectory", err)
	}

	items := make([]types.ItemInfo, 0, len(dirContents))
	for _, c := range dirContents {
		isDir := c.GetType() == "dir"
		item := types.ItemInfo{
			Name:  c.GetName(),
			IsDir: isDir,
			Path:  joinVirtual(subPath, c.GetName()),
			ETag:  c.GetSHA(),
		}
		if !isDir {
			size := int64(c.GetSize())
			item.Size = &size
			item.MimeType = driver.DetectContentType(c.GetName())
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
	fileContent, _, resp, err := d.client.Repositories.GetContents(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), d.opts())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.NotFound("driver.github", subPath+" does not exist")
		}
		return nil, d.translateErr("stat", err)
	}
	if fileContent == nil {
		return nil, errors.Validation("driver.github", subPath+" is a directory")
	}
	size := int64(fileContent.GetSize())
	item := types.ItemInfo{
		Name:     lastSegment(subPath),
		IsDir:    false,
		Size:     &size,
		MimeType: driver.DetectContentType(subPath),
		Path:     subPath,
		ETag:     fileContent.GetSHA(),
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
	fileContent, _, resp, err := d.client.Repositories.GetContents(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), d.opts())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.NotFound("driver.github", subPath+" does not exist")
		}
		return nil, d.translateErr("downloadFile", err)
	}
	if fileContent == nil {
		return nil, errors.Validation("driver.github", subPath+" is a directory")
	}
	size := int64(fileContent.GetSize())
	return &types.StreamDescriptor{
		Size:        &size,
		ContentType: driver.DetectContentType(subPath),
		ETag:        fileContent.GetSHA(),
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			content, err := fileContent.GetContent()
			if err != nil {
				return nil, errors.Internal("driver.github", "failed to decode file content", err)
			}
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}, nil
}

func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.github", "failed to buffer upload body", err)
	}

	var sha *string
	existing, _, resp, err := d.client.Repositories.GetContents(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), d.opts())
	if err == nil && existing != nil {
		sha = existing.SHA
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		return nil, d.translateErr("uploadFile", err)
	}

	_, _, err = d.client.Repositories.CreateFile(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), &gogithub.RepositoryContentFileOptions{
		Message: gogithub.String("cloudpaste: write " + subPath),
		Content: data,
		Branch:  gogithub.String(d.branch),
		SHA:     sha,
	})
	if err != nil {
		return nil, d.translateErr("uploadFile", err)
	}
	return &types.UploadResult{StoragePath: subPath}, nil
}

func (d *Driver) CreateDirectory(subPath string, opCtx types.OpContext) error {
	// Git has no empty-tree concept; write a .gitkeep marker like most
	// GitHub-as-storage tooling does.
	_, err := d.UploadFile(strings.TrimSuffix(subPath, "/")+"/.gitkeep", strings.NewReader(""), opCtx)
	return err
}

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	existing, _, _, err := d.client.Repositories.GetContents(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), d.opts())
	if err != nil {
		return d.translateErr("remove", err)
	}
	if existing == nil {
		return errors.Validation("driver.github", "directory removal is not supported; remove individual files")
	}
	_, _, err = d.client.Repositories.DeleteFile(toCtx(opCtx), d.owner, d.repo, d.repoPath(subPath), &gogithub.RepositoryContentFileOptions{
		Message: gogithub.String("cloudpaste: remove " + subPath),
		SHA:     existing.SHA,
		Branch:  gogithub.String(d.branch),
	})
	if err != nil {
		return d.translateErr("remove", err)
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
	return nil, errors.NotSupported("driver.github", "the Contents API has no multipart upload; files must fit in one commit blob")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.github", "the Contents API has no multipart upload")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.github", "the Contents API has no multipart upload")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.github", "the Contents API has no multipart upload")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.github", "the Contents API has no multipart upload")
}

func (d *Driver) GenerateProxyURL(subPath string, opCtx types.OpContext) (string, error) {
	return "https://raw.githubusercontent.com/" + d.owner + "/" + d.repo + "/" + d.branch + "/" + d.repoPath(subPath), nil
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.github", "the Contents API has no presigned upload URL")
}

func (d *Driver) DiskUsage(opCtx types.OpContext) (int64, error) {
	return 0, errors.NotSupported("driver.github", "GitHub does not report repository storage usage per byte")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	_, _, err := d.client.Repositories.Get(ctx, d.owner, d.repo)
	if err != nil {
		return d.translateErr("healthCheck", err)
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
