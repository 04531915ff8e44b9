// Package discord implements the DISCORD storage driver: a mount backed by a
// channel webhook, the same "Discord as cloud storage" pattern used by
// several community CDN-via-webhook tools (attachments instead of objects).
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func init() {
	driver.Register(types.StorageDiscord, New)
}

// Driver implements types.Driver atop a single Discord channel webhook.
// Discord's webhook API has no delete/list surface scoped to a webhook
// without a bot token, so this driver additionally requires a bot token for
// message management and keeps a process-local path index, the same
// limitation as the telegram driver.
type Driver struct {
	http       *resty.Client
	webhookURL string
	channelID  string

	mu    sync.RWMutex
	index map[string]indexEntry
}

type indexEntry struct {
	messageID  string
	attachment string // CDN URL
	size       int64
}

// New builds a Driver. Secrets carries bot_token and webhook_url; Extra
// carries channel_id (required for delete/list via the bot REST API).
func New(cfg types.StorageConfig) (types.Driver, error) {
	webhookURL := cfg.Secrets["webhook_url"]
	botToken := cfg.Secrets["bot_token"]
	channelID := cfg.Extra["channel_id"]
	if webhookURL == "" || botToken == "" || channelID == "" {
		return nil, errors.Validation("driver.discord", "secrets.webhook_url, secrets.bot_token and extra.channel_id are required")
	}
	client := resty.New().
		SetBaseURL("https://discord.com/api/v10").
		SetHeader("Authorization", "Bot "+botToken).
		SetTimeout(60 * time.Second)
	return &Driver{http: client, webhookURL: webhookURL, channelID: channelID, index: make(map[string]indexEntry)}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageDiscord }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter | types.CapDirectLink
}

func (d *Driver) lookup(subPath string) (indexEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.index[subPath]
	return e, ok
}

func (d *Driver) remember(subPath string, e indexEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.index[subPath] = e
}

func (d *Driver) forget(subPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.index, subPath)
}

func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := strings.TrimSuffix(subPath, "/")
	items := make([]types.ItemInfo, 0)
	for p, e := range d.index {
		if parentOf(p) != prefix {
			continue
		}
		size := e.size
		items = append(items, types.ItemInfo{
			Name:     lastSegment(p),
			IsDir:    false,
			Size:     &size,
			MimeType: driver.DetectContentType(p),
			Path:     p,
		})
	}
	return &types.ListResult{Path: subPath, Items: items}, nil
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.Stat(subPath, ctx)
}

func (d *Driver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	e, ok := d.lookup(subPath)
	if !ok {
		return nil, errors.NotFound("driver.discord", subPath+" is not known to this mount's index")
	}
	size := e.size
	return &types.FileInfo{
		Name:     lastSegment(subPath),
		IsDir:    false,
		Size:     &size,
		MimeType: driver.DetectContentType(subPath),
		Path:     subPath,
	}, nil
}

func (d *Driver) Exists(subPath string, ctx types.OpContext) (bool, error) {
	_, ok := d.lookup(subPath)
	return ok, nil
}

func (d *Driver) DownloadFile(subPath string, opCtx types.OpContext) (*types.StreamDescriptor, error) {
	e, ok := d.lookup(subPath)
	if !ok {
		return nil, errors.NotFound("driver.discord", subPath+" is not known to this mount's index")
	}
	size := e.size
	return &types.StreamDescriptor{
		Size:          &size,
		ContentType:   driver.DetectContentType(subPath),
		SupportsRange: true,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			resp, err := d.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(e.attachment)
			if err != nil {
				return nil, errors.DriverErr("driver.discord", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
		FetchRange: func(ctx context.Context, rangeHeader string) (io.ReadCloser, error) {
			resp, err := d.http.R().SetContext(ctx).SetHeader("Range", rangeHeader).SetDoNotParseResponse(true).Get(e.attachment)
			if err != nil {
				return nil, errors.DriverErr("driver.discord", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
	}, nil
}

type webhookMessage struct {
	ID          string `json:"id"`
	Attachments []struct {
		URL  string `json:"url"`
		Size int64  `json:"size"`
	} `json:"attachments"`
}

func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	name := lastSegment(subPath)
	resp, err := d.http.R().
		SetContext(toCtx(opCtx)).
		SetFileReader("file", name, body).
		SetQueryParam("wait", "true").
		Post(d.webhookURL)
	if err != nil {
		return nil, errors.DriverErr("driver.discord", "uploadFile", 0, err)
	}
	if resp.IsError() {
		return nil, errors.DriverErr("driver.discord", "uploadFile", resp.StatusCode(), fmt.Errorf("webhook error: %s", string(resp.Body())))
	}
	var msg webhookMessage
	if err := json.Unmarshal(resp.Body(), &msg); err != nil || len(msg.Attachments) == 0 {
		return nil, errors.Internal("driver.discord", "webhook response missing attachment", err)
	}
	d.remember(subPath, indexEntry{
		messageID:  msg.ID,
		attachment: msg.Attachments[0].URL,
		size:       msg.Attachments[0].Size,
	})
	return &types.UploadResult{StoragePath: subPath}, nil
}

// CreateDirectory is a no-op; the index tracks parentage by path prefix.
func (d *Driver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	e, ok := d.lookup(subPath)
	if !ok {
		return errors.NotFound("driver.discord", subPath+" is not known to this mount's index")
	}
	resp, err := d.http.R().SetContext(toCtx(opCtx)).Delete("/channels/" + d.channelID + "/messages/" + e.messageID)
	if err != nil {
		return errors.DriverErr("driver.discord", "remove", 0, err)
	}
	if resp.IsError() {
		return errors.DriverErr("driver.discord", "remove", resp.StatusCode(), fmt.Errorf("delete message failed: %s", string(resp.Body())))
	}
	d.forget(subPath)
	return nil
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	e, ok := d.lookup(oldSubPath)
	if !ok {
		return errors.NotFound("driver.discord", oldSubPath+" is not known to this mount's index")
	}
	d.remember(newSubPath, e)
	d.forget(oldSubPath)
	return nil
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
	return nil, errors.NotSupported("driver.discord", "webhook execution is a single multipart/form-data POST, not a parallel multipart upload")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.discord", "the webhook API has no multipart upload")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.discord", "the webhook API has no multipart upload")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.discord", "the webhook API has no multipart upload")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.discord", "the webhook API has no multipart upload")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	e, ok := d.lookup(subPath)
	if !ok {
		return "", errors.NotFound("driver.discord", subPath+" is not known to this mount's index")
	}
	return e.attachment, nil
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.discord", "the webhook API has no presigned client upload URL")
}

func (d *Driver) DiskUsage(ctx types.OpContext) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var total int64
	for _, e := range d.index {
		total += e.size
	}
	return total, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	resp, err := d.http.R().SetContext(ctx).Get("/channels/" + d.channelID)
	if err != nil {
		return errors.DriverErr("driver.discord", "healthCheck", 0, err)
	}
	if resp.IsError() {
		return errors.DriverErr("driver.discord", "healthCheck", resp.StatusCode(), fmt.Errorf("channel lookup failed: %s", string(resp.Body())))
	}
	return nil
}

func toCtx(opCtx types.OpContext) context.Context {
	if opCtx.Context != nil {
		return opCtx.Context
	}
	return context.Background()
}

func parentOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
