// Package telegram implements the TELEGRAM storage driver: a mount backed by
// a Telegram Bot API chat, using sendDocument/getFile as an ad hoc
// object store the way community "Telegram as cloud storage" tools do.
package telegram

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
	driver.Register(types.StorageTelegram, New)
}

// Driver implements types.Driver atop a single Telegram chat. Telegram has no
// directory model, so the driver keeps an in-memory path -> fileID index
// seeded lazily; files are addressed by virtual path but stored as flat
// messages in the chat.
type Driver struct {
	http   *resty.Client
	token  string
	chatID string

	mu    sync.RWMutex
	index map[string]indexEntry // virtual path -> entry
}

type indexEntry struct {
	messageID int
	fileID    string
	fileName  string
	size      int64
}

// New builds a Driver. Secrets carries bot_token; Extra carries chat_id.
func New(cfg types.StorageConfig) (types.Driver, error) {
	token := cfg.Secrets["bot_token"]
	chatID := cfg.Extra["chat_id"]
	if token == "" || chatID == "" {
		return nil, errors.Validation("driver.telegram", "secrets.bot_token and extra.chat_id are required")
	}
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot"+token).
		SetTimeout(60 * time.Second)
	return &Driver{http: client, token: token, chatID: chatID, index: make(map[string]indexEntry)}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageTelegram }

func (d *Driver) Capabilities() types.Capability {
	return types.CapReader | types.CapWriter
}

type tgResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type tgMessage struct {
	MessageID int `json:"message_id"`
	Document  *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
	} `json:"document"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

func (d *Driver) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	req := d.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post("/" + method)
	if err != nil {
		return errors.DriverErr("driver.telegram", method, 0, err)
	}
	var tg tgResponse
	if err := json.Unmarshal(resp.Body(), &tg); err != nil {
		return errors.Internal("driver.telegram", "failed to parse bot API response", err)
	}
	if !tg.OK {
		return errors.DriverErr("driver.telegram", method, resp.StatusCode(), fmt.Errorf("bot API error: %s", tg.Description))
	}
	if out != nil {
		return json.Unmarshal(tg.Result, out)
	}
	return nil
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

// ListDirectory returns only entries the driver has already indexed in this
// process; Telegram exposes no chat history listing API for bots.
func (d *Driver) ListDirectory(subPath string, opCtx types.OpContext) (*types.ListResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := strings.TrimSuffix(subPath, "/")
	items := make([]types.ItemInfo, 0)
	for p, e := range d.index {
		dir := parentOf(p)
		if dir != prefix {
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
		return nil, errors.NotFound("driver.telegram", subPath+" is not known to this mount's index")
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
		return nil, errors.NotFound("driver.telegram", subPath+" is not known to this mount's index")
	}
	size := e.size
	return &types.StreamDescriptor{
		Size:        &size,
		ContentType: driver.DetectContentType(subPath),
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			var file tgFile
			if err := d.call(ctx, "getFile", map[string]string{"file_id": e.fileID}, &file); err != nil {
				return nil, err
			}
			fileURL := "https://api.telegram.org/file/bot" + d.token + "/" + file.FilePath
			resp, err := d.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(fileURL)
			if err != nil {
				return nil, errors.DriverErr("driver.telegram", "downloadFile", 0, err)
			}
			return resp.RawBody(), nil
		},
	}, nil
}

func (d *Driver) UploadFile(subPath string, body io.Reader, opCtx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.telegram", "failed to buffer upload body", err)
	}
	name := lastSegment(subPath)

	resp, err := d.http.R().
		SetContext(toCtx(opCtx)).
		SetFormData(map[string]string{"chat_id": d.chatID}).
		SetFileReader("document", name, strings.NewReader(string(data))).
		Post("/sendDocument")
	if err != nil {
		return nil, errors.DriverErr("driver.telegram", "uploadFile", 0, err)
	}
	var tg tgResponse
	if err := json.Unmarshal(resp.Body(), &tg); err != nil {
		return nil, errors.Internal("driver.telegram", "failed to parse sendDocument response", err)
	}
	if !tg.OK {
		return nil, errors.DriverErr("driver.telegram", "uploadFile", resp.StatusCode(), fmt.Errorf("bot API error: %s", tg.Description))
	}
	var msg tgMessage
	if err := json.Unmarshal(tg.Result, &msg); err != nil || msg.Document == nil {
		return nil, errors.Internal("driver.telegram", "sendDocument response missing document", err)
	}

	d.remember(subPath, indexEntry{
		messageID: msg.MessageID,
		fileID:    msg.Document.FileID,
		fileName:  msg.Document.FileName,
		size:      msg.Document.FileSize,
	})
	return &types.UploadResult{StoragePath: subPath}, nil
}

// CreateDirectory is a no-op: the in-memory index tracks parentage by path
// prefix, there is no separate directory object to create.
func (d *Driver) CreateDirectory(subPath string, ctx types.OpContext) error { return nil }

func (d *Driver) Remove(subPath string, opCtx types.OpContext) error {
	e, ok := d.lookup(subPath)
	if !ok {
		return errors.NotFound("driver.telegram", subPath+" is not known to this mount's index")
	}
	err := d.call(toCtx(opCtx), "deleteMessage", map[string]interface{}{
		"chat_id":    d.chatID,
		"message_id": e.messageID,
	}, nil)
	if err != nil {
		return err
	}
	d.forget(subPath)
	return nil
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	e, ok := d.lookup(oldSubPath)
	if !ok {
		return errors.NotFound("driver.telegram", oldSubPath+" is not known to this mount's index")
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
	return nil, errors.NotSupported("driver.telegram", "the Bot API sendDocument call is not a multipart upload")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.telegram", "the Bot API has no multipart upload")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.telegram", "the Bot API has no multipart upload")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.telegram", "the Bot API has no multipart upload")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.telegram", "the Bot API has no multipart upload")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.telegram", "file links require a bot-token-scoped getFile call, not a stable public URL")
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.telegram", "the Bot API has no presigned client upload URL")
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
	return d.call(ctx, "getMe", nil, nil)
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
