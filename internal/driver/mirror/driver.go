// Package mirror implements the MIRROR storage driver: a fan-out driver that
// writes every operation to N member drivers and reads from the first
// healthy one, the resolver-level redundancy pattern described for
// multi-backend mounts (§3 supplemented feature).
package mirror

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func init() {
	driver.Register(types.StorageMirror, New)
}

// Driver fans writes out to every member and reads from the first member
// that answers, in member order.
type Driver struct {
	members []types.Driver
}

// New builds a Driver. Extra["members_json"] is a JSON array of
// types.StorageConfig, one per mirrored back-end; each is built through the
// shared registry so a mirror member can itself be any registered driver
// type (including another mirror, though nesting mirrors is discouraged).
func New(cfg types.StorageConfig) (types.Driver, error) {
	raw := cfg.Extra["members_json"]
	if raw == "" {
		return nil, errors.Validation("driver.mirror", "extra.members_json is required and must list at least one member storage config")
	}
	var memberCfgs []types.StorageConfig
	if err := json.Unmarshal([]byte(raw), &memberCfgs); err != nil {
		return nil, errors.Validation("driver.mirror", "extra.members_json is not valid JSON: "+err.Error())
	}
	if len(memberCfgs) == 0 {
		return nil, errors.Validation("driver.mirror", "at least one mirror member is required")
	}

	members := make([]types.Driver, 0, len(memberCfgs))
	for _, mc := range memberCfgs {
		d, err := driver.Build(mc)
		if err != nil {
			return nil, errors.Internal("driver.mirror", "failed to build mirror member "+string(mc.Type), err)
		}
		members = append(members, d)
	}
	return &Driver{members: members}, nil
}

func (d *Driver) Type() types.StorageType { return types.StorageMirror }

// Capabilities is the intersection of every member's capabilities: the
// mirror can only promise an operation if every member can serve it,
// otherwise a write would silently diverge between members.
func (d *Driver) Capabilities() types.Capability {
	if len(d.members) == 0 {
		return 0
	}
	caps := d.members[0].Capabilities()
	for _, m := range d.members[1:] {
		caps &= m.Capabilities()
	}
	return caps
}

// primary is the first member, used for read operations and for any
// provider-identity metadata (ETag, provider upload IDs) that can't be
// meaningfully merged across members.
func (d *Driver) primary() types.Driver { return d.members[0] }

func (d *Driver) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	var lastErr error
	for _, m := range d.members {
		res, err := m.ListDirectory(subPath, ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Driver) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	var lastErr error
	for _, m := range d.members {
		info, err := m.GetFileInfo(subPath, ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Driver) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	var lastErr error
	for _, m := range d.members {
		stream, err := m.DownloadFile(subPath, ctx)
		if err == nil {
			return stream, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// UploadFile buffers the body once and replays it to every member in turn,
// since most driver transports consume their io.Reader.
func (d *Driver) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Internal("driver.mirror", "failed to buffer upload body", err)
	}

	var primaryResult *types.UploadResult
	var failures []string
	for i, m := range d.members {
		res, err := m.UploadFile(subPath, strings.NewReader(string(data)), ctx)
		if err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
			continue
		}
		if i == 0 {
			primaryResult = res
		}
	}
	if primaryResult == nil {
		return nil, errors.Internal("driver.mirror", "upload failed on all mirror members: "+strings.Join(failures, "; "), nil)
	}
	return primaryResult, nil
}

func (d *Driver) CreateDirectory(subPath string, ctx types.OpContext) error {
	var failures []string
	for _, m := range d.members {
		if err := m.CreateDirectory(subPath, ctx); err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
		}
	}
	if len(failures) == len(d.members) {
		return errors.Internal("driver.mirror", "createDirectory failed on all mirror members: "+strings.Join(failures, "; "), nil)
	}
	return nil
}

func (d *Driver) Remove(subPath string, ctx types.OpContext) error {
	var failures []string
	for _, m := range d.members {
		if err := m.Remove(subPath, ctx); err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
		}
	}
	if len(failures) == len(d.members) {
		return errors.Internal("driver.mirror", "remove failed on all mirror members: "+strings.Join(failures, "; "), nil)
	}
	return nil
}

func (d *Driver) Exists(subPath string, ctx types.OpContext) (bool, error) {
	return d.primary().Exists(subPath, ctx)
}

func (d *Driver) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	return d.GetFileInfo(subPath, ctx)
}

func (d *Driver) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	var failures []string
	for _, m := range d.members {
		if err := m.RenameItem(oldSubPath, newSubPath, ctx); err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
		}
	}
	if len(failures) == len(d.members) {
		return errors.Internal("driver.mirror", "renameItem failed on all mirror members: "+strings.Join(failures, "; "), nil)
	}
	return nil
}

func (d *Driver) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	var result *types.CopyResult
	var failures []string
	for i, m := range d.members {
		res, err := m.CopyItem(srcSubPath, dstSubPath, ctx)
		if err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
			continue
		}
		if i == 0 {
			result = res
		}
	}
	if result == nil {
		return nil, errors.Internal("driver.mirror", "copyItem failed on all mirror members: "+strings.Join(failures, "; "), nil)
	}
	return result, nil
}

func (d *Driver) InitiateMultipart(subPath, fileName string, fileSize, partSize int64, partCount int, ctx types.OpContext) (*types.MultipartInit, error) {
	return nil, errors.NotSupported("driver.mirror", "multipart upload is not coordinated across mirror members")
}

func (d *Driver) SignParts(subPath string, session *types.UploadSession, partNumbers []int, ctx types.OpContext) ([]types.PartURL, error) {
	return nil, errors.NotSupported("driver.mirror", "multipart upload is not coordinated across mirror members")
}

func (d *Driver) CompleteMultipart(subPath string, session *types.UploadSession, parts []types.UploadPart, ctx types.OpContext) (*types.UploadResult, error) {
	return nil, errors.NotSupported("driver.mirror", "multipart upload is not coordinated across mirror members")
}

func (d *Driver) AbortMultipart(subPath string, session *types.UploadSession, ctx types.OpContext) error {
	return errors.NotSupported("driver.mirror", "multipart upload is not coordinated across mirror members")
}

func (d *Driver) ListProviderParts(subPath string, session *types.UploadSession, ctx types.OpContext) ([]types.UploadPart, error) {
	return nil, errors.NotSupported("driver.mirror", "multipart upload is not coordinated across mirror members")
}

func (d *Driver) GenerateProxyURL(subPath string, ctx types.OpContext) (string, error) {
	return d.primary().GenerateProxyURL(subPath, ctx)
}

func (d *Driver) GenerateUploadURL(subPath string, ctx types.OpContext) (string, error) {
	return "", errors.NotSupported("driver.mirror", "a presigned upload URL would bypass the fan-out write")
}

func (d *Driver) DiskUsage(ctx types.OpContext) (int64, error) {
	return d.primary().DiskUsage(ctx)
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	var failures []string
	for _, m := range d.members {
		if err := m.HealthCheck(ctx); err != nil {
			failures = append(failures, string(m.Type())+": "+err.Error())
		}
	}
	if len(failures) == len(d.members) {
		return errors.Internal("driver.mirror", "all mirror members are unhealthy: "+strings.Join(failures, "; "), nil)
	}
	return nil
}
