// Package upload implements the multipart upload orchestrator (§4.3): the
// initiated/uploading/completed|aborted|error state machine and its five
// contracts, wired to the storage-config quota guard, the path resolver and
// the cache/invalidation bus.
package upload

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/cloudpaste/cloudpaste/internal/cache"
	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/internal/quota"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// pollWindow bounds how long proxyChunk waits on a part already mid-flight
// from a concurrent request before giving up and forwarding anyway (§4.3
// "wait-and-poll up to a bounded window").
const pollWindow = 5 * time.Second

// InitResult is the outcome of Initialize: the persisted session plus the
// absolute URL the client should use next.
type InitResult struct {
	Session   types.UploadSession
	UploadURL string
}

// Orchestrator drives the multipart upload state machine described in §4.3.
type Orchestrator struct {
	db         *store.DB
	resolver   *resolver.Manager
	quota      *quota.Guard
	bus        *cache.Bus
	http       *resty.Client
	gatewayURL string
	now        func() int64
}

// New builds an Orchestrator. gatewayBaseURL is prepended to the
// single_session chunk endpoint to produce the absolute uploadUrl §4.3
// promises callers.
func New(db *store.DB, rs *resolver.Manager, qg *quota.Guard, bus *cache.Bus, gatewayBaseURL string) *Orchestrator {
	return &Orchestrator{
		db:         db,
		resolver:   rs,
		quota:      qg,
		bus:        bus,
		http:       resty.New().SetTimeout(60 * time.Second),
		gatewayURL: strings.TrimSuffix(gatewayBaseURL, "/"),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

func (o *Orchestrator) opCtx(ctx context.Context, mount *types.Mount, principal types.Principal) types.OpContext {
	return types.OpContext{Context: ctx, Mount: mount, Principal: principal}
}

// Initialize implements the `initialize` contract: validates the filename,
// admits the target path, pre-flights quota, asks the driver to start a
// provider-side multipart/resumable upload, and persists the session.
func (o *Orchestrator) Initialize(ctx context.Context, principal types.Principal, mount *types.Mount, dirSubPath, fileName string, fileSize, partSize int64, partCount int, partPolicy types.PartVerificationPolicy) (*InitResult, error) {
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	drv, err := o.resolver.Driver(ctx, mount)
	if err != nil {
		return nil, err
	}
	if err := driver.RequireCapability(drv, types.CapMultipart, "initialize multipart upload"); err != nil {
		return nil, err
	}

	cfg, err := o.db.StorageConfigs.Get(ctx, mount.StorageConfigID)
	if err != nil {
		return nil, err
	}
	if err := o.quota.Check(ctx, *cfg, 0, fileSize); err != nil {
		return nil, err
	}

	opCtx := o.opCtx(ctx, mount, principal)
	if err := admitParent(ctx, drv, mount.StorageType, dirSubPath, opCtx); err != nil {
		return nil, err
	}

	target := targetKey(dirSubPath, fileName)
	if partCount <= 0 {
		partCount = computePartCount(fileSize, partSize)
	}

	init, err := drv.InitiateMultipart(target, fileName, fileSize, partSize, partCount, opCtx)
	if err != nil {
		return nil, err
	}

	now := o.now()
	id := uuid.New().String()
	sess := types.UploadSession{
		ID:                id,
		Principal:         principal,
		StorageType:       mount.StorageType,
		StorageConfigID:   mount.StorageConfigID,
		MountID:           mount.ID,
		FsPath:            target,
		FileName:          fileName,
		FileSize:          fileSize,
		PartSize:          partSize,
		TotalParts:        partCount,
		ProviderUploadID:  init.ProviderUploadID,
		ProviderMeta:      init.ProviderMeta,
		Status:            types.UploadInitiated,
		CreatedAtMs:       now,
		UpdatedAtMs:       now,
	}

	uploadURL := ""
	if init.ProviderUploadURL != "" || init.ProviderMeta["providerSessionUrl"] != "" {
		sess.Strategy = types.StrategySingleSession
		if init.ProviderUploadURL != "" {
			if sess.ProviderMeta == nil {
				sess.ProviderMeta = map[string]string{}
			}
			sess.ProviderMeta["providerSessionUrl"] = init.ProviderUploadURL
		}
		uploadURL = o.gatewayURL + "/v1/uploads/" + id + "/chunk"
		sess.ProviderUploadURL = uploadURL
	} else {
		sess.Strategy = types.StrategyPerPartURL
		if partPolicy == "" {
			partPolicy = types.PartPolicyServerCanList
		}
		sess.PartPolicy = partPolicy
	}

	if err := o.db.Uploads.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &InitResult{Session: sess, UploadURL: uploadURL}, nil
}

// SignParts implements the `signParts` contract: advances status to
// uploading on first call, then returns driver-signed URLs (per_part_url) or
// echoes the session's chunk URL (single_session).
func (o *Orchestrator) SignParts(ctx context.Context, principal types.Principal, mount *types.Mount, uploadID string, partNumbers []int) ([]types.PartURL, error) {
	sess, err := o.loadOwned(ctx, principal, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, errors.Conflict("upload", "upload session "+uploadID+" is already "+string(sess.Status))
	}
	if sess.Status == types.UploadInitiated {
		if err := o.db.Uploads.TransitionStatus(ctx, uploadID, types.UploadInitiated, types.UploadUploading, o.now()); err != nil {
			return nil, err
		}
	}

	if sess.Strategy == types.StrategySingleSession {
		urls := make([]types.PartURL, 0, len(partNumbers))
		for _, n := range partNumbers {
			urls = append(urls, types.PartURL{PartNo: n, URL: sess.ProviderUploadURL})
		}
		return urls, nil
	}

	drv, err := o.resolver.Driver(ctx, mount)
	if err != nil {
		return nil, err
	}
	return drv.SignParts(sess.FsPath, sess, partNumbers, o.opCtx(ctx, mount, principal))
}

// ProxyChunk implements the `proxyChunk` contract (single_session only):
// parses the Content-Range, upserts the part ledger, forwards the bytes to
// the provider session, and reconciles bytesUploaded on success.
func (o *Orchestrator) ProxyChunk(ctx context.Context, principal types.Principal, mount *types.Mount, uploadID string, body io.Reader, contentRange string, contentLength int64) (skipped bool, err error) {
	sess, err := o.loadOwned(ctx, principal, uploadID)
	if err != nil {
		return false, err
	}
	if sess.Strategy != types.StrategySingleSession {
		return false, errors.NotSupported("upload", "proxyChunk only applies to single_session uploads")
	}
	if sess.Status.IsTerminal() {
		return false, errors.Conflict("upload", "upload session "+uploadID+" is already "+string(sess.Status))
	}

	start, end, _, err := parseContentRange(contentRange)
	if err != nil {
		return false, err
	}
	partNo := int(start/sess.PartSize) + 1

	if sess.BytesUploaded == 0 {
		cfg, err := o.db.StorageConfigs.Get(ctx, mount.StorageConfigID)
		if err != nil {
			return false, err
		}
		if err := o.quota.Check(ctx, *cfg, 0, sess.FileSize); err != nil {
			return false, err
		}
	}

	existing := findPart(ctx, o.db, uploadID, partNo)
	if existing != nil && existing.ByteStart == start && existing.ByteEnd == end {
		switch existing.Status {
		case types.PartUploaded:
			return true, nil
		case types.PartUploading:
			if waitForUploaded(ctx, o.db, uploadID, partNo, pollWindow) {
				return true, nil
			}
			// fell through the poll window: fall back to duplicating the forward
		}
	}

	now := o.now()
	if err := o.db.Uploads.UpsertPart(ctx, types.UploadPart{
		UploadID: uploadID, PartNo: partNo, Size: contentLength,
		ByteStart: start, ByteEnd: end, Status: types.PartUploading, UpdatedAtMs: now,
	}); err != nil {
		return false, err
	}

	sessionURL := sess.ProviderMeta["providerSessionUrl"]
	if sessionURL == "" {
		sessionURL = sess.ProviderUploadURL
	}
	resp, ferr := o.http.R().SetContext(ctx).
		SetHeader("Content-Range", contentRange).
		SetHeader("Content-Length", strconv.FormatInt(contentLength, 10)).
		SetBody(body).
		Put(sessionURL)

	status := types.PartUploaded
	providerPartID := ""
	statusCode := 0
	if ferr == nil {
		statusCode = resp.StatusCode()
	}
	if ferr != nil || (statusCode != 200 && statusCode != 201 && statusCode != 308) {
		status = types.PartError
	} else {
		providerPartID = resp.Header().Get("ETag")
	}

	if err := o.db.Uploads.UpsertPart(ctx, types.UploadPart{
		UploadID: uploadID, PartNo: partNo, Size: contentLength, ProviderPartID: providerPartID,
		ByteStart: start, ByteEnd: end, Status: status, UpdatedAtMs: o.now(),
	}); err != nil {
		return false, err
	}
	if status == types.PartError {
		return false, errors.DriverErr("upload", "proxyChunk", statusCode, ferr)
	}

	nextExpected := end + 1
	if err := o.db.Uploads.UpdateProgress(ctx, uploadID, contentLength, 1, nextExpected, o.now()); err != nil {
		return false, err
	}
	return false, nil
}

// ListParts implements the `listParts` contract, reconciling against the
// provider when the session's policy says the server is the source of
// truth, otherwise trusting the local ledger.
func (o *Orchestrator) ListParts(ctx context.Context, principal types.Principal, mount *types.Mount, uploadID string) ([]types.UploadPart, error) {
	sess, err := o.loadOwned(ctx, principal, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.Strategy == types.StrategyPerPartURL && sess.PartPolicy == types.PartPolicyServerCanList {
		drv, err := o.resolver.Driver(ctx, mount)
		if err != nil {
			return nil, err
		}
		return drv.ListProviderParts(sess.FsPath, sess, o.opCtx(ctx, mount, principal))
	}
	return o.db.Uploads.ListParts(ctx, uploadID)
}

// Complete implements the `complete` contract: re-checks quota, verifies
// part completeness, asks the driver to assemble the final object,
// transitions the session, and fans out cache/search invalidation.
func (o *Orchestrator) Complete(ctx context.Context, principal types.Principal, mount *types.Mount, uploadID string, clientParts []types.UploadPart) (*types.UploadResult, error) {
	sess, err := o.loadOwned(ctx, principal, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, errors.Conflict("upload", "upload session "+uploadID+" is already "+string(sess.Status))
	}

	cfg, err := o.db.StorageConfigs.Get(ctx, mount.StorageConfigID)
	if err != nil {
		return nil, err
	}
	if err := o.quota.Check(ctx, *cfg, 0, sess.FileSize); err != nil {
		return nil, err
	}

	parts := clientParts
	if sess.PartPolicy != types.PartPolicyClientKeeps {
		parts, err = o.db.Uploads.ListParts(ctx, uploadID)
		if err != nil {
			return nil, err
		}
	}
	if sess.Strategy == types.StrategySingleSession || sess.PartPolicy == types.PartPolicyServerCanList {
		if err := verifyAllPartsPresent(parts, sess.TotalParts); err != nil {
			return nil, err
		}
	}

	drv, err := o.resolver.Driver(ctx, mount)
	if err != nil {
		return nil, err
	}
	result, err := drv.CompleteMultipart(sess.FsPath, sess, parts, o.opCtx(ctx, mount, principal))
	if err != nil {
		return nil, err
	}

	now := o.now()
	if err := o.db.Uploads.TransitionStatus(ctx, uploadID, sess.Status, types.UploadCompleted, now); err != nil {
		return nil, err
	}
	if err := o.db.Uploads.DeleteParts(ctx, uploadID); err != nil {
		return nil, err
	}

	o.bus.Publish(cache.Invalidation{Scope: cache.ScopeListing, MountID: mount.ID})
	o.bus.Publish(cache.Invalidation{Scope: cache.ScopeSearch, MountID: mount.ID})
	_ = o.db.SearchIndex.MarkDirty(ctx, types.FsIndexDirty{
		MountID: mount.ID, FsPath: sess.FsPath, Op: types.IndexOpUpsert,
		CreatedAtMs: now, DedupeKey: mount.ID + ":" + sess.FsPath,
	})

	return result, nil
}

// Abort implements the `abort` contract: asks the driver to discard any
// provider-side partial object, transitions the session, and drops the part
// ledger.
func (o *Orchestrator) Abort(ctx context.Context, principal types.Principal, mount *types.Mount, uploadID string) error {
	sess, err := o.loadOwned(ctx, principal, uploadID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return errors.Conflict("upload", "upload session "+uploadID+" is already "+string(sess.Status))
	}

	drv, err := o.resolver.Driver(ctx, mount)
	if err != nil {
		return err
	}
	if err := drv.AbortMultipart(sess.FsPath, sess, o.opCtx(ctx, mount, principal)); err != nil {
		return err
	}

	if err := o.db.Uploads.TransitionStatus(ctx, uploadID, sess.Status, types.UploadAborted, o.now()); err != nil {
		return err
	}
	return o.db.Uploads.DeleteParts(ctx, uploadID)
}

func (o *Orchestrator) loadOwned(ctx context.Context, principal types.Principal, uploadID string) (*types.UploadSession, error) {
	sess, err := o.db.Uploads.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && (sess.Principal.Type != principal.Type || sess.Principal.ID != principal.ID) {
		return nil, errors.Forbidden("upload", "caller does not own upload session "+uploadID)
	}
	return sess, nil
}

func computePartCount(fileSize, partSize int64) int {
	if partSize <= 0 {
		return 1
	}
	n := fileSize / partSize
	if fileSize%partSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}

// parseContentRange parses "bytes start-end/total" (total may be "*").
func parseContentRange(cr string) (start, end, total int64, err error) {
	cr = strings.TrimPrefix(cr, "bytes ")
	dash := strings.IndexByte(cr, '-')
	slash := strings.IndexByte(cr, '/')
	if dash < 0 || slash < 0 || slash < dash {
		return 0, 0, 0, errors.Validation("upload", "malformed Content-Range: "+cr)
	}
	var serr, eerr error
	start, serr = strconv.ParseInt(cr[:dash], 10, 64)
	end, eerr = strconv.ParseInt(cr[dash+1:slash], 10, 64)
	if serr != nil || eerr != nil {
		return 0, 0, 0, errors.Validation("upload", "malformed Content-Range: "+cr)
	}
	totalStr := cr[slash+1:]
	if totalStr == "*" {
		total = -1
	} else if t, terr := strconv.ParseInt(totalStr, 10, 64); terr == nil {
		total = t
	}
	return start, end, total, nil
}

func verifyAllPartsPresent(parts []types.UploadPart, totalParts int) error {
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		if p.Status == types.PartUploaded {
			seen[p.PartNo] = true
		}
	}
	for i := 1; i <= totalParts; i++ {
		if !seen[i] {
			return errors.Validation("upload", fmt.Sprintf("part %d was never uploaded", i))
		}
	}
	return nil
}

func findPart(ctx context.Context, db *store.DB, uploadID string, partNo int) *types.UploadPart {
	parts, err := db.Uploads.ListParts(ctx, uploadID)
	if err != nil {
		return nil
	}
	for _, p := range parts {
		if p.PartNo == partNo {
			return &p
		}
	}
	return nil
}

// waitForUploaded polls the part ledger until the given part reaches
// uploaded or the window elapses (§4.3 idempotency "wait-and-poll").
func waitForUploaded(ctx context.Context, db *store.DB, uploadID string, partNo int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if p := findPart(ctx, db, uploadID, partNo); p != nil && p.Status == types.PartUploaded {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}
