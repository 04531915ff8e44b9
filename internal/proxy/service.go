package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Config tunes signature issuance/verification and HLS rewriting,
// mirroring internal/config's ProxyConfig (§4.5).
type Config struct {
	Secret        string
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
	RewriteHLS    bool
}

// Service serves mount content through the gateway for webProxy mounts,
// verifying signatures where required and rewriting HLS playlists.
type Service struct {
	resolver *resolver.Manager
	cfg      Config
	now      func() int64
}

// New constructs a Service over rs using cfg.
func New(rs *resolver.Manager, cfg Config) *Service {
	return &Service{
		resolver: rs,
		cfg:      cfg,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SignPath mints a signed-URL query string ("sign=...&ts=...") for fsPath,
// expiring expiry from now. An expiry that is not positive or exceeds
// cfg.MaxExpiry is replaced by cfg.DefaultExpiry.
func (s *Service) SignPath(fsPath string, expiry time.Duration) string {
	if expiry <= 0 || expiry > s.cfg.MaxExpiry {
		expiry = s.cfg.DefaultExpiry
	}
	expireTs := s.now() + expiry.Milliseconds()
	return signQuery(s.cfg.Secret, fsPath, expireTs)
}

func signQuery(secret, fsPath string, expireTs int64) string {
	tok := Sign(secret, fsPath, expireTs)
	return "sign=" + url.QueryEscape(tok) + "&ts=" + strconv.FormatInt(expireTs, 10)
}

// ServeHTTP handles one GET /p/<mount-path>/<sub> request (§4.5). pathPrefix
// is the mount-router prefix (e.g. "/p"), which ServeHTTP trims from
// r.URL.Path; what follows it must be the full virtual fs path.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request, pathPrefix string, principal types.Principal) {
	ctx := r.Context()
	reqID := uuid.New().String()
	rawPath := strings.TrimPrefix(r.URL.Path, pathPrefix)
	if rawPath == "" {
		rawPath = "/"
	}
	query := r.URL.Query()
	download := query.Get("download") != ""
	sigToken := query.Get("sign")

	deny := func(mountID string, sigRequired bool, err error) {
		s.audit(reqID, rawPath, mountID, sigRequired, sigToken != "", err.Error())
		status := errors.GetDefaultHTTPStatus(errors.Code(err))
		http.Error(w, err.Error(), status)
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		deny("", false, errors.Validation("proxy", "method not allowed"))
		return
	}

	resolved, err := s.resolver.Resolve(ctx, rawPath, false, principal)
	if err != nil {
		deny("", false, err)
		return
	}
	if resolved.VirtualRoot || resolved.Mount == nil {
		deny("", false, errors.NotFound("proxy", "no mount at this path"))
		return
	}
	mount := resolved.Mount

	if !mount.WebProxy {
		deny(mount.ID, false, errors.NotFound("proxy", "mount is not proxy-enabled"))
		return
	}

	var expireTs int64
	if mount.RequireSignature {
		pathTokens := ParsePathTokens(r.Header.Get("X-FS-Path-Token"), r.Header.Get("X-FS-Path-Tokens"))
		switch {
		case sigToken != "":
			if verr := Verify(s.cfg.Secret, rawPath, sigToken, s.now()); verr != nil {
				deny(mount.ID, true, verr)
				return
			}
			expireTs, _ = ExpireTsOf(sigToken)
		case len(pathTokens) > 0:
			if verr := VerifyPathToken(s.cfg.Secret, rawPath, pathTokens); verr != nil {
				deny(mount.ID, true, verr)
				return
			}
			expireTs = s.now() + s.cfg.DefaultExpiry.Milliseconds()
		default:
			deny(mount.ID, true, errors.Forbidden("proxy", "signature required"))
			return
		}
	} else {
		expireTs = s.now() + s.cfg.DefaultExpiry.Milliseconds()
	}

	drv, err := s.resolver.Driver(ctx, mount)
	if err != nil {
		deny(mount.ID, mount.RequireSignature, err)
		return
	}

	opCtx := types.OpContext{
		Context:   ctx,
		Mount:     mount,
		Principal: principal,
		RequestID: reqID,
		Options:   types.Options{ForceDownload: download},
	}
	desc, err := drv.DownloadFile(resolved.SubPath, opCtx)
	if err != nil {
		deny(mount.ID, mount.RequireSignature, err)
		return
	}

	s.audit(reqID, rawPath, mount.ID, mount.RequireSignature, sigToken != "", "")

	if desc.ETag != "" && r.Header.Get("If-None-Match") == desc.ETag {
		w.Header().Set("ETag", desc.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	contentType := desc.ContentType
	if contentType == "" {
		contentType = driver.DetectContentType(resolved.SubPath)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("Vary", "Authorization, X-FS-Path-Token")
	if desc.ETag != "" {
		w.Header().Set("ETag", desc.ETag)
	}
	if desc.SupportsRange {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if download {
		w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(resolved.SubPath)+`"`)
	}

	if r.Method == http.MethodHead {
		if desc.Size != nil {
			w.Header().Set("Content-Length", strconv.FormatInt(*desc.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	isRange := rangeHeader != "" && desc.SupportsRange && desc.FetchRange != nil

	isPlaylist := s.cfg.RewriteHLS && !download && !isRange &&
		strings.HasSuffix(strings.ToLower(resolved.SubPath), ".m3u8")

	switch {
	case isPlaylist:
		s.servePlaylist(ctx, w, desc, rawPath, expireTs)
	case isRange:
		s.serveRange(ctx, w, desc, rangeHeader)
	default:
		s.serveFull(ctx, w, desc)
	}
}

func (s *Service) serveFull(ctx context.Context, w http.ResponseWriter, desc *types.StreamDescriptor) {
	body, err := desc.Fetch(ctx)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer body.Close()

	if desc.Size != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(*desc.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func (s *Service) serveRange(ctx context.Context, w http.ResponseWriter, desc *types.StreamDescriptor, rangeHeader string) {
	if desc.Size == nil {
		s.serveFull(ctx, w, desc)
		return
	}
	start, end, err := parseByteRange(rangeHeader, *desc.Size)
	if err != nil {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(*desc.Size, 10))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	body, err := desc.FetchRange(ctx, "bytes="+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10))
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(*desc.Size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	io.Copy(w, body)
}

func (s *Service) servePlaylist(ctx context.Context, w http.ResponseWriter, desc *types.StreamDescriptor, rawPath string, expireTs int64) {
	body, err := desc.Fetch(ctx)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	dir := path.Dir(rawPath)
	rewritten := RewritePlaylist(raw, dir, func(fsPath string) string {
		return signQuery(s.cfg.Secret, fsPath, expireTs)
	})

	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(http.StatusOK)
	w.Write(rewritten)
}

func (s *Service) audit(reqID, path, mountID string, sigRequired, sigProvided bool, reason string) {
	decision := DecisionAllow
	if reason != "" {
		decision = DecisionDeny
	}
	logAudit(AuditRecord{
		ReqID:             reqID,
		Path:              path,
		Decision:          decision,
		Reason:            reason,
		SignatureRequired: sigRequired,
		SignatureProvided: sigProvided,
		MountID:           mountID,
		Ts:                s.now(),
	})
}
