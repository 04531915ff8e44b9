package types

import "time"

// StorageType enumerates the back-end kinds a Mount can bind to.
type StorageType string

const (
	StorageS3          StorageType = "S3"
	StorageWebDAV      StorageType = "WEBDAV"
	StorageOneDrive    StorageType = "ONEDRIVE"
	StorageGoogleDrive StorageType = "GOOGLE_DRIVE"
	StorageGitHub      StorageType = "GITHUB"
	StorageHuggingFace StorageType = "HUGGINGFACE"
	StorageTelegram    StorageType = "TELEGRAM"
	StorageDiscord     StorageType = "DISCORD"
	StorageLocal       StorageType = "LOCAL"
	StorageMirror      StorageType = "MIRROR"
)

// EncryptedPrefix marks secret fields that have already been encrypted so
// rolling keys can identify already-encrypted rows (§3, §6 "Persisted state").
const EncryptedPrefix = "encrypted:"

// StorageConfig is the persisted, typed configuration for one back-end.
type StorageConfig struct {
	ID          string            `json:"id"`
	Type        StorageType       `json:"type"`
	Name        string            `json:"name"`
	Secrets     map[string]string `json:"secrets"` // values are always "encrypted:..." at rest
	QuotaBytes  *int64            `json:"quotaBytes,omitempty"`
	RootPrefix  string            `json:"rootPrefix,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
	CreatedAtMs int64             `json:"createdAtMs"`
	UpdatedAtMs int64             `json:"updatedAtMs"`
}

// Mount binds a virtual path prefix to a StorageConfig.
type Mount struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	MountPath        string      `json:"mountPath"` // absolute, normalised, never trailing '/' except root
	StorageConfigID  string      `json:"storageConfigId"`
	StorageType      StorageType `json:"storageType"` // denormalised cache of StorageConfig.Type
	IsActive         bool        `json:"isActive"`
	CreatedBy        string      `json:"createdBy"`
	WebProxy         bool        `json:"webProxy"`
	RequireSignature bool        `json:"requireSignature"`
	CreatedAtMs      int64       `json:"createdAtMs"`
	UpdatedAtMs      int64       `json:"updatedAtMs"`
}

// PrincipalType enumerates the kinds of caller the core accepts.
type PrincipalType string

const (
	PrincipalAdmin  PrincipalType = "ADMIN"
	PrincipalAPIKey PrincipalType = "API_KEY"
	PrincipalAnon   PrincipalType = "ANON"
)

// Principal is the authenticated-caller record handed to the core by the
// (out-of-scope) auth layer.
type Principal struct {
	Type            PrincipalType `json:"type"`
	ID              string        `json:"id"`
	Permissions     []string      `json:"permissions"`
	AllowedBasePath string        `json:"allowedBasePath,omitempty"`
}

// IsAdmin reports whether the principal is unrestricted.
func (p Principal) IsAdmin() bool { return p.Type == PrincipalAdmin }

// HasPermission reports whether the principal carries the named permission.
// ADMIN principals always have every permission.
func (p Principal) HasPermission(perm string) bool {
	if p.IsAdmin() {
		return true
	}
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// UploadStrategy selects how multipart bytes flow from client to back-end (§4.3).
type UploadStrategy string

const (
	StrategyPerPartURL    UploadStrategy = "per_part_url"
	StrategySingleSession UploadStrategy = "single_session"
)

// PartVerificationPolicy controls how the orchestrator reconstructs the set
// of uploaded parts for a per_part_url session.
type PartVerificationPolicy string

const (
	PartPolicyServerCanList PartVerificationPolicy = "server_can_list"
	PartPolicyClientKeeps   PartVerificationPolicy = "client_keeps"
)

// UploadStatus is the terminal-or-not lifecycle state of an UploadSession (§4.3).
type UploadStatus string

const (
	UploadInitiated UploadStatus = "initiated"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadAborted   UploadStatus = "aborted"
	UploadError     UploadStatus = "error"
	UploadExpired   UploadStatus = "expired"
)

// IsTerminal reports whether the status cannot transition further (§8 "Session monotonicity").
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case UploadCompleted, UploadAborted, UploadError, UploadExpired:
		return true
	default:
		return false
	}
}

// UploadSession is the authoritative record of one multipart upload attempt.
type UploadSession struct {
	ID                string                 `json:"id"`
	Principal         Principal              `json:"principal"`
	StorageType       StorageType            `json:"storageType"`
	StorageConfigID   string                 `json:"storageConfigId"`
	MountID           string                 `json:"mountId"`
	FsPath            string                 `json:"fsPath"`
	FileName          string                 `json:"fileName"`
	FileSize          int64                  `json:"fileSize"`
	PartSize          int64                  `json:"partSize"`
	TotalParts        int                    `json:"totalParts"`
	BytesUploaded     int64                  `json:"bytesUploaded"`
	UploadedParts     int                    `json:"uploadedParts"`
	NextExpectedRange int64                  `json:"nextExpectedRange"`
	Strategy          UploadStrategy         `json:"strategy"`
	PartPolicy        PartVerificationPolicy `json:"partPolicy,omitempty"`
	ProviderUploadID  string                 `json:"providerUploadId,omitempty"`
	ProviderUploadURL string                 `json:"providerUploadUrl,omitempty"`
	ProviderMeta      map[string]string      `json:"providerMeta,omitempty"`
	Status            UploadStatus           `json:"status"`
	ExpiresAtMs       *int64                 `json:"expiresAt,omitempty"`
	CreatedAtMs       int64                  `json:"createdAt"`
	UpdatedAtMs       int64                  `json:"updatedAt"`
}

// UploadPartStatus is the lifecycle of a single UploadPart row.
type UploadPartStatus string

const (
	PartUploading UploadPartStatus = "uploading"
	PartUploaded  UploadPartStatus = "uploaded"
	PartError     UploadPartStatus = "error"
)

// UploadPart is one part ledger row for an UploadSession.
type UploadPart struct {
	UploadID       string           `json:"uploadId"`
	PartNo         int              `json:"partNo"`
	Size           int64            `json:"size"`
	ProviderPartID string           `json:"providerPartId,omitempty"`
	ProviderMeta   map[string]string `json:"providerMeta,omitempty"`
	ByteStart      int64            `json:"byteStart"`
	ByteEnd        int64            `json:"byteEnd"`
	Status         UploadPartStatus `json:"status"`
	UpdatedAtMs    int64            `json:"updatedAtMs"`
}

// VfsNodeType distinguishes files from directories in the virtual filesystem cache.
type VfsNodeType string

const (
	NodeDir  VfsNodeType = "dir"
	NodeFile VfsNodeType = "file"
)

// VfsNodeStatus marks soft-deleted nodes.
type VfsNodeStatus string

const (
	NodeActive  VfsNodeStatus = "active"
	NodeDeleted VfsNodeStatus = "deleted"
)

// VfsNode is a cached tree entry scoped to one storage config.
type VfsNode struct {
	ID          string        `json:"id"`
	OwnerType   string        `json:"ownerType"`
	OwnerID     string        `json:"ownerId"`
	ScopeType   string        `json:"scopeType"`
	ScopeID     string        `json:"scopeId"`
	ParentID    string        `json:"parentId"` // "" = root-child
	Name        string        `json:"name"`
	NodeType    VfsNodeType   `json:"nodeType"`
	Size        *int64        `json:"size,omitempty"`
	MimeType    string        `json:"mimeType,omitempty"`
	StorageType StorageType   `json:"storageType"`
	ContentRef  string        `json:"contentRef"` // opaque JSON
	Status      VfsNodeStatus `json:"status"`
	CreatedAtMs int64         `json:"createdAtMs"`
	UpdatedAtMs int64         `json:"updatedAtMs"`
}

// TaskStatus is the job engine's uniform state machine (§4.6).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final (§8 "Job terminality").
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskType enumerates the job handlers registered with the engine.
type TaskType string

const (
	TaskCopy                   TaskType = "copy"
	TaskFsIndexRebuild         TaskType = "fs_index_rebuild"
	TaskFsIndexApplyDirty      TaskType = "fs_index_apply_dirty"
	TaskCleanupUploadSessions  TaskType = "cleanup_upload_sessions"
	TaskRefreshStorageUsage    TaskType = "refresh_storage_usage_snapshots"
)

// Task is a persisted asynchronous job.
type Task struct {
	TaskID       string                 `json:"taskId"`
	TaskType     TaskType               `json:"taskType"`
	Status       TaskStatus             `json:"status"`
	Payload      map[string]interface{} `json:"payload"`
	Progress     TaskProgress           `json:"progress"`
	Stats        map[string]interface{} `json:"stats"`
	CreatedBy    Principal              `json:"createdBy"`
	CreatedAtMs  int64                  `json:"createdAt"`
	StartedAtMs  *int64                 `json:"startedAt,omitempty"`
	FinishedAtMs *int64                 `json:"finishedAt,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	TriggerType  string                 `json:"triggerType"` // "manual" | "scheduled"
	TriggerRef   string                 `json:"triggerRef,omitempty"`
}

// TaskProgress tracks coarse-grained job advancement.
type TaskProgress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// FsIndexEntryStatus is unused directly but kept for symmetry with dirty ops.
type FsIndexOp string

const (
	IndexOpUpsert FsIndexOp = "upsert"
	IndexOpDelete FsIndexOp = "delete"
)

// FsIndexEntry is one row of the derived search index (§4.7).
type FsIndexEntry struct {
	MountID     string  `json:"mountId"`
	FsPath      string  `json:"fsPath"`
	Name        string  `json:"name"`
	IsDir       bool    `json:"isDir"`
	Size        int64   `json:"size"`
	ModifiedMs  int64   `json:"modifiedMs"`
	MimeType    string  `json:"mimetype,omitempty"`
	IndexRunID  string  `json:"indexRunId"`
	UpdatedAtMs int64   `json:"updatedAtMs"`
}

// FsIndexStatus tracks per-mount index health.
type FsIndexStatus string

const (
	IndexNotReady FsIndexStatus = "not_ready"
	IndexIndexing FsIndexStatus = "indexing"
	IndexReady    FsIndexStatus = "ready"
	IndexError    FsIndexStatus = "error"
)

// FsIndexState is the single per-mount index-state row.
type FsIndexState struct {
	MountID       string        `json:"mountId"`
	Status        FsIndexStatus `json:"status"`
	LastIndexedMs *int64        `json:"lastIndexedMs,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
}

// FsIndexDirty is one pending-reconciliation row.
type FsIndexDirty struct {
	MountID     string    `json:"mountId"`
	FsPath      string    `json:"fsPath"`
	Op          FsIndexOp `json:"op"`
	CreatedAtMs int64     `json:"createdAtMs"`
	DedupeKey   string    `json:"dedupeKey"` // mountId:fsPath
}

// UsageSnapshot is a periodically refreshed per-storage-config usage reading (§4.8).
type UsageSnapshot struct {
	StorageConfigID string `json:"storageConfigId"`
	TotalBytes      *int64 `json:"totalBytes,omitempty"`
	UsedBytes       int64  `json:"usedBytes"`
	TakenAtMs       int64  `json:"takenAtMs"`
}

// ProxySignature is the parsed form of a signed-URL token (§4.5).
type ProxySignature struct {
	FsPath   string `json:"fsPath"`
	ExpireTs int64  `json:"expireTs"`
	Sig      string `json:"sig"`
}

// Options bundles the common per-operation flags that flow through every
// driver call instead of an ad-hoc option bag (§9 "Ad-hoc per-driver option bags").
type Options struct {
	Refresh         bool  `json:"refresh,omitempty"`
	SkipExisting    bool  `json:"skipExisting,omitempty"`
	BatchSize       int   `json:"batchSize,omitempty"`
	MaxDepth        int   `json:"maxDepth,omitempty"`
	MaxConcurrency  int   `json:"maxConcurrency,omitempty"`
	ForceDownload   bool  `json:"forceDownload,omitempty"`
	ExpiresInSec    int64 `json:"expiresInSec,omitempty"`
}

// ItemInfo mirrors one directory-listing entry (§4.2 "listDirectory").
type ItemInfo struct {
	Name        string `json:"name"`
	IsDir       bool   `json:"isDir"`
	Size        *int64 `json:"size,omitempty"`
	ModifiedMs  *int64 `json:"modified,omitempty"`
	MimeType    string `json:"mimetype,omitempty"`
	Path        string `json:"path"`
	ETag        string `json:"etag,omitempty"`
	StrongETag  bool   `json:"-"`
}

// FileInfo mirrors a single-item entry (§4.2 "getFileInfo").
type FileInfo = ItemInfo

// CopyResult is the outcome of one copyItem call (§4.2).
type CopyStatus string

const (
	CopySuccess CopyStatus = "success"
	CopySkipped CopyStatus = "skipped"
	CopyFailed  CopyStatus = "failed"
)

// CopyResult is the per-item result of a copyItem call.
type CopyResult struct {
	Status CopyStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// CacheStats reports cache performance (kept from the teacher's cache package).
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// HealthStatus reports the health of one component (kept from the teacher's health package).
type HealthStatus struct {
	Status     string            `json:"status"`
	LastCheck  time.Time         `json:"last_check"`
	Response   time.Duration     `json:"response_time"`
	ErrorCount int64             `json:"error_count"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details"`
}
