package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const maxListLimit = 100

// Service implements the job engine's public contracts (§4.6): createJob,
// getJobStatus, cancelJob, listJobs, deleteJob. Ownership scoping mirrors
// internal/upload.Orchestrator.loadOwned - ADMIN sees and acts on every
// job, every other principal only its own.
type Service struct {
	db  *store.DB
	now func() int64
}

// NewService constructs a Service over db.
func NewService(db *store.DB) *Service {
	return &Service{db: db, now: func() int64 { return time.Now().UnixMilli() }}
}

// CreateMeta carries createJob's optional trigger metadata; TriggerType
// defaults to "manual" when empty.
type CreateMeta struct {
	TriggerType string
	TriggerRef  string
}

// CreateJob enqueues a pending task for a background dispatcher to claim;
// it never runs the handler inline (§4.6 "enqueues the job and returns
// immediately").
func (s *Service) CreateJob(ctx context.Context, taskType types.TaskType, payload map[string]interface{}, principal types.Principal, meta CreateMeta) (*types.Task, error) {
	triggerType := meta.TriggerType
	if triggerType == "" {
		triggerType = "manual"
	}
	task := types.Task{
		TaskID:      uuid.New().String(),
		TaskType:    taskType,
		Status:      types.TaskPending,
		Payload:     payload,
		CreatedBy:   principal,
		CreatedAtMs: s.now(),
		TriggerType: triggerType,
		TriggerRef:  meta.TriggerRef,
	}
	if err := s.db.Tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return &task, nil
}

// AllowedActions reports which cancelJob-style mutations are currently
// valid for a job, computed from its status rather than stored.
type AllowedActions struct {
	CanCancel bool `json:"canCancel"`
}

// JobStatus is getJobStatus's return shape (§4.6).
type JobStatus struct {
	JobID          string                 `json:"jobId"`
	TaskType       types.TaskType         `json:"taskType"`
	Status         types.TaskStatus       `json:"status"`
	Payload        map[string]interface{} `json:"payload"`
	Progress       types.TaskProgress     `json:"progress"`
	Stats          map[string]interface{} `json:"stats"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	AllowedActions AllowedActions         `json:"allowedActions"`
}

// GetJobStatus returns jobID's status, scoped to principal: non-owners are
// refused with FORBIDDEN, ADMIN sees every job (§4.6).
func (s *Service) GetJobStatus(ctx context.Context, jobID string, principal types.Principal) (*JobStatus, error) {
	task, err := s.loadOwned(ctx, jobID, principal)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		JobID:        task.TaskID,
		TaskType:     task.TaskType,
		Status:       task.Status,
		Payload:      task.Payload,
		Progress:     task.Progress,
		Stats:        task.Stats,
		ErrorMessage: task.ErrorMessage,
		AllowedActions: AllowedActions{
			CanCancel: !task.Status.IsTerminal(),
		},
	}, nil
}

// CancelJob requests cooperative cancellation of jobID. Valid only while
// the job is pending or running; calling it again after the job reaches a
// terminal state (including a terminal state this same cancellation just
// caused) is a no-op that fails CONFLICT (§8 "Job terminality").
func (s *Service) CancelJob(ctx context.Context, jobID string, principal types.Principal) error {
	task, err := s.loadOwned(ctx, jobID, principal)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return errors.Conflict("job", "job "+jobID+" already reached a terminal state")
	}
	ok, err := s.db.Tasks.Cancel(ctx, jobID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflict("job", "job "+jobID+" already reached a terminal state")
	}
	return nil
}

// ListFilter is listJobs's caller-supplied filter (§4.6); TaskType and
// Status narrow the query when set, Limit/Offset are clamped to the
// spec's bounds (limit ≤ 100, offset ≥ 0) rather than rejected.
type ListFilter struct {
	TaskType types.TaskType
	Status   types.TaskStatus
	Limit    int
	Offset   int
}

// ListJobs returns jobs matching filter, newest first. Non-admin
// principals only ever see their own jobs; ADMIN sees everyone's (§4.6).
func (s *Service) ListJobs(ctx context.Context, filter ListFilter, principal types.Principal) ([]types.Task, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	f := store.TaskListFilter{
		TaskType: filter.TaskType,
		Status:   filter.Status,
		Limit:    limit,
		Offset:   offset,
	}
	if !principal.IsAdmin() {
		f.PrincipalType = principal.Type
		f.PrincipalID = principal.ID
	}
	return s.db.Tasks.List(ctx, f)
}

// DeleteJob removes jobID's row, permitted only once it has reached a
// terminal state (§4.6).
func (s *Service) DeleteJob(ctx context.Context, jobID string, principal types.Principal) error {
	task, err := s.loadOwned(ctx, jobID, principal)
	if err != nil {
		return err
	}
	if !task.Status.IsTerminal() {
		return errors.Conflict("job", "job "+jobID+" must reach a terminal state before it can be deleted")
	}
	return s.db.Tasks.Delete(ctx, jobID)
}

// loadOwned fetches jobID and enforces that principal is either its
// creator or ADMIN, the same ownership check
// internal/upload.Orchestrator.loadOwned applies to upload sessions.
func (s *Service) loadOwned(ctx context.Context, jobID string, principal types.Principal) (*types.Task, error) {
	task, err := s.db.Tasks.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && (task.CreatedBy.Type != principal.Type || task.CreatedBy.ID != principal.ID) {
		return nil, errors.Forbidden("job", "caller does not own job "+jobID)
	}
	return task, nil
}
