// Package schedule recurrently enqueues the job engine's background task
// types (§4.6 fs_index_rebuild, fs_index_apply_dirty, cleanup_upload_sessions,
// refresh_storage_usage_snapshots) on cron-like schedules, so an operator
// never has to trigger routine maintenance by hand.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/logging"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Entry binds one task type to a cron expression and the payload it should
// run with. For the two fs_index task types, fire sets the payload's
// "mountIds" to every active mount at fire time (replacing any value given
// in Payload) and enqueues nothing when there is none; the other two task
// types get Payload as it is.
type Entry struct {
	TaskType types.TaskType `yaml:"taskType"`
	CronExpr string         `yaml:"cronExpr"`
	Enabled  bool           `yaml:"enabled"`
	Payload  map[string]interface{} `yaml:"payload"`
}

// Config is the scheduler's yaml-configurable entry set, following the
// teacher's MonitorConfig shape (plain struct, yaml tags, one Enabled flag
// per concern).
type Config struct {
	Entries []Entry `yaml:"entries"`
}

// DefaultConfig returns the spec's baseline cadence: index maintenance
// runs often since it's cheap and keyset-cursor friendly when dirty, usage
// snapshots and session cleanup run a few times a day.
func DefaultConfig() Config {
	return Config{Entries: []Entry{
		{TaskType: types.TaskFsIndexApplyDirty, CronExpr: "*/5 * * * *", Enabled: true},
		{TaskType: types.TaskFsIndexRebuild, CronExpr: "0 3 * * *", Enabled: true},
		{TaskType: types.TaskCleanupUploadSessions, CronExpr: "0 * * * *", Enabled: true,
			Payload: map[string]interface{}{"activeGraceHours": 24, "keepDays": 30}},
		{TaskType: types.TaskRefreshStorageUsage, CronExpr: "0 */6 * * *", Enabled: true},
	}}
}

// Runner owns a cron.Cron instance and enqueues Task rows through db.Tasks
// when an entry fires. It never runs handlers itself; job.Engine's own
// poll loop claims and executes whatever lands in the table.
type Runner struct {
	db  *store.DB
	cr  *cron.Cron
	now func() int64
}

// New builds a Runner over db. now defaults to time.Now().UnixMilli when nil.
func New(db *store.DB, now func() int64) *Runner {
	if now == nil {
		now = defaultNow
	}
	return &Runner{db: db, cr: cron.New(), now: now}
}

// Start registers every enabled entry and starts the cron scheduler in the
// background. Call Stop to drain in-flight cron invocations on shutdown.
func (r *Runner) Start(cfg Config) error {
	logger := logging.WithComponent("schedule")
	for _, e := range cfg.Entries {
		if !e.Enabled {
			continue
		}
		entry := e
		if _, err := r.cr.AddFunc(entry.CronExpr, func() { r.fire(entry) }); err != nil {
			return err
		}
		logger.Info().Str("taskType", string(entry.TaskType)).Str("cron", entry.CronExpr).Msg("registered scheduled task")
	}
	r.cr.Start()
	return nil
}

// Stop blocks until any cron invocation in progress finishes, then stops
// the scheduler from firing further entries.
func (r *Runner) Stop() {
	<-r.cr.Stop().Done()
}

func (r *Runner) fire(e Entry) {
	logger := logging.WithComponent("schedule")
	ctx := context.Background()

	payload := clonePayload(e.Payload)
	if e.TaskType == types.TaskFsIndexRebuild || e.TaskType == types.TaskFsIndexApplyDirty {
		mountIDs, err := r.activeMountIDs(ctx)
		if err != nil {
			logger.Error().Err(err).Str("taskType", string(e.TaskType)).Msg("failed to list mounts for scheduled task")
			return
		}
		if len(mountIDs) == 0 {
			return
		}
		payload["mountIds"] = mountIDs
	}

	task := types.Task{
		TaskID:      uuid.New().String(),
		TaskType:    e.TaskType,
		Status:      types.TaskPending,
		Payload:     payload,
		CreatedBy:   types.Principal{Type: types.PrincipalAdmin},
		CreatedAtMs: r.now(),
		TriggerType: "scheduled",
		TriggerRef:  e.CronExpr,
	}
	if err := r.db.Tasks.Create(ctx, task); err != nil {
		logger.Error().Err(err).Str("taskType", string(e.TaskType)).Msg("failed to enqueue scheduled task")
		return
	}
	logger.Info().Str("taskId", task.TaskID).Str("taskType", string(e.TaskType)).Msg("enqueued scheduled task")
}

func (r *Runner) activeMountIDs(ctx context.Context) ([]string, error) {
	mounts, err := r.db.Mounts.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(mounts))
	for _, m := range mounts {
		if m.IsActive {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func defaultNow() int64 { return time.Now().UnixMilli() }
