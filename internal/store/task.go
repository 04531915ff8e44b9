package store

import (
	"context"
	"database/sql"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// TaskRepo persists the generic job engine's Task rows (§4.6).
type TaskRepo struct{ db *DB }

func (r *TaskRepo) Create(ctx context.Context, t types.Task) error {
	payload, err := toJSON(t.Payload)
	if err != nil {
		return err
	}
	stats, err := toJSON(t.Stats)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO tasks (task_id, task_type, status, payload, progress_total, progress_processed,
			progress_failed, progress_skipped, stats, created_by_type, created_by_id, created_at_ms,
			started_at_ms, finished_at_ms, error_message, trigger_type, trigger_ref)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.TaskID, t.TaskType, t.Status, payload, t.Progress.Total, t.Progress.Processed,
		t.Progress.Failed, t.Progress.Skipped, stats, t.CreatedBy.Type, t.CreatedBy.ID, t.CreatedAtMs,
		nullableInt64(t.StartedAtMs), nullableInt64(t.FinishedAtMs), t.ErrorMessage, t.TriggerType, t.TriggerRef,
	)
	return wrapExecErr("store.tasks", "create", err)
}

// ClaimPending atomically moves up to `limit` pending tasks, oldest first
// and of any type, to running, returning the claimed rows. This is the job
// engine worker pool's dequeue primitive.
func (r *TaskRepo) ClaimPending(ctx context.Context, limit int, startedAtMs int64) ([]types.Task, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapExecErr("store.tasks", "claim.begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, r.db.rebind(taskSelect+` WHERE status='pending' ORDER BY created_at_ms LIMIT ?`), limit)
	if err != nil {
		return nil, wrapExecErr("store.tasks", "claim.select", err)
	}
	var claimed []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, *t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapExecErr("store.tasks", "claim.rows", err)
	}

	for _, t := range claimed {
		if _, err := tx.ExecContext(ctx, r.db.rebind(`
			UPDATE tasks SET status='running', started_at_ms=? WHERE task_id=? AND status='pending'`),
			startedAtMs, t.TaskID); err != nil {
			return nil, wrapExecErr("store.tasks", "claim.update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapExecErr("store.tasks", "claim.commit", err)
	}
	for i := range claimed {
		claimed[i].Status = types.TaskRunning
		claimed[i].StartedAtMs = &startedAtMs
	}
	return claimed, nil
}

func (r *TaskRepo) UpdateProgress(ctx context.Context, taskID string, p types.TaskProgress) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE tasks SET progress_total=?, progress_processed=?, progress_failed=?, progress_skipped=? WHERE task_id=?`),
		p.Total, p.Processed, p.Failed, p.Skipped, taskID,
	)
	return wrapExecErr("store.tasks", "updateProgress", err)
}

// Finish stamps a terminal status on taskID, guarded to only apply while
// the row is still "running" so it can never overwrite a terminal state a
// concurrent Cancel already landed (§4.6 job terminality: a cancelled task
// must end cancelled, not failed, even if its handler's cancellation
// checkpoint returns its error after Cancel has already run).
func (r *TaskRepo) Finish(ctx context.Context, taskID string, status types.TaskStatus, errMsg string, finishedAtMs int64, stats map[string]interface{}) error {
	statsJSON, err := toJSON(stats)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE tasks SET status=?, error_message=?, finished_at_ms=?, stats=?
		WHERE task_id=? AND status='running'`),
		status, errMsg, finishedAtMs, statsJSON, taskID,
	)
	return wrapExecErr("store.tasks", "finish", err)
}

// Cancel marks a non-terminal task cancelled if it hasn't already reached
// a terminal state, used for cooperative cancellation (§4.6).
func (r *TaskRepo) Cancel(ctx context.Context, taskID string, finishedAtMs int64) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE tasks SET status='cancelled', finished_at_ms=?
		WHERE task_id=? AND status IN ('pending','running')`), finishedAtMs, taskID)
	if err != nil {
		return false, wrapExecErr("store.tasks", "cancel", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TaskRepo) Get(ctx context.Context, taskID string) (*types.Task, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(taskSelect+` WHERE task_id=?`), taskID)
	return scanTask(row)
}

// ListStalled returns running tasks whose started_at predates the stalled
// threshold, the input of job.Engine.ReclaimStalled.
func (r *TaskRepo) ListStalled(ctx context.Context, cutoffMs int64) ([]types.Task, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(taskSelect+`
		WHERE status='running' AND started_at_ms < ?`), cutoffMs)
	if err != nil {
		return nil, wrapExecErr("store.tasks", "listStalled", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListOldTerminal returns terminal tasks older than keepDays, the
// cleanup_upload_sessions-adjacent task-table GC input.
func (r *TaskRepo) ListOldTerminal(ctx context.Context, cutoffMs int64, limit int) ([]types.Task, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(taskSelect+`
		WHERE status IN ('completed','failed','cancelled') AND finished_at_ms < ? LIMIT ?`), cutoffMs, limit)
	if err != nil {
		return nil, wrapExecErr("store.tasks", "listOldTerminal", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// TaskListFilter scopes List's query (§4.6 listJobs). An empty field
// leaves that dimension unfiltered; PrincipalType empty means no ownership
// scoping (the caller is ADMIN).
type TaskListFilter struct {
	TaskType      types.TaskType
	Status        types.TaskStatus
	PrincipalType types.PrincipalType
	PrincipalID   string
	Limit         int
	Offset        int
}

// List returns tasks matching f, newest first, the listJobs pagination
// primitive (§4.6: "limit ≤ 100, offset ≥ 0"; clamping is the caller's
// job - this just runs the query).
func (r *TaskRepo) List(ctx context.Context, f TaskListFilter) ([]types.Task, error) {
	query := taskSelect + ` WHERE 1=1`
	var args []interface{}
	if f.TaskType != "" {
		query += ` AND task_type=?`
		args = append(args, f.TaskType)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.PrincipalType != "" {
		query += ` AND created_by_type=? AND created_by_id=?`
		args = append(args, f.PrincipalType, f.PrincipalID)
	}
	query += ` ORDER BY created_at_ms DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, wrapExecErr("store.tasks", "list", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Delete(ctx context.Context, taskID string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM tasks WHERE task_id=?`), taskID)
	return wrapExecErr("store.tasks", "delete", err)
}

const taskSelect = `
	SELECT task_id, task_type, status, payload, progress_total, progress_processed, progress_failed,
		progress_skipped, stats, created_by_type, created_by_id, created_at_ms, started_at_ms,
		finished_at_ms, error_message, trigger_type, trigger_ref
	FROM tasks`

func scanTask(s scanner) (*types.Task, error) {
	var t types.Task
	var payload, stats, errMsg, triggerType, triggerRef sql.NullString
	var startedAt, finishedAt sql.NullInt64

	if err := s.Scan(&t.TaskID, &t.TaskType, &t.Status, &payload, &t.Progress.Total, &t.Progress.Processed,
		&t.Progress.Failed, &t.Progress.Skipped, &stats, &t.CreatedBy.Type, &t.CreatedBy.ID, &t.CreatedAtMs,
		&startedAt, &finishedAt, &errMsg, &triggerType, &triggerRef); err != nil {
		return nil, wrapExecErr("store.tasks", "scan", err)
	}
	t.ErrorMessage = errMsg.String
	t.TriggerType = triggerType.String
	t.TriggerRef = triggerRef.String
	if startedAt.Valid {
		v := startedAt.Int64
		t.StartedAtMs = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Int64
		t.FinishedAtMs = &v
	}
	if payload.Valid {
		if err := fromJSON(payload.String, &t.Payload); err != nil {
			return nil, err
		}
	}
	if stats.Valid {
		if err := fromJSON(stats.String, &t.Stats); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
