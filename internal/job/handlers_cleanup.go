package job

import (
	"context"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

const cleanupBatchSize = 200

// NewCleanupUploadSessionsHandler implements cleanup_upload_sessions
// (§4.6): expires sessions past their deadline or stale past
// activeGraceHours with no deadline, then hard-deletes terminal sessions
// older than keepDays in batches.
func NewCleanupUploadSessionsHandler(db *store.DB, now func() int64) Handler {
	return Handler{
		TaskType: types.TaskCleanupUploadSessions,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			activeGraceHours := payloadInt(task.Payload, "activeGraceHours", 24)
			keepDays := payloadInt(task.Payload, "keepDays", 30)

			nowMs := now()
			p := types.TaskProgress{}

			expired, err := expireSessions(ctx, db, nowMs, activeGraceHours, &p)
			if err != nil {
				return nil, err
			}
			progress(p)

			deleted, err := deleteStaleTerminal(ctx, db, nowMs, keepDays, &p)
			if err != nil {
				return nil, err
			}
			progress(p)

			return map[string]interface{}{"expired": expired, "deleted": deleted}, nil
		},
	}
}

func expireSessions(ctx context.Context, db *store.DB, nowMs int64, activeGraceHours int, p *types.TaskProgress) (int, error) {
	count := 0
	for {
		sessions, err := db.Uploads.ListExpirable(ctx, nowMs, cleanupBatchSize)
		if err != nil {
			return count, err
		}
		for _, s := range sessions {
			if err := db.Uploads.TransitionStatus(ctx, s.ID, s.Status, types.UploadExpired, nowMs); err != nil {
				p.Failed++
				continue
			}
			count++
			p.Processed++
		}
		if len(sessions) < cleanupBatchSize {
			break
		}
	}

	graceCutoff := nowMs - int64(activeGraceHours)*time.Hour.Milliseconds()
	for {
		sessions, err := db.Uploads.ListStaleActive(ctx, graceCutoff, cleanupBatchSize)
		if err != nil {
			return count, err
		}
		for _, s := range sessions {
			if err := db.Uploads.TransitionStatus(ctx, s.ID, s.Status, types.UploadExpired, nowMs); err != nil {
				p.Failed++
				continue
			}
			count++
			p.Processed++
		}
		if len(sessions) < cleanupBatchSize {
			break
		}
	}
	return count, nil
}

func deleteStaleTerminal(ctx context.Context, db *store.DB, nowMs int64, keepDays int, p *types.TaskProgress) (int, error) {
	cutoff := nowMs - int64(keepDays)*24*time.Hour.Milliseconds()
	count := 0
	for {
		sessions, err := db.Uploads.ListStaleTerminal(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return count, err
		}
		if len(sessions) == 0 {
			break
		}
		for _, s := range sessions {
			if err := db.Uploads.Delete(ctx, s.ID); err != nil {
				p.Failed++
				continue
			}
			count++
			p.Processed++
		}
		if len(sessions) < cleanupBatchSize {
			break
		}
	}
	return count, nil
}
