// Package job implements the generic asynchronous job engine (§4.6): a
// handler registry, a polling dispatcher with a bounded worker pool, and
// the watchdog that reclassifies stalled jobs on restart.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/logging"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// RunFunc executes one claimed task. It must check ctx for cancellation at
// natural checkpoints (per-item, per-batch, per-page) and return the final
// stats map to persist alongside the terminal status.
type RunFunc func(ctx context.Context, task *types.Task, progress ProgressFunc) (stats map[string]interface{}, err error)

// ProgressFunc persists coarse-grained progress for a running task.
type ProgressFunc func(p types.TaskProgress) error

// Handler is one registered job type (§4.6 "each declared in a registry").
type Handler struct {
	TaskType TaskType
	Run      RunFunc
}

// TaskType aliases types.TaskType for readability within this package.
type TaskType = types.TaskType

// Engine polls the task table, claims pending work, and runs it against
// registered handlers under a bounded worker pool.
type Engine struct {
	db       *store.DB
	handlers map[TaskType]Handler

	concurrency int
	pollEvery   time.Duration
	stallAfter  time.Duration
	now         func() int64

	mu       sync.Mutex
	inFlight map[string]struct{} // taskID -> present while running, a local second guard beyond ClaimPending's atomic claim
}

// New builds an Engine over db. concurrency bounds how many tasks run at
// once; pollEvery is the dispatch loop's claim interval; stallAfter is the
// watchdog threshold past which a still-"running" task is presumed dead
// after a restart.
func New(db *store.DB, concurrency int, pollEvery, stallAfter time.Duration) *Engine {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		db:          db,
		handlers:    make(map[TaskType]Handler),
		concurrency: concurrency,
		pollEvery:   pollEvery,
		stallAfter:  stallAfter,
		now:         func() int64 { return time.Now().UnixMilli() },
		inFlight:    make(map[string]struct{}),
	}
}

// Register adds a handler for one task type. Registering the same type
// twice panics, matching the driver registry's duplicate-registration
// guard.
func (e *Engine) Register(h Handler) {
	if _, exists := e.handlers[h.TaskType]; exists {
		panic("job: duplicate handler registration for task type " + string(h.TaskType))
	}
	e.handlers[h.TaskType] = h
}

// Run blocks, polling for claimable work every pollEvery until ctx is
// cancelled. Call ReclaimStalled once at startup before Run, to recover
// from a prior process's crash.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			tasks, err := e.db.Tasks.ClaimPending(ctx, e.concurrency, e.now())
			if err != nil {
				logging.WithComponent("job").Error().Err(err).Msg("claim pending failed")
				continue
			}
			for i := range tasks {
				t := tasks[i]
				sem <- struct{}{}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					e.execute(ctx, &t)
				}()
			}
		}
	}
}

func (e *Engine) execute(ctx context.Context, task *types.Task) {
	e.mu.Lock()
	if _, running := e.inFlight[task.TaskID]; running {
		e.mu.Unlock()
		return
	}
	e.inFlight[task.TaskID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, task.TaskID)
		e.mu.Unlock()
	}()

	logger := logging.WithJob(task.TaskID, string(task.TaskType))

	handler, ok := e.handlers[task.TaskType]
	if !ok {
		e.finish(ctx, task, types.TaskFailed, "no handler registered for task type "+string(task.TaskType), nil)
		return
	}

	progress := func(p types.TaskProgress) error {
		return e.db.Tasks.UpdateProgress(ctx, task.TaskID, p)
	}

	stats, err := handler.Run(ctx, task, progress)
	if err != nil {
		if cancelled(ctx, e.db, task.TaskID) {
			logger.Info().Msg("job cancelled")
			e.finish(ctx, task, types.TaskCancelled, err.Error(), stats)
			return
		}
		logger.Warn().Err(err).Msg("job failed")
		e.finish(ctx, task, types.TaskFailed, err.Error(), stats)
		return
	}
	logger.Info().Msg("job completed")
	e.finish(ctx, task, types.TaskCompleted, "", stats)
}

func (e *Engine) finish(ctx context.Context, task *types.Task, status types.TaskStatus, errMsg string, stats map[string]interface{}) {
	if err := e.db.Tasks.Finish(ctx, task.TaskID, status, errMsg, e.now(), stats); err != nil {
		logging.WithComponent("job").Error().Err(err).Str("taskId", task.TaskID).Msg("failed to persist job outcome")
	}
}

// ReclaimStalled reclassifies "running" tasks whose started_at predates
// the watchdog threshold as failed("stalled"), recovering from a process
// restart that left the task table out of sync with reality (§4.6).
func (e *Engine) ReclaimStalled(ctx context.Context) (int, error) {
	cutoff := e.now() - e.stallAfter.Milliseconds()
	stalled, err := e.db.Tasks.ListStalled(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, t := range stalled {
		if err := e.db.Tasks.Finish(ctx, t.TaskID, types.TaskFailed, "stalled", e.now(), nil); err != nil {
			return 0, err
		}
	}
	return len(stalled), nil
}

// cancelled reports whether an operator requested cancellation for task,
// the handlers' cooperative-cancellation checkpoint (§4.6 "cancelJob").
func cancelled(ctx context.Context, db *store.DB, taskID string) bool {
	t, err := db.Tasks.Get(ctx, taskID)
	if err != nil {
		return false
	}
	return t.Status == types.TaskCancelled
}
