package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func newEngineTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const testTaskType types.TaskType = "TEST_ECHO"

func TestEngine_ClaimsAndRunsRegisteredHandler(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, 10*time.Millisecond, time.Hour)

	var ran int32
	e.Register(Handler{
		TaskType: testTaskType,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			atomic.AddInt32(&ran, 1)
			return map[string]interface{}{"ok": true}, nil
		},
	})

	require.NoError(t, db.Tasks.Create(context.Background(), types.Task{
		TaskID: "t1", TaskType: testTaskType, Status: types.TaskPending, CreatedAtMs: 1, TriggerType: "manual",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	task, err := db.Tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, task.Status)
}

func TestEngine_FailsTaskWithNoRegisteredHandler(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, 10*time.Millisecond, time.Hour)

	require.NoError(t, db.Tasks.Create(context.Background(), types.Task{
		TaskID: "t2", TaskType: "UNREGISTERED", Status: types.TaskPending, CreatedAtMs: 1, TriggerType: "manual",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	task, err := db.Tasks.Get(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
}

func TestEngine_HandlerErrorMarksTaskFailed(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, 10*time.Millisecond, time.Hour)
	e.Register(Handler{
		TaskType: testTaskType,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			return nil, assertError{"boom"}
		},
	})

	require.NoError(t, db.Tasks.Create(context.Background(), types.Task{
		TaskID: "t3", TaskType: testTaskType, Status: types.TaskPending, CreatedAtMs: 1, TriggerType: "manual",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	task, err := db.Tasks.Get(context.Background(), "t3")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Equal(t, "boom", task.ErrorMessage)
}

func TestEngine_ReclaimStalledMarksOldRunningAsFailed(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, time.Hour, time.Minute)

	require.NoError(t, db.Tasks.Create(context.Background(), types.Task{
		TaskID: "t4", TaskType: testTaskType, Status: types.TaskPending, CreatedAtMs: 1, TriggerType: "manual",
	}))
	oldStart := time.Now().Add(-2 * time.Hour).UnixMilli()
	claimed, err := db.Tasks.ClaimPending(context.Background(), 1, oldStart)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := e.ReclaimStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := db.Tasks.Get(context.Background(), "t4")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Equal(t, "stalled", task.ErrorMessage)
}

func TestEngine_CancelledDuringRunEndsCancelledNotFailed(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, 10*time.Millisecond, time.Hour)
	e.Register(Handler{
		TaskType: testTaskType,
		Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
			// Simulates an operator cancelling between this handler's
			// cancellation checkpoints: the row is already "cancelled" by
			// the time the handler's error reaches the engine.
			_, err := db.Tasks.Cancel(context.Background(), task.TaskID, time.Now().UnixMilli())
			require.NoError(t, err)
			return nil, assertError{"cancelled by operator"}
		},
	})

	require.NoError(t, db.Tasks.Create(context.Background(), types.Task{
		TaskID: "t5", TaskType: testTaskType, Status: types.TaskPending, CreatedAtMs: 1, TriggerType: "manual",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	task, err := db.Tasks.Get(context.Background(), "t5")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, task.Status)
}

func TestEngine_RegisterPanicsOnDuplicateTaskType(t *testing.T) {
	db := newEngineTestDB(t)
	e := New(db, 2, time.Hour, time.Hour)
	h := Handler{TaskType: testTaskType, Run: func(ctx context.Context, task *types.Task, progress ProgressFunc) (map[string]interface{}, error) {
		return nil, nil
	}}
	e.Register(h)
	assert.Panics(t, func() { e.Register(h) })
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
