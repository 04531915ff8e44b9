package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestService_CreateAndGetJobStatus(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	owner := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	task, err := s.CreateJob(context.Background(), types.TaskCopy, map[string]interface{}{"items": []interface{}{}}, owner, CreateMeta{})
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)

	status, err := s.GetJobStatus(context.Background(), task.TaskID, owner)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, status.Status)
	assert.True(t, status.AllowedActions.CanCancel)
}

func TestService_GetJobStatus_ForbiddenForNonOwner(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	owner := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	other := types.Principal{Type: types.PrincipalAPIKey, ID: "user2"}

	task, err := s.CreateJob(context.Background(), types.TaskCopy, nil, owner, CreateMeta{})
	require.NoError(t, err)

	_, err = s.GetJobStatus(context.Background(), task.TaskID, other)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))

	admin := types.Principal{Type: types.PrincipalAdmin}
	_, err = s.GetJobStatus(context.Background(), task.TaskID, admin)
	require.NoError(t, err)
}

func TestService_CancelJob_FailsAfterTerminal(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	owner := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	task, err := s.CreateJob(context.Background(), types.TaskCopy, nil, owner, CreateMeta{})
	require.NoError(t, err)

	require.NoError(t, s.CancelJob(context.Background(), task.TaskID, owner))

	status, err := s.GetJobStatus(context.Background(), task.TaskID, owner)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, status.Status)
	assert.False(t, status.AllowedActions.CanCancel)

	err = s.CancelJob(context.Background(), task.TaskID, owner)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestService_DeleteJob_RequiresTerminalStatus(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	owner := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}

	task, err := s.CreateJob(context.Background(), types.TaskCopy, nil, owner, CreateMeta{})
	require.NoError(t, err)

	err = s.DeleteJob(context.Background(), task.TaskID, owner)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	require.NoError(t, s.CancelJob(context.Background(), task.TaskID, owner))
	require.NoError(t, s.DeleteJob(context.Background(), task.TaskID, owner))

	_, err = db.Tasks.Get(context.Background(), task.TaskID)
	require.Error(t, err)
}

func TestService_ListJobs_ScopesToOwnerUnlessAdmin(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	user1 := types.Principal{Type: types.PrincipalAPIKey, ID: "user1"}
	user2 := types.Principal{Type: types.PrincipalAPIKey, ID: "user2"}
	admin := types.Principal{Type: types.PrincipalAdmin}

	_, err := s.CreateJob(context.Background(), types.TaskCopy, nil, user1, CreateMeta{})
	require.NoError(t, err)
	_, err = s.CreateJob(context.Background(), types.TaskCopy, nil, user2, CreateMeta{})
	require.NoError(t, err)

	jobs, err := s.ListJobs(context.Background(), ListFilter{}, user1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	jobs, err = s.ListJobs(context.Background(), ListFilter{}, admin)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestService_ListJobs_ClampsLimitAndOffset(t *testing.T) {
	db := newEngineTestDB(t)
	s := NewService(db)
	admin := types.Principal{Type: types.PrincipalAdmin}

	for i := 0; i < 3; i++ {
		_, err := s.CreateJob(context.Background(), types.TaskCopy, nil, admin, CreateMeta{})
		require.NoError(t, err)
	}

	jobs, err := s.ListJobs(context.Background(), ListFilter{Limit: 500, Offset: -5}, admin)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
