package storage

import (
	"testing"

	"github.com/cuemby/crucible/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdateStatusStampsFinishedAtOnlyForTerminal(t *testing.T) {
	s := newTestStore(t)
	task := &types.Task{ID: "t1", Status: types.TaskStatusInitializing}
	require.NoError(t, s.Add(task))

	require.NoError(t, s.UpdateStatus("t1", types.TaskStatusRunning, nil))
	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.True(t, got.FinishedAt.IsZero(), "non-terminal status must leave FinishedAt unset")

	require.NoError(t, s.UpdateStatus("t1", types.TaskStatusCompleted, &types.Result{Success: true, TaskID: "t1"}))
	got, err = s.Get("t1")
	require.NoError(t, err)
	assert.False(t, got.FinishedAt.IsZero(), "terminal status must stamp FinishedAt")
	assert.True(t, got.Result.Success)
}

func TestUpdateUIInfoOriginalPortWriteOnce(t *testing.T) {
	s := newTestStore(t)
	task := &types.Task{ID: "t1", Status: types.TaskStatusRunning}
	require.NoError(t, s.Add(task))

	require.NoError(t, s.UpdateUIInfo("t1", "10.0.0.5", 8080))
	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 8080, got.OriginalUIPort)
	assert.Equal(t, 8080, got.UIPort)

	require.NoError(t, s.UpdateUIInfo("t1", "10.0.0.6", 9090))
	got, err = s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 8080, got.OriginalUIPort, "original port must never change")
	assert.Equal(t, 9090, got.UIPort)
	assert.Equal(t, "10.0.0.6", got.UIIPAddress)
}

func TestListByDeploymentFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&types.Task{ID: "a", DeploymentID: "d1", Status: types.TaskStatusRunning}))
	require.NoError(t, s.Add(&types.Task{ID: "b", DeploymentID: "d1", Status: types.TaskStatusCompleted}))
	require.NoError(t, s.Add(&types.Task{ID: "c", DeploymentID: "d2", Status: types.TaskStatusRunning}))

	all, err := s.ListByDeployment("d1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := s.ListByDeployment("d1", types.TaskStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)
	assert.Equal(t, "a", running[0].ID)

	count, err := s.CountByDeployment("d1", types.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListRunningOnReplicaExcludesTerminal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&types.Task{ID: "a", IPAddress: "1.2.3.4", Status: types.TaskStatusRunning}))
	require.NoError(t, s.Add(&types.Task{ID: "b", IPAddress: "1.2.3.4", Status: types.TaskStatusCompleted}))
	require.NoError(t, s.Add(&types.Task{ID: "c", IPAddress: "5.6.7.8", Status: types.TaskStatusRunning}))

	running, err := s.ListRunningOnReplica("1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, running, 1)
	assert.Equal(t, "a", running[0].ID)
}

func TestGetMissingTaskReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestPackageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	pkg := &types.Package{Name: "hello", Stage: "dev", Version: "1.0.0", Runtime: types.RuntimeInterpreted}
	require.NoError(t, s.PutPackage(pkg))

	got, err := s.GetPackage("hello", "dev", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.RuntimeInterpreted, got.Runtime)

	missing, err := s.GetPackage("nope", "dev", "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
