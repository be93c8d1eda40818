package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*TaskManager, *FileStore) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	vars := NewVariableStore("unit-test-secret")
	return NewTaskManager(s, vars), s
}

func eventuallyStatus(t *testing.T, m *TaskManager, taskID string, want Status) {
	t.Helper()
	assert.Eventually(t, func() bool {
		row, err := m.Get(taskID)
		return err == nil && row.Status == want
	}, 3*time.Second, 10*time.Millisecond, "task %s never reached status %s", taskID, want)
}

func TestTaskManager_Submit_MissingTaskType(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Submit(Document{}, "alice")
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, ErrTypeInvalidTask, taskErr.Type)
}

// S5 (spec.md §8): an unregistered task_type is accepted synchronously and
// fails asynchronously with a missing-runner error.
func TestTaskManager_Submit_UnknownTaskType_FailsAsync(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "does_not_exist"}, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusPending, row.Status)

	eventuallyStatus(t, m, row.TaskID, StatusFailed)
	got, _ := m.Get(row.TaskID)
	assert.Equal(t, string(ErrTypeRunnerNotFound), got.ErrorInfo["error_type"])
}

func TestTaskManager_FullLifecycle_CompletesViaMonitor(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{
		name:     "fake_complete",
		statuses: []Status{StatusRunning, StatusCompleted},
		result:   Document{"rows": 42},
	}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "fake_complete", "job": Document{"x": 1}}, "alice")
	require.NoError(t, err)

	eventuallyStatus(t, m, row.TaskID, StatusCompleted)

	got, err := m.Get(row.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.ResultSummary["rows"])
	assert.NotNil(t, got.FinishedAt)

	submits, shutdowns, _ := runner.callCounts()
	assert.Equal(t, 1, submits)
	assert.GreaterOrEqual(t, shutdowns, 1)
}

// Property 3 (spec.md §8): cancel(force=true) drives a task to a terminal
// state within the grace window.
func TestTaskManager_Cancel_ForceReachesTerminalQuickly(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{name: "fake_cancel"}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "fake_cancel"}, "alice")
	require.NoError(t, err)

	eventuallyStatus(t, m, row.TaskID, StatusRunning)

	start := time.Now()
	result, err := m.Cancel(row.TaskID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Less(t, time.Since(start), cancelGraceWait)

	_, _, cancels := runner.callCounts()
	require.NotEmpty(t, cancels)
	assert.True(t, cancels[0])
}

func TestTaskManager_Cancel_RejectsTerminalTask(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{name: "fake_terminal", statuses: []Status{StatusCompleted}}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "fake_terminal"}, "alice")
	require.NoError(t, err)
	eventuallyStatus(t, m, row.TaskID, StatusCompleted)

	_, err = m.Cancel(row.TaskID, false)
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, ErrTypeConflict, taskErr.Type)
}

// S3 (spec.md §8): a task still non-terminal past task_timeout_seconds is
// failed with TaskTimeoutError and the runner is force-cancelled exactly
// once.
func TestTaskManager_Timeout_FailsTaskAndForceCancels(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{name: "fake_timeout"}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{
		"task_type":            "fake_timeout",
		"task_timeout_seconds": 1,
	}, "alice")
	require.NoError(t, err)

	eventuallyStatus(t, m, row.TaskID, StatusFailed)

	got, _ := m.Get(row.TaskID)
	assert.Equal(t, string(ErrTypeTimeout), got.ErrorInfo["error_type"])

	_, _, cancels := runner.callCounts()
	require.Len(t, cancels, 1)
	assert.True(t, cancels[0])
}

// S6 (spec.md §8): permanent delete conflicts while a task is running and
// succeeds once it has reached a terminal state.
func TestTaskManager_PermanentlyDelete_ConflictThenSuccess(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{name: "fake_delete"}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "fake_delete"}, "alice")
	require.NoError(t, err)
	eventuallyStatus(t, m, row.TaskID, StatusRunning)

	err = m.PermanentlyDelete(row.TaskID)
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, ErrTypeConflict, taskErr.Type)

	_, err = m.Cancel(row.TaskID, true)
	require.NoError(t, err)

	require.NoError(t, m.PermanentlyDelete(row.TaskID))
	_, err = m.Get(row.TaskID)
	assert.Error(t, err)
}

func TestTaskManager_Shutdown_ForceCancelsActiveTasks(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	runner := &fakeRunner{name: "fake_shutdown"}
	RegisterRunner(runner)

	m, _ := newTestManager(t)
	row, err := m.Submit(Document{"task_type": "fake_shutdown"}, "alice")
	require.NoError(t, err)
	eventuallyStatus(t, m, row.TaskID, StatusRunning)

	require.NoError(t, m.Shutdown())

	_, _, cancels := runner.callCounts()
	require.NotEmpty(t, cancels)
	assert.True(t, cancels[len(cancels)-1])
}
