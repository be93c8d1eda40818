package task

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a minimal in-memory Runner used to exercise the registry and
// the task manager's lifecycle without touching any external engine.
type fakeRunner struct {
	name string

	mu            sync.Mutex
	validateErr   error
	submitErr     error
	statuses      []Status // FetchTaskStatus returns these in order, then repeats the last
	fetchErr      error
	result        Document
	cancelCalls   []bool // one entry per Cancel call, value is the force flag
	cancelErr     error
	shutdownCalls int
	submitCalls   int
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) ValidateConfig(cfg Document) error { return f.validateErr }

func (f *fakeRunner) SubmitTask(ctx context.Context, t *Task, updater StatusUpdater) error {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitErr != nil {
		_, _ = updater.UpdateStatus(t.TaskID, StatusFailed, "system", StatusUpdateFields{
			ErrorInfo: Document{"error": f.submitErr.Error(), "error_type": "ExecutionError"},
		})
		return f.submitErr
	}
	_, err := updater.UpdateStatus(t.TaskID, StatusRunning, "system", StatusUpdateFields{})
	return err
}

func (f *fakeRunner) FetchTaskStatus(ctx context.Context, t *Task) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return t.Status, f.fetchErr
	}
	if len(f.statuses) == 0 {
		return t.Status, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return next, nil
}

func (f *fakeRunner) GetLogSummary(t *Task, level LogLevel, maxEntries int) []LogEntry { return nil }

func (f *fakeRunner) GetResult(t *Task) Document { return f.result }

func (f *fakeRunner) Cancel(ctx context.Context, t *Task, force bool) error {
	f.mu.Lock()
	f.cancelCalls = append(f.cancelCalls, force)
	f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeRunner) Shutdown(t *Task) error {
	f.mu.Lock()
	f.shutdownCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) callCounts() (submit, shutdown int, cancels []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.shutdownCalls, append([]bool(nil), f.cancelCalls...)
}

func TestRegisterRunner_PanicsOnDuplicateName(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	RegisterRunner(&fakeRunner{name: "dup_test"})
	assert.Panics(t, func() {
		RegisterRunner(&fakeRunner{name: "dup_test"})
	})
}

func TestLookupRunner_NotFound(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	_, err := LookupRunner("does_not_exist")
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, ErrTypeRunnerNotFound, taskErr.Type)
}

func TestListRunners_SortedOrder(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	RegisterRunner(&fakeRunner{name: "zeta"})
	RegisterRunner(&fakeRunner{name: "alpha"})
	RegisterRunner(&fakeRunner{name: "mu"})

	assert.Equal(t, []string{"alpha", "mu", "zeta"}, ListRunners())
}
