package task

// Task Manager (C10). Orchestrates submit→validate→prepare→run, owns the
// monitoring/timeout supervisors, and is the public API of the core.
// Grounded on
// original_source/api/resinkit_api/services/agent/task_manager.py
// (submit_task/execute_task/_start_task_monitoring/_monitor_task/
// _task_timeout_monitor/cancel_task/permanently_delete_task) with
// structured-concurrency supervisors per the teacher's goroutine-lifecycle
// idiom, generalized onto github.com/sourcegraph/conc.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/resinkit-ai/agent-core/internal/metrics"
)

const (
	monitorPollStart = 200 * time.Millisecond
	monitorPollCap   = 30 * time.Second
	cancelGraceWait  = 30 * time.Second
)

// supervisorHandle is an in-memory handle to one running monitor or timeout
// goroutine, owned exclusively by TaskManager (spec.md §3 "Ownership &
// lifecycle").
type supervisorHandle struct {
	cancel context.CancelFunc
}

// TaskManager is the public entry point of the core.
type TaskManager struct {
	store     Store
	variables *VariableStore

	mu         sync.Mutex
	monitors   map[string]*supervisorHandle // task_id -> status monitor
	timeouts   map[string]*supervisorHandle // task_id -> timeout monitor
	shutdown   atomic.Bool
	supervisor conc.WaitGroup
}

func NewTaskManager(store Store, variables *VariableStore) *TaskManager {
	return &TaskManager{
		store:     store,
		variables: variables,
		monitors:  make(map[string]*supervisorHandle),
		timeouts:  make(map[string]*supervisorHandle),
	}
}

// Submit implements spec.md §4.9's submit_task: validate base fields,
// persist PENDING, schedule an asynchronous execution, return immediately.
func (m *TaskManager) Submit(payload Document, createdBy string) (*Task, error) {
	taskType, _ := payload["task_type"].(string)
	if taskType == "" {
		return nil, newInvalidTask("task_type is required")
	}
	// An unregistered task_type is not rejected synchronously (spec.md §8
	// S5): the task is still accepted and fails asynchronously when
	// executeTask looks the runner up, before the VALIDATING transition.
	taskID, err := GenerateTaskID(taskType)
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	now := time.Now().UTC()
	row := &Task{
		TaskID:           taskID,
		TaskType:         taskType,
		TaskName:         stringField(payload, "name"),
		Description:      stringField(payload, "description"),
		Priority:         intOr(payload, "priority", 0),
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
		Status:           StatusPending,
		SubmittedConfigs: payload,
		Active:           true,
	}
	if tags, ok := payload["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				row.Tags = append(row.Tags, s)
			}
		}
	}
	if secs, ok := docInt(payload, "task_timeout_seconds"); ok && secs > 0 {
		expires := now.Add(time.Duration(secs) * time.Second)
		row.ExpiresAt = &expires
	}
	if nc, ok := payload["notification_config"].(map[string]any); ok {
		row.NotificationConfig = Document(nc)
	}

	if err := m.store.Create(row); err != nil {
		return nil, newUnprocessable(taskID, "persist task: %v", err)
	}

	metrics.TasksSubmittedTotal.WithLabelValues(taskType).Inc()
	metrics.TasksActive.WithLabelValues(taskType).Inc()

	if !m.shutdown.Load() {
		m.supervisor.Go(func() { m.executeTask(taskID) })
	}

	return row.Clone(), nil
}

func intOr(d Document, key string, def int) int {
	if n, ok := docInt(d, key); ok {
		return n
	}
	return def
}

// executeTask runs the VALIDATING → PREPARING → RUNNING state machine
// (spec.md §4.9).
func (m *TaskManager) executeTask(taskID string) {
	ctx := context.Background()

	row, ok := m.store.Get(taskID)
	if !ok {
		return
	}

	runner, err := LookupRunner(row.TaskType)
	if err != nil {
		m.persistFailure(taskID, "system", ErrTypeRunnerNotFound, err.Error())
		return
	}

	row, err = m.store.UpdateStatus(taskID, StatusValidating, "system", StatusUpdateFields{})
	if err != nil {
		return
	}

	if err := runner.ValidateConfig(row.SubmittedConfigs); err != nil {
		m.persistFailure(taskID, "system", ErrTypeInvalidTask, err.Error())
		return
	}

	row, err = m.store.UpdateStatus(taskID, StatusPreparing, "system", StatusUpdateFields{})
	if err != nil {
		return
	}

	vars, err := m.variables.AllDecrypted()
	if err != nil {
		m.persistFailure(taskID, "system", ErrTypeUnprocessable, fmt.Sprintf("decrypt variables: %v", err))
		return
	}
	row.SubmittedConfigs, _ = RenderWithVariables(row.SubmittedConfigs, vars).(Document)

	if err := runner.SubmitTask(ctx, row, m.store); err != nil {
		// The runner already persisted FAILED with error_info; nothing more
		// to do (spec.md §7 propagation policy: submit never surfaces a
		// runner-internal error to callers).
		return
	}

	row, ok = m.store.Get(taskID)
	if !ok || row.Status.Terminal() {
		return
	}

	m.startTaskMonitoring(taskID, runner, row)
}

func (m *TaskManager) persistFailure(taskID, actor string, errType ErrorType, message string) {
	row, err := m.store.UpdateStatus(taskID, StatusFailed, actor, StatusUpdateFields{
		ErrorInfo: Document{
			"error":      message,
			"error_type": string(errType),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err == nil {
		metrics.RunnerErrorsTotal.WithLabelValues(row.TaskType, string(errType)).Inc()
		m.recordTerminal(row)
	}
}

// recordTerminal updates the active-task gauge and duration histogram once
// a task reaches a terminal status. It is not idempotent: every call
// decrements the gauge and counts the transition again, so a second call
// for the same task counts that task twice.
func (m *TaskManager) recordTerminal(row *Task) {
	metrics.TasksActive.WithLabelValues(row.TaskType).Dec()
	metrics.TaskStatusTransitionsTotal.WithLabelValues(row.TaskType, string(row.Status)).Inc()
	metrics.TaskDurationSeconds.WithLabelValues(row.TaskType, string(row.Status)).
		Observe(time.Since(row.CreatedAt).Seconds())
}

// startTaskMonitoring spawns the status monitor and, if a timeout is
// configured, the timeout monitor, each keyed by task_id (spec.md §4.9
// "_start_task_monitoring").
func (m *TaskManager) startTaskMonitoring(taskID string, runner Runner, row *Task) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.monitors[taskID] = &supervisorHandle{cancel: cancel}
	m.mu.Unlock()
	m.supervisor.Go(func() { m.monitorTask(ctx, taskID, runner) })

	if secs, ok := row.TaskTimeoutSeconds(); ok && secs > 0 {
		tctx, tcancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.timeouts[taskID] = &supervisorHandle{cancel: tcancel}
		m.mu.Unlock()
		m.supervisor.Go(func() { m.timeoutMonitor(tctx, taskID, time.Duration(secs)*time.Second, runner) })
	}
}

// monitorTask polls fetch_task_status with exponential backoff until the
// task reaches a terminal state (spec.md §4.9 "_monitor_task").
func (m *TaskManager) monitorTask(ctx context.Context, taskID string, runner Runner) {
	defer m.clearMonitor(taskID)

	poll := monitorPollStart
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}

		row, ok := m.store.Get(taskID)
		if !ok || row.Status.Terminal() {
			return
		}

		pollStart := time.Now()
		newStatus, err := runner.FetchTaskStatus(ctx, row)
		metrics.RunnerPollLatencySeconds.WithLabelValues(row.TaskType).Observe(time.Since(pollStart).Seconds())
		if err != nil {
			// Transient I/O: the error is dropped unlogged; the monitor
			// backs off and continues.
			poll = nextPoll(poll)
			continue
		}

		if newStatus != row.Status {
			fields := StatusUpdateFields{
				ProgressDetails: Document{"log_summary": runner.GetLogSummary(row, "", 100)},
			}
			switch newStatus {
			case StatusCompleted:
				fields.ResultSummary = runner.GetResult(row)
			case StatusFailed:
				errInfo := row.ErrorInfo
				if errInfo == nil {
					errInfo = Document{
						"error":     "runner reported failure",
						"timestamp": time.Now().UTC().Format(time.RFC3339),
					}
				}
				if extra := runner.GetResult(row); extra != nil {
					if ec, ok := extra["exit_code"]; ok {
						merged := Document{}
						for k, v := range errInfo {
							merged[k] = v
						}
						merged["exit_code"] = ec
						errInfo = merged
					}
				}
				fields.ErrorInfo = errInfo
			}
			updated, err := m.store.UpdateStatus(taskID, newStatus, "system", fields)
			if newStatus.Terminal() {
				if err == nil {
					m.recordTerminal(updated)
				}
				runner.Shutdown(row)
				return
			}
		}

		poll = nextPoll(poll)
	}
}

func nextPoll(poll time.Duration) time.Duration {
	next := poll * 2
	if next > monitorPollCap {
		next = monitorPollCap
	}
	return next
}

// timeoutMonitor sleeps task_timeout_seconds then forces cancellation if
// the task is still non-terminal (spec.md §4.9
// "_task_timeout_monitor", SPEC_FULL.md Resolved Open Question 2: the
// non-terminal check is the broadened "not in {COMPLETED, FAILED,
// CANCELLED}", not the narrower {RUNNING, PENDING} the original checks).
func (m *TaskManager) timeoutMonitor(ctx context.Context, taskID string, timeout time.Duration, runner Runner) {
	defer m.clearTimeout(taskID)

	select {
	case <-ctx.Done():
		return
	case <-time.After(timeout):
	}

	row, ok := m.store.Get(taskID)
	if !ok || row.Status.Terminal() {
		return
	}

	status, err := runner.FetchTaskStatus(ctx, row)
	if err == nil && status.Terminal() {
		return
	}

	updated, err := m.store.UpdateStatus(taskID, StatusFailed, "system", StatusUpdateFields{
		ErrorInfo: Document{
			"error":      fmt.Sprintf("Task timed out after %d seconds", int(timeout.Seconds())),
			"error_type": string(ErrTypeTimeout),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	metrics.TasksTimedOutTotal.WithLabelValues(row.TaskType).Inc()
	if err == nil {
		m.recordTerminal(updated)
	}
	runner.Cancel(ctx, row, true)
	runner.Shutdown(row)
}

func (m *TaskManager) clearMonitor(taskID string) {
	m.mu.Lock()
	delete(m.monitors, taskID)
	m.mu.Unlock()
}

func (m *TaskManager) clearTimeout(taskID string) {
	m.mu.Lock()
	delete(m.timeouts, taskID)
	m.mu.Unlock()
}

// Cancel implements spec.md §4.9's cancel_task.
func (m *TaskManager) Cancel(taskID string, force bool) (*Task, error) {
	row, ok := m.store.Get(taskID)
	if !ok {
		return nil, newNotFound(taskID)
	}
	switch row.Status {
	case StatusPending, StatusValidating, StatusPreparing, StatusRunning:
	default:
		return nil, newConflict(taskID, "cannot cancel task in status %s", row.Status)
	}

	runner, err := LookupRunner(row.TaskType)
	if err != nil {
		return nil, err
	}

	row, err = m.store.UpdateStatus(taskID, StatusCancelling, "system", StatusUpdateFields{})
	if err != nil {
		return nil, err
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), cancelGraceWait+5*time.Second)
	defer cancelCtx()

	cancelErr := runner.Cancel(ctx, row, force)
	if cancelErr != nil && !force {
		cancelErr = runner.Cancel(ctx, row, true)
	}

	if cancelErr != nil {
		failed, err := m.store.UpdateStatus(taskID, StatusFailed, "system", StatusUpdateFields{
			ErrorInfo: Document{
				"error":      fmt.Sprintf("cancel failed: %v", cancelErr),
				"error_type": string(ErrTypeExecution),
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			},
		})
		if err == nil {
			m.recordTerminal(failed)
		}
		return failed, err
	}

	m.mu.Lock()
	if h, ok := m.timeouts[taskID]; ok {
		h.cancel()
	}
	m.mu.Unlock()

	result, err := m.store.UpdateStatus(taskID, StatusCancelled, "system", StatusUpdateFields{})
	if err == nil {
		m.recordTerminal(result)
	}
	runner.Shutdown(row)
	return result, err
}

// Get returns a single task by id.
func (m *TaskManager) Get(taskID string) (*Task, error) {
	row, ok := m.store.Get(taskID)
	if !ok {
		return nil, newNotFound(taskID)
	}
	return row, nil
}

// List returns a filtered, sorted, paginated page of tasks.
func (m *TaskManager) List(opts ListOptions) (Page, error) {
	return m.store.List(opts)
}

// GetEvents returns the journal entries for a task, most recent first.
func (m *TaskManager) GetEvents(taskID string, skip, limit int) ([]*TaskEvent, error) {
	if _, ok := m.store.Get(taskID); !ok {
		return nil, newNotFound(taskID)
	}
	return m.store.GetEvents(taskID, skip, limit), nil
}

// GetLogSummary dispatches to the task's runner for its most recent log
// entries (spec.md §4.2 "get_log_summary").
func (m *TaskManager) GetLogSummary(taskID string, level LogLevel, maxEntries int) ([]LogEntry, error) {
	row, ok := m.store.Get(taskID)
	if !ok {
		return nil, newNotFound(taskID)
	}
	runner, err := LookupRunner(row.TaskType)
	if err != nil {
		return nil, err
	}
	return runner.GetLogSummary(row, level, maxEntries), nil
}

// GetResult returns a completed task's result_summary.
func (m *TaskManager) GetResult(taskID string) (Document, error) {
	row, ok := m.store.Get(taskID)
	if !ok {
		return nil, newNotFound(taskID)
	}
	return row.ResultSummary, nil
}

// PermanentlyDelete implements spec.md §4.9's permanently_delete_task:
// requires terminal or expired; deletes events then the row.
func (m *TaskManager) PermanentlyDelete(taskID string) error {
	row, ok := m.store.Get(taskID)
	if !ok {
		return newNotFound(taskID)
	}
	if !row.HasEnded(time.Now().UTC()) {
		return newConflict(taskID, "cannot permanently delete a non-terminal, non-expired task")
	}
	if !m.store.HardDelete(taskID) {
		return newNotFound(taskID)
	}
	return nil
}

// Shutdown cancels all in-flight tasks with force=true and awaits every
// supervisor goroutine (spec.md §5 "On shutdown, the runner cancels all
// tasks currently in RUNNING or PENDING with force=true").
func (m *TaskManager) Shutdown() error {
	m.shutdown.Store(true)

	m.mu.Lock()
	for _, h := range m.monitors {
		h.cancel()
	}
	for _, h := range m.timeouts {
		h.cancel()
	}
	m.mu.Unlock()

	page, err := m.store.List(ListOptions{Filters: Filters{ActiveOnly: true}, Limit: 0})
	var errs error
	if err == nil {
		for _, row := range page.Tasks {
			if row.Status.Terminal() {
				continue
			}
			runner, err := LookupRunner(row.TaskType)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), cancelGraceWait)
			if err := runner.Cancel(ctx, row, true); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("task %s: %w", row.TaskID, err))
			}
			runner.Shutdown(row)
			cancel()
		}
	}

	m.supervisor.Wait()
	return errs
}
