package task

// SQL Runner (C9). Opens a gateway session, executes a sequence of
// statements, tracks remote operation handles. Grounded on
// original_source/api/resinkit_api/services/agent/flink/flink_sql_runner.py
// (session property shape, per-statement fetch/poll loop, result
// aggregation) and flink_operation.py's ResultsFetchOpts defaults.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const sqlRunnerTaskType = "flink_sql"

// SqlTask is the typed, variable-substituted representation of a flink_sql
// submission (spec.md §4.2).
type SqlTask struct {
	TaskID      string
	SQL         string
	PipelineName string
	Parallelism int
	Resources   Document

	ConnectionTimeoutSeconds int
}

// statements splits SQL by terminating ';' at line-end, skipping blank and
// '--'-prefixed lines (spec.md §4.2).
func (t *SqlTask) statements() []string {
	var out []string
	for _, rawLine := range strings.Split(t.SQL, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		out = append(out, line)
	}

	var stmts []string
	var cur strings.Builder
	for _, line := range out {
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		if strings.HasSuffix(line, ";") {
			stmts = append(stmts, strings.TrimSuffix(cur.String(), ";"))
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		stmts = append(stmts, cur.String())
	}
	return stmts
}

// sqlSessionState is the runner-owned in-memory state for one in-flight SQL
// task (spec.md §5 "Shared-resource policy").
type sqlSessionState struct {
	mu         sync.Mutex
	session    *GatewaySession
	operations []*GatewayOperation
	lastStatus string
}

// SqlRunner drives the gateway-session-based SQL engine.
type SqlRunner struct {
	gateway *GatewayClient

	mu       sync.Mutex
	sessions map[string]*sqlSessionState // task_id -> state
}

func NewSqlRunner(gateway *GatewayClient) *SqlRunner {
	return &SqlRunner{gateway: gateway, sessions: make(map[string]*sqlSessionState)}
}

func (r *SqlRunner) Name() string { return sqlRunnerTaskType }

// ValidateConfig enforces §4.2's SqlTask validation rules: at least one
// statement, parallelism > 0, task_timeout_seconds > 0, each flink_jars
// entry has a name and either location or source.
func (r *SqlRunner) ValidateConfig(cfg Document) error {
	job, _ := cfg["job"].(Document)
	if job == nil {
		if m, ok := cfg["job"].(map[string]any); ok {
			job = Document(m)
		}
	}
	sql := stringField(job, "sql")
	if strings.TrimSpace(sql) == "" {
		return newInvalidTask("flink_sql: 'job.sql' is required")
	}
	tmp := &SqlTask{SQL: sql}
	if len(tmp.statements()) == 0 {
		return newInvalidTask("flink_sql: 'job.sql' contains no statements")
	}

	pipeline, _ := job["pipeline"].(Document)
	if pipeline == nil {
		if m, ok := job["pipeline"].(map[string]any); ok {
			pipeline = Document(m)
		}
	}
	if n, ok := docInt(pipeline, "parallelism"); ok && n <= 0 {
		return newInvalidTask("flink_sql: 'job.pipeline.parallelism' must be > 0")
	}
	if n, ok := docInt(cfg, "task_timeout_seconds"); ok && n <= 0 {
		return newInvalidTask("flink_sql: 'task_timeout_seconds' must be > 0")
	}

	resources, _ := cfg["resources"].(Document)
	if resources == nil {
		if m, ok := cfg["resources"].(map[string]any); ok {
			resources = Document(m)
		}
	}
	for _, e := range decodeJarEntries(resources["flink_jars"]) {
		if e.Name == "" {
			return newInvalidTask("flink_sql: every 'resources.flink_jars' entry requires 'name'")
		}
		if e.Location == "" && e.Source == "" {
			return newInvalidTask("flink_sql: flink_jars entry %q requires 'location' or 'source'", e.Name)
		}
	}
	return nil
}

// FromDAO builds a SqlTask from a stored task row; variables are expected to
// have already been applied to row.SubmittedConfigs by the caller.
func (r *SqlRunner) FromDAO(row *Task, variables map[string]string) *SqlTask {
	rendered, _ := RenderWithVariables(row.SubmittedConfigs, variables).(Document)

	job := asDocument(rendered["job"])
	pipeline := asDocument(job["pipeline"])
	resources := asDocument(rendered["resources"])

	parallelism, _ := docInt(pipeline, "parallelism")
	if parallelism == 0 {
		parallelism = 1
	}
	connTimeout, _ := docInt(rendered, "connection_timeout_seconds")
	if connTimeout == 0 {
		connTimeout = 10
	}

	return &SqlTask{
		TaskID:                   row.TaskID,
		SQL:                      stringField(job, "sql"),
		PipelineName:             stringField(pipeline, "name"),
		Parallelism:              parallelism,
		Resources:                resources,
		ConnectionTimeoutSeconds: connTimeout,
	}
}

func asDocument(v any) Document {
	switch d := v.(type) {
	case Document:
		return d
	case map[string]any:
		return Document(d)
	default:
		return Document{}
	}
}

// SubmitTask implements spec.md §4.8's five submission steps.
func (r *SqlRunner) SubmitTask(ctx context.Context, row *Task, updater StatusUpdater) error {
	task := r.FromDAO(row, nil)

	resMgr, err := NewResourceManager("", "", "")
	if err != nil {
		return r.fail(row.TaskID, updater, "init resource manager", err)
	}
	resolved, err := resMgr.ProcessResources(decodeJarEntries(task.Resources["flink_jars"]), nil)
	if err != nil {
		return r.fail(row.TaskID, updater, "resolve jars", err)
	}

	props := map[string]string{
		"pipeline.jars":              strings.Join(resolved.JarPaths, ","),
		"pipeline.classpaths":        strings.Join(resolved.ClasspathJars, ";"),
		"parallelism.default":        strconv.Itoa(task.Parallelism),
		"execution.runtime-mode":     "streaming",
		"pipeline.name":              task.PipelineName,
	}

	sessionName := "session_" + row.TaskID
	session, err := r.gateway.OpenSession(ctx, sessionName, props)
	if err != nil {
		return r.fail(row.TaskID, updater, "open gateway session", err)
	}

	state := &sqlSessionState{session: session}
	r.mu.Lock()
	r.sessions[row.TaskID] = state
	r.mu.Unlock()

	resultSummary := Document{}
	var rows []map[string]any
	var lastStatus string

	for _, stmt := range task.statements() {
		op, err := session.Execute(ctx, stmt)
		if err != nil {
			return r.fail(row.TaskID, updater, fmt.Sprintf("execute statement %q", stmt), err)
		}
		state.mu.Lock()
		state.operations = append(state.operations, op)
		state.mu.Unlock()

		fetched, err := op.Fetch(ctx, FetchOpts{
			PollInterval: 500 * time.Millisecond,
			MaxPoll:      time.Duration(task.ConnectionTimeoutSeconds) * time.Second,
			RowLimit:     100,
		})
		if err != nil {
			return r.fail(row.TaskID, updater, fmt.Sprintf("fetch result %q", stmt), err)
		}
		rows = append(rows, fetched.Rows...)
		if fetched.JobID != "" {
			resultSummary["job_id"] = fetched.JobID
		}
		resultSummary["is_query_result"] = fetched.IsQueryResult

		lastStatus, err = op.Status(ctx)
		if err != nil {
			return r.fail(row.TaskID, updater, fmt.Sprintf("statement status %q", stmt), err)
		}
		state.mu.Lock()
		state.lastStatus = lastStatus
		state.mu.Unlock()
	}

	resultSummary["rows"] = rows

	status := StatusRunning
	if lastStatus == "FINISHED" {
		status = StatusCompleted
	}

	_, err = updater.UpdateStatus(row.TaskID, status, "system", StatusUpdateFields{
		ExecutionDetails: Document{
			"log_file":     fmt.Sprintf("/tmp/flink_sql_%s.log", row.TaskID),
			"session_name": sessionName,
			"session_id":   session.Handle(),
		},
		ResultSummary: resultSummary,
	})
	return err
}

func (r *SqlRunner) fail(taskID string, updater StatusUpdater, step string, cause error) error {
	_, _ = updater.UpdateStatus(taskID, StatusFailed, "system", StatusUpdateFields{
		ErrorInfo: Document{
			"error":      fmt.Sprintf("%s: %v", step, cause),
			"error_type": string(ErrTypeExecution),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	return NewExecutionError(taskID, step, cause)
}

// FetchTaskStatus asks the gateway for the status of the last-submitted
// operation in the task's session (spec.md §4.8).
func (r *SqlRunner) FetchTaskStatus(ctx context.Context, row *Task) (Status, error) {
	r.mu.Lock()
	state, ok := r.sessions[row.TaskID]
	r.mu.Unlock()
	if !ok {
		return row.Status, nil
	}

	if !state.session.Alive(ctx) {
		return StatusCompleted, nil
	}

	state.mu.Lock()
	ops := append([]*GatewayOperation(nil), state.operations...)
	state.mu.Unlock()
	if len(ops) == 0 {
		return row.Status, nil
	}
	last := ops[len(ops)-1]

	status, err := last.Status(ctx)
	if err != nil {
		return StatusRunning, nil // transient I/O: monitor continues
	}
	switch status {
	case "RUNNING", "PENDING":
		return StatusRunning, nil
	case "FINISHED":
		return StatusCompleted, nil
	case "ERROR":
		return StatusFailed, nil
	default:
		return StatusRunning, nil
	}
}

func (r *SqlRunner) GetLogSummary(row *Task, level LogLevel, maxEntries int) []LogEntry {
	logFile := fmt.Sprintf("/tmp/flink_sql_%s.log", row.TaskID)
	mgr := NewLogFileManager(logFile, logRingLimit)
	return mgr.Summary(level, maxEntries)
}

func (r *SqlRunner) GetResult(row *Task) Document {
	return row.ResultSummary
}

// Cancel issues a cancel RPC for every recorded operation handle in the
// session (spec.md §4.8). If the session is already gone (unknown or no
// longer alive), it issues no RPC and returns nil, so the caller records the
// task as CANCELLED, not COMPLETED.
func (r *SqlRunner) Cancel(ctx context.Context, row *Task, force bool) error {
	r.mu.Lock()
	state, ok := r.sessions[row.TaskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if !state.session.Alive(ctx) {
		return nil
	}

	state.mu.Lock()
	ops := append([]*GatewayOperation(nil), state.operations...)
	state.mu.Unlock()

	var firstErr error
	for _, op := range ops {
		if err := op.Cancel(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *SqlRunner) Shutdown(row *Task) error {
	r.mu.Lock()
	state, ok := r.sessions[row.TaskID]
	delete(r.sessions, row.TaskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return state.session.Close(context.Background())
}
