package task

// CDC Pipeline Runner (C8). Launches an external flink-cdc.sh subprocess and
// supervises it to terminality. Grounded on
// original_source/api/resinkit_api/services/agent/flink/flink_cdc_pipeline_runner.py
// (submission steps, job-id scrape regex, exit-code mapping) and the
// teacher's subprocess-launch idiom in internal/daemon/daemon.go.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

const cdcRunnerTaskType = "flink_cdc_pipeline"

var cdcJobIDPattern = regexp.MustCompile(`Job has been submitted with JobID ([a-f0-9]+)`)

// CdcPipelineTask is the typed, variable-substituted representation of a
// flink_cdc_pipeline submission (spec.md §4.2).
type CdcPipelineTask struct {
	TaskID  string
	Job     Document
	Runtime Document
	Resources Document

	Environment map[string]string
	LogFile     string
}

func (t *CdcPipelineTask) savepointPath() string {
	return stringField(t.Runtime, "savepoint_path")
}
func (t *CdcPipelineTask) allowNonRestoredState() bool {
	v, _ := t.Runtime["allow_non_restored_state"].(bool)
	return v
}
func (t *CdcPipelineTask) claimMode() string  { return stringField(t.Runtime, "claim_mode") }
func (t *CdcPipelineTask) target() string     { return stringField(t.Runtime, "target") }
func (t *CdcPipelineTask) useMiniCluster() bool {
	v, _ := t.Runtime["use_mini_cluster"].(bool)
	return v
}
func (t *CdcPipelineTask) globalConfig() string { return stringField(t.Runtime, "global_config") }

func (t *CdcPipelineTask) resourceEntries(key string) []JarEntry {
	v, ok := t.Resources[key]
	if !ok {
		return nil
	}
	return decodeJarEntries(v)
}

// cdcProcState is the in-memory, runner-owned supervision state for one
// in-flight CDC task. The runner, not the TaskManager, owns this (spec.md §5
// "Shared-resource policy").
type cdcProcState struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	logFile   *os.File
	jobID     string
	resources *ResourceManager
	exited    bool
	exitCode  int
	exitErr   error
}

// CdcRunner drives the subprocess-based CDC engine.
type CdcRunner struct {
	flinkHome    string
	flinkCDCHome string
	tempDirBase  string
	jobManager   *JobManagerClient

	mu    sync.Mutex
	procs map[string]*cdcProcState // task_id -> state
}

func NewCdcRunner(flinkHome, flinkCDCHome, tempDirBase string, jobManager *JobManagerClient) *CdcRunner {
	return &CdcRunner{
		flinkHome:    flinkHome,
		flinkCDCHome: flinkCDCHome,
		tempDirBase:  tempDirBase,
		jobManager:   jobManager,
		procs:        make(map[string]*cdcProcState),
	}
}

func (r *CdcRunner) Name() string { return cdcRunnerTaskType }

// ValidateConfig only asserts the presence of job, matching TaskBase.validate
// plus §4.2's CdcPipelineTask requirement that job be present.
func (r *CdcRunner) ValidateConfig(cfg Document) error {
	if cfg["job"] == nil {
		return newInvalidTask("flink_cdc_pipeline: 'job' is required")
	}
	return nil
}

// FromDAO builds a CdcPipelineTask from a stored task row, applying variable
// substitution over the full submitted_configs document first.
func (r *CdcRunner) FromDAO(row *Task, variables map[string]string) *CdcPipelineTask {
	rendered, _ := RenderWithVariables(row.SubmittedConfigs, variables).(Document)

	t := &CdcPipelineTask{
		TaskID:  row.TaskID,
		LogFile: fmt.Sprintf("/tmp/flink_cdc_%s.log", row.TaskID),
	}
	if j, ok := rendered["job"].(Document); ok {
		t.Job = j
	} else if j, ok := rendered["job"].(map[string]any); ok {
		t.Job = Document(j)
	}
	if rt, ok := rendered["runtime"].(Document); ok {
		t.Runtime = rt
	} else if rt, ok := rendered["runtime"].(map[string]any); ok {
		t.Runtime = Document(rt)
	}
	if res, ok := rendered["resources"].(Document); ok {
		t.Resources = res
	} else if res, ok := rendered["resources"].(map[string]any); ok {
		t.Resources = Document(res)
	}
	if env, ok := rendered["environment"].(map[string]any); ok {
		t.Environment = make(map[string]string, len(env))
		for k, v := range env {
			if s, ok := v.(string); ok {
				t.Environment[k] = s
			}
		}
	}
	return t
}

// SubmitTask implements spec.md §4.7's seven submission steps.
func (r *CdcRunner) SubmitTask(ctx context.Context, row *Task, updater StatusUpdater) error {
	task := r.FromDAO(row, nil) // variables already applied by caller's from_dao step

	env := buildSubprocessEnv(task.Environment, r.flinkHome)

	workDir, err := os.MkdirTemp(r.tempDirBase, "cdc-"+row.TaskID+"-")
	if err != nil {
		return r.fail(row.TaskID, updater, "create work dir", err)
	}

	jobConfigPath := filepath.Join(workDir, "job-config.yaml")
	jobYAML, err := yaml.Marshal(task.Job)
	if err != nil {
		return r.fail(row.TaskID, updater, "marshal job config", err)
	}
	if err := os.WriteFile(jobConfigPath, jobYAML, 0o644); err != nil {
		return r.fail(row.TaskID, updater, "write job config", err)
	}

	resMgr, err := NewResourceManager(r.flinkHome, r.flinkCDCHome, r.tempDirBase)
	if err != nil {
		return r.fail(row.TaskID, updater, "init resource manager", err)
	}
	resolved, err := resMgr.ProcessResources(
		task.resourceEntries("flink_jars"),
		task.resourceEntries("flink_cdc_jars"),
	)
	if err != nil {
		return r.fail(row.TaskID, updater, "resolve jars", err)
	}
	if len(resolved.ClasspathJars) > 0 {
		existing := env["CLASSPATH"]
		parts := append([]string{}, resolved.ClasspathJars...)
		if existing != "" {
			parts = append(parts, existing)
		}
		env["CLASSPATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	args := r.buildArgs(task, resolved, jobConfigPath)
	cmdPath := filepath.Join(r.flinkCDCHome, "bin", "flink-cdc.sh")
	cmd := exec.CommandContext(context.Background(), cmdPath, args...)
	cmd.Env = envToSlice(env)

	logFile, err := os.OpenFile(task.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return r.fail(row.TaskID, updater, "open log file", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return r.fail(row.TaskID, updater, "start subprocess", err)
	}

	state := &cdcProcState{cmd: cmd, logFile: logFile, resources: resMgr}
	r.mu.Lock()
	r.procs[row.TaskID] = state
	r.mu.Unlock()

	go r.awaitExit(row.TaskID, state)

	_, err = updater.UpdateStatus(row.TaskID, StatusRunning, "system", StatusUpdateFields{
		ExecutionDetails: Document{
			"log_file": task.LogFile,
			"command":  append([]string{cmdPath}, args...),
		},
	})
	return err
}

func (r *CdcRunner) awaitExit(taskID string, state *cdcProcState) {
	err := state.cmd.Wait()
	state.mu.Lock()
	state.exited = true
	state.exitErr = err
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			state.exitCode = status.ExitStatus()
		} else {
			state.exitCode = 1
		}
	} else if err == nil {
		state.exitCode = 0
	} else {
		state.exitCode = -1
	}
	state.mu.Unlock()
	state.logFile.Close()
}

func (r *CdcRunner) buildArgs(task *CdcPipelineTask, resolved ResolvedResources, jobConfigPath string) []string {
	args := []string{"--flink-home", r.flinkHome}
	if len(resolved.JarPaths) > 0 {
		args = append(args, "--jar", strings.Join(resolved.JarPaths, ","))
	}
	if sp := task.savepointPath(); sp != "" {
		args = append(args, "--from-savepoint", sp)
		if task.allowNonRestoredState() {
			args = append(args, "--allow-nonRestored-state")
		}
	}
	if cm := task.claimMode(); cm != "" {
		args = append(args, "--claim-mode", cm)
	}
	if tg := task.target(); tg != "" {
		args = append(args, "--target", tg)
	}
	if task.useMiniCluster() {
		args = append(args, "--use-mini-cluster")
	}
	if gc := task.globalConfig(); gc != "" {
		args = append(args, "--global-config", gc)
	}
	args = append(args, jobConfigPath)
	return args
}

func (r *CdcRunner) fail(taskID string, updater StatusUpdater, step string, cause error) error {
	_, _ = updater.UpdateStatus(taskID, StatusFailed, "system", StatusUpdateFields{
		ErrorInfo: Document{
			"error":      fmt.Sprintf("%s: %v", step, cause),
			"error_type": string(ErrTypeExecution),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	return NewExecutionError(taskID, step, cause)
}

// FetchTaskStatus implements spec.md §4.7's status-fetch rules.
func (r *CdcRunner) FetchTaskStatus(ctx context.Context, row *Task) (Status, error) {
	r.mu.Lock()
	state, ok := r.procs[row.TaskID]
	r.mu.Unlock()
	if !ok {
		return row.Status, nil
	}

	state.mu.Lock()
	exited, exitCode := state.exited, state.exitCode
	jobID := state.jobID
	state.mu.Unlock()

	if exited {
		if exitCode == 0 {
			return StatusCompleted, nil
		}
		return StatusFailed, nil
	}

	if jobID == "" {
		if found := r.scrapeJobID(row); found != "" {
			state.mu.Lock()
			state.jobID = found
			state.mu.Unlock()
			jobID = found
		}
	}
	if jobID == "" {
		return StatusRunning, nil
	}

	if r.jobManager == nil {
		return StatusRunning, nil
	}
	details, err := r.jobManager.GetJobDetails(ctx, jobID)
	if err != nil {
		return StatusRunning, nil // transient I/O: monitor continues
	}
	return MapJobManagerState(details.State), nil
}

func (r *CdcRunner) scrapeJobID(row *Task) string {
	logFile := fmt.Sprintf("/tmp/flink_cdc_%s.log", row.TaskID)
	data, err := os.ReadFile(logFile)
	if err != nil {
		return ""
	}
	m := cdcJobIDPattern.FindSubmatch(data)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// GetLogSummary reads the per-task log file, uniformly capped at maxEntries
// (SPEC_FULL.md Resolved Open Question 4).
func (r *CdcRunner) GetLogSummary(row *Task, level LogLevel, maxEntries int) []LogEntry {
	logFile := fmt.Sprintf("/tmp/flink_cdc_%s.log", row.TaskID)
	mgr := NewLogFileManager(logFile, logRingLimit)
	return mgr.Summary(level, maxEntries)
}

// GetResult reports the process exit outcome (spec.md §4.7: exit code 0 ⇒
// success, non-zero ⇒ failure, exit code always captured). Falls back to
// whatever was last persisted once the runner no longer holds live process
// state (e.g. after a daemon restart).
func (r *CdcRunner) GetResult(row *Task) Document {
	r.mu.Lock()
	state, ok := r.procs[row.TaskID]
	r.mu.Unlock()
	if !ok {
		return row.ResultSummary
	}

	state.mu.Lock()
	exited, exitCode, jobID := state.exited, state.exitCode, state.jobID
	state.mu.Unlock()
	if !exited {
		return row.ResultSummary
	}

	return Document{
		"success":   exitCode == 0,
		"exit_code": exitCode,
		"job_id":    jobID,
	}
}

// Cancel escalates terminate → wait(30s) → kill (spec.md §5).
func (r *CdcRunner) Cancel(ctx context.Context, row *Task, force bool) error {
	r.mu.Lock()
	state, ok := r.procs[row.TaskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	cmd := state.cmd
	already := state.exited
	state.mu.Unlock()
	if already {
		return nil
	}

	if force {
		return cmd.Process.Kill()
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}

	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return cmd.Process.Kill()
		case <-tick.C:
			state.mu.Lock()
			exited := state.exited
			state.mu.Unlock()
			if exited {
				return nil
			}
		case <-ctx.Done():
			return cmd.Process.Kill()
		}
	}
}

func (r *CdcRunner) Shutdown(row *Task) error {
	r.mu.Lock()
	state, ok := r.procs[row.TaskID]
	delete(r.procs, row.TaskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if state.resources != nil {
		state.resources.Cleanup()
	}
	return nil
}

// buildSubprocessEnv copies the process environment, layers string-valued
// entries from env on top, and ensures FLINK_HOME is set — per-subprocess,
// never by mutating the control-plane's own os.Environ (SPEC_FULL.md
// Resolved Open Question 5).
func buildSubprocessEnv(env map[string]string, flinkHome string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range env {
		out[k] = v
	}
	if out["FLINK_HOME"] == "" {
		out["FLINK_HOME"] = flinkHome
	}
	return out
}

func envToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
