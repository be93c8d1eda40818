// Package command implements the control-plane command surface shared by
// the Unix domain socket server and the optional Kafka command channel.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resinkit-ai/agent-core/internal/metrics"
	"github.com/resinkit-ai/agent-core/internal/task"
)

// CommandHandler dispatches control-plane commands against a TaskManager
// and VariableStore.
type CommandHandler struct {
	taskManager    *task.TaskManager
	variables      *task.VariableStore
	configReloader ConfigReloader
	shutdownFunc   func()
	startTime      time.Time
}

// ConfigReloader reloads the daemon's global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a command handler bound to tm and vars.
func NewCommandHandler(tm *task.TaskManager, vars *task.VariableStore, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		taskManager:    tm,
		variables:      vars,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by daemon_shutdown.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command is a single control-plane request.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response is a single control-plane reply.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo is the JSON-RPC-style error payload of a failed Response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 reserved error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle dispatches cmd to the matching handler method.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	var resp Response
	switch cmd.Method {
	case "task_submit":
		resp = h.handleTaskSubmit(ctx, cmd)
	case "task_get":
		resp = h.handleTaskGet(ctx, cmd)
	case "task_list":
		resp = h.handleTaskList(ctx, cmd)
	case "task_cancel":
		resp = h.handleTaskCancel(ctx, cmd)
	case "task_delete":
		resp = h.handleTaskDelete(ctx, cmd)
	case "task_logs":
		resp = h.handleTaskLogs(ctx, cmd)
	case "task_result":
		resp = h.handleTaskResult(ctx, cmd)
	case "task_events":
		resp = h.handleTaskEvents(ctx, cmd)
	case "variable_create":
		resp = h.handleVariableCreate(ctx, cmd)
	case "variable_list":
		resp = h.handleVariableList(ctx, cmd)
	case "variable_delete":
		resp = h.handleVariableDelete(ctx, cmd)
	case "config_reload":
		resp = h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		resp = h.handleDaemonShutdown(ctx, cmd)
	case "daemon_status":
		resp = h.handleDaemonStatus(ctx, cmd)
	case "ping":
		resp = Response{ID: cmd.ID, Result: map[string]interface{}{"pong": true}}
	default:
		resp = Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}

	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	metrics.CommandRequestsTotal.WithLabelValues(cmd.Method, outcome).Inc()
	return resp
}

func invalidParams(cmd Command, err error) Response {
	return Response{
		ID:    cmd.ID,
		Error: &ErrorInfo{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)},
	}
}

// taskErrorResponse maps a *task.TaskError to a JSON-RPC error code.
func taskErrorResponse(cmd Command, err error) Response {
	var taskErr *task.TaskError
	code := ErrCodeInternalError
	if errors.As(err, &taskErr) {
		switch taskErr.Type {
		case task.ErrTypeInvalidTask:
			code = ErrCodeInvalidParams
		case task.ErrTypeNotFound, task.ErrTypeRunnerNotFound:
			code = ErrCodeInvalidRequest
		case task.ErrTypeConflict:
			code = ErrCodeInvalidRequest
		}
	}
	return Response{ID: cmd.ID, Error: &ErrorInfo{Code: code, Message: err.Error()}}
}

// ─── Task commands ───

type taskSubmitParams struct {
	Config    task.Document `json:"config"`
	CreatedBy string        `json:"created_by"`
}

func (h *CommandHandler) handleTaskSubmit(_ context.Context, cmd Command) Response {
	var p taskSubmitParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "cli"
	}
	row, err := h.taskManager.Submit(p.Config, p.CreatedBy)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: row}
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

func (h *CommandHandler) handleTaskGet(_ context.Context, cmd Command) Response {
	var p taskIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	row, err := h.taskManager.Get(p.TaskID)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: row}
}

type taskListParams struct {
	Status     string   `json:"status"`
	TaskType   string   `json:"task_type"`
	CreatedBy  string   `json:"created_by"`
	ActiveOnly bool     `json:"active_only"`
	Tags       []string `json:"tags"`
	Skip       int      `json:"skip"`
	Limit      int      `json:"limit"`
}

func (h *CommandHandler) handleTaskList(_ context.Context, cmd Command) Response {
	var p taskListParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return invalidParams(cmd, err)
		}
	}
	page, err := h.taskManager.List(task.ListOptions{
		Filters: task.Filters{
			Status:         task.Status(p.Status),
			TaskType:       p.TaskType,
			CreatedBy:      p.CreatedBy,
			ActiveOnly:     p.ActiveOnly,
			TagsIncludeAny: p.Tags,
		},
		Skip:  p.Skip,
		Limit: p.Limit,
	})
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{
		"tasks":    page.Tasks,
		"has_more": page.HasMore,
	}}
}

type taskCancelParams struct {
	TaskID string `json:"task_id"`
	Force  bool   `json:"force"`
}

func (h *CommandHandler) handleTaskCancel(_ context.Context, cmd Command) Response {
	var p taskCancelParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	row, err := h.taskManager.Cancel(p.TaskID, p.Force)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: row}
}

func (h *CommandHandler) handleTaskDelete(_ context.Context, cmd Command) Response {
	var p taskIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if err := h.taskManager.PermanentlyDelete(p.TaskID); err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"task_id": p.TaskID, "status": "deleted"}}
}

type taskLogsParams struct {
	TaskID     string `json:"task_id"`
	Level      string `json:"level"`
	MaxEntries int    `json:"max_entries"`
}

func (h *CommandHandler) handleTaskLogs(_ context.Context, cmd Command) Response {
	var p taskLogsParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if p.MaxEntries <= 0 {
		p.MaxEntries = 100
	}
	entries, err := h.taskManager.GetLogSummary(p.TaskID, task.LogLevel(p.Level), p.MaxEntries)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"entries": entries}}
}

func (h *CommandHandler) handleTaskResult(_ context.Context, cmd Command) Response {
	var p taskIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	result, err := h.taskManager.GetResult(p.TaskID)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: result}
}

type taskEventsParams struct {
	TaskID string `json:"task_id"`
	Skip   int    `json:"skip"`
	Limit  int    `json:"limit"`
}

func (h *CommandHandler) handleTaskEvents(_ context.Context, cmd Command) Response {
	var p taskEventsParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	events, err := h.taskManager.GetEvents(p.TaskID, p.Skip, p.Limit)
	if err != nil {
		return taskErrorResponse(cmd, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"events": events}}
}

// ─── Variable commands ───

type variableCreateParams struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

func (h *CommandHandler) handleVariableCreate(_ context.Context, cmd Command) Response {
	var p variableCreateParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if p.Name == "" {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInvalidParams, Message: "name is required"}}
	}
	v, err := h.variables.Create(p.Name, p.Value, p.Description, p.CreatedBy)
	if err != nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: err.Error()}}
	}
	return Response{ID: cmd.ID, Result: v}
}

func (h *CommandHandler) handleVariableList(_ context.Context, cmd Command) Response {
	return Response{ID: cmd.ID, Result: map[string]interface{}{"variables": h.variables.List()}}
}

func (h *CommandHandler) handleVariableDelete(_ context.Context, cmd Command) Response {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if !h.variables.Delete(p.Name) {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInvalidRequest, Message: "variable not found"}}
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"name": p.Name, "status": "deleted"}}
}

// ─── Daemon commands ───

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: "config reloader not available"}}
	}
	if err := h.configReloader.Reload(); err != nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: fmt.Sprintf("reload config failed: %v", err)}}
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "reloaded"}}
}

func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: "shutdown handler not registered"}}
	}
	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "shutting_down"}}
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	page, _ := h.taskManager.List(task.ListOptions{Filters: task.Filters{ActiveOnly: true}})
	return Response{ID: cmd.ID, Result: map[string]interface{}{
		"uptime_sec":   int64(time.Since(h.startTime).Seconds()),
		"active_tasks": len(page.Tasks),
	}}
}
