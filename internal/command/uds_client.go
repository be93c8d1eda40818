package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over a Unix domain socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a client dialing socketPath with the given timeout
// (defaults to 10s if zero).
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{socketPath: socketPath, timeout: timeout}
}

// Call sends method/params and waits for the matching response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	return &Response{
		ID:     respIDStr,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// TaskSubmit is a convenience wrapper for task_submit.
func (c *UDSClient) TaskSubmit(ctx context.Context, config map[string]interface{}, createdBy string) (*Response, error) {
	return c.Call(ctx, "task_submit", map[string]interface{}{"config": config, "created_by": createdBy})
}

// TaskGet is a convenience wrapper for task_get.
func (c *UDSClient) TaskGet(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "task_get", map[string]interface{}{"task_id": taskID})
}

// TaskList is a convenience wrapper for task_list.
func (c *UDSClient) TaskList(ctx context.Context, filters map[string]interface{}) (*Response, error) {
	return c.Call(ctx, "task_list", filters)
}

// TaskCancel is a convenience wrapper for task_cancel.
func (c *UDSClient) TaskCancel(ctx context.Context, taskID string, force bool) (*Response, error) {
	return c.Call(ctx, "task_cancel", map[string]interface{}{"task_id": taskID, "force": force})
}

// TaskDelete is a convenience wrapper for task_delete.
func (c *UDSClient) TaskDelete(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "task_delete", map[string]interface{}{"task_id": taskID})
}

// TaskLogs is a convenience wrapper for task_logs.
func (c *UDSClient) TaskLogs(ctx context.Context, taskID, level string, maxEntries int) (*Response, error) {
	return c.Call(ctx, "task_logs", map[string]interface{}{"task_id": taskID, "level": level, "max_entries": maxEntries})
}

// TaskResult is a convenience wrapper for task_result.
func (c *UDSClient) TaskResult(ctx context.Context, taskID string) (*Response, error) {
	return c.Call(ctx, "task_result", map[string]interface{}{"task_id": taskID})
}

// TaskEvents is a convenience wrapper for task_events.
func (c *UDSClient) TaskEvents(ctx context.Context, taskID string, skip, limit int) (*Response, error) {
	return c.Call(ctx, "task_events", map[string]interface{}{"task_id": taskID, "skip": skip, "limit": limit})
}

// VariableCreate is a convenience wrapper for variable_create.
func (c *UDSClient) VariableCreate(ctx context.Context, name, value, description, createdBy string) (*Response, error) {
	return c.Call(ctx, "variable_create", map[string]interface{}{
		"name": name, "value": value, "description": description, "created_by": createdBy,
	})
}

// VariableList is a convenience wrapper for variable_list.
func (c *UDSClient) VariableList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "variable_list", nil)
}

// VariableDelete is a convenience wrapper for variable_delete.
func (c *UDSClient) VariableDelete(ctx context.Context, name string) (*Response, error) {
	return c.Call(ctx, "variable_delete", map[string]interface{}{"name": name})
}

// ConfigReload is a convenience wrapper for config_reload.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// DaemonStatus is a convenience wrapper for daemon_status.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// DaemonShutdown is a convenience wrapper for daemon_shutdown.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping checks whether the daemon is alive and responsive.
func (c *UDSClient) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("ping failed: %s", resp.Error.Message)
	}
	return nil
}
