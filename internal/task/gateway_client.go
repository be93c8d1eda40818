package task

// Gateway Session/Operation Client (C4). A thin state-tracking wrapper over
// the Flink SQL Gateway's session/operation REST protocol, grounded on
// original_source/api/resinkit_api/clients/sql_gateway/
// flink_sql_gateway_client.py, flink_session.py and flink_operation.py
// (ResultsFetchOpts poll/row-limit shape; Status/Fetch/Close/Cancel).

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// GatewayClient talks to the SQL gateway's REST endpoints.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

// NewGatewayClient builds a client whose transport is configured for h2c
// (cleartext HTTP/2), since the gateway serves plain REST over HTTP and the
// Flink SQL Gateway accepts HTTP/2 prior knowledge on its REST port.
func NewGatewayClient(baseURL string) *GatewayClient {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLS: func(network, addr string, cfg *tls.Config) (net.Conn, error) {
			return net.Dial(network, addr)
		},
	}
	return &GatewayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second, Transport: transport},
	}
}

type sessionOpenResponse struct {
	SessionHandle string `json:"sessionHandle"`
}

// OpenSession creates a session named name with the given properties
// (create-if-not-exists per spec.md §4.8 step 2).
func (c *GatewayClient) OpenSession(ctx context.Context, name string, properties map[string]string) (*GatewaySession, error) {
	body := map[string]any{
		"sessionName": name,
		"properties":  properties,
	}
	var resp sessionOpenResponse
	if err := c.post(ctx, "/v1/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("gateway: open session %s: %w", name, err)
	}
	return &GatewaySession{client: c, name: name, handle: resp.SessionHandle}, nil
}

// GatewaySession is a remote stateful context sharing configuration and
// lifecycle across a sequence of SQL statements (GLOSSARY: Session).
type GatewaySession struct {
	client *GatewayClient
	name   string
	handle string
}

func (s *GatewaySession) Name() string   { return s.name }
func (s *GatewaySession) Handle() string { return s.handle }

type statementResponse struct {
	OperationHandle string `json:"operationHandle"`
}

// Execute submits sql and returns the resulting operation handle.
func (s *GatewaySession) Execute(ctx context.Context, sql string) (*GatewayOperation, error) {
	var resp statementResponse
	path := fmt.Sprintf("/v1/sessions/%s/statements", s.handle)
	if err := s.client.post(ctx, path, map[string]any{"statement": sql}, &resp); err != nil {
		return nil, fmt.Errorf("gateway: execute statement: %w", err)
	}
	return &GatewayOperation{session: s, handle: resp.OperationHandle}, nil
}

// Alive reports whether the remote session still exists.
func (s *GatewaySession) Alive(ctx context.Context) bool {
	var out map[string]any
	err := s.client.get(ctx, fmt.Sprintf("/v1/sessions/%s", s.handle), &out)
	return err == nil
}

func (s *GatewaySession) Close(ctx context.Context) error {
	return s.client.del(ctx, fmt.Sprintf("/v1/sessions/%s", s.handle))
}

// FetchOpts bounds a result-fetch poll loop (spec.md §4.8 step 3).
type FetchOpts struct {
	PollInterval time.Duration
	MaxPoll      time.Duration
	RowLimit     int
}

// FetchResult is one page of statement results.
type FetchResult struct {
	Columns       []string         `json:"columns,omitempty"`
	Rows          []map[string]any `json:"data,omitempty"`
	JobID         string           `json:"jobID,omitempty"`
	IsQueryResult bool             `json:"isQueryResult,omitempty"`
	ResultType    string           `json:"resultType,omitempty"`
}

// GatewayOperation is a remote handle to a single in-flight statement
// within a session (GLOSSARY: Operation handle).
type GatewayOperation struct {
	session *GatewaySession
	handle  string
}

func (o *GatewayOperation) Handle() string { return o.handle }

// Status returns the operation's textual status (RUNNING/FINISHED/ERROR/…).
func (o *GatewayOperation) Status(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v1/sessions/%s/operations/%s/status", o.session.handle, o.handle)
	if err := o.session.client.get(ctx, path, &out); err != nil {
		return "", fmt.Errorf("gateway: operation status: %w", err)
	}
	return out.Status, nil
}

// Fetch polls for result rows up to opts.MaxPoll, honoring opts.RowLimit.
func (o *GatewayOperation) Fetch(ctx context.Context, opts FetchOpts) (FetchResult, error) {
	deadline := time.Now().Add(opts.MaxPoll)
	token := "0"
	var agg FetchResult

	for {
		var page FetchResult
		path := fmt.Sprintf("/v1/sessions/%s/operations/%s/result/%s", o.session.handle, o.handle, token)
		if err := o.session.client.get(ctx, path, &page); err != nil {
			return agg, fmt.Errorf("gateway: fetch result: %w", err)
		}
		if agg.Columns == nil {
			agg.Columns = page.Columns
		}
		if agg.JobID == "" {
			agg.JobID = page.JobID
		}
		agg.IsQueryResult = page.IsQueryResult
		agg.Rows = append(agg.Rows, page.Rows...)
		if opts.RowLimit > 0 && len(agg.Rows) >= opts.RowLimit {
			agg.Rows = agg.Rows[:opts.RowLimit]
			return agg, nil
		}
		if page.ResultType == "EOS" || opts.MaxPoll <= 0 || time.Now().After(deadline) {
			return agg, nil
		}
		select {
		case <-ctx.Done():
			return agg, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}

func (o *GatewayOperation) Cancel(ctx context.Context) error {
	path := fmt.Sprintf("/v1/sessions/%s/operations/%s/cancel", o.session.handle, o.handle)
	return o.session.client.post(ctx, path, nil, nil)
}

func (o *GatewayOperation) Close(ctx context.Context) error {
	path := fmt.Sprintf("/v1/sessions/%s/operations/%s/close", o.session.handle, o.handle)
	return o.session.client.del(ctx, path)
}

func (c *GatewayClient) post(ctx context.Context, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *GatewayClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *GatewayClient) del(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *GatewayClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
