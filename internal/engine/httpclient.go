package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nyakairu/prosa/model"
)

// maxResponseBytes caps engine response bodies.
const maxResponseBytes = 10 << 20

// HTTPOptions configure the HTTP engine client.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration

	// Circuit breaker thresholds. Zero values fall back to breaker defaults.
	FailureThreshold int
	SuccessThreshold int
	BreakerTimeout   time.Duration
}

// HTTPClient talks to the execution engine over its JSON REST API. All calls
// go through a shared circuit breaker; an open breaker short-circuits to
// ENGINE_UNAVAILABLE without touching the network.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
}

// NewHTTPClient creates an engine client for the given base URL.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(opts.FailureThreshold, opts.SuccessThreshold, opts.BreakerTimeout),
	}
}

// Deploy registers a process model and returns the engine deployment id.
func (c *HTTPClient) Deploy(ctx context.Context, req DeployRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/deployments", req, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", model.NewRuntimeFailureError(
			"engine returned a deployment without an id",
			fmt.Errorf("empty deployment id for %q", req.Name),
		)
	}
	return out.ID, nil
}

// Undeploy removes a deployment, cascading to running instances if requested.
func (c *HTTPClient) Undeploy(ctx context.Context, deploymentID string, cascade bool) error {
	path := "/v1/deployments/" + url.PathEscape(deploymentID)
	if cascade {
		path += "?cascade=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// StartProcess starts a new instance of a deployed process.
func (c *HTTPClient) StartProcess(ctx context.Context, req StartRequest) (Instance, error) {
	var out Instance
	if err := c.do(ctx, http.MethodPost, "/v1/process-instances", req, &out); err != nil {
		return Instance{}, err
	}
	return out, nil
}

// Instance retrieves a single instance by id.
func (c *HTTPClient) Instance(ctx context.Context, instanceID string) (Instance, error) {
	var out Instance
	path := "/v1/process-instances/" + url.PathEscape(instanceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Instance{}, err
	}
	return out, nil
}

// FindInstances returns instances matching the filter.
func (c *HTTPClient) FindInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error) {
	params := url.Values{}
	if filter.StartedBy != "" {
		params.Set("started_by", filter.StartedBy)
	}
	if filter.InvolvedAssignee != "" {
		params.Set("involved_assignee", filter.InvolvedAssignee)
	}
	if filter.ActiveOnly {
		params.Set("active", "true")
	}
	path := "/v1/process-instances"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out []Instance
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveTasks returns the open user tasks of an instance.
func (c *HTTPClient) ActiveTasks(ctx context.Context, instanceID string) ([]Task, error) {
	var out []Task
	path := "/v1/process-instances/" + url.PathEscape(instanceID) + "/tasks"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetVariables merges variables into the scope of a task.
func (c *HTTPClient) SetVariables(ctx context.Context, taskID string, variables map[string]any) error {
	body := map[string]any{"variables": variables}
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/variables"
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// CompleteTask completes an open user task.
func (c *HTTPClient) CompleteTask(ctx context.Context, taskID string) error {
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/complete"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// HealthCheck probes the engine health endpoint.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// BreakerState exposes the breaker state for readiness reporting.
func (c *HTTPClient) BreakerState() BreakerState {
	return c.breaker.State()
}

// do executes a single engine request with circuit breaker protection and
// decodes the JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return model.NewEngineUnavailableError("execution engine circuit breaker is open")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("engine: marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if isConnectionError(err) {
			return model.NewEngineUnavailableError("execution engine is unreachable")
		}
		if ctx.Err() != nil {
			return model.NewRuntimeFailureError("engine call cancelled", err)
		}
		return model.NewRuntimeFailureError("engine call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return model.NewRuntimeFailureError("read engine response", err)
	}

	// 4xx responses are caller errors, not engine outages; only 5xx counts
	// against the breaker.
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return model.NewRuntimeFailureError(
			"execution engine rejected the request",
			fmt.Errorf("engine: %s %s: status %d: %s", method, path, resp.StatusCode, engineMessage(respBody)),
		)
	}
	c.breaker.RecordSuccess()

	if resp.StatusCode == http.StatusNotFound {
		return model.NewNotFoundError(engineMessage(respBody))
	}
	if resp.StatusCode >= 400 {
		return model.NewRuntimeFailureError(
			"execution engine rejected the request",
			fmt.Errorf("engine: %s %s: status %d: %s", method, path, resp.StatusCode, engineMessage(respBody)),
		)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return model.NewRuntimeFailureError("decode engine response", err)
		}
	}
	return nil
}

// engineMessage extracts the message field from an engine error body, falling
// back to the raw body.
func engineMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "engine returned no detail"
	}
	return msg
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
