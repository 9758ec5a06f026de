// Package openintent provides a thin Go client for the OpenIntent Chain
// REST API: intent submission, workflow compilation and execution, and
// execution polling.
package openintent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the execution polling cadence used by
// WaitUntilTerminal when the caller passes a non-positive interval.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the OpenIntent Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// IntentParams carries the on-chain parameters of an intent. Different
// intent types use different field subsets.
type IntentParams struct {
	SourceChainID uint64 `json:"source_chain_id,omitempty"`
	DestChainID   uint64 `json:"dest_chain_id,omitempty"`
	FromToken     string `json:"from_token,omitempty"`
	ToToken       string `json:"to_token,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	Domain        string `json:"domain,omitempty"`
}

// Intent describes a structured user intent.
type Intent struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Params    IntentParams   `json:"params"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
}

// IntentSubmission is the payload accepted by the intents endpoint. Either
// Text (to be parsed server side) or Type+Params must be set.
type IntentSubmission struct {
	Text     string         `json:"text,omitempty"`
	Type     string         `json:"type,omitempty"`
	Params   IntentParams   `json:"params"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Step is one unit of work inside a plan or execution.
type Step struct {
	ID          string         `json:"id"`
	Skill       string         `json:"skill"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Status      string         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	TxHash      string         `json:"tx_hash,omitempty"`
	StartedAt   int64          `json:"started_at,omitempty"`
	FinishedAt  int64          `json:"finished_at,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}

// Plan is a compiled dependency-annotated step graph.
type Plan struct {
	ID        string  `json:"id"`
	IntentID  string  `json:"intent_id"`
	ChainID   uint64  `json:"chain_id,omitempty"`
	Steps     []*Step `json:"steps"`
	CreatedAt int64   `json:"created_at"`
}

// Execution is a runtime instance of a plan.
type Execution struct {
	ID         string  `json:"id"`
	PlanID     string  `json:"plan_id"`
	IntentID   string  `json:"intent_id,omitempty"`
	ChainID    uint64  `json:"chain_id,omitempty"`
	Status     string  `json:"status"`
	Steps      []*Step `json:"steps"`
	Error      string  `json:"error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
	StartedAt  int64   `json:"started_at,omitempty"`
	FinishedAt int64   `json:"finished_at,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

// Terminal reports whether the execution reached a final state.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

// IntentResult bundles the artifacts produced by submitting an intent.
type IntentResult struct {
	Intent    *Intent    `json:"intent"`
	Plan      *Plan      `json:"plan"`
	Execution *Execution `json:"execution,omitempty"`
}

// Stats mirrors the aggregate counters exposed by the stats endpoint.
type Stats struct {
	Started           int64            `json:"started"`
	Completed         int64            `json:"completed"`
	Failed            int64            `json:"failed"`
	Cancelled         int64            `json:"cancelled"`
	AverageDurationMS float64          `json:"average_duration_ms"`
	SkillInvocations  map[string]int64 `json:"skill_invocations,omitempty"`
}

// ListExecutionsOptions filters the execution listing endpoint.
type ListExecutionsOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	IntentID string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openintent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openintent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the OpenIntent Chain API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetToken stores a static bearer token attached to subsequent requests.
// An empty token disables the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently stored bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SubmitIntent sends an intent (structured or free text) and returns the
// compiled plan, plus the execution when the server auto-executes.
func (c *Client) SubmitIntent(ctx context.Context, submission IntentSubmission) (IntentResult, error) {
	var result IntentResult
	if err := c.post(ctx, "/v1/intents", submission, &result); err != nil {
		return IntentResult{}, err
	}
	return result, nil
}

// CreateWorkflow compiles a structured intent into a plan without executing it.
func (c *Client) CreateWorkflow(ctx context.Context, in Intent) (Plan, error) {
	var plan Plan
	if err := c.post(ctx, "/v1/workflows", in, &plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// ExecuteWorkflow starts (or returns the existing) execution for a plan.
func (c *Client) ExecuteWorkflow(ctx context.Context, planID string) (Execution, error) {
	var execution Execution
	endpoint := fmt.Sprintf("/v1/workflows/%s/execute", url.PathEscape(planID))
	if err := c.post(ctx, endpoint, nil, &execution); err != nil {
		return Execution{}, err
	}
	return execution, nil
}

// GetExecution fetches the current snapshot of an execution.
func (c *Client) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	var execution Execution
	endpoint := "/v1/executions/" + url.PathEscape(executionID)
	if err := c.get(ctx, endpoint, &execution); err != nil {
		return Execution{}, err
	}
	return execution, nil
}

// ListExecutions returns executions matching the given filters.
func (c *Client) ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]*Execution, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.IntentID != "" {
		query.Set("intent_id", opts.IntentID)
	}
	endpoint := "/v1/executions"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body struct {
		Executions []*Execution `json:"executions"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return body.Executions, nil
}

// CancelExecution requests a cooperative cancellation. It returns true when
// the request flipped the execution to cancelled, false when the execution
// was unknown or already terminal.
func (c *Client) CancelExecution(ctx context.Context, executionID string) (bool, error) {
	endpoint := fmt.Sprintf("/v1/executions/%s/cancel", url.PathEscape(executionID))
	var body struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.post(ctx, endpoint, nil, &body); err != nil {
		return false, err
	}
	return body.Cancelled, nil
}

// Stats returns the aggregate execution counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/v1/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Skills returns the names of the registered skill providers.
func (c *Client) Skills(ctx context.Context) ([]string, error) {
	var body struct {
		Skills []string `json:"skills"`
	}
	if err := c.get(ctx, "/v1/skills", &body); err != nil {
		return nil, err
	}
	return body.Skills, nil
}

// WaitUntilTerminal polls the execution until it reaches a terminal state or
// the context is cancelled.
func (c *Client) WaitUntilTerminal(ctx context.Context, executionID string, interval time.Duration) (Execution, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		execution, err := c.GetExecution(ctx, executionID)
		if err != nil {
			return Execution{}, err
		}
		if execution.Terminal() {
			return execution, nil
		}
		select {
		case <-ctx.Done():
			return Execution{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(body)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	pathPart := endpoint
	var rawQuery string
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		pathPart, rawQuery = endpoint[:idx], endpoint[idx+1:]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, pathPart), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode when the server returned a flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
