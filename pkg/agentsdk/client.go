// Package agentsdk is the Go client internal services use to call the judge
// agent.
package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ironwill/pkg/auth"
	"ironwill/pkg/contract"
	"ironwill/pkg/httpx"
	"ironwill/pkg/telemetry"
)

const (
	AuditPath  = "/internal/judge/audit"
	HealthPath = "/health"

	DefaultTimeout = 30 * time.Second
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Secret     string
	// Header overrides the shared-secret header name.
	Header string
	// Retries is zero by default: audits are not retried unless the caller
	// opts in.
	Retries    int
	RetryDelay time.Duration
}

// StatusError is a non-2xx answer from the agent. Detail carries the string
// detail for 401/413/500; Fields carries the field errors of a 422.
type StatusError struct {
	StatusCode int
	Detail     string
	Fields     []contract.FieldError
	Body       string
}

func (e *StatusError) Error() string {
	switch {
	case len(e.Fields) > 0:
		paths := make([]string, 0, len(e.Fields))
		for _, fe := range e.Fields {
			paths = append(paths, fe.Path())
		}
		return fmt.Sprintf("agent status=%d invalid fields: %s", e.StatusCode, strings.Join(paths, ", "))
	case e.Detail != "":
		return fmt.Sprintf("agent status=%d: %s", e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("agent status=%d body=%s", e.StatusCode, e.Body)
	}
}

func (e *StatusError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: telemetry.InstrumentClient(&http.Client{Timeout: timeout}),
		Secret:     secret,
	}
}

// Audit submits req and returns the agent's judgement. The judgement is
// checked against the response contract before it is returned.
func (c *Client) Audit(ctx context.Context, req contract.AuditRequest) (contract.AuditResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return contract.AuditResponse{}, fmt.Errorf("marshal audit request: %w", err)
	}
	headers := map[string]string{c.header(): c.Secret}
	status, respBody, err := httpx.PostJSON(ctx, c.httpClient(), c.BaseURL+AuditPath, body, headers, c.Retries, c.RetryDelay)
	if err != nil {
		return contract.AuditResponse{}, fmt.Errorf("audit request: %w", err)
	}
	if status != http.StatusOK {
		return contract.AuditResponse{}, newStatusError(status, respBody)
	}
	var out contract.AuditResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return contract.AuditResponse{}, fmt.Errorf("decode audit response: %w", err)
	}
	if err := contract.ValidateResponse(out); err != nil {
		return contract.AuditResponse{}, err
	}
	return out, nil
}

// Health reports whether the agent answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	status, body, err := httpx.Do(ctx, c.httpClient(), http.MethodGet, c.BaseURL+HealthPath, nil, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	if status != http.StatusOK {
		return newStatusError(status, body)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Status != "ok" {
		return fmt.Errorf("unexpected health body %q", string(body))
	}
	return nil
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status, Body: string(body)}
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Detail) == 0 {
		return se
	}
	if json.Unmarshal(env.Detail, &se.Detail) != nil {
		_ = json.Unmarshal(env.Detail, &se.Fields)
	}
	return se
}

func (c *Client) header() string {
	if h := strings.TrimSpace(c.Header); h != "" {
		return h
	}
	return auth.DefaultHeader
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}
