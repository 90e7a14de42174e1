// Package action implements the ACTION node type's subtypes: HTTP_REQUEST,
// DATA_TRANSFORMATION, and the trivial SLEEP/PARSE/FORMAT utilities.
//
// Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go
// executeHTTPRequest (method/url/headers/body, net/http.Client, JSON body
// sniffing), generalized with the node-level retry/timeout/dual-port
// policy the source spec's §4.3 names but the teacher's fixed 30s,
// no-retry worker didn't implement.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
	"github.com/lyzr/workflow-platform/internal/runner/action/security"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPRunner backs the ACTION.HTTP_REQUEST subtype.
type HTTPRunner struct {
	client    *http.Client
	validator *security.URLValidator
}

// NewHTTPRunner constructs an HTTPRunner. client defaults to a bare
// http.Client if nil; per-request timeout is still applied via context.
// Every URL is run through security.URLValidator before being dialed,
// blocking SSRF targets (localhost, private/link-local ranges), non-
// http(s) schemes, and file-access path patterns.
func NewHTTPRunner(client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRunner{client: client, validator: security.NewURLValidator()}
}

// Validate requires a URL and rejects one that fails security checks.
func (r *HTTPRunner) Validate(config map[string]any) error {
	v, ok := config["url"].(string)
	if !ok || v == "" {
		return apperr.New(apperr.ValidationError, "HTTP_REQUEST requires a non-empty url")
	}
	if err := r.validator.Validate(v); err != nil {
		return apperr.Wrap(apperr.ValidationError, "HTTP_REQUEST url failed security validation", err)
	}
	return nil
}

// Execute issues the configured HTTP call, retrying per the node's
// RetryPolicy on transport errors and 5xx responses, and emits
// {status_code, headers, body, json} on "main" -- or on "error" when the
// node declares dual_port and the final response status is >= 400.
func (r *HTTPRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	url, _ := rc.Config["url"].(string)
	if err := r.validator.Validate(url); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "HTTP_REQUEST url failed security validation", err)
	}
	method, _ := rc.Config["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	timeout := defaultHTTPTimeout
	if v, ok := rc.Config["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	var bodyBytes []byte
	if body, ok := rc.Config["body"]; ok && body != nil {
		if s, ok := body.(string); ok {
			bodyBytes = []byte(s)
		} else {
			marshaled, err := json.Marshal(body)
			if err != nil {
				return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "failed to marshal HTTP_REQUEST body", err)
			}
			bodyBytes = marshaled
		}
	}

	headers, _ := rc.Config["headers"].(map[string]any)
	retry := rc.Node.RetryPolicy()

	var lastErr error
	var result map[string]any
	var statusCode int

	for attempt := 1; attempt <= retry.MaxTries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		result, statusCode, lastErr = r.doOnce(reqCtx, method, url, bodyBytes, headers)
		cancel()

		if lastErr == nil && statusCode < 500 {
			break
		}
		if attempt == retry.MaxTries {
			break
		}
		if err := sleepBackoff(ctx, retry, attempt); err != nil {
			return models.NodeExecutionResult{}, err
		}
	}

	if lastErr != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.NetworkError, "HTTP_REQUEST failed", lastErr)
	}

	port := "main"
	if statusCode >= 400 {
		if dual, _ := rc.Config["dual_port"].(bool); dual {
			port = "error"
		}
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: result, OutputPort: port}, nil
}

func (r *HTTPRunner) doOnce(ctx context.Context, method, url string, body []byte, headers map[string]any) (map[string]any, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "workflow-platform/1.0")
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := map[string]any{}
	for k, v := range resp.Header {
		if len(v) == 1 {
			respHeaders[k] = v[0]
		} else {
			respHeaders[k] = v
		}
	}

	var parsed any
	jsonOK := json.Unmarshal(raw, &parsed) == nil

	out := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(raw),
	}
	if jsonOK {
		out["json"] = parsed
	}
	return out, resp.StatusCode, nil
}

func sleepBackoff(ctx context.Context, retry models.RetryPolicy, attempt int) error {
	base := float64(retry.BaseMS) * pow(retry.Factor, attempt-1)
	jitter := base * retry.JitterPc * (rand.Float64()*2 - 1)
	delay := time.Duration(base+jitter) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
