// Package client is the Scheduler's HTTP client for the Engine service,
// forwarding TriggerExecution calls to Engine.Execute across the
// process boundary between cmd/scheduler and cmd/engine.
//
// Grounded on common/clients/http.go's context-aware HTTPClient wrapper
// (same http.NewRequestWithContext/X-User-ID-header idiom), generalized
// from a single DoRequest helper into a typed Execute call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
)

// Client calls the Engine's HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client pointed at the Engine's base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ExecuteRequest is the body posted to POST /v1/workflows/:id/execute.
type ExecuteRequest struct {
	// NodeID is the specific TRIGGER node this call originated from, when
	// known (webhook/cron/github/slack routing always knows it; a manual
	// invocation may omit it if the workflow has exactly one trigger
	// node, of any subtype).
	NodeID      string         `json:"node_id,omitempty"`
	TriggerInfo map[string]any `json:"trigger_info"`
	InputData   map[string]any `json:"input_data"`
	Actor       string         `json:"actor"`
}

// ExecuteResponse carries back the newly created execution id.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
}

// Execute forwards a TriggerExecution call to the Engine.
func (c *Client) Execute(ctx context.Context, workflowID string, req ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to marshal execute request", err)
	}

	url := fmt.Sprintf("%s/v1/workflows/%s/execute", c.baseURL, workflowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to build execute request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-ID", req.Actor)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.NetworkError, "engine request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.NetworkError, "failed to read engine response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("engine returned %d: %s", resp.StatusCode, string(raw)))
	}

	var out ExecuteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to decode engine response", err)
	}
	return &out, nil
}
