package externalaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// SlackRunner backs EXTERNAL_ACTION.SLACK. Operations are called directly
// against Slack's Web API (the shape github.com/slack-go/slack exposes)
// rather than through that SDK, to avoid adding an unretrieved
// dependency for a handful of REST calls -- see DESIGN.md.
type SlackRunner struct {
	client *http.Client
}

// NewSlackRunner constructs a SlackRunner.
func NewSlackRunner(client *http.Client) *SlackRunner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackRunner{client: client}
}

// Validate requires an operation and a channel.
func (r *SlackRunner) Validate(config map[string]any) error {
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "SLACK requires an operation")
	}
	if v, ok := config["channel"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "SLACK requires a channel")
	}
	return nil
}

// Execute dispatches the configured Slack operation. Only
// "post_message" is currently implemented; other operations return
// VALIDATION_ERROR.
func (r *SlackRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	if operation != "post_message" {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "unsupported SLACK operation: "+operation)
	}

	token, err := rc.Credentials.AccessToken(ctx, rc.Actor, "slack")
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.AuthError, "failed to resolve slack credential", err)
	}

	channel, _ := rc.Config["channel"].(string)
	text, _ := rc.Config["text"].(string)
	payload, err := json.Marshal(map[string]any{"channel": channel, "text": text})
	if err != nil {
		return models.NodeExecutionResult{}, fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	resp, err := doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+token)
		return r.client.Do(req)
	})
	if err != nil {
		return errorResult(err, rc)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ResponseError, "slack: failed to decode response", err)
	}
	if !out.OK {
		return errorResult(apperr.New(apperr.ResponseError, "slack: "+out.Error), rc)
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"ok": true, "ts": out.TS, "channel": channel},
		OutputPort: "main",
	}, nil
}

// errorResult routes a provider error to the "error" port when the node
// declares dual_port, per §4.3 step 4; otherwise it surfaces as a failed
// Execute call.
func errorResult(err error, rc *runner.Context) (models.NodeExecutionResult, error) {
	dual, _ := rc.Config["dual_port"].(bool)
	if !dual {
		return models.NodeExecutionResult{}, err
	}
	ae, ok := err.(*apperr.Error)
	msg := err.Error()
	details := map[string]any{}
	if ok {
		msg = ae.Message
		details["kind"] = string(ae.Kind)
	}
	return models.NodeExecutionResult{
		Status:       models.NodeError,
		OutputData:   map[string]any{"error": msg},
		OutputPort:   "error",
		ErrorMessage: msg,
		ErrorDetails: details,
	}, nil
}
