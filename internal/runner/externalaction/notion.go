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

const notionVersion = "2022-06-28"
const defaultMaxRounds = 10

// NotionRunner backs EXTERNAL_ACTION.NOTION, called directly against
// Notion's REST API (no Go SDK for Notion appears anywhere in the
// retrieved pack). Notion is the one provider the source spec wires its
// optional AI-directed mode to: when config["ai_directed"] is true and a
// planner is configured, Execute iterates PlanAndExecute instead of
// performing one static operation.
type NotionRunner struct {
	client  *http.Client
	planner AIPlanner
}

// NewNotionRunner constructs a NotionRunner. planner may be nil; a node
// with ai_directed=true but no configured planner fails validation.
func NewNotionRunner(client *http.Client, planner AIPlanner) *NotionRunner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NotionRunner{client: client, planner: planner}
}

// Validate requires an operation unless ai_directed is set, in which
// case it requires a goal and a configured planner.
func (r *NotionRunner) Validate(config map[string]any) error {
	if aiDirected, _ := config["ai_directed"].(bool); aiDirected {
		if v, ok := config["goal"].(string); !ok || v == "" {
			return apperr.New(apperr.ValidationError, "ai_directed NOTION requires a goal")
		}
		if r.planner == nil {
			return apperr.New(apperr.ValidationError, "ai_directed NOTION requires a configured AI planner")
		}
		return nil
	}
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "NOTION requires an operation")
	}
	return nil
}

// Execute performs either one static Notion operation or, when
// ai_directed is set, an AI-planned sequence of operations.
func (r *NotionRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	token, err := rc.Credentials.AccessToken(ctx, rc.Actor, "notion")
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.AuthError, "failed to resolve notion credential", err)
	}

	if aiDirected, _ := rc.Config["ai_directed"].(bool); aiDirected {
		return r.executeAIDirected(ctx, rc, token)
	}

	operation, _ := rc.Config["operation"].(string)
	result, err := r.call(ctx, token, operation, rc.Config)
	if err != nil {
		return errorResult(err, rc)
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: result, OutputPort: "main"}, nil
}

// call maps one logical Notion operation onto its REST endpoint.
// Currently implements "create_page"; unknown operations return
// VALIDATION_ERROR.
func (r *NotionRunner) call(ctx context.Context, token, operation string, params map[string]any) (map[string]any, error) {
	switch operation {
	case "create_page":
		parentID, _ := params["parent_id"].(string)
		title, _ := params["title"].(string)
		body := map[string]any{
			"parent": map[string]any{"page_id": parentID},
			"properties": map[string]any{
				"title": map[string]any{
					"title": []map[string]any{{"text": map[string]any{"content": title}}},
				},
			},
		}
		return r.post(ctx, token, "https://api.notion.com/v1/pages", body)
	default:
		return nil, apperr.New(apperr.ValidationError, "unsupported NOTION operation: "+operation)
	}
}

func (r *NotionRunner) post(ctx context.Context, token, url string, body map[string]any) (map[string]any, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("notion: failed to marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Notion-Version", notionVersion)
		return r.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.ResponseError, "notion: failed to decode response", err)
	}
	if resp.StatusCode >= 400 {
		msg, _ := out["message"].(string)
		return nil, apperr.New(statusKind(resp.StatusCode), "notion: "+msg)
	}
	return out, nil
}

// executeAIDirected drives the AI-directed mode: up to defaultMaxRounds
// rounds, each asking the planner for the next {action_type,
// parameters}, executing it, and appending the result to the running
// context. Terminates on action_type "complete" or the round cap.
func (r *NotionRunner) executeAIDirected(ctx context.Context, rc *runner.Context, token string) (models.NodeExecutionResult, error) {
	goal, _ := rc.Config["goal"].(string)
	maxRounds := defaultMaxRounds
	if v, ok := rc.Config["max_rounds"].(float64); ok && v > 0 {
		maxRounds = int(v)
	}

	history := []roundLog{}
	runContext := map[string]any{"goal": goal, "input": rc.Input}

	for round := 1; round <= maxRounds; round++ {
		contextJSON, _ := json.Marshal(runContext)
		decisionText, err := r.planner.Complete(
			"You direct a sequence of Notion API calls to accomplish a goal. "+
				`Respond with exactly one JSON object {"action_type": "...", "parameters": {...}}. `+
				`Emit {"action_type": "complete"} once the goal is achieved.`,
			string(contextJSON),
		)
		if err != nil {
			return models.NodeExecutionResult{}, apperr.Wrap(apperr.ModelError, "notion: AI planner call failed", err)
		}

		var decision struct {
			ActionType string         `json:"action_type"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.Unmarshal([]byte(decisionText), &decision); err != nil {
			history = append(history, roundLog{Round: round, Error: "failed to parse planner decision"})
			rc.Logger.Warn("notion AI-directed round failed to parse decision", "round", round, "error", err)
			break
		}

		entry := roundLog{Round: round, ActionType: decision.ActionType, Parameters: decision.Parameters}
		if decision.ActionType == "complete" {
			history = append(history, entry)
			rc.Logger.Info("notion AI-directed mode complete", "rounds", round)
			break
		}

		result, err := r.call(ctx, token, decision.ActionType, decision.Parameters)
		if err != nil {
			entry.Error = err.Error()
			history = append(history, entry)
			rc.Logger.Warn("notion AI-directed round failed", "round", round, "action_type", decision.ActionType, "error", err)
			runContext["last_error"] = err.Error()
			continue
		}
		entry.Result = result
		history = append(history, entry)
		runContext["last_result"] = result
	}

	historyOut := make([]map[string]any, len(history))
	for i, h := range history {
		historyOut[i] = map[string]any{
			"round":       h.Round,
			"action_type": h.ActionType,
			"parameters":  h.Parameters,
			"result":      h.Result,
			"error":       h.Error,
		}
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"rounds": historyOut},
		OutputPort: "main",
	}, nil
}
