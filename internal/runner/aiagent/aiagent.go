// Package aiagent implements the AI_AGENT node type: OPENAI_CHATGPT,
// ANTHROPIC_CLAUDE, GOOGLE_GEMINI, and OPENROUTER subtypes behind one
// Provider contract, so the Runner itself never branches on vendor
// quirks beyond selecting which Provider to call.
//
// OpenAI is grounded on goadesign-goa-ai's model/openai client (request
// shape only; that file itself calls a different community SDK, so the
// OpenAI provider here is written directly against the official
// github.com/openai/openai-go client -- see DESIGN.md). Anthropic is
// grounded directly on goadesign-goa-ai's model/anthropic client
// (github.com/anthropics/anthropic-sdk-go, matching exactly). Gemini and
// OpenRouter share one OpenAI-compatible REST client grounded on
// rakunlabs-at's internal/service/llm/openai provider, pointed at each
// provider's own OpenAI-compatible chat/completions endpoint.
package aiagent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

const defaultAgentTimeout = 120 * time.Second

// Message is one turn of prior conversation passed in rc.Config["messages"].
type Message struct {
	Role    string
	Content string
}

// Request is the provider-agnostic shape every Provider.Complete accepts.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
	Messages     []Message
}

// Usage is the token accounting a Provider reports back, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider-agnostic shape every Provider.Complete returns.
type Response struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
}

// Provider calls one LLM backend. Implementations translate Request into
// the vendor's wire format and map vendor errors onto apperr's taxonomy.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Runner backs the AI_AGENT node type; behavior past request-building and
// response-validation is identical across subtypes, only the Provider
// used to reach the model differs.
type Runner struct {
	providers map[string]Provider
}

// New constructs a Runner. providers is keyed by subtype, upper-case
// (OPENAI_CHATGPT, ANTHROPIC_CLAUDE, GOOGLE_GEMINI, OPENROUTER).
func New(providers map[string]Provider) *Runner {
	return &Runner{providers: providers}
}

// Validate requires a non-empty user_prompt; system_prompt, model,
// temperature, and max_tokens are all optional with provider-level
// defaults.
func (r *Runner) Validate(config map[string]any) error {
	if v, ok := config["user_prompt"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "AI_AGENT requires a non-empty user_prompt")
	}
	return nil
}

// Execute calls the node's provider and maps both transport errors and
// semantically-bad success responses onto the AI_AGENT error taxonomy.
func (r *Runner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	provider, ok := r.providers[rc.Node.Subtype]
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.Internal, "no provider registered for AI_AGENT subtype "+rc.Node.Subtype)
	}

	req := buildRequest(rc.Config)

	timeout := defaultAgentTimeout
	if v, ok := rc.Config["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := provider.Complete(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return models.NodeExecutionResult{}, apperr.Wrap(apperr.Timeout, "AI_AGENT call timed out", err)
		}
		if ae, ok := err.(*apperr.Error); ok {
			return models.NodeExecutionResult{}, ae
		}
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.NetworkError, "AI_AGENT call failed", err)
	}

	if badErr := validateResponseContent(resp.Content); badErr != nil {
		return models.NodeExecutionResult{}, badErr
	}

	return models.NodeExecutionResult{
		Status: models.NodeSuccess,
		OutputData: map[string]any{
			"content": resp.Content,
			"model":   resp.Model,
			"usage": map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
			"finish_reason": resp.FinishReason,
		},
		OutputPort: "main",
	}, nil
}

// buildRequest reads the AI_AGENT input contract (system_prompt,
// user_prompt, model, temperature, max_tokens, optional prior messages)
// from the node's resolved config.
func buildRequest(config map[string]any) Request {
	req := Request{}
	req.SystemPrompt, _ = config["system_prompt"].(string)
	req.UserPrompt, _ = config["user_prompt"].(string)
	req.Model, _ = config["model"].(string)
	if v, ok := config["temperature"].(float64); ok {
		req.Temperature = v
	}
	if v, ok := config["max_tokens"].(float64); ok {
		req.MaxTokens = int(v)
	}
	if raw, ok := config["messages"].([]any); ok {
		for _, m := range raw {
			entry, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := entry["role"].(string)
			content, _ := entry["content"].(string)
			req.Messages = append(req.Messages, Message{Role: role, Content: content})
		}
	}
	return req
}

// errorPatterns are textual markers of a provider-side failure smuggled
// into an otherwise-successful response envelope, per the AI_AGENT
// response-validation rule.
var errorPatterns = []string{"Error:", "Unauthorized", "Rate limit"}

// validateResponseContent applies the RESPONSE_ERROR rule: empty content,
// a suspiciously short (<=3 char) response, or a textual error pattern
// anywhere in the content.
func validateResponseContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return apperr.New(apperr.ResponseError, "AI_AGENT returned empty content")
	}
	if len(trimmed) <= 3 {
		return apperr.New(apperr.ResponseError, "AI_AGENT returned a suspiciously short response: "+strconv.Quote(trimmed))
	}
	for _, pattern := range errorPatterns {
		if strings.Contains(content, pattern) {
			return apperr.New(apperr.ResponseError, "AI_AGENT response contains error pattern "+strconv.Quote(pattern))
		}
	}
	return nil
}

// RegisterAll wires each Provider under its AI_AGENT subtype. A nil entry
// in providers is skipped, so a deployment missing one vendor's API key
// can still register the rest.
func RegisterAll(registry *runner.Registry, providers map[string]Provider) {
	run := New(providers)
	for _, subtype := range []string{"OPENAI_CHATGPT", "ANTHROPIC_CLAUDE", "GOOGLE_GEMINI", "OPENROUTER"} {
		if providers[subtype] == nil {
			continue
		}
		registry.Register(models.NodeTypeAIAgent, subtype, run)
	}
}
