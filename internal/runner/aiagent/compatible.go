package aiagent

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

// compatibleResponse, compatibleChoice, compatibleMessage, and
// compatibleUsage mirror the OpenAI chat/completions response envelope,
// grounded on rakunlabs-at's internal/service/llm/openai provider
// (OpenAIResponse/Choice/ChoiceMessage/OpenAIUsage), reused unchanged
// because Gemini's and OpenRouter's OpenAI-compatible endpoints return
// the identical shape.
type compatibleResponse struct {
	Error   *compatibleError `json:"error,omitempty"`
	Choices []compatibleChoice `json:"choices"`
	Usage   *compatibleUsage `json:"usage,omitempty"`
}

type compatibleError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type compatibleChoice struct {
	Message      compatibleMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type compatibleMessage struct {
	Content string `json:"content"`
}

type compatibleUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompatibleProvider calls any OpenAI-compatible chat/completions
// endpoint over plain net/http (the teacher's reference used
// worldline-go/klient, not a retrieved dependency here -- see
// DESIGN.md). It backs both AI_AGENT.GOOGLE_GEMINI (pointed at Google's
// OpenAI-compatibility endpoint) and AI_AGENT.OPENROUTER, so a second
// provider SDK is never pulled in for what is the same wire contract.
type CompatibleProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
}

// NewCompatibleProvider constructs a CompatibleProvider against baseURL
// (the provider's full chat/completions endpoint), authenticating with a
// bearer apiKey.
func NewCompatibleProvider(baseURL, apiKey, defaultModel string) *CompatibleProvider {
	return &CompatibleProvider{
		client:       &http.Client{Timeout: 60 * time.Second},
		baseURL:      baseURL,
		apiKey:       apiKey,
		defaultModel: defaultModel,
	}
}

// Complete posts a chat/completions request and maps the response (or
// any transport/status error) onto the shared AI_AGENT taxonomy.
func (p *CompatibleProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return Response{}, apperr.New(apperr.ValidationError, "openai-compatible: no model configured")
	}

	messages := make([]map[string]any, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, map[string]any{"role": role, "content": m.Content})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.UserPrompt})

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("openai-compatible: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, fmt.Errorf("openai-compatible: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.NetworkError, "openai-compatible: request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.NetworkError, "openai-compatible: failed to read response", err)
	}

	var out compatibleResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, apperr.Wrap(kindForStatus(resp.StatusCode), "openai-compatible: failed to decode response", err)
	}

	if out.Error != nil {
		return Response{}, apperr.New(kindForStatus(resp.StatusCode), "openai-compatible: "+out.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return Response{}, apperr.New(kindForStatus(resp.StatusCode), fmt.Sprintf("openai-compatible: status %d: %s", resp.StatusCode, string(raw)))
	}
	if len(out.Choices) == 0 {
		return Response{}, apperr.New(apperr.ResponseError, "openai-compatible: no completion choices returned")
	}

	choice := out.Choices[0]
	usage := Usage{}
	if out.Usage != nil {
		usage = Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}

	return Response{
		Content:      choice.Message.Content,
		Model:        model,
		FinishReason: choice.FinishReason,
		Usage:        usage,
	}, nil
}
