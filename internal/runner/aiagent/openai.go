package aiagent

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/lyzr/workflow-platform/internal/apperr"
)

// OpenAIProvider backs AI_AGENT.OPENAI_CHATGPT. Written directly against
// the official github.com/openai/openai-go client's chat.completions
// surface; no file anywhere in the retrieved pack exercises this exact
// client (see DESIGN.md), so the request/response wiring below follows
// the SDK's documented public API rather than an in-pack usage example.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs an OpenAIProvider from an API key and a
// fallback model identifier used when a node omits "model".
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: client, defaultModel: defaultModel}
}

// Complete issues a single Chat Completions call and maps the response
// (or any SDK error) onto the shared AI_AGENT taxonomy.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return Response{}, apperr.New(apperr.ValidationError, "openai: no model configured")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, mapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, apperr.New(apperr.ResponseError, "openai: no completion choices returned")
	}

	choice := completion.Choices[0]
	return Response{
		Content:      choice.Message.Content,
		Model:        completion.Model,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// mapOpenAIError translates an openai-go error onto the AI_AGENT
// taxonomy by its reported HTTP status.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apperr.Wrap(kindForStatus(apiErr.StatusCode), "openai: "+apiErr.Message, err)
	}
	return apperr.Wrap(apperr.NetworkError, "openai: request failed", err)
}
