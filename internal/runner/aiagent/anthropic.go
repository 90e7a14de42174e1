package aiagent

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lyzr/workflow-platform/internal/apperr"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicProvider backs AI_AGENT.ANTHROPIC_CLAUDE, grounded directly on
// goadesign-goa-ai's model/anthropic client: sdk.NewClient plus
// Messages.New, translated down to this package's Request/Response.
type AnthropicProvider struct {
	client       *sdk.Client
	defaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider from an API key and
// a fallback model identifier used when a node omits "model".
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client, defaultModel: defaultModel}
}

// Complete issues a single Messages.New call and maps the response (or
// any SDK error) onto the shared AI_AGENT taxonomy.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return Response{}, apperr.New(apperr.ValidationError, "anthropic: no model configured")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages := make([]sdk.MessageParam, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt)))

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Model:     sdk.Model(model),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, mapAnthropicError(err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return Response{
		Content:      content,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// mapAnthropicError translates an anthropic-sdk-go error onto the
// AI_AGENT taxonomy by its reported HTTP status, the same status-code
// switch used against every other HTTP-backed provider in this package.
func mapAnthropicError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apperr.Wrap(kindForStatus(apiErr.StatusCode), "anthropic: "+apiErr.Message, err)
	}
	return apperr.Wrap(apperr.NetworkError, "anthropic: request failed", err)
}
