package externalaction

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// DiscordRunner backs EXTERNAL_ACTION.DISCORD, built on
// github.com/bwmarrin/discordgo's REST-only surface (discordgo.New plus
// ChannelMessageSend), without opening its gateway websocket session --
// this runner only ever sends one message per Execute call.
type DiscordRunner struct{}

// NewDiscordRunner constructs a DiscordRunner.
func NewDiscordRunner() *DiscordRunner {
	return &DiscordRunner{}
}

// Validate requires an operation and a channel_id.
func (r *DiscordRunner) Validate(config map[string]any) error {
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "DISCORD requires an operation")
	}
	if v, ok := config["channel_id"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "DISCORD requires a channel_id")
	}
	return nil
}

// Execute dispatches the configured Discord operation. Only
// "post_message" is currently implemented; other operations return
// VALIDATION_ERROR.
func (r *DiscordRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	if operation != "post_message" {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "unsupported DISCORD operation: "+operation)
	}

	token, err := rc.Credentials.AccessToken(ctx, rc.Actor, "discord")
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.AuthError, "failed to resolve discord credential", err)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "discord: failed to build session", err)
	}

	channelID, _ := rc.Config["channel_id"].(string)
	content, _ := rc.Config["content"].(string)

	message, err := session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return errorResult(mapDiscordError(err), rc)
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"id": message.ID, "channel_id": message.ChannelID},
		OutputPort: "main",
	}, nil
}

// mapDiscordError translates a discordgo REST error onto the shared
// taxonomy via its embedded HTTP response status.
func mapDiscordError(err error) error {
	if rerr, ok := err.(*discordgo.RESTError); ok && rerr.Response != nil {
		return apperr.Wrap(statusKind(rerr.Response.StatusCode), "discord: "+rerr.Error(), err)
	}
	return apperr.Wrap(apperr.NetworkError, "discord: request failed", err)
}
