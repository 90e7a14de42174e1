// Package wiring assembles the concrete dependency graph every service
// binary needs (cmd/engine, cmd/scheduler, cmd/http-worker,
// cmd/agent-worker, cmd/hitl-worker, cmd/external-action-worker) from a
// common/bootstrap.Components. Keeping this assembly in one place means
// a worker binary and the Engine agree on exactly the same runner
// registry, credential broker, and SDK construction.
//
// Grounded on the teacher's cmd/*/container packages (a single
// composition root per binary, built from already-initialized
// components) generalized into one shared root every binary calls.
package wiring

import (
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/workflow-platform/common/bootstrap"
	"github.com/lyzr/workflow-platform/common/config"
	wfredis "github.com/lyzr/workflow-platform/common/redis"
	"github.com/lyzr/workflow-platform/internal/catalog/cas"
	"github.com/lyzr/workflow-platform/internal/catalog/repository"
	"github.com/lyzr/workflow-platform/internal/condition"
	"github.com/lyzr/workflow-platform/internal/credential"
	"github.com/lyzr/workflow-platform/internal/distlock"
	"github.com/lyzr/workflow-platform/internal/engine/sdk"
	"github.com/lyzr/workflow-platform/internal/runner"
	"github.com/lyzr/workflow-platform/internal/runner/action"
	"github.com/lyzr/workflow-platform/internal/runner/aiagent"
	"github.com/lyzr/workflow-platform/internal/runner/externalaction"
	"github.com/lyzr/workflow-platform/internal/runner/flow"
	"github.com/lyzr/workflow-platform/internal/runner/humanloop"
	"github.com/lyzr/workflow-platform/internal/runner/toolmemory"
	"github.com/lyzr/workflow-platform/internal/runner/trigger"
)

// Platform bundles everything every binary assembles from a
// bootstrap.Components: the repositories, the Redis client pair, the
// credential broker, the runner registry, and the execution-state SDK.
type Platform struct {
	Workflows     *repository.WorkflowRepository
	Executions    *repository.ExecutionRepository
	ExecutionLogs *repository.ExecutionLogRepository
	TriggerIndex  *repository.TriggerIndexRepository
	Memory        *repository.MemoryRepository
	Credentials   *repository.CredentialRepository

	Redis    *wfredis.Client
	RawRedis *goredis.Client

	Broker    *credential.Broker
	Evaluator *condition.Evaluator
	Registry  *runner.Registry
	SDK       *sdk.SDK
}

// Build constructs a Platform from already-initialized bootstrap
// components. AI provider API keys and SMTP settings come from
// comp.Config.Platform; a zero-value key simply leaves that provider
// unregistered (aiagent.RegisterAll and externalaction.RegisterAll both
// skip nil providers).
func Build(comp *bootstrap.Components) (*Platform, error) {
	cfg := comp.Config.Platform

	opt, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rawRedis := goredis.NewClient(opt)
	redisClient := wfredis.NewClient(rawRedis, comp.Logger)

	casStore := cas.NewStore(comp.DB)
	workflows := repository.NewWorkflowRepository(comp.DB, casStore)
	executions := repository.NewExecutionRepository(comp.DB)
	executionLogs := repository.NewExecutionLogRepository(comp.DB)
	triggerIndex := repository.NewTriggerIndexRepository(comp.DB)
	memory := repository.NewMemoryRepository(comp.DB)
	credentials := repository.NewCredentialRepository(comp.DB)

	cipher, err := credential.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	locker := distlock.New(redisClient)
	broker := credential.NewBroker(credentials, cipher, locker)
	registerOAuthProviders(broker, cfg)

	evaluator := condition.NewEvaluator()

	registry := runner.NewRegistry()
	registerRunners(registry, redisClient, evaluator, memory, broker, cfg)

	sdkInstance := sdk.New(redisClient, rawRedis, casStore, comp.Logger)

	return &Platform{
		Workflows:     workflows,
		Executions:    executions,
		ExecutionLogs: executionLogs,
		TriggerIndex:  triggerIndex,
		Memory:        memory,
		Credentials:   credentials,
		Redis:         redisClient,
		RawRedis:      rawRedis,
		Broker:        broker,
		Evaluator:     evaluator,
		Registry:      registry,
		SDK:           sdkInstance,
	}, nil
}

// registerOAuthProviders wires a refresh implementation for every
// provider with a configured OAuth client id/secret pair. A provider
// missing credentials is simply never registered; AccessToken then
// surfaces AUTH_ERROR the first time that provider's credential needs
// a refresh, per §4.3.
func registerOAuthProviders(broker *credential.Broker, cfg config.PlatformConfig) {
	if cfg.SlackOAuthClientID != "" {
		broker.RegisterProvider("slack", credential.NewOAuth2Refresher(cfg.SlackOAuthClientID, cfg.SlackOAuthClientSecret, credential.SlackTokenURL))
	}
	if cfg.GithubOAuthClientID != "" {
		broker.RegisterProvider("github", credential.NewOAuth2Refresher(cfg.GithubOAuthClientID, cfg.GithubOAuthClientSecret, credential.GitHubTokenURL))
	}
	if cfg.NotionOAuthClientID != "" {
		broker.RegisterProvider("notion", credential.NewOAuth2Refresher(cfg.NotionOAuthClientID, cfg.NotionOAuthClientSecret, credential.NotionTokenURL))
	}
	if cfg.GoogleOAuthClientID != "" {
		broker.RegisterProvider("google_calendar", credential.NewOAuth2Refresher(cfg.GoogleOAuthClientID, cfg.GoogleOAuthClientSecret, credential.GoogleTokenURL))
	}
	if cfg.DiscordOAuthClientID != "" {
		broker.RegisterProvider("discord", credential.NewOAuth2Refresher(cfg.DiscordOAuthClientID, cfg.DiscordOAuthClientSecret, credential.DiscordTokenURL))
	}
}

// registerRunners wires every node-type subpackage's RegisterAll onto
// registry, building each subpackage's own provider/notifier set from
// cfg.
func registerRunners(registry *runner.Registry, redisClient *wfredis.Client, evaluator *condition.Evaluator, memory *repository.MemoryRepository, broker *credential.Broker, cfg config.PlatformConfig) {
	trigger.RegisterAll(registry)
	flow.RegisterAll(registry, redisClient, evaluator)
	toolmemory.RegisterAll(registry, memory)
	action.RegisterAll(registry, action.NewHTTPRunner(&http.Client{}))

	humanloop.RegisterAll(registry, map[string]humanloop.Notifier{
		"SLACK": humanloop.NewSlackNotifier(&http.Client{}, broker),
		"EMAIL": humanloop.NewEmailNotifier(humanloop.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
		}),
		"APP": humanloop.NewAppNotifier(),
	})

	aiagent.RegisterAll(registry, map[string]aiagent.Provider{
		"ANTHROPIC_CLAUDE": maybeAnthropic(cfg.AnthropicAPIKey),
		"OPENAI_CHATGPT":   maybeOpenAI(cfg.OpenAIAPIKey),
		"GOOGLE_GEMINI":    maybeGemini(cfg.GeminiAPIKey),
		"OPENROUTER":       maybeOpenRouter(cfg.OpenRouterAPIKey),
	})

	externalaction.RegisterAll(registry, externalaction.NewDefaultProviders(
		externalaction.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
		},
		nil, // Notion AI-directed planner: wired separately once a default model/provider is chosen for it.
	))
}

func maybeAnthropic(apiKey string) aiagent.Provider {
	if apiKey == "" {
		return nil
	}
	return aiagent.NewAnthropicProvider(apiKey, "claude-3-5-sonnet-latest")
}

func maybeOpenAI(apiKey string) aiagent.Provider {
	if apiKey == "" {
		return nil
	}
	return aiagent.NewOpenAIProvider(apiKey, "gpt-4o-mini")
}

func maybeGemini(apiKey string) aiagent.Provider {
	if apiKey == "" {
		return nil
	}
	return aiagent.NewCompatibleProvider("https://generativelanguage.googleapis.com/v1beta/openai", apiKey, "gemini-1.5-flash")
}

func maybeOpenRouter(apiKey string) aiagent.Provider {
	if apiKey == "" {
		return nil
	}
	return aiagent.NewCompatibleProvider("https://openrouter.ai/api/v1", apiKey, "openrouter/auto")
}
