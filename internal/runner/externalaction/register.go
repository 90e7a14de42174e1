package externalaction

import (
	"net/http"

	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// Providers bundles the constructed provider runners a deployment wires
// in; a nil field skips registering that subtype.
type Providers struct {
	Slack          *SlackRunner
	GitHub         *GitHubRunner
	Notion         *NotionRunner
	GoogleCalendar *GoogleCalendarRunner
	Discord        *DiscordRunner
	Email          *EmailRunner
}

// NewDefaultProviders constructs every provider with its default HTTP
// client; notionPlanner may be nil when AI-directed Notion mode is not
// configured for this deployment.
func NewDefaultProviders(smtp SMTPConfig, notionPlanner AIPlanner) *Providers {
	client := &http.Client{}
	return &Providers{
		Slack:          NewSlackRunner(client),
		GitHub:         NewGitHubRunner(),
		Notion:         NewNotionRunner(client, notionPlanner),
		GoogleCalendar: NewGoogleCalendarRunner(client),
		Discord:        NewDiscordRunner(),
		Email:          NewEmailRunner(smtp),
	}
}

// RegisterAll wires each non-nil provider under its EXTERNAL_ACTION
// subtype.
func RegisterAll(registry *runner.Registry, p *Providers) {
	if p.Slack != nil {
		registry.Register(models.NodeTypeExternalAction, "SLACK", p.Slack)
	}
	if p.GitHub != nil {
		registry.Register(models.NodeTypeExternalAction, "GITHUB", p.GitHub)
	}
	if p.Notion != nil {
		registry.Register(models.NodeTypeExternalAction, "NOTION", p.Notion)
	}
	if p.GoogleCalendar != nil {
		registry.Register(models.NodeTypeExternalAction, "GOOGLE_CALENDAR", p.GoogleCalendar)
	}
	if p.Discord != nil {
		registry.Register(models.NodeTypeExternalAction, "DISCORD", p.Discord)
	}
	if p.Email != nil {
		registry.Register(models.NodeTypeExternalAction, "EMAIL", p.Email)
	}
}
