package externalaction

import (
	"context"
	"strings"

	"github.com/google/go-github/v74/github"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// GitHubRunner backs EXTERNAL_ACTION.GITHUB, built on
// github.com/google/go-github/v74. The retry/rate-limit handling this
// package's other providers implement by hand is instead left to
// go-github's own *github.RateLimitError, which the client surfaces as a
// typed error rather than a raw 429 status.
type GitHubRunner struct{}

// NewGitHubRunner constructs a GitHubRunner.
func NewGitHubRunner() *GitHubRunner {
	return &GitHubRunner{}
}

// Validate requires an operation, owner, and repo.
func (r *GitHubRunner) Validate(config map[string]any) error {
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GITHUB requires an operation")
	}
	if v, ok := config["owner"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GITHUB requires an owner")
	}
	if v, ok := config["repo"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GITHUB requires a repo")
	}
	return nil
}

// Execute dispatches the configured GitHub operation. Only
// "create_issue" is currently implemented; other operations return
// VALIDATION_ERROR.
func (r *GitHubRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	if operation != "create_issue" {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "unsupported GITHUB operation: "+operation)
	}

	token, err := rc.Credentials.AccessToken(ctx, rc.Actor, "github")
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.AuthError, "failed to resolve github credential", err)
	}

	owner, _ := rc.Config["owner"].(string)
	repo, _ := rc.Config["repo"].(string)
	title, _ := rc.Config["title"].(string)
	body, _ := rc.Config["body"].(string)

	client := github.NewClient(nil).WithAuthToken(token)
	issue, _, err := client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return errorResult(mapGitHubError(err), rc)
	}

	number := 0
	if issue.Number != nil {
		number = *issue.Number
	}
	htmlURL := ""
	if issue.HTMLURL != nil {
		htmlURL = *issue.HTMLURL
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"number": number, "html_url": htmlURL},
		OutputPort: "main",
	}, nil
}

// mapGitHubError translates a go-github error onto the shared taxonomy,
// inspecting both *github.RateLimitError and *github.ErrorResponse's
// embedded HTTP response for status-based mapping.
func mapGitHubError(err error) error {
	if _, ok := err.(*github.RateLimitError); ok {
		return apperr.Wrap(apperr.RateLimit, "github: rate limited", err)
	}
	if ae, ok := err.(*github.AbuseRateLimitError); ok {
		return apperr.Wrap(apperr.RateLimit, "github: secondary rate limit", ae)
	}
	if resp, ok := err.(*github.ErrorResponse); ok && resp.Response != nil {
		return apperr.Wrap(statusKind(resp.Response.StatusCode), "github: "+resp.Message, err)
	}
	if strings.Contains(err.Error(), "401") {
		return apperr.Wrap(apperr.AuthError, "github: unauthorized", err)
	}
	return apperr.Wrap(apperr.NetworkError, "github: request failed", err)
}
