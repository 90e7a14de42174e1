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

// GoogleCalendarRunner backs EXTERNAL_ACTION.GOOGLE_CALENDAR, called
// directly against the Calendar REST API (events.insert) rather than
// through google.golang.org/api/calendar/v3 -- the bearer token is
// already brokered by internal/credential.Broker (built on
// golang.org/x/oauth2), so a second, heavier Google API client adds
// nothing a plain POST doesn't already cover for this one endpoint.
type GoogleCalendarRunner struct {
	client *http.Client
}

// NewGoogleCalendarRunner constructs a GoogleCalendarRunner.
func NewGoogleCalendarRunner(client *http.Client) *GoogleCalendarRunner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleCalendarRunner{client: client}
}

// Validate requires an operation, calendar_id, and summary.
func (r *GoogleCalendarRunner) Validate(config map[string]any) error {
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GOOGLE_CALENDAR requires an operation")
	}
	if v, ok := config["calendar_id"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GOOGLE_CALENDAR requires a calendar_id")
	}
	if v, ok := config["summary"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "GOOGLE_CALENDAR requires a summary")
	}
	return nil
}

// Execute dispatches the configured Calendar operation. Only
// "create_event" is currently implemented; other operations return
// VALIDATION_ERROR.
func (r *GoogleCalendarRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	if operation != "create_event" {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "unsupported GOOGLE_CALENDAR operation: "+operation)
	}

	token, err := rc.Credentials.AccessToken(ctx, rc.Actor, "google_calendar")
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.AuthError, "failed to resolve google_calendar credential", err)
	}

	calendarID, _ := rc.Config["calendar_id"].(string)
	summary, _ := rc.Config["summary"].(string)
	startTime, _ := rc.Config["start_time"].(string)
	endTime, _ := rc.Config["end_time"].(string)

	body := map[string]any{
		"summary": summary,
		"start":   map[string]any{"dateTime": startTime},
		"end":     map[string]any{"dateTime": endTime},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return models.NodeExecutionResult{}, fmt.Errorf("google_calendar: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events", calendarID)
	resp, err := doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return r.client.Do(req)
	})
	if err != nil {
		return errorResult(err, rc)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ResponseError, "google_calendar: failed to decode response", err)
	}
	if resp.StatusCode >= 400 {
		return errorResult(apperr.New(statusKind(resp.StatusCode), fmt.Sprintf("google_calendar: status %d", resp.StatusCode)), rc)
	}

	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: out, OutputPort: "main"}, nil
}
