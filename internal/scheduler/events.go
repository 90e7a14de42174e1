package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
)

// IngestResult reports how many matching triggers an inbound event fired.
type IngestResult struct {
	Matched     int      `json:"matched"`
	ExecutionIDs []string `json:"execution_ids"`
	Errors      []string `json:"errors,omitempty"`
}

// PostWebhook routes an inbound webhook call to every active WEBHOOK
// trigger whose (path, method) matches, respecting each trigger's
// declared allowed_methods filter.
func (s *Service) PostWebhook(ctx context.Context, path, method string, body map[string]any, actor string) (*IngestResult, error) {
	indexKey := fmt.Sprintf("webhook:%s:%s", path, strings.ToUpper(method))
	entry, err := s.index.Lookup(ctx, "WEBHOOK", indexKey)
	if err != nil {
		return &IngestResult{}, nil // no active trigger registered: silent no-op, never an error to the caller
	}

	if allowed, ok := entry.Config["allowed_methods"].([]any); ok && len(allowed) > 0 {
		match := false
		for _, m := range allowed {
			if s, ok := m.(string); ok && strings.EqualFold(s, method) {
				match = true
				break
			}
		}
		if !match {
			return &IngestResult{}, nil
		}
	}

	return s.fireOne(ctx, entry, map[string]any{"type": "WEBHOOK", "path": path, "method": method}, body, actor)
}

// PostGithubEvent routes an inbound GitHub App event to the matching
// GITHUB trigger, applying the trigger's configured branch filter (if
// any) for push-type events.
func (s *Service) PostGithubEvent(ctx context.Context, eventType, deliveryID string, payload map[string]any, actor string) (*IngestResult, error) {
	installationID, _ := payload["installation_id"].(string)
	repo, _ := payload["repo_full_name"].(string)
	indexKey := fmt.Sprintf("github:%s:%s", installationID, repo)

	entry, err := s.index.Lookup(ctx, "GITHUB", indexKey)
	if err != nil {
		return &IngestResult{}, nil
	}

	if eventType == "push" {
		if branchFilter, ok := entry.Config["branch_filter"].(string); ok && branchFilter != "" {
			ref, _ := payload["ref"].(string)
			if !strings.HasSuffix(ref, "/"+branchFilter) {
				return &IngestResult{}, nil
			}
		}
	}

	trigger := map[string]any{"type": "GITHUB", "event_type": eventType, "delivery_id": deliveryID}
	return s.fireOne(ctx, entry, trigger, payload, actor)
}

// PostSlackEvent routes an inbound Slack Events API payload, applying
// the channel_filter declared on the matching SLACK trigger; no user
// filter is applied.
func (s *Service) PostSlackEvent(ctx context.Context, payload map[string]any, actor string) (*IngestResult, error) {
	teamID, _ := payload["team_id"].(string)
	indexKey := fmt.Sprintf("slack:%s", teamID)
	entry, err := s.index.Lookup(ctx, "SLACK", indexKey)
	if err != nil {
		indexKey = "slack:*"
		entry, err = s.index.Lookup(ctx, "SLACK", indexKey)
		if err != nil {
			return &IngestResult{}, nil
		}
	}

	event, _ := payload["event"].(map[string]any)
	if channelFilter, ok := entry.Config["channel_filter"].(string); ok && channelFilter != "" {
		if channel, _ := event["channel"].(string); channel != channelFilter {
			return &IngestResult{}, nil
		}
	}

	trigger := map[string]any{"type": "SLACK", "team_id": teamID}
	return s.fireOne(ctx, entry, trigger, payload, actor)
}

func (s *Service) fireOne(ctx context.Context, entry *models.TriggerIndexEntry, triggerInfo, inputData map[string]any, actor string) (*IngestResult, error) {
	if entry.Status != models.IndexActive {
		return &IngestResult{}, nil
	}
	executionID, err := s.TriggerExecution(ctx, entry.WorkflowID, entry.NodeID, triggerInfo, inputData, actor)
	if err != nil {
		return &IngestResult{Errors: []string{err.Error()}}, nil
	}
	return &IngestResult{Matched: 1, ExecutionIDs: []string{executionID}}, nil
}

// ErrNoMatch is the error value for an event that matches no active
// trigger. The routing functions in this file do not return it: a lookup
// miss yields an empty IngestResult, a silent no-op.
var ErrNoMatch = apperr.New(apperr.NotFound, "no active trigger matched event")
