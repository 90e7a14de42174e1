// Package humanloop implements the HUMAN_LOOP node type: SLACK, EMAIL,
// and APP channel subtypes sharing one pause/resume contract, per §4.2
// and §4.3. Execute suspends the node (PAUSED) with the interaction's
// channel config and message templates; Resume is invoked by the
// coordinator both on a genuine resume and on a timeout sweep, and posts
// the matching template-driven follow-up back to the channel.
//
// Grounded on the SLACK/EMAIL notification shapes in
// rakunlabs-at/internal/service/workflow/nodes/email.go (wneessen/go-mail
// client construction and option set) and on Slack's chat.postMessage
// REST contract, called directly rather than through an unretrieved
// Slack SDK (see DESIGN.md). APP is a no-op notifier: its interaction
// surfaces through the Engine's own resume API, not an outbound push.
package humanloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

const defaultTimeoutSeconds = 300

// Notifier sends a single text message to a HUMAN_LOOP node's configured
// channel. One Notifier is registered per subtype (SLACK, EMAIL, APP).
type Notifier interface {
	Notify(ctx context.Context, channelConfig map[string]any, message string) error
}

// Runner backs the HUMAN_LOOP node type; behavior is the same across
// subtypes, only the Notifier used to reach the channel differs.
type Runner struct {
	notifiers map[string]Notifier
}

// New constructs a Runner. notifiers is keyed by subtype, case-sensitive
// upper-case (SLACK, EMAIL, APP).
func New(notifiers map[string]Notifier) *Runner {
	return &Runner{notifiers: notifiers}
}

// Validate requires a non-empty question and channel_config.
func (r *Runner) Validate(config map[string]any) error {
	if v, ok := config["question"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "HUMAN_LOOP requires a non-empty question")
	}
	if _, ok := config["channel_config"].(map[string]any); !ok {
		return apperr.New(apperr.ValidationError, "HUMAN_LOOP requires a channel_config object")
	}
	return nil
}

// Execute posts the question to the node's channel and suspends,
// returning the payload internal/engine/coordinator's pauseExecution
// reads to build the persisted PendingPause.
func (r *Runner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	channelConfig, _ := rc.Config["channel_config"].(map[string]any)
	question, _ := rc.Config["question"].(string)
	timeout := defaultTimeoutSeconds
	if v, ok := rc.Config["timeout_seconds"].(float64); ok && v > 0 {
		timeout = int(v)
	}

	notifier, ok := r.notifiers[rc.Node.Subtype]
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.Internal, "no notifier registered for HUMAN_LOOP subtype "+rc.Node.Subtype)
	}
	if err := notifier.Notify(ctx, channelConfig, question); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.NetworkError, "failed to post HUMAN_LOOP question", err)
	}

	output := map[string]any{
		"interaction_id": uuid.New().String(),
		"channel_config": channelConfig,
		"question":       question,
		"timeout":        float64(timeout),
	}
	for _, key := range []string{"approved_message", "rejected_message", "timeout_message"} {
		if v, ok := rc.Config[key].(string); ok {
			output[key] = v
		}
	}
	if v, ok := rc.Config["timeout_branch"]; ok {
		output["timeout_branch"] = v
	}

	return models.NodeExecutionResult{Status: models.NodePaused, OutputData: output}, nil
}

// Resume records the human response (or a timeout) as the node's output
// and posts the matching template-driven follow-up to the channel.
// Called by the coordinator both on a genuine /resume call and, with
// resumeData["timed_out"] = true, from the timeout sweep.
func (r *Runner) Resume(ctx context.Context, rc *runner.Context, resumeData map[string]any) (models.NodeExecutionResult, error) {
	channelConfig, _ := rc.Config["channel_config"].(map[string]any)
	notifier, ok := r.notifiers[rc.Node.Subtype]
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.Internal, "no notifier registered for HUMAN_LOOP subtype "+rc.Node.Subtype)
	}

	timedOut, _ := resumeData["timed_out"].(bool)
	if timedOut {
		message, _ := rc.Config["timeout_message"].(string)
		if message == "" {
			message = "timed out awaiting human interaction"
		}
		if err := notifier.Notify(ctx, channelConfig, renderMessage(message, resumeData)); err != nil {
			rc.Logger.Error("failed to post HUMAN_LOOP timeout message", "node_id", rc.Node.ID, "error", err)
		}
		return models.NodeExecutionResult{
			Status:     models.NodeError,
			OutputData: map[string]any{"timed_out": true},
			OutputPort: "timeout",
		}, nil
	}

	approved, _ := resumeData["approved"].(bool)
	templateKey := "rejected_message"
	if approved {
		templateKey = "approved_message"
	}
	message, _ := rc.Config[templateKey].(string)
	if message != "" {
		if err := notifier.Notify(ctx, channelConfig, renderMessage(message, resumeData)); err != nil {
			rc.Logger.Error("failed to post HUMAN_LOOP follow-up message", "node_id", rc.Node.ID, "error", err)
		}
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"approved": approved, "data": resumeData["data"]},
		OutputPort: "main",
	}, nil
}

// renderMessage substitutes "{{field}}" placeholders against the flat
// resumeData map; a narrower sibling of action.DataTransformationRunner's
// template mode, scoped to a HUMAN_LOOP response's own fields.
func renderMessage(tpl string, data map[string]any) string {
	var out strings.Builder
	i := 0
	for i < len(tpl) {
		start := strings.Index(tpl[i:], "{{")
		if start < 0 {
			out.WriteString(tpl[i:])
			break
		}
		out.WriteString(tpl[i : i+start])
		i += start + 2
		end := strings.Index(tpl[i:], "}}")
		if end < 0 {
			out.WriteString(tpl[i-2:])
			break
		}
		field := strings.TrimSpace(tpl[i : i+end])
		out.WriteString(fmt.Sprintf("%v", data[field]))
		i += end + 2
	}
	return out.String()
}

// RegisterAll wires the shared Runner under every HUMAN_LOOP subtype.
func RegisterAll(registry *runner.Registry, notifiers map[string]Notifier) {
	run := New(notifiers)
	registry.Register(models.NodeTypeHumanLoop, "SLACK", run)
	registry.Register(models.NodeTypeHumanLoop, "EMAIL", run)
	registry.Register(models.NodeTypeHumanLoop, "APP", run)
}
