package action

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// SleepRunner backs ACTION.SLEEP: suspends for a configured duration and
// re-emits its input unchanged.
type SleepRunner struct{}

// NewSleepRunner constructs a SleepRunner.
func NewSleepRunner() *SleepRunner {
	return &SleepRunner{}
}

// Validate checks duration_seconds is present and non-negative.
func (r *SleepRunner) Validate(config map[string]any) error {
	if v, ok := config["duration_seconds"].(float64); !ok || v < 0 {
		return apperr.New(apperr.ValidationError, "SLEEP requires a non-negative duration_seconds")
	}
	return nil
}

// Execute waits for the configured duration, then passes its input through.
func (r *SleepRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	seconds, _ := rc.Config["duration_seconds"].(float64)
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return models.NodeExecutionResult{}, ctx.Err()
	case <-timer.C:
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: rc.Input, OutputPort: "main"}, nil
}

// ParseRunner backs ACTION.PARSE: decodes a string input field as JSON.
type ParseRunner struct{}

// NewParseRunner constructs a ParseRunner.
func NewParseRunner() *ParseRunner {
	return &ParseRunner{}
}

// Validate requires a source field name.
func (r *ParseRunner) Validate(config map[string]any) error {
	if v, ok := config["field"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "PARSE requires a non-empty field")
	}
	return nil
}

// Execute JSON-decodes rc.Input[field] and emits the parsed value.
func (r *ParseRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	field, _ := rc.Config["field"].(string)
	raw, ok := rc.Input[field].(string)
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "PARSE field is not a string")
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "PARSE failed to decode JSON", err)
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: map[string]any{"parsed": parsed}, OutputPort: "main"}, nil
}

// FormatRunner backs ACTION.FORMAT: renders a template string against the
// gathered input, sharing DATA_TRANSFORMATION's template renderer.
type FormatRunner struct{}

// NewFormatRunner constructs a FormatRunner.
func NewFormatRunner() *FormatRunner {
	return &FormatRunner{}
}

// Validate requires a non-empty template.
func (r *FormatRunner) Validate(config map[string]any) error {
	if v, ok := config["template"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "FORMAT requires a non-empty template")
	}
	return nil
}

// Execute renders the configured template against rc.Input.
func (r *FormatRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	tpl, _ := rc.Config["template"].(string)
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: map[string]any{"result": renderTemplate(tpl, rc.Input)}, OutputPort: "main"}, nil
}

// RegisterAll wires every ACTION subtype onto registry.
func RegisterAll(registry *runner.Registry, httpClient *HTTPRunner) {
	registry.Register(models.NodeTypeAction, "HTTP_REQUEST", httpClient)
	registry.Register(models.NodeTypeAction, "DATA_TRANSFORMATION", NewDataTransformationRunner())
	registry.Register(models.NodeTypeAction, "SLEEP", NewSleepRunner())
	registry.Register(models.NodeTypeAction, "PARSE", NewParseRunner())
	registry.Register(models.NodeTypeAction, "FORMAT", NewFormatRunner())
}
