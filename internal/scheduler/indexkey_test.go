package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-platform/internal/models"
)

func TestBuildIndexKeyPerSubtype(t *testing.T) {
	cases := []struct {
		name     string
		node     models.Node
		wantType string
		wantKey  string
	}{
		{"cron", models.Node{ID: "n1", Type: models.NodeTypeTrigger, Subtype: "CRON",
			Configurations: map[string]any{"expr": "*/5 * * * *", "timezone": "UTC"}},
			"CRON", "cron:*/5 * * * *:UTC"},
		{"webhook", models.Node{ID: "n1", Type: models.NodeTypeTrigger, Subtype: "WEBHOOK",
			Configurations: map[string]any{"path": "/joke", "method": "POST"}},
			"WEBHOOK", "webhook:/joke:POST"},
		{"github", models.Node{ID: "n1", Type: models.NodeTypeTrigger, Subtype: "GITHUB",
			Configurations: map[string]any{"installation_id": "123", "repo_full_name": "acme/repo"}},
			"GITHUB", "github:123:acme/repo"},
		{"slack", models.Node{ID: "n1", Type: models.NodeTypeTrigger, Subtype: "SLACK",
			Configurations: map[string]any{"team_id": "T1"}},
			"SLACK", "slack:T1"},
		{"manual", models.Node{ID: "n1", Type: models.NodeTypeTrigger, Subtype: "MANUAL"},
			"MANUAL", "manual:wf1:n1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			triggerType, key, err := BuildIndexKey("wf1", &tc.node)
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, triggerType)
			assert.Equal(t, tc.wantKey, key)
		})
	}
}

func TestBuildIndexKeyMissingRequiredField(t *testing.T) {
	_, _, err := BuildIndexKey("wf1", &models.Node{Subtype: "WEBHOOK", Configurations: map[string]any{}})
	assert.Error(t, err)
}
