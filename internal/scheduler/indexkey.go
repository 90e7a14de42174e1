package scheduler

import (
	"fmt"
	"strings"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
)

// BuildIndexKey computes the deterministic index_key for a TRIGGER node,
// one builder per subtype, per §4.1.
func BuildIndexKey(workflowID string, node *models.Node) (triggerType, indexKey string, err error) {
	triggerType = strings.ToUpper(node.Subtype)
	switch triggerType {
	case "CRON":
		expr, _ := node.Configurations["expr"].(string)
		tz, _ := node.Configurations["timezone"].(string)
		if tz == "" {
			tz = "UTC"
		}
		if expr == "" {
			return "", "", apperr.New(apperr.ValidationError, "CRON trigger node missing configurations.expr")
		}
		return triggerType, fmt.Sprintf("cron:%s:%s", expr, tz), nil

	case "WEBHOOK":
		path, _ := node.Configurations["path"].(string)
		method, _ := node.Configurations["method"].(string)
		if path == "" {
			return "", "", apperr.New(apperr.ValidationError, "WEBHOOK trigger node missing configurations.path")
		}
		if method == "" {
			method = "POST"
		}
		return triggerType, fmt.Sprintf("webhook:%s:%s", path, strings.ToUpper(method)), nil

	case "GITHUB":
		installationID, _ := node.Configurations["installation_id"].(string)
		repo, _ := node.Configurations["repo_full_name"].(string)
		if repo == "" {
			return "", "", apperr.New(apperr.ValidationError, "GITHUB trigger node missing configurations.repo_full_name")
		}
		return triggerType, fmt.Sprintf("github:%s:%s", installationID, repo), nil

	case "SLACK":
		teamID, _ := node.Configurations["team_id"].(string)
		if teamID == "" {
			teamID = "*"
		}
		return triggerType, fmt.Sprintf("slack:%s", teamID), nil

	case "EMAIL":
		mailbox, _ := node.Configurations["mailbox"].(string)
		if mailbox == "" {
			return "", "", apperr.New(apperr.ValidationError, "EMAIL trigger node missing configurations.mailbox")
		}
		return triggerType, fmt.Sprintf("email:%s", mailbox), nil

	case "MANUAL":
		return triggerType, fmt.Sprintf("manual:%s:%s", workflowID, node.ID), nil

	default:
		return "", "", apperr.New(apperr.ValidationError, "unknown trigger subtype: "+node.Subtype)
	}
}

// CronBucketKey formats "cron:<workflow_id>:<unix minute>". The cron
// driver does not call it: it builds its own lock key, with the bucket
// written as a UTC YYYYMMDDHHMM timestamp (see cron/driver.go bucketKey).
func CronBucketKey(workflowID string, bucketUnixMinute int64) string {
	return fmt.Sprintf("cron:%s:%d", workflowID, bucketUnixMinute)
}
