package flow

import (
	wfredis "github.com/lyzr/workflow-platform/common/redis"
	"github.com/lyzr/workflow-platform/internal/condition"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// RegisterAll wires every FLOW subtype onto registry.
func RegisterAll(registry *runner.Registry, redisClient *wfredis.Client, evaluator *condition.Evaluator) {
	registry.Register(models.NodeTypeFlow, "IF", NewIFRunner(evaluator))
	registry.Register(models.NodeTypeFlow, "SWITCH", NewSwitchRunner(evaluator))
	registry.Register(models.NodeTypeFlow, "MERGE", NewMergeRunner())
	registry.Register(models.NodeTypeFlow, "LOOP", NewLoopRunner(redisClient, evaluator))
}
