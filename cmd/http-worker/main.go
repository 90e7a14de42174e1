// Command http-worker consumes the ACTION node stream and runs each
// dispatched HTTP_REQUEST/DATA_TRANSFORMATION/SLEEP/PARSE/FORMAT node to
// completion, per SPEC_FULL.md §2.
//
// Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go,
// reduced to a thin binary over the shared internal/worker consumer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/workflow-platform/common/bootstrap"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
	"github.com/lyzr/workflow-platform/internal/wiring"
	"github.com/lyzr/workflow-platform/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "http-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap http-worker: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	platform, err := wiring.Build(components)
	if err != nil {
		components.Logger.Error("failed to wire platform dependencies", "error", err)
		os.Exit(1)
	}

	w := worker.New(
		platform.Redis,
		platform.SDK,
		platform.Registry,
		platform.Broker,
		components.Logger,
		runner.StreamForType(models.NodeTypeAction),
		"http",
	)

	errChan := make(chan error, 1)
	go func() {
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		components.Logger.Error("http-worker failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}
}
