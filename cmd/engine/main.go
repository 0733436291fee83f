package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yawlcore/engine/common/bootstrap"
	"github.com/yawlcore/engine/common/db"
	"github.com/yawlcore/engine/common/server"
	"github.com/yawlcore/engine/internal/api"
	"github.com/yawlcore/engine/internal/eventlog"
)

// Exit codes: 0 clean shutdown, 1 bootstrap failure, 2 recovery failure,
// 3 server failure. Grounded on the teacher's cmd/orchestrator/main.go's
// single os.Exit(1)-on-any-failure shape, split into distinct codes here
// since an operator restarting this process needs to tell "event log
// replay found corrupt history" (don't just retry) apart from "database
// was unreachable at boot" (retry is fine).
const (
	exitOK = iota
	exitBootstrapFailed
	exitRecoveryFailed
	exitServerFailed
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "engine", bootstrap.WithDBInitHook(applySchema))
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: bootstrap failed: %v\n", err)
		return exitBootstrapFailed
	}
	defer func() {
		if err := components.Shutdown(ctx); err != nil {
			components.Logger.Warn("shutdown cleanup reported an error", "error", err)
		}
	}()

	container, err := api.NewContainer(components)
	if err != nil {
		components.Logger.Error("could not construct service container", "error", err)
		return exitBootstrapFailed
	}

	components.Logger.Info("replaying event log for crash recovery")
	if err := container.Registry.Recover(ctx); err != nil {
		components.Logger.Error("recovery from event log failed", "error", err)
		return exitRecoveryFailed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go container.Registry.StartRetireSweep(runCtx, components.Config.Engine.CaseRetireGrace)
	go container.SLA.Start(runCtx)

	router := api.NewRouter(container)
	srv := server.NewStreaming(
		components.Config.Service.Name,
		components.Config.Service.Port,
		router,
		components.Logger,
	)

	components.Logger.Info("engine ready", "port", components.Config.Service.Port)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		return exitServerFailed
	}
	return exitOK
}

// applySchema runs the event log's DDL at startup, idempotently (the
// schema uses CREATE TABLE IF NOT EXISTS), the same dbInitHook shape the
// teacher's cmd/runner/main.go uses to run its own migrations inline
// rather than through a separate migration tool.
func applySchema(d *db.DB) error {
	_, err := d.Pool.Exec(context.Background(), eventlog.Schema)
	return err
}
