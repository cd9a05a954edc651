package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/parley/cmd/parley/runtime"
	"github.com/harunnryd/parley/internal/config"

	"github.com/spf13/cobra"
)

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	loadedCfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}

	return loadedCfg, nil
}

func executeWithRuntime(ctx context.Context, cmd *cobra.Command, fn func(*runtime.RuntimeComponents) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workspaceID := runtime.ResolveWorkspaceID(cmd, loadedCfg)
	forceClean, _ := cmd.Flags().GetBool("force-clean-locks")
	if err := runtime.CleanupStaleLocks(loadedCfg, workspaceID, forceClean); err != nil {
		slog.Warn("Failed to cleanup stale locks", "workspace", workspaceID, "error", err)
	}

	builder := runtime.NewRuntimeBuilder().
		WithContext(ctx).
		WithConfig(loadedCfg).
		WithWorkspace(workspaceID)

	components, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Stop()

	return fn(components)
}
