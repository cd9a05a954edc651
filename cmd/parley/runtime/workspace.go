package runtime

import (
	"fmt"
	"log/slog"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/store"

	"github.com/spf13/cobra"
)

const DefaultWorkspaceID = config.DefaultStoreWorkspaceID

// ResolveWorkspaceID prefers the --workspace flag, then the configured
// workspace.
func ResolveWorkspaceID(cmd *cobra.Command, cfg *config.Config) string {
	if cmd != nil {
		if workspaceID, _ := cmd.Flags().GetString("workspace"); workspaceID != "" {
			return workspaceID
		}
	}
	if cfg != nil && cfg.Store.WorkspaceID != "" {
		return cfg.Store.WorkspaceID
	}
	return DefaultWorkspaceID
}

// CleanupStaleLocks checks the workspace for a lock file older than
// store.stale_lock_ttl and removes it when force is set.
func CleanupStaleLocks(cfg *config.Config, workspaceID string, force bool) error {
	workspacePath, err := store.GetWorkspacePath(workspaceID, cfg.Store.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	ttl, err := config.DurationOrDefault(cfg.Store.StaleLockTTL, config.DefaultStoreStaleLockTTL)
	if err != nil {
		return fmt.Errorf("store.stale_lock_ttl: %w", err)
	}

	removed, err := store.CleanupStaleLocks(workspacePath, ttl, force)
	if err != nil {
		return err
	}
	if removed {
		slog.Info("Removed stale workspace lock", "workspace", workspaceID)
	}
	return nil
}

// OpenStore starts a store worker for the workspace. The caller stops it.
func OpenStore(cfg *config.Config, workspaceID string) (*store.Worker, error) {
	storeCfg, err := store.RuntimeConfigFrom(cfg.Store)
	if err != nil {
		return nil, err
	}
	worker, err := store.NewWorker(workspaceID, cfg.Store.WorkspacePath, storeCfg)
	if err != nil {
		return nil, err
	}
	worker.Start()
	return worker, nil
}
