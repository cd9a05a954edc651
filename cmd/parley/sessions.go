package main

import (
	"errors"
	"fmt"

	"github.com/harunnryd/parley/cmd/parley/runtime"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/store"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage recorded sessions",
	Long:    `List, inspect and reset the sessions recorded in the workspace.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded sessions",
	Long:  `Display all recorded sessions, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(w *store.Worker) error {
			sessions, err := w.ListSessions()
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded yet.")
				fmt.Fprintln(out, "\nRun 'parley run' to start your first session.")
				return nil
			}

			fmt.Fprintln(out, runtime.NewRenderer().Sessions(sessions))
			fmt.Fprintf(out, "\nTotal: %d session(s)\n", len(sessions))
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a recorded session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withStore(cmd, func(w *store.Worker) error {
			meta, err := w.GetSession(args[0])
			if err != nil {
				return err
			}
			transcript, err := w.ReadTranscript(args[0], limit)
			if err != nil && !errors.Is(err, parleyErrors.ErrNotFound) {
				return fmt.Errorf("failed to read transcript: %w", err)
			}

			r := runtime.NewRenderer()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, r.Session(*meta))
			fmt.Fprintln(out)
			fmt.Fprintln(out, r.Transcript(transcript))
			return nil
		})
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset [id]",
	Short: "Reset a session (delete data)",
	Long:  `Delete the transcript and index entry of a recorded session.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		return withStore(cmd, func(w *store.Worker) error {
			if err := w.ResetSession(sessionID); err != nil {
				return fmt.Errorf("failed to reset session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Session '%s' reset successfully.\n", sessionID)
			return nil
		})
	},
}

func withStore(cmd *cobra.Command, fn func(*store.Worker) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workspaceID := runtime.ResolveWorkspaceID(cmd, loadedCfg)
	forceClean, _ := cmd.Flags().GetBool("force-clean-locks")
	if err := runtime.CleanupStaleLocks(loadedCfg, workspaceID, forceClean); err != nil {
		return fmt.Errorf("failed to cleanup stale locks: %w", err)
	}

	worker, err := runtime.OpenStore(loadedCfg, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrWorkspaceLocked) {
			return fmt.Errorf("workspace %q is locked by another parley instance", workspaceID)
		}
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer worker.Stop()

	return fn(worker)
}

func init() {
	sessionsShowCmd.Flags().Int("limit", 0, "Show only the last N transcript entries (0 = all)")
	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	rootCmd.AddCommand(sessionsCmd)
}
