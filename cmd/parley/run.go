package main

import (
	"context"
	"os"

	"github.com/harunnryd/parley/cmd/parley/runtime"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive role-play session",
	Long:  `Connects to the realtime provider and starts a session for the chosen scenario. Type to talk to the prospect; slash commands control the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarioID, _ := cmd.Flags().GetString("scenario")

		signals := NewSignalHandler(context.Background())
		signals.Start()
		defer signals.Stop()

		return executeWithRuntime(signals.Context(), cmd, func(r *runtime.RuntimeComponents) error {
			repl := runtime.NewREPL(r, os.Stdin, os.Stdout, scenarioID)
			return repl.Start()
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("scenario", "s", "", "Scenario ID (default from session.default_scenario)")
}
