package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley voice role-play trainer",
	Long:  `Parley runs realtime voice role-play sessions against a simulated prospect and keeps their transcripts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Log.Level)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.parley/config.yaml)")
	rootCmd.PersistentFlags().String("log.level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("realtime.provider", config.DefaultRealtimeProvider, "realtime provider (openai, gemini)")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.PersistentFlags().Bool("force-clean-locks", false, "Remove a stale workspace lock before starting")
}
