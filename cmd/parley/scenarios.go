package main

import (
	"fmt"

	"github.com/harunnryd/parley/cmd/parley/runtime"
	"github.com/harunnryd/parley/internal/scenario"

	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List role-play scenarios",
	Long:  `Display the built-in scenarios together with any loaded from scenarios.path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), runtime.NewRenderer().Scenarios(catalog.List()))
		return nil
	},
}

var scenariosShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the instructions a scenario renders",
	Long:  `Render the session instructions for a scenario. Adversarial scenarios get a sample hidden state; a real session draws a new one.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loadedCfg, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		sc, err := catalog.Get(args[0])
		if err != nil {
			return err
		}

		psych := scenario.NewPsychologyGenerator(loadedCfg.Scenarios.Seed).Generate(sc)
		text, err := scenario.NewBuilder(loadedCfg.Prompts.Preamble, loadedCfg.Prompts.Closing).Build(sc.Kind, sc, psych)
		if err != nil {
			return fmt.Errorf("failed to render instructions: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s, voice %s)\n\n", sc.Name, sc.Kind, sc.Voice)
		fmt.Fprintln(out, text)
		return nil
	},
}

func loadCatalog(cmd *cobra.Command) (*scenario.Catalog, error) {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	catalog, err := scenario.LoadCatalog(loadedCfg.Scenarios.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	return catalog, nil
}

func init() {
	scenariosCmd.AddCommand(scenariosShowCmd)
	rootCmd.AddCommand(scenariosCmd)
}
