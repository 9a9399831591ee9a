package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/notify"
	"github.com/gantryci/gantry/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gantry configuration",
	Long: "Loads the config, checks its schema and durations, renders every notify " +
		"template, and verifies the webhook URLs parse into known services. Nothing " +
		"is sent and no commands run.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}
		applyOptionFlags(cmd, cfg)

		rc := pipeline.RunContext{Job: cfg.Pipeline.Name, Number: 1, Hostname: cfg.Options.Hostname}
		for _, state := range []notify.State{notify.StateSuccess, notify.StateUnstable, notify.StateFailure} {
			data := notify.BuildData(rc, state, cfg.Pipeline.Name)
			overrides := notifyOverrides(cfg.Notify.Messages)
			targets, err := notify.ResolveTargets(mapServices(cfg.Notify.Services), overrides.ForState(state), data)
			if err != nil {
				return err
			}
			for _, t := range targets {
				if err := notify.Validate(t); err != nil {
					return err
				}
			}
		}

		fmt.Printf("✓ %s: %d stages, %d notify services\n",
			cfg.Pipeline.Name, len(cfg.Stages), len(cfg.Notify.Services))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
