package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/trigger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run as a daemon, firing pipeline runs from configured triggers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		_ = godotenv.Load()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}
		applyOptionFlags(cmd, cfg)

		opts, err := triggerOptions(cfg.Triggers)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("daemon starting", "pipeline", cfg.Pipeline.Name,
			"interval", opts.Interval, "cron", opts.Cron, "watch", opts.Watch)

		err = trigger.Loop(ctx, opts, logger, func(reason string) {
			result, err := runOnce(ctx, cfg, logger, false, false)
			if err != nil {
				logger.Error("triggered run failed to start", "reason", reason, "error", err)
				return
			}
			logger.Info("triggered run finished", "reason", reason,
				"job", result.Job, "number", result.Number,
				"outcome", result.Outcome, "duration", result.Duration.Round(time.Second))
		})
		if err != nil {
			return err
		}

		logger.Info("daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// triggerOptions converts the config trigger block into loop options,
// parsing the duration strings.
func triggerOptions(t config.Triggers) (trigger.Options, error) {
	var opts trigger.Options

	if t.Interval != "" {
		d, err := time.ParseDuration(t.Interval)
		if err != nil {
			return opts, fmt.Errorf("parsing triggers.interval: %w", err)
		}
		opts.Interval = d
	}
	opts.Cron = t.Cron
	opts.Watch = t.Watch.Path
	if t.Watch.Debounce != "" {
		d, err := time.ParseDuration(t.Watch.Debounce)
		if err != nil {
			return opts, fmt.Errorf("parsing triggers.watch.debounce: %w", err)
		}
		opts.Debounce = d
	}

	return opts, nil
}
