package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/internal/pipeline"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5a5a70"))
)

var historyCmd = &cobra.Command{
	Use:   "history [job]",
	Short: "List recorded runs for a job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}
		applyOptionFlags(cmd, cfg)

		job := cfg.Pipeline.Name
		if len(args) == 1 {
			job = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(cfg.Options.DataDir, cfg.Options.KeepRuns)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(job, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Printf("no recorded runs for %s\n", job)
			return nil
		}

		for _, r := range runs {
			fmt.Printf("%s %s %s %s\n",
				outcomeGlyph(r.Outcome),
				fmt.Sprintf("%s #%-4d %-8s", r.Job, r.Number, r.Outcome),
				dimStyle.Render(r.Started.Format("2006-01-02 15:04:05")),
				dimStyle.Render(r.Duration.Round(time.Second).String()))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "number of runs to list (default: retention limit)")
	rootCmd.AddCommand(historyCmd)
}

func outcomeGlyph(o pipeline.Outcome) string {
	switch o {
	case pipeline.OutcomeSuccess:
		return okStyle.Render("✓")
	case pipeline.OutcomeUnstable:
		return warnStyle.Render("!")
	default:
		return badStyle.Render("✗")
	}
}
