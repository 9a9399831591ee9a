package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/github"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/internal/notify"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/runner"
	"github.com/gantryci/gantry/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long: "Runs every configured stage in order, posts commit statuses, announces the " +
		"result, and cleans the workspace. Use --dry-run to execute stages without " +
		"posting or announcing anything.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		plain, _ := cmd.Flags().GetBool("plain")
		logger := setupLogger()

		_ = godotenv.Load()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}
		applyOptionFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		interactive := !plain && isatty.IsTerminal(os.Stdout.Fd())
		result, err := runOnce(ctx, cfg, logger, dryRun, interactive)
		if err != nil {
			return err
		}

		exitForOutcome(result.Outcome)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "execute stages without posting statuses or sending notifications")
	runCmd.Flags().Bool("plain", false, "line-by-line output instead of the terminal ui")
	rootCmd.AddCommand(runCmd)
}

// runOnce wires the configured collaborators, resolves the run context, and
// executes the pipeline, either behind the terminal ui or plainly.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun, interactive bool) (runner.Result, error) {
	rc := pipeline.ContextFromEnv()
	if rc.Job == "" {
		rc.Job = cfg.Pipeline.Name
	}
	if rc.RepoURL == "" {
		rc.RepoURL = cfg.Pipeline.Repo
	}
	if rc.Commit == "" {
		rc.Commit = cfg.Status.SHA
	}
	if rc.Hostname == "" {
		rc.Hostname = cfg.Options.Hostname
	}
	if rc.ChangeURL == "" && rc.ChangeID != "" {
		rc.ChangeURL = pipeline.PullRequestURL(rc.RepoURL, rc.ChangeID)
	}

	r := runner.New(cfg, logger)

	var store *history.Store
	if cfg.Options.DataDir != "" {
		s, err := history.Open(cfg.Options.DataDir, cfg.Options.KeepRuns)
		if err != nil {
			return runner.Result{}, err
		}
		defer s.Close()
		store = s
		r.Recorder = s
	}
	if rc.Number == 0 {
		rc.Number = 1
		if store != nil {
			if n, err := store.NextNumber(rc.Job); err == nil {
				rc.Number = n
			}
		}
	}

	if cfg.Status.Token != "" {
		switch {
		case rc.Commit == "":
			logger.Warn("no commit sha available, commit statuses disabled")
		case rc.RepoURL == "":
			logger.Warn("no repository url available, commit statuses disabled")
		default:
			r.Status = &github.Reporter{
				Client:    github.NewClient(cfg.Status.Token, cfg.Status.BaseURL),
				RepoURL:   rc.RepoURL,
				SHA:       rc.Commit,
				Context:   cfg.Status.Context,
				TargetURL: rc.BuildURL,
			}
		}
	}

	if len(cfg.Notify.Services) > 0 {
		r.Notifier = &notify.Sender{
			Services: mapServices(cfg.Notify.Services),
			Messages: notifyOverrides(cfg.Notify.Messages),
			Label:    cfg.Pipeline.Name,
			Logger:   logger,
		}
	}

	if !interactive {
		result := r.Run(ctx, rc, dryRun)
		printResult(result)
		return result, nil
	}
	return runWithTUI(ctx, cfg, r, rc, dryRun, logger)
}

// runWithTUI executes the run on a goroutine and streams its events into
// the terminal view. Quitting the view aborts the run.
func runWithTUI(ctx context.Context, cfg *config.Config, r *runner.Runner, rc pipeline.RunContext, dryRun bool, logger *slog.Logger) (runner.Result, error) {
	events := make(chan tea.Msg, 64)
	r.OnEvent = func(e pipeline.Event) {
		select {
		case events <- tui.EventMsg{Event: e}:
		default:
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan runner.Result, 1)
	go func() {
		res := r.Run(runCtx, rc, dryRun)
		results <- res
		events <- tui.DoneMsg{Outcome: res.Outcome, Duration: res.Duration, Degraded: res.Degraded}
	}()

	stages := make([]string, len(cfg.Stages))
	for i, st := range cfg.Stages {
		stages[i] = st.Name
	}

	aborted, err := tui.Run(rc.Job, rc.Number, stages, events)
	if err != nil {
		logger.Warn("terminal ui failed, waiting for the run", "error", err)
	}
	if aborted {
		cancel()
	}
	return <-results, nil
}

func mapServices(services []config.Service) []notify.Service {
	out := make([]notify.Service, len(services))
	for i, s := range services {
		out[i] = notify.Service{URL: s.URL, Template: s.Template, Params: s.Params}
	}
	return out
}

func notifyOverrides(m config.Messages) notify.Overrides {
	return notify.Overrides{
		Started:  m.Started,
		Success:  m.Success,
		Unstable: m.Unstable,
		Failure:  m.Failure,
	}
}

func printResult(r runner.Result) {
	for _, st := range r.Stages {
		switch {
		case st.Skipped:
			fmt.Printf("- %s (skipped)\n", st.Name)
		case st.Outcome == pipeline.OutcomeSuccess:
			fmt.Printf("✓ %s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
		case st.Outcome == pipeline.OutcomeUnstable:
			fmt.Printf("! %s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
		default:
			fmt.Printf("✗ %s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
			for _, c := range st.Commands {
				if c.ExitCode != 0 {
					fmt.Printf("  $ %s (exit %d)\n", c.Command, c.ExitCode)
					if c.Stderr != "" {
						fmt.Printf("  %s\n", strings.TrimSpace(c.Stderr))
					}
				}
			}
		}
	}

	if r.Err != nil {
		if r.ErrStage != "" {
			fmt.Printf("  Error (%s): %s\n", r.ErrStage, r.Err)
		} else {
			fmt.Printf("  Error: %s\n", r.Err)
		}
	}

	verdict := strings.ToUpper(string(r.Outcome))
	if r.DryRun {
		verdict += " (dry-run)"
	}
	fmt.Printf("%s #%d: %s in %s\n", r.Job, r.Number, verdict, r.Duration.Round(time.Second))
	if r.Degraded {
		fmt.Println("  (status reporting failed, run degraded to unstable)")
	}
}

// exitForOutcome maps the run outcome to the process exit code: 0 for
// success, 1 for failure, 2 for unstable.
func exitForOutcome(outcome pipeline.Outcome) {
	switch outcome {
	case pipeline.OutcomeFailure:
		os.Exit(1)
	case pipeline.OutcomeUnstable:
		os.Exit(2)
	}
}
