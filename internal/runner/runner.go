package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/internal/notify"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/shell"
)

// finalizeTimeout bounds the status post, the notification, and the cleanup
// after a run that already consumed its own deadline.
const finalizeTimeout = 30 * time.Second

// Executor runs one stage command line.
type Executor interface {
	Run(ctx context.Context, command string, opts shell.Options) (*shell.Result, error)
}

// StatusReporter posts a commit status for the run's revision. Reporting is
// best-effort: a failed post degrades a passing run to unstable, it never
// fails the run outright.
type StatusReporter interface {
	PostStatus(ctx context.Context, outcome pipeline.Outcome, description string) error
}

// Notifier announces a run state to the chat services.
type Notifier interface {
	Notify(state notify.State, rc pipeline.RunContext) error
}

// Recorder persists a finished run.
type Recorder interface {
	Record(run *history.Run) error
}

// Runner drives the configured stages in order and dispatches commit
// statuses, chat notifications, the history record, and the workspace
// cleanup. Nil collaborators are skipped, so a Runner with only Exec set
// just runs commands.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	Exec     Executor
	Status   StatusReporter
	Notifier Notifier
	Recorder Recorder
	// OnEvent observes progress synchronously on the run goroutine; it must
	// not block.
	OnEvent func(pipeline.Event)
}

// New creates a Runner with the real shell executor.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger, Exec: shell.Runner{}}
}

// Run executes the whole pipeline once. However the stages end, the final
// status, the notification, the cleanup, and the history record all still
// happen, in that order.
func (r *Runner) Run(ctx context.Context, rc pipeline.RunContext, dryRun bool) Result {
	log := r.logger.With("job", rc.Job, "build", rc.Number)
	start := time.Now()

	result := Result{
		Job:     rc.Job,
		Number:  rc.Number,
		Outcome: pipeline.OutcomeSuccess,
		DryRun:  dryRun,
		Started: start,
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Options.RunTimeout())
	defer cancel()

	var statusFailed bool
	degrade := func() {
		if statusFailed && result.Outcome == pipeline.OutcomeSuccess {
			result.Outcome = pipeline.OutcomeUnstable
			result.Degraded = true
			log.Warn("status reporting failed, run degraded to unstable")
		}
	}

	log.Info("run started", "stages", len(r.cfg.Stages), "timeout", r.cfg.Options.RunTimeout(), "dry_run", dryRun)

	if r.cfg.Notify.OnStart {
		r.announce(log, dryRun, notify.StateStarted, rc)
	}

	// Stage loop. The first failure (or unstable exit) short-circuits every
	// later stage; skipped stages are still recorded.
	failed := false
	if err := r.prepareWorkspace(); err != nil {
		log.Error("workspace unusable", "error", err)
		result.Err = err
		result.Outcome = pipeline.OutcomeFailure
		failed = true
	}

	for i := range r.cfg.Stages {
		st := &r.cfg.Stages[i]

		if failed {
			result.Stages = append(result.Stages, StageResult{Name: st.Name, Kind: st.Kind, Skipped: true})
			r.emit(pipeline.Event{Kind: pipeline.EventStageFinished, Stage: st.Name, Skipped: true})
			log.Info("stage skipped", "stage", st.Name)
			continue
		}

		sres := r.runStage(runCtx, log, st, rc, dryRun, &statusFailed)
		result.Stages = append(result.Stages, sres)
		result.Outcome = pipeline.Worst(result.Outcome, sres.Outcome)

		if sres.Err != nil && result.Err == nil {
			result.Err = sres.Err
			result.ErrStage = st.Name
		}
		if sres.Outcome == pipeline.OutcomeFailure {
			result.FailedStage = st.Name
		}
		if sres.Outcome != pipeline.OutcomeSuccess {
			failed = true
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
	}

	// Finalize on a fresh deadline so a timed-out or cancelled run still
	// reports, announces, and cleans up.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()

	degrade()
	r.postStatus(finCtx, log, dryRun, &statusFailed, result.Outcome, finalDescription(result))
	degrade()

	r.announce(log, dryRun, notify.StateFor(result.Outcome), rc)

	r.cleanup(log)

	result.Duration = time.Since(start)
	r.record(log, dryRun, result, rc)

	r.emit(pipeline.Event{Kind: pipeline.EventRunFinished, Outcome: result.Outcome, Duration: result.Duration})
	log.Info("run finished", "outcome", result.Outcome, "duration", result.Duration)
	return result
}

// runStage executes one stage's commands in order and classifies its exit
// codes by stage kind.
func (r *Runner) runStage(ctx context.Context, log *slog.Logger, st *config.Stage, rc pipeline.RunContext, dryRun bool, statusFailed *bool) StageResult {
	log = log.With("stage", st.Name)
	start := time.Now()

	sres := StageResult{Name: st.Name, Kind: st.Kind, Outcome: pipeline.OutcomeSuccess}

	r.emit(pipeline.Event{Kind: pipeline.EventStageStarted, Stage: st.Name})
	log.Info("stage started", "kind", st.Kind, "commands", len(st.Commands))

	// Build and test stages announce themselves on the commit before the
	// first command runs; tooling stages stay invisible on the PR.
	if st.Kind != pipeline.KindTooling && st.Pending != "" {
		r.postStatus(ctx, log, dryRun, statusFailed, pipeline.OutcomePending, st.Pending)
	}

	var timeout time.Duration
	if st.Timeout != "" {
		timeout, _ = time.ParseDuration(st.Timeout)
	}
	opts := shell.Options{
		Dir:     r.cfg.Options.Workspace,
		Env:     runEnv(rc),
		Timeout: timeout,
	}

	for _, command := range st.Commands {
		r.emit(pipeline.Event{Kind: pipeline.EventCommandStarted, Stage: st.Name, Command: command})
		log.Debug("running command", "command", command)

		execRes, err := r.Exec.Run(ctx, command, opts)

		cres := CommandResult{Command: command}
		if execRes != nil {
			cres.ExitCode = execRes.ExitCode
			cres.Duration = execRes.Duration
			cres.Stdout = execRes.Stdout
			cres.Stderr = execRes.Stderr
		}
		sres.Commands = append(sres.Commands, cres)
		r.emit(pipeline.Event{Kind: pipeline.EventCommandFinished, Stage: st.Name, Command: command, ExitCode: cres.ExitCode, Duration: cres.Duration})

		if err != nil {
			// Timeouts and commands the shell cannot start are hard
			// failures for every stage kind.
			sres.Err = err
			sres.Outcome = pipeline.OutcomeFailure
			log.Error("command failed", "command", command, "error", err)
			break
		}

		if cres.ExitCode == 0 {
			log.Debug("command finished", "command", command, "duration", cres.Duration)
			continue
		}

		switch st.Kind {
		case pipeline.KindTooling:
			log.Warn("diagnostic command exited non-zero", "command", command, "exit_code", cres.ExitCode)
			continue
		case pipeline.KindTest:
			if slices.Contains(st.UnstableExitCodes, cres.ExitCode) {
				sres.Outcome = pipeline.OutcomeUnstable
				log.Warn("tests unstable", "command", command, "exit_code", cres.ExitCode)
			} else {
				sres.Outcome = pipeline.OutcomeFailure
				log.Error("tests failed", "command", command, "exit_code", cres.ExitCode)
			}
		default:
			sres.Outcome = pipeline.OutcomeFailure
			log.Error("command exited non-zero", "command", command, "exit_code", cres.ExitCode)
		}
		break
	}

	sres.Duration = time.Since(start)
	r.emit(pipeline.Event{Kind: pipeline.EventStageFinished, Stage: st.Name, Outcome: sres.Outcome, Duration: sres.Duration})
	log.Info("stage finished", "outcome", sres.Outcome, "duration", sres.Duration)
	return sres
}

func (r *Runner) prepareWorkspace() error {
	ws := r.cfg.Options.Workspace
	if ws == "" {
		return nil
	}
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return fmt.Errorf("preparing workspace: %w", err)
	}
	return nil
}

// postStatus sends one commit-status update. Failures are logged and
// remembered so a clean run can be degraded later; they never interrupt
// the pipeline.
func (r *Runner) postStatus(ctx context.Context, log *slog.Logger, dryRun bool, failed *bool, outcome pipeline.Outcome, description string) {
	if r.Status == nil {
		return
	}
	if dryRun {
		log.Info("would post status (dry-run)", "state", outcome, "description", description)
		return
	}
	if err := r.Status.PostStatus(ctx, outcome, description); err != nil {
		log.Warn("status post failed", "state", outcome, "error", err)
		*failed = true
		return
	}
	log.Debug("status posted", "state", outcome, "description", description)
}

// announce sends one chat notification. Delivery failures are logged and
// dropped; a dead webhook never changes the run's outcome.
func (r *Runner) announce(log *slog.Logger, dryRun bool, state notify.State, rc pipeline.RunContext) {
	if r.Notifier == nil {
		return
	}
	if dryRun {
		log.Info("would notify (dry-run)", "state", state)
		return
	}
	if err := r.Notifier.Notify(state, rc); err != nil {
		log.Warn("notification failed", "state", state, "error", err)
		return
	}
	log.Debug("notification sent", "state", state)
}

// cleanup removes the workspace directory. It refuses obviously wrong
// targets but otherwise runs on every path out of the stage loop, dry-run
// included.
func (r *Runner) cleanup(log *slog.Logger) {
	ws := r.cfg.Options.Workspace
	if ws == "" {
		return
	}

	abs, err := filepath.Abs(ws)
	if err != nil || abs == string(filepath.Separator) {
		log.Error("refusing to clean workspace", "workspace", ws)
		return
	}
	if home, err := os.UserHomeDir(); err == nil && abs == home {
		log.Error("refusing to clean workspace", "workspace", ws)
		return
	}

	if err := os.RemoveAll(abs); err != nil {
		log.Error("workspace cleanup failed", "workspace", abs, "error", err)
		return
	}
	log.Info("workspace cleaned", "workspace", abs)
}

func (r *Runner) record(log *slog.Logger, dryRun bool, result Result, rc pipeline.RunContext) {
	if r.Recorder == nil || dryRun {
		return
	}
	if err := r.Recorder.Record(historyRun(result, rc)); err != nil {
		log.Warn("recording run failed", "error", err)
		return
	}
	log.Debug("run recorded", "number", result.Number)
}

func (r *Runner) emit(e pipeline.Event) {
	if r.OnEvent != nil {
		r.OnEvent(e)
	}
}

// finalDescription is the text of the terminal commit status.
func finalDescription(result Result) string {
	switch result.Outcome {
	case pipeline.OutcomeSuccess:
		return "Build succeeded"
	case pipeline.OutcomeUnstable:
		return "Build unstable"
	default:
		if result.TimedOut {
			return "Build timed out"
		}
		if result.FailedStage != "" {
			return result.FailedStage + " failed"
		}
		return "Build failed"
	}
}

// runEnv exports the run metadata to stage commands under the variable
// names a Jenkins-style host would set.
func runEnv(rc pipeline.RunContext) map[string]string {
	env := map[string]string{
		"JOB_NAME":     rc.Job,
		"BUILD_NUMBER": strconv.Itoa(rc.Number),
	}
	if rc.BuildURL != "" {
		env["BUILD_URL"] = rc.BuildURL
	}
	if rc.ChangeID != "" {
		env["CHANGE_ID"] = rc.ChangeID
	}
	if rc.ChangeURL != "" {
		env["CHANGE_URL"] = rc.ChangeURL
	}
	if rc.RepoURL != "" {
		env["GIT_URL"] = rc.RepoURL
	}
	if rc.Commit != "" {
		env["GIT_COMMIT"] = rc.Commit
	}
	return env
}

func historyRun(result Result, rc pipeline.RunContext) *history.Run {
	run := &history.Run{
		Job:      result.Job,
		Number:   result.Number,
		Outcome:  result.Outcome,
		Started:  result.Started,
		Finished: result.Started.Add(result.Duration),
		Duration: result.Duration,
		ChangeID: rc.ChangeID,
		Log:      result.CombinedLog(),
	}
	for _, st := range result.Stages {
		run.Stages = append(run.Stages, history.StageRecord{
			Name:     st.Name,
			Kind:     string(st.Kind),
			Outcome:  st.Outcome,
			Duration: st.Duration,
			Skipped:  st.Skipped,
		})
	}
	return run
}
