package pipeline

import "time"

// Outcome is the terminal result of a stage or of a whole run.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeSuccess  Outcome = "success"
	OutcomeUnstable Outcome = "unstable"
	OutcomeFailure  Outcome = "failure"
)

// severity orders outcomes from best to worst. Pending is not a terminal
// outcome and ranks below everything.
func severity(o Outcome) int {
	switch o {
	case OutcomeSuccess:
		return 1
	case OutcomeUnstable:
		return 2
	case OutcomeFailure:
		return 3
	default:
		return 0
	}
}

// Worst returns the more severe of two outcomes.
func Worst(a, b Outcome) Outcome {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// StageKind selects how a stage's exit codes are classified and whether the
// stage posts a pending commit status before running.
type StageKind string

const (
	// KindTooling stages are diagnostic: non-zero exits are logged but never
	// fail the run, and no commit status is posted for them.
	KindTooling StageKind = "tooling"
	// KindBuild stages fail on the first non-zero exit and short-circuit
	// every later stage.
	KindBuild StageKind = "build"
	// KindTest stages distinguish unstable exits (some tests failed, the run
	// itself completed) from hard failures.
	KindTest StageKind = "test"
)

// EventKind identifies a progress event emitted during a run.
type EventKind int

const (
	EventStageStarted EventKind = iota
	EventCommandStarted
	EventCommandFinished
	EventStageFinished
	EventRunFinished
)

// Event is a single progress notification from a run. Events are delivered
// synchronously on the run goroutine; observers must not block.
type Event struct {
	Kind     EventKind
	Stage    string
	Command  string
	ExitCode int
	Outcome  Outcome
	Duration time.Duration
	Skipped  bool
}
