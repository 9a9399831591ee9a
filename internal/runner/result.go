package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/pipeline"
)

// Result captures one whole run. Errors are stored in Err/ErrStage rather
// than returned, so the caller always has something to display.
type Result struct {
	Job     string
	Number  int
	Outcome pipeline.Outcome
	Stages  []StageResult
	// FailedStage names the stage whose failure ended the run, if any.
	FailedStage string
	// Degraded reports that a commit-status post failed and pulled a
	// passing run down to unstable.
	Degraded bool
	TimedOut bool
	DryRun   bool
	Started  time.Time
	Duration time.Duration
	Err      error
	ErrStage string
}

// StageResult is the terminal outcome of a single stage.
type StageResult struct {
	Name     string
	Kind     pipeline.StageKind
	Outcome  pipeline.Outcome
	Duration time.Duration
	Skipped  bool
	Commands []CommandResult
	Err      error
}

// CommandResult records one executed command line.
type CommandResult struct {
	Command  string
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// CombinedLog renders the captured command output as one text blob for the
// run history.
func (r *Result) CombinedLog() string {
	var b strings.Builder
	for _, st := range r.Stages {
		if st.Skipped {
			fmt.Fprintf(&b, "=== %s (skipped)\n", st.Name)
			continue
		}
		fmt.Fprintf(&b, "=== %s\n", st.Name)
		for _, c := range st.Commands {
			fmt.Fprintf(&b, "$ %s\n", c.Command)
			writeBlock(&b, c.Stdout)
			writeBlock(&b, c.Stderr)
			if c.ExitCode != 0 {
				fmt.Fprintf(&b, "(exit %d)\n", c.ExitCode)
			}
		}
		if st.Err != nil {
			fmt.Fprintf(&b, "error: %v\n", st.Err)
		}
	}
	return b.String()
}

func writeBlock(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	b.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}
