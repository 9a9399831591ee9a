package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result holds the output of one executed command line.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// Options configures command execution.
type Options struct {
	// Dir is the working directory; empty means the process cwd.
	Dir string
	// Env entries are exported to the command on top of the inherited
	// environment. Pipeline commands see the host environment plus these.
	Env map[string]string
	// Timeout bounds a single command; zero means the context's deadline.
	Timeout time.Duration
}

// Runner executes command lines with /bin/sh -c. The zero value is ready
// to use.
type Runner struct{}

// Run executes a single command line through the shell and captures its
// output. Non-zero exit codes are captured, not errors; timeouts and
// commands the shell cannot start are errors.
func (Runner) Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("command %q timed out after %s", command, duration.Round(time.Millisecond))
		}
		if ctx.Err() == context.Canceled {
			return result, fmt.Errorf("command %q aborted: %w", command, ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("executing %q: %w", command, err)
	}

	return result, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
