package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	result, err := Runner{}.Run(context.Background(), "echo hello", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("stdout = %q, missing hello", result.Stdout)
	}
	if result.Command != "echo hello" {
		t.Errorf("command = %q, want %q", result.Command, "echo hello")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	result, err := Runner{}.Run(context.Background(), "exit 3", Options{})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRun_Timeout(t *testing.T) {
	_, err := Runner{}.Run(context.Background(), "sleep 10", Options{
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want timeout message", err.Error())
	}
}

func TestRun_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Runner{}.Run(ctx, "sleep 10", Options{})
	if err == nil {
		t.Fatal("expected timeout error from parent context")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want timeout message", err.Error())
	}
}

func TestRun_Env(t *testing.T) {
	result, err := Runner{}.Run(context.Background(), "echo job=$JOB_NAME build=$BUILD_NUMBER", Options{
		Env: map[string]string{"JOB_NAME": "hummingbot", "BUILD_NUMBER": "42"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "job=hummingbot") {
		t.Errorf("stdout missing job=hummingbot: %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "build=42") {
		t.Errorf("stdout missing build=42: %q", result.Stdout)
	}
}

func TestRun_InheritsEnvironment(t *testing.T) {
	t.Setenv("GANTRY_SHELL_TEST", "inherited")

	result, err := Runner{}.Run(context.Background(), "echo value=$GANTRY_SHELL_TEST", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "value=inherited") {
		t.Errorf("host environment not inherited, stdout: %q", result.Stdout)
	}
}

func TestRun_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "VERSION"), []byte("0.5.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Runner{}.Run(context.Background(), "cat VERSION", Options{Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "0.5.0") {
		t.Errorf("stdout = %q, want version string", result.Stdout)
	}
}

func TestRun_Stderr(t *testing.T) {
	result, err := Runner{}.Run(context.Background(), "echo oops >&2", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stderr, "oops") {
		t.Errorf("stderr = %q, missing oops", result.Stderr)
	}
	if result.Stdout != "" {
		t.Errorf("stdout = %q, want empty", result.Stdout)
	}
}

func TestRun_ShellFeatures(t *testing.T) {
	// Command lines go through the shell, so pipes and redirects work.
	result, err := Runner{}.Run(context.Background(), "printf 'a\\nb\\nc\\n' | wc -l", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "3") {
		t.Errorf("stdout = %q, want line count 3", result.Stdout)
	}
}
