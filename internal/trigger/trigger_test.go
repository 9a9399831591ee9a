package trigger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoop_NoTriggers(t *testing.T) {
	err := Loop(context.Background(), Options{}, testLogger(), func(string) {})
	if err == nil {
		t.Fatal("expected error with no triggers configured")
	}
}

func TestLoop_BadCron(t *testing.T) {
	err := Loop(context.Background(), Options{Cron: "not a cron spec"}, testLogger(), func(string) {})
	if err == nil {
		t.Fatal("expected error for unparseable cron spec")
	}
}

func TestLoop_Interval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, Options{Interval: 20 * time.Millisecond}, testLogger(), func(reason string) {
			fired <- reason
		})
	}()

	for range 2 {
		select {
		case reason := <-fired:
			if reason != "interval" {
				t.Errorf("reason = %q, want interval", reason)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("interval trigger never fired")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Loop returned %v on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after cancellation")
	}
}

func TestLoop_Watch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, Options{Watch: dir, Debounce: 30 * time.Millisecond}, testLogger(), func(reason string) {
			fired <- reason
		})
	}()

	// Keep touching the directory until the watcher is armed and fires.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(25 * time.Millisecond):
				os.WriteFile(filepath.Join(dir, "f"), []byte(strconv.Itoa(i)), 0o644)
			}
		}
	}()

	select {
	case reason := <-fired:
		if reason != "watch" {
			t.Errorf("reason = %q, want watch", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch trigger never fired")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Loop returned %v on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after cancellation")
	}
}

func TestLoop_WatchMissingPath(t *testing.T) {
	err := Loop(context.Background(), Options{Watch: filepath.Join(t.TempDir(), "nope")}, testLogger(), func(string) {})
	if err == nil {
		t.Fatal("expected error for unwatchable path")
	}
}

func TestOptionsActive(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{"none", Options{}, false},
		{"interval", Options{Interval: time.Minute}, true},
		{"cron", Options{Cron: "0 * * * *"}, true},
		{"watch", Options{Watch: "/srv/repo"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.active(); got != tt.want {
				t.Errorf("active() = %v, want %v", got, tt.want)
			}
		})
	}
}
