package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/pipeline"
)

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_sekrit123")
	t.Setenv("DISCORD_WEBHOOK_URL", "discord://wh-token@123456789")
	t.Setenv("SLACK_WEBHOOK_TOKENS", "AAA/BBB/CCC")

	root := findProjectRoot(t)
	cfg, err := Load(filepath.Join(root, "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pipeline.Name != "hummingbot" {
		t.Errorf("pipeline.name = %q, want %q", cfg.Pipeline.Name, "hummingbot")
	}
	if cfg.Pipeline.Repo != "https://github.com/coinalpha/hummingbot" {
		t.Errorf("pipeline.repo = %q", cfg.Pipeline.Repo)
	}
	if cfg.Options.Workspace != "/var/lib/gantry/workspace/hummingbot" {
		t.Errorf("options.workspace = %q", cfg.Options.Workspace)
	}
	if cfg.Options.KeepRuns != 10 {
		t.Errorf("options.keep_runs = %d, want 10", cfg.Options.KeepRuns)
	}

	if len(cfg.Stages) != 3 {
		t.Fatalf("stages count = %d, want 3", len(cfg.Stages))
	}
	kinds := []pipeline.StageKind{pipeline.KindTooling, pipeline.KindBuild, pipeline.KindTest}
	for i, want := range kinds {
		if cfg.Stages[i].Kind != want {
			t.Errorf("stage[%d] kind = %q, want %q", i, cfg.Stages[i].Kind, want)
		}
	}
	if cfg.Stages[1].Pending != "Jenkins is building..." {
		t.Errorf("build pending = %q", cfg.Stages[1].Pending)
	}
	if cfg.Stages[2].Pending != "Jenkins is running your tests..." {
		t.Errorf("test pending = %q", cfg.Stages[2].Pending)
	}
	if len(cfg.Stages[2].UnstableExitCodes) != 1 || cfg.Stages[2].UnstableExitCodes[0] != 1 {
		t.Errorf("unstable_exit_codes = %v, want [1]", cfg.Stages[2].UnstableExitCodes)
	}

	// envsubst in the status token
	if cfg.Status.Token != "ghp_sekrit123" {
		t.Errorf("status.token = %q, want envsubst applied", cfg.Status.Token)
	}
	if cfg.Status.Context != "ci/hummingbot" {
		t.Errorf("status.context = %q, want %q", cfg.Status.Context, "ci/hummingbot")
	}

	// Mixed notify services: bare string and object form.
	if len(cfg.Notify.Services) != 2 {
		t.Fatalf("notify services = %d, want 2", len(cfg.Notify.Services))
	}
	if cfg.Notify.Services[0].URL != "discord://wh-token@123456789" {
		t.Errorf("services[0].url = %q", cfg.Notify.Services[0].URL)
	}
	if cfg.Notify.Services[1].URL != "slack://AAA/BBB/CCC" {
		t.Errorf("services[1].url = %q", cfg.Notify.Services[1].URL)
	}
	if cfg.Notify.Services[1].Params["color"] != "{{result.color}}" {
		t.Errorf("services[1].params[color] = %q", cfg.Notify.Services[1].Params["color"])
	}

	if cfg.Triggers.Cron != "0 */4 * * *" {
		t.Errorf("triggers.cron = %q", cfg.Triggers.Cron)
	}
}

const minimalStages = `
stages:
  - name: Build
    commands:
      - make
`

func TestDefaults(t *testing.T) {
	cfg := loadFromString(t, `
pipeline:
  name: widget
`+minimalStages)

	if cfg.Options.Timeout != "60m" {
		t.Errorf("default timeout = %q, want 60m", cfg.Options.Timeout)
	}
	if cfg.Options.KeepRuns != 10 {
		t.Errorf("default keep_runs = %d, want 10", cfg.Options.KeepRuns)
	}
	if cfg.Options.DataDir == "" {
		t.Error("default data_dir is empty")
	}
	if cfg.Status.Context != "ci/widget" {
		t.Errorf("default status.context = %q, want ci/widget", cfg.Status.Context)
	}

	st := cfg.Stages[0]
	if st.Kind != pipeline.KindBuild {
		t.Errorf("default stage kind = %q, want build", st.Kind)
	}
	if st.Pending != "Jenkins is building..." {
		t.Errorf("default build pending = %q", st.Pending)
	}
}

func TestTestStageDefaults(t *testing.T) {
	cfg := loadFromString(t, `
pipeline:
  name: widget
stages:
  - name: Run tests
    kind: test
    commands:
      - make test
`)

	st := cfg.Stages[0]
	if len(st.UnstableExitCodes) != 1 || st.UnstableExitCodes[0] != 1 {
		t.Errorf("default unstable_exit_codes = %v, want [1]", st.UnstableExitCodes)
	}
	if st.Pending != "Jenkins is running your tests..." {
		t.Errorf("default test pending = %q", st.Pending)
	}
}

func TestToolingStageHasNoPending(t *testing.T) {
	cfg := loadFromString(t, `
pipeline:
  name: widget
stages:
  - name: Versions
    kind: tooling
    commands:
      - python --version
`)

	if cfg.Stages[0].Pending != "" {
		t.Errorf("tooling pending = %q, want empty", cfg.Stages[0].Pending)
	}
}

func TestWatchForms(t *testing.T) {
	cfg := loadFromString(t, `
pipeline:
  name: widget
triggers:
  watch: /srv/repo
`+minimalStages)
	if cfg.Triggers.Watch.Path != "/srv/repo" {
		t.Errorf("watch path = %q, want /srv/repo", cfg.Triggers.Watch.Path)
	}

	cfg = loadFromString(t, `
pipeline:
  name: widget
triggers:
  watch:
    path: /srv/repo
    debounce: 5s
`+minimalStages)
	if cfg.Triggers.Watch.Path != "/srv/repo" || cfg.Triggers.Watch.Debounce != "5s" {
		t.Errorf("watch = %+v, want path and debounce", cfg.Triggers.Watch)
	}
}

func TestServiceForms(t *testing.T) {
	cfg := loadFromString(t, `
pipeline:
  name: widget
notify:
  services:
    - logger://
    - url: slack://AAA/BBB/CCC
      template: "{{run.job}} done"
      params:
        color: red
`+minimalStages)

	svcs := cfg.Notify.Services
	if len(svcs) != 2 {
		t.Fatalf("services = %d, want 2", len(svcs))
	}
	if svcs[0].URL != "logger://" || svcs[0].Template != "" {
		t.Errorf("services[0] = %+v, want bare URL", svcs[0])
	}
	if svcs[1].Template != "{{run.job}} done" || svcs[1].Params["color"] != "red" {
		t.Errorf("services[1] = %+v", svcs[1])
	}
}

func TestEnvsubst(t *testing.T) {
	t.Setenv("TEST_TOKEN", "secret123")
	cfg := loadFromString(t, `
pipeline:
  name: widget
status:
  token: ${TEST_TOKEN}
`+minimalStages)
	if cfg.Status.Token != "secret123" {
		t.Errorf("token = %q, want envsubst applied", cfg.Status.Token)
	}
}

func TestRunTimeout(t *testing.T) {
	if got := (Options{Timeout: "90m"}).RunTimeout(); got != 90*time.Minute {
		t.Errorf("RunTimeout(90m) = %v", got)
	}
	if got := (Options{}).RunTimeout(); got != time.Hour {
		t.Errorf("RunTimeout(empty) = %v, want 1h fallback", got)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{
			"missing pipeline name",
			minimalStages,
			"Pipeline.Name",
		},
		{
			"no stages",
			"pipeline:\n  name: widget\n",
			"Stages",
		},
		{
			"stage without commands",
			"pipeline:\n  name: widget\nstages:\n  - name: Build\n",
			"Commands",
		},
		{
			"bad stage kind",
			"pipeline:\n  name: widget\nstages:\n  - name: B\n    kind: deploy\n    commands: [make]\n",
			"Kind",
		},
		{
			"bad timeout",
			"pipeline:\n  name: widget\noptions:\n  timeout: soon\n" + minimalStages,
			"options.timeout",
		},
		{
			"bad interval",
			"pipeline:\n  name: widget\ntriggers:\n  interval: often\n" + minimalStages,
			"triggers.interval",
		},
		{
			"bad stage timeout",
			"pipeline:\n  name: widget\nstages:\n  - name: B\n    commands: [make]\n    timeout: forever\n",
			"timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadErr(t, tt.yml)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestResolveExplicitMissing(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestResolveFillsHostname(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  name: widget\n"+minimalStages), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Options.Hostname == "" {
		t.Error("hostname not filled in")
	}
}

// helpers

func loadFromString(t *testing.T, yml string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func loadErr(t *testing.T, yml string) error {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	_, err := Load(path)
	return err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}
