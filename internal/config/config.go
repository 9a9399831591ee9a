package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/gantryci/gantry/internal/pipeline"
)

type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Options  Options  `yaml:"options"`
	Stages   []Stage  `yaml:"stages" validate:"required,min=1,dive"`
	Status   Status   `yaml:"status"`
	Notify   Notify   `yaml:"notify"`
	Triggers Triggers `yaml:"triggers"`
}

type Pipeline struct {
	Name string `yaml:"name" validate:"required"`
	Repo string `yaml:"repo"`
}

// Options are the knobs every command can override from the CLI; flag names
// are derived from the yaml tags.
type Options struct {
	Workspace string `yaml:"workspace"`
	Timeout   string `yaml:"timeout"`
	DataDir   string `yaml:"data_dir"`
	KeepRuns  int    `yaml:"keep_runs" validate:"min=0"`
	Hostname  string `yaml:"hostname"`
}

// RunTimeout returns the wall-clock bound for a whole run.
func (o Options) RunTimeout() time.Duration {
	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return time.Hour
	}
	return d
}

type Stage struct {
	Name     string             `yaml:"name" validate:"required"`
	Kind     pipeline.StageKind `yaml:"kind" validate:"omitempty,oneof=tooling build test"`
	Commands []string           `yaml:"commands" validate:"required,min=1,dive,required"`
	// Pending is the commit-status text posted before the stage runs.
	// Only build and test stages post one.
	Pending string `yaml:"pending"`
	// UnstableExitCodes are the test-runner exits that mean "some tests
	// failed but the run completed". Any other non-zero exit is a failure.
	UnstableExitCodes []int  `yaml:"unstable_exit_codes"`
	Timeout           string `yaml:"timeout"`
}

// Status configures the commit-status reporter. Reporting is skipped
// entirely when no token is set.
type Status struct {
	Token   string `yaml:"token"`
	Context string `yaml:"context"`
	SHA     string `yaml:"sha"`
	BaseURL string `yaml:"base_url"`
}

type Notify struct {
	// OnStart additionally announces the run start; off by default so a
	// clean run produces exactly one chat message.
	OnStart  bool      `yaml:"on_start"`
	Services []Service `yaml:"services" validate:"dive"`
	Messages Messages  `yaml:"messages"`
}

// Messages override the default text per final state. Values are templates;
// see internal/notify for the accessor functions available in them.
type Messages struct {
	Started  string `yaml:"started"`
	Success  string `yaml:"success"`
	Unstable string `yaml:"unstable"`
	Failure  string `yaml:"failure"`
}

// Service handles a plain Shoutrrr URL string or an object with overrides.
type Service struct {
	URL      string            `yaml:"url" validate:"required"`
	Template string            `yaml:"template"`
	Params   map[string]string `yaml:"params"`
}

func (s *Service) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		s.URL = str
		return nil
	}

	type serviceAlias Service
	var obj serviceAlias
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("notify service: must be a URL string or an object with url/template/params")
	}
	*s = Service(obj)
	return nil
}

type Triggers struct {
	Interval string `yaml:"interval"`
	Cron     string `yaml:"cron"`
	Watch    Watch  `yaml:"watch"`
}

// Watch handles a plain path string or an object with a debounce override.
type Watch struct {
	Path     string `yaml:"path"`
	Debounce string `yaml:"debounce"`
}

func (w *Watch) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		w.Path = str
		return nil
	}

	var obj watchObj
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("watch: must be a path string or an object with path/debounce")
	}
	w.Path = obj.Path
	w.Debounce = obj.Debounce
	return nil
}

type watchObj struct {
	Path     string `yaml:"path"`
	Debounce string `yaml:"debounce"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags plus everything the tags cannot express:
// duration strings and the trigger shapes.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if _, err := time.ParseDuration(c.Options.Timeout); err != nil {
		return fmt.Errorf("options.timeout %q: %w", c.Options.Timeout, err)
	}
	for _, st := range c.Stages {
		if st.Timeout == "" {
			continue
		}
		if _, err := time.ParseDuration(st.Timeout); err != nil {
			return fmt.Errorf("stage %q timeout %q: %w", st.Name, st.Timeout, err)
		}
	}
	if c.Triggers.Interval != "" {
		if _, err := time.ParseDuration(c.Triggers.Interval); err != nil {
			return fmt.Errorf("triggers.interval %q: %w", c.Triggers.Interval, err)
		}
	}
	if c.Triggers.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Triggers.Watch.Debounce); err != nil {
			return fmt.Errorf("triggers.watch.debounce %q: %w", c.Triggers.Watch.Debounce, err)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Options.Timeout == "" {
		c.Options.Timeout = "60m"
	}
	if c.Options.KeepRuns == 0 {
		c.Options.KeepRuns = 10
	}
	if c.Options.DataDir == "" {
		c.Options.DataDir = defaultDataDir()
	}
	if c.Status.Context == "" && c.Pipeline.Name != "" {
		c.Status.Context = "ci/" + c.Pipeline.Name
	}

	for i := range c.Stages {
		st := &c.Stages[i]
		if st.Kind == "" {
			st.Kind = pipeline.KindBuild
		}
		if st.Kind == pipeline.KindTest && len(st.UnstableExitCodes) == 0 {
			st.UnstableExitCodes = []int{1}
		}
		if st.Pending == "" {
			switch st.Kind {
			case pipeline.KindBuild:
				st.Pending = "Jenkins is building..."
			case pipeline.KindTest:
				st.Pending = "Jenkins is running your tests..."
			}
		}
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "gantry")
	}
	return ".gantry"
}
