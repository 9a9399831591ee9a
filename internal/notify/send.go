package notify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/gantryci/gantry/internal/pipeline"
)

// Service is one configured webhook destination.
type Service struct {
	URL      string
	Template string
	Params   map[string]string
}

// Target holds a fully resolved notification ready to send.
type Target struct {
	URL     string
	Message string
	Params  map[string]string
}

// ResolveTargets renders the message and params for every service. A
// service's template overrides the default one; param values may themselves
// be templates.
func ResolveTargets(services []Service, defaultTemplate string, data Data) ([]Target, error) {
	var targets []Target

	for _, svc := range services {
		tmplStr := defaultTemplate
		if svc.Template != "" {
			tmplStr = svc.Template
		}

		msg, err := Compose(tmplStr, data)
		if err != nil {
			return nil, fmt.Errorf("rendering message for %s: %w", redact(svc.URL), err)
		}

		params := make(map[string]string, len(svc.Params))
		for k, v := range svc.Params {
			rendered, err := Render(v, data)
			if err != nil {
				return nil, fmt.Errorf("rendering param %q for %s: %w", k, redact(svc.URL), err)
			}
			params[k] = rendered
		}

		targets = append(targets, Target{
			URL:     svc.URL,
			Message: msg,
			Params:  params,
		})
	}

	return targets, nil
}

// Send delivers a notification to a single target via Shoutrrr.
func Send(t Target) error {
	sender, err := shoutrrr.CreateSender(t.URL)
	if err != nil {
		return fmt.Errorf("creating sender for %s: %w", redact(t.URL), err)
	}

	params := types.Params(t.Params)
	errs := sender.Send(t.Message, &params)
	for _, e := range errs {
		if e != nil {
			return fmt.Errorf("sending to %s: %w", redact(t.URL), e)
		}
	}

	return nil
}

// Validate checks that a target's URL parses into a known service without
// sending anything.
func Validate(t Target) error {
	if _, err := shoutrrr.CreateSender(t.URL); err != nil {
		return fmt.Errorf("invalid service URL %s: %w", redact(t.URL), err)
	}
	return nil
}

// Overrides replace the default message text per announced state. Empty
// entries keep the default.
type Overrides struct {
	Started  string
	Success  string
	Unstable string
	Failure  string
}

// ForState returns the override for a state, or "" to keep the default.
func (o Overrides) ForState(state State) string {
	switch state {
	case StateStarted:
		return o.Started
	case StateSuccess:
		return o.Success
	case StateUnstable:
		return o.Unstable
	case StateFailure:
		return o.Failure
	}
	return ""
}

// Sender fans one run announcement out to every configured service.
// Delivery is best-effort: every service is attempted and the errors
// collected, so one dead webhook never silences the rest.
type Sender struct {
	Services []Service
	Messages Overrides
	Label    string
	Logger   *slog.Logger
}

// Notify composes and delivers the message for a state to every service.
func (s *Sender) Notify(state State, rc pipeline.RunContext) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	data := BuildData(rc, state, s.Label)
	targets, err := ResolveTargets(s.Services, s.Messages.ForState(state), data)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range targets {
		if err := Send(t); err != nil {
			log.Warn("notification failed", "error", err)
			errs = append(errs, err)
			continue
		}
		log.Debug("notification sent", "state", state, "url", redact(t.URL))
	}
	return errors.Join(errs...)
}

// redact strips everything after the scheme so webhook tokens never reach
// logs or error messages.
func redact(url string) string {
	for i := range len(url) {
		if url[i] == ':' {
			return url[:i] + "://…"
		}
	}
	return "service"
}
