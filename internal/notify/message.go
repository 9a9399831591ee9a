package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/gantryci/gantry/internal/pipeline"
)

// State is the run condition being announced.
type State string

const (
	StateStarted  State = "started"
	StateSuccess  State = "success"
	StateUnstable State = "unstable"
	StateFailure  State = "failure"
)

// StateFor maps a terminal run outcome onto a notification state.
func StateFor(o pipeline.Outcome) State {
	switch o {
	case pipeline.OutcomeSuccess:
		return StateSuccess
	case pipeline.OutcomeUnstable:
		return StateUnstable
	default:
		return StateFailure
	}
}

// Data holds all data available to notification templates.
type Data struct {
	Run    map[string]string
	Result map[string]string
}

// BuildData constructs template data for one announcement. label names what
// is being built and falls back to the job name.
func BuildData(rc pipeline.RunContext, state State, label string) Data {
	run := map[string]string{
		"job":        rc.Job,
		"number":     strconv.Itoa(rc.Number),
		"url":        rc.BuildURL,
		"change_id":  rc.ChangeID,
		"change_url": rc.ChangeURL,
		"commit":     rc.Commit,
		"hostname":   rc.Hostname,
	}

	result := map[string]string{
		"state": string(state),
		"emoji": stateEmoji(state),
		"color": stateColor(state),
		"text":  DefaultText(state, label, rc),
	}

	return Data{Run: run, Result: result}
}

// DefaultText returns the chat text for a state. The success and failure
// texts are fixed; started announces the label, and unstable uses the
// generic "STATE: job #n" form so it never reads like a pass or a hard
// failure.
func DefaultText(state State, label string, rc pipeline.RunContext) string {
	switch state {
	case StateStarted:
		if label == "" {
			label = rc.Job
		}
		if label == "" {
			label = "pipeline"
		}
		return fmt.Sprintf("Initiating %s test...", label)
	case StateSuccess:
		return "Your tests passed on Jenkins!"
	case StateFailure:
		return "Uh oh, your tests failed on Jenkins :("
	default:
		return fmt.Sprintf("%s: %s #%d", strings.ToUpper(string(state)), rc.Job, rc.Number)
	}
}

// Started is announced before any outcome exists, so it carries the
// unstable severity for coloring.
func stateEmoji(state State) string {
	switch state {
	case StateSuccess:
		return "\U0001f7e2" // 🟢
	case StateFailure:
		return "\U0001f534" // 🔴
	default:
		return "\U0001f7e1" // 🟡
	}
}

func stateColor(state State) string {
	switch state {
	case StateSuccess:
		return "#36a64f"
	case StateFailure:
		return "#a30200"
	default:
		return "#daa038"
	}
}

// Render executes a Go text/template string with Sprig functions and the
// custom accessor functions (run, result).
func Render(tmplStr string, data Data) (string, error) {
	funcMap := sprig.TxtFuncMap()

	// Register accessor functions so {{run.job}} works: "run" returns the
	// run map, then ".job" accesses a key.
	funcMap["run"] = func() map[string]string { return data.Run }
	funcMap["result"] = func() map[string]string { return data.Result }

	t, err := template.New("notify").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}

// Compose renders the full message body for one announcement: the override
// template when set, the default text otherwise, followed by the build link
// and a pull request footer when the run has a change attached.
func Compose(override string, data Data) (string, error) {
	headline := data.Result["text"]
	if override != "" {
		rendered, err := Render(override, data)
		if err != nil {
			return "", err
		}
		headline = rendered
	}

	var b strings.Builder
	b.WriteString(headline)
	if url := data.Run["url"]; url != "" {
		b.WriteString("\n")
		b.WriteString(url)
	}
	if cu := data.Run["change_url"]; cu != "" {
		b.WriteString("\nPR: ")
		b.WriteString(cu)
	}
	return b.String(), nil
}
