package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/pipeline"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	// The API caps status descriptions at 140 characters.
	maxDescription = 140
)

// State is a commit status state accepted by the API.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// StateFor maps a run outcome onto the API's state set. The API has no
// unstable state; unstable maps to error to stay distinct from failure.
func StateFor(o pipeline.Outcome) State {
	switch o {
	case pipeline.OutcomePending:
		return StatePending
	case pipeline.OutcomeSuccess:
		return StateSuccess
	case pipeline.OutcomeUnstable:
		return StateError
	default:
		return StateFailure
	}
}

// Status is one commit-status update.
type Status struct {
	State       State
	Context     string
	Description string
	TargetURL   string
}

// Client posts commit statuses to a GitHub-compatible API.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewClient creates a commit-status client. baseURL is used for testing;
// pass empty string to use the real GitHub API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// statusRequest is the wire shape for a commit status post.
type statusRequest struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
}

// PostStatus posts a status for one revision of the repository identified
// by its clone URL.
func (c *Client) PostStatus(ctx context.Context, repoURL, sha string, s Status) error {
	owner, name, err := SplitRepo(repoURL)
	if err != nil {
		return err
	}
	if sha == "" {
		return fmt.Errorf("posting status: no commit sha")
	}

	body, err := json.Marshal(statusRequest{
		State:       string(s.State),
		TargetURL:   s.TargetURL,
		Description: truncate(s.Description, maxDescription),
		Context:     s.Context,
	})
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/statuses/%s", c.baseURL, owner, name, sha)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("github API error: %s", resp.Status)
	}
	return nil
}

// Reporter binds a Client to one repository revision and status context,
// which is all the pipeline driver needs per run.
type Reporter struct {
	Client    *Client
	RepoURL   string
	SHA       string
	Context   string
	TargetURL string
}

// PostStatus implements the driver's status-reporter interface.
func (r *Reporter) PostStatus(ctx context.Context, outcome pipeline.Outcome, description string) error {
	return r.Client.PostStatus(ctx, r.RepoURL, r.SHA, Status{
		State:       StateFor(outcome),
		Context:     r.Context,
		Description: description,
		TargetURL:   r.TargetURL,
	})
}

// SplitRepo extracts owner and repository name from an HTTPS or SSH clone
// URL, or from a bare "owner/repo" pair.
func SplitRepo(repoURL string) (owner, name string, err error) {
	if repoURL == "" || strings.HasPrefix(repoURL, "/") {
		return "", "", fmt.Errorf("unusable repository URL: %q", repoURL)
	}

	base := strings.TrimSuffix(repoURL, "/")
	base = strings.TrimSuffix(base, ".git")

	if strings.HasPrefix(base, "git@") {
		// git@github.com:owner/repo
		_, path, ok := strings.Cut(strings.TrimPrefix(base, "git@"), ":")
		if !ok {
			return "", "", fmt.Errorf("unusable repository URL: %q", repoURL)
		}
		base = path
	} else if i := strings.Index(base, "://"); i >= 0 {
		// https://github.com/owner/repo
		_, path, ok := strings.Cut(base[i+3:], "/")
		if !ok {
			return "", "", fmt.Errorf("unusable repository URL: %q", repoURL)
		}
		base = path
	}

	parts := strings.Split(base, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" || parts[len(parts)-2] == "" {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
