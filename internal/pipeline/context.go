package pipeline

import (
	"os"
	"strconv"
	"strings"
)

// RunContext carries the ambient metadata of a single run: which job is
// building, which build this is, and where its results can be seen. It is
// passed explicitly so nothing downstream reads globals.
type RunContext struct {
	Job       string // JOB_NAME
	Number    int    // BUILD_NUMBER
	BuildURL  string // BUILD_URL
	ChangeID  string // CHANGE_ID (pull request number, if any)
	ChangeURL string // CHANGE_URL
	RepoURL   string // GIT_URL
	Commit    string // GIT_COMMIT
	Hostname  string
}

// ContextFromEnv builds a RunContext from the ambient environment. Values
// are presence-checked only; deeper validation is left to the consumers.
// ChangeURL falls back to a pull request link derived from the repository
// URL when only a change identifier is set.
func ContextFromEnv() RunContext {
	rc := RunContext{
		Job:       os.Getenv("JOB_NAME"),
		BuildURL:  os.Getenv("BUILD_URL"),
		ChangeID:  os.Getenv("CHANGE_ID"),
		ChangeURL: os.Getenv("CHANGE_URL"),
		RepoURL:   os.Getenv("GIT_URL"),
		Commit:    os.Getenv("GIT_COMMIT"),
	}
	if n, err := strconv.Atoi(os.Getenv("BUILD_NUMBER")); err == nil {
		rc.Number = n
	}
	if h, err := os.Hostname(); err == nil {
		rc.Hostname = h
	}
	if rc.ChangeURL == "" && rc.ChangeID != "" {
		rc.ChangeURL = PullRequestURL(rc.RepoURL, rc.ChangeID)
	}
	return rc
}

// PullRequestURL derives a pull request link from a repository URL and a
// change identifier. Supports HTTPS and SSH remotes; returns "" when the
// repository URL is unusable.
func PullRequestURL(repoURL, changeID string) string {
	if repoURL == "" || changeID == "" {
		return ""
	}
	base := strings.TrimSuffix(repoURL, ".git")

	// git@github.com:owner/repo → https://github.com/owner/repo
	if strings.HasPrefix(base, "git@") {
		host, path, ok := strings.Cut(strings.TrimPrefix(base, "git@"), ":")
		if !ok {
			return ""
		}
		base = "https://" + host + "/" + path
	}

	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/pull/" + changeID
}
