package fetcher

import (
	"strings"

	giturls "github.com/whilp/git-urls"
)

const githubHost = "github.com"

// Coordinates identifies a GitHub repository.
type Coordinates struct {
	Owner string
	Name  string
	// URL is the canonical https form: https://github.com/<owner>/<name>.
	URL string
}

// ParseGitHubURL validates raw as a GitHub repository reference and returns
// its canonical coordinates. https, ssh and scp-style remotes are accepted;
// a trailing ".git" and any path below owner/name are ignored.
func ParseGitHubURL(raw string) (Coordinates, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Coordinates{}, &ValidationError{Input: raw, Reason: "url is required"}
	}

	u, err := giturls.Parse(trimmed)
	if err != nil {
		return Coordinates{}, &ValidationError{Input: raw, Reason: err.Error()}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		host = strings.ToLower(u.Host)
	}
	if host != githubHost && host != "www."+githubHost {
		return Coordinates{}, &ValidationError{Input: raw, Reason: "only github.com repositories are supported"}
	}

	segments := make([]string, 0, 2)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return Coordinates{}, &ValidationError{Input: raw, Reason: "expected https://github.com/<owner>/<repo>"}
	}

	owner := segments[0]
	name := strings.TrimSuffix(segments[1], ".git")
	if name == "" {
		return Coordinates{}, &ValidationError{Input: raw, Reason: "repository name is empty"}
	}

	return Coordinates{
		Owner: owner,
		Name:  name,
		URL:   "https://" + githubHost + "/" + owner + "/" + name,
	}, nil
}
