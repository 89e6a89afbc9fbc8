package fetcher

import "fmt"

// CloneError reports that a repository could not be cloned: the remote was
// unreachable, the branch does not exist or the scratch filesystem failed.
type CloneError struct {
	URL    string
	Branch string
	Err    error
}

func (e *CloneError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("clone %s (branch %s): %v", e.URL, e.Branch, e.Err)
	}
	return fmt.Sprintf("clone %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed repository URL.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid repository url %q: %s", e.Input, e.Reason)
}
