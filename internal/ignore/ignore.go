// Package ignore decides which repository paths are never indexed.
//
// A Matcher combines a fixed set of directory names that are pruned at any
// depth with optional gitignore-style patterns read from the clone or
// supplied by configuration.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultDirs are directory names pruned wherever they appear.
var DefaultDirs = []string{
	".git",
	"node_modules",
	".next",
	"dist",
	"build",
	"coverage",
	".turbo",
	".vercel",
}

// Parser reads gitignore-style files from a project root.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string
}

// NewParser creates a parser for the given ignore file names.
func NewParser(ignoreFiles ...string) *Parser {
	return &Parser{IgnoreFiles: ignoreFiles}
}

// ParseProject reads every configured ignore file present in projectRoot and
// returns their patterns in file order, deduplicated. Missing files are skipped.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	for _, name := range p.IgnoreFiles {
		filePatterns, err := parseFile(filepath.Join(projectRoot, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
	}
	return deduplicate(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns the pattern on a line, or "" for blanks and comments.
// Negations are kept; the matcher honours them.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher reports whether a slash-separated relative path is ignored.
type Matcher struct {
	dirs     map[string]struct{}
	patterns *gitignore.GitIgnore
}

// NewMatcher returns a matcher for DefaultDirs plus the given patterns.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{dirs: make(map[string]struct{}, len(DefaultDirs))}
	for _, d := range DefaultDirs {
		m.dirs[d] = struct{}{}
	}
	if len(patterns) > 0 {
		m.patterns = gitignore.CompileIgnoreLines(patterns...)
	}
	return m
}

// ForProject builds a matcher from the project's .gitignore (when
// useGitignore is set) followed by extra patterns.
func ForProject(root string, useGitignore bool, extra []string) (*Matcher, error) {
	var patterns []string
	if useGitignore {
		fromFiles, err := NewParser(".gitignore").ParseProject(root)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, fromFiles...)
	}
	patterns = append(patterns, extra...)
	return NewMatcher(patterns...), nil
}

// Match reports whether relPath is ignored. Directories are matched with a
// trailing slash so "dir/" patterns apply to them.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if relPath == "" || relPath == "." {
		return false
	}
	for _, segment := range strings.Split(relPath, "/") {
		if _, ok := m.dirs[segment]; ok {
			return true
		}
	}
	if m.patterns == nil {
		return false
	}
	if isDir {
		relPath += "/"
	}
	return m.patterns.MatchesPath(relPath)
}
