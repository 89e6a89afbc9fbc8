// Package fetcher shallow-clones remote repositories into scratch directories.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// DefaultScratchRoot is where clones are placed when no root is configured.
const DefaultScratchRoot = ".tmp/repos"

// Checkout is a cloned working copy owned by a single indexing run.
type Checkout struct {
	Path   string
	URL    string
	Branch string

	once sync.Once
	err  error
}

// Cleanup removes the working copy. It is safe to call more than once.
func (c *Checkout) Cleanup() error {
	c.once.Do(func() {
		c.err = os.RemoveAll(c.Path)
	})
	return c.err
}

// cloneFunc matches git.PlainCloneContext so tests can replace the transport.
type cloneFunc func(ctx context.Context, path string, isBare bool, o *git.CloneOptions) (*git.Repository, error)

// Fetcher clones repositories under a shared scratch root. Each clone gets a
// fresh random directory so concurrent runs never collide.
type Fetcher struct {
	root   string
	logger *logging.Logger
	clone  cloneFunc
}

// New creates a Fetcher rooted at root (DefaultScratchRoot when empty).
func New(root string, logger *logging.Logger) *Fetcher {
	if root == "" {
		root = DefaultScratchRoot
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Fetcher{
		root:   root,
		logger: logger,
		clone:  git.PlainCloneContext,
	}
}

// Root returns the scratch root directory.
func (f *Fetcher) Root() string {
	return f.root
}

// Clone creates a depth-1, single-branch, tag-free working copy of url. An
// empty branch selects the remote's default branch. The caller owns the
// returned Checkout and must call Cleanup. On failure nothing is left behind
// and the error is a *CloneError.
func (f *Fetcher) Clone(ctx context.Context, url, branch string) (*Checkout, error) {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return nil, &CloneError{URL: url, Branch: branch, Err: fmt.Errorf("creating scratch root: %w", err)}
	}

	dir := filepath.Join(f.root, uuid.NewString())

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	f.logger.Debug(ctx, "cloning repository",
		zap.String("url", url),
		zap.String("branch", branch),
		zap.String("dir", dir),
	)

	if _, err := f.clone(ctx, dir, false, opts); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			f.logger.Warn(ctx, "failed to remove partial clone", zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, &CloneError{URL: url, Branch: branch, Err: err}
	}

	f.logger.Info(ctx, "repository cloned", zap.String("url", url), zap.String("dir", dir))

	return &Checkout{Path: dir, URL: url, Branch: branch}, nil
}
