package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

func TestClone_PassesShallowOptions(t *testing.T) {
	f := New(t.TempDir(), logging.NewTestLogger().Logger)

	var got *git.CloneOptions
	f.clone = func(_ context.Context, path string, isBare bool, o *git.CloneOptions) (*git.Repository, error) {
		got = o
		assert.False(t, isBare)
		return nil, os.MkdirAll(path, 0o755)
	}

	co, err := f.Clone(context.Background(), "https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = co.Cleanup() })

	require.NotNil(t, got)
	assert.Equal(t, 1, got.Depth)
	assert.True(t, got.SingleBranch)
	assert.Equal(t, git.NoTags, got.Tags)
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), got.ReferenceName)
	assert.DirExists(t, co.Path)
	assert.Equal(t, f.Root(), filepath.Dir(co.Path))
}

func TestClone_DefaultBranchLeavesReferenceEmpty(t *testing.T) {
	f := New(t.TempDir(), nil)

	var got *git.CloneOptions
	f.clone = func(_ context.Context, path string, _ bool, o *git.CloneOptions) (*git.Repository, error) {
		got = o
		return nil, os.MkdirAll(path, 0o755)
	}

	co, err := f.Clone(context.Background(), "https://github.com/acme/widgets", "")
	require.NoError(t, err)
	defer co.Cleanup()

	assert.Equal(t, plumbing.ReferenceName(""), got.ReferenceName)
}

func TestClone_FailureReturnsCloneErrorAndRemovesDir(t *testing.T) {
	root := t.TempDir()
	f := New(root, nil)

	cause := errors.New("remote unreachable")
	f.clone = func(_ context.Context, path string, _ bool, _ *git.CloneOptions) (*git.Repository, error) {
		require.NoError(t, os.MkdirAll(filepath.Join(path, "partial"), 0o755))
		return nil, cause
	}

	co, err := f.Clone(context.Background(), "https://github.com/acme/missing", "dev")
	require.Error(t, err)
	assert.Nil(t, co)

	var cloneErr *CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, "dev", cloneErr.Branch)
	assert.ErrorIs(t, err, cause)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClone_ConcurrentRunsUseDistinctDirectories(t *testing.T) {
	f := New(t.TempDir(), nil)
	f.clone = func(_ context.Context, path string, _ bool, _ *git.CloneOptions) (*git.Repository, error) {
		return nil, os.Mkdir(path, 0o755)
	}

	const runs = 8
	paths := make([]string, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			co, err := f.Clone(context.Background(), "https://github.com/acme/widgets", "")
			if assert.NoError(t, err) {
				paths[i] = co.Path
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate scratch dir %s", p)
		seen[p] = true
	}
}

func TestCheckout_CleanupIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	co := &Checkout{Path: dir}
	require.NoError(t, co.Cleanup())
	require.NoError(t, co.Cleanup())
	assert.NoDirExists(t, dir)
}

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Coordinates
		wantErr string
	}{
		{
			name:  "https",
			input: "https://github.com/acme/widgets",
			want:  Coordinates{Owner: "acme", Name: "widgets", URL: "https://github.com/acme/widgets"},
		},
		{
			name:  "strips .git and extra path",
			input: "https://github.com/acme/widgets.git",
			want:  Coordinates{Owner: "acme", Name: "widgets", URL: "https://github.com/acme/widgets"},
		},
		{
			name:  "tree path ignored",
			input: "https://github.com/acme/widgets/tree/main/docs",
			want:  Coordinates{Owner: "acme", Name: "widgets", URL: "https://github.com/acme/widgets"},
		},
		{
			name:  "scp style",
			input: "git@github.com:acme/widgets.git",
			want:  Coordinates{Owner: "acme", Name: "widgets", URL: "https://github.com/acme/widgets"},
		},
		{name: "empty", input: "  ", wantErr: "url is required"},
		{name: "other host", input: "https://gitlab.com/acme/widgets", wantErr: "only github.com"},
		{name: "owner only", input: "https://github.com/acme", wantErr: "expected https://github.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGitHubURL(tt.input)
			if tt.wantErr != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
