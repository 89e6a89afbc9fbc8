package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repolens/internal/chunker"
	"github.com/fyrsmithlabs/repolens/internal/events"
	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/secrets"
	"github.com/fyrsmithlabs/repolens/internal/tokens"
	"github.com/fyrsmithlabs/repolens/internal/vectorstore"
)

const repoURL = "https://github.com/fyrsmithlabs/repolens"

// fakeCloner materialises files into a fresh directory per clone.
type fakeCloner struct {
	t     *testing.T
	files map[string]string
	err   error
	gate  chan struct{}

	mu   sync.Mutex
	dirs []string
	urls []string
}

func (f *fakeCloner) Clone(ctx context.Context, url, branch string) (*fetcher.Checkout, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}

	dir := f.t.TempDir()
	for rel, content := range f.files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	}

	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	return &fetcher.Checkout{Path: dir, URL: url, Branch: branch}, nil
}

// fakeEmbedder returns a distinct unit-ish vector per text.
type fakeEmbedder struct {
	err   error
	short bool

	mu    sync.Mutex
	calls int
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, vectorstore.DefaultDimension)
		v[0] = 1
		v[1+i%100] = 0.5
		out[i] = v
	}
	return out, nil
}

// recordingStore keeps every upserted point on top of a real store.
type recordingStore struct {
	vectorstore.Store

	mu     sync.Mutex
	points []vectorstore.Point
	err    error
}

func (r *recordingStore) UpsertVectors(ctx context.Context, points []vectorstore.Point) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.points = append(r.points, points...)
	r.mu.Unlock()
	return r.Store.UpsertVectors(ctx, points)
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []string
}

func (s *recordingSink) Publish(_ context.Context, e events.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, e.Status)
	return nil
}

type replaceRedactor struct{ secret string }

func (r replaceRedactor) Redact(_ string, content string) secrets.Result {
	if !strings.Contains(content, r.secret) {
		return secrets.Result{Content: content}
	}
	return secrets.Result{
		Content:  strings.ReplaceAll(content, r.secret, "[REDACTED:test]"),
		Findings: []secrets.Finding{{RuleID: "test", Match: r.secret}},
	}
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func sampleTree() map[string]string {
	return map[string]string{
		"README.md":           "# Readme\n\n" + words("intro", 200),
		"docs/guide.md":       "# Guide\n\n" + words("guide", 1500),
		"docs/short.md":       words("short", 50),
		"cmd/main.go":         "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
		"internal/lib/lib.go": "package lib\n\n// Add adds.\nfunc Add(a, b int) int { return a + b }\n",
		"node_modules/x/x.js": "module.exports = 1",
		"assets/logo.png":     "\x89PNG\x00\x00",
	}
}

type harness struct {
	ix       *Indexer
	repos    *repository.MemoryStore
	cloner   *fakeCloner
	embedder *fakeEmbedder
	store    *recordingStore
	sink     *recordingSink
}

func newHarness(t *testing.T, files map[string]string, opts ...Option) *harness {
	t.Helper()
	chromem, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)

	h := &harness{
		repos:    repository.NewMemoryStore(),
		cloner:   &fakeCloner{t: t, files: files},
		embedder: &fakeEmbedder{},
		store:    &recordingStore{Store: chromem},
		sink:     &recordingSink{},
	}
	opts = append([]Option{WithEvents(h.sink)}, opts...)
	h.ix, err = New(h.repos, h.cloner, h.embedder, h.store, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) chunksFor(path string) []chunker.Chunk {
	var out []chunker.Chunk
	for _, p := range h.store.points {
		c, err := chunker.FromPayload(p.Payload)
		if err == nil && c.FilePath == path {
			out = append(out, c)
		}
	}
	return out
}

func request() Request {
	return Request{
		RepoURL: repoURL,
		Branch:  "main",
		Metadata: repository.Metadata{
			Name:  "repolens",
			Owner: "fyrsmithlabs",
			URL:   repoURL,
			Stars: 12,
		},
	}
}

func TestIndexPublicRepository_CleanIndex(t *testing.T) {
	h := newHarness(t, sampleTree())
	ctx := context.Background()

	res, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)

	total := len(h.store.points)
	assert.Equal(t, total, res.ChunksIndexed)
	assert.Equal(t, repository.StatusIndexed, res.Repository.Status)
	assert.Equal(t, total, res.Repository.ChunksIndexed)
	require.NotNil(t, res.Repository.IndexedAt)

	guide := h.chunksFor("docs/guide.md")
	assert.GreaterOrEqual(t, len(guide), 2)
	for i, c := range guide {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, len([]rune(c.Content)), chunker.DefaultSize)
		assert.NotEqual(t, "# Guide", strings.TrimSpace(c.Content))
		if i > 0 {
			prev := []rune(guide[i-1].Content)
			cur := []rune(c.Content)
			assert.Equal(t, string(prev[len(prev)-chunker.DefaultOverlap:]), string(cur[:chunker.DefaultOverlap]),
				"guide chunk %d overlaps chunk %d", i, i-1)
		}
	}
	assert.Len(t, h.chunksFor("docs/short.md"), 1)
	assert.NotEmpty(t, h.chunksFor("README.md"))
	assert.NotEmpty(t, h.chunksFor("cmd/main.go"))
	assert.NotEmpty(t, h.chunksFor("internal/lib/lib.go"))
	assert.Empty(t, h.chunksFor("node_modules/x/x.js"))
	assert.Empty(t, h.chunksFor("assets/logo.png"))

	for _, p := range h.store.points {
		assert.Equal(t, res.Repository.ID, p.Payload[chunker.KeyRepositoryID])
		assert.Equal(t, repoURL, p.Payload[chunker.KeyRepositoryURL])
	}

	assert.Equal(t, 1, h.embedder.calls, "every chunk embedded in one ordered call")
	assert.Len(t, h.embedder.texts, total)

	stored, err := h.repos.Get(ctx, res.Repository.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusIndexed, stored.Status)
	assert.Equal(t, 12, stored.Stars)

	assert.Equal(t, []string{"indexing", "indexed"}, h.sink.statuses)
	require.Len(t, h.cloner.dirs, 1)
	assert.NoDirExists(t, h.cloner.dirs[0], "scratch clone removed")

	results, err := h.store.SearchVectors(ctx, h.store.points[0].Vector,
		vectorstore.SearchFilter{RepositoryID: res.Repository.ID}, 3, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

type markIndexedFailStore struct {
	*repository.MemoryStore
}

func (s markIndexedFailStore) MarkIndexed(context.Context, string, int, time.Time) (*repository.Repository, error) {
	return nil, errors.New("connection reset")
}

func TestIndexPublicRepository_RecordResultFailure(t *testing.T) {
	h := newHarness(t, sampleTree())
	ix, err := New(markIndexedFailStore{h.repos}, h.cloner, h.embedder, h.store, WithEvents(h.sink))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ix.IndexPublicRepository(ctx, request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording index result")

	stored, err := h.repos.GetByURL(ctx, repoURL)
	require.NoError(t, err)
	assert.True(t, stored.Status.IsFailed(), "record must not stay in indexing")
	assert.Contains(t, stored.Status.Reason(), "connection reset")
	require.Len(t, h.sink.statuses, 2)
	assert.True(t, strings.HasPrefix(h.sink.statuses[1], "failed:"))
}

func TestIndexPublicRepository_ChunkerEstimator(t *testing.T) {
	flat := tokens.EstimatorFunc(func(string) int { return 7 })
	h := newHarness(t, sampleTree(), WithChunker(chunker.New(chunker.WithEstimator(flat))))

	_, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.NoError(t, err)
	require.NotEmpty(t, h.store.points)
	for _, p := range h.store.points {
		c, err := chunker.FromPayload(p.Payload)
		require.NoError(t, err)
		assert.Equal(t, 7, c.TokenCount)
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t, sampleTree())
	ctx := context.Background()

	repo, err := h.ix.Register(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, repository.StatusIndexed, repo.Status)
	assert.Zero(t, repo.ChunksIndexed)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, 12, repo.Stars)

	assert.Empty(t, h.cloner.dirs, "registering does not clone")
	assert.Zero(t, h.embedder.calls)
	assert.Equal(t, []string{"indexed"}, h.sink.statuses)

	_, err = h.ix.Register(ctx, request())
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	res, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, repo.ID, res.Repository.ID, "indexing a registered URL keeps its id")
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ix.Register(context.Background(), Request{RepoURL: "  "})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestIndexPublicRepository_FailedClone(t *testing.T) {
	h := newHarness(t, nil)
	h.cloner.err = &fetcher.CloneError{URL: repoURL, Branch: "main", Err: errors.New("repository not found")}
	ctx := context.Background()

	_, err := h.ix.IndexPublicRepository(ctx, request())
	require.Error(t, err)

	var cloneErr *fetcher.CloneError
	require.ErrorAs(t, err, &cloneErr)

	stored, err := h.repos.GetByURL(ctx, repoURL)
	require.NoError(t, err)
	assert.True(t, stored.Status.IsFailed())
	assert.Equal(t, cloneErr.Error(), stored.Status.Reason())
	assert.Zero(t, stored.ChunksIndexed)
	assert.Nil(t, stored.IndexedAt)

	assert.Zero(t, h.embedder.calls)
	require.Len(t, h.sink.statuses, 2)
	assert.Equal(t, "indexing", h.sink.statuses[0])
	assert.True(t, strings.HasPrefix(h.sink.statuses[1], "failed:"))
}

func TestIndexPublicRepository_FailureKeepsPriorChunkCount(t *testing.T) {
	h := newHarness(t, sampleTree())
	ctx := context.Background()

	first, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)

	h.embedder.err = errors.New("embedding provider error: 429")
	_, err = h.ix.IndexPublicRepository(ctx, request())
	require.Error(t, err)

	stored, err := h.repos.Get(ctx, first.Repository.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.Status("failed:embedding provider error: 429"), stored.Status)
	assert.Equal(t, first.ChunksIndexed, stored.ChunksIndexed)

	require.Len(t, h.cloner.dirs, 2)
	assert.NoDirExists(t, h.cloner.dirs[1], "scratch clone removed after failure")
}

func TestIndexPublicRepository_VectorStoreFailure(t *testing.T) {
	h := newHarness(t, sampleTree())
	h.store.err = &vectorstore.Error{Op: "upsert", Err: errors.New("connection refused")}

	_, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrVectorStore)

	stored, err := h.repos.GetByURL(context.Background(), repoURL)
	require.NoError(t, err)
	assert.True(t, stored.Status.IsFailed())
	assert.NoDirExists(t, h.cloner.dirs[0])
}

func TestIndexPublicRepository_EmbeddingCountMismatch(t *testing.T) {
	h := newHarness(t, sampleTree())
	h.embedder.short = true

	_, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectors for")
	assert.Empty(t, h.store.points, "nothing written")
}

func TestIndexPublicRepository_ZeroChunks(t *testing.T) {
	h := newHarness(t, map[string]string{
		"node_modules/a/index.js": "module.exports = {}",
		"empty.md":                "   \n",
	})

	res, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.NoError(t, err)
	assert.Zero(t, res.ChunksIndexed)
	assert.Equal(t, repository.StatusIndexed, res.Repository.Status)
	assert.Zero(t, h.embedder.calls)
}

func TestIndexPublicRepository_ReindexKeepsIDAndVectors(t *testing.T) {
	h := newHarness(t, sampleTree())
	ctx := context.Background()

	first, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)

	second, err := h.ix.Reindex(ctx, first.Repository.ID, "")
	require.NoError(t, err)

	assert.Equal(t, first.Repository.ID, second.Repository.ID)
	assert.Equal(t, first.ChunksIndexed, second.ChunksIndexed)
	assert.Len(t, h.store.points, 2*first.ChunksIndexed, "earlier vectors are not deleted")
	assert.Equal(t, []string{repoURL, repoURL}, h.cloner.urls)
}

func TestReindex_NotFound(t *testing.T) {
	h := newHarness(t, sampleTree())
	_, err := h.ix.Reindex(context.Background(), "missing", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIndexPublicRepository_ConcurrentSameURL(t *testing.T) {
	h := newHarness(t, sampleTree())
	h.cloner.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.ix.IndexPublicRepository(ctx, request())
		done <- err
	}()

	require.Eventually(t, func() bool {
		h.cloner.mu.Lock()
		defer h.cloner.mu.Unlock()
		return len(h.cloner.urls) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.ix.IndexPublicRepository(ctx, request())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, repoURL, conflict.URL)
	assert.ErrorIs(t, err, repository.ErrIndexingInProgress)

	close(h.cloner.gate)
	require.NoError(t, <-done)

	_, err = h.ix.IndexPublicRepository(ctx, request())
	assert.NoError(t, err, "guard released after the run")
}

func TestIndexPublicRepository_StoreLock(t *testing.T) {
	h := newHarness(t, sampleTree(), WithLockTimeout(time.Hour))
	ctx := context.Background()

	_, err := h.repos.TryBeginIndexing(ctx, request().Metadata, time.Hour)
	require.NoError(t, err)

	_, err = h.ix.IndexPublicRepository(ctx, request())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Empty(t, h.cloner.urls, "rejected before cloning")
}

func TestIndexPublicRepository_Validation(t *testing.T) {
	h := newHarness(t, sampleTree())

	_, err := h.ix.IndexPublicRepository(context.Background(), Request{RepoURL: "  "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "repoUrl", verr.Field)

	list, err := h.repos.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "nothing written")
}

func TestIndexPublicRepository_MetadataFromURL(t *testing.T) {
	h := newHarness(t, sampleTree())

	res, err := h.ix.IndexPublicRepository(context.Background(), Request{RepoURL: repoURL + ".git"})
	require.NoError(t, err)
	assert.Equal(t, "repolens", res.Repository.Name)
	assert.Equal(t, "fyrsmithlabs", res.Repository.Owner)
	assert.Equal(t, repoURL+".git", res.Repository.URL)
}

func TestIndexPublicRepository_RedactsSecrets(t *testing.T) {
	files := map[string]string{
		"config/settings.go": "package config\n\nconst token = \"hunter2-super-secret\"\n",
	}
	h := newHarness(t, files, WithRedactor(replaceRedactor{secret: "hunter2-super-secret"}))

	_, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.NoError(t, err)

	for _, text := range h.embedder.texts {
		assert.NotContains(t, text, "hunter2-super-secret")
	}
	chunks := h.chunksFor("config/settings.go")
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "[REDACTED:test]")
}

func TestIndexPublicRepository_ExtraIgnore(t *testing.T) {
	h := newHarness(t, sampleTree(), WithIgnore(true, []string{"docs/"}))

	_, err := h.ix.IndexPublicRepository(context.Background(), request())
	require.NoError(t, err)
	assert.Empty(t, h.chunksFor("docs/guide.md"))
	assert.NotEmpty(t, h.chunksFor("README.md"))
}

func TestIndexPublicRepository_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, sampleTree(), WithMetrics(m))
	ctx := context.Background()

	res, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)

	h.cloner.err = &fetcher.CloneError{URL: repoURL, Err: errors.New("boom")}
	_, err = h.ix.IndexPublicRepository(ctx, request())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(outcomeIndexed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(outcomeFailed)))
	assert.Equal(t, float64(res.ChunksIndexed), testutil.ToFloat64(m.ChunksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestDeleteRepositoryFromVectorStore(t *testing.T) {
	h := newHarness(t, sampleTree())
	ctx := context.Background()

	res, err := h.ix.IndexPublicRepository(ctx, request())
	require.NoError(t, err)
	require.Positive(t, res.ChunksIndexed)

	reset, err := h.ix.DeleteRepositoryFromVectorStore(ctx, res.Repository.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusIndexed, reset.Status)
	assert.Zero(t, reset.ChunksIndexed)

	results, err := h.store.SearchVectors(ctx, h.store.points[0].Vector,
		vectorstore.SearchFilter{RepositoryID: res.Repository.ID}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = h.ix.DeleteRepositoryFromVectorStore(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNew_RequiresDependencies(t *testing.T) {
	repos := repository.NewMemoryStore()
	cloner := &fakeCloner{t: t}
	emb := &fakeEmbedder{}
	store := &recordingStore{}

	_, err := New(nil, cloner, emb, store)
	assert.Error(t, err)
	_, err = New(repos, nil, emb, store)
	assert.Error(t, err)
	_, err = New(repos, cloner, nil, store)
	assert.Error(t, err)
	_, err = New(repos, cloner, emb, nil)
	assert.Error(t, err)
}
