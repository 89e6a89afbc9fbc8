package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromemStore(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: path, Dimension: testDim}, nil)
	require.NoError(t, err)
	return s
}

func chunkPoint(repo, path, typ, content string, index int, v []float32) Point {
	return Point{
		Vector: v,
		Payload: map[string]any{
			"repositoryId": repo,
			"filePath":     path,
			"type":         typ,
			"content":      content,
			"chunkIndex":   index,
		},
	}
}

func TestChromemStore_RepositoryIsolation(t *testing.T) {
	s := newTestChromemStore(t, "")
	ctx := context.Background()

	_, err := s.UpsertVectors(ctx, []Point{
		chunkPoint("repo-a", "README.md", "markdown", "alpha readme", 0, []float32{1, 0, 0, 0}),
		chunkPoint("repo-a", "main.go", "code", "alpha main", 0, []float32{0.9, 0.1, 0, 0}),
		chunkPoint("repo-b", "README.md", "markdown", "beta readme", 0, []float32{1, 0, 0, 0}),
		chunkPoint("repo-c", "lib.go", "code", "gamma lib", 0, []float32{0.95, 0.05, 0, 0}),
	})
	require.NoError(t, err)

	results, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "repo-a", r.Payload["repositoryId"])
	}
	assert.Equal(t, "alpha readme", results[0].Payload["content"], "best match first")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestChromemStore_SearchFiltersAndThreshold(t *testing.T) {
	s := newTestChromemStore(t, "")
	ctx := context.Background()

	_, err := s.UpsertVectors(ctx, []Point{
		chunkPoint("repo-a", "README.md", "markdown", "docs", 0, []float32{1, 0, 0, 0}),
		chunkPoint("repo-a", "main.go", "code", "code", 0, []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)

	results, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a", Type: "code"}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "main.go", results[0].Payload["filePath"])

	threshold := float32(0.5)
	results, err = s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, &threshold)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "README.md", results[0].Payload["filePath"])
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	s := newTestChromemStore(t, "")

	results, err := s.SearchVectors(context.Background(), []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_UpsertReplacesByID(t *testing.T) {
	s := newTestChromemStore(t, "")
	ctx := context.Background()

	ids, err := s.UpsertVectors(ctx, []Point{chunkPoint("repo-a", "a.md", "markdown", "old", 0, []float32{1, 0, 0, 0})})
	require.NoError(t, err)

	p := chunkPoint("repo-a", "a.md", "markdown", "new", 0, []float32{1, 0, 0, 0})
	p.ID = ids[0]
	_, err = s.UpsertVectors(ctx, []Point{p})
	require.NoError(t, err)

	results, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Payload["content"])
}

func TestChromemStore_Delete(t *testing.T) {
	s := newTestChromemStore(t, "")
	ctx := context.Background()

	ids, err := s.UpsertVectors(ctx, []Point{
		chunkPoint("repo-a", "a.md", "markdown", "one", 0, []float32{1, 0, 0, 0}),
		chunkPoint("repo-a", "b.md", "markdown", "two", 0, []float32{0, 1, 0, 0}),
		chunkPoint("repo-b", "c.md", "markdown", "three", 0, []float32{0, 0, 1, 0}),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteVectors(ctx, nil))
	require.NoError(t, s.DeleteVectors(ctx, ids[:1]))
	results, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "two", results[0].Payload["content"])

	require.NoError(t, s.DeleteVectorsByRepository(ctx, "repo-a"))
	results, err = s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.SearchVectors(ctx, []float32{0, 0, 1, 0}, SearchFilter{RepositoryID: "repo-b"}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestChromemStore(t, dir)
	_, err := s.UpsertVectors(ctx, []Point{chunkPoint("repo-a", "a.go", "code", "persisted", 3, []float32{1, 0, 0, 0})})
	require.NoError(t, err)

	reopened := newTestChromemStore(t, dir)
	results, err := reopened.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{RepositoryID: "repo-a"}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Payload["content"])
	assert.Equal(t, float64(3), results[0].Payload["chunkIndex"])
}

func TestChromemStore_Validation(t *testing.T) {
	s := newTestChromemStore(t, "")
	ctx := context.Background()

	_, err := s.UpsertVectors(ctx, []Point{{Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, ErrInvalidVector)

	_, err = s.SearchVectors(ctx, []float32{1, 0, 0, 0}, SearchFilter{}, 5, nil)
	assert.ErrorIs(t, err, ErrMissingRepositoryID)
	assert.ErrorIs(t, err, ErrVectorStore)
}

func TestMetadataRoundTrip(t *testing.T) {
	meta, err := toMetadata(map[string]any{"repositoryId": "r", "tokenCount": 12, "content": "x"})
	require.NoError(t, err)
	assert.Equal(t, "r", meta["repositoryId"])
	assert.NotContains(t, meta, "filePath")

	payload := fromMetadata(meta)
	assert.Equal(t, float64(12), payload["tokenCount"])
	assert.Nil(t, fromMetadata(map[string]string{}))
	assert.Nil(t, fromMetadata(map[string]string{metaPayload: "{"}))
}
