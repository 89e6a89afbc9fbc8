package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repolens/internal/config"
	apihttp "github.com/fyrsmithlabs/repolens/internal/http"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

func init() {
	color.NoColor = true
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "mcp", "index", "register", "list", "query", "delete-index", "onboarding", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "repolens by Fyrsmith Labs")
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:     unknown")
}

func TestIndexCommand(t *testing.T) {
	var got apihttp.IndexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/repositories", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(apihttp.IndexResponse{
			Repository: &repository.Repository{
				ID:       "11111111-2222-3333-4444-555555555555",
				Metadata: repository.Metadata{Owner: "acme", Name: "widget"},
				Status:   repository.StatusIndexed,
			},
			ChunksIndexed: 12,
		})
	}))
	defer srv.Close()

	out, err := execute(t, "index", "--server", srv.URL, "--branch", "main", "https://github.com/acme/widget")
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/widget", got.URL)
	assert.Equal(t, "main", got.Branch)
	assert.Contains(t, out, "indexed acme/widget: 12 chunks")
	assert.Contains(t, out, "id: 11111111-2222-3333-4444-555555555555")
}

func TestRegisterCommand(t *testing.T) {
	var got apihttp.IndexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/repositories/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(repository.Repository{
			ID:       "11111111-2222-3333-4444-555555555555",
			Metadata: repository.Metadata{Owner: "acme", Name: "widget"},
			Status:   repository.StatusIndexed,
		})
	}))
	defer srv.Close()

	out, err := execute(t, "register", "--server", srv.URL, "https://github.com/acme/widget")
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/widget", got.URL)
	assert.Contains(t, out, "registered acme/widget")
	assert.Contains(t, out, "id: 11111111-2222-3333-4444-555555555555")
}

func TestQueryCommand(t *testing.T) {
	var got apihttp.QueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repositories/repo-1/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(apihttp.QueryResponse{
			RepositoryID: "repo-1",
			Query:        got.Query,
			Sources: []retrieval.Source{{
				ID:       "c1",
				Content:  "func main() {}",
				Score:    0.91,
				Metadata: retrieval.Metadata{FilePath: "cmd/widget/main.go", Type: "code", TokenCount: 4},
			}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "query", "--server", srv.URL, "--max-tokens", "50", "--content", "repo-1", "entry point")
	require.NoError(t, err)

	assert.Equal(t, "entry point", got.Query)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 50, *got.MaxTokens)
	assert.Nil(t, got.ScoreThreshold)
	assert.Contains(t, out, "0.910")
	assert.Contains(t, out, "cmd/widget/main.go")
	assert.Contains(t, out, "func main() {}")
}

func TestClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(apihttp.ErrorResponse{Error: "repository not found"})
	}))
	defer srv.Close()

	err := newClient(srv.URL+"/", requestTimeout).do(context.Background(), http.MethodGet, "/api/v1/repositories/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "server returned status 404: repository not found", err.Error())
}

func TestClient_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newClient(srv.URL, requestTimeout).do(context.Background(), http.MethodGet, "/health", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "server returned status 502: bad gateway", err.Error())
}

func TestInitLogger(t *testing.T) {
	cfg := config.Default()

	logger, err := initLogger(cfg, nil, true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = initLogger(cfg, nil, false)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestInitDependencies_Embedded(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Provider = config.VectorStoreChromem
	cfg.Embeddings.Provider = config.EmbeddingsCompatible
	cfg.Embeddings.BaseURL = "http://127.0.0.1:1/v1"
	cfg.Indexing.ScratchRoot = t.TempDir()
	cfg.Indexing.RedactSecrets = true

	deps, err := initDependencies(context.Background(), cfg, depsOptions{
		stderrLogs: true,
		registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	assert.NotNil(t, deps.indexer)
	assert.NotNil(t, deps.retriever)
	assert.IsType(t, &repository.MemoryStore{}, deps.repos)
	assert.Nil(t, deps.publisher)
	assert.False(t, deps.telemetry.IsEnabled())

	require.NoError(t, deps.Close())
}
