package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

// IndexRequest names a repository to index or register.
type IndexRequest struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

// ReindexRequest re-indexes a known repository. An empty branch uses the
// repository's default branch.
type ReindexRequest struct {
	Branch string `json:"branch,omitempty"`
}

// IndexResponse is returned by a finished indexing run.
type IndexResponse struct {
	Repository    *repository.Repository `json:"repository"`
	ChunksIndexed int                    `json:"chunksIndexed"`
}

// ListResponse lists repositories, newest first.
type ListResponse struct {
	Repositories []*repository.Repository `json:"repositories"`
}

// QueryRequest searches one repository.
type QueryRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit,omitempty"`
	ScoreThreshold *float32 `json:"scoreThreshold,omitempty"`
	MaxTokens      *int     `json:"maxTokens,omitempty"`
}

// QueryResponse holds the matched sources in similarity order.
type QueryResponse struct {
	RepositoryID string             `json:"repositoryId"`
	Query        string             `json:"query"`
	Sources      []retrieval.Source `json:"sources"`
}

// ChatContextRequest asks for context sized to fit a chat prompt.
type ChatContextRequest struct {
	Query        string `json:"query"`
	PromptTokens int    `json:"promptTokens"`
}

// ContextResponse carries merged, prompt-ready context.
type ContextResponse struct {
	RepositoryID string             `json:"repositoryId"`
	Context      string             `json:"context"`
	Sources      []retrieval.Source `json:"sources"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleList(c echo.Context) error {
	repos, err := s.deps.Repositories.List(c.Request().Context())
	if err != nil {
		return err
	}
	if repos == nil {
		repos = []*repository.Repository{}
	}
	return c.JSON(http.StatusOK, ListResponse{Repositories: repos})
}

func (s *Server) handleGet(c echo.Context) error {
	repo, err := s.deps.Repositories.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repo)
}

// resolveMetadata looks up GitHub metadata for rawURL. Failures other than
// a missing repository fall back to metadata derived from the URL.
func (s *Server) resolveMetadata(ctx context.Context, rawURL string) (fetcher.Coordinates, *repository.Metadata, error) {
	coords, err := fetcher.ParseGitHubURL(rawURL)
	if err != nil {
		return fetcher.Coordinates{}, nil, err
	}
	meta, err := s.deps.Metadata.Lookup(ctx, coords.Owner, coords.Name)
	if err != nil {
		if errors.Is(err, github.ErrRepositoryNotFound) || ctx.Err() != nil {
			return fetcher.Coordinates{}, nil, err
		}
		s.logger.Warn(ctx, "metadata lookup failed, using URL metadata",
			zap.String("url", coords.URL),
			zap.Error(err),
		)
		meta, err = github.Static{}.Lookup(ctx, coords.Owner, coords.Name)
		if err != nil {
			return fetcher.Coordinates{}, nil, err
		}
	}
	return coords, meta, nil
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	coords, meta, err := s.resolveMetadata(ctx, req.URL)
	if err != nil {
		return err
	}

	res, err := s.deps.Indexer.IndexPublicRepository(ctx, indexer.Request{
		RepoURL:  coords.URL,
		Branch:   strings.TrimSpace(req.Branch),
		Metadata: *meta,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IndexResponse{Repository: res.Repository, ChunksIndexed: res.ChunksIndexed})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	coords, meta, err := s.resolveMetadata(ctx, req.URL)
	if err != nil {
		return err
	}

	repo, err := s.deps.Indexer.Register(ctx, indexer.Request{
		RepoURL:  coords.URL,
		Branch:   strings.TrimSpace(req.Branch),
		Metadata: *meta,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, repo)
}

func (s *Server) handleReindex(c echo.Context) error {
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Indexer.Reindex(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Branch))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IndexResponse{Repository: res.Repository, ChunksIndexed: res.ChunksIndexed})
}

func (s *Server) handleDeleteIndex(c echo.Context) error {
	repo, err := s.deps.Indexer.DeleteRepositoryFromVectorStore(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repo)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	repo, err := s.deps.Repositories.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	resp, err := s.deps.Retriever.Query(ctx, retrieval.Request{
		Query:          req.Query,
		RepositoryID:   repo.ID,
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
		MaxTokens:      req.MaxTokens,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{
		RepositoryID: repo.ID,
		Query:        resp.Query,
		Sources:      nonNil(resp.Sources),
	})
}

func (s *Server) handleChatContext(c echo.Context) error {
	var req ChatContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PromptTokens < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "promptTokens must not be negative")
	}

	ctx := c.Request().Context()
	repo, err := s.deps.Repositories.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	out, err := s.deps.Retriever.ChatContext(ctx, repo.ID, req.Query, req.PromptTokens)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ContextResponse{
		RepositoryID: repo.ID,
		Context:      out.Text,
		Sources:      nonNil(out.Sources),
	})
}

func (s *Server) handleOnboardingContext(c echo.Context) error {
	ctx := c.Request().Context()
	repo, err := s.deps.Repositories.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if repo.Status != repository.StatusIndexed || repo.ChunksIndexed == 0 {
		return echo.NewHTTPError(http.StatusConflict, "repository is not indexed")
	}

	out, err := s.deps.Retriever.OnboardingContext(ctx, repo.ID)
	if err != nil {
		return err
	}
	if len(out.Sources) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no documentation context found for repository")
	}
	return c.JSON(http.StatusOK, ContextResponse{
		RepositoryID: repo.ID,
		Context:      out.Text,
		Sources:      out.Sources,
	})
}

func nonNil(sources []retrieval.Source) []retrieval.Source {
	if sources == nil {
		return []retrieval.Source{}
	}
	return sources
}
