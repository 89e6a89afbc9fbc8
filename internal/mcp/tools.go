package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

type repositoryInfo struct {
	ID            string `json:"id" jsonschema:"Repository identifier used by the other tools"`
	URL           string `json:"url" jsonschema:"Canonical GitHub URL"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Status        string `json:"status" jsonschema:"indexing, indexed or failed:<reason>"`
	ChunksIndexed int    `json:"chunks_indexed" jsonschema:"Number of chunks stored by the last successful run"`
	IndexedAt     string `json:"indexed_at,omitempty" jsonschema:"RFC 3339 time of the last successful run"`
}

func toInfo(r *repository.Repository) repositoryInfo {
	info := repositoryInfo{
		ID:            r.ID,
		URL:           r.URL,
		Owner:         r.Owner,
		Name:          r.Name,
		Status:        string(r.Status),
		ChunksIndexed: r.ChunksIndexed,
	}
	if r.IndexedAt != nil {
		info.IndexedAt = r.IndexedAt.UTC().Format(time.RFC3339)
	}
	return info
}

type repositoryIndexInput struct {
	URL    string `json:"url" jsonschema:"GitHub repository URL (https, ssh or owner/name remote form)"`
	Branch string `json:"branch,omitempty" jsonschema:"Branch to index (default: the remote default branch)"`
}

type repositoryIndexOutput struct {
	Repository    repositoryInfo `json:"repository"`
	ChunksIndexed int            `json:"chunks_indexed" jsonschema:"Chunks written by this run"`
}

type repositoryCreateOutput struct {
	Repository repositoryInfo `json:"repository"`
}

type repositoryQueryInput struct {
	RepositoryID   string   `json:"repository_id" jsonschema:"Repository id from repository_index or repository_list"`
	Query          string   `json:"query" jsonschema:"Natural language query"`
	Limit          int      `json:"limit,omitempty" jsonschema:"Maximum results (default: 5, max: 15)"`
	ScoreThreshold *float32 `json:"score_threshold,omitempty" jsonschema:"Minimum similarity score between 0 and 1"`
	MaxTokens      *int     `json:"max_tokens,omitempty" jsonschema:"Token budget for the returned content"`
}

type repositoryQueryOutput struct {
	RepositoryID string             `json:"repository_id"`
	Query        string             `json:"query"`
	Count        int                `json:"count" jsonschema:"Number of results returned"`
	Sources      []retrieval.Source `json:"sources" jsonschema:"Matched chunks in similarity order"`
}

type repositoryIDInput struct {
	RepositoryID string `json:"repository_id" jsonschema:"Repository id from repository_index or repository_list"`
}

type repositoryDeleteIndexOutput struct {
	Repository repositoryInfo `json:"repository"`
}

type repositoryListInput struct{}

type repositoryListOutput struct {
	Repositories []repositoryInfo `json:"repositories"`
	Count        int              `json:"count"`
}

type onboardingContextOutput struct {
	RepositoryID string `json:"repository_id"`
	Context      string `json:"context" jsonschema:"Documentation context blocks headed by file path and type"`
	SourceCount  int    `json:"source_count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_index",
		Description: "Clone a public GitHub repository, split it into chunks and store their embeddings. Re-indexing an existing URL keeps its repository id.",
	}, track(s, "repository_index", s.indexRepository))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_create",
		Description: "Register a public GitHub repository without indexing it. Fails if the URL is already registered.",
	}, track(s, "repository_create", s.createRepository))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_query",
		Description: "Semantic search over one indexed repository. Returns chunks in similarity order, optionally trimmed to a token budget.",
	}, track(s, "repository_query", s.queryRepository))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_delete_index",
		Description: "Delete every stored chunk of a repository. The repository record is kept with zero chunks.",
	}, track(s, "repository_delete_index", s.deleteIndex))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_list",
		Description: "List known repositories with their indexing status, newest first.",
	}, track(s, "repository_list", s.listRepositories))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_onboarding_context",
		Description: "Gather overview, layout and setup documentation for an indexed repository.",
	}, track(s, "repository_onboarding_context", s.onboardingContext))
}

// track records metrics and logs failures around a tool handler.
func track[In, Out any](s *Server, name string, h func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Start(ctx, name)
		out, err := h(ctx, args)
		done(err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	}
}

// resolve parses rawURL and looks up its metadata. Failures other than a
// missing repository fall back to metadata derived from the URL.
func (s *Server) resolve(ctx context.Context, rawURL string) (fetcher.Coordinates, *repository.Metadata, error) {
	coords, err := fetcher.ParseGitHubURL(rawURL)
	if err != nil {
		return coords, nil, err
	}

	meta, err := s.metadata.Lookup(ctx, coords.Owner, coords.Name)
	if err != nil {
		if errors.Is(err, github.ErrRepositoryNotFound) || ctx.Err() != nil {
			return coords, nil, err
		}
		s.logger.Warn(ctx, "metadata lookup failed, using URL metadata",
			zap.String("url", coords.URL),
			zap.Error(err),
		)
		if meta, err = (github.Static{}).Lookup(ctx, coords.Owner, coords.Name); err != nil {
			return coords, nil, err
		}
	}
	return coords, meta, nil
}

func (s *Server) indexRepository(ctx context.Context, args repositoryIndexInput) (repositoryIndexOutput, error) {
	coords, meta, err := s.resolve(ctx, args.URL)
	if err != nil {
		return repositoryIndexOutput{}, err
	}

	res, err := s.indexer.IndexPublicRepository(ctx, indexer.Request{
		RepoURL:  coords.URL,
		Branch:   strings.TrimSpace(args.Branch),
		Metadata: *meta,
	})
	if err != nil {
		return repositoryIndexOutput{}, err
	}
	return repositoryIndexOutput{
		Repository:    toInfo(res.Repository),
		ChunksIndexed: res.ChunksIndexed,
	}, nil
}

func (s *Server) createRepository(ctx context.Context, args repositoryIndexInput) (repositoryCreateOutput, error) {
	coords, meta, err := s.resolve(ctx, args.URL)
	if err != nil {
		return repositoryCreateOutput{}, err
	}

	repo, err := s.indexer.Register(ctx, indexer.Request{
		RepoURL:  coords.URL,
		Branch:   strings.TrimSpace(args.Branch),
		Metadata: *meta,
	})
	if err != nil {
		return repositoryCreateOutput{}, err
	}
	return repositoryCreateOutput{Repository: toInfo(repo)}, nil
}

func (s *Server) queryRepository(ctx context.Context, args repositoryQueryInput) (repositoryQueryOutput, error) {
	repo, err := s.repository(ctx, args.RepositoryID)
	if err != nil {
		return repositoryQueryOutput{}, err
	}
	resp, err := s.retriever.Query(ctx, retrieval.Request{
		Query:          args.Query,
		RepositoryID:   repo.ID,
		Limit:          args.Limit,
		ScoreThreshold: args.ScoreThreshold,
		MaxTokens:      args.MaxTokens,
	})
	if err != nil {
		return repositoryQueryOutput{}, err
	}
	sources := resp.Sources
	if sources == nil {
		sources = []retrieval.Source{}
	}
	return repositoryQueryOutput{
		RepositoryID: repo.ID,
		Query:        resp.Query,
		Count:        len(sources),
		Sources:      sources,
	}, nil
}

func (s *Server) deleteIndex(ctx context.Context, args repositoryIDInput) (repositoryDeleteIndexOutput, error) {
	if strings.TrimSpace(args.RepositoryID) == "" {
		return repositoryDeleteIndexOutput{}, fmt.Errorf("repository_id is required")
	}
	repo, err := s.indexer.DeleteRepositoryFromVectorStore(ctx, args.RepositoryID)
	if err != nil {
		return repositoryDeleteIndexOutput{}, err
	}
	return repositoryDeleteIndexOutput{Repository: toInfo(repo)}, nil
}

func (s *Server) listRepositories(ctx context.Context, _ repositoryListInput) (repositoryListOutput, error) {
	repos, err := s.repositories.List(ctx)
	if err != nil {
		return repositoryListOutput{}, err
	}
	out := repositoryListOutput{Repositories: make([]repositoryInfo, 0, len(repos))}
	for _, r := range repos {
		out.Repositories = append(out.Repositories, toInfo(r))
	}
	out.Count = len(out.Repositories)
	return out, nil
}

func (s *Server) onboardingContext(ctx context.Context, args repositoryIDInput) (onboardingContextOutput, error) {
	repo, err := s.repository(ctx, args.RepositoryID)
	if err != nil {
		return onboardingContextOutput{}, err
	}
	if repo.Status != repository.StatusIndexed || repo.ChunksIndexed == 0 {
		return onboardingContextOutput{}, fmt.Errorf("repository %s is not indexed (status %s)", repo.ID, repo.Status)
	}
	out, err := s.retriever.OnboardingContext(ctx, repo.ID)
	if err != nil {
		return onboardingContextOutput{}, err
	}
	if len(out.Sources) == 0 {
		return onboardingContextOutput{}, fmt.Errorf("no documentation context found for repository %s", repo.ID)
	}
	return onboardingContextOutput{
		RepositoryID: repo.ID,
		Context:      out.Text,
		SourceCount:  len(out.Sources),
	}, nil
}

func (s *Server) repository(ctx context.Context, id string) (*repository.Repository, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("repository_id is required")
	}
	repo, err := s.repositories.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", id, err)
	}
	return repo, nil
}
