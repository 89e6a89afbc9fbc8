package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/repolens/internal/tokens"
)

// OnboardingQueries are issued together to gather onboarding documentation
// context.
var OnboardingQueries = []string{
	"project overview, README, purpose, what this project does, description",
	"folder structure, directory layout, key files and what each folder handles",
	"setup instructions, installation, development commands, getting started, build",
}

const (
	onboardingLimit     = 8
	onboardingMaxTokens = 4000

	// ChatModel sizes the chat context budget.
	ChatModel        = "gpt-4o-mini"
	chatLimit        = 5
	chatReserve      = 2048
	chatSafetyBuffer = 1024
)

// Context is merged retrieval output ready to be placed in a prompt.
type Context struct {
	Sources []Source `json:"sources"`
	Text    string   `json:"text"`
}

// OnboardingContext runs OnboardingQueries against a repository and merges
// the results, removing duplicate chunks. Each block is rendered as
// "--- path (type) ---" followed by the chunk content.
func (s *Service) OnboardingContext(ctx context.Context, repositoryID string) (*Context, error) {
	budget := onboardingMaxTokens
	responses := make([][]Source, len(OnboardingQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range OnboardingQueries {
		g.Go(func() error {
			resp, err := s.Query(gctx, Request{
				Query:        q,
				RepositoryID: repositoryID,
				Limit:        onboardingLimit,
				MaxTokens:    &budget,
			})
			if err != nil {
				return err
			}
			responses[i] = resp.Sources
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sources := MergeSources(responses...)
	blocks := make([]string, len(sources))
	for i, src := range sources {
		blocks[i] = fmt.Sprintf("--- %s (%s) ---\n%s", src.Metadata.FilePath, src.Metadata.Type, src.Content)
	}
	return &Context{Sources: sources, Text: strings.Join(blocks, "\n\n")}, nil
}

// ChatContext retrieves context for a chat turn. The budget is whatever the
// chat model's window leaves after promptTokens, the completion reserve and
// the safety buffer. Blocks are rendered as "[Source N] path".
func (s *Service) ChatContext(ctx context.Context, repositoryID, query string, promptTokens int) (*Context, error) {
	budget := tokens.Available(ChatModel, promptTokens, chatReserve, chatSafetyBuffer)
	resp, err := s.Query(ctx, Request{
		Query:        query,
		RepositoryID: repositoryID,
		Limit:        chatLimit,
		MaxTokens:    &budget,
	})
	if err != nil {
		return nil, err
	}

	blocks := make([]string, len(resp.Sources))
	for i, src := range resp.Sources {
		blocks[i] = fmt.Sprintf("[Source %d] %s\n%s", i+1, src.Metadata.FilePath, src.Content)
	}
	return &Context{Sources: resp.Sources, Text: strings.Join(blocks, "\n\n")}, nil
}
