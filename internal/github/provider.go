// Package github looks up repository metadata before indexing.
//
// Provider queries the GitHub REST API with an optional token and a
// client-side rate limit. Static derives metadata from the URL alone and is
// used when lookups are disabled.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/repolens/internal/config"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/repository"
)

// ErrRepositoryNotFound is returned when GitHub reports no such repository.
var ErrRepositoryNotFound = errors.New("github repository not found")

// MetadataProvider resolves owner/name to repository metadata.
type MetadataProvider interface {
	Lookup(ctx context.Context, owner, name string) (*repository.Metadata, error)
}

// Config configures the GitHub provider.
type Config struct {
	Token config.Secret

	// RateLimit is the number of API requests allowed per second.
	// Default: 1
	RateLimit float64

	// BaseURL overrides the API endpoint, for GitHub Enterprise and tests.
	BaseURL string

	// Timeout bounds a single HTTP request.
	// Default: 10 seconds
	Timeout time.Duration

	Retry *RetryConfig
}

// Provider implements MetadataProvider on the GitHub REST API.
type Provider struct {
	client  *github.Client
	limiter *rate.Limiter
	retry   *RetryConfig
	logger  *logging.Logger
}

var _ MetadataProvider = (*Provider)(nil)

// NewProvider builds a provider. Without a token requests are anonymous and
// subject to GitHub's unauthenticated limits.
func NewProvider(ctx context.Context, cfg Config, logger *logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	retry.ApplyDefaults()

	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		hc = oauth2.NewClient(ctx, ts)
		hc.Timeout = cfg.Timeout
	}

	client := github.NewClient(hc)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Provider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		retry:   retry,
		logger:  logger.Named("github"),
	}, nil
}

// Lookup fetches owner/name from the repositories API.
func (p *Provider) Lookup(ctx context.Context, owner, name string) (*repository.Metadata, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("owner and name are required")
	}

	var repo *github.Repository
	resp, err := withRetry(ctx, p.retry, p.logger, func() (*github.Response, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		r, resp, err := p.client.Repositories.Get(ctx, owner, name)
		repo = r
		return resp, err
	})
	if statusCode(resp) == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", owner, name, ErrRepositoryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s/%s: %w", owner, name, err)
	}

	p.logger.Debug(ctx, "repository metadata fetched",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Int("stars", repo.GetStargazersCount()),
	)

	meta := &repository.Metadata{
		Name:          repo.GetName(),
		Owner:         repo.GetOwner().GetLogin(),
		URL:           canonicalURL(owner, name),
		Description:   repo.GetDescription(),
		Stars:         repo.GetStargazersCount(),
		Language:      repo.GetLanguage(),
		DefaultBranch: repo.GetDefaultBranch(),
	}
	if meta.Name == "" {
		meta.Name = name
	}
	if meta.Owner == "" {
		meta.Owner = owner
	}
	return meta, nil
}

// Static builds metadata from the coordinates without any network call.
type Static struct{}

var _ MetadataProvider = Static{}

func (Static) Lookup(_ context.Context, owner, name string) (*repository.Metadata, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("owner and name are required")
	}
	return &repository.Metadata{Name: name, Owner: owner, URL: canonicalURL(owner, name)}, nil
}

// NewFromConfig returns a Provider when lookups are enabled, Static otherwise.
func NewFromConfig(ctx context.Context, cfg config.GitHubConfig, logger *logging.Logger) (MetadataProvider, error) {
	if !cfg.Lookup {
		return Static{}, nil
	}
	return NewProvider(ctx, Config{Token: cfg.Token, RateLimit: cfg.RateLimit}, logger)
}

func canonicalURL(owner, name string) string {
	return "https://github.com/" + owner + "/" + name
}
