package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/repolens/internal/http"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

var (
	serverURL      string
	requestTimeout time.Duration

	indexBranch    string
	registerBranch string

	queryLimit     int
	queryMaxTokens int
	queryThreshold float32
	showContent    bool
)

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func init() {
	for _, cmd := range []*cobra.Command{indexCmd, registerCmd, listCmd, queryCmd, deleteIndexCmd, onboardingCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:9090", "repolens server URL")
		cmd.Flags().DurationVar(&requestTimeout, "timeout", 10*time.Minute, "request timeout")
	}

	indexCmd.Flags().StringVar(&indexBranch, "branch", "", "branch to index (default: the remote default branch)")
	registerCmd.Flags().StringVar(&registerBranch, "branch", "", "default branch to record")

	queryCmd.Flags().IntVar(&queryLimit, "limit", retrieval.DefaultLimit, "maximum number of results")
	queryCmd.Flags().IntVar(&queryMaxTokens, "max-tokens", 0, "token budget for returned content (0 disables)")
	queryCmd.Flags().Float32Var(&queryThreshold, "threshold", 0, "minimum similarity score (0 disables)")
	queryCmd.Flags().BoolVar(&showContent, "content", false, "print chunk content")
}

var indexCmd = &cobra.Command{
	Use:   "index <github-url>",
	Short: "Index a public GitHub repository",
	Long: `Clone, chunk and embed a public GitHub repository on a running server.

Examples:
  # Index the default branch
  repolens index https://github.com/acme/widget

  # Index a specific branch
  repolens index --branch develop git@github.com:acme/widget.git`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var registerCmd = &cobra.Command{
	Use:   "register <github-url>",
	Short: "Register a repository without indexing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known repositories",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var queryCmd = &cobra.Command{
	Use:   "query <repository-id> <query>",
	Short: "Search an indexed repository",
	Long: `Run a semantic query against one indexed repository.

Examples:
  repolens query 5b0c... "where are http routes registered"
  repolens query --max-tokens 2000 --content 5b0c... "config loading"`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

var deleteIndexCmd = &cobra.Command{
	Use:   "delete-index <repository-id>",
	Short: "Delete every stored chunk of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteIndex,
}

var onboardingCmd = &cobra.Command{
	Use:   "onboarding <repository-id>",
	Short: "Print onboarding documentation context for a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runOnboarding,
}

func runIndex(cmd *cobra.Command, args []string) error {
	var resp apihttp.IndexResponse
	err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodPost, "/api/v1/repositories",
		apihttp.IndexRequest{URL: args[0], Branch: indexBranch}, &resp)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s/%s: %d chunks\n", green("indexed"), resp.Repository.Owner, resp.Repository.Name, resp.ChunksIndexed)
	fmt.Fprintf(out, "id: %s\n", resp.Repository.ID)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	var repo repository.Repository
	err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodPost, "/api/v1/repositories/register",
		apihttp.IndexRequest{URL: args[0], Branch: registerBranch}, &repo)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s/%s\n", green("registered"), repo.Owner, repo.Name)
	fmt.Fprintf(out, "id: %s\n", repo.ID)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	var resp apihttp.ListResponse
	if err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodGet, "/api/v1/repositories", nil, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Repositories) == 0 {
		fmt.Fprintln(out, "no repositories")
		return nil
	}
	for _, r := range resp.Repositories {
		printRepository(out, r)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	req := apihttp.QueryRequest{Query: args[1], Limit: queryLimit}
	if queryMaxTokens > 0 {
		req.MaxTokens = &queryMaxTokens
	}
	if queryThreshold > 0 {
		req.ScoreThreshold = &queryThreshold
	}

	var resp apihttp.QueryResponse
	path := "/api/v1/repositories/" + url.PathEscape(args[0]) + "/query"
	if err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodPost, path, req, &resp); err != nil {
		return err
	}
	printSources(cmd.OutOrStdout(), resp.Sources, showContent)
	return nil
}

func runDeleteIndex(cmd *cobra.Command, args []string) error {
	var repo repository.Repository
	path := "/api/v1/repositories/" + url.PathEscape(args[0]) + "/index"
	if err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodDelete, path, nil, &repo); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s index of %s/%s\n", green("deleted"), repo.Owner, repo.Name)
	return nil
}

func runOnboarding(cmd *cobra.Command, args []string) error {
	var resp apihttp.ContextResponse
	path := "/api/v1/repositories/" + url.PathEscape(args[0]) + "/onboarding-context"
	if err := newClient(serverURL, requestTimeout).do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Context)
	fmt.Fprintln(out, faint(fmt.Sprintf("%d sources", len(resp.Sources))))
	return nil
}

func printRepository(w io.Writer, r *repository.Repository) {
	status := string(r.Status)
	switch {
	case r.Status == repository.StatusIndexed:
		status = green(status)
	case r.Status == repository.StatusIndexing:
		status = yellow(status)
	case r.Status.IsFailed():
		status = red(status)
	}
	fmt.Fprintf(w, "%s  %s/%s  %s  %d chunks\n", faint(r.ID), r.Owner, r.Name, status, r.ChunksIndexed)
}

func printSources(w io.Writer, sources []retrieval.Source, content bool) {
	if len(sources) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, s := range sources {
		fmt.Fprintf(w, "%2d. %s  %s  %s\n", i+1, cyan(fmt.Sprintf("%.3f", s.Score)), s.Metadata.FilePath,
			faint(fmt.Sprintf("[%s, chunk %d, %d tokens]", s.Metadata.Type, s.Metadata.ChunkIndex, s.Metadata.TokenCount)))
		if content {
			fmt.Fprintf(w, "%s\n\n", s.Content)
		}
	}
}
