// Repolens indexes public GitHub repositories into a vector store and serves
// retrieval over HTTP and MCP.
//
// Configuration is read from an optional YAML file and REPOLENS_* environment
// variables. A .env file in the working directory is loaded first.
//
// Usage:
//
//	# Start the HTTP API
//	repolens serve
//
//	# Serve MCP tools over stdio
//	repolens mcp
//
//	# Index and query from the command line
//	repolens index https://github.com/acme/widget
//	repolens query <repository-id> "how are requests routed"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repolens/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logFormat  string
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "repolens",
	Short: "Index GitHub repositories and retrieve context for LLM prompts",
	Long: `repolens clones public GitHub repositories, splits their source and
documentation into overlapping chunks, embeds them and stores the vectors
in Qdrant (or an embedded chromem database). Indexed repositories can be
queried semantically with token-budgeted results.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file under ~/.config/repolens or /etc/repolens")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (json or console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(deleteIndexCmd)
	rootCmd.AddCommand(onboardingCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) {
	bold := color.New(color.Bold).SprintFunc()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s by Fyrsmith Labs\n", bold("repolens"))
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}

// loadConfig reads and validates configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
