// Package cli is the cobra command tree wrapping the index service: thin
// glue per the design's scope note, every command delegating to one
// Service operation. Grounded on the teacher's internal/cli package
// layout (root.go + one file per command).
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeindex/core/internal/config"
	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/service"
)

// Version is stamped by the build; the default marks a source build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "codeindex",
	Short: "Project-aware code indexing and retrieval",
	Long: `codeindex builds and serves a hybrid (lexical + semantic + graph)
index of a project's source tree, for consumption by an LLM coding agent
over MCP or directly from this CLI.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(standardsCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the codeindex version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codeindex %s\n", Version)
	},
}

// newService loads configuration (rooted at the working directory so an
// in-repo .codeindex/config.yml applies), builds the embedding provider,
// and opens the service.
func newService(ctx context.Context) (*service.Service, *config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewLoader(cwd).Load()
	if err != nil {
		return nil, nil, err
	}
	provider := embed.NewHTTPProvider(embed.HTTPConfig{
		BaseURL:    cfg.Embedding.Endpoint,
		Dimensions: cfg.Embedding.Dimensions,
	})
	svc, err := service.New(ctx, cfg, provider)
	if err != nil {
		provider.Close()
		return nil, nil, err
	}
	return svc, cfg, nil
}
