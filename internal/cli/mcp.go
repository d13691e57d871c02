package cli

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/codeindex/core/internal/mcp"
)

var mcpWatch []string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tool API over MCP on stdio",
	Long: `Runs the long-lived subprocess an editor or agent session owns:
length-framed JSON on stdin/stdout, diagnostics on stderr. Projects named
with --watch get a filesystem watcher feeding the incremental pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}

		for _, ref := range mcpWatch {
			if err := svc.WatchProject(cmd.Context(), ref); err != nil {
				log.Printf("watch %s: %v", ref, err)
			}
		}

		return mcp.NewServer(svc, Version).Serve(cmd.Context())
	},
}

func init() {
	mcpCmd.Flags().StringSliceVar(&mcpWatch, "watch", nil, "project refs to watch for filesystem changes")
}
