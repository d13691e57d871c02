package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/codeindex/core/internal/service"
)

var (
	initNewConfig bool
	initExcludes  []string
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize and index a project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}

		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("indexing"),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSpinnerType(14),
		)
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(120 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					bar.Add(1)
				}
			}
		}()

		p, err := svc.InitProject(cmd.Context(), path, service.InitOptions{
			NewConfig:       initNewConfig,
			ExcludePatterns: initExcludes,
		})
		close(done)
		bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		status, err := svc.Status(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		fmt.Printf("initialized %s (%s)\n", p.Name, p.ID)
		fmt.Printf("  path:   %s\n", p.Path)
		fmt.Printf("  files:  %d\n", status.FileCount)
		fmt.Printf("  chunks: %d\n", status.ChunkCount)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initNewConfig, "new-config", false, "reissue the in-repo marker for an inconsistent project")
	initCmd.Flags().StringSliceVar(&initExcludes, "exclude", nil, "additional exclusion globs")
}
