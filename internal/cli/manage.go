package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
)

var standardsCmd = &cobra.Command{
	Use:   "standards <project> [category]",
	Short: "Show mined coding standards",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		var category model.StandardCategory
		if len(args) == 2 {
			category = model.StandardCategory(args[1])
		}
		patterns, err := svc.GetCodingStandards(cmd.Context(), args[0], category)
		if err != nil {
			return err
		}
		if len(patterns) == 0 {
			fmt.Println("no standards detected")
			return nil
		}
		for _, p := range patterns {
			fmt.Printf("[%s] %s\n", p.Category, p.Signature)
			fmt.Printf("  confidence %.2f, %d occurrences in %d files\n",
				p.Confidence, len(p.Occurrences), distinctFiles(p.Occurrences))
		}
		return nil
	},
}

func distinctFiles(occ []model.Occurrence) int {
	seen := map[string]bool{}
	for _, o := range occ {
		seen[o.RelPath] = true
	}
	return len(seen)
}

var (
	notifyFullReindex bool
	notifyModified    []string
	notifyCreated     []string
	notifyDeleted     []string
)

var notifyCmd = &cobra.Command{
	Use:   "notify <project>",
	Short: "Apply file changes to the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		var changes []indexer.Change
		for _, p := range notifyCreated {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeCreated, RelPath: p})
		}
		for _, p := range notifyModified {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeModified, RelPath: p})
		}
		for _, p := range notifyDeleted {
			changes = append(changes, indexer.Change{Kind: indexer.ChangeDeleted, RelPath: p})
		}
		if len(changes) == 0 && !notifyFullReindex {
			return fmt.Errorf("nothing to do: pass --created/--modified/--deleted or --full-reindex")
		}

		result, err := svc.NotifyFileChanges(cmd.Context(), args[0], changes, notifyFullReindex)
		if err != nil {
			return err
		}
		fmt.Printf("%s: +%d ~%d -%d (%d chunks) in %dms\n",
			result.Mode, result.Added, result.Modified, result.Deleted, result.Chunks, result.DurationMs)
		for _, fe := range result.Errors {
			fmt.Printf("  error %s: %s\n", fe.RelPath, fe.Err)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Remove a project and its indexed data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyFullReindex, "full-reindex", false, "drop and rebuild the whole project index")
	notifyCmd.Flags().StringSliceVar(&notifyCreated, "created", nil, "created file paths (relative)")
	notifyCmd.Flags().StringSliceVar(&notifyModified, "modified", nil, "modified file paths (relative)")
	notifyCmd.Flags().StringSliceVar(&notifyDeleted, "deleted", nil, "deleted file paths (relative)")
}
