package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeindex/core/internal/query"
)

var (
	searchKind     string
	searchK        int
	searchGlob     string
	searchLanguage string
	searchSeed     string
	searchDepth    int
)

var searchCmd = &cobra.Command{
	Use:   "search <project> <query>",
	Short: "Search a project's index",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		q := query.Query{
			Text:       strings.Join(args[1:], " "),
			Kind:       query.Kind(searchKind),
			K:          searchK,
			GraphSeed:  searchSeed,
			GraphDepth: searchDepth,
		}
		q.Filters.RelPathGlob = searchGlob
		q.Filters.Language = searchLanguage

		results, err := svc.Search(cmd.Context(), args[0], q)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range results {
			name := r.Chunk.Name
			if name == "" {
				name = string(r.Chunk.Kind)
			}
			fmt.Printf("%2d. %s:%d-%d  %s  (score %.4f)\n",
				i+1, r.Chunk.RelPath, r.Chunk.StartLine, r.Chunk.EndLine, name, r.Score)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show a project's index status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		st, err := svc.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("files:        %d\n", st.FileCount)
		fmt.Printf("chunks:       %d\n", st.ChunkCount)
		if !st.LastIndexed.IsZero() {
			fmt.Printf("last indexed: %s\n", st.LastIndexed.Format("2006-01-02 15:04:05"))
		}
		for lang, tier := range st.ParserTiers {
			fmt.Printf("parser %-12s %s\n", lang+":", tier)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		projects, err := svc.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("no projects indexed")
			return nil
		}
		for _, p := range projects {
			langs := ""
			if len(p.Languages) > 0 {
				langs = "  [" + strings.Join(p.Languages, ", ") + "]"
			}
			fmt.Printf("%s  %s%s\n", p.ID, p.Path, langs)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "hybrid", "query kind: hybrid, fts, vector, graph")
	searchCmd.Flags().IntVar(&searchK, "k", 10, "number of results")
	searchCmd.Flags().StringVar(&searchGlob, "path", "", "restrict to paths matching this glob")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "restrict to this language")
	searchCmd.Flags().StringVar(&searchSeed, "seed", "", "graph seed: node id or relPath")
	searchCmd.Flags().IntVar(&searchDepth, "depth", 0, "graph traversal depth")
}
