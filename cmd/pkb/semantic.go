package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

var (
	semanticLimit  int
	semanticCoarse bool
)

func init() {
	rootCmd.AddCommand(semanticCmd)

	semanticCmd.Flags().IntVarP(&semanticLimit, "limit", "l", kb.DefaultSearchLimit, "Maximum number of results")
	semanticCmd.Flags().BoolVar(&semanticCoarse, "coarse", false, "Rank by paper summary vectors only (faster, less precise)")
}

// SemanticResponse is the response for the paper-level search command.
type SemanticResponse struct {
	Query   string        `json:"query"`
	Results []kb.PaperHit `json:"results"`
	Total   int           `json:"total"`
}

var semanticCmd = &cobra.Command{
	Use:   "semantic <query>",
	Short: "Search papers by semantic similarity",
	Long: `Search papers by semantic similarity.

Ranks papers by their closest chunk, so a paper whose one review
paragraph matches your query outranks a paper that is vaguely related
throughout. With --coarse, only the per-paper summary vectors are
consulted.`,
	Args: cobra.ExactArgs(1),
	RunE: runSemantic,
}

func runSemantic(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(args[0])
	if query == "" {
		exitWithError(ExitError, "search query cannot be empty")
	}

	base := mustOpenKB(kb.Options{})
	defer base.Close()

	var (
		hits []kb.PaperHit
		err  error
	)
	if semanticCoarse {
		hits, err = base.SearchPapers(context.Background(), query, semanticLimit)
	} else {
		hits, err = base.SearchSemantic(context.Background(), query, semanticLimit)
	}
	if err != nil {
		exitWithError(ExitDataError, "searching: %v", err)
	}

	if humanOutput {
		fmt.Printf("Search: %q (%d papers)\n\n", query, len(hits))
		for _, h := range hits {
			fmt.Printf("%.4f  %s  %s\n", h.Distance, h.PaperID, truncate(h.Title, SearchTitleMaxLen))
			if h.BestChunkID != "" {
				fmt.Printf("        via %s\n", h.BestChunkID)
			}
		}
	} else {
		outputJSON(SemanticResponse{Query: query, Results: hits, Total: len(hits)})
	}
	return nil
}
