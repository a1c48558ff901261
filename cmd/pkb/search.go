package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

var searchLimit int

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", kb.DefaultSearchLimit, "Maximum number of results")
}

// SearchResponse is the response for the chunk search command.
type SearchResponse struct {
	Query   string        `json:"query"`
	Results []kb.ChunkHit `json:"results"`
	Total   int           `json:"total"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search chunks by semantic similarity",
	Long: `Search text chunks by semantic similarity.

Returns the nearest chunks across all papers and sources (abstracts,
reviews, decisions, full text), each enriched with its paper's metadata
and carrying a stable chunk id for citation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(args[0])
	if query == "" {
		exitWithError(ExitError, "search query cannot be empty")
	}

	base := mustOpenKB(kb.Options{})
	defer base.Close()

	hits, err := base.SearchChunks(context.Background(), query, searchLimit)
	if err != nil {
		exitWithError(ExitDataError, "searching: %v", err)
	}

	if humanOutput {
		fmt.Printf("Search: %q (%d hits)\n\n", query, len(hits))
		for _, h := range hits {
			fmt.Printf("%.4f  %s\n", h.Distance, h.ChunkID)
			if h.Title != "" {
				fmt.Printf("        %s\n", truncate(h.Title, SearchTitleMaxLen))
			}
			fmt.Printf("        %s\n\n", truncate(strings.ReplaceAll(h.Text, "\n", " "), SearchTextMaxLen))
		}
	} else {
		outputJSON(SearchResponse{Query: query, Results: hits, Total: len(hits)})
	}
	return nil
}
