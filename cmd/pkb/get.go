package main

import (
	"errors"
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/metastore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.AddCommand(getPaperCmd)
	getCmd.AddCommand(getChunkCmd)
	getCmd.AddCommand(getReviewsCmd)
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a paper, chunk, or review set by id",
}

var getPaperCmd = &cobra.Command{
	Use:   "paper <id>",
	Short: "Fetch a paper's metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetPaper,
}

var getChunkCmd = &cobra.Command{
	Use:   "chunk <chunk_id>",
	Short: "Fetch one chunk by its exact id",
	Long: `Fetch one chunk by its exact id ({paper_id}::{source}::{index}).

This is the lookup downstream report generators use to resolve a cited
chunk id back to its text. No similarity search is involved.`,
	Args: cobra.ExactArgs(1),
	RunE: runGetChunk,
}

var getReviewsCmd = &cobra.Command{
	Use:   "reviews <id>",
	Short: "Fetch a paper's reviews",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetReviews,
}

func runGetPaper(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	p, err := base.Meta().GetPaper(args[0])
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			exitWithError(ExitNotFound, "paper not found: %s", args[0])
		}
		exitWithError(ExitError, "fetching paper: %v", err)
	}

	if humanOutput {
		fmt.Printf("%s\n%s\n", p.ID, p.Title)
		if p.Abstract != "" {
			fmt.Printf("\n%s\n", p.Abstract)
		}
		if p.Decision != "" {
			fmt.Printf("\nDecision: %s\n", p.Decision)
		}
	} else {
		outputJSON(p)
	}
	return nil
}

func runGetChunk(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	hit, err := base.GetChunk(args[0])
	if err != nil {
		if errors.Is(err, kb.ErrChunkNotFound) {
			exitWithError(ExitNotFound, "chunk not found: %s", args[0])
		}
		exitWithError(ExitError, "fetching chunk: %v", err)
	}

	if humanOutput {
		fmt.Printf("%s (%s)\n\n%s\n", hit.ChunkID, hit.Title, hit.Text)
	} else {
		outputJSON(hit)
	}
	return nil
}

func runGetReviews(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	reviews, err := base.Meta().GetReviews(args[0])
	if err != nil {
		exitWithError(ExitError, "fetching reviews: %v", err)
	}
	if len(reviews) == 0 {
		exitWithError(ExitNotFound, "no reviews for %s", args[0])
	}

	if humanOutput {
		for _, r := range reviews {
			fmt.Printf("--- review %d ---\n%s\n\n", r.Idx, r.Narrative())
		}
	} else {
		outputJSON(reviews)
	}
	return nil
}
