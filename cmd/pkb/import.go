package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

// ImportResponse is the response for the import command.
type ImportResponse struct {
	Archive string         `json:"archive"`
	Stats   *kb.MergeStats `json:"stats"`
}

var importCmd = &cobra.Command{
	Use:   "import <archive.zip>",
	Short: "Merge an exported archive into this knowledge base",
	Long: `Merge another instance's export into this knowledge base.

Metadata rows already present here are kept untouched; new papers and
reviews are inserted. Vector rows are appended without deduplication.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	stats, err := base.MergeImport(args[0])
	if err != nil {
		exitWithError(ExitError, "importing: %v", err)
	}

	if humanOutput {
		fmt.Printf("Merged %d papers, %d reviews, %d paper rows, %d chunk rows\n",
			stats.PapersAdded, stats.ReviewsAdded, stats.PaperRows, stats.ChunkRows)
	} else {
		outputJSON(ImportResponse{Archive: args[0], Stats: stats})
	}
	return nil
}
