package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

var deletePDFs bool

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deletePDFs, "pdf", false, "Also remove downloaded PDFs")
}

// DeleteResponse is the response for the delete command.
type DeleteResponse struct {
	IDs   []string        `json:"ids"`
	Stats *kb.DeleteStats `json:"stats"`
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete papers everywhere",
	Long: `Delete papers from the metadata store, both vector tables, and
optionally the pdfs directory.

The metadata delete is transactional and commits first; vector rows are
removed best-effort afterwards.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	stats, err := base.DeletePapers(args, deletePDFs)
	if err != nil {
		exitWithError(ExitError, "deleting: %v", err)
	}

	if humanOutput {
		fmt.Printf("Deleted %d papers, %d reviews, %d chunk rows, %d paper rows",
			stats.Papers, stats.Reviews, stats.ChunkRows, stats.PaperRows)
		if deletePDFs {
			fmt.Printf(", %d pdfs", stats.PDFs)
		}
		fmt.Println()
	} else {
		outputJSON(DeleteResponse{IDs: args, Stats: stats})
	}
	return nil
}
