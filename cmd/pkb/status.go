package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/vecindex"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusReport is the response for the status command.
type StatusReport struct {
	Dir        string `json:"dir"`
	Papers     int    `json:"papers"`
	Reviews    int    `json:"reviews"`
	PaperRows  int    `json:"paper_rows"`
	ChunkRows  int    `json:"chunk_rows"`
	Dimensions int    `json:"dimensions"`
	FullText   int    `json:"full_text_papers"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	papers, err := base.Meta().CountPapers()
	if err != nil {
		exitWithError(ExitError, "counting papers: %v", err)
	}
	reviews, err := base.Meta().CountReviews()
	if err != nil {
		exitWithError(ExitError, "counting reviews: %v", err)
	}

	chunks, err := vecindex.Open(base.Dir(), vecindex.ChunksTable)
	if err != nil {
		exitWithError(ExitError, "opening chunks table: %v", err)
	}
	paperTable, err := vecindex.Open(base.Dir(), vecindex.PapersTable)
	if err != nil {
		exitWithError(ExitError, "opening papers table: %v", err)
	}

	report := StatusReport{
		Dir:        base.Dir(),
		Papers:     papers,
		Reviews:    reviews,
		PaperRows:  paperTable.Count(),
		ChunkRows:  chunks.Count(),
		Dimensions: chunks.Dimensions(),
		FullText:   len(base.IDsWithFullText()),
	}

	if humanOutput {
		fmt.Printf("Knowledge base: %s\n", report.Dir)
		fmt.Printf("  papers:     %d (%d with full text)\n", report.Papers, report.FullText)
		fmt.Printf("  reviews:    %d\n", report.Reviews)
		fmt.Printf("  chunk rows: %d (dim %d)\n", report.ChunkRows, report.Dimensions)
		fmt.Printf("  paper rows: %d\n", report.PaperRows)
	} else {
		outputJSON(report)
	}
	return nil
}
