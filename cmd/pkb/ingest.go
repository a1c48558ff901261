package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/paper"
	"github.com/matsen/paperkb/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	ingestFetch     bool
	ingestMaxPages  int
	ingestBatchSize int
	ingestReviews   int
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&ingestFetch, "fetch", false, "Download missing PDFs from each paper's pdf_url")
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "Max PDF pages to parse (0 = all)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", pipeline.DefaultBatchSize, "Papers per ingest checkpoint")
	ingestCmd.Flags().IntVar(&ingestReviews, "reviews", kb.DefaultReviewLimit, "Max reviews per paper to index")
}

// IngestResponse is the response for the ingest command.
type IngestResponse struct {
	Input string          `json:"input"`
	Stats *pipeline.Stats `json:"stats"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <papers.json>",
	Short: "Ingest papers from a JSON file",
	Long: `Ingest papers from a JSON array into the knowledge base.

Each element is a paper object (id required; title, abstract, tldr,
reviews, decision_text, rebuttal_text, pdf_url, content optional).
Papers are processed in fixed batches; each batch commits before the
next starts, so an interrupted run resumes where it left off. Papers
whose full text is already indexed are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	papers := loadPapersFile(args[0])

	base := mustOpenKB(kb.Options{
		ReviewLimit: ingestReviews,
		Progress: kb.ProgressFunc(func(current, total int) {
			if humanOutput {
				fmt.Fprintf(os.Stderr, "\rembedding %d/%d", current, total)
			}
		}),
	})
	defer base.Close()

	opts := []pipeline.Option{
		pipeline.WithParser(pipeline.ExtractParser{}),
		pipeline.WithBatchSize(ingestBatchSize),
		pipeline.WithMaxPages(ingestMaxPages),
	}
	if ingestFetch {
		opts = append(opts, pipeline.WithFetcher(&pipeline.HTTPFetcher{}))
	}

	stats, err := pipeline.New(base, opts...).Run(context.Background(), papers)
	if humanOutput {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		exitWithError(ExitDataError, "ingesting: %v", err)
	}

	if humanOutput {
		fmt.Printf("Ingested %d papers (%d chunks, %d skipped, %d failed)\n",
			stats.Ingest.Papers, stats.Ingest.ChunksWritten, stats.Skipped, stats.Ingest.PapersFailed)
		if stats.FetchFailed > 0 || stats.ParseFailed > 0 {
			fmt.Printf("PDF problems: %d fetch, %d parse\n", stats.FetchFailed, stats.ParseFailed)
		}
	} else {
		outputJSON(IngestResponse{Input: args[0], Stats: stats})
	}
	return nil
}

func loadPapersFile(path string) []*paper.Paper {
	data, err := os.ReadFile(path)
	if err != nil {
		exitWithError(ExitError, "reading %s: %v", path, err)
	}

	var papers []*paper.Paper
	if err := json.Unmarshal(data, &papers); err != nil {
		exitWithError(ExitDataError, "parsing %s: %v", path, err)
	}
	if len(papers) == 0 {
		exitWithError(ExitDataError, "%s contains no papers", path)
	}
	return papers
}
