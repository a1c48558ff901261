package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(repairPDFsCmd)
}

// RepairResponse is the response for the repair-pdfs command.
type RepairResponse struct {
	Dir     string `json:"dir"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
}

var repairPDFsCmd = &cobra.Command{
	Use:   "repair-pdfs [dir]",
	Short: "Backfill pdf_path for papers whose PDF exists on disk",
	Long: `Scan a PDF directory for {paper_id}.pdf files and backfill the
pdf_path column for papers that are missing it. Defaults to the
instance's own pdfs directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepairPDFs,
}

func runRepairPDFs(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	dir := config.PDFPath(base.Dir())
	if len(args) == 1 {
		dir = config.ExpandTilde(args[0])
	}

	scanned, updated, err := base.Meta().RepairPDFPaths(dir)
	if err != nil {
		exitWithError(ExitError, "repairing pdf paths: %v", err)
	}

	if humanOutput {
		fmt.Printf("Scanned %d papers, backfilled %d pdf paths from %s\n", scanned, updated, dir)
	} else {
		outputJSON(RepairResponse{Dir: dir, Scanned: scanned, Updated: updated})
	}
	return nil
}
