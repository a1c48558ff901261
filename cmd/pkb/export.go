package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export <archive.zip>",
	Short: "Export the knowledge base to a zip archive",
	Long: `Export the metadata database and vector tables to a zip archive.

PDFs are not included; they can be re-fetched from each paper's pdf_url.
The archive imports losslessly with 'pkb import'.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	if err := base.Export(args[0]); err != nil {
		exitWithError(ExitError, "exporting: %v", err)
	}

	if humanOutput {
		fmt.Printf("Exported to %s\n", args[0])
	} else {
		outputJSON(StatusResponse{Status: "exported", Path: args[0]})
	}
	return nil
}
