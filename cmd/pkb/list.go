package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/paper"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

// ListResponse is the response for the list command.
type ListResponse struct {
	Papers []paper.Paper `json:"papers"`
	Total  int           `json:"total"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all papers in the knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	base := mustOpenKB(kb.Options{})
	defer base.Close()

	papers, err := base.All()
	if err != nil {
		exitWithError(ExitError, "listing papers: %v", err)
	}

	if humanOutput {
		for _, p := range papers {
			year := "----"
			if p.Year != nil {
				year = fmt.Sprintf("%d", *p.Year)
			}
			fmt.Printf("%-24s %s  %s\n", p.ID, year, truncate(p.Title, ListTitleMaxLen))
		}
		fmt.Printf("\n%d papers\n", len(papers))
	} else {
		outputJSON(ListResponse{Papers: papers, Total: len(papers)})
	}
	return nil
}
