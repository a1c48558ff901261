package main

import (
	"fmt"

	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/embedding"
	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a knowledge base in the instance directory",
	Long: `Create a knowledge base in the instance directory (--dir or cwd).

Lays out the directory and initializes the metadata database schema.
Running init on an existing instance is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := resolveDir()

	// Opening with the offline provider creates the layout and schema
	// without touching any embedding service.
	base, err := kb.Open(dir, kb.Options{Provider: embedding.NewFakeProvider(64)})
	if err != nil {
		exitWithError(ExitError, "initializing %s: %v", dir, err)
	}
	base.Close()

	if humanOutput {
		fmt.Printf("Initialized knowledge base in %s\n", dir)
	} else {
		outputJSON(StatusResponse{Status: "initialized", Path: config.MetadataPath(dir)})
	}
	return nil
}
