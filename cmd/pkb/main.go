// Package main provides the pkb CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/embedding"
	"github.com/matsen/paperkb/internal/kb"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	// instanceDir is the knowledge base directory (--dir)
	instanceDir string
	// fakeEmbeddings switches to the offline hash-based provider
	fakeEmbeddings bool
)

func main() {
	config.LoadDotEnv()
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pkb",
	Short: "Hybrid knowledge base over academic papers",
	Long: `pkb maintains a searchable knowledge base over a paper corpus.

Core features:
  - SQLite metadata store (papers, reviews, decisions)
  - Vector index over text chunks (abstracts, reviews, full text)
  - Checkpointed ingestion pipeline with PDF fetch and parse
  - Chunk-level and paper-level semantic search

Everything lives in one instance directory. All commands output JSON by
default for agent integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&instanceDir, "dir", "", "Knowledge base directory (default: config default_instance, then cwd)")
	rootCmd.PersistentFlags().BoolVar(&fakeEmbeddings, "fake-embeddings", false, "Use deterministic offline embeddings")
	rootCmd.Version = Version
}

// resolveDir picks the instance directory: --dir, then the global
// config's default_instance, then the current working directory.
func resolveDir() string {
	if instanceDir != "" {
		return config.ExpandTilde(instanceDir)
	}
	if cfg, err := config.LoadGlobalConfig(); err == nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}
	return cwd
}

// mustResolveInstance returns the instance directory, exiting when it
// does not hold a knowledge base yet.
func mustResolveInstance() string {
	dir := resolveDir()
	if !config.IsInstance(dir) {
		exitWithError(ExitConfigError, "no knowledge base at %s\n\nRun 'pkb init --dir %s' to create one.", dir, dir)
	}
	return dir
}

// buildProvider constructs the embedding provider from the global
// config, honoring --fake-embeddings.
func buildProvider() embedding.Provider {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	ec := cfg.Embedding

	if fakeEmbeddings {
		dims := ec.Dimensions
		if dims <= 0 {
			dims = 64
		}
		return embedding.NewFakeProvider(dims)
	}

	var opts []embedding.Option
	if ec.BaseURL != "" {
		opts = append(opts, embedding.WithBaseURL(ec.BaseURL))
	}
	if ec.Model != "" {
		opts = append(opts, embedding.WithModel(ec.Model))
	}
	if ec.Dimensions > 0 {
		opts = append(opts, embedding.WithDimensions(ec.Dimensions))
	}
	if ec.BatchSize > 0 {
		opts = append(opts, embedding.WithBatchSize(ec.BatchSize))
	}
	if ec.MaxRetries > 0 {
		opts = append(opts, embedding.WithMaxRetries(ec.MaxRetries))
	}
	if ec.MinInterval() > 0 {
		opts = append(opts, embedding.WithMinInterval(ec.MinInterval()))
	}
	if key := ec.APIKey(); key != "" {
		opts = append(opts, embedding.WithAPIKey(key))
	}
	return embedding.NewClient(opts...)
}

// mustOpenKB opens the knowledge base in an existing instance directory.
// The caller is responsible for calling Close().
func mustOpenKB(opts kb.Options) *kb.KnowledgeBase {
	dir := mustResolveInstance()
	if opts.Provider == nil {
		opts.Provider = buildProvider()
	}
	base, err := kb.Open(dir, opts)
	if err != nil {
		exitWithError(ExitError, "opening knowledge base: %v", err)
	}
	return base
}
