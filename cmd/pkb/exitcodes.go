package main

// Exit codes used by all subcommands.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (no instance, bad config)
	ExitDataError   = 3 // Data error (malformed input, embedding service failure)
	ExitNotFound    = 4 // Paper or chunk not found
)
