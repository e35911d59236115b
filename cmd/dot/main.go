package main

import (
	"os"

	"github.com/CruGlobal/dot/internal/cli"
	"github.com/CruGlobal/dot/internal/logging"
)

// main is the entry point for the dot CLI binary.
func main() {
	format := logging.ParseFormat(os.Getenv("DOT_LOG_FORMAT"))
	logger := logging.NewLogger(os.Stderr, format, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
