// Package cli defines the command-line interface for dot.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CruGlobal/dot/internal/logging"
)

const (
	// defaultConfigPath is the default path to the stack configuration file.
	defaultConfigPath = "jobs.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Env        string
	LogLevel   logging.Level
	LogFormat  logging.Format
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.FormatText, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
		LogFormat:  logging.FormatText,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "dot manages the data-pipeline jobs on Cloud Run",
		Long: "dot is a declarative tool for deploying and running the data-pipeline " +
			"Cloud Run jobs, schedules, and webhook endpoints defined in jobs.yaml.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			format := logging.ParseFormat(cmd.Flag("log-format").Value.String())
			opts.LogLevel = level
			opts.LogFormat = format
			logger = logging.NewLogger(os.Stderr, format, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level, "format", format)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "Path to jobs.yaml configuration file")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", "", "Environment name (e.g. staging, production)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "Log format (text, cloud)")

	cmd.AddCommand(
		newRenderCommand(opts),
		newValidateCommand(opts),
		newDeployCommand(opts),
		newRunCommand(opts),
		newSchedulesCommand(opts),
		newDoctorCommand(opts),
		newTriggerCommand(opts),
		newSyncCommand(opts),
		newServeCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.FormatText, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.FormatText, logging.LevelInfo)
}
