package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var logLevel string
	var logFormat string

	cmd := &cobra.Command{
		Use:   "pagereader",
		Short: "Photograph a page, merge the shots and have it read aloud",
		Long: `Pagereader turns photos of a printed page into text and speech.

Shots from a camera or image files are merged top to bottom into one image,
uploaded to the page reading service and tracked through OCR, text
processing and speech synthesis until the task finishes.

The same binary runs that service with "pagereader serve".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			if logLevel == "" {
				logLevel = envOr("LOG_LEVEL", "info")
			}
			if logFormat == "" {
				logFormat = envOr("LOG_FORMAT", "text")
			}
			return setupLogger(logLevel, logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (env LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (env LOG_FORMAT)")

	// Add subcommands
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
