package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/handlers"
	"github.com/lehigh-university-libraries/pagereader/internal/processing"
	"github.com/lehigh-university-libraries/pagereader/internal/providers"
	"github.com/lehigh-university-libraries/pagereader/internal/speech"
	"github.com/lehigh-university-libraries/pagereader/internal/storage"
	"github.com/spf13/cobra"

	_ "github.com/lehigh-university-libraries/pagereader/internal/gemini"
	_ "github.com/lehigh-university-libraries/pagereader/internal/ollama"
	_ "github.com/lehigh-university-libraries/pagereader/internal/openai"
)

type serveConfig struct {
	port         string
	uploadsDir   string
	audioDir     string
	archiveDir   string
	ttl          time.Duration
	ocrProvider  string
	ocrModel     string
	textProvider string
	textModel    string
}

func (c *serveConfig) resolve() {
	if c.port == "" {
		c.port = envOr("PORT", "8000")
	}
	if c.uploadsDir == "" {
		c.uploadsDir = envOr("UPLOADS_DIR", "uploads")
	}
	if c.audioDir == "" {
		c.audioDir = envOr("AUDIO_DIR", filepath.Join("static", "audio"))
	}
	if c.archiveDir == "" {
		c.archiveDir = os.Getenv("ARCHIVE_DIR")
	}
	if c.ttl <= 0 {
		c.ttl = envDuration("TASK_TTL", time.Hour)
	}
	if c.ocrProvider == "" {
		c.ocrProvider = envOr("OCR_PROVIDER", "ollama")
	}
	if c.ocrModel == "" {
		c.ocrModel = providers.DefaultModel(c.ocrProvider)
	}
	if c.textProvider == "" {
		c.textProvider = envOr("TEXT_PROVIDER", c.ocrProvider)
	}
	if c.textModel == "" && c.textProvider != "none" {
		c.textModel = providers.DefaultModel(c.textProvider)
	}
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the page reading service",
		Long: `Runs the reading service that "submit" and "capture" talk to.

Uploaded images go through OCR with a vision model, text cleanup and
segmentation, and speech synthesis when OPENAI_API_KEY is set. Tasks are
kept in memory for the TTL after creation and, when an archive directory is
set, written to parquet files when they expire.

Providers: ` + "gemini, ollama, openai (and tesseract when built with -tags tesseract)",
		Example: `  # Start server on default port 8000
  pagereader serve

  # OCR with Gemini, no text cleanup, keep expired tasks
  pagereader serve --ocr-provider gemini --text-provider none --archive-dir ./archive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.resolve()
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.port, "port", "p", "", "Port to listen on (env PORT, default 8000)")
	cmd.Flags().StringVar(&cfg.uploadsDir, "uploads-dir", "", "Where uploaded images are stored (env UPLOADS_DIR)")
	cmd.Flags().StringVar(&cfg.audioDir, "audio-dir", "", "Where synthesized audio is stored (env AUDIO_DIR)")
	cmd.Flags().StringVar(&cfg.archiveDir, "archive-dir", "", "Archive expired tasks to parquet files here (env ARCHIVE_DIR)")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", 0, "How long tasks are kept after creation (env TASK_TTL, default 1h)")
	cmd.Flags().StringVar(&cfg.ocrProvider, "ocr-provider", "", "OCR provider (env OCR_PROVIDER, default ollama)")
	cmd.Flags().StringVar(&cfg.ocrModel, "ocr-model", "", "OCR model (defaults to the provider's default)")
	cmd.Flags().StringVar(&cfg.textProvider, "text-provider", "", `Text provider, or "none" (env TEXT_PROVIDER, default the OCR provider)`)
	cmd.Flags().StringVar(&cfg.textModel, "text-model", "", "Text model (defaults to the provider's default)")

	return cmd
}

func runServe(ctx context.Context, cfg serveConfig) error {
	ocr, err := providers.Get(cfg.ocrProvider)
	if err != nil {
		return fmt.Errorf("failed to set up OCR: %w", err)
	}

	procCfg := processing.Config{
		OCR:      ocr,
		OCRModel: cfg.ocrModel,
		AudioDir: cfg.audioDir,
	}
	if cfg.textProvider != "none" {
		text, err := providers.Get(cfg.textProvider)
		if err != nil {
			return fmt.Errorf("failed to set up text processing: %w", err)
		}
		procCfg.Text = text
		procCfg.TextModel = cfg.textModel
	}

	speechCfg := speech.DefaultConfig()
	speechCfg.APIKey = os.Getenv("OPENAI_API_KEY")
	if voice := os.Getenv("TTS_VOICE"); voice != "" {
		speechCfg.Voice = voice
	}
	synth, err := speech.NewOpenAI(speechCfg)
	switch {
	case errors.Is(err, speech.ErrNoAPIKey):
		slog.Warn("OPENAI_API_KEY not set, speech synthesis disabled")
	case err != nil:
		return fmt.Errorf("failed to set up speech synthesis: %w", err)
	default:
		procCfg.Speech = synth
	}

	var archive *storage.Archive
	if cfg.archiveDir != "" {
		archive, err = storage.NewArchive(cfg.archiveDir)
		if err != nil {
			return err
		}
	}

	store := storage.New()
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	store.StartCleanup(cleanupCtx, time.Minute, cfg.ttl, archive)

	handlerCfg := handlers.Config{
		UploadsDir: cfg.uploadsDir,
		AudioDir:   cfg.audioDir,
		Archive:    archive,
	}
	if procCfg.Speech != nil {
		handlerCfg.Speech = procCfg.Speech
	}
	handler := handlers.New(ctx, store, processing.NewService(store, procCfg), handlerCfg)

	addr := ":" + cfg.port
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Page reading service available",
			"addr", addr,
			"url", "http://localhost"+addr,
			"ocr_provider", cfg.ocrProvider,
			"ocr_model", cfg.ocrModel,
			"text_provider", cfg.textProvider,
			"speech", procCfg.Speech != nil,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation (Ctrl+C) or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
			return err
		}
		handler.Wait()
		slog.Info("Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}
