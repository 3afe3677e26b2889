package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lehigh-university-libraries/pagereader/internal/speech"
	"github.com/lehigh-university-libraries/pagereader/internal/storage"
)

// Processor runs the pipeline for one stored task.
type Processor interface {
	Process(ctx context.Context, taskID string)
}

type Config struct {
	UploadsDir string
	AudioDir   string
	// Archive, when set, answers status queries for evicted tasks.
	Archive *storage.Archive
	// Speech backs the ad hoc /api/tts endpoints.
	Speech speech.Synthesizer
}

type Handler struct {
	ctx       context.Context
	store     *storage.TaskStore
	processor Processor
	config    Config
	wg        sync.WaitGroup
}

// New returns a Handler whose background processing is bound to ctx.
func New(ctx context.Context, store *storage.TaskStore, processor Processor, cfg Config) *Handler {
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = "uploads"
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = filepath.Join("static", "audio")
	}
	return &Handler{
		ctx:       ctx,
		store:     store,
		processor: processor,
		config:    cfg,
	}
}

// Router wires every endpoint of the job service.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/upload", h.HandleUpload)
	r.Get("/api/task/{id}", h.HandleTask)
	r.Get("/api/tasks", h.HandleTasks)
	r.Post("/api/tts", h.HandleTTS)
	r.Post("/api/tts/audio", h.HandleTTSAudio)
	r.Get("/images/{name}", h.HandleImage)
	r.Handle("/static/audio/*", http.StripPrefix("/static/audio/", http.FileServer(http.Dir(h.config.AudioDir))))
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return r
}

// Wait blocks until background processing started by uploads has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) startProcessing(taskID string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		h.processor.Process(h.ctx, taskID)
		slog.Debug("Processing finished", "task_id", taskID, "duration", time.Since(start))
	}()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeError reports failures as {"success": false, "detail": message}.
func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= 500 {
		slog.Error(message)
	} else {
		slog.Warn(message, "status", code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"detail":  message,
	}); err != nil {
		slog.Error("Unable to encode JSON error", "err", err)
	}
}

func (h *Handler) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
