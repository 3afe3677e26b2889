// Package processing runs the server-side pipeline for an uploaded page:
// OCR, then text processing, then speech synthesis.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/lehigh-university-libraries/pagereader/internal/providers"
	"github.com/lehigh-university-libraries/pagereader/internal/speech"
	"github.com/lehigh-university-libraries/pagereader/internal/storage"
)

// AudioURLPrefix is where the server exposes AudioDir.
const AudioURLPrefix = "/static/audio/"

// Config selects the backends for each stage. Text and Speech are optional;
// a stage without a backend is skipped and reported as completed.
type Config struct {
	OCR       providers.Provider
	OCRModel  string
	Text      providers.Provider
	TextModel string
	Speech    speech.Synthesizer
	AudioDir  string
}

type Service struct {
	store  *storage.TaskStore
	config Config
}

func NewService(store *storage.TaskStore, cfg Config) *Service {
	if cfg.AudioDir == "" {
		cfg.AudioDir = filepath.Join("static", "audio")
	}
	return &Service{store: store, config: cfg}
}

// Process runs every stage for taskID. It is meant to run in its own
// goroutine; all outcomes are recorded on the task.
func (s *Service) Process(ctx context.Context, taskID string) {
	task, ok := s.store.Get(taskID)
	if !ok {
		slog.Warn("Task vanished before processing", "task_id", taskID)
		return
	}
	start := time.Now()
	logger := slog.With("task_id", taskID)

	s.store.Update(taskID, func(t *models.Task) {
		t.Status = models.StatusProcessing
	})

	if s.config.OCR == nil {
		s.fail(taskID, "OCR provider is not configured")
		return
	}

	s.advance(taskID, models.StageOCR, models.StageProcessing)
	ocrResult, err := s.recognize(ctx, task.FilePath)
	if err != nil {
		logger.Error("OCR failed", "err", err)
		s.fail(taskID, fmt.Sprintf("OCR failed: %v", err))
		return
	}
	s.advance(taskID, models.StageOCR, models.StageCompleted)
	logger.Info("OCR completed", "chars", len(ocrResult.FullText))

	s.advance(taskID, models.StageTextProcessing, models.StageProcessing)
	processed, err := s.processText(ctx, ocrResult.FullText)
	if err != nil {
		logger.Error("Text processing failed", "err", err)
		s.fail(taskID, fmt.Sprintf("text processing failed: %v", err))
		return
	}
	s.advance(taskID, models.StageTextProcessing, models.StageCompleted)

	s.advance(taskID, models.StageTTS, models.StageProcessing)
	audioURLs, err := s.synthesize(ctx, taskID, processed)
	if err != nil {
		logger.Error("Speech synthesis failed", "err", err)
		s.fail(taskID, fmt.Sprintf("speech synthesis failed: %v", err))
		return
	}
	s.advance(taskID, models.StageTTS, models.StageCompleted)

	s.store.Update(taskID, func(t *models.Task) {
		t.Status = models.StatusCompleted
		t.Result = &models.TaskResult{
			OCR:           ocrResult,
			ProcessedText: processed,
			AudioURLs:     audioURLs,
		}
	})
	logger.Info("Task completed", "audio_clips", len(audioURLs), "duration", time.Since(start))
}

func (s *Service) advance(taskID string, stage models.Stage, status models.StageStatus) {
	s.store.Update(taskID, func(t *models.Task) {
		t.Progress.Advance(stage, status)
	})
}

func (s *Service) fail(taskID, reason string) {
	s.store.Update(taskID, func(t *models.Task) {
		t.Status = models.StatusFailed
		t.Error = reason
	})
}

func (s *Service) recognize(ctx context.Context, imagePath string) (models.OCRResult, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("failed to read image: %w", err)
	}

	text, err := s.config.OCR.ExtractText(ctx, providers.Config{
		Model:       s.config.OCRModel,
		Temperature: 0.1,
		Prompt:      buildOCRPrompt(),
		Image:       imageData,
		ImageMIME:   http.DetectContentType(imageData),
	})
	if err != nil {
		return models.OCRResult{}, err
	}

	result := models.OCRResult{FullText: strings.TrimSpace(text), TextBlocks: []models.TextBlock{}}
	for _, line := range strings.Split(result.FullText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			result.TextBlocks = append(result.TextBlocks, models.TextBlock{Text: line})
		}
	}
	return result, nil
}

// processText cleans and segments the OCR text. Without a text provider
// the OCR text is segmented as is.
func (s *Service) processText(ctx context.Context, ocrText string) (*models.ProcessedText, error) {
	if ocrText == "" {
		return &models.ProcessedText{}, nil
	}
	if s.config.Text == nil {
		return &models.ProcessedText{
			MainText:     ocrText,
			OriginalText: ocrText,
			Segments:     AutoSegment(ocrText),
		}, nil
	}

	raw, err := s.config.Text.ExtractText(ctx, providers.Config{
		Model:       s.config.TextModel,
		Temperature: 0.3,
		Prompt:      buildTextPrompt(ocrText),
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty response from text provider")
	}
	return parseProcessedText(raw), nil
}

// synthesize writes one clip per segment plus the main text and the
// instruction. Clips that fail are skipped; only an unwritable audio
// directory fails the stage.
func (s *Service) synthesize(ctx context.Context, taskID string, pt *models.ProcessedText) (map[string]string, error) {
	urls := map[string]string{}
	if s.config.Speech == nil || pt == nil {
		return urls, nil
	}
	if err := os.MkdirAll(s.config.AudioDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	type clip struct{ key, text string }
	var clips []clip
	for idx, segment := range pt.Segments {
		clips = append(clips, clip{fmt.Sprintf("segment_%d", idx), segment})
	}
	clips = append(clips, clip{"main", pt.MainText}, clip{"instruction", pt.Instruction})

	for _, c := range clips {
		if strings.TrimSpace(c.text) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		audio, err := s.config.Speech.Synthesize(ctx, c.text)
		if err != nil {
			slog.Warn("Skipping audio clip", "task_id", taskID, "clip", c.key, "err", err)
			continue
		}
		name := fmt.Sprintf("%s_%s.%s", taskID, c.key, s.config.Speech.Format())
		if err := os.WriteFile(filepath.Join(s.config.AudioDir, name), audio, 0644); err != nil {
			return nil, fmt.Errorf("failed to write audio clip: %w", err)
		}
		urls[c.key] = path.Join(AudioURLPrefix, name)
	}
	return urls, nil
}
