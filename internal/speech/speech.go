// Package speech turns reading text into spoken audio.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrNoAPIKey is returned when the API key is missing.
var ErrNoAPIKey = errors.New("speech: API key required")

const openAISpeechURL = "https://api.openai.com/v1/audio/speech"

// Synthesizer converts text to an encoded audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Format() string
}

// APIError represents an error response from the speech API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech: API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limiting and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds the synthesis settings.
type Config struct {
	APIKey     string
	Model      string
	Voice      string
	Speed      float64
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig reads slowly, for language learners.
func DefaultConfig() Config {
	return Config{
		Model:      "tts-1",
		Voice:      "shimmer",
		Speed:      0.75,
		BaseURL:    openAISpeechURL,
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// OpenAI implements Synthesizer with the OpenAI speech endpoint.
type OpenAI struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAISpeechURL
	}
	return &OpenAI{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default().With("component", "speech.openai"),
	}, nil
}

func (o *OpenAI) Format() string { return "mp3" }

// Synthesize returns the complete MP3 clip for text.
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	body, err := json.Marshal(map[string]interface{}{
		"model":           o.config.Model,
		"voice":           o.config.Voice,
		"input":           text,
		"speed":           o.config.Speed,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		audio, err := o.do(ctx, body)
		if err == nil {
			o.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "latency_ms", time.Since(start).Milliseconds())
			return audio, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		o.logger.Warn("retrying speech request", "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (o *OpenAI) do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", o.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("speech: empty audio response")
	}
	return audio, nil
}
