package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(DefaultConfig()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

func TestSynthesize(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "key"
	cfg.BaseURL = srv.URL
	o, err := NewOpenAI(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	audio, err := o.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Errorf("Expected audio bytes, got %q", audio)
	}
	if got["input"] != "こんにちは" || got["speed"] != 0.75 {
		t.Errorf("Unexpected payload: %v", got)
	}
}

func TestSynthesizeRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "server error is retried", status: http.StatusBadGateway, wantCalls: 3},
		{name: "bad request is not", status: http.StatusBadRequest, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			cfg := DefaultConfig()
			cfg.APIKey = "key"
			cfg.BaseURL = srv.URL
			cfg.RetryDelay = time.Millisecond
			o, _ := NewOpenAI(cfg)

			_, err := o.Synthesize(context.Background(), "text")
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Fatalf("Expected APIError %d, got %v", tt.status, err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}
