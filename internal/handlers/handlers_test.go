package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/lehigh-university-libraries/pagereader/internal/storage"
	"github.com/lehigh-university-libraries/pagereader/internal/tasks"
)

// completingProcessor finishes every task immediately.
type completingProcessor struct {
	store *storage.TaskStore
}

func (p *completingProcessor) Process(ctx context.Context, taskID string) {
	p.store.Update(taskID, func(t *models.Task) {
		t.Status = models.StatusProcessing
		for _, stage := range models.Stages {
			t.Progress.Advance(stage, models.StageCompleted)
		}
	})
	p.store.Update(taskID, func(t *models.Task) {
		t.Status = models.StatusCompleted
		t.Result = &models.TaskResult{OCR: models.OCRResult{FullText: "ねこ"}}
	})
}

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

func (fakeSpeech) Format() string { return "mp3" }

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Handler, *storage.TaskStore) {
	t.Helper()
	store := storage.New()
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = t.TempDir()
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = t.TempDir()
	}
	h := New(context.Background(), store, &completingProcessor{store: store}, cfg)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, h, store
}

func TestUploadThenStatus(t *testing.T) {
	srv, h, _ := newTestServer(t, Config{})
	client := tasks.NewClient(srv.URL)

	handle, err := client.Submit(context.Background(), compositor.Artifact{
		Bytes:    []byte("\xff\xd8\xff\xe0 fake jpeg"),
		MIMEType: "image/jpeg",
		Filename: "merged_1700000000000.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.TaskID == "" {
		t.Fatal("Expected a task id")
	}
	if !regexp.MustCompile(`^merged_1700000000000_\d+\.jpg$`).MatchString(handle.SourceFilename) {
		t.Errorf("Expected timestamped filename, got %s", handle.SourceFilename)
	}

	h.Wait()
	snap, err := client.Status(context.Background(), handle.TaskID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.StatusCompleted || snap.Result == nil || snap.Result.OCR.FullText != "ねこ" {
		t.Errorf("Expected completed snapshot with result, got %+v", snap)
	}
	if snap.Error != "" {
		t.Errorf("Expected no error field on success, got %q", snap.Error)
	}

	resp, err := http.Get(srv.URL + "/images/" + handle.SourceFilename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(body, []byte("\xff\xd8")) {
		t.Errorf("Expected stored image, got %d", resp.StatusCode)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantReason  string
	}{
		{
			name:        "unsupported type",
			filename:    "notes.txt",
			contentType: "text/plain",
			data:        []byte("hello"),
			wantReason:  "unsupported file type",
		},
		{
			name:        "empty file",
			filename:    "page.png",
			contentType: "image/png",
			data:        []byte{},
			wantReason:  "file is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, store := newTestServer(t, Config{})
			client := tasks.NewClient(srv.URL)

			var err error
			if len(tt.data) == 0 {
				// the client refuses empty artifacts itself
				err = postRaw(t, srv.URL, tt.filename, tt.data)
			} else {
				_, err = client.Submit(context.Background(), compositor.Artifact{
					Bytes:    tt.data,
					MIMEType: tt.contentType,
					Filename: tt.filename,
				})
			}
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantReason) {
				t.Errorf("Expected %q in error, got %v", tt.wantReason, err)
			}
			if len(store.GetAll()) != 0 {
				t.Errorf("Expected no task to be created")
			}
		})
	}
}

func postRaw(t *testing.T, baseURL, filename string, data []byte) error {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	resp, err := http.Post(baseURL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	detail, _ := out["detail"].(string)
	return &tasks.SubmitError{Kind: tasks.Rejected, StatusCode: resp.StatusCode, Reason: detail}
}

func TestTaskNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	_, err := tasks.NewClient(srv.URL).Status(context.Background(), "missing")
	if !tasks.IsQueryKind(err, tasks.QueryNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestTaskFromArchive(t *testing.T) {
	archive, err := storage.NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	if _, err := archive.Write([]models.Task{{
		ID:        "old",
		Filename:  "page.jpg",
		Status:    models.StatusFailed,
		Progress:  models.Progress{OCR: models.StageCompleted, TextProcessing: models.StageProcessing, TTS: models.StagePending},
		Error:     "text processing failed: quota",
		CreatedAt: now,
		UpdatedAt: now,
	}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv, _, _ := newTestServer(t, Config{Archive: archive})
	snap, err := tasks.NewClient(srv.URL).Status(context.Background(), "old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.StatusFailed || snap.Error != "text processing failed: quota" {
		t.Errorf("Expected archived failure, got %+v", snap)
	}
}

func TestImageTraversal(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	resp, err := http.Get(srv.URL + "/images/..%2Fsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Errorf("Expected traversal to be refused, got %d", resp.StatusCode)
	}
}

func TestAudioServed(t *testing.T) {
	audioDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(audioDir, "t_main.mp3"), []byte("ID3"), 0644); err != nil {
		t.Fatalf("failed to write clip: %v", err)
	}
	srv, _, _ := newTestServer(t, Config{AudioDir: audioDir})

	resp, err := http.Get(srv.URL + "/static/audio/t_main.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ID3" {
		t.Errorf("Expected clip contents, got %q", body)
	}
}

func TestTTS(t *testing.T) {
	tests := []struct {
		name       string
		speech     bool
		body       string
		wantStatus int
	}{
		{name: "synthesizes", speech: true, body: `{"text": "ねこ"}`, wantStatus: http.StatusOK},
		{name: "empty text", speech: true, body: `{"text": " "}`, wantStatus: http.StatusBadRequest},
		{name: "not configured", speech: false, body: `{"text": "ねこ"}`, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			if tt.speech {
				cfg.Speech = fakeSpeech{}
			}
			srv, _, _ := newTestServer(t, cfg)

			resp, err := http.Post(srv.URL+"/api/tts", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var out struct {
				AudioData   string `json:"audio_data"`
				AudioFormat string `json:"audio_format"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.AudioData != "bXAzOuOBreOBkw==" || out.AudioFormat != "mp3" {
				t.Errorf("Unexpected response: %+v", out)
			}
		})
	}
}

func TestStoredName(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		original    string
		contentType string
		want        string
	}{
		{"page.JPG", "image/jpeg", "page_1700000000.jpg"},
		{"blob", "image/png", "blob_1700000000.png"},
		{"../../etc/page.png", "image/png", "page_1700000000.png"},
		{"", "image/heic", "upload_1700000000.heic"},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			if got := storedName(tt.original, tt.contentType, now); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
