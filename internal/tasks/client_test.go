package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

func TestSubmitEmptyArtifactMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Submit(context.Background(), compositor.Artifact{})
	if !IsSubmitKind(err, InvalidArtifact) {
		t.Fatalf("Expected invalid_artifact, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("Expected no network call, got %d", hits.Load())
	}
}

func TestSubmit(t *testing.T) {
	var gotName, gotType string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
			t.Errorf("Expected POST /api/upload, got %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("failed to read form file: %v", err)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBytes, _ = io.ReadAll(file)

		_ = json.NewEncoder(w).Encode(models.UploadResponse{
			Success:  true,
			TaskID:   "T",
			Filename: header.Filename,
			Message:  "File uploaded successfully, processing started",
		})
	}))
	defer srv.Close()

	art := compositor.Artifact{Bytes: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg", Filename: "merged_1.jpg"}
	handle, err := NewClient(srv.URL + "/").Submit(context.Background(), art)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.TaskID != "T" || handle.SourceFilename != "merged_1.jpg" {
		t.Errorf("Expected T/merged_1.jpg, got %s/%s", handle.TaskID, handle.SourceFilename)
	}
	if gotName != "merged_1.jpg" || gotType != "image/jpeg" || len(gotBytes) != 3 {
		t.Errorf("Expected merged_1.jpg image/jpeg 3 bytes, got %s %s %d", gotName, gotType, len(gotBytes))
	}
}

func TestSubmitRejected(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{name: "detail", status: http.StatusBadRequest, body: `{"detail":"unsupported file type"}`, wantReason: "unsupported file type"},
		{name: "error field", status: http.StatusRequestEntityTooLarge, body: `{"success":false,"error":"file too large (max 10MB)"}`, wantReason: "file too large (max 10MB)"},
		{name: "success false", status: http.StatusOK, body: `{"success":false,"error":"queue full"}`, wantReason: "queue full"},
		{name: "plain text", status: http.StatusInternalServerError, body: "boom", wantReason: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Submit(context.Background(), compositor.Artifact{Bytes: []byte("x")})
			se, ok := err.(*SubmitError)
			if !ok || se.Kind != Rejected {
				t.Fatalf("Expected rejected, got %v", err)
			}
			if se.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, se.Reason)
			}
			if se.Retryable() {
				t.Error("Expected rejection not to be retryable")
			}
		})
	}
}

func TestSubmitTransportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Submit(context.Background(), compositor.Artifact{Bytes: []byte("x")})
	if !IsSubmitKind(err, TransportUnreachable) {
		t.Fatalf("Expected transport_unreachable, got %v", err)
	}
}

// cutOffServer answers with a 200 status line, then drops the connection
// before the promised body is sent.
func cutOffServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "200")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success": true, "task_id": "T`))
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("Expected a hijackable response writer")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		_ = buf.Flush()
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitResponseLostIsNotRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := cutOffServer(t, &hits)

	_, err := NewClient(srv.URL).Submit(context.Background(), compositor.Artifact{Bytes: []byte("x")})
	if !IsSubmitKind(err, ResponseLost) {
		t.Fatalf("Expected response_lost, got %v", err)
	}
	var se *SubmitError
	if !errors.As(err, &se) || se.Retryable() {
		t.Errorf("Expected a lost response not to be retryable, got %v", err)
	}
	if se != nil && se.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", se.StatusCode)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 request, got %d", hits.Load())
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/task/T":
			_, _ = io.WriteString(w, `{"success":true,"task_id":"T","status":"processing","progress":{"ocr":"completed","text_processing":"processing","tts":"pending"}}`)
		case "/api/task/odd":
			_, _ = io.WriteString(w, `{"success":true,"task_id":"odd","status":"exploded"}`)
		case "/api/task/garbled":
			_, _ = io.WriteString(w, `{"success":`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Task not found"}`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	snap, err := c.Status(context.Background(), "T")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.StatusProcessing || snap.Progress.OCR != models.StageCompleted {
		t.Errorf("Expected processing with ocr completed, got %+v", snap)
	}

	tests := []struct {
		id   string
		want QueryKind
	}{
		{id: "missing", want: QueryNotFound},
		{id: "odd", want: QueryInvalidResponse},
		{id: "garbled", want: QueryInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.Status(context.Background(), tt.id)
			if !IsQueryKind(err, tt.want) {
				t.Errorf("Expected %s, got %v", tt.want, err)
			}
		})
	}
}
