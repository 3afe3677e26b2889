// Package tasks talks to the page reading job service: it submits composite
// artifacts and queries task status.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

// DefaultBaseURL is used when no service URL is configured.
const DefaultBaseURL = "http://127.0.0.1:8000"

// Client is a job service client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Submit uploads one artifact and returns the created task's handle. An
// empty artifact is refused before any request is made.
func (c *Client) Submit(ctx context.Context, art compositor.Artifact) (models.UploadHandle, error) {
	if art.Empty() {
		return models.UploadHandle{}, &SubmitError{Kind: InvalidArtifact, Cause: errors.New("artifact has no bytes")}
	}
	filename := art.Filename
	if filename == "" {
		filename = fmt.Sprintf("merged_%d.jpg", time.Now().UnixMilli())
	}
	mimeType := art.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(art.Bytes); err != nil {
		return models.UploadHandle{}, fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.UploadHandle{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	slog.Debug("Submitting artifact", "filename", filename, "bytes", len(art.Bytes), "url", req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.UploadHandle{}, &SubmitError{Kind: TransportUnreachable, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.UploadHandle{}, &SubmitError{Kind: ResponseLost, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.UploadHandle{}, &SubmitError{Kind: Rejected, StatusCode: resp.StatusCode, Reason: reasonFrom(raw, resp.Status)}
	}

	var out models.UploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.UploadHandle{}, &SubmitError{Kind: Rejected, StatusCode: resp.StatusCode, Reason: "unreadable upload response", Cause: err}
	}
	if !out.Success || out.TaskID == "" {
		reason := out.Error
		if reason == "" {
			reason = out.Message
		}
		if reason == "" {
			reason = "upload was not accepted"
		}
		return models.UploadHandle{}, &SubmitError{Kind: Rejected, StatusCode: resp.StatusCode, Reason: reason}
	}

	if out.Filename == "" {
		out.Filename = filename
	}
	slog.Info("Artifact submitted", "task_id", out.TaskID, "filename", out.Filename)
	return models.UploadHandle{TaskID: out.TaskID, SourceFilename: out.Filename}, nil
}

// Status fetches the current snapshot for taskID.
func (c *Client) Status(ctx context.Context, taskID string) (models.TaskSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return models.TaskSnapshot{}, &QueryError{Kind: QueryInvalidResponse, TaskID: taskID, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.TaskSnapshot{}, &QueryError{Kind: QueryTransport, TaskID: taskID, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.TaskSnapshot{}, &QueryError{Kind: QueryTransport, TaskID: taskID, StatusCode: resp.StatusCode, Cause: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.TaskSnapshot{}, &QueryError{Kind: QueryNotFound, TaskID: taskID, StatusCode: resp.StatusCode, Reason: reasonFrom(raw, "task not found")}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.TaskSnapshot{}, &QueryError{Kind: QueryRejected, TaskID: taskID, StatusCode: resp.StatusCode, Reason: reasonFrom(raw, resp.Status)}
	}

	var snap models.TaskSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.TaskSnapshot{}, &QueryError{Kind: QueryInvalidResponse, TaskID: taskID, StatusCode: resp.StatusCode, Cause: err}
	}
	switch snap.Status {
	case models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
	default:
		return models.TaskSnapshot{}, &QueryError{Kind: QueryInvalidResponse, TaskID: taskID, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("unknown task status %q", snap.Status)}
	}
	if snap.TaskID == "" {
		snap.TaskID = taskID
	}
	return snap, nil
}

// reasonFrom pulls a human-readable reason out of an error body.
func reasonFrom(raw []byte, fallback string) string {
	var body struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 300 {
		return text
	}
	return fallback
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
