package readonce

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Input is a file-like handle whose payload can be read at most once.
type Input struct {
	Name        string
	ContentType string
	// Size is the declared payload length, or -1 when unknown.
	Size int64

	mu       sync.Mutex
	r        io.Reader
	closer   io.Closer
	consumed bool
	closed   bool
}

// NewInput wraps r. If r is also an io.Closer it is closed after the read.
func NewInput(name, contentType string, size int64, r io.Reader) *Input {
	in := &Input{Name: name, ContentType: contentType, Size: size, r: r}
	if c, ok := r.(io.Closer); ok {
		in.closer = c
	}
	return in
}

// FromBytes wraps an in-memory payload, e.g. an encoded camera still.
func FromBytes(name, contentType string, data []byte) *Input {
	return NewInput(name, contentType, int64(len(data)), bytes.NewReader(data))
}

// take hands out the underlying reader exactly once.
func (in *Input) take() (io.Reader, func(), error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.consumed {
		return nil, nil, ErrConsumed
	}
	in.consumed = true
	release := func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		_ = in.closeLocked()
	}
	return in.r, release, nil
}

// Consumed reports whether the payload has already been read.
func (in *Input) Consumed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.consumed
}

// Close releases the handle. An unread input can no longer be read, and a
// read in progress is interrupted if the underlying reader supports it.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.consumed = true
	return in.closeLocked()
}

func (in *Input) closeLocked() error {
	if in.closed || in.closer == nil {
		in.closed = true
		return nil
	}
	in.closed = true
	return in.closer.Close()
}

// OpenFile opens a local image file as an Input.
func OpenFile(filePath string) (*Input, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	name := filepath.Base(filePath)
	return NewInput(name, ContentTypeFor(name), info.Size(), f), nil
}

// OpenURL starts a download and exposes the response body as an Input.
// The body is a network stream, so it is genuinely readable only once.
func OpenURL(ctx context.Context, client *http.Client, imageURL string) (*Input, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "image.jpg"
	}
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(name)
	}
	return NewInput(name, contentType, resp.ContentLength, resp.Body), nil
}

// ContentTypeFor guesses the media type from a file name's extension.
func ContentTypeFor(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
