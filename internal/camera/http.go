package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"
)

// HTTPDevice polls a still-image endpoint, as exposed by IP webcam apps.
type HTTPDevice struct {
	URL    string
	client *http.Client
}

func NewHTTPDevice(url string, client *http.Client) *HTTPDevice {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPDevice{URL: url, client: client}
}

func (d *HTTPDevice) Name() string { return d.URL }

func (d *HTTPDevice) StartPolicy() StartPolicy { return StartOnMount }

// Open probes the endpoint once so that permission and availability errors
// surface at start rather than on the first snapshot.
func (d *HTTPDevice) Open(ctx context.Context, cfg Config) (Stream, error) {
	s := &httpStream{device: d}
	if _, err := s.Grab(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type httpStream struct {
	device *HTTPDevice
}

func (s *httpStream) Grab(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.device.URL, nil)
	if err != nil {
		return nil, &CameraError{Kind: NotFound, Device: s.device.URL, Cause: err}
	}
	resp, err := s.device.client.Do(req)
	if err != nil {
		return nil, &CameraError{Kind: Unavailable, Device: s.device.URL, Cause: err}
	}
	defer resp.Body.Close()

	if kind, failed := kindForStatus(resp.StatusCode); failed {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &CameraError{Kind: kind, Device: s.device.URL, Cause: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode camera frame: %w", err)
	}
	return img, nil
}

func (s *httpStream) Close() error { return nil }

func kindForStatus(code int) (Kind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Denied, true
	case code == http.StatusNotFound:
		return NotFound, true
	case code == http.StatusConflict || code == http.StatusLocked || code == http.StatusServiceUnavailable:
		return Busy, true
	default:
		return Unavailable, true
	}
}
