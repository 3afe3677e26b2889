package camera

import (
	"context"
	"image"

	"github.com/vova616/screenshot"
)

// ScreenDevice captures the desktop, or a region of it, as a stand-in
// camera for pages shown on screen.
type ScreenDevice struct {
	Rect *image.Rectangle
}

func (d *ScreenDevice) Name() string { return "screen" }

// StartPolicy requires a user action so nothing is captured before the user
// has arranged the page on screen.
func (d *ScreenDevice) StartPolicy() StartPolicy { return StartOnUserAction }

func (d *ScreenDevice) Open(ctx context.Context, cfg Config) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := screenshot.ScreenRect(); err != nil {
		return nil, &CameraError{Kind: Unavailable, Device: d.Name(), Cause: err}
	}
	return &screenStream{rect: d.Rect}, nil
}

type screenStream struct {
	rect *image.Rectangle
}

func (s *screenStream) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		img *image.RGBA
		err error
	)
	if s.rect != nil {
		img, err = screenshot.CaptureRect(*s.rect)
	} else {
		img, err = screenshot.CaptureScreen()
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *screenStream) Close() error { return nil }
