// Package frame holds the decoded raster type shared by capture, decoding
// and compositing.
package frame

import (
	"errors"
	"image"
)

// ErrZeroDimensions is returned when an image has no pixels.
var ErrZeroDimensions = errors.New("frame: zero dimensions")

// Frame is one decoded raster image. It is immutable once produced; callers
// must treat Image() as read-only.
type Frame struct {
	width  int
	height int
	img    image.Image
}

// New wraps a decoded image. The dimensions are taken from img's bounds.
func New(img image.Image) (Frame, error) {
	if img == nil {
		return Frame{}, ErrZeroDimensions
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Frame{}, ErrZeroDimensions
	}
	return Frame{width: b.Dx(), height: b.Dy(), img: img}, nil
}

func (f Frame) Width() int  { return f.width }
func (f Frame) Height() int { return f.height }

// Image returns the decoded bitmap.
func (f Frame) Image() image.Image { return f.img }

// IsZero reports whether f was never produced by New.
func (f Frame) IsZero() bool { return f.img == nil }
