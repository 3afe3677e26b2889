// Package compositor stacks decoded page frames into one JPEG artifact.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/lehigh-university-libraries/pagereader/internal/frame"
)

// Quality is the fixed JPEG quality factor, 0.9 on a 0-1 scale.
const Quality = 90

type ErrorKind string

const (
	EmptyInput     ErrorKind = "empty_input"
	ZeroDimensions ErrorKind = "zero_dimensions"
	EncodeFailed   ErrorKind = "encode_failed"
)

type ComposeError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ComposeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("compose %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("compose %s", e.Kind)
}

func (e *ComposeError) Unwrap() error { return e.Cause }

// IsKind reports whether err is a ComposeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ComposeError
	return errors.As(err, &ce) && ce.Kind == kind
}

// Artifact is the encoded result submitted as one unit.
type Artifact struct {
	Bytes    []byte
	MIMEType string
	Width    int
	Height   int
	Filename string
}

// Empty reports whether the artifact carries no payload.
func (a Artifact) Empty() bool { return len(a.Bytes) == 0 }

type options struct {
	background color.Color
	quality    int
	now        func() time.Time
}

type Option func(*options)

// WithBackground sets the fill used beside frames narrower than the canvas.
// Transparent colors are made opaque.
func WithBackground(c color.Color) Option {
	return func(o *options) {
		r, g, b, _ := c.RGBA()
		o.background = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
	}
}

// WithClock overrides the clock used for the artifact file name.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Layout returns the canvas size for frames: the widest frame by the summed heights.
func Layout(frames []frame.Frame) (width, height int) {
	for _, f := range frames {
		if f.Width() > width {
			width = f.Width()
		}
		height += f.Height()
	}
	return width, height
}

// Compose draws frames top to bottom in the given order, left-aligned, and
// encodes the canvas as JPEG.
func Compose(ctx context.Context, frames []frame.Frame, opts ...Option) (Artifact, error) {
	o := options{background: color.White, quality: Quality, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if len(frames) == 0 {
		return Artifact{}, &ComposeError{Kind: EmptyInput}
	}
	for i, f := range frames {
		if f.IsZero() {
			return Artifact{}, &ComposeError{Kind: ZeroDimensions, Cause: fmt.Errorf("frame %d has no pixels", i)}
		}
	}
	width, height := Layout(frames)
	if width == 0 || height == 0 {
		return Artifact{}, &ComposeError{Kind: ZeroDimensions}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(o.background), image.Point{}, draw.Src)

	y := 0
	for _, f := range frames {
		src := f.Image()
		dst := image.Rect(0, y, f.Width(), y+f.Height())
		draw.Copy(canvas, dst.Min, src, src.Bounds(), draw.Over, nil)
		y += f.Height()
	}

	data, err := encode(ctx, canvas, o.quality)
	if err != nil {
		return Artifact{}, err
	}

	slog.Debug("Composed frames", "frames", len(frames), "width", width, "height", height, "bytes", len(data))
	return Artifact{
		Bytes:    data,
		MIMEType: "image/jpeg",
		Width:    width,
		Height:   height,
		Filename: fmt.Sprintf("merged_%d.jpg", o.now().UnixMilli()),
	}, nil
}

type encodeResult struct {
	data []byte
	err  error
}

func encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan encodeResult, 1)
	go func() {
		var buf bytes.Buffer
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		done <- encodeResult{data: buf.Bytes(), err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, &ComposeError{Kind: EncodeFailed, Cause: res.err}
		}
		if len(res.data) == 0 {
			return nil, &ComposeError{Kind: EncodeFailed, Cause: errors.New("encoder produced no bytes")}
		}
		return res.data, nil
	}
}

// EncodeJPEG encodes a single image at the compositor's quality. It is used
// for capture previews.
func EncodeJPEG(ctx context.Context, img image.Image) ([]byte, error) {
	return encode(ctx, img, Quality)
}
