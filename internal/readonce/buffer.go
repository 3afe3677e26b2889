// Package readonce decodes file-like image handles exactly once and serves
// the decoded frame for every later use.
package readonce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"sync"

	_ "golang.org/x/image/bmp"

	"github.com/lehigh-university-libraries/pagereader/internal/frame"
)

// Buffer captures an Input's payload on first use. Decode may be called any
// number of times; only the first call touches the Input.
type Buffer struct {
	input *Input

	once    sync.Once
	payload []byte
	format  string
	frame   frame.Frame
	err     error
}

// New wraps in. Nothing is read until Decode.
func New(in *Input) *Buffer {
	return &Buffer{input: in}
}

// Decode reads the input once and returns the decoded frame. Repeated
// calls, including after a failed upload, return the cached result.
func (b *Buffer) Decode(ctx context.Context) (frame.Frame, error) {
	b.once.Do(func() {
		b.payload, b.format, b.frame, b.err = decode(ctx, b.input)
	})
	return b.frame, b.err
}

// Payload returns the bytes captured by the first Decode, or nil before it.
func (b *Buffer) Payload() []byte {
	return b.payload
}

// ContentType returns the media type of the captured payload.
func (b *Buffer) ContentType() string {
	if b.format != "" {
		return "image/" + b.format
	}
	return b.input.ContentType
}

// Name is the originating input's name.
func (b *Buffer) Name() string {
	return b.input.Name
}

// Decode is a convenience for New(in).Decode(ctx).
func Decode(ctx context.Context, in *Input) (frame.Frame, error) {
	return New(in).Decode(ctx)
}

func decode(ctx context.Context, in *Input) ([]byte, string, frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", frame.Frame{}, err
	}

	r, release, err := in.take()
	if err != nil {
		return nil, "", frame.Frame{}, err
	}
	payload, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	release()
	if err != nil {
		return nil, "", frame.Frame{}, &DecodeError{Kind: DecodeReadFailed, Name: in.Name, Cause: err}
	}
	if len(payload) == 0 {
		return nil, "", frame.Frame{}, &DecodeError{Kind: DecodeReadFailed, Name: in.Name, Cause: errors.New("empty payload")}
	}
	if len(payload) > MaxInputBytes {
		return nil, "", frame.Frame{}, &ValidationError{Name: in.Name, Reason: fmt.Sprintf("file too large (max %dMB)", MaxInputBytes/1024/1024)}
	}

	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return payload, "", frame.Frame{}, &DecodeError{Kind: DecodeReadFailed, Name: in.Name, Cause: err}
	}
	f, err := frame.New(img)
	if err != nil {
		return payload, format, frame.Frame{}, &DecodeError{Kind: DecodeDimensionsInvalid, Name: in.Name, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return payload, format, frame.Frame{}, err
	}

	slog.Debug("Decoded input", "name", in.Name, "format", format, "width", f.Width(), "height", f.Height(), "bytes", len(payload))
	return payload, format, f, nil
}
