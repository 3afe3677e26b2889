package readonce

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
)

type countingReader struct {
	r     io.Reader
	reads int
	eof   bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.eof {
		// a consumed stream yields nothing on a second pass
		return 0, io.EOF
	}
	c.reads++
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.eof = true
	}
	return n, err
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeReadsInputOnce(t *testing.T) {
	data := encodePNG(t, 4, 3, color.RGBA{R: 200, A: 255})
	cr := &countingReader{r: bytes.NewReader(data)}
	in := NewInput("page.png", "image/png", int64(len(data)), cr)
	buf := New(in)

	first, err := buf.Decode(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readsAfterFirst := cr.reads

	second, err := buf.Decode(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on second use: %v", err)
	}
	if cr.reads != readsAfterFirst {
		t.Errorf("Expected no further reads, got %d more", cr.reads-readsAfterFirst)
	}
	if first.Width() != 4 || first.Height() != 3 {
		t.Errorf("Expected 4x3, got %dx%d", first.Width(), first.Height())
	}

	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			a := color.RGBAModel.Convert(first.Image().At(x, y))
			b := color.RGBAModel.Convert(second.Image().At(x, y))
			if a != b {
				t.Fatalf("pixel (%d,%d) differs between uses: %v vs %v", x, y, a, b)
			}
		}
	}
	if !bytes.Equal(buf.Payload(), data) {
		t.Error("Expected captured payload to match the original bytes")
	}
}

func TestSecondBufferOnSameInputIsConsumed(t *testing.T) {
	data := encodePNG(t, 2, 2, color.White)
	in := FromBytes("shot.png", "image/png", data)

	if _, err := Decode(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := Decode(context.Background(), in)
	if !errors.Is(err, ErrConsumed) {
		t.Fatalf("Expected ErrConsumed, got %v", err)
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		wantKind DecodeKind
	}{
		{
			name:     "garbage bytes",
			input:    FromBytes("junk.png", "image/png", []byte("not an image")),
			wantKind: DecodeReadFailed,
		},
		{
			name:     "empty stream",
			input:    NewInput("empty.jpg", "image/jpeg", -1, strings.NewReader("")),
			wantKind: DecodeReadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(context.Background(), tt.input)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected DecodeError, got %v", err)
			}
			if decodeErr.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, decodeErr.Kind)
			}
		})
	}
}

func TestDecodeEnforcesCeilingForUnknownSize(t *testing.T) {
	big := bytes.Repeat([]byte{0xff}, MaxInputBytes+10)
	in := NewInput("huge.jpg", "image/jpeg", -1, bytes.NewReader(big))

	_, err := Decode(context.Background(), in)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestDecodeHonoursCancelledContext(t *testing.T) {
	data := encodePNG(t, 2, 2, color.White)
	in := FromBytes("shot.png", "image/png", data)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Decode(ctx, in); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if in.Consumed() {
		t.Error("Expected input to be left unread")
	}
}
