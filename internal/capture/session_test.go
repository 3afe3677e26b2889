package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/camera"
	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/readonce"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
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

type stillStream struct {
	img    image.Image
	closed bool
}

func (s *stillStream) Grab(ctx context.Context) (image.Image, error) { return s.img, nil }
func (s *stillStream) Close() error                                  { s.closed = true; return nil }

type stillDevice struct {
	name   string
	stream *stillStream
}

func (d *stillDevice) Name() string                    { return d.name }
func (d *stillDevice) StartPolicy() camera.StartPolicy { return camera.StartOnUserAction }
func (d *stillDevice) Open(ctx context.Context, cfg camera.Config) (camera.Stream, error) {
	return d.stream, nil
}

func TestFinishMergesInCaptureOrder(t *testing.T) {
	red := color.RGBA{R: 220, A: 255}
	blue := color.RGBA{B: 220, A: 255}

	// The first shot's payload arrives after the second has decoded.
	pr, pw := io.Pipe()
	s := New(nil)
	if _, err := s.AddInput(readonce.NewInput("first.png", "image/png", -1, pr)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.AddInput(readonce.FromBytes("second.png", "image/png", solidPNG(t, 80, 40, blue)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !second.Decoded() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	firstData := solidPNG(t, 80, 60, red)
	go func() {
		_, _ = pw.Write(firstData)
		_ = pw.Close()
	}()

	art, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if art.Width != 80 || art.Height != 100 {
		t.Fatalf("Expected 80x100, got %dx%d", art.Width, art.Height)
	}

	img, err := jpeg.Decode(bytes.NewReader(art.Bytes))
	if err != nil {
		t.Fatalf("failed to decode artifact: %v", err)
	}
	if r, _, b, _ := img.At(40, 30).RGBA(); r>>8 < 150 || b>>8 > 80 {
		t.Errorf("Expected first shot on top, got %v", img.At(40, 30))
	}
	if r, _, b, _ := img.At(40, 80).RGBA(); b>>8 < 150 || r>>8 > 80 {
		t.Errorf("Expected second shot below, got %v", img.At(40, 80))
	}
}

func TestCloseWithPendingDecodeProducesNoComposite(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := New(nil)
	if _, err := s.AddInput(readonce.FromBytes("a.png", "image/png", solidPNG(t, 10, 10, color.White))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.AddInput(readonce.NewInput("b.png", "image/png", -1, pr)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type result struct {
		art compositor.Artifact
		err error
	}
	done := make(chan result, 1)
	go func() {
		art, err := s.Finish(context.Background())
		done <- result{art, err}
	}()

	time.Sleep(50 * time.Millisecond)
	s.Close()

	select {
	case res := <-done:
		if !errors.Is(res.err, ErrSessionClosed) {
			t.Errorf("Expected ErrSessionClosed, got %v", res.err)
		}
		if !res.art.Empty() {
			t.Error("Expected no composite")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Finish did not return after Close")
	}
}

func TestSessionBound(t *testing.T) {
	s := New(nil, WithMaxShots(2))
	defer s.Close()

	data := solidPNG(t, 4, 4, color.White)
	for i := 0; i < 2; i++ {
		if _, err := s.AddInput(readonce.FromBytes("p.png", "image/png", data)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := s.AddInput(readonce.FromBytes("p.png", "image/png", data)); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("Expected ErrSessionFull, got %v", err)
	}

	shots := s.Shots()
	if !s.Remove(shots[0].ID) {
		t.Fatal("Expected shot to be removed")
	}
	if s.Remove(shots[0].ID) {
		t.Error("Expected second remove to report false")
	}
	if got := len(s.Shots()); got != 1 {
		t.Errorf("Expected 1 shot, got %d", got)
	}
	if _, err := s.AddInput(readonce.FromBytes("p.png", "image/png", data)); err != nil {
		t.Errorf("Expected room after remove, got %v", err)
	}
}

func TestAddInputRejectsInvalidFiles(t *testing.T) {
	s := New(nil)
	defer s.Close()

	_, err := s.AddInput(readonce.FromBytes("notes.txt", "text/plain", []byte("hello")))
	var validationErr *readonce.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(s.Shots()) != 0 {
		t.Error("Expected rejected input not to be added")
	}
}

func TestSingleShotPassesThrough(t *testing.T) {
	data := solidPNG(t, 30, 20, color.White)
	s := New(nil)
	if _, err := s.AddInput(readonce.FromBytes("page.png", "image/png", data)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	art, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(art.Bytes, data) {
		t.Error("Expected single shot payload to be submitted unchanged")
	}
	if art.MIMEType != "image/png" || art.Filename != "page.png" {
		t.Errorf("Expected image/png page.png, got %s %s", art.MIMEType, art.Filename)
	}
	if art.Width != 30 || art.Height != 20 {
		t.Errorf("Expected 30x20, got %dx%d", art.Width, art.Height)
	}
}

func TestFinishEmptySession(t *testing.T) {
	s := New(nil)
	_, err := s.Finish(context.Background())
	if !compositor.IsKind(err, compositor.EmptyInput) {
		t.Fatalf("Expected empty_input, got %v", err)
	}
	if _, err := s.Finish(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected finished session to be closed, got %v", err)
	}
}

func TestCaptureFromCameraReleasesOnFinish(t *testing.T) {
	stream := &stillStream{img: image.NewRGBA(image.Rect(0, 0, 64, 48))}
	dev := &stillDevice{name: "capture-test", stream: stream}
	src := camera.NewSource(dev, camera.DefaultConfig(), nil)
	s := New(src)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.State() != camera.StateIdle {
		t.Fatalf("Expected camera to wait for a user action, got %s", src.State())
	}

	for i := 0; i < 2; i++ {
		shot, err := s.Capture(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(shot.Preview()) == 0 {
			t.Error("Expected a preview encoding")
		}
	}

	art, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if art.Width != 64 || art.Height != 96 {
		t.Errorf("Expected 64x96, got %dx%d", art.Width, art.Height)
	}
	if src.State() != camera.StateStopped || !stream.closed {
		t.Errorf("Expected camera released after finish, got %s", src.State())
	}
}

func TestCaptureWithoutCamera(t *testing.T) {
	s := New(nil)
	defer s.Close()
	if _, err := s.Capture(context.Background()); !errors.Is(err, ErrNoCamera) {
		t.Errorf("Expected ErrNoCamera, got %v", err)
	}
}

func TestCameraShotKeepsSnapshotPixels(t *testing.T) {
	// A one-pixel checkerboard does not survive a JPEG round trip.
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{A: 255})
			}
		}
	}
	dev := &stillDevice{name: "pixel-test", stream: &stillStream{img: img}}
	s := New(camera.NewSource(dev, camera.DefaultConfig(), nil))
	defer s.Close()

	shot, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shot.Decoded() || shot.Err() != nil {
		t.Fatalf("Expected camera shot to be ready, got err %v", shot.Err())
	}

	got := shot.frame.Image()
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			want := color.RGBAModel.Convert(img.At(x, y))
			have := color.RGBAModel.Convert(got.At(got.Bounds().Min.X+x, got.Bounds().Min.Y+y))
			if want != have {
				t.Fatalf("Expected pixel (%d,%d) %v, got %v", x, y, want, have)
			}
		}
	}

	art, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if art.MIMEType != "image/jpeg" || !bytes.Equal(art.Bytes, shot.Preview()) {
		t.Errorf("Expected the preview JPEG as the single-shot payload, got %s (%d bytes)", art.MIMEType, len(art.Bytes))
	}
	if _, err := jpeg.Decode(bytes.NewReader(art.Bytes)); err != nil {
		t.Errorf("Expected a decodable JPEG, got %v", err)
	}
}
