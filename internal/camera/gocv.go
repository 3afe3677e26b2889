//go:build gocv

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

func init() {
	RegisterDriver("gocv", func(arg string) (Device, error) {
		if arg == "" {
			arg = "0"
		}
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid video device index %q", arg)
		}
		return &VideoDevice{ID: id}, nil
	})
}

// VideoDevice is a local webcam opened through OpenCV.
type VideoDevice struct {
	ID int
}

func (d *VideoDevice) Name() string { return "gocv:" + strconv.Itoa(d.ID) }

func (d *VideoDevice) StartPolicy() StartPolicy { return StartOnMount }

func (d *VideoDevice) Open(ctx context.Context, cfg Config) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(d.ID)
	if err != nil {
		return nil, &CameraError{Kind: NotFound, Device: d.Name(), Cause: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &CameraError{Kind: Busy, Device: d.Name(), Cause: errors.New("device could not be opened")}
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &videoStream{vc: vc, mat: gocv.NewMat()}, nil
}

type videoStream struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

// Grab holds the lock across Read, so Close waits for an in-flight grab to
// return before releasing the device.
func (s *videoStream) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &CaptureError{Kind: NotStreaming}
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, &CaptureError{Kind: ZeroDimensions, Cause: errors.New("device returned an empty frame")}
	}
	return s.mat.ToImage()
}

func (s *videoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.vc.Close()
}
