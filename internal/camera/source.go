// Package camera owns live camera streams and turns them into still frames.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lehigh-university-libraries/pagereader/internal/frame"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// A device is held by at most one Source at a time.
var (
	claimsMu sync.Mutex
	claims   = map[string]*Source{}
)

func claim(name string, s *Source) error {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if owner, ok := claims[name]; ok && owner != s {
		return &CameraError{Kind: Busy, Device: name, Cause: errors.New("device is held by another capture session")}
	}
	claims[name] = s
	return nil
}

func release(name string, s *Source) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if claims[name] == s {
		delete(claims, name)
	}
}

// Source owns one device and its live stream.
type Source struct {
	device Device
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	stream      Stream
	streamCtx   context.Context
	streamStop  context.CancelFunc
	cancelStart context.CancelFunc
	starting    chan struct{}
	lastErr     error
}

func NewSource(device Device, cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		device: device,
		cfg:    cfg,
		logger: logger.With("camera", device.Name()),
	}
}

func (s *Source) Device() Device { return s.device }

func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that put the source into StateFailed.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Mount is called when the capture surface opens. Devices that require a
// user action are left idle until Start.
func (s *Source) Mount(ctx context.Context) error {
	if s.device.StartPolicy() != StartOnMount {
		s.logger.Debug("Deferring camera start until user action")
		return nil
	}
	return s.Start(ctx)
}

// Start acquires the stream. It is a no-op while streaming and joins an
// in-flight start.
func (s *Source) Start(ctx context.Context) error {
	name := s.device.Name()

	s.mu.Lock()
	switch s.state {
	case StateStreaming:
		s.mu.Unlock()
		return nil
	case StateStarting:
		wait := s.starting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateStreaming {
			return nil
		}
		if s.lastErr != nil {
			return s.lastErr
		}
		return &CameraError{Kind: Unavailable, Device: name, Cause: errors.New("camera stopped during start")}
	}

	if err := claim(name, s); err != nil {
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = StateStarting
	s.cancelStart = cancel
	s.starting = done
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Debug("Starting camera", "facing", s.cfg.Facing, "width", s.cfg.Width, "height", s.cfg.Height)
	stream, err := s.device.Open(startCtx, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)
	cancel()

	if s.starting != done {
		// Stop ran while the device was opening.
		if stream != nil {
			if cerr := stream.Close(); cerr != nil {
				s.logger.Warn("Failed to close late camera stream", "err", cerr)
			}
		}
		return &CameraError{Kind: Unavailable, Device: name, Cause: errors.New("camera stopped during start")}
	}
	s.cancelStart = nil
	s.starting = nil

	if err != nil {
		release(name, s)
		s.state = StateFailed
		s.lastErr = asCameraError(name, err)
		s.logger.Warn("Camera failed to start", "err", s.lastErr)
		return s.lastErr
	}

	s.stream = stream
	s.streamCtx, s.streamStop = context.WithCancel(context.Background())
	s.state = StateStreaming
	s.logger.Info("Camera streaming")
	return nil
}

// Snapshot grabs the frame currently presented by the stream. Dimensions
// come from the grabbed image, not from anything recorded at start.
func (s *Source) Snapshot(ctx context.Context) (frame.Frame, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return frame.Frame{}, &CaptureError{Kind: NotStreaming, Cause: fmt.Errorf("camera is %s", state)}
	}
	stream, streamCtx := s.stream, s.streamCtx
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(streamCtx, cancel)
	defer stopWatch()

	img, err := stream.Grab(ctx)
	if streamCtx.Err() != nil {
		return frame.Frame{}, &CaptureError{Kind: NotStreaming, Cause: errors.New("camera stopped during snapshot")}
	}
	if err != nil {
		var ce *CaptureError
		if errors.As(err, &ce) {
			return frame.Frame{}, ce
		}
		return frame.Frame{}, fmt.Errorf("failed to grab frame: %w", err)
	}

	f, err := frame.New(img)
	if err != nil {
		return frame.Frame{}, &CaptureError{Kind: ZeroDimensions, Cause: err}
	}
	return f, nil
}

// Stop releases the stream and the device claim. It is safe to call more
// than once and from any state, including while Start or Snapshot is in
// flight.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelStart != nil {
		s.cancelStart()
		s.cancelStart = nil
	}
	s.starting = nil
	if s.streamStop != nil {
		s.streamStop()
		s.streamStop = nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("Failed to close camera stream", "err", err)
		}
		s.stream = nil
	}
	release(s.device.Name(), s)
	if s.state != StateStopped {
		s.logger.Debug("Camera stopped", "from", s.state)
	}
	s.state = StateStopped
}
