// Package capture collects shots from a camera or from files and merges
// them into one artifact in capture order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/pagereader/internal/camera"
	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/frame"
	"github.com/lehigh-university-libraries/pagereader/internal/readonce"
)

// DefaultMaxShots bounds the number of shots in one session.
const DefaultMaxShots = 10

var (
	ErrSessionFull   = errors.New("capture: maximum number of shots reached")
	ErrSessionClosed = errors.New("capture: session closed")
	ErrNoCamera      = errors.New("capture: session has no camera")
)

// Shot is one captured or selected image. A selected file is decoded exactly
// once in the background; a camera shot keeps the snapshot frame and uses its
// JPEG encoding only for previews and single-shot uploads.
type Shot struct {
	ID      string
	Name    string
	preview []byte

	input  *readonce.Input
	buffer *readonce.Buffer
	cancel context.CancelFunc
	done   chan struct{}
	frame  frame.Frame
	err    error
}

// Preview returns the display encoding of the shot, or nil while a file
// input is still being read.
func (s *Shot) Preview() []byte {
	if s.preview != nil {
		return s.preview
	}
	select {
	case <-s.done:
		return s.buffer.Payload()
	default:
		return nil
	}
}

// Decoded reports whether the background decode has finished.
func (s *Shot) Decoded() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the decode error once Decoded is true.
func (s *Shot) Err() error {
	if !s.Decoded() {
		return nil
	}
	return s.err
}

// payload is what gets uploaded when the shot is the only one.
func (s *Shot) payload() ([]byte, string) {
	if s.buffer == nil {
		return s.preview, "image/jpeg"
	}
	return s.buffer.Payload(), s.buffer.ContentType()
}

func (s *Shot) release() {
	s.cancel()
	if s.input != nil {
		_ = s.input.Close()
	}
}

type Option func(*Session)

func WithMaxShots(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxShots = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Session orchestrates one capture. It owns the camera source, if any, and
// releases it when the session finishes or is closed.
type Session struct {
	source   *camera.Source
	maxShots int
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	shots  []*Shot
	closed bool
	seq    int
}

// New creates a session. source may be nil when only files are added.
func New(source *camera.Source, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		source:   source,
		maxShots: DefaultMaxShots,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) MaxShots() int { return s.maxShots }

// Open mounts the camera. Devices that need a user action stay idle.
func (s *Session) Open(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	if err := s.source.Mount(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	return nil
}

// Capture takes one snapshot. It counts as a user action, so a deferred
// camera is started first.
func (s *Session) Capture(ctx context.Context) (*Shot, error) {
	if s.source == nil {
		return nil, ErrNoCamera
	}
	if err := s.checkRoom(); err != nil {
		return nil, err
	}
	if err := s.source.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start camera: %w", err)
	}

	f, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	preview, err := compositor.EncodeJPEG(ctx, f.Image())
	if err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.roomLocked(); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	close(done)
	shot := &Shot{
		ID:      uuid.New().String(),
		Name:    fmt.Sprintf("shot_%d_%d.jpg", s.seq+1, time.Now().UnixMilli()),
		preview: preview,
		cancel:  func() {},
		done:    done,
		frame:   f,
	}
	s.appendLocked(shot)
	return shot, nil
}

// AddInput validates a selected file and queues it for decoding. The input
// is owned by the session from here on.
func (s *Session) AddInput(in *readonce.Input) (*Shot, error) {
	if err := readonce.Validate(in); err != nil {
		_ = in.Close()
		return nil, err
	}
	return s.add(in)
}

func (s *Session) checkRoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomLocked()
}

func (s *Session) roomLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if len(s.shots) >= s.maxShots {
		return ErrSessionFull
	}
	return nil
}

func (s *Session) add(in *readonce.Input) (*Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.roomLocked(); err != nil {
		_ = in.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(s.ctx)
	shot := &Shot{
		ID:     uuid.New().String(),
		Name:   in.Name,
		input:  in,
		buffer: readonce.New(in),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(shot.done)
		shot.frame, shot.err = shot.buffer.Decode(ctx)
		if shot.err != nil {
			s.logger.Warn("Failed to decode shot", "name", shot.Name, "err", shot.err)
		}
	}()

	s.appendLocked(shot)
	return shot, nil
}

func (s *Session) appendLocked(shot *Shot) {
	s.seq++
	s.shots = append(s.shots, shot)
	s.logger.Debug("Added shot", "id", shot.ID, "name", shot.Name, "count", len(s.shots))
}

// Remove discards one shot. It reports whether the id was found.
func (s *Session) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, shot := range s.shots {
		if shot.ID == id {
			shot.release()
			s.shots = append(s.shots[:i], s.shots[i+1:]...)
			return true
		}
	}
	return false
}

// Shots returns the shots in capture order.
func (s *Session) Shots() []*Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Shot, len(s.shots))
	copy(out, s.shots)
	return out
}

// Finish waits for every decode, then builds the artifact from the frames in
// capture order. A single shot is passed through unchanged. The session is
// closed on return whether or not it succeeded.
func (s *Session) Finish(ctx context.Context) (compositor.Artifact, error) {
	defer s.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return compositor.Artifact{}, ErrSessionClosed
	}
	shots := make([]*Shot, len(s.shots))
	copy(shots, s.shots)
	s.mu.Unlock()

	if len(shots) == 0 {
		return compositor.Artifact{}, &compositor.ComposeError{Kind: compositor.EmptyInput}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(s.ctx, cancel)
	defer stopWatch()

	frames := make([]frame.Frame, len(shots))
	g, gctx := errgroup.WithContext(ctx)
	for i, shot := range shots {
		g.Go(func() error {
			select {
			case <-shot.done:
			case <-gctx.Done():
				return gctx.Err()
			}
			if shot.err != nil {
				return fmt.Errorf("shot %d (%s): %w", i+1, shot.Name, shot.err)
			}
			frames[i] = shot.frame
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if s.ctx.Err() != nil {
			return compositor.Artifact{}, ErrSessionClosed
		}
		return compositor.Artifact{}, err
	}
	if s.ctx.Err() != nil {
		return compositor.Artifact{}, ErrSessionClosed
	}

	if len(shots) == 1 {
		shot := shots[0]
		payload, contentType := shot.payload()
		return compositor.Artifact{
			Bytes:    payload,
			MIMEType: contentType,
			Width:    frames[0].Width(),
			Height:   frames[0].Height(),
			Filename: shot.Name,
		}, nil
	}

	art, err := compositor.Compose(ctx, frames)
	if err != nil {
		if s.ctx.Err() != nil {
			return compositor.Artifact{}, ErrSessionClosed
		}
		return compositor.Artifact{}, err
	}
	s.logger.Info("Merged shots", "count", len(shots), "width", art.Width, "height", art.Height, "bytes", len(art.Bytes))
	return art, nil
}

// Close cancels outstanding decodes and releases the camera. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	for _, shot := range s.shots {
		shot.release()
	}
	s.mu.Unlock()

	if s.source != nil {
		s.source.Stop()
	}
}
