// Package poller drives a remote task to a terminal state by querying its
// status on a fixed cadence.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

// DefaultInterval is the time between status queries.
const DefaultInterval = time.Second

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseCompleted
	PhaseFailed
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePolling:
		return "polling"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseStopped:
		return "stopped"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether the phase ends a polling run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseStopped
}

// State is what the poller currently knows. Snapshot is the latest accepted
// snapshot and is nil until the first query succeeds. Err is set only in
// PhaseFailed.
type State struct {
	Phase    Phase
	TaskID   string
	Snapshot *models.TaskSnapshot
	Err      error
}

// RemoteRejection is the error for a task the service reported as failed.
type RemoteRejection struct {
	TaskID  string
	Message string
}

func (e *RemoteRejection) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// QueryFunc fetches one status snapshot.
type QueryFunc func(ctx context.Context, taskID string) (models.TaskSnapshot, error)

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// Handler observes a state change. It runs on the poller's goroutine. To end
// polling from inside the handler call stop, not Poller.Stop, which waits for
// the handler to return. Start may be called from the handler.
type Handler func(s State, stop func())

// WithHandler registers fn to observe every state change.
func WithHandler(fn Handler) Option {
	return func(p *Poller) { p.handler = fn }
}

// Poller polls one task at a time. Queries are issued sequentially, so at
// most one is in flight; a response that does not belong to the latest
// query of the current run is dropped.
type Poller struct {
	query    QueryFunc
	interval time.Duration
	logger   *slog.Logger
	handler  Handler

	mu     sync.Mutex
	gen    uint64
	seq    uint64
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	emitMu sync.Mutex
}

func New(query QueryFunc, opts ...Option) *Poller {
	p := &Poller{
		query:    query,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.done = closedChan()
	return p
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start begins polling handle's task, replacing any current run. Cancelling
// ctx has the same effect as Stop.
func (p *Poller) Start(ctx context.Context, handle models.UploadHandle) error {
	if handle.TaskID == "" {
		return errors.New("poller: upload handle has no task id")
	}

	p.mu.Lock()
	p.haltLocked()
	p.gen++
	gen := p.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.state = State{Phase: PhasePolling, TaskID: handle.TaskID}
	p.mu.Unlock()

	p.logger.Debug("Polling task", "task_id", handle.TaskID, "interval", p.interval)
	go p.run(runCtx, gen, handle.TaskID, done)
	return nil
}

// Stop cancels the current run and waits for a handler call in progress to
// return, so no handler code runs after Stop returns. Stop is idempotent; a
// run that already reached a terminal phase keeps it. Calling Stop from the
// handler deadlocks; use the stop function passed to the handler instead.
func (p *Poller) Stop() {
	p.halt()

	p.emitMu.Lock()
	p.emitMu.Unlock()
}

// halt cancels the current run without waiting for the handler.
func (p *Poller) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.gen++
}

func (p *Poller) haltLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.state.Phase == PhasePolling {
		p.state.Phase = PhaseStopped
		p.logger.Debug("Polling stopped", "task_id", p.state.TaskID)
	}
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active reports whether queries are still being scheduled.
func (p *Poller) Active() bool {
	return p.State().Phase == PhasePolling
}

// Done is closed when the current run's goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the current run ends or ctx is done and returns the
// final state.
func (p *Poller) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.Done():
		return p.State(), nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context, gen uint64, taskID string, done chan struct{}) {
	defer close(done)

	p.emit(gen, State{Phase: PhasePolling, TaskID: taskID})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if !p.poll(ctx, gen, taskID) {
			return
		}
		select {
		case <-ctx.Done():
			p.cancelled(gen)
			return
		case <-ticker.C:
		}
	}
}

// poll issues one query and applies its result. It returns false when the
// run is over.
func (p *Poller) poll(ctx context.Context, gen uint64, taskID string) bool {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return false
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	snap, err := p.query(ctx, taskID)

	p.mu.Lock()
	if p.gen != gen || p.seq != seq {
		current := p.gen == gen
		p.mu.Unlock()
		p.logger.Debug("Discarding stale status response", "task_id", taskID, "seq", seq)
		return current
	}

	if err != nil {
		if ctx.Err() != nil {
			p.mu.Unlock()
			p.cancelled(gen)
			return false
		}
		p.state.Phase = PhaseFailed
		p.state.Err = err
		p.cancel()
		p.cancel = nil
		state := p.state
		p.mu.Unlock()

		p.logger.Warn("Status query failed, polling stopped", "task_id", taskID, "err", err)
		p.emit(gen, state)
		return false
	}

	if prev := p.state.Snapshot; prev != nil && snap.Progress.RegressesFrom(prev.Progress) {
		p.mu.Unlock()
		p.logger.Warn("Discarding out-of-order status snapshot", "task_id", taskID, "status", snap.Status, "progress", snap.Progress)
		return true
	}

	p.state.Snapshot = &snap
	more := true
	switch snap.Status {
	case models.StatusCompleted:
		p.state.Phase = PhaseCompleted
		more = false
	case models.StatusFailed:
		p.state.Phase = PhaseFailed
		p.state.Err = &RemoteRejection{TaskID: taskID, Message: snap.Error}
		more = false
	}
	if !more {
		p.cancel()
		p.cancel = nil
	}
	state := p.state
	p.mu.Unlock()

	if !more {
		p.logger.Info("Task reached terminal state", "task_id", taskID, "status", snap.Status)
	}
	p.emit(gen, state)
	return more
}

// cancelled records a run that ended because its context was cancelled.
// No handler call is made, matching Stop.
func (p *Poller) cancelled(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.haltLocked()
	p.gen++
}

func (p *Poller) emit(gen uint64, s State) {
	if p.handler == nil {
		return
	}
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	current := p.gen == gen
	p.mu.Unlock()
	if !current {
		return
	}

	p.handler(s, p.halt)
}
