// Package manager queues SMTP actions and executes them one at a time on a
// dedicated worker goroutine.
//
// Callers submit actions with AsyncAction, which returns immediately and
// reports the outcome through Handlers.OnResult, or with SyncAction, which
// blocks until that action's Result is available. Actions run strictly in
// the order their submissions reached the queue.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"sync/atomic"

	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/queue"
	"github.com/nhle/smtpq/internal/session"
	"github.com/nhle/smtpq/internal/status"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrStopped is returned by submissions and Start after Stop.
	ErrStopped = errors.New("manager stopped")

	// ErrInvalidAction is returned for an action whose kind is not valid.
	ErrInvalidAction = errors.New("invalid action")
)

// stoppedBeforeStart is the message of results for actions that were still
// queued when Stop was called on a manager that never started.
const stoppedBeforeStart = "manager stopped before start"

// Handlers receive worker notifications. Both are called from the worker
// goroutine only (or from Stop, for a manager that never started), so
// neither is ever invoked concurrently with itself, but both may run
// concurrently with caller code. A handler must not call
// SyncAction or Stop.
type Handlers struct {
	// OnResult receives the Result of every AsyncAction, and of a
	// SyncAction whose caller stopped waiting.
	OnResult func(model.Result)

	// OnStatus receives every status flag transition.
	OnStatus func(status.Update)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager is the public facade over the action queue and its worker.
type Manager struct {
	cfg      model.SMTPConfig
	exec     session.Executor
	handlers Handlers
	logger   *slog.Logger

	queue *queue.Queue[*entry]
	flags status.Atomic
	state atomic.Int32

	mu      gosync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates an idle manager. cfg is copied and never changes afterwards.
func New(cfg model.SMTPConfig, exec session.Executor, h Handlers, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		exec:     exec,
		handlers: h,
		logger:   slog.Default(),
		queue:    queue.New[*entry](),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "smtp-manager", "address", cfg.Address)
	return m
}

// Start launches the worker. It must be called exactly once.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	go m.run()
	return nil
}

// AsyncAction queues a for execution. The result is delivered later to
// Handlers.OnResult exactly once.
func (m *Manager) AsyncAction(a model.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	return m.push(&entry{action: cloneAction(a)})
}

// SyncAction queues a behind any pending actions and waits for its Result.
// The result is returned here rather than passed to Handlers.OnResult. If
// ctx ends first, SyncAction returns ctx.Err() and the Result, once
// produced, goes to Handlers.OnResult instead.
//
// SyncAction must not be called from a handler: the worker would wait on
// itself.
func (m *Manager) SyncAction(ctx context.Context, a model.Action) (model.Result, error) {
	if err := a.Validate(); err != nil {
		return model.Result{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}

	w := newWaiter()
	if err := m.push(&entry{action: cloneAction(a), reply: w}); err != nil {
		return model.Result{}, err
	}
	return w.wait(ctx)
}

func (m *Manager) push(e *entry) error {
	if err := m.queue.Push(e); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrStopped
		}
		return fmt.Errorf("queueing %s action: %w", e.action.Kind, err)
	}
	return nil
}

// GetAddress returns the configured sender address.
func (m *Manager) GetAddress() string {
	return m.cfg.Address
}

// Status returns the current status flags.
func (m *Manager) Status() status.Flag {
	return m.flags.Load()
}

// State returns the worker state.
func (m *Manager) State() WorkerState {
	return WorkerState(m.state.Load())
}

// Pending returns the number of queued actions not yet picked up.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Stop rejects further submissions, waits for the worker to execute every
// action already queued, and returns once it has exited. No handler runs
// after Stop returns. If the manager was never started, queued actions are
// not executed; each gets a StatusFailed result instead. Stop is safe to
// call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	started := m.started
	m.queue.Close()
	m.mu.Unlock()

	if !started {
		for _, e := range m.queue.Drain() {
			m.deliver(e, model.Result{
				Status:  model.StatusFailed,
				Message: stoppedBeforeStart,
				Action:  e.action,
			})
		}
		m.state.Store(int32(StateStopped))
		close(m.done)
		return
	}

	close(m.stopCh)
	<-m.done

	if c, ok := m.exec.(session.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("closing session", "error", err)
		}
	}
}

// cloneAction copies the slices of a so later changes by the caller do not
// reach the queued action.
func cloneAction(a model.Action) model.Action {
	a.Attachments = slices.Clone(a.Attachments)
	a.CreatedMsg = slices.Clone(a.CreatedMsg)
	return a
}
