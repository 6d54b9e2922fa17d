package manager

import (
	"context"
	"time"

	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/session"
	"github.com/nhle/smtpq/internal/status"
)

// WorkerState is the lifecycle state of the worker goroutine.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateExecuting
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// busyFlag returns the status bit raised while an action of kind k runs.
func busyFlag(k model.Kind) status.Flag {
	if k == model.KindCreateMessage {
		return status.FlagComposing
	}
	return status.FlagSending
}

// run is the worker loop. It exits once stop is requested and the queue
// has been drained.
func (m *Manager) run() {
	defer close(m.done)
	defer m.state.Store(int32(StateStopped))

	ctx := context.Background()

	if m.cfg.Connect {
		m.connect(ctx)
	}
	m.apply(status.FlagIdle, status.FlagNone)

	for {
		e, ok := m.queue.PopBlocking(m.stopCh)
		if !ok {
			m.apply(status.FlagNone, status.FlagIdle)
			m.logger.Debug("worker stopped")
			return
		}
		m.process(ctx, e)
	}
}

// connect opens the session ahead of the first action when the executor
// supports it.
func (m *Manager) connect(ctx context.Context) {
	c, ok := m.exec.(session.Connector)
	if !ok {
		return
	}

	m.apply(status.FlagConnecting, status.FlagNone)
	err := c.Connect(ctx)
	if err != nil {
		m.logger.Warn("connecting on start", "error", err)
		m.apply(status.FlagOffline, status.FlagConnecting)
		return
	}
	m.apply(status.FlagNone, status.FlagConnecting|status.FlagOffline)
}

func (m *Manager) process(ctx context.Context, e *entry) {
	m.state.Store(int32(StateExecuting))
	defer m.state.Store(int32(StateIdle))

	a := e.action
	busy := busyFlag(a.Kind)
	m.apply(busy, status.FlagIdle)

	start := time.Now()
	msg, err := m.exec.Execute(ctx, a)

	r := model.Result{Status: model.StatusOk, Message: msg, Action: a}
	if err != nil {
		r.Status = session.StatusOf(err)
		r.Message = err.Error()
		m.logger.Warn("action failed",
			"kind", a.Kind,
			"status", r.Status,
			"error", err,
		)
	} else {
		m.logger.Debug("action done",
			"kind", a.Kind,
			"elapsed", time.Since(start),
		)
	}

	raise, lower := status.FlagIdle, busy
	if a.Kind != model.KindCreateMessage {
		// Only actions that reach the network say anything about
		// connectivity.
		if r.Status == model.StatusInitFailed {
			raise |= status.FlagOffline
		} else {
			lower |= status.FlagOffline
		}
	}
	m.apply(raise, lower)

	m.deliver(e, r)
}

// apply updates the flags and notifies the status handler when anything
// changed.
func (m *Manager) apply(raise, lower status.Flag) {
	u := m.flags.Apply(raise, lower)
	if !u.Changed() || m.handlers.OnStatus == nil {
		return
	}
	m.handlers.OnStatus(u)
}

// deliver routes r to the SyncAction caller waiting on e, or to the result
// handler.
func (m *Manager) deliver(e *entry, r model.Result) {
	if e.reply != nil && e.reply.complete(r) {
		return
	}
	if m.handlers.OnResult != nil {
		m.handlers.OnResult(r)
	}
}
