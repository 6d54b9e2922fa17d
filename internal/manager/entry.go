package manager

import (
	"context"
	gosync "sync"

	"github.com/nhle/smtpq/internal/model"
)

// entry is one queued action. reply is set for SyncAction submissions.
type entry struct {
	action model.Action
	reply  *waiter
}

// waiter is the one-shot completion handed from the worker to a
// SyncAction caller. Once the caller gives up, the worker routes the
// result to the result handler instead.
type waiter struct {
	mu        gosync.Mutex
	done      chan struct{}
	result    model.Result
	delivered bool
	abandoned bool
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

// complete hands r to the waiting caller. It returns false if the caller
// already stopped waiting.
func (w *waiter) complete(r model.Result) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.abandoned {
		return false
	}
	w.result = r
	w.delivered = true
	close(w.done)
	return true
}

func (w *waiter) wait(ctx context.Context) (model.Result, error) {
	select {
	case <-w.done:
		return w.result, nil
	case <-ctx.Done():
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.delivered {
		return w.result, nil
	}
	w.abandoned = true
	return model.Result{}, ctx.Err()
}
