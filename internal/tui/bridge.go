package tui

import (
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/smtpq/internal/manager"
	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/status"
)

// ResultMsg is a tea.Msg carrying a manager result.
type ResultMsg struct {
	Result model.Result
}

// StatusMsg is a tea.Msg carrying a status flag transition.
type StatusMsg struct {
	Update status.Update
}

// Bridge forwards manager callbacks into the Bubble Tea runtime. The
// manager's worker blocks on a full channel until the program reads or
// the bridge is closed.
type Bridge struct {
	results chan model.Result
	updates chan status.Update
	done    chan struct{}
	once    gosync.Once
}

// NewBridge creates a bridge with small buffers.
func NewBridge() *Bridge {
	return &Bridge{
		results: make(chan model.Result, 16),
		updates: make(chan status.Update, 16),
		done:    make(chan struct{}),
	}
}

// Handlers returns manager handlers that publish to the bridge.
func (b *Bridge) Handlers(next manager.Handlers) manager.Handlers {
	return manager.Handlers{
		OnResult: func(r model.Result) {
			if next.OnResult != nil {
				next.OnResult(r)
			}
			select {
			case b.results <- r:
			case <-b.done:
			}
		},
		OnStatus: func(u status.Update) {
			if next.OnStatus != nil {
				next.OnStatus(u)
			}
			select {
			case b.updates <- u:
			case <-b.done:
			}
		},
	}
}

// WaitForResult returns a tea.Cmd that waits for the next result. It must
// be re-issued after each ResultMsg to keep listening.
func (b *Bridge) WaitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case r := <-b.results:
			return ResultMsg{Result: r}
		case <-b.done:
			return nil
		}
	}
}

// WaitForStatus returns a tea.Cmd that waits for the next status update.
func (b *Bridge) WaitForStatus() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-b.updates:
			return StatusMsg{Update: u}
		case <-b.done:
			return nil
		}
	}
}

// Close releases any worker blocked on the bridge. Later callbacks are
// dropped.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}
