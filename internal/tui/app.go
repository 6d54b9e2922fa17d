// Package tui is the terminal front end: a compose form that submits
// actions to the manager and a status view that follows them.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/smtpq/internal/keys"
	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/status"
	"github.com/nhle/smtpq/internal/theme"
)

// Submitter is the part of the manager the UI drives.
type Submitter interface {
	AsyncAction(a model.Action) error
	GetAddress() string
}

// ViewState represents the current active view.
type ViewState int

const (
	ViewCompose ViewState = iota
	ViewSending
	ViewIdle
)

// submitErrMsg reports a submission rejected by the manager.
type submitErrMsg struct {
	err error
}

// Model is the root Bubble Tea model.
type Model struct {
	sub     Submitter
	bridge  *Bridge
	keys    *keys.KeyMap
	compose ComposeModel
	spinner spinner.Model

	view    ViewState
	flags   status.Flag
	pending int
	last    *model.Result
	err     error
	width   int
	height  int
}

// New creates the root model.
func New(sub Submitter, bridge *Bridge) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		sub:     sub,
		bridge:  bridge,
		keys:    keys.DefaultKeyMap(),
		compose: NewCompose(80, 24),
		spinner: sp,
		view:    ViewCompose,
	}
}

// Init starts the compose form and subscribes to manager events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.compose.Start(),
		m.bridge.WaitForResult(),
		m.bridge.WaitForStatus(),
		m.spinner.Tick,
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.compose.SetSize(msg.Width, msg.Height)
		if m.view == ViewCompose {
			return m.updateCompose(msg)
		}
		return m, nil

	case ComposeSubmittedMsg:
		m.view = ViewSending
		m.pending++
		m.err = nil
		return m, m.submit(msg.Action)

	case ComposeCancelMsg:
		m.view = m.restingView()
		return m, nil

	case submitErrMsg:
		m.pending--
		m.err = msg.err
		m.view = m.restingView()
		return m, nil

	case ResultMsg:
		r := msg.Result
		m.last = &r
		if m.pending > 0 {
			m.pending--
		}
		m.view = m.restingView()
		return m, m.bridge.WaitForResult()

	case StatusMsg:
		m.flags = msg.Update.Flags
		return m, m.bridge.WaitForStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.view == ViewCompose {
			return m.updateCompose(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Compose):
			m.view = ViewCompose
			return m, m.compose.Start()
		}
		return m, nil
	}

	if m.view == ViewCompose {
		return m.updateCompose(msg)
	}
	return m, nil
}

func (m Model) updateCompose(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.compose, cmd = m.compose.Update(msg)
	return m, cmd
}

// restingView is where the UI settles once the form is closed.
func (m Model) restingView() ViewState {
	if m.pending > 0 {
		return ViewSending
	}
	return ViewIdle
}

func (m Model) submit(a model.Action) tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		if err := sub.AsyncAction(a); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

// View renders the active view with header and status bar.
func (m Model) View() string {
	var body string
	switch m.view {
	case ViewCompose:
		body = m.compose.View()
	case ViewSending:
		body = theme.PanelStyle.Render(fmt.Sprintf(
			"%s Sending %d message(s)...", m.spinner.View(), m.pending,
		))
	default:
		body = m.resultView()
	}

	header := theme.HeaderStyle.Render("smtpq · " + m.sub.GetAddress())
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.statusBar())
}

func (m Model) resultView() string {
	if m.err != nil {
		return theme.PanelStyle.Render(
			theme.ResultStyle("failed").Render("rejected") + " " + m.err.Error(),
		)
	}
	if m.last == nil {
		return theme.PanelStyle.Render(theme.HelpStyle.Render("Nothing sent yet."))
	}
	r := m.last
	lines := []string{
		theme.ResultStyle(r.Status.String()).Render(r.Status.String()) + " " + r.Action.Subject,
		r.Message,
	}
	return theme.PanelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) statusBar() string {
	offline := status.Get(m.flags, status.FlagOffline)
	busy := status.Get(m.flags, status.FlagSending|status.FlagConnecting|status.FlagComposing)
	flags := theme.FlagStyle(offline, busy).Render(m.flags.String())

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		hints = append(hints, b.Help().Key+" "+b.Help().Desc)
	}
	return theme.StatusBarStyle.Render(flags + "  " + theme.HelpStyle.Render(strings.Join(hints, " · ")))
}
