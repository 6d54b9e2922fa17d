package tui

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/theme"
)

// ComposeSubmittedMsg is dispatched when the compose form is completed.
type ComposeSubmittedMsg struct {
	Action model.Action
}

// ComposeCancelMsg is dispatched when the user aborts the form.
type ComposeCancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	to          string
	cc          string
	bcc         string
	subject     string
	body        string
	attachments string
	flowed      bool
}

// ComposeModel is the Bubble Tea model for the message form.
type ComposeModel struct {
	form   *huh.Form
	fb     *formBindings
	width  int
	height int
}

// NewCompose creates an empty compose form.
func NewCompose(width, height int) ComposeModel {
	return ComposeModel{
		fb:     &formBindings{flowed: true},
		width:  width,
		height: height,
	}
}

// Start resets the fields and builds a fresh form.
func (m *ComposeModel) Start() tea.Cmd {
	*m.fb = formBindings{flowed: true}
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("To").
				Placeholder("name@example.com, ...").
				Value(&m.fb.to).
				Validate(validateRequired("To")),
			huh.NewInput().Title("Cc").Value(&m.fb.cc),
			huh.NewInput().Title("Bcc").Value(&m.fb.bcc),
			huh.NewInput().Title("Subject").Value(&m.fb.subject),
			huh.NewText().Title("Body").Value(&m.fb.body),
			huh.NewInput().
				Title("Attachments").
				Placeholder("comma separated paths (optional)").
				Value(&m.fb.attachments).
				Validate(validateAttachments),
			huh.NewConfirm().
				Title("Wrap lines (format=flowed)?").
				Value(&m.fb.flowed),
		),
	).WithWidth(m.formWidth())
	return m.form.Init()
}

// Update handles messages for the form.
func (m ComposeModel) Update(msg tea.Msg) (ComposeModel, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		a := m.Action()
		m.form = nil
		return m, func() tea.Msg { return ComposeSubmittedMsg{Action: a} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return ComposeCancelMsg{} }
	}

	return m, cmd
}

// Action builds a send action from the current field values.
func (m ComposeModel) Action() model.Action {
	return model.Action{
		Kind:         model.KindSendMessage,
		To:           strings.TrimSpace(m.fb.to),
		Cc:           strings.TrimSpace(m.fb.cc),
		Bcc:          strings.TrimSpace(m.fb.bcc),
		Subject:      m.fb.subject,
		Body:         m.fb.body,
		Attachments:  splitPaths(m.fb.attachments),
		FormatFlowed: m.fb.flowed,
	}
}

// View renders the form.
func (m ComposeModel) View() string {
	if m.form == nil {
		return ""
	}
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(titleStyle.Render("New Message") + "\n" + m.form.View())
}

// SetSize updates the form dimensions.
func (m *ComposeModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m ComposeModel) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAttachments(s string) error {
	for _, p := range splitPaths(s) {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("attachment %s: %w", p, err)
		}
	}
	return nil
}
