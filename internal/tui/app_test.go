package tui

import (
	"errors"
	gosync "sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/smtpq/internal/manager"
	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/status"
)

type fakeSubmitter struct {
	mu      gosync.Mutex
	actions []model.Action
	err     error
}

func (f *fakeSubmitter) AsyncAction(a model.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return f.err
}

func (f *fakeSubmitter) GetAddress() string { return "a@x.com" }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestSubmitThenResult(t *testing.T) {
	sub := &fakeSubmitter{}
	b := NewBridge()
	defer b.Close()
	m := New(sub, b)

	a := model.Action{Kind: model.KindSendMessage, To: "b@x.com", Subject: "hi"}
	m, cmd := update(t, m, ComposeSubmittedMsg{Action: a})
	assert.Equal(t, ViewSending, m.view)
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, []model.Action{a}, sub.actions)
	assert.Contains(t, m.View(), "Sending 1 message")

	m, cmd = update(t, m, ResultMsg{Result: model.Result{Status: model.StatusOk, Message: "accepted", Action: a}})
	assert.Equal(t, ViewIdle, m.view)
	assert.NotNil(t, cmd, "must keep listening for results")
	assert.Contains(t, m.View(), "accepted")
}

func TestSubmitRejected(t *testing.T) {
	sub := &fakeSubmitter{err: manager.ErrStopped}
	b := NewBridge()
	defer b.Close()
	m := New(sub, b)

	m, cmd := update(t, m, ComposeSubmittedMsg{Action: model.Action{Kind: model.KindSendMessage}})
	msg := cmd()
	m, _ = update(t, m, msg)

	assert.Equal(t, ViewIdle, m.view)
	assert.True(t, errors.Is(m.err, manager.ErrStopped))
	assert.Contains(t, m.View(), "manager stopped")
}

func TestStatusMsgUpdatesFlags(t *testing.T) {
	b := NewBridge()
	defer b.Close()
	m := New(&fakeSubmitter{}, b)

	m, _ = update(t, m, StatusMsg{Update: status.Update{Set: status.FlagSending, Flags: status.FlagSending}})
	assert.Equal(t, status.FlagSending, m.flags)
	assert.Contains(t, m.View(), "sending")
}

func TestBridgeForwardsHandlers(t *testing.T) {
	b := NewBridge()
	var seen []model.Result
	h := b.Handlers(manager.Handlers{OnResult: func(r model.Result) { seen = append(seen, r) }})

	r := model.Result{Status: model.StatusOk}
	h.OnResult(r)
	h.OnStatus(status.Update{Flags: status.FlagIdle})

	assert.Equal(t, ResultMsg{Result: r}, b.WaitForResult()())
	assert.Equal(t, StatusMsg{Update: status.Update{Flags: status.FlagIdle}}, b.WaitForStatus()())
	assert.Len(t, seen, 1)

	b.Close()
	// Closed bridges drop callbacks instead of blocking the worker.
	for i := 0; i < 100; i++ {
		h.OnResult(r)
	}
	b.Close()
}

func TestComposeAction(t *testing.T) {
	c := NewCompose(80, 24)
	c.fb.to = " b@x.com "
	c.fb.subject = "s"
	c.fb.attachments = "a.txt, ,b.txt"
	c.fb.flowed = true

	a := c.Action()
	assert.Equal(t, model.KindSendMessage, a.Kind)
	assert.Equal(t, "b@x.com", a.To)
	assert.Equal(t, []string{"a.txt", "b.txt"}, a.Attachments)
	assert.True(t, a.FormatFlowed)
}

func TestValidateAttachments(t *testing.T) {
	assert.NoError(t, validateAttachments(""))
	assert.Error(t, validateAttachments("/definitely/not/here.txt"))
}
