package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/session"
	"github.com/nhle/smtpq/tests/testutil"
)

func TestManagerDeliversThroughSMTP(t *testing.T) {
	srv := testutil.NewSMTPServer(t, testutil.WithRejectedRecipient("nobody@x.com"))
	cfg := model.SMTPConfig{
		Host:      srv.Host,
		Port:      srv.Port,
		Name:      "Alice",
		Address:   "a@x.com",
		Connect:   true,
		TimeoutMs: 5000,
		TLS:       model.TLSNone,
	}

	rec := newRecorder()
	m := New(cfg, session.NewSMTPExecutor(cfg), rec.handlers())
	require.NoError(t, m.Start())

	require.NoError(t, m.AsyncAction(sendAction("hi")))
	require.NoError(t, m.AsyncAction(model.Action{
		Kind: model.KindSendMessage,
		To:   "nobody@x.com",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	created, err := m.SyncAction(ctx, model.Action{
		Kind:    model.KindCreateMessage,
		To:      "c@x.com",
		Subject: "draft",
		Body:    "body",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, created.Status)

	sent, err := m.SyncAction(ctx, model.Action{
		Kind:       model.KindSendCreatedMessage,
		CreatedMsg: []byte(created.Message),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusOk, sent.Status)

	m.Stop()

	results := rec.Results()
	require.Len(t, results, 2)
	assert.Equal(t, model.StatusOk, results[0].Status)
	assert.Equal(t, model.StatusMessageFailed, results[1].Status)

	deliveries := srv.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, []string{"b@x.com"}, deliveries[0].Recipients)
	assert.Equal(t, []string{"c@x.com"}, deliveries[1].Recipients)
	assert.Equal(t, 1, srv.Sessions(), "connected manager reuses one session")
}
