package session

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/smtpq/internal/model"
)

func fixedComposer() *Composer {
	c := NewComposer("Alice", "a@x.com")
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestComposePlain(t *testing.T) {
	msg, err := fixedComposer().Compose(model.Action{
		Kind:     model.KindSendMessage,
		To:       "Bob <b@x.com>, c@x.com",
		Bcc:      "hidden@x.com",
		Subject:  "hi",
		Body:     "there",
		RefMsgID: "<orig@x.com>",
	})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", msg.From)
	assert.Equal(t, []string{"b@x.com", "c@x.com", "hidden@x.com"}, msg.Recipients)
	assert.NotEmpty(t, msg.MessageID)

	raw := string(msg.Raw)
	assert.NotContains(t, raw, "hidden@x.com")
	assert.Contains(t, raw, "In-Reply-To: <orig@x.com>")

	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "hi", subject)

	from, err := mr.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "Alice", from[0].Name)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "there", string(body))
}

func TestComposeExplicitFromOverridesIdentity(t *testing.T) {
	msg, err := fixedComposer().Compose(model.Action{
		Kind: model.KindSendMessage,
		From: "Other <o@y.com>",
		To:   "b@x.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "o@y.com", msg.From)
}

func TestComposeRejectsBadAddress(t *testing.T) {
	_, err := fixedComposer().Compose(model.Action{
		Kind: model.KindSendMessage,
		To:   "not an address <<",
	})
	assert.Error(t, err)
}

func TestComposeFlowed(t *testing.T) {
	msg, err := fixedComposer().Compose(model.Action{
		Kind:         model.KindSendMessage,
		To:           "b@x.com",
		Body:         strings.Repeat("flow ", 40),
		FormatFlowed: true,
	})
	require.NoError(t, err)
	assert.Contains(t, string(msg.Raw), "format=flowed")
}

func TestComposeMultipartWithAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("attached text"), 0o600))

	msg, err := fixedComposer().Compose(model.Action{
		Kind:        model.KindSendMessage,
		To:          "b@x.com",
		Subject:     "files",
		Body:        "plain",
		HTMLBody:    "<p>html</p>",
		Attachments: []string{path},
	})
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	require.NoError(t, err)

	var texts []string
	var attachments []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			texts = append(texts, ct)
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			attachments = append(attachments, name)
			data, _ := io.ReadAll(part.Body)
			assert.Equal(t, "attached text", string(data))
		}
	}
	assert.Equal(t, []string{"text/plain", "text/html"}, texts)
	assert.Equal(t, []string{"notes.txt"}, attachments)
}

func TestComposeMissingAttachment(t *testing.T) {
	_, err := fixedComposer().Compose(model.Action{
		Kind:        model.KindSendMessage,
		To:          "b@x.com",
		Attachments: []string{filepath.Join(t.TempDir(), "missing.pdf")},
	})
	assert.Error(t, err)
}

func TestParseRecoversEnvelopeAndStripsBcc(t *testing.T) {
	msg, err := fixedComposer().Compose(model.Action{
		Kind: model.KindCreateMessage,
		To:   "b@x.com",
		Cc:   "c@x.com",
		Body: "draft",
	})
	require.NoError(t, err)
	raw, err := withBcc(msg.Raw, "secret@x.com")
	require.NoError(t, err)
	require.Contains(t, string(raw), "secret@x.com")

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", parsed.From)
	assert.Equal(t, []string{"b@x.com", "c@x.com", "secret@x.com"}, parsed.Recipients)
	assert.Equal(t, msg.MessageID, parsed.MessageID)
	assert.NotContains(t, string(parsed.Raw), "secret@x.com")
	assert.Contains(t, string(parsed.Raw), "draft")
}

func TestParseRejectsMissingFrom(t *testing.T) {
	_, err := Parse([]byte("To: b@x.com\r\n\r\nbody"))
	assert.Error(t, err)
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMIMEType("a.pdf", nil))
	assert.Equal(t, "text/plain", detectMIMEType("noext", []byte("hello world")))
}
