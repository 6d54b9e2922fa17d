package flag

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
)

func TestSeen(t *testing.T) {
	var f Message
	assert.False(t, GetSeen(f))

	SetSeen(&f, true)
	assert.True(t, GetSeen(f))

	SetDraft(&f, true)
	SetSeen(&f, false)
	assert.False(t, GetSeen(f))
	assert.Equal(t, Draft, f)
}

func TestIMAP(t *testing.T) {
	f := Seen | Answered
	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagAnswered}, f.IMAP())
	assert.Empty(t, Message(0).IMAP())
}
