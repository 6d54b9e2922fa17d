// Package flag holds the per-message flag bitmask stored alongside
// composed and delivered messages.
package flag

import "github.com/emersion/go-imap/v2"

// Message is a bitmask of message-level flags.
type Message uint32

const (
	Seen     Message = 1 << 0
	Answered Message = 1 << 1
	Flagged  Message = 1 << 2
	Draft    Message = 1 << 3
)

// GetSeen reports whether the Seen bit is set.
func GetSeen(f Message) bool {
	return f&Seen != 0
}

// SetSeen sets or clears the Seen bit in place.
func SetSeen(f *Message, seen bool) {
	set(f, Seen, seen)
}

// SetDraft sets or clears the Draft bit in place.
func SetDraft(f *Message, draft bool) {
	set(f, Draft, draft)
}

func set(f *Message, bit Message, enabled bool) {
	if enabled {
		*f |= bit
	} else {
		*f &^= bit
	}
}

// IMAP converts the mask to the system flags used in APPEND and STORE.
func (f Message) IMAP() []imap.Flag {
	var out []imap.Flag
	if f&Seen != 0 {
		out = append(out, imap.FlagSeen)
	}
	if f&Answered != 0 {
		out = append(out, imap.FlagAnswered)
	}
	if f&Flagged != 0 {
		out = append(out, imap.FlagFlagged)
	}
	if f&Draft != 0 {
		out = append(out, imap.FlagDraft)
	}
	return out
}
