package model

import (
	"errors"
	"fmt"
)

// Kind selects which operation an Action requests. Exactly one kind is
// active per Action; the zero value is not a valid request.
type Kind int

const (
	KindUnknown Kind = iota
	KindSendMessage
	KindCreateMessage
	KindSendCreatedMessage
)

// ErrInvalidKind is returned by Action.Validate for an unknown kind.
var ErrInvalidKind = errors.New("invalid action kind")

// Valid reports whether k names a known operation.
func (k Kind) Valid() bool {
	return k >= KindSendMessage && k <= KindSendCreatedMessage
}

func (k Kind) String() string {
	switch k {
	case KindSendMessage:
		return "send_message"
	case KindCreateMessage:
		return "create_message"
	case KindSendCreatedMessage:
		return "send_created_message"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action describes one requested SMTP operation. Fields that do not apply
// to Kind are carried through the queue untouched.
type Action struct {
	Kind Kind `json:"kind"`

	// From, To, Cc and Bcc are comma separated address lists as entered
	// by the user, e.g. "Jane <jane@example.com>, bob@example.com".
	From string `json:"from"`
	To   string `json:"to"`
	Cc   string `json:"cc"`
	Bcc  string `json:"bcc"`

	// Attachments holds file paths to attach.
	Attachments []string `json:"attachments,omitempty"`

	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`

	// RefMsgID is the Message-ID being replied to, without angle brackets.
	RefMsgID string `json:"ref_msg_id,omitempty"`

	ComposeTempDir  string `json:"compose_temp_dir,omitempty"`
	ComposeDraftUID uint32 `json:"compose_draft_uid,omitempty"`

	// CreatedMsg is a complete RFC 5322 message produced by an earlier
	// KindCreateMessage action.
	CreatedMsg []byte `json:"created_msg,omitempty"`

	FormatFlowed bool `json:"format_flowed"`
}

// Validate checks the discriminant. Content is left to the executor.
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidKind, a.Kind)
	}
	return nil
}
