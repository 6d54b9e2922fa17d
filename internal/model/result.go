package model

import "fmt"

// SMTPStatus is the outcome of executing one Action.
type SMTPStatus int

const (
	StatusFailed SMTPStatus = iota
	StatusOk
	StatusInitFailed
	StatusAuthFailed
	StatusMessageFailed
)

func (s SMTPStatus) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusOk:
		return "ok"
	case StatusInitFailed:
		return "init_failed"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusMessageFailed:
		return "message_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is produced exactly once per submitted Action.
type Result struct {
	Status SMTPStatus `json:"status"`

	// Message is the server reply or diagnostic text. For
	// KindCreateMessage it holds the composed message.
	Message string `json:"message"`

	// Action is the submitted Action, unchanged.
	Action Action `json:"action"`
}

// Ok reports whether the action succeeded.
func (r Result) Ok() bool {
	return r.Status == StatusOk
}
