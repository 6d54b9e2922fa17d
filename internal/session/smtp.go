package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/smtpq/internal/model"
)

// helloName is the EHLO domain announced to the server.
const helloName = "localhost"

// SentFunc receives every message the server accepted.
type SentFunc func(ctx context.Context, raw []byte)

// SMTPExecutor executes actions over go-smtp. With Connect set the session
// is kept open between actions and re-dialed when it goes stale; otherwise
// every action dials, submits and quits.
type SMTPExecutor struct {
	cfg       model.SMTPConfig
	composer  *Composer
	logger    *slog.Logger
	tlsConfig *tls.Config
	onSent    SentFunc

	client   *smtp.Client
	startTLS bool
}

// ExecutorOption configures an SMTPExecutor.
type ExecutorOption func(*SMTPExecutor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *SMTPExecutor) { e.logger = logger }
}

// WithTLSConfig overrides the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) ExecutorOption {
	return func(e *SMTPExecutor) { e.tlsConfig = cfg }
}

// WithSentFunc registers a callback run after each accepted message.
func WithSentFunc(fn SentFunc) ExecutorOption {
	return func(e *SMTPExecutor) { e.onSent = fn }
}

// NewSMTPExecutor returns an executor for the given account.
func NewSMTPExecutor(cfg model.SMTPConfig, opts ...ExecutorOption) *SMTPExecutor {
	e := &SMTPExecutor{
		cfg:      cfg,
		composer: NewComposer(cfg.Name, cfg.Address),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tlsConfig == nil {
		e.tlsConfig = &tls.Config{ServerName: cfg.Host}
	}
	return e
}

// Execute performs a.
func (e *SMTPExecutor) Execute(ctx context.Context, a model.Action) (string, error) {
	switch a.Kind {
	case model.KindCreateMessage:
		msg, err := e.composer.Compose(a)
		if err != nil {
			return "", newError(model.StatusMessageFailed, "compose", err)
		}
		raw, err := withBcc(msg.Raw, a.Bcc)
		if err != nil {
			return "", newError(model.StatusMessageFailed, "compose", err)
		}
		return string(raw), nil

	case model.KindSendMessage:
		msg, err := e.composer.Compose(a)
		if err != nil {
			return "", newError(model.StatusMessageFailed, "compose", err)
		}
		return e.deliver(ctx, msg)

	case model.KindSendCreatedMessage:
		msg, err := Parse(a.CreatedMsg)
		if err != nil {
			return "", newError(model.StatusMessageFailed, "parse", err)
		}
		return e.deliver(ctx, msg)

	default:
		return "", newError(model.StatusFailed, "execute", model.ErrInvalidKind)
	}
}

// Connect opens the persistent session in advance.
func (e *SMTPExecutor) Connect(ctx context.Context) error {
	_, err := e.session(ctx)
	return err
}

// Close quits the persistent session, if any.
func (e *SMTPExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	c := e.client
	e.client = nil
	if err := c.Quit(); err != nil {
		_ = c.Close()
		return fmt.Errorf("closing smtp session: %w", err)
	}
	return nil
}

func (e *SMTPExecutor) deliver(ctx context.Context, msg *Message) (string, error) {
	if len(msg.Recipients) == 0 {
		return "", newError(model.StatusMessageFailed, "envelope", errors.New("no recipients"))
	}

	c, err := e.session(ctx)
	if err != nil {
		return "", err
	}

	if err := e.submit(c, msg); err != nil {
		e.abort(c, err)
		return "", err
	}

	if e.cfg.Connect {
		e.client = c
	} else if err := c.Quit(); err != nil {
		e.logger.Debug("smtp quit failed", "error", err)
		_ = c.Close()
	}

	e.logger.Debug("message accepted",
		"message_id", msg.MessageID,
		"recipients", len(msg.Recipients),
	)
	if e.onSent != nil {
		e.afterSend(ctx, msg.Raw)
	}

	return fmt.Sprintf("message %s accepted for %d recipient(s)", msg.MessageID, len(msg.Recipients)), nil
}

// afterSend runs the post-delivery hook on the worker, bounded by the
// configured timeout.
func (e *SMTPExecutor) afterSend(ctx context.Context, raw []byte) {
	if timeout := e.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	e.onSent(ctx, raw)
}

func (e *SMTPExecutor) submit(c *smtp.Client, msg *Message) error {
	if err := c.Mail(msg.From, nil); err != nil {
		return newError(model.StatusMessageFailed, "MAIL FROM", err)
	}
	for _, rcpt := range msg.Recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return newError(model.StatusMessageFailed, "RCPT TO "+rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return newError(model.StatusMessageFailed, "DATA", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		_ = w.Close()
		return newError(model.StatusMessageFailed, "writing message", err)
	}
	if err := w.Close(); err != nil {
		return newError(model.StatusMessageFailed, "DATA", err)
	}
	return nil
}

// session returns a ready client, reusing the persistent one while it
// still answers NOOP.
func (e *SMTPExecutor) session(ctx context.Context) (*smtp.Client, error) {
	if e.client != nil {
		c := e.client
		e.client = nil
		if err := c.Noop(); err == nil {
			return c, nil
		}
		e.logger.Debug("smtp session went stale, reconnecting")
		_ = c.Close()
	}

	c, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	if e.cfg.Connect {
		e.client = c
	}
	return c, nil
}

// abort ends a failed transaction. A persistent session survives a plain
// server rejection; anything else closes the connection.
func (e *SMTPExecutor) abort(c *smtp.Client, err error) {
	var smtpErr *smtp.SMTPError
	if e.cfg.Connect && errors.As(err, &smtpErr) && c.Reset() == nil {
		e.client = c
		return
	}
	e.drop(c)
}

func (e *SMTPExecutor) drop(c *smtp.Client) {
	if e.client == c {
		e.client = nil
	}
	_ = c.Close()
}

func (e *SMTPExecutor) tlsMode() string {
	if e.cfg.TLS == model.TLSAuto || e.cfg.TLS == "" {
		if e.cfg.Port == 465 {
			return model.TLSImplicit
		}
		if e.startTLS {
			return model.TLSStartTLS
		}
		return model.TLSAuto
	}
	return e.cfg.TLS
}

// dial opens an authenticated session. In auto mode a server that offers
// STARTTLS is dialed again with the upgrade, since go-smtp only upgrades a
// fresh connection; the answer is remembered for later sessions.
func (e *SMTPExecutor) dial(ctx context.Context) (*smtp.Client, error) {
	mode := e.tlsMode()
	c, err := e.open(ctx, mode)
	if err != nil {
		return nil, err
	}

	if mode == model.TLSAuto {
		if ok, _ := c.Extension("STARTTLS"); ok {
			e.quit(c)
			e.startTLS = true
			mode = model.TLSStartTLS
			if c, err = e.open(ctx, mode); err != nil {
				return nil, err
			}
		}
	}

	if e.cfg.User != "" {
		auth := sasl.NewPlainClient("", e.cfg.User, e.cfg.Pass)
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return nil, newError(model.StatusAuthFailed, "AUTH", err)
		}
	}

	e.logger.Debug("smtp session established", "addr", e.cfg.Addr(), "tls", mode)
	return c, nil
}

// open connects, negotiates TLS for mode and completes EHLO. Every step is
// bounded by the configured timeout.
func (e *SMTPExecutor) open(ctx context.Context, mode string) (*smtp.Client, error) {
	addr := e.cfg.Addr()
	timeout := e.cfg.Timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := &net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(model.StatusInitFailed, "dial "+addr, err)
	}
	var conn net.Conn = boundedConn{Conn: raw, limit: timeout}

	var c *smtp.Client
	switch mode {
	case model.TLSImplicit:
		tlsConn := tls.Client(conn, e.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, newError(model.StatusInitFailed, "TLS handshake", err)
		}
		c = smtp.NewClient(tlsConn)
	case model.TLSStartTLS:
		// NewClientStartTLS closes conn on failure.
		c, err = smtp.NewClientStartTLS(conn, e.tlsConfig)
		if err != nil {
			return nil, newError(model.StatusInitFailed, "STARTTLS", err)
		}
	default:
		c = smtp.NewClient(conn)
	}
	if timeout > 0 {
		c.CommandTimeout = timeout
		c.SubmissionTimeout = timeout
	}

	if err := c.Hello(helloName); err != nil {
		_ = c.Close()
		return nil, newError(model.StatusInitFailed, "EHLO", err)
	}
	return c, nil
}

func (e *SMTPExecutor) quit(c *smtp.Client) {
	if err := c.Quit(); err != nil {
		_ = c.Close()
	}
}

// boundedConn caps every deadline the SMTP client sets at limit from now.
// Clients built by go-smtp helpers start with five minute timeouts.
type boundedConn struct {
	net.Conn
	limit time.Duration
}

func (c boundedConn) clamp(t time.Time) time.Time {
	if c.limit <= 0 || t.IsZero() {
		return t
	}
	if bound := time.Now().Add(c.limit); t.After(bound) {
		return bound
	}
	return t
}

func (c boundedConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(c.clamp(t))
}

func (c boundedConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(c.clamp(t))
}

func (c boundedConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(c.clamp(t))
}
