// Package sentbox files delivered messages into the account's IMAP Sent
// mailbox.
package sentbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/smtpq/internal/flag"
	"github.com/nhle/smtpq/internal/model"
)

// Appender APPENDs messages to a mailbox over IMAP.
type Appender struct {
	cfg       model.IMAPConfig
	mode      string
	tlsConfig *tls.Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Appender.
type Option func(*Appender)

// WithTLSConfig overrides the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(a *Appender) { a.tlsConfig = cfg }
}

// New returns an Appender for cfg. In auto mode port 993 uses implicit TLS
// and any other port upgrades with STARTTLS.
func New(cfg model.IMAPConfig, logger *slog.Logger, opts ...Option) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Appender{
		cfg:    cfg,
		mode:   tlsMode(cfg),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tlsConfig == nil {
		a.tlsConfig = &tls.Config{ServerName: cfg.Host}
	}
	return a
}

func tlsMode(cfg model.IMAPConfig) string {
	if cfg.TLS != "" && cfg.TLS != model.TLSAuto {
		return cfg.TLS
	}
	if cfg.Port == 993 {
		return model.TLSImplicit
	}
	return model.TLSStartTLS
}

func (a *Appender) connect(ctx context.Context, conn net.Conn) (*imapclient.Client, error) {
	opts := &imapclient.Options{TLSConfig: a.tlsConfig}

	switch a.mode {
	case model.TLSImplicit:
		tlsConn := tls.Client(conn, a.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("TLS handshake: %w", err)
		}
		return imapclient.New(tlsConn, opts), nil
	case model.TLSStartTLS:
		client, err := imapclient.NewStartTLS(conn, opts)
		if err != nil {
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
		return client, nil
	default:
		return imapclient.New(conn, opts), nil
	}
}

// Append stores raw in the Sent mailbox with the \Seen flag. The whole
// exchange ends when ctx does or after the configured timeout, whichever
// comes first.
func (a *Appender) Append(ctx context.Context, raw []byte) error {
	if timeout := a.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := a.cfg.Addr()
	dialer := &net.Dialer{Timeout: a.cfg.Timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	// Closing the socket unblocks every pending command.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	err = a.append(ctx, conn, raw)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return err
}

func (a *Appender) append(ctx context.Context, conn net.Conn, raw []byte) error {
	client, err := a.connect(ctx, conn)
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", a.cfg.Addr(), err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(a.cfg.User, a.cfg.Pass).Wait(); err != nil {
		return fmt.Errorf("IMAP login for %s: %w", a.cfg.User, err)
	}

	var flags flag.Message
	flag.SetSeen(&flags, true)

	cmd := client.Append(a.cfg.SentFolder, int64(len(raw)), &imap.AppendOptions{
		Flags: flags.IMAP(),
		Time:  a.now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("writing message to %s: %w", a.cfg.SentFolder, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("appending to %s: %w", a.cfg.SentFolder, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", a.cfg.SentFolder, err)
	}
	return nil
}

// SentFunc adapts Append to the executor's post-delivery hook. Failures
// are logged and never affect the delivery result.
func (a *Appender) SentFunc() func(ctx context.Context, raw []byte) {
	return func(ctx context.Context, raw []byte) {
		if err := a.Append(ctx, raw); err != nil {
			a.logger.Warn("copying message to sent folder",
				"mailbox", a.cfg.SentFolder,
				"error", err,
			)
		}
	}
}
