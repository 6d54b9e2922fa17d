package testutil

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Delivery is one message accepted by a SMTPServer.
type Delivery struct {
	From       string
	Recipients []string
	Data       []byte
}

// SMTPServer is an in-process SMTP server recording every delivery.
type SMTPServer struct {
	Host string
	Port int

	// User and Pass, when set, are the only accepted PLAIN credentials.
	User string
	Pass string

	// RejectRcpt makes RCPT TO fail for that address.
	RejectRcpt string

	// ClientTLS trusts the server certificate when TLS is enabled.
	ClientTLS *tls.Config

	tlsMode string
	pair    TLSPair

	mu         gosync.Mutex
	deliveries []Delivery
	sessions   int
	secure     []bool
}

// SMTPServerOption configures a SMTPServer before it starts serving.
type SMTPServerOption func(*SMTPServer)

// WithCredentials requires PLAIN authentication with user and pass.
func WithCredentials(user, pass string) SMTPServerOption {
	return func(s *SMTPServer) { s.User, s.Pass = user, pass }
}

// WithRejectedRecipient makes RCPT TO fail for addr.
func WithRejectedRecipient(addr string) SMTPServerOption {
	return func(s *SMTPServer) { s.RejectRcpt = addr }
}

// WithStartTLS advertises STARTTLS with a self-signed certificate.
func WithStartTLS() SMTPServerOption {
	return func(s *SMTPServer) { s.tlsMode = "starttls" }
}

// WithImplicitTLS serves TLS from the first byte with a self-signed
// certificate.
func WithImplicitTLS() SMTPServerOption {
	return func(s *SMTPServer) { s.tlsMode = "implicit" }
}

// NewSMTPServer starts a server on a random loopback port and
// stops it when the test completes.
func NewSMTPServer(t *testing.T, opts ...SMTPServerOption) *SMTPServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}

	s := &SMTPServer{}
	for _, opt := range opts {
		opt(s)
	}
	if s.tlsMode != "" {
		s.pair = NewTLSPair(t)
		s.ClientTLS = s.pair.Client
	}
	host, port, _ := net.SplitHostPort(l.Addr().String())
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	srv := smtp.NewServer(s)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second

	switch s.tlsMode {
	case "starttls":
		srv.TLSConfig = s.pair.Server
	case "implicit":
		l = tls.NewListener(l, s.pair.Server)
	}

	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return s
}

// Deliveries returns a copy of the accepted messages.
func (s *SMTPServer) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Sessions returns the number of connections opened so far.
func (s *SMTPServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Secure reports, per delivery, whether the message arrived over TLS.
func (s *SMTPServer) Secure() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.secure...)
}

// NewSession implements smtp.Backend.
func (s *SMTPServer) NewSession(c *smtp.Conn) (smtp.Session, error) {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
	return &smtpSession{srv: s, conn: c}, nil
}

type smtpSession struct {
	srv    *SMTPServer
	conn   *smtp.Conn
	authed bool
	from   string
	rcpts  []string
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.srv.User || password != s.srv.Pass {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	if s.srv.User != "" && !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if to == s.srv.RejectRcpt {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "no such user",
		}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, secure := s.conn.TLSConnectionState()
	s.srv.mu.Lock()
	s.srv.secure = append(s.srv.secure, secure)
	s.srv.deliveries = append(s.srv.deliveries, Delivery{
		From:       s.from,
		Recipients: append([]string(nil), s.rcpts...),
		Data:       data,
	})
	s.srv.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *smtpSession) Logout() error {
	return nil
}
