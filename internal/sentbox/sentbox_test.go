package sentbox

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/tests/testutil"
)

const rawMessage = "From: a@x.com\r\nTo: b@x.com\r\nSubject: hi\r\n\r\nthere\r\n"

// memIMAP starts an in-memory IMAP server holding user alice with a Sent
// mailbox. A non-nil pair enables STARTTLS, or TLS from the first byte when
// implicit is set.
func memIMAP(t *testing.T, pair *testutil.TLSPair, implicit bool) (*imapmemserver.User, int) {
	t.Helper()

	user := imapmemserver.NewUser("alice", "s3cret")
	require.NoError(t, user.Create("Sent", nil))
	mem := imapmemserver.New()
	mem.AddUser(user)

	opts := &imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIMAP4rev2: {}},
		InsecureAuth: true,
	}
	if pair != nil && !implicit {
		opts.TLSConfig = pair.Server
	}
	srv := imapserver.New(opts)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	if implicit {
		l = tls.NewListener(l, pair.Server)
	}

	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return user, port
}

func sentStatus(t *testing.T, user *imapmemserver.User) (messages, unseen uint32) {
	t.Helper()
	data, err := user.Status("Sent", &imap.StatusOptions{NumMessages: true, NumUnseen: true})
	require.NoError(t, err)
	return *data.NumMessages, *data.NumUnseen
}

func TestTLSMode(t *testing.T) {
	assert.Equal(t, model.TLSImplicit, tlsMode(model.IMAPConfig{Port: 993}))
	assert.Equal(t, model.TLSStartTLS, tlsMode(model.IMAPConfig{Port: 143}))
	assert.Equal(t, model.TLSStartTLS, tlsMode(model.IMAPConfig{Port: 143, TLS: model.TLSAuto}))
	assert.Equal(t, model.TLSNone, tlsMode(model.IMAPConfig{Port: 993, TLS: model.TLSNone}))
}

func TestAppendStoresSeenMessage(t *testing.T) {
	pair := testutil.NewTLSPair(t)

	tests := []struct {
		name     string
		pair     *testutil.TLSPair
		implicit bool
		mode     string
	}{
		{name: "plaintext", mode: model.TLSNone},
		{name: "starttls", pair: &pair, mode: model.TLSStartTLS},
		{name: "implicit", pair: &pair, implicit: true, mode: model.TLSImplicit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, port := memIMAP(t, tt.pair, tt.implicit)

			a := New(model.IMAPConfig{
				Host: "127.0.0.1", Port: port, User: "alice", Pass: "s3cret",
				SentFolder: "Sent", TLS: tt.mode, TimeoutMs: 5000,
			}, nil, WithTLSConfig(pair.Client))

			require.NoError(t, a.Append(context.Background(), []byte(rawMessage)))

			messages, unseen := sentStatus(t, user)
			assert.Equal(t, uint32(1), messages)
			assert.Equal(t, uint32(0), unseen)
		})
	}
}

func TestAppendBadLogin(t *testing.T) {
	user, port := memIMAP(t, nil, false)

	a := New(model.IMAPConfig{
		Host: "127.0.0.1", Port: port, User: "alice", Pass: "wrong",
		SentFolder: "Sent", TLS: model.TLSNone, TimeoutMs: 5000,
	}, nil)

	err := a.Append(context.Background(), []byte(rawMessage))
	assert.ErrorContains(t, err, "IMAP login")

	messages, _ := sentStatus(t, user)
	assert.Zero(t, messages)
}

func TestAppendUnreachableServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	a := New(model.IMAPConfig{Host: "127.0.0.1", Port: port, SentFolder: "Sent", TimeoutMs: 1000}, nil)
	err = a.Append(context.Background(), []byte("Subject: x\r\n\r\nbody"))
	assert.ErrorContains(t, err, "127.0.0.1:"+strconv.Itoa(port))

	// The hook swallows the failure.
	a.SentFunc()(context.Background(), []byte("x"))
}

func TestAppendSilentServerTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	for _, mode := range []string{model.TLSNone, model.TLSStartTLS, model.TLSImplicit} {
		t.Run(mode, func(t *testing.T) {
			a := New(model.IMAPConfig{
				Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port,
				User: "alice", Pass: "s3cret", SentFolder: "Sent",
				TLS: mode, TimeoutMs: 300,
			}, nil)

			errCh := make(chan error, 1)
			go func() { errCh <- a.Append(context.Background(), []byte(rawMessage)) }()

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			case <-time.After(3 * time.Second):
				t.Fatal("Append ignored the 300ms timeout")
			}
		})
	}
}

func TestAppendHonorsCallerContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := l.Accept(); err == nil {
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	})

	a := New(model.IMAPConfig{
		Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port,
		SentFolder: "Sent", TLS: model.TLSNone, TimeoutMs: 60000,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = a.Append(ctx, []byte(rawMessage))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}
