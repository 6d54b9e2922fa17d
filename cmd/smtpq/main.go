// Command smtpq submits mail through a queued SMTP session.
//
// Usage:
//
//	smtpq send --to addr --subject text --body text [flags]
//	smtpq compose
//	smtpq history [--limit n]
//	smtpq login [--imap] [--stdin]
//	smtpq logout [--imap]
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/spf13/pflag"

	"github.com/nhle/smtpq/internal/credential"
	"github.com/nhle/smtpq/internal/manager"
	"github.com/nhle/smtpq/internal/model"
	"github.com/nhle/smtpq/internal/sentbox"
	"github.com/nhle/smtpq/internal/session"
	"github.com/nhle/smtpq/internal/store"
	"github.com/nhle/smtpq/internal/tui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	logFile    string
}

func (g *globals) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	fs.StringVar(&g.logFile, "log-file", "", "write logs to this file instead of stderr")
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "send":
		return runSend(rest)
	case "compose":
		return runCompose(rest)
	case "history":
		return runHistory(rest)
	case "login":
		return runLogin(rest)
	case "logout":
		return runLogout(rest)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `smtpq queues SMTP submissions on a single worker.

Usage:
  smtpq send --to addr --subject text --body text [--cc --bcc --attach --html --flowed]
  smtpq compose
  smtpq history [--limit n]
  smtpq login [--imap] [--stdin]
  smtpq logout [--imap]

Every command accepts --config and --log-file.
`)
}

// env bundles what a command needs once config is loaded.
type env struct {
	cfg     *model.AppConfig
	logger  *slog.Logger
	journal *store.SQLiteStore
	closeFn []func() error
}

func (e *env) close() {
	for i := len(e.closeFn) - 1; i >= 0; i-- {
		if err := e.closeFn[i](); err != nil {
			e.logger.Warn("cleanup failed", "error", err)
		}
	}
}

func setup(g globals, quietDefault bool) (*env, error) {
	cfg, err := model.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	var out io.Writer = os.Stderr
	switch {
	case g.logFile != "":
		f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		e.closeFn = append(e.closeFn, f.Close)
	case quietDefault:
		// The TUI owns the terminal.
		out = io.Discard
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level %q: %w", cfg.Log.Level, err)
	}
	e.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	if cfg.SMTP.Pass == "" {
		pass, err := credential.Password("SMTPQ_PASSWORD", credential.SMTPKey(cfg.SMTP.User))
		if err != nil {
			e.logger.Warn("keyring lookup failed", "error", err)
		}
		cfg.SMTP.Pass = pass
	}
	if cfg.IMAP.Enabled() && cfg.IMAP.Pass == "" {
		pass, err := credential.Password("SMTPQ_IMAP_PASSWORD", credential.IMAPKey(cfg.IMAP.User))
		if err != nil {
			e.logger.Warn("keyring lookup failed", "error", err)
		}
		if pass == "" {
			pass = cfg.SMTP.Pass
		}
		cfg.IMAP.Pass = pass
	}

	journal, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	e.journal = journal
	e.closeFn = append(e.closeFn, journal.Close)

	return e, nil
}

// newManager builds the executor and manager. The journal observes every
// result delivered to OnResult; results returned by SyncAction are recorded
// by the caller.
func (e *env) newManager(h manager.Handlers) *manager.Manager {
	var opts []session.ExecutorOption
	opts = append(opts, session.WithLogger(e.logger))
	if e.cfg.IMAP.Enabled() {
		opts = append(opts, session.WithSentFunc(sentbox.New(e.cfg.IMAP, e.logger).SentFunc()))
	}
	exec := session.NewSMTPExecutor(e.cfg.SMTP, opts...)

	next := h.OnResult
	h.OnResult = func(r model.Result) {
		e.record(r)
		if next != nil {
			next(r)
		}
	}
	return manager.New(e.cfg.SMTP, exec, h, manager.WithLogger(e.logger))
}

func (e *env) record(r model.Result) {
	if err := e.journal.RecordResult(context.Background(), r); err != nil {
		e.logger.Warn("journal write failed", "error", err)
	}
}

func runSend(args []string) error {
	var g globals
	var a model.Action
	var htmlFile string

	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	g.addFlags(fs)
	fs.StringVar(&a.To, "to", "", "comma separated recipients")
	fs.StringVar(&a.Cc, "cc", "", "comma separated Cc recipients")
	fs.StringVar(&a.Bcc, "bcc", "", "comma separated Bcc recipients")
	fs.StringVar(&a.Subject, "subject", "", "message subject")
	fs.StringVar(&a.Body, "body", "", "plain text body, - reads stdin")
	fs.StringVar(&htmlFile, "html", "", "file holding an HTML alternative")
	fs.StringSliceVar(&a.Attachments, "attach", nil, "file to attach (repeatable)")
	fs.StringVar(&a.RefMsgID, "in-reply-to", "", "Message-ID this is a reply to")
	fs.BoolVar(&a.FormatFlowed, "flowed", false, "send the text part as format=flowed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.To == "" && a.Cc == "" && a.Bcc == "" {
		return errors.New("send: at least one of --to, --cc, --bcc is required")
	}

	if a.Body == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		a.Body = string(data)
	}
	if htmlFile != "" {
		data, err := os.ReadFile(htmlFile)
		if err != nil {
			return fmt.Errorf("reading html: %w", err)
		}
		a.HTMLBody = string(data)
	}
	a.Kind = model.KindSendMessage

	e, err := setup(g, false)
	if err != nil {
		return err
	}
	defer e.close()

	mgr := e.newManager(manager.Handlers{})
	if err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := mgr.SyncAction(ctx, a)
	if err != nil {
		// The eventual result reaches OnResult and is journaled there.
		return err
	}
	e.record(r)

	fmt.Printf("%s: %s\n", r.Status, strings.TrimSpace(r.Message))
	if !r.Ok() {
		return fmt.Errorf("send failed with status %s", r.Status)
	}
	return nil
}

func runCompose(args []string) error {
	var g globals
	fs := pflag.NewFlagSet("compose", pflag.ContinueOnError)
	g.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(g, true)
	if err != nil {
		return err
	}
	defer e.close()

	bridge := tui.NewBridge()
	mgr := e.newManager(bridge.Handlers(manager.Handlers{}))
	if err := mgr.Start(); err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(mgr, bridge), tea.WithAltScreen())
	_, runErr := p.Run()

	// Stop drains queued sends; close the bridge first so handlers never
	// block on a program that is gone.
	bridge.Close()
	mgr.Stop()
	return runErr
}

func runHistory(args []string) error {
	var g globals
	var limit int
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	g.addFlags(fs)
	fs.IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(g, false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	entries, err := e.journal.RecentResults(ctx, limit)
	if err != nil {
		return err
	}
	for _, en := range entries {
		fmt.Printf("%s  %-14s %-18s %-30s %s\n",
			en.CreatedAt.Local().Format("2006-01-02 15:04"), en.Status, en.Kind, en.Recipients, en.Subject)
	}

	counts, err := e.journal.CountByStatus(ctx)
	if err != nil {
		return err
	}
	var parts []string
	for _, s := range []model.SMTPStatus{
		model.StatusOk, model.StatusFailed, model.StatusInitFailed,
		model.StatusAuthFailed, model.StatusMessageFailed,
	} {
		if n := counts[s.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) > 0 {
		fmt.Println(strings.Join(parts, " "))
	}
	return nil
}

// accountKey returns the keyring key and user for the SMTP account, or the
// IMAP one when imap is set.
func accountKey(cfg *model.AppConfig, imap bool) (string, string, error) {
	if imap {
		if cfg.IMAP.User == "" {
			return "", "", errors.New("imap.user is not configured")
		}
		return credential.IMAPKey(cfg.IMAP.User), cfg.IMAP.User, nil
	}
	if cfg.SMTP.User == "" {
		return "", "", errors.New("smtp.user is not configured")
	}
	return credential.SMTPKey(cfg.SMTP.User), cfg.SMTP.User, nil
}

func runLogin(args []string) error {
	var g globals
	var imap, stdin bool
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	g.addFlags(fs)
	fs.BoolVar(&imap, "imap", false, "store the IMAP password instead of the SMTP one")
	fs.BoolVar(&stdin, "stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	key, user, err := accountKey(cfg, imap)
	if err != nil {
		return err
	}

	var pass string
	if stdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		pass = strings.TrimRight(line, "\r\n")
	} else {
		err := huh.NewInput().
			Title("Password for " + user).
			EchoMode(huh.EchoModePassword).
			Value(&pass).
			Run()
		if err != nil {
			return err
		}
	}
	if pass == "" {
		return errors.New("empty password")
	}

	if err := credential.Set(key, pass); err != nil {
		return err
	}
	fmt.Printf("stored password for %s\n", user)
	return nil
}

func runLogout(args []string) error {
	var g globals
	var imap bool
	fs := pflag.NewFlagSet("logout", pflag.ContinueOnError)
	g.addFlags(fs)
	fs.BoolVar(&imap, "imap", false, "remove the IMAP password instead of the SMTP one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	key, user, err := accountKey(cfg, imap)
	if err != nil {
		return err
	}

	if err := credential.Delete(key); err != nil && !errors.Is(err, credential.ErrNotFound) {
		return err
	}
	fmt.Printf("removed password for %s\n", user)
	return nil
}
