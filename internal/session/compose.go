package session

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/smtpq/internal/model"
)

// Message is a composed message ready for SMTP submission.
type Message struct {
	// From is the envelope sender.
	From string
	// Recipients holds every To, Cc and Bcc address.
	Recipients []string
	MessageID  string
	// Raw is the RFC 5322 message without a Bcc header.
	Raw []byte
}

// Composer builds MIME messages from actions.
type Composer struct {
	name    string
	address string
	now     func() time.Time
}

// NewComposer returns a composer that uses name and address as the From
// identity when an action leaves From empty.
func NewComposer(name, address string) *Composer {
	return &Composer{name: name, address: address, now: time.Now}
}

// Compose renders a KindSendMessage or KindCreateMessage action.
func (c *Composer) Compose(a model.Action) (*Message, error) {
	from, err := c.sender(a.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddressList("To", a.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseAddressList("Cc", a.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddressList("Bcc", a.Bcc)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(c.now())
	h.SetAddressList("From", []*mail.Address{from})
	if len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(a.Subject)
	if a.RefMsgID != "" {
		ref := strings.Trim(a.RefMsgID, "<>")
		h.SetMsgIDList("In-Reply-To", []string{ref})
		h.SetMsgIDList("References", []string{ref})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating Message-ID: %w", err)
	}
	msgID, _ := h.MessageID()

	var buf bytes.Buffer
	if a.HTMLBody == "" && len(a.Attachments) == 0 {
		err = writeSinglePart(&buf, h, a)
	} else {
		err = writeMultipart(&buf, h, a)
	}
	if err != nil {
		return nil, err
	}

	return &Message{
		From:       from.Address,
		Recipients: recipients(to, cc, bcc),
		MessageID:  msgID,
		Raw:        buf.Bytes(),
	}, nil
}

func (c *Composer) sender(from string) (*mail.Address, error) {
	if strings.TrimSpace(from) == "" {
		if c.address == "" {
			return nil, fmt.Errorf("no sender address configured")
		}
		return &mail.Address{Name: c.name, Address: c.address}, nil
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parsing From %q: %w", from, err)
	}
	return addr, nil
}

func textParams(a model.Action) map[string]string {
	params := map[string]string{"charset": "utf-8"}
	if a.FormatFlowed {
		params["format"] = "flowed"
	}
	return params
}

func textBody(a model.Action) string {
	if a.FormatFlowed {
		return FormatFlowed(a.Body)
	}
	return a.Body
}

func writeSinglePart(w io.Writer, h mail.Header, a model.Action) error {
	h.SetContentType("text/plain", textParams(a))
	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(body, textBody(a)); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return body.Close()
}

func writeMultipart(w io.Writer, h mail.Header, a model.Action) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("creating multipart writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("creating inline part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", textParams(a))
	if err := writePart(tw, th, textBody(a)); err != nil {
		return err
	}
	if a.HTMLBody != "" {
		var hh mail.InlineHeader
		hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		if err := writePart(tw, hh, a.HTMLBody); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing inline part: %w", err)
	}

	for _, path := range a.Attachments {
		if err := writeAttachment(mw, path); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writePart(tw *mail.InlineWriter, h mail.InlineHeader, body string) error {
	pw, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating text part: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("writing text part: %w", err)
	}
	return pw.Close()
}

func writeAttachment(mw *mail.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(detectMIMEType(path, data), nil)
	ah.SetFilename(filepath.Base(path))

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("creating attachment %s: %w", path, err)
	}
	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("writing attachment %s: %w", path, err)
	}
	return aw.Close()
}

// detectMIMEType prefers the extension and falls back to sniffing.
func detectMIMEType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		mediaType, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mediaType
		}
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

// Parse recovers the envelope of a previously composed message and strips
// its Bcc header.
func Parse(raw []byte) (*Message, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	froms, err := h.AddressList("From")
	if err != nil {
		return nil, fmt.Errorf("parsing From: %w", err)
	}
	if len(froms) == 0 {
		return nil, fmt.Errorf("message has no From header")
	}

	var lists [3][]*mail.Address
	for i, key := range []string{"To", "Cc", "Bcc"} {
		lists[i], err = h.AddressList(key)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
	}
	msgID, _ := h.MessageID()

	th.Del("Bcc")
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, th); err != nil {
		return nil, fmt.Errorf("writing message header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("copying message body: %w", err)
	}

	return &Message{
		From:       froms[0].Address,
		Recipients: recipients(lists[0], lists[1], lists[2]),
		MessageID:  msgID,
		Raw:        buf.Bytes(),
	}, nil
}

// withBcc returns raw with a Bcc header naming addrs, so that a created
// message keeps its blind recipients until it is sent.
func withBcc(raw []byte, bcc string) ([]byte, error) {
	addrs, err := parseAddressList("Bcc", bcc)
	if err != nil || len(addrs) == 0 {
		return raw, err
	}
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}
	h.SetAddressList("Bcc", addrs)

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h.Header.Header); err != nil {
		return nil, fmt.Errorf("writing message header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("copying message body: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddressList(field, list string) ([]*mail.Address, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, fmt.Errorf("parsing %s %q: %w", field, list, err)
	}
	return addrs, nil
}

func recipients(lists ...[]*mail.Address) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, addr := range list {
			key := strings.ToLower(addr.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr.Address)
		}
	}
	return out
}
