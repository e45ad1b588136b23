package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const (
	// Gmail IMAP endpoint
	DefaultHost = "imap.gmail.com"
	DefaultPort = 993

	previewRunes = 500
	dialTimeout  = 30 * time.Second
)

// ErrNotConfigured is returned when the client has no credentials.
var ErrNotConfigured = errors.New("IMAP not configured")

// Client reads messages from one IMAP mailbox. Each call opens its own
// read-only session.
type Client struct {
	addr     string
	username string
	password string
	mailbox  string
	dial     func(addr string) (*client.Client, error)
}

// NewClient creates a new IMAP client over implicit TLS.
func NewClient(host string, port int, username, password, mailboxName string) *Client {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if mailboxName == "" {
		mailboxName = "INBOX"
	}
	return &Client{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		username: username,
		password: password,
		mailbox:  mailboxName,
		dial: func(addr string) (*client.Client, error) {
			return client.DialWithDialerTLS(&net.Dialer{Timeout: dialTimeout}, addr, nil)
		},
	}
}

// IsConfigured checks if credentials are set
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// Recent returns up to limit messages received since the given time, oldest first.
func (c *Client) Recent(ctx context.Context, since time.Time, limit int) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	return c.query(ctx, criteria, limit)
}

// Search returns up to limit of the newest messages containing text.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Text = []string{text}
	return c.query(ctx, criteria, limit)
}

func (c *Client) query(ctx context.Context, criteria *imap.SearchCriteria, limit int) ([]Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	conn, err := c.dial(c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Terminate() })
	defer stop()
	defer conn.Logout()

	if err := conn.Login(c.username, c.password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if _, err := conn.Select(c.mailbox, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", c.mailbox, err)
	}

	uids, err := conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	if len(uids) == 0 {
		return nil, ctx.Err()
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.UidFetch(seqset, items, fetched)
	}()

	var out []Message
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		m, err := ParseMessage(body)
		if err != nil {
			continue
		}
		m.UID = msg.Uid
		if m.Date.IsZero() {
			m.Date = msg.InternalDate
		}
		for _, flag := range msg.Flags {
			if flag == imap.SeenFlag {
				m.Seen = true
			}
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

// ParseMessage reads an RFC 5322 message and keeps the headers and the
// first plain-text part, cut to a short preview.
func ParseMessage(r io.Reader) (Message, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	h := mail.Header{Header: e.Header}
	var m Message
	m.Subject, _ = h.Subject()
	m.Date, _ = h.Date()
	m.MessageID, _ = h.MessageID()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.Sender = from[0].Address
		if from[0].Name != "" {
			m.Sender = from[0].Name + " <" + from[0].Address + ">"
		}
	} else {
		m.Sender = h.Get("From")
	}

	found := false
	err = e.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}
		if found || part == nil {
			return nil
		}
		ct, _, _ := part.Header.ContentType()
		if part.Header.Get("Content-Type") != "" && ct != "text/plain" {
			return nil
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return err
		}
		m.Body = preview(string(data))
		found = true
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("read body: %w", err)
	}
	return m, nil
}

func preview(body string) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	runes := []rune(body)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes])
	}
	return body
}
