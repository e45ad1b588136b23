package mailbox

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMail = "From: Billing Team <billing@example.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: =?UTF-8?Q?Invoice_=E2=84=9642_due?=\r\n" +
	"Date: Sat, 01 Jun 2024 09:30:00 +0000\r\n" +
	"Message-ID: <invoice-42@billing.example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please pay</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Please pay by Friday =E2=82=AC120.\r\n" +
	"--b1--\r\n"

func TestParseMessage_Multipart(t *testing.T) {
	m, err := ParseMessage(strings.NewReader(multipartMail))
	require.NoError(t, err)

	assert.Equal(t, "Invoice №42 due", m.Subject)
	assert.Equal(t, "Billing Team <billing@example.com>", m.Sender)
	assert.Equal(t, "invoice-42@billing.example.com", m.MessageID)
	assert.True(t, m.Date.Equal(time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, "Please pay by Friday €120.", m.Body, "first text/plain part, decoded")
	assert.Equal(t, "invoice-42@billing.example.com", m.Key())
}

func TestParseMessage_PlainTruncated(t *testing.T) {
	raw := "From: news@example.com\r\n" +
		"Subject: Weekly digest\r\n" +
		"\r\n" +
		strings.Repeat("ä", 600)

	m, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "news@example.com", m.Sender)
	assert.Empty(t, m.MessageID)
	assert.True(t, m.Date.IsZero())
	assert.Equal(t, 500, len([]rune(m.Body)), "preview is cut by runes")
	assert.Equal(t, "news@example.com|Weekly digest|0001-01-01T00:00:00Z", m.Key())
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", 0, "", "", "")
	assert.False(t, c.IsConfigured())
	assert.Equal(t, "imap.gmail.com:993", c.addr)
	assert.Equal(t, "INBOX", c.mailbox)

	_, err := c.Recent(context.Background(), time.Now(), 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func newTestServer(t *testing.T) (host string, port int) {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func newPlainClient(host string, port int, username, password string) *Client {
	c := NewClient(host, port, username, password, "INBOX")
	c.dial = func(addr string) (*client.Client, error) { return client.Dial(addr) }
	return c
}

func TestClient_RecentAndSearch(t *testing.T) {
	host, port := newTestServer(t)
	c := newPlainClient(host, port, "username", "password")
	ctx := context.Background()

	msgs, err := c.Recent(ctx, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Sender, "contact@example.org")
	assert.Contains(t, msgs[0].Subject, "little message")
	assert.Equal(t, "Hi there :)", msgs[0].Body)
	assert.NotZero(t, msgs[0].UID)

	found, err := c.Search(ctx, "little", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestClient_LoginFailure(t *testing.T) {
	host, port := newTestServer(t)
	c := newPlainClient(host, port, "username", "wrong")

	_, err := c.Recent(context.Background(), time.Now().Add(-time.Hour), 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}
