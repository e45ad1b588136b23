package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

// ErrNoStartTLS means the server offered no STARTTLS and plaintext was not allowed.
var ErrNoStartTLS = errors.New("smtp server does not offer STARTTLS")

// Email sends notifications as HTML mail through an SMTP server with
// STARTTLS and PLAIN auth.
type Email struct {
	cfg       config.EmailConfig
	available bool
	tlsConfig *tls.Config
	logger    *zap.Logger
}

// NewEmail creates the email channel. Sender and recipient default to the account.
func NewEmail(cfg config.EmailConfig, logger *zap.Logger) *Email {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.To == "" {
		cfg.To = cfg.Username
	}
	return &Email{
		cfg:       cfg,
		available: cfg.Enabled && cfg.Username != "" && cfg.Password != "",
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		logger:    logger.Named("email"),
	}
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

func (e *Email) Available() bool { return e.available }

// Send delivers the notification as an HTML email over a STARTTLS session.
func (e *Email) Send(ctx context.Context, n domain.Notification) error {
	if !e.available {
		return ErrUnavailable
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(e.tlsConfig); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	} else if !e.cfg.AllowInsecure {
		return ErrNoStartTLS
	}
	if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(e.cfg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	msg, err := e.buildMessage(n, time.Now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if err := c.Quit(); err != nil {
		e.logger.Debug("SMTP quit failed", zap.Error(err))
	}

	e.logger.Info("Email sent", zap.String("to", e.cfg.To), zap.String("title", n.Title))
	return nil
}

func (e *Email) buildMessage(n domain.Notification, now time.Time) ([]byte, error) {
	body := n.Options.HTMLBody
	if body == "" {
		body = htmlBody(n.Message)
	}

	var h mail.Header
	h.Set("From", e.cfg.From)
	h.Set("To", e.cfg.To)
	h.SetSubject(n.Title)
	h.SetDate(now)
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "8bit")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body+"\r\n"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// htmlBody turns a plain multi-line message into escaped paragraphs.
func htmlBody(message string) string {
	var sb strings.Builder
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sb.WriteString("<p>" + html.EscapeString(line) + "</p>\r\n")
	}
	sb.WriteString("<hr>\r\n<p><em>This is an automated message from NikAssistant.</em></p>")
	return sb.String()
}
