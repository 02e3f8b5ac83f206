package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// Sender delivers a rendered notification. Delivery is best effort; callers
// log failures and carry on.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// StartTLS upgrades the connection before authenticating.
	StartTLS bool
	Sender   string
	Receiver string
}

// Enabled reports whether enough settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Sender != "" && c.Receiver != ""
}

// Mailer sends notifications as plain-text email.
type Mailer struct {
	cfg     SMTPConfig
	timeout time.Duration
	logger  *slog.Logger
}

// ErrMailDisabled is returned by [Mailer.Send] when SMTP is not configured.
var ErrMailDisabled = errors.New("smtp not configured")

// NewMailer returns a Mailer for cfg.
func NewMailer(cfg SMTPConfig, logger *slog.Logger) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, timeout: 30 * time.Second, logger: logger}
}

// Send delivers n to the configured receiver.
func (m *Mailer) Send(ctx context.Context, n Notification) error {
	if !m.cfg.Enabled() {
		return ErrMailDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.cfg.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(m.cfg.Receiver); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.Sender, m.cfg.Receiver, n)); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	if err := c.Quit(); err != nil {
		m.logger.Debug("smtp quit failed", "error", err)
	}
	m.logger.Info("notification sent", "category", string(n.Category), "to", m.cfg.Receiver)
	return nil
}

// buildMessage renders a UTF-8 plain-text RFC 5322 message.
func buildMessage(from, to string, n Notification) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", n.Subject))
	date := n.At
	if date.IsZero() {
		date = time.Now()
	}
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(n.Body))
	qp.Close()
	buf.WriteString("\r\n")
	return buf.Bytes()
}
