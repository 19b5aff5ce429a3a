package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/user"
	idb "household_reminder_bot/internal/infra/database"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// smtpTimeout bounds one whole SMTP exchange, on top of the caller's context.
const smtpTimeout = 30 * time.Second

// sendMailFunc submits one message and gives up once ctx is done.
type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender composes a plain-text MIME message and submits it over SMTP.
type EmailSender struct {
	cfg      SMTPConfig
	users    user.Repository
	sendMail sendMailFunc
}

func NewEmailSender(cfg SMTPConfig, users user.Repository) *EmailSender {
	return &EmailSender{cfg: cfg, users: users, sendMail: sendMail}
}

func (s *EmailSender) Channel() notification.Channel { return notification.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	if s.cfg.Host == "" {
		return "", notification.ErrChannelUnavailable
	}
	contact, err := s.users.GetContact(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, idb.ErrUserNotFound) {
			return "", notification.ErrNoRecipient
		}
		return "", fmt.Errorf("failed to load user contact: %w", err)
	}
	if !contact.Email.Valid || strings.TrimSpace(contact.Email.String) == "" {
		return "", notification.ErrNoRecipient
	}

	messageID := uuid.NewString() + "@" + domainOf(s.cfg.From)
	raw, err := composeEmail(s.cfg.From, contact.Email.String, messageID, msg, time.Now())
	if err != nil {
		return "", err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(ctx, addr, auth, s.cfg.From, []string{contact.Email.String}, raw); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return messageID, nil
}

// sendMail runs the smtp.SendMail exchange on a connection whose deadline
// follows ctx, so a server that stalls at any step cannot block the caller.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", addr, err)
	}
	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}
	// Cancellation without a deadline still interrupts a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("no smtp greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func composeEmail(from, to, messageID string, msg notification.Message, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(msg.Title)
	h.SetMessageID(messageID)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}
	body := msg.Body
	if strings.HasPrefix(msg.Action, "http://") || strings.HasPrefix(msg.Action, "https://") {
		body += "\n\n" + msg.Action
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish mail body: %w", err)
	}
	return buf.Bytes(), nil
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return strings.Trim(address[i+1:], "> ")
	}
	return "localhost"
}
