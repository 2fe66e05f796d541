// Package email provides an SMTP notifier that mails the trainer directly.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strconv"
	"strings"

	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Domain is appended to the trainer id to form the recipient address.
	Domain string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends trainer notifications via SMTP.
type Notifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Targeted: true}
}

// Send mails the notification to <recipient>@<domain>. A recipient that
// already contains "@" is used verbatim.
func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" {
		return notifier.ErrNotConfigured
	}
	to, err := n.address(note.Recipient)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Password != "" {
		user := n.cfg.Username
		if user == "" {
			user = n.cfg.From
		}
		auth = smtp.PlainAuth("", user, n.cfg.Password, n.cfg.Host)
	}

	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{to}, buildMessage(n.cfg.From, to, note)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) address(recipient string) (string, error) {
	switch {
	case recipient == "":
		return "", fmt.Errorf("email: notification has no recipient")
	case strings.Contains(recipient, "@"):
		return recipient, nil
	case n.cfg.Domain == "":
		return "", fmt.Errorf("email: no domain configured for recipient %q", recipient)
	default:
		return recipient + "@" + n.cfg.Domain, nil
	}
}

func buildMessage(from, to string, note notifier.Notification) []byte {
	subject := note.Title
	if note.Level == "critical" {
		subject = "[URGENT] " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, sanitizeHeader(subject))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(note.Message)
	b.WriteString("\r\n")

	if len(note.Fields) > 0 {
		keys := make([]string, 0, len(note.Fields))
		for k := range note.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\r\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, note.Fields[k])
		}
	}
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
