package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

var _ notifier.Notifier = (*Notifier)(nil)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
	auth smtp.Auth
}

func newTestNotifier(cfg SMTPConfig) (*Notifier, *captured) {
	c := &captured{}
	n := NewNotifier(cfg)
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.auth, c.from, c.to, c.msg = addr, a, from, to, string(msg)
		return nil
	}
	return n, c
}

func TestCapabilitiesTargeted(t *testing.T) {
	if !NewNotifier(SMTPConfig{}).Capabilities().Targeted {
		t.Fatal("expected Targeted=true")
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier(SMTPConfig{}).Send(context.Background(), notifier.Notification{Recipient: "t1"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendBuildsAddressFromDomain(t *testing.T) {
	n, c := newTestNotifier(SMTPConfig{Host: "smtp.local", Port: 2525, From: "coach@fit.test", Domain: "fit.test", Password: "pw"})

	err := n.Send(context.Background(), notifier.Notification{
		Recipient: "trainer-7",
		Title:     "Review\nneeded",
		Message:   "Client mentioned back pain.",
		Level:     "critical",
		Fields:    map[string]string{"action": "injury_accommodation"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.addr != "smtp.local:2525" {
		t.Fatalf("addr = %q", c.addr)
	}
	if len(c.to) != 1 || c.to[0] != "trainer-7@fit.test" {
		t.Fatalf("to = %v", c.to)
	}
	if c.auth == nil {
		t.Fatal("expected auth when password is set")
	}
	if !strings.Contains(c.msg, "Subject: [URGENT] Review needed\r\n") {
		t.Fatalf("subject header missing or unsanitized:\n%s", c.msg)
	}
	if !strings.Contains(c.msg, "action: injury_accommodation") {
		t.Fatalf("fields missing:\n%s", c.msg)
	}
}

func TestSendVerbatimAddress(t *testing.T) {
	n, c := newTestNotifier(SMTPConfig{Host: "smtp.local", Port: 25, From: "coach@fit.test"})
	if err := n.Send(context.Background(), notifier.Notification{Recipient: "pat@gym.test", Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.to[0] != "pat@gym.test" {
		t.Fatalf("to = %v", c.to)
	}
	if c.auth != nil {
		t.Fatal("expected no auth without password")
	}
}

func TestSendNoDomain(t *testing.T) {
	n, _ := newTestNotifier(SMTPConfig{Host: "smtp.local", From: "coach@fit.test"})
	if err := n.Send(context.Background(), notifier.Notification{Recipient: "trainer-1"}); err == nil {
		t.Fatal("expected error without domain")
	}
}

func TestRegisteredPortParsing(t *testing.T) {
	if _, err := notifier.New("email", map[string]string{"port": "abc"}); err == nil {
		t.Fatal("expected error for bad port")
	}
	n, err := notifier.New("email", map[string]string{"host": "h", "from": "f@x"})
	if err != nil || n.Name() != "email" {
		t.Fatalf("New: %v %v", n, err)
	}
}
