package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

// mockNotifier implements notifier.Notifier for testing.
type mockNotifier struct {
	mu       sync.Mutex
	name     string
	targeted bool
	sent     []notifier.Notification
	sendErr  error
}

func (m *mockNotifier) Name() string { return m.name }
func (m *mockNotifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Targeted: m.targeted}
}
func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockNotifier) last() notifier.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func TestNotificationService_Notify(t *testing.T) {
	m1 := &mockNotifier{name: "mock1"}
	m2 := &mockNotifier{name: "mock2"}
	svc := NewNotificationService([]notifier.Notifier{m1, m2}, nil)

	svc.Notify(context.Background(), notifier.Notification{
		Recipient: "t1",
		Title:     "Test",
		Message:   "Hello",
		Level:     "info",
		Source:    messagequeue.SubjectApprovalCreated,
	})

	if m1.count() != 1 {
		t.Fatalf("expected 1 notification on mock1, got %d", m1.count())
	}
	if m2.count() != 1 {
		t.Fatalf("expected 1 notification on mock2, got %d", m2.count())
	}
}

func TestNotificationService_FilterEvents(t *testing.T) {
	m := &mockNotifier{name: "mock"}
	svc := NewNotificationService([]notifier.Notifier{m}, []string{messagequeue.SubjectApprovalExpired})

	svc.Notify(context.Background(), notifier.Notification{
		Title:  "Test",
		Source: messagequeue.SubjectApprovalCreated,
	})
	if m.count() != 0 {
		t.Fatalf("expected 0 notifications (filtered), got %d", m.count())
	}

	svc.Notify(context.Background(), notifier.Notification{
		Title:  "Test",
		Source: messagequeue.SubjectApprovalExpired,
	})
	if m.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", m.count())
	}
}

func TestNotificationService_ErrorContinues(t *testing.T) {
	failer := &mockNotifier{name: "fail", sendErr: errors.New("connection refused")}
	success := &mockNotifier{name: "ok"}
	svc := NewNotificationService([]notifier.Notifier{failer, success}, nil)

	svc.Notify(context.Background(), notifier.Notification{
		Title:  "Test",
		Source: messagequeue.SubjectApprovalCreated,
	})

	if success.count() != 1 {
		t.Fatalf("expected 1 notification on success notifier, got %d", success.count())
	}
}

func TestNotificationService_TargetedNeedsRecipient(t *testing.T) {
	targeted := &mockNotifier{name: "email", targeted: true}
	broadcast := &mockNotifier{name: "slack"}
	svc := NewNotificationService([]notifier.Notifier{targeted, broadcast}, nil)

	svc.Notify(context.Background(), notifier.Notification{Title: "no recipient"})

	if targeted.count() != 0 {
		t.Errorf("targeted sink got %d notifications without recipient", targeted.count())
	}
	if broadcast.count() != 1 {
		t.Errorf("broadcast sink got %d notifications, want 1", broadcast.count())
	}
}

func TestNotificationService_NotifyApprovalAsync(t *testing.T) {
	m := &mockNotifier{name: "mock"}
	svc := NewNotificationService([]notifier.Notifier{m}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := &approval.Request{
		ID:          "a1",
		UserID:      "u1",
		TrainerID:   "t1",
		Category:    coaching.CategoryRecovery,
		ActionType:  approval.ActionInjuryAccommodation,
		Severity:    approval.SeverityCritical,
		Description: "knee pain during squats",
		Reason:      "injury or pain mentioned",
		ExpiresAt:   time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	svc.NotifyApproval(ctx, req, messagequeue.SubjectApprovalCreated)
	cancel() // sends are detached from the caller
	svc.Wait()

	if m.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", m.count())
	}
	n := m.last()
	if n.Recipient != "t1" {
		t.Errorf("recipient = %q, want t1", n.Recipient)
	}
	if n.Level != "critical" {
		t.Errorf("level = %q, want critical", n.Level)
	}
	if !strings.Contains(n.Title, "injury_accommodation") {
		t.Errorf("title %q should name the action type", n.Title)
	}
	if n.Fields["approval_id"] != "a1" || n.Fields["expires_at"] != "2026-03-02T08:00:00Z" {
		t.Errorf("unexpected fields: %v", n.Fields)
	}
}

func TestApprovalNotificationLevels(t *testing.T) {
	tests := []struct {
		sev     approval.Severity
		subject string
		want    string
	}{
		{approval.SeverityCritical, messagequeue.SubjectApprovalCreated, "critical"},
		{approval.SeverityHigh, messagequeue.SubjectApprovalCreated, "warning"},
		{approval.SeverityLow, messagequeue.SubjectApprovalExpired, "warning"},
		{approval.SeverityMedium, messagequeue.SubjectApprovalCreated, "info"},
	}
	for _, tt := range tests {
		if got := notificationLevel(tt.sev, tt.subject); got != tt.want {
			t.Errorf("notificationLevel(%s, %s) = %q, want %q", tt.sev, tt.subject, got, tt.want)
		}
	}
}

func TestNotificationService_NilSafe(t *testing.T) {
	var svc *NotificationService
	svc.Notify(context.Background(), notifier.Notification{})
	svc.NotifyApproval(context.Background(), &approval.Request{}, messagequeue.SubjectApprovalCreated)
	svc.Wait()
	if svc.NotifierCount() != 0 {
		t.Fatal("nil service should report zero notifiers")
	}
}

func TestNotificationService_Count(t *testing.T) {
	svc := NewNotificationService([]notifier.Notifier{
		&mockNotifier{name: "a"},
		&mockNotifier{name: "b"},
	}, nil)
	if svc.NotifierCount() != 2 {
		t.Fatalf("expected 2, got %d", svc.NotifierCount())
	}
}
