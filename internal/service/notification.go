// Package service contains the application services of the coaching core.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

// notifySendTimeout bounds one background fan-out.
const notifySendTimeout = 15 * time.Second

// NotificationService dispatches trainer notifications to all configured sinks.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
	wg            sync.WaitGroup
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event subjects (e.g. "approvals.created").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to every sink. Targeted sinks are skipped when
// the notification has no recipient. Errors are logged but do not interrupt
// delivery to other sinks.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil {
		return
	}
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if provider.Capabilities().Targeted && n.Recipient == "" {
			continue
		}
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "notification send failed",
				"provider", provider.Name(),
				"trainer_id", n.Recipient,
				"source", n.Source,
				"error", err,
			)
			continue
		}
		slog.DebugContext(ctx, "notification sent", "provider", provider.Name(), "source", n.Source)
	}
}

// NotifyAsync runs Notify in the background, detached from ctx cancellation.
func (s *NotificationService) NotifyAsync(ctx context.Context, n notifier.Notification) {
	if s == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, notifySendTimeout)
		defer cancel()
		s.Notify(ctx, n)
	}()
}

// NotifyApproval tells the request's trainer about a ledger event.
func (s *NotificationService) NotifyApproval(ctx context.Context, req *approval.Request, subject string) {
	s.NotifyAsync(ctx, approvalNotification(req, subject))
}

// Wait blocks until background sends finish.
func (s *NotificationService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// NotifierCount returns the number of configured notifiers.
func (s *NotificationService) NotifierCount() int {
	if s == nil {
		return 0
	}
	return len(s.notifiers)
}

func approvalNotification(req *approval.Request, subject string) notifier.Notification {
	n := notifier.Notification{
		Recipient: req.TrainerID,
		Level:     notificationLevel(req.Severity, subject),
		Source:    subject,
		Fields: map[string]string{
			"approval_id": req.ID,
			"user_id":     req.UserID,
			"category":    string(req.Category),
			"action_type": string(req.ActionType),
			"severity":    string(req.Severity),
			"expires_at":  req.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}
	switch subject {
	case messagequeue.SubjectApprovalExpired:
		n.Title = "Approval expired"
		n.Message = fmt.Sprintf("%s for client %s expired without a decision. %s", req.ActionType, req.UserID, req.Notes)
	case messagequeue.SubjectApprovalDecided:
		n.Title = "Approval " + string(req.Status)
		n.Message = fmt.Sprintf("%s for client %s was %s.", req.ActionType, req.UserID, req.Status)
	case messagequeue.SubjectApprovalAutoApproved:
		n.Title = "Approval auto-approved"
		n.Message = fmt.Sprintf("%s for client %s was approved automatically. %s", req.ActionType, req.UserID, req.Notes)
	default:
		n.Title = "Review needed: " + string(req.ActionType)
		n.Message = fmt.Sprintf("%s\nReason: %s", req.Description, req.Reason)
	}
	return n
}

func notificationLevel(sev approval.Severity, subject string) string {
	switch {
	case sev == approval.SeverityCritical:
		return "critical"
	case sev == approval.SeverityHigh, subject == messagequeue.SubjectApprovalExpired:
		return "warning"
	}
	return "info"
}
