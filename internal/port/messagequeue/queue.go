// Package messagequeue defines the event bus port for approval lifecycle events.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes and subscribes to subjects.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler; the returned function cancels it.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain processes in-flight messages, then closes.
	Drain() error
	Close() error
	IsConnected() bool
}

// Approval lifecycle subjects.
const (
	SubjectApprovalCreated      = "approvals.created"
	SubjectApprovalDecided      = "approvals.decided"
	SubjectApprovalExpired      = "approvals.expired"
	SubjectApprovalAutoApproved = "approvals.auto_approved"
)

// SubjectApprovalAll matches every approval subject.
const SubjectApprovalAll = "approvals.>"
