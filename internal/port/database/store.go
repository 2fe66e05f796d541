// Package database defines the approval ledger store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
)

// ApprovalStore persists approval requests.
//
// TransitionApproval is an atomic compare-and-set: it applies the transition
// only while the stored status is still pending. It returns domain.ErrNotFound
// for an unknown id and domain.ErrConflict when the record has already left
// pending.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req *approval.Request) error
	GetApproval(ctx context.Context, id string) (*approval.Request, error)
	TransitionApproval(ctx context.Context, t approval.Transition) (*approval.Request, error)

	// ListApprovalsByTrainer returns the trainer's requests newest first.
	// An empty status returns every status.
	ListApprovalsByTrainer(ctx context.Context, trainerID string, status approval.Status) ([]approval.Request, error)

	// ListDueApprovals returns pending requests with expires_at <= now, oldest first.
	ListDueApprovals(ctx context.Context, now time.Time, limit int) ([]approval.Request, error)

	Ping(ctx context.Context) error
	Close() error
}
