package messagequeue

import "time"

// ApprovalEventPayload is the schema for every approvals.* message.
type ApprovalEventPayload struct {
	ApprovalID string    `json:"approval_id"`
	UserID     string    `json:"user_id"`
	TrainerID  string    `json:"trainer_id"`
	Category   string    `json:"category"`
	ActionType string    `json:"action_type"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
