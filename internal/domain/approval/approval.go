// Package approval defines durable trainer sign-off requests: their status
// machine, the per-action-type policy table, and ledger statistics.
package approval

import (
	"encoding/json"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// CanTransition reports whether from -> to is a legal move.
// Only pending may move, and only to a terminal state.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Resolution records who moved a request out of pending.
type Resolution string

const (
	ResolvedByTrainer Resolution = "trainer"
	ResolvedByPolicy  Resolution = "policy"
	ResolvedByTimeout Resolution = "timeout"
)

// Notes written by automatic resolutions.
const (
	NotesAutoApproved    = "auto-approved"
	NotesTimeoutApproved = "automatically approved after review timeout elapsed"
	NotesTimeoutExpired  = "expired without trainer decision; manual follow-up required"
	NotesDecisionExpired = "decision attempted after expiry"
)

// Recommendation is the specialist output a trainer reviews.
type Recommendation struct {
	Confidence float64        `json:"confidence"`
	Text       string         `json:"text,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Request is one trainer sign-off record.
type Request struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	TrainerID      string            `json:"trainer_id"`
	Category       coaching.Category `json:"category"`
	ActionType     ActionType        `json:"action_type"`
	Severity       Severity          `json:"severity"`
	Description    string            `json:"description"`
	Reason         string            `json:"reason"`
	Recommendation Recommendation    `json:"recommendation"`
	// UserContext is captured at creation and never re-read.
	UserContext   json.RawMessage `json:"user_context"`
	Status        Status          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	Modifications map[string]any  `json:"modifications,omitempty"`
	ResolvedBy    Resolution      `json:"resolved_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}

// Expired reports whether now is past the request's expiry.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Transition describes one compare-and-set move out of pending.
type Transition struct {
	ID             string
	To             Status
	Notes          string
	Modifications  map[string]any
	Recommendation *Recommendation // replaces the stored one when non-nil
	ResolvedBy     Resolution
	DecidedAt      time.Time
}

// NewRequest carries the caller-supplied fields for creating a Request.
type NewRequest struct {
	UserID         string
	TrainerID      string
	Category       coaching.Category
	ActionType     ActionType
	Description    string
	Recommendation Recommendation
	UserContext    coaching.UserContext
	// Reason is the escalation reason for requests opened by an escalated turn.
	Reason string
	// ForceReview keeps the request pending even when the policy would auto-approve.
	ForceReview bool
}

// Decision is a trainer's verdict on a request.
type Decision struct {
	RequestID     string         `json:"request_id"`
	TrainerID     string         `json:"trainer_id"`
	Approved      bool           `json:"approved"`
	Notes         string         `json:"notes,omitempty"`
	Modifications map[string]any `json:"modifications,omitempty"`
}

// MergeModifications returns a copy of payload with mods applied on top.
func MergeModifications(payload, mods map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+len(mods))
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range mods {
		out[k] = v
	}
	return out
}
