package approval

import (
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Policy reasons.
const (
	ReasonLowConfidence = "confidence below threshold"
	ReasonBeginner      = "new user — trainer approval for safety"
)

// PolicyEntry is the static configuration for one action type.
type PolicyEntry struct {
	Severity      Severity `json:"severity" yaml:"severity"`
	Justification string   `json:"justification" yaml:"justification"`
	// AutoApproveHours is nil when the action must never auto-resolve.
	AutoApproveHours *int `json:"auto_approve_hours" yaml:"auto_approve_hours"`
	// AlwaysReview forces review regardless of confidence.
	AlwaysReview bool `json:"always_review" yaml:"always_review"`
}

// AutoApproveAfter returns the auto-resolution timeout, or false for "never".
func (e PolicyEntry) AutoApproveAfter() (time.Duration, bool) {
	if e.AutoApproveHours == nil {
		return 0, false
	}
	return time.Duration(*e.AutoApproveHours) * time.Hour, true
}

// PolicyTable maps each action type to its entry.
type PolicyTable map[ActionType]PolicyEntry

func hours(n int) *int { return &n }

// neverAutoResolve are the action types that can only leave pending through a
// trainer decision or expiry.
var neverAutoResolve = map[ActionType]bool{
	ActionInjuryAccommodation: true,
	ActionNutritionMedical:    true,
	ActionWellbeingConcern:    true,
}

// beginnerGated are the action types a beginner may not receive unreviewed.
var beginnerGated = map[ActionType]bool{
	ActionProgramModification: true,
	ActionHighRiskExercise:    true,
}

// DefaultPolicyTable returns a fresh copy of the built-in policy table.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		ActionInjuryAccommodation: {
			Severity:      SeverityCritical,
			Justification: "injury accommodations always require trainer review",
			AlwaysReview:  true,
		},
		ActionNutritionMedical: {
			Severity:      SeverityCritical,
			Justification: "nutrition changes tied to a medical condition always require trainer review",
			AlwaysReview:  true,
		},
		ActionWellbeingConcern: {
			Severity:      SeverityCritical,
			Justification: "signs of emotional distress need a personal response from the trainer",
			AlwaysReview:  true,
		},
		ActionHighRiskExercise: {
			Severity:         SeverityHigh,
			Justification:    "high-risk movements need form and load sign-off",
			AutoApproveHours: hours(12),
		},
		ActionProgramModification: {
			Severity:         SeverityMedium,
			Justification:    "program changes alter weekly training load",
			AutoApproveHours: hours(12),
		},
		ActionRecoveryConcern: {
			Severity:         SeverityMedium,
			Justification:    "recovery concerns may hide overtraining",
			AutoApproveHours: hours(12),
		},
		ActionMotivationCheckin: {
			Severity:         SeverityMedium,
			Justification:    "the trainer should follow up personally",
			AutoApproveHours: hours(12),
		},
		ActionTrainerConsult: {
			Severity:         SeverityMedium,
			Justification:    "the client asked for their trainer",
			AutoApproveHours: hours(24),
		},
		ActionNutritionPlan: {
			Severity:         SeverityLow,
			Justification:    "meal plans are low risk for healthy clients",
			AutoApproveHours: hours(24),
		},
		ActionWorkoutPlan: {
			Severity:         SeverityLow,
			Justification:    "standard plans within the client's current level",
			AutoApproveHours: hours(24),
		},
		ActionGeneralAdvice: {
			Severity:         SeverityLow,
			Justification:    "general guidance",
			AutoApproveHours: hours(24),
		},
	}
}

// Entry returns the entry for a, falling back to a medium-severity entry with
// the default review window for unknown types.
func (t PolicyTable) Entry(a ActionType) PolicyEntry {
	if e, ok := t[a]; ok {
		return e
	}
	return PolicyEntry{Severity: SeverityMedium, Justification: "unclassified action", AutoApproveHours: hours(24)}
}

// Evaluation is the policy outcome for one recommended action.
type Evaluation struct {
	NeedsApproval bool
	Reason        string
	Entry         PolicyEntry
}

// Policy decides whether an action needs trainer sign-off.
type Policy struct {
	Table               PolicyTable
	ConfidenceThreshold float64
}

// NewPolicy returns a Policy over table. A nil table selects the defaults and a
// non-positive threshold selects 0.6.
func NewPolicy(table PolicyTable, threshold float64) *Policy {
	if table == nil {
		table = DefaultPolicyTable()
	}
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Policy{Table: table, ConfidenceThreshold: threshold}
}

// Evaluate applies the rules in order: always-review types, low confidence,
// beginner gating, then auto-approve.
func (p *Policy) Evaluate(a ActionType, confidence float64, uc coaching.UserContext) Evaluation {
	entry := p.Table.Entry(a)
	switch {
	case neverAutoResolve[a] || entry.AlwaysReview:
		return Evaluation{NeedsApproval: true, Reason: entry.Justification, Entry: entry}
	case confidence < p.ConfidenceThreshold:
		return Evaluation{NeedsApproval: true, Reason: ReasonLowConfidence, Entry: entry}
	case uc.ExperienceLevel == coaching.ExperienceBeginner && beginnerGated[a]:
		return Evaluation{NeedsApproval: true, Reason: ReasonBeginner, Entry: entry}
	}
	return Evaluation{Entry: entry}
}

// ExpiryFor returns the expiry for a request created at createdAt. A finite
// auto-approve timeout overrides the default review window.
func ExpiryFor(entry PolicyEntry, createdAt time.Time, reviewWindow time.Duration) time.Time {
	if d, ok := entry.AutoApproveAfter(); ok && d > 0 {
		return createdAt.Add(d)
	}
	return createdAt.Add(reviewWindow)
}
