package approval

import "github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"

// ActionType identifies the kind of recommendation under review.
type ActionType string

const (
	ActionWorkoutPlan         ActionType = "workout_plan"
	ActionProgramModification ActionType = "program_modification"
	ActionHighRiskExercise    ActionType = "high_risk_exercise"
	ActionNutritionPlan       ActionType = "nutrition_plan"
	ActionNutritionMedical    ActionType = "nutrition_medical"
	ActionInjuryAccommodation ActionType = "injury_accommodation"
	ActionRecoveryConcern     ActionType = "recovery_concern"
	ActionMotivationCheckin   ActionType = "motivation_checkin"
	ActionWellbeingConcern    ActionType = "wellbeing_concern"
	ActionTrainerConsult      ActionType = "trainer_consult"
	ActionGeneralAdvice       ActionType = "general_advice"
)

// ActionTypes lists every action type.
var ActionTypes = []ActionType{
	ActionWorkoutPlan,
	ActionProgramModification,
	ActionHighRiskExercise,
	ActionNutritionPlan,
	ActionNutritionMedical,
	ActionInjuryAccommodation,
	ActionRecoveryConcern,
	ActionMotivationCheckin,
	ActionWellbeingConcern,
	ActionTrainerConsult,
	ActionGeneralAdvice,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, t := range ActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// ParseActionType returns the ActionType named by s.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(s)
	return a, a.Valid()
}

// DefaultActionFor is the action type opened for a generic escalation in category c.
func DefaultActionFor(c coaching.Category) ActionType {
	switch c {
	case coaching.CategoryWorkout:
		return ActionProgramModification
	case coaching.CategoryNutrition:
		return ActionNutritionPlan
	case coaching.CategoryRecovery:
		return ActionRecoveryConcern
	case coaching.CategoryMotivation:
		return ActionMotivationCheckin
	default:
		return ActionGeneralAdvice
	}
}

// Severity ranks how much harm a wrong recommendation could do.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
