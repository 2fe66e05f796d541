// Package coaching defines the conversational side of the coaching core:
// specialist categories, the keyword router, user context, and the
// per-turn specialist result.
package coaching

// Category identifies one of the fixed specialists.
type Category string

const (
	CategoryWorkout    Category = "workout"
	CategoryNutrition  Category = "nutrition"
	CategoryRecovery   Category = "recovery"
	CategoryMotivation Category = "motivation"
	CategoryGeneral    Category = "general"
)

// Categories lists every category in routing priority order, general last.
var Categories = []Category{
	CategoryWorkout,
	CategoryNutrition,
	CategoryRecovery,
	CategoryMotivation,
	CategoryGeneral,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryWorkout, CategoryNutrition, CategoryRecovery, CategoryMotivation, CategoryGeneral:
		return true
	}
	return false
}

// BaseConfidence is the fixed trust assigned to each specialist's output.
func (c Category) BaseConfidence() float64 {
	switch c {
	case CategoryMotivation:
		return 0.90
	case CategoryWorkout, CategoryNutrition:
		return 0.85
	case CategoryRecovery:
		return 0.80
	default:
		return 0.75
	}
}

// DistressConfidence replaces the base confidence when distress is detected.
const DistressConfidence = 0.3

// ReasonDistress is the forced escalation reason for the distress override.
const ReasonDistress = "emotional distress detected"

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// TruncateHistory returns the most recent n turns. The input is not modified.
func TruncateHistory(history []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		out := make([]Turn, len(history))
		copy(out, history)
		return out
	}
	out := make([]Turn, n)
	copy(out, history[len(history)-n:])
	return out
}

// Experience levels recognised by the approval policy.
const (
	ExperienceBeginner     = "beginner"
	ExperienceIntermediate = "intermediate"
	ExperienceAdvanced     = "advanced"
)

// WearableSnapshot holds the latest readings a user's devices reported.
// Zero values mean "not available".
type WearableSnapshot struct {
	RestingHeartRate int     `json:"resting_heart_rate,omitempty"`
	HRV              float64 `json:"hrv,omitempty"`
	SleepHours       float64 `json:"sleep_hours,omitempty"`
	Steps            int     `json:"steps,omitempty"`
	RecoveryScore    int     `json:"recovery_score,omitempty"`
}

// UserContext is everything the core knows about the user for one turn.
type UserContext struct {
	UserID          string            `json:"user_id"`
	TrainerID       string            `json:"trainer_id,omitempty"`
	Name            string            `json:"name,omitempty"`
	ExperienceLevel string            `json:"experience_level,omitempty"`
	Goals           []string          `json:"goals,omitempty"`
	InjuryNotes     []string          `json:"injury_notes,omitempty"`
	AdherenceRate   *float64          `json:"adherence_rate,omitempty"` // 0..1
	Wearables       *WearableSnapshot `json:"wearables,omitempty"`
}

// SuggestedAction is an action the specialist proposes alongside its reply.
// Type is either an approval action type or a client-side tag such as log_workout.
type SuggestedAction struct {
	Type     string         `json:"type"`
	Label    string         `json:"label"`
	Payload  map[string]any `json:"payload,omitempty"`
	Executed bool           `json:"executed"`
}

// ActionLogWorkout asks the client to open the workout logger.
const ActionLogWorkout = "log_workout"

// SpecialistResult is what a specialist produced for one message.
type SpecialistResult struct {
	Category         Category          `json:"category"`
	Text             string            `json:"text"`
	Confidence       float64           `json:"confidence"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
	// ForceEscalation and ForcedReason carry the specialist's own override.
	ForceEscalation bool   `json:"force_escalation,omitempty"`
	ForcedReason    string `json:"forced_reason,omitempty"`
}
