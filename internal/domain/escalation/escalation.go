// Package escalation decides whether a conversational turn needs a trainer.
package escalation

import (
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Trigger names what caused an escalation.
type Trigger string

const (
	TriggerNone           Trigger = ""
	TriggerInjury         Trigger = "injury"
	TriggerTrainerRequest Trigger = "trainer_request"
	TriggerLowConfidence  Trigger = "low_confidence"
	TriggerDistress       Trigger = "distress"
)

// Escalation reasons.
const (
	ReasonInjury         = "injury or pain mentioned"
	ReasonTrainerRequest = "user requested trainer"
	ReasonLowConfidence  = "low confidence response"
)

// DefaultConfidenceThreshold is the confidence below which a reply escalates.
const DefaultConfidenceThreshold = 0.6

// Decision is the escalation outcome for one turn.
type Decision struct {
	Escalate bool    `json:"escalate"`
	Reason   string  `json:"reason,omitempty"`
	Trigger  Trigger `json:"trigger,omitempty"`
}

var injuryKeywords = []string{
	"injur", "pain", "hurts", "hurt my", "sprain", "fracture", "torn", "swelling",
	"dizzy", "faint", "doctor", "physician", "physio", "medical", "medication",
	"surgery", "diabetes", "pregnan", "heart condition", "blood pressure",
}

var trainerRequestPhrases = []string{
	"talk to my trainer", "speak to my trainer", "speak with my trainer",
	"ask my trainer", "contact my trainer", "message my trainer", "need my trainer",
	"talk to a trainer", "speak to a trainer", "real trainer", "human trainer",
	"talk to a human", "speak to a human", "real person",
}

// MentionsInjury reports whether the message contains an injury, pain or
// medical keyword.
func MentionsInjury(message string) bool {
	return coaching.ContainsAny(message, injuryKeywords)
}

// RequestsTrainer reports whether the message explicitly asks for a trainer.
func RequestsTrainer(message string) bool {
	return coaching.ContainsAny(message, trainerRequestPhrases)
}

// Evaluator applies the escalation checks in precedence order.
type Evaluator struct {
	ConfidenceThreshold float64
}

// NewEvaluator returns an Evaluator; a non-positive threshold selects the default.
func NewEvaluator(threshold float64) Evaluator {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return Evaluator{ConfidenceThreshold: threshold}
}

// Evaluate runs the checks: injury, then explicit trainer request, then low
// confidence. The first that fires supplies the reason. The user context is
// accepted for parity with the policy evaluator; no current check reads it.
func (e Evaluator) Evaluate(message string, res coaching.SpecialistResult, _ coaching.UserContext) Decision {
	switch {
	case MentionsInjury(message):
		return Decision{Escalate: true, Reason: ReasonInjury, Trigger: TriggerInjury}
	case RequestsTrainer(message):
		return Decision{Escalate: true, Reason: ReasonTrainerRequest, Trigger: TriggerTrainerRequest}
	case res.Confidence < e.ConfidenceThreshold:
		return Decision{Escalate: true, Reason: ReasonLowConfidence, Trigger: TriggerLowConfidence}
	}
	return Decision{}
}

// Forced converts a specialist override into a Decision.
func Forced(res coaching.SpecialistResult) Decision {
	if !res.ForceEscalation {
		return Decision{}
	}
	reason := res.ForcedReason
	if reason == "" {
		reason = coaching.ReasonDistress
	}
	return Decision{Escalate: true, Reason: reason, Trigger: TriggerDistress}
}

// Merge ORs the two signals. The forced reason, when present, is kept.
func Merge(forced, evaluated Decision) Decision {
	if !forced.Escalate {
		return evaluated
	}
	if forced.Reason == "" && evaluated.Escalate {
		forced.Reason = evaluated.Reason
	}
	return forced
}
