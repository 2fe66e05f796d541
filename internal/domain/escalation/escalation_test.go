package escalation

import (
	"testing"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

func TestEvaluate_Precedence(t *testing.T) {
	e := NewEvaluator(0)
	uc := coaching.UserContext{UserID: "u1"}

	tests := []struct {
		name       string
		msg        string
		confidence float64
		want       Decision
	}{
		{
			name:       "injury beats everything",
			msg:        "I have sharp knee pain, can I talk to my trainer?",
			confidence: 0.1,
			want:       Decision{Escalate: true, Reason: ReasonInjury, Trigger: TriggerInjury},
		},
		{
			name:       "trainer request beats low confidence",
			msg:        "Can I speak to my trainer about this?",
			confidence: 0.2,
			want:       Decision{Escalate: true, Reason: ReasonTrainerRequest, Trigger: TriggerTrainerRequest},
		},
		{
			name:       "low confidence",
			msg:        "what's a good playlist",
			confidence: 0.59,
			want:       Decision{Escalate: true, Reason: ReasonLowConfidence, Trigger: TriggerLowConfidence},
		},
		{
			name:       "threshold is exclusive",
			msg:        "what's a good playlist",
			confidence: 0.6,
			want:       Decision{},
		},
		{
			name:       "no escalation",
			msg:        "How should I progress my squat?",
			confidence: 0.85,
			want:       Decision{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.msg, coaching.SpecialistResult{Confidence: tt.confidence}, uc)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_InjuryIgnoresConfidence(t *testing.T) {
	e := NewEvaluator(DefaultConfidenceThreshold)
	msgs := []string{
		"I have sharp knee pain during squats",
		"my shoulder INJURY flared up",
		"my doctor changed my medication",
	}
	for _, m := range msgs {
		for _, c := range []float64{0, 0.3, 0.59, 0.6, 0.85, 1} {
			d := e.Evaluate(m, coaching.SpecialistResult{Confidence: c}, coaching.UserContext{})
			if !d.Escalate || d.Reason != ReasonInjury {
				t.Errorf("msg %q conf %v: got %+v", m, c, d)
			}
		}
	}
}

func TestEvaluate_LowConfidenceBelowThreshold(t *testing.T) {
	e := NewEvaluator(0)
	for c := 0.0; c < 0.6; c += 0.05 {
		d := e.Evaluate("tell me a joke", coaching.SpecialistResult{Confidence: c}, coaching.UserContext{})
		if !d.Escalate || d.Reason != ReasonLowConfidence {
			t.Errorf("conf %v: got %+v", c, d)
		}
	}
}

func TestMerge(t *testing.T) {
	forced := Decision{Escalate: true, Reason: coaching.ReasonDistress, Trigger: TriggerDistress}
	injury := Decision{Escalate: true, Reason: ReasonInjury, Trigger: TriggerInjury}

	if got := Merge(forced, injury); got != forced {
		t.Errorf("forced reason must win, got %+v", got)
	}
	if got := Merge(Decision{}, injury); got != injury {
		t.Errorf("evaluated should pass through, got %+v", got)
	}
	if got := Merge(forced, Decision{}); got != forced {
		t.Errorf("forced alone should escalate, got %+v", got)
	}
	if got := Merge(Decision{}, Decision{}); got.Escalate {
		t.Errorf("expected no escalation, got %+v", got)
	}

	unnamed := Decision{Escalate: true, Trigger: TriggerDistress}
	if got := Merge(unnamed, injury); got.Reason != ReasonInjury || got.Trigger != TriggerDistress {
		t.Errorf("unnamed forced decision should borrow the evaluated reason, got %+v", got)
	}
}

func TestForced(t *testing.T) {
	if d := Forced(coaching.SpecialistResult{}); d.Escalate {
		t.Errorf("expected no forced escalation, got %+v", d)
	}
	d := Forced(coaching.SpecialistResult{ForceEscalation: true})
	if !d.Escalate || d.Reason != coaching.ReasonDistress || d.Trigger != TriggerDistress {
		t.Errorf("unexpected forced decision %+v", d)
	}
}

// The distress override pins confidence below the threshold, so the
// evaluator's own low-confidence check must always agree with it.
func TestDistressOverrideAlwaysBelowThreshold(t *testing.T) {
	e := NewEvaluator(DefaultConfidenceThreshold)
	msgs := []string{"I feel hopeless", "so depressed about my progress", "I feel worthless"}
	for _, m := range msgs {
		res := coaching.SpecialistResult{
			Confidence:      coaching.DistressConfidence,
			ForceEscalation: true,
			ForcedReason:    coaching.ReasonDistress,
		}
		d := e.Evaluate(m, res, coaching.UserContext{})
		if !d.Escalate {
			t.Errorf("%q: evaluator disagreed with distress override: %+v", m, d)
		}
		merged := Merge(Forced(res), d)
		if merged.Reason != coaching.ReasonDistress {
			t.Errorf("%q: forced reason overwritten: %+v", m, merged)
		}
	}
}
