package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cfotel "github.com/Apsistec/fitos-app-sub001/internal/adapter/otel"
	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/port/llm"
	"github.com/Apsistec/fitos-app-sub001/internal/resilience"
)

var programChangePhrases = []string{"new program", "change my program", "switch my program", "update my program"}

var highRiskPhrases = []string{
	"max out", "1rm", "one rep max", "plyometric", "box jump", "olympic lift",
	"snatch", "clean and jerk", "failure set",
}

var mealPlanPhrases = []string{"meal plan", "diet plan"}

var specialistRoles = map[coaching.Category]string{
	coaching.CategoryWorkout:    "You are a strength and conditioning coach. Give safe, progressive training advice matched to the client's level.",
	coaching.CategoryNutrition:  "You are a sports nutrition coach. Give practical food and hydration guidance; do not prescribe for medical conditions.",
	coaching.CategoryRecovery:   "You are a recovery coach. Advise on sleep, rest, mobility and load management using any wearable readings provided.",
	coaching.CategoryMotivation: "You are a supportive accountability coach. Be warm and concrete; encourage the client to involve their trainer.",
	coaching.CategoryGeneral:    "You are a friendly fitness coach. Answer briefly and route detailed questions to the right topic.",
}

// SpecialistService produces one specialist reply per message.
type SpecialistService struct {
	gen          llm.Generator
	pool         *resilience.Pool
	historyTurns int
	metrics      *cfotel.Metrics
}

// NewSpecialistService creates a SpecialistService. A nil pool runs
// generations without a concurrency cap.
func NewSpecialistService(gen llm.Generator, pool *resilience.Pool, historyTurns int) *SpecialistService {
	if historyTurns < 1 {
		historyTurns = 5
	}
	return &SpecialistService{gen: gen, pool: pool, historyTurns: historyTurns}
}

// SetMetrics attaches the metric instruments.
func (s *SpecialistService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Invoke runs the specialist for category. Generation errors and empty replies
// are reported as domain.ErrGenerationFailure.
func (s *SpecialistService) Invoke(ctx context.Context, category coaching.Category, message string, uc coaching.UserContext, history []coaching.Turn) (res coaching.SpecialistResult, err error) {
	ctx, span := cfotel.StartSpecialistSpan(ctx, string(category))
	defer func() { cfotel.EndSpan(span, err) }()

	turns := coaching.TruncateHistory(history, s.historyTurns)
	turns = append(turns, coaching.Turn{Role: "user", Content: message})
	system := buildSystemPrompt(category, uc)

	var text string
	start := time.Now()
	genErr := s.pool.Run(ctx, func() error {
		var e error
		text, e = s.gen.Generate(ctx, system, turns)
		return e
	})
	if genErr == nil && strings.TrimSpace(text) == "" {
		genErr = errors.New("empty reply")
	}
	s.metrics.Generation(ctx, string(category), time.Since(start), genErr)
	if genErr != nil {
		slog.ErrorContext(ctx, "specialist generation failed", "category", category, "error", genErr)
		return coaching.SpecialistResult{}, fmt.Errorf("%w: %s specialist: %w", domain.ErrGenerationFailure, category, genErr)
	}

	res = coaching.SpecialistResult{
		Category:         category,
		Text:             strings.TrimSpace(text),
		Confidence:       category.BaseConfidence(),
		SuggestedActions: suggestActions(category, message),
	}

	if category == coaching.CategoryMotivation && coaching.DetectDistress(message) {
		res.Confidence = coaching.DistressConfidence
		res.ForceEscalation = true
		res.ForcedReason = coaching.ReasonDistress
	}
	return res, nil
}

func suggestActions(category coaching.Category, message string) []coaching.SuggestedAction {
	actions := []coaching.SuggestedAction{}
	switch category {
	case coaching.CategoryWorkout:
		if coaching.HasLoggingIntent(message) {
			actions = append(actions, coaching.SuggestedAction{
				Type:  coaching.ActionLogWorkout,
				Label: "Log this workout",
			})
		}
		if coaching.ContainsAny(message, programChangePhrases) {
			actions = append(actions, coaching.SuggestedAction{
				Type:    string(approval.ActionProgramModification),
				Label:   "Update training program",
				Payload: map[string]any{"request": message},
			})
		}
		if coaching.ContainsAny(message, highRiskPhrases) {
			actions = append(actions, coaching.SuggestedAction{
				Type:    string(approval.ActionHighRiskExercise),
				Label:   "Add high-risk movement",
				Payload: map[string]any{"request": message},
			})
		}
	case coaching.CategoryNutrition:
		if coaching.ContainsAny(message, mealPlanPhrases) {
			actions = append(actions, coaching.SuggestedAction{
				Type:    string(approval.ActionNutritionPlan),
				Label:   "Create meal plan",
				Payload: map[string]any{"request": message},
			})
		}
	}
	return actions
}

func buildSystemPrompt(category coaching.Category, uc coaching.UserContext) string {
	var b strings.Builder
	role, ok := specialistRoles[category]
	if !ok {
		role = specialistRoles[coaching.CategoryGeneral]
	}
	b.WriteString(role)
	b.WriteString("\n\nClient profile:\n")

	if uc.Name != "" {
		fmt.Fprintf(&b, "- Name: %s\n", uc.Name)
	}
	level := uc.ExperienceLevel
	if level == "" {
		level = "unknown"
	}
	fmt.Fprintf(&b, "- Experience level: %s\n", level)
	if len(uc.Goals) > 0 {
		fmt.Fprintf(&b, "- Goals: %s\n", strings.Join(uc.Goals, ", "))
	}
	if len(uc.InjuryNotes) > 0 {
		fmt.Fprintf(&b, "- Injury notes: %s\n", strings.Join(uc.InjuryNotes, "; "))
	}
	if uc.AdherenceRate != nil {
		fmt.Fprintf(&b, "- Adherence: %.0f%%\n", *uc.AdherenceRate*100)
	}
	if w := uc.Wearables; w != nil {
		if w.RestingHeartRate > 0 {
			fmt.Fprintf(&b, "- Resting heart rate: %d bpm\n", w.RestingHeartRate)
		}
		if w.HRV > 0 {
			fmt.Fprintf(&b, "- HRV: %.0f ms\n", w.HRV)
		}
		if w.SleepHours > 0 {
			fmt.Fprintf(&b, "- Sleep: %.1f h\n", w.SleepHours)
		}
		if w.Steps > 0 {
			fmt.Fprintf(&b, "- Steps today: %d\n", w.Steps)
		}
		if w.RecoveryScore > 0 {
			fmt.Fprintf(&b, "- Recovery score: %d\n", w.RecoveryScore)
		}
	}
	b.WriteString("\nKeep the reply under 200 words. Never diagnose injuries or medical conditions.")
	return b.String()
}
