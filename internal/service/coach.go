package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cfotel "github.com/Apsistec/fitos-app-sub001/internal/adapter/otel"
	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/escalation"
)

// MessageRequest is one inbound coaching turn.
type MessageRequest struct {
	UserID      string               `json:"user_id"`
	Message     string               `json:"message"`
	UserContext coaching.UserContext `json:"user_context"`
	History     []coaching.Turn      `json:"history,omitempty"`
}

// MessageResponse is what the caller of HandleMessage receives.
type MessageResponse struct {
	ResponseText     string                     `json:"response_text"`
	Category         coaching.Category          `json:"category"`
	Confidence       float64                    `json:"confidence"`
	SuggestedActions []coaching.SuggestedAction `json:"suggested_actions"`
	Escalated        bool                       `json:"escalated"`
	Reason           string                     `json:"reason,omitempty"`
	ApprovalIDs      []string                   `json:"approval_ids,omitempty"`
}

// CoachService runs one message through classify, specialist, escalation
// check and, when needed, the approval ledger. It never waits for a trainer:
// the human side lives entirely in the ledger.
type CoachService struct {
	specialists *SpecialistService
	ledger      *ApprovalService
	evaluator   escalation.Evaluator
	metrics     *cfotel.Metrics
}

// NewCoachService creates a CoachService.
func NewCoachService(specialists *SpecialistService, ledger *ApprovalService, confidenceThreshold float64) *CoachService {
	return &CoachService{
		specialists: specialists,
		ledger:      ledger,
		evaluator:   escalation.NewEvaluator(confidenceThreshold),
	}
}

// SetMetrics attaches the metric instruments.
func (s *CoachService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// HandleMessage answers one message. A generation failure is returned as
// domain.ErrGenerationFailure with no substitute reply.
func (s *CoachService) HandleMessage(ctx context.Context, req MessageRequest) (_ *MessageResponse, err error) {
	ctx, span := cfotel.StartHandleMessageSpan(ctx, req.UserID)
	defer func() { cfotel.EndSpan(span, err) }()

	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("handle message: user_id and message are required: %w", domain.ErrValidation)
	}
	uc := req.UserContext
	if uc.UserID == "" {
		uc.UserID = req.UserID
	}

	category := coaching.Classify(req.Message)

	res, err := s.specialists.Invoke(ctx, category, req.Message, uc, req.History)
	if err != nil {
		return nil, err
	}

	// Both signals always run; the forced reason wins.
	decision := escalation.Merge(escalation.Forced(res), s.evaluator.Evaluate(req.Message, res, uc))

	resp := &MessageResponse{
		ResponseText:     res.Text,
		Category:         res.Category,
		Confidence:       res.Confidence,
		SuggestedActions: res.SuggestedActions,
		Escalated:        decision.Escalate,
		Reason:           decision.Reason,
	}

	ids, err := s.openApprovals(ctx, req.Message, uc, res, decision, resp.SuggestedActions)
	if err != nil {
		return nil, err
	}
	resp.ApprovalIDs = ids

	s.metrics.MessageHandled(ctx, string(category), decision.Escalate, string(decision.Trigger))
	slog.InfoContext(ctx, "message handled",
		"user_id", req.UserID,
		"category", category,
		"confidence", res.Confidence,
		"escalated", decision.Escalate,
		"trigger", decision.Trigger,
		"approvals", len(ids),
	)
	return resp, nil
}

// openApprovals creates the ledger entries for an escalated turn and for each
// suggested action that names an approval action type. A failure to record
// the escalation fails the turn; suggested-action failures are logged.
func (s *CoachService) openApprovals(ctx context.Context, message string, uc coaching.UserContext, res coaching.SpecialistResult, d escalation.Decision, actions []coaching.SuggestedAction) ([]string, error) {
	submittable := 0
	for _, a := range actions {
		if _, ok := approval.ParseActionType(a.Type); ok {
			submittable++
		}
	}
	if !d.Escalate && submittable == 0 {
		return nil, nil
	}
	if uc.TrainerID == "" {
		slog.WarnContext(ctx, "no trainer assigned, approval not recorded",
			"user_id", uc.UserID, "escalated", d.Escalate, "trigger", d.Trigger)
		return nil, nil
	}

	var ids []string
	var escalationType approval.ActionType
	if d.Escalate {
		escalationType = escalationAction(d.Trigger, res.Category)
		req, err := s.ledger.Create(ctx, approval.NewRequest{
			UserID:      uc.UserID,
			TrainerID:   uc.TrainerID,
			Category:    res.Category,
			ActionType:  escalationType,
			Description: fmt.Sprintf("Escalated %s conversation: %q", res.Category, message),
			Recommendation: approval.Recommendation{
				Confidence: res.Confidence,
				Text:       res.Text,
				Payload:    map[string]any{"message": message, "trigger": string(d.Trigger)},
			},
			UserContext: uc,
			Reason:      d.Reason,
			ForceReview: true,
		})
		if err != nil {
			return nil, fmt.Errorf("record escalation: %w", err)
		}
		ids = append(ids, req.ID)
		annotate(actions, escalationType, req)
	}

	for i := range actions {
		a := &actions[i]
		at, ok := approval.ParseActionType(a.Type)
		if !ok || at == escalationType {
			continue
		}
		req, err := s.ledger.Create(ctx, approval.NewRequest{
			UserID:      uc.UserID,
			TrainerID:   uc.TrainerID,
			Category:    res.Category,
			ActionType:  at,
			Description: a.Label,
			Recommendation: approval.Recommendation{
				Confidence: res.Confidence,
				Text:       res.Text,
				Payload:    a.Payload,
			},
			UserContext: uc,
		})
		if err != nil {
			slog.ErrorContext(ctx, "suggested action approval failed", "action_type", at, "user_id", uc.UserID, "error", err)
			continue
		}
		ids = append(ids, req.ID)
		annotate(actions[i:i+1], at, req)
	}
	return ids, nil
}

// annotate tags suggested actions of type at with the ledger entry.
func annotate(actions []coaching.SuggestedAction, at approval.ActionType, req *approval.Request) {
	for i := range actions {
		if actions[i].Type != string(at) {
			continue
		}
		p := make(map[string]any, len(actions[i].Payload)+2)
		for k, v := range actions[i].Payload {
			p[k] = v
		}
		p["approval_id"] = req.ID
		p["approval_status"] = string(req.Status)
		actions[i].Payload = p
	}
}

// escalationAction picks the action type for an escalated turn.
func escalationAction(trigger escalation.Trigger, category coaching.Category) approval.ActionType {
	switch trigger {
	case escalation.TriggerInjury:
		if category == coaching.CategoryNutrition {
			return approval.ActionNutritionMedical
		}
		return approval.ActionInjuryAccommodation
	case escalation.TriggerTrainerRequest:
		return approval.ActionTrainerConsult
	case escalation.TriggerDistress:
		return approval.ActionWellbeingConcern
	default:
		return approval.DefaultActionFor(category)
	}
}
