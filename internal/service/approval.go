package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Apsistec/fitos-app-sub001/internal/adapter/otel"
	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/logger"
	"github.com/Apsistec/fitos-app-sub001/internal/port/cache"
	"github.com/Apsistec/fitos-app-sub001/internal/port/database"
	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
)

// ApprovalService is the approval ledger: it creates requests through the
// policy, applies trainer decisions and timeout resolutions with
// compare-and-set transitions, and aggregates per-trainer stats.
type ApprovalService struct {
	store        database.ApprovalStore
	policy       *approval.Policy
	reviewWindow time.Duration
	queue        messagequeue.Queue
	notify       *NotificationService
	statsCache   cache.Cache
	statsTTL     time.Duration
	metrics      *cfotel.Metrics
	now          func() time.Time
	newID        func() string
}

// NewApprovalService creates an ApprovalService. A nil policy uses the
// default table; a non-positive review window selects 24h.
func NewApprovalService(store database.ApprovalStore, policy *approval.Policy, reviewWindow time.Duration) *ApprovalService {
	if policy == nil {
		policy = approval.NewPolicy(nil, 0)
	}
	if reviewWindow <= 0 {
		reviewWindow = 24 * time.Hour
	}
	return &ApprovalService{
		store:        store,
		policy:       policy,
		reviewWindow: reviewWindow,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// SetQueue enables lifecycle event publishing.
func (s *ApprovalService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetNotifications enables trainer notifications.
func (s *ApprovalService) SetNotifications(n *NotificationService) { s.notify = n }

// SetStatsCache caches trainer stats in c for ttl.
func (s *ApprovalService) SetStatsCache(c cache.Cache, ttl time.Duration) {
	s.statsCache = c
	s.statsTTL = ttl
}

// SetMetrics attaches the metric instruments.
func (s *ApprovalService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetClock replaces the trusted clock.
func (s *ApprovalService) SetClock(now func() time.Time) { s.now = now }

// Policy returns the policy the ledger evaluates against.
func (s *ApprovalService) Policy() *approval.Policy { return s.policy }

func (s *ApprovalService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create records a new request. When the policy needs no review the request
// is stored already approved and no trainer is notified.
func (s *ApprovalService) Create(ctx context.Context, nr approval.NewRequest) (*approval.Request, error) {
	if nr.UserID == "" || nr.TrainerID == "" {
		return nil, fmt.Errorf("create approval: user_id and trainer_id are required: %w", domain.ErrValidation)
	}
	if !nr.ActionType.Valid() {
		return nil, fmt.Errorf("create approval: unknown action type %q: %w", nr.ActionType, domain.ErrValidation)
	}

	eval := s.policy.Evaluate(nr.ActionType, nr.Recommendation.Confidence, nr.UserContext)
	needsReview := eval.NeedsApproval || nr.ForceReview
	reason := joinReasons(nr.Reason, eval.Reason)

	snapshot, err := json.Marshal(nr.UserContext)
	if err != nil {
		return nil, fmt.Errorf("create approval: snapshot user context: %w", err)
	}

	now := s.clock()
	req := &approval.Request{
		ID:             s.newID(),
		UserID:         nr.UserID,
		TrainerID:      nr.TrainerID,
		Category:       nr.Category,
		ActionType:     nr.ActionType,
		Severity:       eval.Entry.Severity,
		Description:    nr.Description,
		Reason:         reason,
		Recommendation: nr.Recommendation,
		UserContext:    snapshot,
		Status:         approval.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      approval.ExpiryFor(eval.Entry, now, s.reviewWindow),
	}
	subject := messagequeue.SubjectApprovalCreated
	if !needsReview {
		decided := now
		req.Status = approval.StatusApproved
		req.Notes = approval.NotesAutoApproved
		req.ResolvedBy = approval.ResolvedByPolicy
		req.DecidedAt = &decided
		subject = messagequeue.SubjectApprovalAutoApproved
	}

	if err := s.store.CreateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	slog.InfoContext(ctx, "approval created",
		"approval_id", req.ID,
		"trainer_id", req.TrainerID,
		"action_type", req.ActionType,
		"status", req.Status,
		"expires_at", req.ExpiresAt,
	)
	s.metrics.ApprovalCreated(ctx, string(req.ActionType), string(req.Status))
	s.invalidateStats(ctx, req.TrainerID)
	s.publish(ctx, subject, req)
	if needsReview {
		s.notify.NotifyApproval(ctx, req, subject)
	}
	return req, nil
}

// Get returns one request by id.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Request, error) {
	req, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Decide applies a trainer decision. Checks run in order: existence,
// assignment, expiry, terminal state. Any decision after expires_at fails with
// domain.ErrExpired, and a still-pending request is moved to expired first.
func (s *ApprovalService) Decide(ctx context.Context, d approval.Decision) (_ *approval.Request, err error) {
	ctx, span := cfotel.StartDecideSpan(ctx, d.RequestID, d.TrainerID)
	defer func() { cfotel.EndSpan(span, err) }()

	cur, err := s.store.GetApproval(ctx, d.RequestID)
	if err != nil {
		return nil, err
	}
	if cur.TrainerID != d.TrainerID {
		return nil, fmt.Errorf("decide approval %s: %w", d.RequestID, domain.ErrUnauthorized)
	}
	now := s.clock()
	if cur.Status.Terminal() {
		if cur.Expired(now) {
			return nil, fmt.Errorf("decide approval %s: expired at %s: %w", cur.ID, cur.ExpiresAt.Format(time.RFC3339), domain.ErrExpired)
		}
		return nil, terminalError(cur)
	}
	if cur.Expired(now) {
		_, err := s.transition(ctx, approval.Transition{
			ID:         cur.ID,
			To:         approval.StatusExpired,
			Notes:      approval.NotesDecisionExpired,
			ResolvedBy: approval.ResolvedByTimeout,
			DecidedAt:  now,
		}, cur.TrainerID, messagequeue.SubjectApprovalExpired)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("decide approval %s: expired at %s: %w", cur.ID, cur.ExpiresAt.Format(time.RFC3339), domain.ErrExpired)
	}

	t := approval.Transition{
		ID:            cur.ID,
		To:            approval.StatusRejected,
		Notes:         d.Notes,
		Modifications: d.Modifications,
		ResolvedBy:    approval.ResolvedByTrainer,
		DecidedAt:     now,
	}
	if d.Approved {
		t.To = approval.StatusApproved
		if len(d.Modifications) > 0 {
			rec := cur.Recommendation
			rec.Payload = approval.MergeModifications(rec.Payload, d.Modifications)
			t.Recommendation = &rec
		}
	}

	updated, err := s.transition(ctx, t, cur.TrainerID, messagequeue.SubjectApprovalDecided)
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race; report whatever won.
		latest, getErr := s.store.GetApproval(ctx, cur.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, terminalError(latest)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResolveDue applies the timeout resolution to a pending request whose expiry
// has passed: approved when its action type has a finite auto-approve timeout,
// expired otherwise. It reports false when the request was already resolved.
func (s *ApprovalService) ResolveDue(ctx context.Context, req approval.Request, now time.Time) (bool, error) {
	if req.Status != approval.StatusPending || req.ExpiresAt.After(now) {
		return false, nil
	}
	t := approval.Transition{
		ID:         req.ID,
		To:         approval.StatusExpired,
		Notes:      approval.NotesTimeoutExpired,
		ResolvedBy: approval.ResolvedByTimeout,
		DecidedAt:  now.UTC().Truncate(time.Microsecond),
	}
	subject := messagequeue.SubjectApprovalExpired
	if _, finite := s.policy.Table.Entry(req.ActionType).AutoApproveAfter(); finite {
		t.To = approval.StatusApproved
		t.Notes = approval.NotesTimeoutApproved
		subject = messagequeue.SubjectApprovalAutoApproved
	}

	_, err := s.transition(ctx, t, req.TrainerID, subject)
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListPending returns the trainer's requests in status, newest first. An
// empty status lists pending requests.
func (s *ApprovalService) ListPending(ctx context.Context, trainerID string, status approval.Status) ([]approval.Request, error) {
	if trainerID == "" {
		return nil, fmt.Errorf("list approvals: trainer_id is required: %w", domain.ErrValidation)
	}
	if status == "" {
		status = approval.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("list approvals: unknown status %q: %w", status, domain.ErrValidation)
	}
	reqs, err := s.store.ListApprovalsByTrainer(ctx, trainerID, status)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return reqs, nil
}

// Stats aggregates the trainer's ledger, served from the stats cache when warm.
func (s *ApprovalService) Stats(ctx context.Context, trainerID string) (approval.Stats, error) {
	if trainerID == "" {
		return approval.Stats{}, fmt.Errorf("approval stats: trainer_id is required: %w", domain.ErrValidation)
	}
	key := statsKey(trainerID)
	if s.statsCache != nil {
		b, ok, err := s.statsCache.Get(ctx, key)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "stats cache read failed", "trainer_id", trainerID, "error", err)
		case ok:
			var st approval.Stats
			if err := json.Unmarshal(b, &st); err == nil {
				return st, nil
			}
		}
	}

	reqs, err := s.store.ListApprovalsByTrainer(ctx, trainerID, "")
	if err != nil {
		return approval.Stats{}, fmt.Errorf("approval stats: %w", err)
	}
	st := approval.ComputeStats(trainerID, reqs)

	if s.statsCache != nil {
		if b, err := json.Marshal(st); err == nil {
			if err := s.statsCache.Set(ctx, key, b, s.statsTTL); err != nil {
				slog.WarnContext(ctx, "stats cache write failed", "trainer_id", trainerID, "error", err)
			}
		}
	}
	return st, nil
}

// transition runs one compare-and-set and fans out its side effects.
func (s *ApprovalService) transition(ctx context.Context, t approval.Transition, trainerID, subject string) (*approval.Request, error) {
	updated, err := s.store.TransitionApproval(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("transition approval %s to %s: %w", t.ID, t.To, err)
	}

	slog.InfoContext(ctx, "approval resolved",
		"approval_id", updated.ID,
		"trainer_id", trainerID,
		"status", updated.Status,
		"resolved_by", updated.ResolvedBy,
	)
	s.metrics.ApprovalResolved(ctx, string(updated.Status), string(updated.ResolvedBy))
	s.invalidateStats(ctx, trainerID)
	s.publish(ctx, subject, updated)
	s.notify.NotifyApproval(ctx, updated, subject)
	return updated, nil
}

func (s *ApprovalService) publish(ctx context.Context, subject string, req *approval.Request) {
	if s.queue == nil {
		return
	}
	payload := messagequeue.ApprovalEventPayload{
		ApprovalID: req.ID,
		UserID:     req.UserID,
		TrainerID:  req.TrainerID,
		Category:   string(req.Category),
		ActionType: string(req.ActionType),
		Severity:   string(req.Severity),
		Status:     string(req.Status),
		ResolvedBy: string(req.ResolvedBy),
		Reason:     req.Reason,
		ExpiresAt:  req.ExpiresAt,
		OccurredAt: s.clock(),
		RequestID:  logger.RequestID(ctx),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.WarnContext(ctx, "approval event marshal failed", "approval_id", req.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "approval event publish failed", "subject", subject, "approval_id", req.ID, "error", err)
	}
}

func (s *ApprovalService) invalidateStats(ctx context.Context, trainerID string) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Delete(ctx, statsKey(trainerID)); err != nil {
		slog.WarnContext(ctx, "stats cache invalidation failed", "trainer_id", trainerID, "error", err)
	}
}

func statsKey(trainerID string) string { return "stats:" + trainerID }

// terminalError maps a request that already left pending to the error a
// late caller sees.
func terminalError(req *approval.Request) error {
	if req.Status == approval.StatusExpired || req.ResolvedBy == approval.ResolvedByTimeout {
		return fmt.Errorf("approval %s: %w", req.ID, domain.ErrExpired)
	}
	return fmt.Errorf("approval %s already %s: %w", req.ID, req.Status, domain.ErrInvalidTransition)
}

func joinReasons(escalation, policy string) string {
	switch {
	case escalation == "":
		return policy
	case policy == "", policy == escalation:
		return escalation
	}
	return escalation + "; " + policy
}
