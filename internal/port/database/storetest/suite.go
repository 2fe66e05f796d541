// Package storetest holds the behavioural suite every ApprovalStore must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/port/database"
)

// base is truncated to microseconds so every backend round-trips it exactly.
var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// NewRequest builds a pending request for trainerID created at base+offset.
func NewRequest(trainerID string, offset time.Duration, action approval.ActionType) *approval.Request {
	created := base.Add(offset)
	uc, _ := json.Marshal(coaching.UserContext{UserID: "user-1", TrainerID: trainerID, ExperienceLevel: "beginner", Goals: []string{"strength"}})
	return &approval.Request{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		TrainerID:   trainerID,
		Category:    coaching.CategoryWorkout,
		ActionType:  action,
		Severity:    approval.SeverityMedium,
		Description: "switch to a 4-day split",
		Reason:      "new user — trainer approval for safety",
		Recommendation: approval.Recommendation{
			Confidence: 0.85,
			Text:       "Try an upper/lower split.",
			Payload:    map[string]any{"days": float64(4)},
		},
		UserContext: uc,
		Status:      approval.StatusPending,
		CreatedAt:   created,
		ExpiresAt:   created.Add(12 * time.Hour),
	}
}

// Run exercises store against the ApprovalStore contract.
func Run(t *testing.T, store database.ApprovalStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		trainer := "trainer-" + uuid.NewString()
		r := NewRequest(trainer, 0, approval.ActionProgramModification)
		if err := store.CreateApproval(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := store.GetApproval(ctx, r.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.TrainerID != trainer || got.Status != approval.StatusPending || got.ActionType != r.ActionType {
			t.Errorf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(r.CreatedAt) || !got.ExpiresAt.Equal(r.ExpiresAt) {
			t.Errorf("timestamps changed: created %v expires %v", got.CreatedAt, got.ExpiresAt)
		}
		if got.DecidedAt != nil {
			t.Errorf("decided_at should be nil, got %v", got.DecidedAt)
		}
		if got.Recommendation.Confidence != 0.85 || got.Recommendation.Payload["days"] != float64(4) {
			t.Errorf("recommendation changed: %+v", got.Recommendation)
		}
		assertJSONEqual(t, r.UserContext, got.UserContext)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetApproval(ctx, uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TransitionOnce", func(t *testing.T) {
		r := NewRequest("trainer-"+uuid.NewString(), 0, approval.ActionProgramModification)
		if err := store.CreateApproval(ctx, r); err != nil {
			t.Fatal(err)
		}
		decided := base.Add(time.Hour)
		rec := approval.Recommendation{Confidence: 0.85, Payload: map[string]any{"days": float64(3)}}
		got, err := store.TransitionApproval(ctx, approval.Transition{
			ID:             r.ID,
			To:             approval.StatusApproved,
			Notes:          "fewer days",
			Modifications:  map[string]any{"days": float64(3)},
			Recommendation: &rec,
			ResolvedBy:     approval.ResolvedByTrainer,
			DecidedAt:      decided,
		})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if got.Status != approval.StatusApproved || got.Notes != "fewer days" || got.ResolvedBy != approval.ResolvedByTrainer {
			t.Errorf("unexpected record %+v", got)
		}
		if got.DecidedAt == nil || !got.DecidedAt.Equal(decided) {
			t.Errorf("decided_at = %v, want %v", got.DecidedAt, decided)
		}
		if got.Recommendation.Payload["days"] != float64(3) || got.Modifications["days"] != float64(3) {
			t.Errorf("modifications not stored: %+v %+v", got.Recommendation, got.Modifications)
		}

		_, err = store.TransitionApproval(ctx, approval.Transition{
			ID: r.ID, To: approval.StatusExpired, ResolvedBy: approval.ResolvedByTimeout, DecidedAt: decided,
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("second transition: expected ErrConflict, got %v", err)
		}
		after, err := store.GetApproval(ctx, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		if after.Status != approval.StatusApproved {
			t.Errorf("losing transition leaked: status %s", after.Status)
		}
	})

	t.Run("TransitionKeepsRecommendationWhenNil", func(t *testing.T) {
		r := NewRequest("trainer-"+uuid.NewString(), 0, approval.ActionWorkoutPlan)
		if err := store.CreateApproval(ctx, r); err != nil {
			t.Fatal(err)
		}
		got, err := store.TransitionApproval(ctx, approval.Transition{
			ID: r.ID, To: approval.StatusRejected, ResolvedBy: approval.ResolvedByTrainer, DecidedAt: base.Add(time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Recommendation.Payload["days"] != float64(4) {
			t.Errorf("recommendation should be unchanged, got %+v", got.Recommendation)
		}
		if len(got.Modifications) != 0 {
			t.Errorf("expected no modifications, got %v", got.Modifications)
		}
	})

	t.Run("TransitionMissing", func(t *testing.T) {
		_, err := store.TransitionApproval(ctx, approval.Transition{
			ID: uuid.NewString(), To: approval.StatusApproved, DecidedAt: base,
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) {
		r := NewRequest("trainer-"+uuid.NewString(), 0, approval.ActionProgramModification)
		if err := store.CreateApproval(ctx, r); err != nil {
			t.Fatal(err)
		}

		const racers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []approval.Status
			conflicts int
		)
		for i := range racers {
			to := approval.StatusApproved
			if i%2 == 1 {
				to = approval.StatusExpired
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := store.TransitionApproval(ctx, approval.Transition{
					ID: r.ID, To: to, ResolvedBy: approval.ResolvedByTimeout, DecidedAt: base.Add(time.Hour),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, got.Status)
				case errors.Is(err, domain.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if len(winners) != 1 || conflicts != racers-1 {
			t.Fatalf("expected 1 winner and %d conflicts, got %d winners and %d conflicts", racers-1, len(winners), conflicts)
		}
		final, err := store.GetApproval(ctx, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		if final.Status != winners[0] {
			t.Errorf("stored status %s differs from winner %s", final.Status, winners[0])
		}
	})

	t.Run("ListByTrainer", func(t *testing.T) {
		trainer := "trainer-" + uuid.NewString()
		older := NewRequest(trainer, 0, approval.ActionWorkoutPlan)
		newer := NewRequest(trainer, time.Hour, approval.ActionNutritionPlan)
		decided := NewRequest(trainer, 30*time.Minute, approval.ActionRecoveryConcern)
		other := NewRequest("trainer-"+uuid.NewString(), 2*time.Hour, approval.ActionWorkoutPlan)
		for _, r := range []*approval.Request{older, newer, decided, other} {
			if err := store.CreateApproval(ctx, r); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := store.TransitionApproval(ctx, approval.Transition{
			ID: decided.ID, To: approval.StatusRejected, ResolvedBy: approval.ResolvedByTrainer, DecidedAt: base.Add(time.Hour),
		}); err != nil {
			t.Fatal(err)
		}

		pending, err := store.ListApprovalsByTrainer(ctx, trainer, approval.StatusPending)
		if err != nil {
			t.Fatal(err)
		}
		if ids(pending) != ids([]approval.Request{*newer, *older}) {
			t.Errorf("pending newest first: got %s", ids(pending))
		}

		all, err := store.ListApprovalsByTrainer(ctx, trainer, "")
		if err != nil {
			t.Fatal(err)
		}
		if ids(all) != ids([]approval.Request{*newer, *decided, *older}) {
			t.Errorf("all newest first: got %s", ids(all))
		}

		none, err := store.ListApprovalsByTrainer(ctx, "trainer-"+uuid.NewString(), "")
		if err != nil {
			t.Fatal(err)
		}
		if none == nil || len(none) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", none)
		}
	})

	t.Run("ListDue", func(t *testing.T) {
		trainer := "trainer-" + uuid.NewString()
		due := NewRequest(trainer, -48*time.Hour, approval.ActionWorkoutPlan)
		notDue := NewRequest(trainer, 0, approval.ActionWorkoutPlan)
		resolved := NewRequest(trainer, -48*time.Hour, approval.ActionWorkoutPlan)
		for _, r := range []*approval.Request{due, notDue, resolved} {
			if err := store.CreateApproval(ctx, r); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := store.TransitionApproval(ctx, approval.Transition{
			ID: resolved.ID, To: approval.StatusApproved, ResolvedBy: approval.ResolvedByTrainer, DecidedAt: base,
		}); err != nil {
			t.Fatal(err)
		}

		now := base.Add(time.Hour)
		got, err := store.ListDueApprovals(ctx, now, 1000)
		if err != nil {
			t.Fatal(err)
		}
		seen := map[string]bool{}
		for _, r := range got {
			seen[r.ID] = true
			if r.Status != approval.StatusPending || r.ExpiresAt.After(now) {
				t.Errorf("ListDue returned %s with status %s expiring %v", r.ID, r.Status, r.ExpiresAt)
			}
		}
		if !seen[due.ID] {
			t.Error("due request missing")
		}
		if seen[notDue.ID] || seen[resolved.ID] {
			t.Error("ListDue returned a request that is not due")
		}

		// expires_at == now counts as due
		exact, err := store.ListDueApprovals(ctx, notDue.ExpiresAt, 1000)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, r := range exact {
			if r.ID == notDue.ID {
				found = true
			}
		}
		if !found {
			t.Error("request expiring exactly at now should be due")
		}
	})
}

func ids(reqs []approval.Request) string {
	var s string
	for _, r := range reqs {
		s += r.ID + ","
	}
	return s
}

func assertJSONEqual(t *testing.T, want, got json.RawMessage) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("decode got: %v", err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("json mismatch:\nwant %s\ngot  %s", want, got)
	}
}
