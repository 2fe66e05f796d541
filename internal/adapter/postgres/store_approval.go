package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

const approvalColumns = `id, user_id, trainer_id, category, action_type, severity, description, reason,
	recommendation, user_context, status, notes, modifications, resolved_by, created_at, expires_at, decided_at`

// CreateApproval inserts a new approval request.
func (s *Store) CreateApproval(ctx context.Context, r *approval.Request) error {
	rec, err := json.Marshal(r.Recommendation)
	if err != nil {
		return fmt.Errorf("create approval %s: marshal recommendation: %w", r.ID, err)
	}
	mods, err := jsonOrNull(r.Modifications)
	if err != nil {
		return fmt.Errorf("create approval %s: marshal modifications: %w", r.ID, err)
	}
	uc := []byte(r.UserContext)
	if len(uc) == 0 {
		uc = []byte("{}")
	}

	const q = `INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.TrainerID, string(r.Category), string(r.ActionType), string(r.Severity),
		r.Description, r.Reason, rec, uc, string(r.Status), r.Notes, mods, string(r.ResolvedBy),
		r.CreatedAt, r.ExpiresAt, r.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", r.ID, err)
	}
	return nil
}

// GetApproval retrieves an approval request by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	r, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &r, nil
}

// TransitionApproval moves a pending request to a terminal status. The WHERE
// clause on status makes the check and the write one statement.
func (s *Store) TransitionApproval(ctx context.Context, t approval.Transition) (*approval.Request, error) {
	mods, err := jsonOrNull(t.Modifications)
	if err != nil {
		return nil, fmt.Errorf("transition approval %s: marshal modifications: %w", t.ID, err)
	}
	var rec []byte
	if t.Recommendation != nil {
		if rec, err = json.Marshal(t.Recommendation); err != nil {
			return nil, fmt.Errorf("transition approval %s: marshal recommendation: %w", t.ID, err)
		}
	}

	const q = `UPDATE approval_requests SET
		status = $2, notes = $3, modifications = $4,
		recommendation = COALESCE($5::jsonb, recommendation),
		resolved_by = $6, decided_at = $7
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + approvalColumns
	row := s.pool.QueryRow(ctx, q, t.ID, string(t.To), t.Notes, mods, rec, string(t.ResolvedBy), t.DecidedAt)
	r, err := scanApproval(row)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, err)
	}
	if !exists {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrConflict)
}

// ListApprovalsByTrainer returns a trainer's requests, newest first.
func (s *Store) ListApprovalsByTrainer(ctx context.Context, trainerID string, status approval.Status) ([]approval.Request, error) {
	const q = `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE trainer_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, q, trainerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list approvals for trainer %s: %w", trainerID, err)
	}
	return collectApprovals(rows)
}

// ListDueApprovals returns pending requests whose expiry has been reached.
func (s *Store) ListDueApprovals(ctx context.Context, now time.Time, limit int) ([]approval.Request, error) {
	const q = `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due approvals: %w", err)
	}
	return collectApprovals(rows)
}

func collectApprovals(rows pgx.Rows) ([]approval.Request, error) {
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orEmpty(out), nil
}

func scanApproval(row scannable) (approval.Request, error) {
	var (
		r                     approval.Request
		category, action, sev string
		status, resolvedBy    string
		rec, uc, mods         []byte
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.TrainerID, &category, &action, &sev, &r.Description, &r.Reason,
		&rec, &uc, &status, &r.Notes, &mods, &resolvedBy, &r.CreatedAt, &r.ExpiresAt, &r.DecidedAt,
	)
	if err != nil {
		return r, err
	}
	r.Category = coaching.Category(category)
	r.ActionType = approval.ActionType(action)
	r.Severity = approval.Severity(sev)
	r.Status = approval.Status(status)
	r.ResolvedBy = approval.Resolution(resolvedBy)
	r.UserContext = json.RawMessage(uc)

	if err := json.Unmarshal(rec, &r.Recommendation); err != nil {
		return r, fmt.Errorf("decode recommendation: %w", err)
	}
	if len(mods) > 0 {
		if err := json.Unmarshal(mods, &r.Modifications); err != nil {
			return r, fmt.Errorf("decode modifications: %w", err)
		}
	}
	return r, nil
}
