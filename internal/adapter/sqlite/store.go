package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Store implements database.ApprovalStore on SQLite. Timestamps are stored
// as UTC unix nanoseconds and JSON documents as TEXT.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const approvalColumns = `id, user_id, trainer_id, category, action_type, severity, description, reason,
	recommendation, user_context, status, notes, modifications, resolved_by, created_at, expires_at, decided_at`

// CreateApproval inserts a new approval request.
func (s *Store) CreateApproval(ctx context.Context, r *approval.Request) error {
	rec, err := json.Marshal(r.Recommendation)
	if err != nil {
		return fmt.Errorf("create approval %s: marshal recommendation: %w", r.ID, err)
	}
	mods, err := nullableJSON(r.Modifications)
	if err != nil {
		return fmt.Errorf("create approval %s: marshal modifications: %w", r.ID, err)
	}
	uc := string(r.UserContext)
	if uc == "" {
		uc = "{}"
	}

	const q = `INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, q,
		r.ID, r.UserID, r.TrainerID, string(r.Category), string(r.ActionType), string(r.Severity),
		r.Description, r.Reason, string(rec), uc, string(r.Status), r.Notes, mods, string(r.ResolvedBy),
		toNanos(r.CreatedAt), toNanos(r.ExpiresAt), nullableNanos(r.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", r.ID, err)
	}
	return nil
}

// GetApproval retrieves an approval request by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
	r, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get approval %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return &r, nil
}

// TransitionApproval applies t only while the row is still pending.
func (s *Store) TransitionApproval(ctx context.Context, t approval.Transition) (*approval.Request, error) {
	mods, err := nullableJSON(t.Modifications)
	if err != nil {
		return nil, fmt.Errorf("transition approval %s: marshal modifications: %w", t.ID, err)
	}
	var rec any
	if t.Recommendation != nil {
		b, err := json.Marshal(t.Recommendation)
		if err != nil {
			return nil, fmt.Errorf("transition approval %s: marshal recommendation: %w", t.ID, err)
		}
		rec = string(b)
	}

	const q = `UPDATE approval_requests SET
		status = ?, notes = ?, modifications = ?,
		recommendation = COALESCE(?, recommendation),
		resolved_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING ` + approvalColumns
	row := s.db.QueryRowContext(ctx, q,
		string(t.To), t.Notes, mods, rec, string(t.ResolvedBy), toNanos(t.DecidedAt), t.ID)
	r, err := scanApproval(row)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, err)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM approval_requests WHERE id = ?`, t.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrConflict)
}

// ListApprovalsByTrainer returns a trainer's requests, newest first.
func (s *Store) ListApprovalsByTrainer(ctx context.Context, trainerID string, status approval.Status) ([]approval.Request, error) {
	const q = `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE trainer_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, trainerID, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list approvals for trainer %s: %w", trainerID, err)
	}
	return collect(rows)
}

// ListDueApprovals returns pending requests whose expiry has been reached.
func (s *Store) ListDueApprovals(ctx context.Context, now time.Time, limit int) ([]approval.Request, error) {
	const q = `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE status = 'pending' AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due approvals: %w", err)
	}
	return collect(rows)
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]approval.Request, error) {
	defer func() { _ = rows.Close() }()

	out := []approval.Request{}
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanApproval(row scannable) (approval.Request, error) {
	var (
		r                     approval.Request
		category, action, sev string
		status, resolvedBy    string
		rec, uc               string
		mods                  sql.NullString
		created, expires      int64
		decided               sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.TrainerID, &category, &action, &sev, &r.Description, &r.Reason,
		&rec, &uc, &status, &r.Notes, &mods, &resolvedBy, &created, &expires, &decided,
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
	r.CreatedAt = fromNanos(created)
	r.ExpiresAt = fromNanos(expires)
	if decided.Valid {
		t := fromNanos(decided.Int64)
		r.DecidedAt = &t
	}

	if err := json.Unmarshal([]byte(rec), &r.Recommendation); err != nil {
		return r, fmt.Errorf("decode recommendation: %w", err)
	}
	if mods.Valid && mods.String != "" {
		if err := json.Unmarshal([]byte(mods.String), &r.Modifications); err != nil {
			return r, fmt.Errorf("decode modifications: %w", err)
		}
	}
	return r, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func nullableJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
