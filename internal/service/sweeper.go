package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/Apsistec/fitos-app-sub001/internal/adapter/otel"
)

// sweepBatch is how many due requests one store query returns.
const sweepBatch = 500

// Lease lets one sweeper instance work per interval.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweeperService resolves pending approvals whose expiry has passed.
type SweeperService struct {
	ledger   *ApprovalService
	interval time.Duration
	workers  int
	lease    Lease
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewSweeperService creates a SweeperService over ledger.
func NewSweeperService(ledger *ApprovalService, interval time.Duration, workers int) *SweeperService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if workers < 1 {
		workers = 1
	}
	return &SweeperService{
		ledger:   ledger,
		interval: interval,
		workers:  workers,
		now:      time.Now,
	}
}

// SetLease makes Run skip ticks while another instance holds the lease.
func (s *SweeperService) SetLease(l Lease) { s.lease = l }

// SetMetrics attaches the metric instruments.
func (s *SweeperService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetClock replaces the trusted clock used by Run.
func (s *SweeperService) SetClock(now func() time.Time) { s.now = now }

// Sweep resolves every pending request with expiry <= now and returns the ids
// it moved, oldest expiry first. Requests already resolved by a racing caller
// are skipped. A failure on one request does not stop the others; all
// failures are returned joined.
func (s *SweeperService) Sweep(ctx context.Context, now time.Time) (affected []string, err error) {
	ctx, span := cfotel.StartSweepSpan(ctx)
	start := time.Now()
	defer func() {
		s.metrics.Sweep(ctx, time.Since(start), len(affected))
		cfotel.EndSpan(span, err)
	}()

	affected = []string{}
	var errs []error
	for {
		due, err := s.ledger.store.ListDueApprovals(ctx, now, sweepBatch)
		if err != nil {
			return affected, errors.Join(append(errs, err)...)
		}
		if len(due) == 0 {
			break
		}

		moved := make([]bool, len(due))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i := range due {
			req := due[i]
			g.Go(func() error {
				ok, err := s.ledger.ResolveDue(gctx, req, now)
				if err != nil {
					slog.ErrorContext(gctx, "sweep resolve failed", "approval_id", req.ID, "error", err)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return nil
				}
				moved[i] = ok
				return nil
			})
		}
		_ = g.Wait()

		progressed := false
		for i, ok := range moved {
			if ok {
				affected = append(affected, due[i].ID)
				progressed = true
			}
		}
		if len(due) < sweepBatch || !progressed {
			break
		}
	}

	if len(affected) > 0 || len(errs) > 0 {
		slog.InfoContext(ctx, "approval sweep finished", "affected", len(affected), "failed", len(errs))
	}
	return affected, errors.Join(errs...)
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *SweeperService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.releaseLease()

	slog.Info("approval sweeper started", "interval", s.interval, "workers", s.workers)
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("approval sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SweeperService) tick(ctx context.Context) {
	if s.lease != nil {
		held, err := s.lease.TryAcquire(ctx)
		if err != nil {
			slog.WarnContext(ctx, "sweeper lease unavailable", "error", err)
			return
		}
		if !held {
			slog.DebugContext(ctx, "sweeper lease held elsewhere, skipping tick")
			return
		}
	}
	if _, err := s.Sweep(ctx, s.now()); err != nil && ctx.Err() == nil {
		slog.WarnContext(ctx, "approval sweep incomplete", "error", err)
	}
}

func (s *SweeperService) releaseLease() {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		slog.Warn("sweeper lease release failed", "error", err)
	}
}
