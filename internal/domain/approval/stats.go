package approval

import (
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Stats aggregates one trainer's ledger.
type Stats struct {
	TrainerID  string                    `json:"trainer_id"`
	Total      int                       `json:"total"`
	ByStatus   map[Status]int            `json:"by_status"`
	ByCategory map[coaching.Category]int `json:"by_category"`
	// MeanDecisionLatency covers trainer decisions only.
	MeanDecisionLatency time.Duration `json:"mean_decision_latency_ns"`
	DecidedCount        int           `json:"decided_count"`
	OldestPending       *time.Time    `json:"oldest_pending,omitempty"`
}

// ComputeStats folds requests into Stats.
func ComputeStats(trainerID string, reqs []Request) Stats {
	s := Stats{
		TrainerID:  trainerID,
		ByStatus:   map[Status]int{StatusPending: 0, StatusApproved: 0, StatusRejected: 0, StatusExpired: 0},
		ByCategory: map[coaching.Category]int{},
	}
	var latency time.Duration
	for i := range reqs {
		r := &reqs[i]
		s.Total++
		s.ByStatus[r.Status]++
		s.ByCategory[r.Category]++

		if r.Status == StatusPending {
			if s.OldestPending == nil || r.CreatedAt.Before(*s.OldestPending) {
				t := r.CreatedAt
				s.OldestPending = &t
			}
		}
		if r.ResolvedBy == ResolvedByTrainer && r.DecidedAt != nil {
			latency += r.DecidedAt.Sub(r.CreatedAt)
			s.DecidedCount++
		}
	}
	if s.DecidedCount > 0 {
		s.MeanDecisionLatency = latency / time.Duration(s.DecidedCount)
	}
	return s
}
