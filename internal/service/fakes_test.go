package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
)

// fakeGenerator returns a canned reply and records the last call.
type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	system  string
	history []coaching.Turn
}

func (g *fakeGenerator) Generate(_ context.Context, system string, history []coaching.Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system = system
	g.history = history
	return g.reply, g.err
}

// memStore is an in-memory ApprovalStore with a mutex-guarded compare-and-set.
type memStore struct {
	mu   sync.Mutex
	reqs map[string]approval.Request
	// beforeTransition, when set, runs inside TransitionApproval before the lock.
	beforeTransition func(id string)
}

func newMemStore() *memStore {
	return &memStore{reqs: make(map[string]approval.Request)}
}

func (s *memStore) CreateApproval(_ context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[req.ID]; ok {
		return fmt.Errorf("create approval %s: %w", req.ID, domain.ErrConflict)
	}
	s.reqs[req.ID] = cloneRequest(*req)
	return nil
}

func (s *memStore) GetApproval(_ context.Context, id string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return nil, fmt.Errorf("get approval %s: %w", id, domain.ErrNotFound)
	}
	out := cloneRequest(r)
	return &out, nil
}

func (s *memStore) TransitionApproval(_ context.Context, t approval.Transition) (*approval.Request, error) {
	if s.beforeTransition != nil {
		s.beforeTransition(t.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[t.ID]
	if !ok {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrNotFound)
	}
	if !approval.CanTransition(r.Status, t.To) {
		return nil, fmt.Errorf("transition approval %s: %w", t.ID, domain.ErrConflict)
	}
	r.Status = t.To
	r.Notes = t.Notes
	r.Modifications = t.Modifications
	r.ResolvedBy = t.ResolvedBy
	decided := t.DecidedAt
	r.DecidedAt = &decided
	if t.Recommendation != nil {
		r.Recommendation = *t.Recommendation
	}
	s.reqs[t.ID] = r
	out := cloneRequest(r)
	return &out, nil
}

func (s *memStore) ListApprovalsByTrainer(_ context.Context, trainerID string, status approval.Status) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []approval.Request{}
	for _, r := range s.reqs {
		if r.TrainerID != trainerID || (status != "" && r.Status != status) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListDueApprovals(_ context.Context, now time.Time, limit int) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []approval.Request{}
	for _, r := range s.reqs {
		if r.Status == approval.StatusPending && !r.ExpiresAt.After(now) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) status(id string) approval.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[id].Status
}

func cloneRequest(r approval.Request) approval.Request {
	b, _ := json.Marshal(r)
	var out approval.Request
	_ = json.Unmarshal(b, &out)
	return out
}

// fakeQueue records published events.
type fakeQueue struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	subject string
	payload messagequeue.ApprovalEventPayload
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.err != nil {
		return q.err
	}
	var p messagequeue.ApprovalEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedEvent{subject: subject, payload: p})
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, e := range q.published {
		out[i] = e.subject
	}
	return out
}

// memCache is a map-backed cache.Cache that ignores TTLs.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes++
	return nil
}

// fixedClock returns a settable clock for services.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
