package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/Apsistec/fitos-app-sub001/internal/adapter/http"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/sqlite"
	"github.com/Apsistec/fitos-app-sub001/internal/config"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
	"github.com/Apsistec/fitos-app-sub001/internal/middleware"
	"github.com/Apsistec/fitos-app-sub001/internal/port/llm"
	"github.com/Apsistec/fitos-app-sub001/internal/service"
)

var authCfg = config.Auth{Enabled: true, JWTSecret: "test-secret", Issuer: "fitcoach", TokenTTL: time.Hour}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

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
	return nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	t        *testing.T
	srv      *httptest.Server
	clock    *testClock
	ledger   *service.ApprovalService
	genCalls atomic.Int32
	genErr   atomic.Value // error
}

type apiOptions struct {
	routes cfhttp.RouteOptions
	health cfhttp.Pinger
}

func newAPI(t *testing.T, opts apiOptions) *apiFixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := sqlite.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	f := &apiFixture{
		t:     t,
		clock: &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	gen := llm.GeneratorFunc(func(context.Context, string, []coaching.Turn) (string, error) {
		f.genCalls.Add(1)
		if err, ok := f.genErr.Load().(error); ok && err != nil {
			return "", err
		}
		return "Keep the bar path vertical.", nil
	})

	f.ledger = service.NewApprovalService(store, approval.NewPolicy(nil, 0.6), 24*time.Hour)
	f.ledger.SetClock(f.clock.Now)
	specialists := service.NewSpecialistService(gen, nil, 5)
	coach := service.NewCoachService(specialists, f.ledger, 0.6)
	sweeper := service.NewSweeperService(f.ledger, time.Minute, 2)

	health := opts.health
	if health == nil {
		health = store
	}
	h := &cfhttp.Handlers{
		Coach:     coach,
		Approvals: f.ledger,
		Sweeper:   sweeper,
		LiveFeed:  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) },
		Health:    health,
		Version:   "test",
		Now:       f.clock.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Auth(authCfg))
	cfhttp.MountRoutes(r, h, opts.routes)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) token(sub string, role middleware.Role) string {
	f.t.Helper()
	tok, err := middleware.IssueToken([]byte(authCfg.JWTSecret), authCfg.Issuer, sub, role, time.Hour, time.Now())
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *apiFixture) do(method, path, tok string, body any, hdr ...string) *http.Response {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func messageBody(text, level string) service.MessageRequest {
	return service.MessageRequest{
		UserID:  "user-1",
		Message: text,
		UserContext: coaching.UserContext{
			TrainerID:       "trainer-1",
			ExperienceLevel: level,
		},
	}
}

// openEscalation posts an injury message and returns the pending request id.
func (f *apiFixture) openEscalation() string {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/messages", f.token("app", middleware.RoleService),
		messageBody("I have sharp knee pain during squats", coaching.ExperienceIntermediate))
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("post message: status %d", resp.StatusCode)
	}
	out := decode[service.MessageResponse](f.t, resp)
	if !out.Escalated || len(out.ApprovalIDs) != 1 {
		f.t.Fatalf("expected one escalation entry, got %+v", out)
	}
	return out.ApprovalIDs[0]
}

// openProgramChange posts a beginner program change and returns the pending
// program_modification id.
func (f *apiFixture) openProgramChange() string {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/messages", f.token("app", middleware.RoleService),
		messageBody("Please change my program", coaching.ExperienceBeginner))
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("post message: status %d", resp.StatusCode)
	}
	out := decode[service.MessageResponse](f.t, resp)
	if out.Escalated || len(out.ApprovalIDs) != 1 {
		f.t.Fatalf("expected one program change entry, got %+v", out)
	}
	return out.ApprovalIDs[0]
}

func TestHandleMessage(t *testing.T) {
	f := newAPI(t, apiOptions{})
	resp := f.do(http.MethodPost, "/api/v1/messages", f.token("app", middleware.RoleService),
		messageBody("How should I progress my squat?", coaching.ExperienceIntermediate))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode[service.MessageResponse](t, resp)
	if out.Category != coaching.CategoryWorkout || out.Confidence != 0.85 || out.Escalated {
		t.Errorf("unexpected response %+v", out)
	}
	if out.ResponseText != "Keep the bar path vertical." {
		t.Errorf("response_text = %q", out.ResponseText)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	tests := []struct {
		name     string
		role     middleware.Role
		body     any
		genErr   error
		wantCode int
		wantErr  string
	}{
		{"no token", "", messageBody("hi", ""), nil, http.StatusUnauthorized, ""},
		{"trainer cannot post turns", middleware.RoleTrainer, messageBody("hi", ""), nil, http.StatusForbidden, ""},
		{"missing message", middleware.RoleService, service.MessageRequest{UserID: "user-1"}, nil, http.StatusBadRequest, ""},
		{"malformed body", middleware.RoleService, "not an object", nil, http.StatusBadRequest, ""},
		{"generation failure", middleware.RoleService, messageBody("How do I squat?", ""), errors.New("proxy down"), http.StatusBadGateway, "generation_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t, apiOptions{})
			if tt.genErr != nil {
				f.genErr.Store(tt.genErr)
			}
			tok := ""
			if tt.role != "" {
				tok = f.token("caller", tt.role)
			}
			resp := f.do(http.MethodPost, "/api/v1/messages", tok, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantErr != "" {
				if got := decode[errorBody](t, resp); got.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", got.Code, tt.wantErr)
				}
			}
		})
	}
}

func TestListApprovals(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()
	tok := f.token("trainer-1", middleware.RoleTrainer)

	resp := f.do(http.MethodGet, "/api/v1/trainers/trainer-1/approvals", tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list := decode[[]approval.Request](t, resp)
	if len(list) != 1 || list[0].ID != id || list[0].ActionType != approval.ActionInjuryAccommodation {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = f.do(http.MethodGet, "/api/v1/trainers/trainer-1/approvals?status=approved", tok, nil)
	if got := decode[[]approval.Request](t, resp); len(got) != 0 {
		t.Errorf("approved filter should be empty, got %d", len(got))
	}

	resp = f.do(http.MethodGet, "/api/v1/trainers/trainer-1/approvals?status=bogus", tok, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status: got %d, want 400", resp.StatusCode)
	}

	resp = f.do(http.MethodGet, "/api/v1/trainers/trainer-1/approvals", f.token("trainer-2", middleware.RoleTrainer), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other trainer: got %d, want 403", resp.StatusCode)
	}
}

func TestGetApprovalHidesForeignRequests(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()

	resp := f.do(http.MethodGet, "/api/v1/approvals/"+id, f.token("trainer-1", middleware.RoleTrainer), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assignee: status %d", resp.StatusCode)
	}
	resp = f.do(http.MethodGet, "/api/v1/approvals/"+id, f.token("trainer-2", middleware.RoleTrainer), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign: got %d, want 404", resp.StatusCode)
	}
}

func TestDecideApproval(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()
	path := "/api/v1/approvals/" + id + "/decision"
	yes := true

	// The token subject wins over a body trainer_id.
	resp := f.do(http.MethodPost, path, f.token("trainer-2", middleware.RoleTrainer),
		map[string]any{"trainer_id": "trainer-1", "approved": yes})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("impersonation: got %d, want 403", resp.StatusCode)
	}

	tok := f.token("trainer-1", middleware.RoleTrainer)
	resp = f.do(http.MethodPost, path, tok, map[string]any{"notes": "missing verdict"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing approved: got %d, want 400", resp.StatusCode)
	}

	resp = f.do(http.MethodPost, path, tok, map[string]any{
		"approved":      yes,
		"notes":         "swap to box squats",
		"modifications": map[string]any{"exercise": "box squat"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", resp.StatusCode)
	}
	got := decode[approval.Request](t, resp)
	if got.Status != approval.StatusApproved || got.ResolvedBy != approval.ResolvedByTrainer {
		t.Errorf("status=%s resolved_by=%s", got.Status, got.ResolvedBy)
	}
	if got.Recommendation.Payload["exercise"] != "box squat" {
		t.Errorf("modifications not merged: %v", got.Recommendation.Payload)
	}

	resp = f.do(http.MethodPost, path, tok, map[string]any{"approved": false})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second decision: got %d, want 409", resp.StatusCode)
	}
	if e := decode[errorBody](t, resp); e.Code != "invalid_transition" {
		t.Errorf("code = %q", e.Code)
	}

	resp = f.do(http.MethodPost, "/api/v1/approvals/unknown/decision", tok, map[string]any{"approved": yes})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", resp.StatusCode)
	}
}

func TestDecideApprovalAdminUsesBodyTrainer(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()
	path := "/api/v1/approvals/" + id + "/decision"
	admin := f.token("ops", middleware.RoleAdmin)

	resp := f.do(http.MethodPost, path, admin, map[string]any{"trainer_id": "trainer-2", "approved": false})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong body trainer: got %d, want 403", resp.StatusCode)
	}
	if e := decode[errorBody](t, resp); e.Code != "unauthorized" {
		t.Errorf("code = %q", e.Code)
	}

	resp = f.do(http.MethodPost, path, admin, map[string]any{"trainer_id": "trainer-1", "approved": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin decision: status %d", resp.StatusCode)
	}
	if got := decode[approval.Request](t, resp); got.Status != approval.StatusRejected {
		t.Errorf("status = %s", got.Status)
	}
}

func TestDecideApprovalAfterExpiry(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()
	tok := f.token("trainer-1", middleware.RoleTrainer)

	f.clock.Advance(24*time.Hour + time.Second)
	resp := f.do(http.MethodPost, "/api/v1/approvals/"+id+"/decision", tok, map[string]any{"approved": true})
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("late decision: got %d, want 410", resp.StatusCode)
	}
	if e := decode[errorBody](t, resp); e.Code != "expired" {
		t.Errorf("code = %q", e.Code)
	}

	resp = f.do(http.MethodGet, "/api/v1/approvals/"+id, tok, nil)
	if got := decode[approval.Request](t, resp); got.Status != approval.StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestDecideApprovalAfterTimeoutApproval(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openProgramChange()

	f.clock.Advance(13 * time.Hour)
	resp := f.do(http.MethodPost, "/api/v1/approvals/sweep", f.token("scheduler", middleware.RoleService), nil)
	if got := decode[map[string][]string](t, resp)["affected"]; len(got) != 1 || got[0] != id {
		t.Fatalf("affected = %v, want [%s]", got, id)
	}

	f.clock.Advance(time.Hour)
	resp = f.do(http.MethodPost, "/api/v1/approvals/"+id+"/decision", f.token("trainer-1", middleware.RoleTrainer),
		map[string]any{"approved": false})
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("decision after auto-approval: got %d, want 410", resp.StatusCode)
	}
}

func TestApprovalStats(t *testing.T) {
	f := newAPI(t, apiOptions{})
	f.openEscalation()
	f.openEscalation()

	resp := f.do(http.MethodGet, "/api/v1/trainers/trainer-1/approvals/stats", f.token("trainer-1", middleware.RoleTrainer), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	stats := decode[approval.Stats](t, resp)
	if stats.Total != 2 || stats.ByStatus[approval.StatusPending] != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.OldestPending == nil {
		t.Error("oldest_pending should be set")
	}
}

func TestRunSweep(t *testing.T) {
	f := newAPI(t, apiOptions{})
	id := f.openEscalation()
	svc := f.token("scheduler", middleware.RoleService)

	resp := f.do(http.MethodPost, "/api/v1/approvals/sweep", svc, nil)
	if got := decode[map[string][]string](t, resp)["affected"]; len(got) != 0 {
		t.Fatalf("nothing is due yet, got %v", got)
	}

	f.clock.Advance(24*time.Hour + time.Second)
	resp = f.do(http.MethodPost, "/api/v1/approvals/sweep", svc, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[map[string][]string](t, resp)["affected"]; len(got) != 1 || got[0] != id {
		t.Fatalf("affected = %v, want [%s]", got, id)
	}

	resp = f.do(http.MethodPost, "/api/v1/approvals/sweep", f.token("trainer-1", middleware.RoleTrainer), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("trainer sweep: got %d, want 403", resp.StatusCode)
	}
}

func TestIdempotentMessageReplay(t *testing.T) {
	f := newAPI(t, apiOptions{routes: cfhttp.RouteOptions{Idempotency: &memCache{data: map[string][]byte{}}}})
	tok := f.token("app", middleware.RoleService)
	body := messageBody("I have sharp knee pain during squats", coaching.ExperienceIntermediate)

	first := decode[service.MessageResponse](t, f.do(http.MethodPost, "/api/v1/messages", tok, body, "Idempotency-Key", "turn-1"))
	resp := f.do(http.MethodPost, "/api/v1/messages", tok, body, "Idempotency-Key", "turn-1")
	if resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Error("second call should be a replay")
	}
	second := decode[service.MessageResponse](t, resp)
	if len(first.ApprovalIDs) != 1 || len(second.ApprovalIDs) != 1 || first.ApprovalIDs[0] != second.ApprovalIDs[0] {
		t.Errorf("replay should return the same entry: %v vs %v", first.ApprovalIDs, second.ApprovalIDs)
	}
	if n := f.genCalls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
	pending, _ := f.ledger.ListPending(context.Background(), "trainer-1", "")
	if len(pending) != 1 {
		t.Errorf("replay must not open a second entry, got %d", len(pending))
	}
}

func TestMessageRateLimit(t *testing.T) {
	f := newAPI(t, apiOptions{routes: cfhttp.RouteOptions{MessageLimiter: middleware.NewRateLimiter(0.001, 1)}})
	tok := f.token("app", middleware.RoleService)
	body := messageBody("How do I squat?", "")

	if resp := f.do(http.MethodPost, "/api/v1/messages", tok, body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first: status %d", resp.StatusCode)
	}
	resp := f.do(http.MethodPost, "/api/v1/messages", tok, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second: got %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestHealth(t *testing.T) {
	f := newAPI(t, apiOptions{})
	resp := f.do(http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["status"] != "ok" || got["version"] != "test" {
		t.Errorf("unexpected body %v", got)
	}

	down := newAPI(t, apiOptions{health: stubPinger{err: errors.New("db gone")}})
	resp = down.do(http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded: got %d, want 503", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["status"] != "degraded" {
		t.Errorf("status = %q", got["status"])
	}
}

func TestLiveFeedRequiresAssignee(t *testing.T) {
	f := newAPI(t, apiOptions{})
	tok := f.token("trainer-1", middleware.RoleTrainer)

	resp, err := f.srv.Client().Get(f.srv.URL + "/ws?trainer_id=trainer-2&token=" + tok)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign feed: got %d, want 403", resp.StatusCode)
	}

	resp2, err := f.srv.Client().Get(f.srv.URL + "/ws?trainer_id=trainer-1&token=" + tok)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusNoContent {
		t.Errorf("own feed: got %d, want the feed handler to run", resp2.StatusCode)
	}
}
