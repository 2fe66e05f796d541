package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/crypto/bcrypt"

	cfmcp "github.com/Apsistec/fitos-app-sub001/internal/adapter/mcp"
	"github.com/Apsistec/fitos-app-sub001/internal/domain"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// --- Mocks ---

type mockLedger struct {
	reqs       []approval.Request
	stats      approval.Stats
	err        error
	lastStatus approval.Status
}

func (m *mockLedger) ListPending(_ context.Context, trainerID string, status approval.Status) ([]approval.Request, error) {
	m.lastStatus = status
	if m.err != nil {
		return nil, m.err
	}
	var out []approval.Request
	for i := range m.reqs {
		if m.reqs[i].TrainerID == trainerID {
			out = append(out, m.reqs[i])
		}
	}
	return out, nil
}

func (m *mockLedger) Stats(_ context.Context, trainerID string) (approval.Stats, error) {
	s := m.stats
	s.TrainerID = trainerID
	return s, m.err
}

func (m *mockLedger) Get(_ context.Context, id string) (*approval.Request, error) {
	for i := range m.reqs {
		if m.reqs[i].ID == id {
			return &m.reqs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func newServer(deps cfmcp.ServerDeps) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)
}

func call(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	if err := newServer(cfmcp.ServerDeps{}).Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	tools := newServer(cfmcp.ServerDeps{}).MCPServer().ListTools()

	expected := map[string]bool{
		"list_pending_approvals": false,
		"get_approval":           false,
		"approval_stats":         false,
		"classify_message":       false,
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for name := range tools {
		if _, ok := expected[name]; !ok {
			t.Errorf("unexpected tool: %s", name)
		}
		expected[name] = true
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestListPendingApprovals(t *testing.T) {
	ledger := &mockLedger{reqs: []approval.Request{
		{ID: "a1", TrainerID: "trainer-1", Status: approval.StatusPending},
		{ID: "a2", TrainerID: "trainer-2", Status: approval.StatusPending},
	}}
	s := newServer(cfmcp.ServerDeps{Approvals: ledger})

	var reqs []approval.Request
	text := resultText(t, call(t, s, "list_pending_approvals", map[string]any{"trainer_id": "trainer-1"}))
	if err := json.Unmarshal([]byte(text), &reqs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "a1" {
		t.Errorf("got %+v", reqs)
	}
	if ledger.lastStatus != "" {
		t.Errorf("status forwarded as %q, want empty (ledger default)", ledger.lastStatus)
	}

	text = resultText(t, call(t, s, "list_pending_approvals", map[string]any{"trainer_id": "nobody", "status": "expired"}))
	if text != "[]" {
		t.Errorf("empty queue = %s, want []", text)
	}
	if ledger.lastStatus != approval.StatusExpired {
		t.Errorf("status = %q, want expired", ledger.lastStatus)
	}
}

func TestToolArgumentErrors(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Approvals: &mockLedger{}})
	for _, name := range []string{"list_pending_approvals", "get_approval", "approval_stats", "classify_message"} {
		t.Run(name, func(t *testing.T) {
			if !call(t, s, name, nil).IsError {
				t.Fatal("expected error result for missing argument")
			}
		})
	}
}

func TestToolLedgerErrors(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Approvals: &mockLedger{err: errors.New("db down")}})
	if !call(t, s, "list_pending_approvals", map[string]any{"trainer_id": "t"}).IsError {
		t.Error("list: expected error result")
	}
	if !call(t, s, "approval_stats", map[string]any{"trainer_id": "t"}).IsError {
		t.Error("stats: expected error result")
	}
	if !call(t, s, "get_approval", map[string]any{"approval_id": "missing"}).IsError {
		t.Error("get: expected error result")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})
	if !call(t, s, "list_pending_approvals", map[string]any{"trainer_id": "t"}).IsError {
		t.Fatal("expected error result when ledger is nil")
	}
	// Classification needs no ledger.
	if call(t, s, "classify_message", map[string]any{"message": "hi"}).IsError {
		t.Fatal("classify_message should work without deps")
	}
}

func TestApprovalStats(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Approvals: &mockLedger{stats: approval.Stats{Total: 3}}})

	var stats approval.Stats
	if err := json.Unmarshal([]byte(resultText(t, call(t, s, "approval_stats", map[string]any{"trainer_id": "trainer-1"}))), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TrainerID != "trainer-1" || stats.Total != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClassifyMessage(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})
	text := resultText(t, call(t, s, "classify_message", map[string]any{"message": "how much protein should I eat?"}))

	var got map[string]coaching.Category
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["category"] != coaching.CategoryNutrition {
		t.Errorf("category = %q, want nutrition", got["category"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := cfmcp.AuthMiddleware(string(hash), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusForbidden},
		{"bearer", "Bearer s3cret", http.StatusOK},
		{"bare key", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	called := false
	h := cfmcp.AuthMiddleware("", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody))
	if !called {
		t.Fatal("empty hash should pass requests through")
	}
}
