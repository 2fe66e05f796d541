package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listPendingApprovalsTool(),
		s.getApprovalTool(),
		s.approvalStatsTool(),
		s.classifyMessageTool(),
	)
}

func (s *Server) listPendingApprovalsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_pending_approvals",
		mcplib.WithDescription("List a trainer's approval requests, newest first"),
		mcplib.WithString("trainer_id",
			mcplib.Required(),
			mcplib.Description("The trainer whose queue to list"),
		),
		mcplib.WithString("status",
			mcplib.Description("pending (default), approved, rejected or expired"),
			mcplib.Enum("pending", "approved", "rejected", "expired"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListPendingApprovals,
	}
}

func (s *Server) getApprovalTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_approval",
		mcplib.WithDescription("Get one approval request by ID"),
		mcplib.WithString("approval_id",
			mcplib.Required(),
			mcplib.Description("The approval request ID"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetApproval,
	}
}

func (s *Server) approvalStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("approval_stats",
		mcplib.WithDescription("Summarise a trainer's approval ledger"),
		mcplib.WithString("trainer_id",
			mcplib.Required(),
			mcplib.Description("The trainer to summarise"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleApprovalStats,
	}
}

func (s *Server) classifyMessageTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("classify_message",
		mcplib.WithDescription("Return the coaching category a message would be routed to"),
		mcplib.WithString("message",
			mcplib.Required(),
			mcplib.Description("The user message"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleClassifyMessage,
	}
}

func (s *Server) handleListPendingApprovals(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval ledger not configured"), nil
	}
	trainerID, ok := stringArg(req, "trainer_id")
	if !ok {
		return mcplib.NewToolResultError("trainer_id is required"), nil
	}
	status, _ := stringArg(req, "status")
	reqs, err := s.deps.Approvals.ListPending(ctx, trainerID, approval.Status(status))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list approvals", err), nil
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	return marshalResult(reqs, "approvals")
}

func (s *Server) handleGetApproval(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval ledger not configured"), nil
	}
	id, ok := stringArg(req, "approval_id")
	if !ok {
		return mcplib.NewToolResultError("approval_id is required"), nil
	}
	r, err := s.deps.Approvals.Get(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get approval %s", id), err), nil
	}
	return marshalResult(r, "approval")
}

func (s *Server) handleApprovalStats(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval ledger not configured"), nil
	}
	trainerID, ok := stringArg(req, "trainer_id")
	if !ok {
		return mcplib.NewToolResultError("trainer_id is required"), nil
	}
	stats, err := s.deps.Approvals.Stats(ctx, trainerID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to compute stats", err), nil
	}
	return marshalResult(stats, "stats")
}

func (s *Server) handleClassifyMessage(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	msg, ok := stringArg(req, "message")
	if !ok {
		return mcplib.NewToolResultError("message is required"), nil
	}
	return marshalResult(map[string]coaching.Category{"category": coaching.Classify(msg)}, "category")
}

func stringArg(req mcplib.CallToolRequest, name string) (string, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	v, ok := req.GetArguments()[name].(string)
	return v, ok && v != ""
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
