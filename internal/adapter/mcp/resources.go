package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const policyURI = "fitcoach://approval-policy"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			policyURI,
			"Approval Policy",
			mcplib.WithResourceDescription("Per-action severity, auto-approve window and justification"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
}

type policyView struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Actions             any     `json:"actions"`
}

func (s *Server) handlePolicyResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"approval policy not configured"}`
	if s.deps.Policy != nil {
		data, err := json.Marshal(policyView{
			ConfidenceThreshold: s.deps.Policy.ConfidenceThreshold,
			Actions:             s.deps.Policy.Table,
		})
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
