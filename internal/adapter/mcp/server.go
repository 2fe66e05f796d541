// Package mcp exposes read-only trainer tools over the Model Context Protocol,
// so assistant agents can look at a trainer's queue without the REST API.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
)

// ApprovalReader is the slice of the approval ledger the tools read.
type ApprovalReader interface {
	ListPending(ctx context.Context, trainerID string, status approval.Status) ([]approval.Request, error)
	Stats(ctx context.Context, trainerID string) (approval.Stats, error)
	Get(ctx context.Context, id string) (*approval.Request, error)
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKeyHash is a bcrypt hash of the accepted key; empty disables auth.
	APIKeyHash string
}

// ServerDeps are the optional data sources; tools report an error result
// when their source is nil.
type ServerDeps struct {
	Approvals ApprovalReader
	Policy    *approval.Policy
}

// Server is the MCP tool server.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates a Server with every tool and resource registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP endpoint wrapped in API key auth.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKeyHash, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down. It is safe to call before Start.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
