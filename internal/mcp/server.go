// Package mcp is the thin JSON-RPC-over-stdio adapter: each tool maps
// 1:1 onto one Service operation, and nothing but protocol frames is ever
// written to stdout (logging goes to stderr via the log package).
// Grounded on the teacher's internal/mcp/server.go lifecycle (build
// server, register composable tools, serve stdio, shut down on signal).
package mcp

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/codeindex/core/internal/service"
)

// Server manages the MCP server lifecycle around one Service.
type Server struct {
	svc *service.Service
	mcp *server.MCPServer
}

// NewServer builds the MCP server and registers every tool.
func NewServer(svc *service.Service, version string) *Server {
	m := server.NewMCPServer(
		"codeindex",
		version,
		server.WithToolCapabilities(true),
	)

	AddInitProjectTool(m, svc)
	AddListProjectsTool(m, svc)
	AddSearchTool(m, svc)
	AddFileContextTool(m, svc)
	AddRelationshipsTool(m, svc)
	AddNotifyTool(m, svc)
	AddStandardsTool(m, svc)

	return &Server{svc: svc, mcp: m}
}

// Serve runs on stdio until the client disconnects or a termination
// signal arrives, then closes the service.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("stdio server stopped: %v", err)
		}
	case <-ctx.Done():
	}
	return s.svc.Close()
}
