// Package mcp exposes agency runs as a Model Context Protocol tool.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/errors"
)

// ToolName is the name of the tool that runs the crew.
const ToolName = "run_agency"

// DefaultPath is where the streamable HTTP endpoint is mounted.
const DefaultPath = "/mcp"

// Server wraps the mcp-go server with the run_agency tool.
type Server struct {
	mcpServer *server.MCPServer
	runner    agency.Runner
	log       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for tool failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates an MCP server whose run_agency tool calls runner.
func NewServer(name, version string, runner agency.Runner, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		runner:    runner,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Hand a prompt to the agent crew and return its final answer."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The task for the crew"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleRun)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP transport mounted at DefaultPath.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath(DefaultPath))
}

// ServeStdio serves the tool over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, runID := core.EnsureRunID(ctx)
	res, err := s.runner.Run(ctx, prompt)
	if err != nil {
		ae := errors.Classify(err)
		s.log.WarnContext(ctx, "mcp.tool.error",
			slog.String("tool", ToolName),
			slog.String("run_id", runID),
			slog.String("code", string(ae.Code)),
		)
		return mcp.NewToolResultError(string(ae.Code) + ": " + ae.Message), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}
