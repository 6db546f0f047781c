// Package mcp implements the Model Context Protocol server for omomi.
//
// The MCP server exposes the operator surface of the HTTP API as MCP tools,
// so MCP-compatible agents can queue events, inspect the dispatcher, toggle
// abatement and compute deferral times.
package mcp

import (
	"context"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/queue"
)

// Engine is the part of the dispatcher the tools drive.
type Engine interface {
	Enqueue(ev event.Event)
	EnqueueDurable(ctx context.Context, ev event.Event) (queue.Record, error)
	Stats(ctx context.Context) (brain.Stats, error)
}

// Config holds the server's dependencies. Abatement and Searcher are
// optional; their tools are not registered when nil.
type Config struct {
	Engine    Engine
	Abatement *abatement.Flag
	Searcher  index.Searcher
	Location  *time.Location
	Logger    *slog.Logger
	Version   string
}

// Server wraps the MCP server with omomi's engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Engine
	abate     *abatement.Flag
	searcher  index.Searcher
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// New creates and configures a new MCP server with all tools.
func New(cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Server{
		engine:   cfg.Engine,
		abate:    cfg.Abatement,
		searcher: cfg.Searcher,
		location: cfg.Location,
		logger:   cfg.Logger,
		now:      time.Now,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"omomi",
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
