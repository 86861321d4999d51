package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
)

// Processor is the orchestrator surface exposed as tools.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Stats() orchestrator.Stats
}

// Server is an MCP server that calls the orchestrator directly.
type Server struct {
	mcp          *mcp.Server
	proc         Processor
	scrubber     *secrets.Detector
	toolRegistry *ToolRegistry
	metrics      *toolMetrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ultrathink")
	Name string

	// Version is the server version (default: "0.1.0")
	Version string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ultrathink",
		Version: "0.1.0",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server backed by proc. Tool output is
// scrubbed with scrubber.
func NewServer(cfg *Config, proc Processor, scrubber *secrets.Detector) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	logger := cfg.Logger.Named("mcp")
	s := &Server{
		mcp:          mcpServer,
		proc:         proc,
		scrubber:     scrubber,
		toolRegistry: NewToolRegistry(),
		metrics:      newToolMetrics(otel.Meter(meterName), logger),
		logger:       logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves on t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info(ctx, "starting MCP server")
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t without blocking; tests use it
// with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Registry returns the tool metadata registry.
func (s *Server) Registry() *ToolRegistry { return s.toolRegistry }
