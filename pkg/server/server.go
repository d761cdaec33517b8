// Package server exposes the workout log over MCP, HTTP and websockets.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/tools"
	"github.com/NERVsystems/mapty/pkg/version"
)

// ServerName is the name of the MCP server
const ServerName = "mapty"

// Server wraps the MCP server with the workout tools registered.
type Server struct {
	srv    *mcpserver.MCPServer
	logger *slog.Logger

	mu      sync.Mutex
	served  bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewServer creates an MCP server whose tools act on a and its scene.
func NewServer(a *app.App, scene *mapview.Scene, logger *slog.Logger) (*Server, error) {
	if a == nil || scene == nil {
		return nil, errors.New("server: app and scene are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	tools.NewRegistry(logger, a, scene).RegisterAll(srv)

	return &Server{
		srv:    srv,
		logger: logger.With("component", "mcp"),
		done:   make(chan struct{}),
	}, nil
}

// RunWithContext serves MCP over stdin and stdout until ctx is cancelled,
// Shutdown is called or stdin is closed.
func (s *Server) RunWithContext(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over the given streams. A Server serves once; later
// calls fail.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server: already served")
	}
	s.served = true
	ctx, s.cancel = context.WithCancel(ctx)
	if s.stopped {
		s.cancel()
	}
	s.mu.Unlock()

	defer func() {
		s.cancel()
		close(s.done)
	}()

	stdio := mcpserver.NewStdioServer(s.srv)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP on stdio")
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops Serve, or makes a later Serve return at once. It does
// not block.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// WaitForShutdown blocks until Serve has returned.
func (s *Server) WaitForShutdown() {
	<-s.done
}

// GetMCPServer returns the underlying MCP server for the HTTP transport.
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}
