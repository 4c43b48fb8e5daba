// Package mcp exposes the tablet automation service over MCP (Model
// Context Protocol) so AI clients can drive devices, screen detection and
// macros through stdio.
package mcp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"Drover/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Type aliases from the shared types package
type (
	Device          = types.Device
	Template        = types.Template
	Macro           = types.Macro
	MatchResult     = types.MatchResult
	ExecutionReport = types.ExecutionReport
	LoginReport     = types.LoginReport
)

// DroverApp is the surface the MCP server needs from the main application.
// Keeping it an interface decouples this package from the root package and
// lets tests substitute a mock.
type DroverApp interface {
	// Device management
	GetDevices() ([]Device, error)
	AdbConnect(address string) (string, error)
	AdbDisconnect(address string) (string, error)
	RunAdbCommand(deviceID string, command string) (string, error)

	// Screen control
	TakeScreenshot(deviceID, savePath string) (string, error)
	DetectScreen(deviceID string, threshold *float64) (MatchResult, error)
	ListTemplates() ([]Template, error)

	// Macros and workflows
	ListMacros() ([]Macro, error)
	ExecuteMacroByName(ctx context.Context, deviceID, name string) (ExecutionReport, error)
	AutoLogin(ctx context.Context, deviceID string) (LoginReport, error)

	// Utility
	AppVersion() string
}

// MCPServer wraps the mcp-go stdio server
type MCPServer struct {
	app    DroverApp
	server *server.MCPServer
	stdio  *server.StdioServer

	mu        sync.Mutex
	isRunning bool
}

// NewMCPServer creates the MCP server and registers all tools and resources
func NewMCPServer(app DroverApp) *MCPServer {
	mcpServer := server.NewMCPServer(
		"drover-tablet-automation",
		app.AppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
	}

	s.registerTools()
	s.registerResources()

	return s
}

// registerTools registers all MCP tools
func (s *MCPServer) registerTools() {
	s.registerDeviceTools()
	s.registerScreenTools()
	s.registerMacroTools()
}

// registerResources registers read-only MCP resources
func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"drover://devices",
			"Connected Android devices",
			mcp.WithMIMEType("application/json"),
		),
		s.handleDevicesResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"drover://templates",
			"Known screen templates",
			mcp.WithMIMEType("application/json"),
		),
		s.handleTemplatesResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"drover://macros",
			"Saved macros",
			mcp.WithMIMEType("application/json"),
		),
		s.handleMacrosResource,
	)
}

// Start runs the stdio server until the context ends or stdin closes
func (s *MCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.stdio = server.NewStdioServer(s.server)
	s.mu.Unlock()

	fmt.Fprintln(os.Stderr, "[MCP] Drover MCP server started")
	err := s.stdio.Listen(ctx, os.Stdin, os.Stdout)

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	return err
}

// IsRunning returns whether the MCP server is running
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
