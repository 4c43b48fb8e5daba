package main

import (
	"context"

	appmcp "Drover/mcp"
	"Drover/pkg/types"
)

// appVersion is stamped at build time via -ldflags
var appVersion = "dev"

var _ appmcp.DroverApp = (*App)(nil)

// The mcp package talks to the application through its DroverApp interface;
// the adapters below close the gap where App method names or shapes differ.

// DetectScreen satisfies mcp.DroverApp
func (a *App) DetectScreen(deviceID string, threshold *float64) (types.MatchResult, error) {
	return a.DetectCurrentScreen(deviceID, threshold)
}

// ListTemplates satisfies mcp.DroverApp
func (a *App) ListTemplates() ([]types.Template, error) {
	return a.store.ListTemplates()
}

// ListMacros satisfies mcp.DroverApp
func (a *App) ListMacros() ([]types.Macro, error) {
	return a.store.ListMacros()
}

// AutoLogin satisfies mcp.DroverApp
func (a *App) AutoLogin(ctx context.Context, deviceID string) (types.LoginReport, error) {
	return a.RunAutoLogin(ctx, deviceID)
}

// AppVersion satisfies mcp.DroverApp
func (a *App) AppVersion() string {
	return appVersion
}

// ServeMCP runs the stdio MCP server until the context ends
func (a *App) ServeMCP(ctx context.Context) error {
	server := appmcp.NewMCPServer(a)
	return server.Start(ctx)
}
