package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerMacroTools registers macro and auto-login tools
func (s *MCPServer) registerMacroTools() {
	// macro_list - List saved macros
	s.server.AddTool(
		mcp.NewTool("macro_list",
			mcp.WithDescription("List all saved macros"),
		),
		s.handleMacroList,
	)

	// macro_execute - Run a macro on a device
	s.server.AddTool(
		mcp.NewTool("macro_execute",
			mcp.WithDescription("Execute a saved macro on a device. Actions run sequentially and a failed action aborts the remainder."),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to run the macro on"),
			),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Name of the saved macro"),
			),
		),
		s.handleMacroExecute,
	)

	// auto_login - Run the auto-login workflow
	s.server.AddTool(
		mcp.NewTool("auto_login",
			mcp.WithDescription("Run the auto-login workflow on a device: login macro, settle wait, nag screen detection and one-shot dismissal"),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to log in on"),
			),
		),
		s.handleAutoLogin,
	)
}

func (s *MCPServer) handleMacroList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	macros, err := s.app.ListMacros()
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}

	if len(macros) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No macros saved"),
			},
		}, nil
	}

	result := fmt.Sprintf("Found %d macro(s):\n\n", len(macros))
	for i, m := range macros {
		result += fmt.Sprintf("%d. %s", i+1, m.Name)
		if m.Description != "" {
			result += " - " + m.Description
		}
		result += "\n"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
		},
	}, nil
}

func (s *MCPServer) handleMacroExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name is required")
	}

	report, err := s.app.ExecuteMacroByName(ctx, deviceID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to execute macro: %w", err)
	}

	summary := fmt.Sprintf("Macro %q: %d/%d actions executed", name, report.Executed, report.Total)
	if !report.Success {
		summary += fmt.Sprintf(", aborted at action %d", report.FailedIndex)
	}

	jsonData, _ := json.MarshalIndent(report, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleAutoLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	report, err := s.app.AutoLogin(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("auto-login failed in state %s: %w", report.State, err)
	}

	summary := fmt.Sprintf("Auto-login finished: %s", report.State)
	if report.DismissedWith != "" {
		summary += fmt.Sprintf(" (nag screen dismissed with %q)", report.DismissedWith)
	}

	jsonData, _ := json.MarshalIndent(report, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}
