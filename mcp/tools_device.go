package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerDeviceTools registers device management tools
func (s *MCPServer) registerDeviceTools() {
	// device_list - List connected devices
	s.server.AddTool(
		mcp.NewTool("device_list",
			mcp.WithDescription("List all connected Android devices"),
		),
		s.handleDeviceList,
	)

	// device_connect - Connect to a wireless device
	s.server.AddTool(
		mcp.NewTool("device_connect",
			mcp.WithDescription("Connect to a device via ADB over network (IP:port)"),
			mcp.WithString("address",
				mcp.Required(),
				mcp.Description("Device address in format IP:port (e.g., 192.168.1.100:5555)"),
			),
		),
		s.handleDeviceConnect,
	)

	// device_disconnect - Disconnect a wireless device
	s.server.AddTool(
		mcp.NewTool("device_disconnect",
			mcp.WithDescription("Disconnect a device from ADB"),
			mcp.WithString("address",
				mcp.Required(),
				mcp.Description("Device address to disconnect"),
			),
		),
		s.handleDeviceDisconnect,
	)

	// adb_execute - Execute arbitrary ADB command
	s.server.AddTool(
		mcp.NewTool("adb_execute",
			mcp.WithDescription("Execute an arbitrary ADB command on a device. Supports shell commands (e.g., 'shell pm list packages') and other ADB subcommands."),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to execute the command on"),
			),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("ADB command to execute (e.g., 'shell wm size')"),
			),
		),
		s.handleAdbExecute,
	)
}

// Tool handlers

func (s *MCPServer) handleDeviceList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.app.GetDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	if len(devices) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No devices connected"),
			},
		}, nil
	}

	result := fmt.Sprintf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		result += fmt.Sprintf("%d. %s\n   Model: %s, State: %s\n", i+1, d.Address, d.Model, d.State)
	}

	jsonData, _ := json.MarshalIndent(devices, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleDeviceConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	address, ok := args["address"].(string)
	if !ok || address == "" {
		return nil, fmt.Errorf("address is required")
	}

	result, err := s.app.AdbConnect(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
		},
	}, nil
}

func (s *MCPServer) handleDeviceDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	address, ok := args["address"].(string)
	if !ok || address == "" {
		return nil, fmt.Errorf("address is required")
	}

	result, err := s.app.AdbDisconnect(address)
	if err != nil {
		return nil, fmt.Errorf("failed to disconnect: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
		},
	}, nil
}

func (s *MCPServer) handleAdbExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("command is required")
	}

	output, err := s.app.RunAdbCommand(deviceID, command)
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}
	if output == "" {
		output = "(no output)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(output),
		},
	}, nil
}
