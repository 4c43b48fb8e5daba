package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerScreenTools registers screenshot and detection tools
func (s *MCPServer) registerScreenTools() {
	// screen_screenshot - Capture the device screen
	s.server.AddTool(
		mcp.NewTool("screen_screenshot",
			mcp.WithDescription("Capture a screenshot from a device and save it on the host"),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to capture"),
			),
			mcp.WithString("save_path",
				mcp.Description("Host path to save the PNG to (default: screenshots directory)"),
			),
		),
		s.handleScreenshot,
	)

	// screen_detect - Identify the current screen
	s.server.AddTool(
		mcp.NewTool("screen_detect",
			mcp.WithDescription("Capture the device screen and identify it against the known screen templates"),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to detect on"),
			),
			mcp.WithNumber("threshold",
				mcp.Description("Override match threshold in [0,1] for all templates"),
			),
		),
		s.handleScreenDetect,
	)
}

func (s *MCPServer) handleScreenshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	savePath, _ := args["save_path"].(string)

	path, err := s.app.TakeScreenshot(deviceID, savePath)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf("Screenshot saved to %s", path)),
		},
	}, nil
}

func (s *MCPServer) handleScreenDetect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	var threshold *float64
	if v, ok := args["threshold"].(float64); ok {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("threshold must be in [0,1]")
		}
		threshold = &v
	}

	result, err := s.app.DetectScreen(deviceID, threshold)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	summary := "Current screen: unknown"
	if result.Matched {
		summary = fmt.Sprintf("Current screen: %s (confidence %.3f)", result.Screen, result.Confidence)
	}

	jsonData, _ := json.MarshalIndent(result, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}
