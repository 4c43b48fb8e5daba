package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"Drover/pkg/types"
)

// ==================== macro_list ====================

func TestHandleMacroList_Success(t *testing.T) {
	mock := &MockDroverApp{
		ListMacrosResult: []Macro{
			{Name: "dismiss-update", Description: "Taps the Later button"},
			{Name: "open-timesheet"},
		},
	}
	server := NewMCPServer(mock)

	result, err := server.handleMacroList(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "dismiss-update") || !strings.Contains(text, "Taps the Later button") {
		t.Errorf("Expected macro names and descriptions, got: %s", text)
	}
}

func TestHandleMacroList_Empty(t *testing.T) {
	server := NewMCPServer(&MockDroverApp{})

	result, err := server.handleMacroList(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !strings.Contains(getTextContent(result), "No macros saved") {
		t.Errorf("Expected empty-list message, got: %s", getTextContent(result))
	}
}

// ==================== macro_execute ====================

func TestHandleMacroExecute_Success(t *testing.T) {
	mock := &MockDroverApp{
		ExecuteMacroByNameResult: ExecutionReport{
			Success:  true,
			Total:    3,
			Executed: 3,
		},
	}
	server := NewMCPServer(mock)

	result, err := server.handleMacroExecute(context.Background(), makeToolRequest(map[string]interface{}{
		"device_id": "192.168.1.50:5555",
		"name":      "dismiss-update",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !strings.Contains(getTextContent(result), "3/3 actions executed") {
		t.Errorf("Expected execution summary, got: %s", getTextContent(result))
	}

	call := mock.GetLastCallByMethod("ExecuteMacroByName")
	if call == nil || call.Args[0] != "192.168.1.50:5555" || call.Args[1] != "dismiss-update" {
		t.Error("Expected ExecuteMacroByName to receive device and macro name")
	}
}

func TestHandleMacroExecute_Aborted(t *testing.T) {
	mock := &MockDroverApp{
		ExecuteMacroByNameResult: ExecutionReport{
			Success:     false,
			Total:       5,
			Executed:    2,
			FailedIndex: 2,
		},
	}
	server := NewMCPServer(mock)

	result, err := server.handleMacroExecute(context.Background(), makeToolRequest(map[string]interface{}{
		"device_id": "device1",
		"name":      "broken",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !strings.Contains(getTextContent(result), "aborted at action 2") {
		t.Errorf("Expected abort summary, got: %s", getTextContent(result))
	}
}

func TestHandleMacroExecute_MissingName(t *testing.T) {
	server := NewMCPServer(&MockDroverApp{})

	_, err := server.handleMacroExecute(context.Background(), makeToolRequest(map[string]interface{}{
		"device_id": "device1",
	}))
	if err == nil {
		t.Fatal("Expected error for missing name")
	}
}

// ==================== auto_login ====================

func TestHandleAutoLogin_Done(t *testing.T) {
	mock := &MockDroverApp{
		AutoLoginResult: LoginReport{
			State:         types.LoginDone,
			DismissedWith: "dismiss-update",
		},
	}
	server := NewMCPServer(mock)

	result, err := server.handleAutoLogin(context.Background(), makeToolRequest(map[string]interface{}{
		"device_id": "192.168.1.50:5555",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "done") || !strings.Contains(text, "dismiss-update") {
		t.Errorf("Expected final state and dismissal macro, got: %s", text)
	}
}

func TestHandleAutoLogin_Failed(t *testing.T) {
	mock := &MockDroverApp{
		AutoLoginResult: LoginReport{State: types.LoginFailed},
		AutoLoginError:  errors.New("no credentials found"),
	}
	server := NewMCPServer(mock)

	_, err := server.handleAutoLogin(context.Background(), makeToolRequest(map[string]interface{}{
		"device_id": "device1",
	}))
	if err == nil {
		t.Fatal("Expected error when auto-login fails")
	}
	if !strings.Contains(err.Error(), "failed") {
		t.Errorf("Expected failure state in error, got: %v", err)
	}
}
