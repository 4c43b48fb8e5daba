package mcp

import (
	"context"
	"sync"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockDroverApp is a mock implementation of DroverApp for testing
type MockDroverApp struct {
	mu    sync.Mutex
	Calls []MockCall

	// Device management
	GetDevicesResult    []Device
	GetDevicesError     error
	AdbConnectResult    string
	AdbConnectError     error
	AdbDisconnectResult string
	AdbDisconnectError  error
	RunAdbCommandResult string
	RunAdbCommandError  error

	// Screen control
	TakeScreenshotResult string
	TakeScreenshotError  error
	DetectScreenResult   MatchResult
	DetectScreenError    error
	ListTemplatesResult  []Template
	ListTemplatesError   error

	// Macros
	ListMacrosResult         []Macro
	ListMacrosError          error
	ExecuteMacroByNameResult ExecutionReport
	ExecuteMacroByNameError  error
	AutoLoginResult          LoginReport
	AutoLoginError           error
}

func (m *MockDroverApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// WasMethodCalled checks if a method was called
func (m *MockDroverApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.Calls {
		if call.Method == method {
			return true
		}
	}
	return false
}

// GetLastCallByMethod returns the last call to a specific method
func (m *MockDroverApp) GetLastCallByMethod(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == method {
			return &m.Calls[i]
		}
	}
	return nil
}

// === Device management ===

func (m *MockDroverApp) GetDevices() ([]Device, error) {
	m.recordCall("GetDevices")
	return m.GetDevicesResult, m.GetDevicesError
}

func (m *MockDroverApp) AdbConnect(address string) (string, error) {
	m.recordCall("AdbConnect", address)
	return m.AdbConnectResult, m.AdbConnectError
}

func (m *MockDroverApp) AdbDisconnect(address string) (string, error) {
	m.recordCall("AdbDisconnect", address)
	return m.AdbDisconnectResult, m.AdbDisconnectError
}

func (m *MockDroverApp) RunAdbCommand(deviceID string, command string) (string, error) {
	m.recordCall("RunAdbCommand", deviceID, command)
	return m.RunAdbCommandResult, m.RunAdbCommandError
}

// === Screen control ===

func (m *MockDroverApp) TakeScreenshot(deviceID, savePath string) (string, error) {
	m.recordCall("TakeScreenshot", deviceID, savePath)
	return m.TakeScreenshotResult, m.TakeScreenshotError
}

func (m *MockDroverApp) DetectScreen(deviceID string, threshold *float64) (MatchResult, error) {
	m.recordCall("DetectScreen", deviceID, threshold)
	return m.DetectScreenResult, m.DetectScreenError
}

func (m *MockDroverApp) ListTemplates() ([]Template, error) {
	m.recordCall("ListTemplates")
	return m.ListTemplatesResult, m.ListTemplatesError
}

// === Macros ===

func (m *MockDroverApp) ListMacros() ([]Macro, error) {
	m.recordCall("ListMacros")
	return m.ListMacrosResult, m.ListMacrosError
}

func (m *MockDroverApp) ExecuteMacroByName(ctx context.Context, deviceID, name string) (ExecutionReport, error) {
	m.recordCall("ExecuteMacroByName", deviceID, name)
	return m.ExecuteMacroByNameResult, m.ExecuteMacroByNameError
}

func (m *MockDroverApp) AutoLogin(ctx context.Context, deviceID string) (LoginReport, error) {
	m.recordCall("AutoLogin", deviceID)
	return m.AutoLoginResult, m.AutoLoginError
}

// === Utility ===

func (m *MockDroverApp) AppVersion() string {
	m.recordCall("AppVersion")
	return "test"
}
