package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"Drover/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestServer builds a server over a temp-dir store. Handlers that talk
// to a device are not exercised here; the store-backed surface is.
func newTestServer(t *testing.T) (*httptest.Server, *App) {
	t.Helper()
	app := NewApp(DefaultConfig(), false)
	app.store = openTestStore(t)
	app.hooks = NewHookManager(t.TempDir())

	srv := NewServer(app, ":0")
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts, app
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, payload := doJSON(t, "GET", ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if payload["success"] != true || payload["status"] != "ok" {
		t.Errorf("Unexpected payload: %v", payload)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	// Create
	resp, payload := doJSON(t, "POST", ts.URL+"/api/templates", map[string]any{
		"name": "update_nag", "filename": "nag.png", "threshold": 0.85, "priority": 8,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Create: expected 200, got %d: %v", resp.StatusCode, payload)
	}
	id := int64(payload["id"].(float64))

	// Get
	resp, payload = doJSON(t, "GET", fmt.Sprintf("%s/api/templates/%d", ts.URL, id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get: expected 200, got %d", resp.StatusCode)
	}
	tmpl := payload["template"].(map[string]any)
	if tmpl["name"] != "update_nag" || tmpl["threshold"] != 0.85 {
		t.Errorf("Unexpected template: %v", tmpl)
	}

	// Update
	resp, _ = doJSON(t, "PUT", fmt.Sprintf("%s/api/templates/%d", ts.URL, id), map[string]any{
		"threshold": 0.9, "priority": 3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d", resp.StatusCode)
	}

	// List reflects the update
	_, payload = doJSON(t, "GET", ts.URL+"/api/templates", nil)
	templates := payload["templates"].([]any)
	if len(templates) != 1 {
		t.Fatalf("Expected 1 template, got %d", len(templates))
	}
	if templates[0].(map[string]any)["threshold"] != 0.9 {
		t.Errorf("Update not visible in list: %v", templates[0])
	}

	// Delete, then 404
	resp, _ = doJSON(t, "DELETE", fmt.Sprintf("%s/api/templates/%d", ts.URL, id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Delete: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", fmt.Sprintf("%s/api/templates/%d", ts.URL, id), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCreateTemplateRejectsMissingFields(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, payload := doJSON(t, "POST", ts.URL+"/api/templates", map[string]any{
		"name": "no_file",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %v", resp.StatusCode, payload)
	}
}

func TestMacroEndpointsValidateActions(t *testing.T) {
	ts, _ := newTestServer(t)

	// Invalid action rejected before reaching the store
	resp, payload := doJSON(t, "POST", ts.URL+"/api/macros", map[string]any{
		"name":    "broken",
		"actions": []map[string]any{{"type": "pinch"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown action, got %d: %v", resp.StatusCode, payload)
	}

	// Valid macro saved
	resp, payload = doJSON(t, "POST", ts.URL+"/api/macros", map[string]any{
		"name": "dismiss",
		"actions": []map[string]any{
			{"type": "tap", "x": 540, "y": 1200},
			{"type": "wait", "seconds": 0.5},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Save: expected 200, got %d: %v", resp.StatusCode, payload)
	}
	id := int64(payload["id"].(float64))

	_, payload = doJSON(t, "GET", fmt.Sprintf("%s/api/macros/%d", ts.URL, id), nil)
	macro := payload["macro"].(map[string]any)
	if macro["name"] != "dismiss" {
		t.Errorf("Unexpected macro: %v", macro)
	}
	if len(macro["actions"].([]any)) != 2 {
		t.Errorf("Expected 2 actions, got %v", macro["actions"])
	}
}

func TestLinkEndpointsCheckExistence(t *testing.T) {
	ts, app := newTestServer(t)

	resp, _ := doJSON(t, "POST", ts.URL+"/api/templates/99/macros/99", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Linking missing ids: expected 404, got %d", resp.StatusCode)
	}

	templateID, err := app.store.CreateTemplate(types.Template{
		Name: "nag", Filename: "nag.png", Threshold: 0.8, Priority: 5,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	macroID, err := app.store.SaveMacro(types.Macro{
		Name:    "dismiss_nag",
		Actions: []types.Action{{Kind: types.ActionTap, X: 1, Y: 1}},
	})
	if err != nil {
		t.Fatalf("SaveMacro: %v", err)
	}

	resp, _ = doJSON(t, "POST", fmt.Sprintf("%s/api/templates/%d/macros/%d", ts.URL, templateID, macroID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Link: expected 200, got %d", resp.StatusCode)
	}

	linked, err := app.store.MacrosForTemplate(templateID)
	if err != nil || len(linked) != 1 {
		t.Fatalf("Expected 1 linked macro, got %d (%v)", len(linked), err)
	}

	resp, _ = doJSON(t, "DELETE", fmt.Sprintf("%s/api/templates/%d/macros/%d", ts.URL, templateID, macroID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Unlink: expected 200, got %d", resp.StatusCode)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	// Defaults for an unknown device
	resp, payload := doJSON(t, "GET", ts.URL+"/api/devices/192.168.1.50:5555/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get defaults: expected 200, got %d", resp.StatusCode)
	}
	settings := payload["settings"].(map[string]any)
	if settings["matchThreshold"] != 0.7 {
		t.Errorf("Expected default threshold 0.7, got %v", settings["matchThreshold"])
	}

	// Override
	resp, _ = doJSON(t, "PUT", ts.URL+"/api/devices/192.168.1.50:5555/settings", map[string]any{
		"matchThreshold": 0.8, "keystrokeDelayMs": 100, "postLoginWaitSeconds": 6,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Put: expected 200, got %d", resp.StatusCode)
	}

	_, payload = doJSON(t, "GET", ts.URL+"/api/devices/192.168.1.50:5555/settings", nil)
	settings = payload["settings"].(map[string]any)
	if settings["matchThreshold"] != 0.8 || settings["keystrokeDelayMs"] != float64(100) {
		t.Errorf("Override not persisted: %v", settings)
	}

	// Out-of-range threshold rejected
	resp, _ = doJSON(t, "PUT", ts.URL+"/api/devices/192.168.1.50:5555/settings", map[string]any{
		"matchThreshold": 1.5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad threshold, got %d", resp.StatusCode)
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, "GET", ts.URL+"/api/devices/10.0.0.9:5555/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	// The counter is labeled with the matched route pattern so device
	// addresses and row IDs never become label values
	pattern := testutil.ToFloat64(metricHTTPRequests.WithLabelValues("GET /api/devices/{address}/settings", "2xx"))
	if pattern < 1 {
		t.Errorf("Expected the route pattern label to be counted, got %v", pattern)
	}
	raw := testutil.ToFloat64(metricHTTPRequests.WithLabelValues("/api/devices/10.0.0.9:5555/settings", "2xx"))
	if raw != 0 {
		t.Errorf("Raw request paths must not appear as route labels, got %v", raw)
	}
}

func TestCurrentScreenRejectsBadThreshold(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, "GET", ts.URL+"/api/devices/emulator-5554/current-screen?threshold=2", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for threshold 2, got %d", resp.StatusCode)
	}
}
