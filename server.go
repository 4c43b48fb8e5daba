package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"Drover/pkg/types"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ========================================
// REST API
// ========================================

// Server exposes the service over HTTP
type Server struct {
	app  *App
	http *http.Server
}

// NewServer builds the route table
func NewServer(app *App, addr string) *Server {
	s := &Server{app: app}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices/connect", s.handleConnect)
	mux.HandleFunc("POST /api/devices/{address}/screenshot", s.handleScreenshot)
	mux.HandleFunc("GET /api/devices/{address}/current-screen", s.handleCurrentScreen)
	mux.HandleFunc("POST /api/devices/{address}/auto-login", s.handleAutoLogin)
	mux.HandleFunc("POST /api/devices/{address}/pull-db", s.handlePullDB)
	mux.HandleFunc("POST /api/devices/{address}/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/devices/{address}/resolution", s.handleResolution)
	mux.HandleFunc("POST /api/devices/{address}/wake", s.handleWake)
	mux.HandleFunc("POST /api/devices/{address}/sleep", s.handleSleep)
	mux.HandleFunc("GET /api/devices/{address}/app", s.handleAppStatus)
	mux.HandleFunc("POST /api/devices/{address}/app/start", s.handleAppStart)
	mux.HandleFunc("POST /api/devices/{address}/app/stop", s.handleAppStop)
	mux.HandleFunc("GET /api/devices/{address}/detections", s.handleRecentDetections)

	mux.HandleFunc("GET /api/devices/{address}/credentials", s.handleGetCredentials)
	mux.HandleFunc("POST /api/devices/{address}/credentials", s.handleSaveCredentials)
	mux.HandleFunc("DELETE /api/devices/{address}/credentials", s.handleDeleteCredentials)

	mux.HandleFunc("GET /api/devices/{address}/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/devices/{address}/settings", s.handlePutSettings)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("POST /api/templates/{id}/test", s.handleTestTemplate)

	mux.HandleFunc("GET /api/macros", s.handleListMacros)
	mux.HandleFunc("POST /api/macros", s.handleSaveMacro)
	mux.HandleFunc("GET /api/macros/{id}", s.handleGetMacro)
	mux.HandleFunc("DELETE /api/macros/{id}", s.handleDeleteMacro)
	mux.HandleFunc("POST /api/macros/{id}/execute", s.handleExecuteMacro)

	mux.HandleFunc("POST /api/templates/{templateID}/macros/{macroID}", s.handleLink)
	mux.HandleFunc("DELETE /api/templates/{templateID}/macros/{macroID}", s.handleUnlink)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      logRequests(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown
func (s *Server) ListenAndServe() error {
	LogInfo("server").Str("addr", s.http.Addr).Msg("Serving HTTP")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ========================================
// Response helpers
// ========================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// Label the counter with the matched route pattern, not the raw
		// path: device addresses and row IDs must not become label values
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		observeHTTPRequest(route, rec.status)
		LogDebug("server").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("Request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		LogWarn("server").Err(err).Msg("Failed to write response")
	}
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrDeviceUnreachable):
		status = http.StatusBadGateway
	case errors.Is(err, ErrScreenshotDecode):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// ========================================
// Health and devices
// ========================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"status": "ok"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.app.GetDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"devices": devices})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}
	output, err := s.app.AdbConnect(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": output})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.app.TakeScreenshotWithContext(r.Context(), r.PathValue("address"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"path": path})
}

// handleCurrentScreen captures, detects and reports linked macros plus any
// hook-triggered macro runs
func (s *Server) handleCurrentScreen(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	var override *float64
	if q := r.URL.Query().Get("threshold"); q != "" {
		v, err := strconv.ParseFloat(q, 64)
		if err != nil || v < 0 || v > 1 {
			writeBadRequest(w, "threshold must be a number in [0,1]")
			return
		}
		override = &v
	}

	result, err := s.app.DetectCurrentScreen(address, override)
	if err != nil {
		writeError(w, err)
		return
	}

	payload := map[string]any{"detection": result}

	if result.Matched {
		if macros, err := s.app.store.MacrosForTemplate(result.TemplateID); err == nil {
			names := make([]string, 0, len(macros))
			for _, m := range macros {
				names = append(names, m.Name)
			}
			payload["linkedMacros"] = names
		}

		var triggered []map[string]any
		for _, action := range s.app.hooks.OnDetection(result) {
			report, err := s.app.ExecuteMacroByName(r.Context(), address, action.RunMacro)
			entry := map[string]any{"hook": action.HookName, "macro": action.RunMacro}
			if err != nil {
				entry["error"] = err.Error()
			} else {
				entry["report"] = report
			}
			triggered = append(triggered, entry)
		}
		if triggered != nil {
			payload["hookRuns"] = triggered
		}
	}

	writeOK(w, payload)
}

func (s *Server) handleAutoLogin(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.RunAutoLogin(r.Context(), r.PathValue("address"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"report":  report,
		})
		return
	}
	writeOK(w, map[string]any{"report": report})
}

func (s *Server) handlePullDB(w http.ResponseWriter, r *http.Request) {
	path, err := s.app.PullAppDatabase(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"snapshot": path})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	output, err := s.app.AdbDisconnect(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": output})
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	width, height, err := s.app.GetDeviceResolution(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"width": width, "height": height})
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if err := s.app.WakeScreen(r.PathValue("address")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	if err := s.app.SleepScreen(r.PathValue("address")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleAppStatus(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	installed, err := s.app.CheckAppInstalled(address)
	if err != nil {
		writeError(w, err)
		return
	}
	running := false
	if installed {
		if running, err = s.app.CheckAppRunning(address); err != nil {
			writeError(w, err)
			return
		}
	}
	writeOK(w, map[string]any{"installed": installed, "running": running})
}

func (s *Server) handleAppStart(w http.ResponseWriter, r *http.Request) {
	if err := s.app.StartApp(r.PathValue("address")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleAppStop(w http.ResponseWriter, r *http.Request) {
	if err := s.app.StopApp(r.PathValue("address")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 || v > 500 {
			writeBadRequest(w, "limit must be in [1,500]")
			return
		}
		limit = v
	}
	detections, err := s.app.store.RecentDetections(r.PathValue("address"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"detections": detections})
}

// ========================================
// Credentials and settings
// ========================================

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.app.GetCredentials(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	// password intentionally not serialized
	writeOK(w, map[string]any{"credentials": creds})
}

func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.app.SaveCredentials(r.PathValue("address"), req.Username, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": "credentials saved"})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteCredentials(r.PathValue("address")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": "credentials deleted"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.store.GetDeviceSettings(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.DeviceSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	settings.Address = r.PathValue("address")
	if settings.MatchThreshold < 0 || settings.MatchThreshold > 1 {
		writeBadRequest(w, "match_threshold must be in [0,1]")
		return
	}
	if settings.KeystrokeDelayMs < 0 || settings.PostLoginWaitSeconds < 0 {
		writeBadRequest(w, "delays must not be negative")
		return
	}
	if err := s.app.store.PutDeviceSettings(settings); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"settings": settings})
}

// ========================================
// Templates
// ========================================

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.app.store.ListTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"templates": templates})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t types.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if t.Name == "" || t.Filename == "" {
		writeBadRequest(w, "name and filename are required")
		return
	}
	if t.Threshold <= 0 {
		t.Threshold = s.app.config.MatchThreshold
	}
	id, err := s.app.store.CreateTemplate(t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"id": id})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}
	t, err := s.app.store.GetTemplateByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"template": t})
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}
	var req struct {
		Threshold float64 `json:"threshold"`
		Priority  int     `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		writeBadRequest(w, "threshold must be in [0,1]")
		return
	}
	if err := s.app.store.UpdateTemplate(id, req.Threshold, req.Priority); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}
	if err := s.app.store.DeleteTemplate(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// handleTestTemplate runs one template against a device's current screen
func (s *Server) handleTestTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	template, err := s.app.store.GetTemplateByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.app.DetectAgainst(r.Context(), req.Address, []types.Template{template})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"detection": result})
}

// ========================================
// Macros
// ========================================

func (s *Server) handleListMacros(w http.ResponseWriter, r *http.Request) {
	macros, err := s.app.store.ListMacros()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"macros": macros})
}

func (s *Server) handleSaveMacro(w http.ResponseWriter, r *http.Request) {
	var m types.Macro
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if m.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if err := ValidateActions(m.Actions); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id, err := s.app.store.SaveMacro(m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"id": id})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid macro id")
		return
	}
	m, err := s.app.store.GetMacroByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"macro": m})
}

func (s *Server) handleDeleteMacro(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid macro id")
		return
	}
	if err := s.app.store.DeleteMacro(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleExecuteMacro(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid macro id")
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	m, err := s.app.store.GetMacroByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := s.app.ExecuteMacro(r.Context(), req.Address, m.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !report.Success {
		status = http.StatusFailedDependency
	}
	writeJSON(w, status, map[string]any{"success": report.Success, "report": report})
}

// ========================================
// Template-macro links
// ========================================

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	templateID, err1 := pathID(r, "templateID")
	macroID, err2 := pathID(r, "macroID")
	if err1 != nil || err2 != nil {
		writeBadRequest(w, "invalid ids")
		return
	}
	if _, err := s.app.store.GetTemplateByID(templateID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.app.store.GetMacroByID(macroID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.app.store.LinkTemplateMacro(templateID, macroID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": "linked"})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	templateID, err1 := pathID(r, "templateID")
	macroID, err2 := pathID(r, "macroID")
	if err1 != nil || err2 != nil {
		writeBadRequest(w, "invalid ids")
		return
	}
	if err := s.app.store.UnlinkTemplateMacro(templateID, macroID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"message": "unlinked"})
}
