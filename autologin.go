package main

import (
	"context"
	"fmt"
	"time"

	"Drover/pkg/types"

	"github.com/google/uuid"
)

// ========================================
// Auto-login workflow
// ========================================

const keycodeTab = 61

// Login button position on the app's login screen
const (
	loginButtonX = 702
	loginButtonY = 1311
)

// buildLoginMacro assembles the fixed login sequence for one set of
// credentials: focus username, type it, focus password, type it, submit
func buildLoginMacro(creds types.Credentials) []types.Action {
	return []types.Action{
		{Kind: types.ActionKeyevent, Code: keycodeTab},
		{Kind: types.ActionText, Value: creds.Username},
		{Kind: types.ActionKeyevent, Code: keycodeTab},
		{Kind: types.ActionText, Value: creds.Password},
		{Kind: types.ActionTap, X: loginButtonX, Y: loginButtonY},
		{Kind: types.ActionWait, Seconds: 2},
	}
}

// RunAutoLogin executes the login workflow on a device: run the login
// macro, wait for the app to settle, screenshot, check for a nag popup
// among the templates that have a dismissal macro linked, and dismiss it
// at most once. Any device error stops the workflow; the caller decides
// whether to invoke it again.
func (a *App) RunAutoLogin(ctx context.Context, address string) (types.LoginReport, error) {
	report := types.LoginReport{
		RunID:     uuid.NewString(),
		Device:    address,
		State:     types.LoginIdle,
		StartedAt: time.Now(),
	}
	defer func() {
		report.DurationMs = time.Since(report.StartedAt).Milliseconds()
		observeLoginRun(report.State)
		if err := a.store.LogLoginRun(report); err != nil {
			LogWarn("autologin").Err(err).Str("run", report.RunID).Msg("Failed to record login run")
		}
	}()

	fail := func(err error) (types.LoginReport, error) {
		report.State = types.LoginFailed
		report.Error = err.Error()
		LogError("autologin").Err(err).Str("device", address).Str("run", report.RunID).Msg("Auto-login failed")
		return report, err
	}

	if err := ValidateDeviceID(address); err != nil {
		return fail(err)
	}

	creds, err := a.GetCredentials(address)
	if err != nil {
		return fail(fmt.Errorf("cannot log in without credentials: %w", err))
	}

	settings, err := a.store.GetDeviceSettings(address)
	if err != nil {
		return fail(fmt.Errorf("failed to load device settings: %w", err))
	}

	// LoggingIn
	report.State = types.LoginLoggingIn
	LogInfo("autologin").Str("device", address).Str("run", report.RunID).Msg("Running login macro")
	loginReport := a.runActions(ctx, address, buildLoginMacro(creds), settings)
	report.LoginReport = &loginReport
	if !loginReport.Success {
		return fail(fmt.Errorf("login macro aborted at action %d", loginReport.FailedIndex))
	}

	// AwaitingSettle
	report.State = types.LoginAwaitingSettle
	settle := time.Duration(settings.PostLoginWaitSeconds) * time.Second
	LogDebug("autologin").Dur("settle", settle).Msg("Waiting for app to settle")
	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-time.After(settle):
	}

	// Detecting
	report.State = types.LoginDetecting
	screenshot, err := a.captureScreen(ctx, address)
	if err != nil {
		return fail(fmt.Errorf("post-login screenshot failed: %w", err))
	}

	nagTemplates, err := a.nagTemplates()
	if err != nil {
		return fail(fmt.Errorf("failed to load nag templates: %w", err))
	}
	if len(nagTemplates) == 0 {
		LogDebug("autologin").Msg("No dismissable templates configured, finishing")
		report.State = types.LoginDone
		return report, nil
	}

	result, err := a.detectScreen(screenshot, nagTemplates, &settings.MatchThreshold)
	if err != nil {
		return fail(fmt.Errorf("post-login detection failed: %w", err))
	}
	report.Detection = &result

	if !result.Matched {
		report.State = types.LoginDone
		LogInfo("autologin").Str("device", address).Str("run", report.RunID).Msg("Login complete, no nag screen")
		return report, nil
	}

	// Dismissing - run the linked macro exactly once
	report.State = types.LoginDismissing
	macros, err := a.store.MacrosForTemplate(result.TemplateID)
	if err != nil || len(macros) == 0 {
		return fail(fmt.Errorf("no dismissal macro linked to screen %q", result.Screen))
	}
	dismiss, err := a.store.GetMacro(macros[0].Name)
	if err != nil {
		return fail(err)
	}

	LogInfo("autologin").
		Str("device", address).
		Str("screen", result.Screen).
		Str("macro", dismiss.Name).
		Msg("Dismissing nag screen")
	dismissReport := a.runActions(ctx, address, dismiss.Actions, settings)
	report.DismissedWith = dismiss.Name
	report.DismissReport = &dismissReport
	if !dismissReport.Success {
		return fail(fmt.Errorf("dismissal macro %q aborted at action %d", dismiss.Name, dismissReport.FailedIndex))
	}

	report.State = types.LoginDone
	LogInfo("autologin").Str("device", address).Str("run", report.RunID).Msg("Login complete, nag dismissed")
	return report, nil
}

// nagTemplates returns the templates that have at least one dismissal
// macro linked, in priority order. Only these can appear after login.
func (a *App) nagTemplates() ([]types.Template, error) {
	all, err := a.store.ListTemplates()
	if err != nil {
		return nil, err
	}
	var nags []types.Template
	for _, t := range all {
		linked, err := a.store.MacrosForTemplate(t.ID)
		if err != nil {
			return nil, err
		}
		if len(linked) > 0 {
			nags = append(nags, t)
		}
	}
	return nags, nil
}
