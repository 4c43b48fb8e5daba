package main

import (
	"os"
	"path/filepath"
	"testing"

	"Drover/pkg/types"
)

func writeHook(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0644); err != nil {
		t.Fatalf("Failed to write hook: %v", err)
	}
}

func TestHookManagerMissingDirectory(t *testing.T) {
	hm := NewHookManager(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("Missing hooks directory should be fine: %v", err)
	}
	if actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "home"}); actions != nil {
		t.Errorf("Expected no actions, got %+v", actions)
	}
}

func TestHookTriggersMacro(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "update.js", `
var hook = {
    screens: ["update_nag"],
    onDetect: function(result) {
        if (result.confidence > 0.8) {
            return {run: "dismiss-update"};
        }
        return null;
    }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "update_nag", Confidence: 0.9})
	if len(actions) != 1 {
		t.Fatalf("Expected 1 action, got %d", len(actions))
	}
	if actions[0].RunMacro != "dismiss-update" || actions[0].HookName != "update" {
		t.Errorf("Unexpected action: %+v", actions[0])
	}

	// Below the hook's own gate: no trigger
	actions = hm.OnDetection(types.MatchResult{Matched: true, Screen: "update_nag", Confidence: 0.5})
	if len(actions) != 0 {
		t.Errorf("Expected no action below the hook's gate, got %+v", actions)
	}
}

func TestHookScreenFilter(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "narrow.js", `
var hook = {
    screens: ["login"],
    onDetect: function(result) { return {run: "noop"}; }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "home"}); len(actions) != 0 {
		t.Errorf("Hook subscribed to other screens should not fire, got %+v", actions)
	}
	if actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "login"}); len(actions) != 1 {
		t.Errorf("Hook should fire for its subscribed screen, got %+v", actions)
	}
}

func TestHookWithoutFilterSeesEverything(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "wide.js", `
var hook = {
    onDetect: function(result) { return {run: "audit"}; }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "anything"}); len(actions) != 1 {
		t.Errorf("Unfiltered hook should always fire, got %+v", actions)
	}
}

func TestBrokenHookIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "broken.js", `this is not javascript {{{`)
	writeHook(t, dir, "good.js", `
var hook = {
    onDetect: function(result) { return {run: "ok"}; }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll should not fail on one broken hook: %v", err)
	}

	actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "home"})
	if len(actions) != 1 || actions[0].RunMacro != "ok" {
		t.Errorf("Good hook should survive a broken sibling, got %+v", actions)
	}
}

func TestHookErrorDoesNotFailDetection(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "throws.js", `
var hook = {
    onDetect: function(result) { throw new Error("boom"); }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	// Must not panic and must return no actions
	if actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: "home"}); len(actions) != 0 {
		t.Errorf("Throwing hook should produce no actions, got %+v", actions)
	}
}

func TestHookMissingOnDetectRejected(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "empty.js", `var hook = {};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(hm.hooks) != 0 {
		t.Error("Hook without onDetect should not load")
	}
}

func TestHookResultPassedAsDataNotSource(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "echo.js", `
var hook = {
    onDetect: function(result) {
        if (result.matched && result.confidence === 0.9) {
            return {run: "seen:" + result.screen};
        }
        return null;
    }
};`)

	hm := NewHookManager(dir)
	if err := hm.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	// A screen name full of JS syntax must arrive as a plain string value
	name := `nag")||(function(){throw 1})()//`
	actions := hm.OnDetection(types.MatchResult{Matched: true, Screen: name, Confidence: 0.9})
	if len(actions) != 1 {
		t.Fatalf("Expected 1 action, got %d", len(actions))
	}
	if actions[0].RunMacro != "seen:"+name {
		t.Errorf("Screen name was not passed through verbatim: %q", actions[0].RunMacro)
	}
}
