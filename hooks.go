package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"Drover/pkg/types"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ========================================
// Detection hooks - JavaScript extensions
// ========================================

// Hook is one loaded JavaScript detection hook. Each hook gets its own VM;
// the mutex serializes access since goja runtimes are not goroutine-safe.
type Hook struct {
	Name    string
	Path    string
	screens map[string]bool // screen names the hook subscribes to, empty = all

	mu       sync.Mutex
	vm       *goja.Runtime
	onDetect goja.Callable
}

// HookAction is what a hook may return to trigger a follow-up macro
type HookAction struct {
	HookName string `json:"hook"`
	RunMacro string `json:"run,omitempty"`
}

// HookManager loads *.js files from the hooks directory. A hook script must
// define a global `hook` object:
//
//	var hook = {
//	    screens: ["update_nag"],          // optional filter
//	    onDetect: function(result) {      // result is the detection JSON
//	        return {run: "dismiss-update"};
//	    }
//	};
type HookManager struct {
	dir string

	mu    sync.RWMutex
	hooks map[string]*Hook
}

func NewHookManager(dir string) *HookManager {
	return &HookManager{
		dir:   dir,
		hooks: make(map[string]*Hook),
	}
}

// LoadAll loads every *.js file from the hooks directory. A missing
// directory means no hooks; a broken hook is skipped with a warning.
func (hm *HookManager) LoadAll() error {
	entries, err := os.ReadDir(hm.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read hooks directory: %w", err)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.hooks = make(map[string]*Hook)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		path := filepath.Join(hm.dir, entry.Name())
		hook, err := loadHook(path)
		if err != nil {
			LogWarn("hooks").Err(err).Str("file", entry.Name()).Msg("Skipping broken hook")
			continue
		}
		hm.hooks[hook.Name] = hook
		LogInfo("hooks").Str("hook", hook.Name).Int("screens", len(hook.screens)).Msg("Loaded detection hook")
	}
	return nil
}

func loadHook(path string) (*Hook, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	injectHookHelpers(vm)

	if _, err := vm.RunString(string(source)); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	hookObj := vm.Get("hook")
	if hookObj == nil || goja.IsUndefined(hookObj) {
		return nil, fmt.Errorf("no global `hook` object")
	}
	obj := hookObj.ToObject(vm)

	onDetectVal := obj.Get("onDetect")
	onDetect, ok := goja.AssertFunction(onDetectVal)
	if !ok {
		return nil, fmt.Errorf("hook.onDetect is not a function")
	}

	hook := &Hook{
		Name:     strings.TrimSuffix(filepath.Base(path), ".js"),
		Path:     path,
		screens:  make(map[string]bool),
		vm:       vm,
		onDetect: onDetect,
	}

	if screensVal := obj.Get("screens"); screensVal != nil && !goja.IsUndefined(screensVal) {
		var names []string
		if err := vm.ExportTo(screensVal, &names); err == nil {
			for _, name := range names {
				hook.screens[name] = true
			}
		}
	}
	return hook, nil
}

// injectHookHelpers exposes a small helper surface to hook scripts
func injectHookHelpers(vm *goja.Runtime) {
	vm.Set("jsonGet", func(raw, path string) string {
		return gjson.Get(raw, path).String()
	})
	vm.Set("log", func(msg string) {
		LogDebug("hooks").Msg(msg)
	})
}

// OnDetection runs every subscribed hook against a detection result and
// collects the macro triggers they return. Hook failures are logged and
// never fail the detection itself.
func (hm *HookManager) OnDetection(result types.MatchResult) []HookAction {
	hm.mu.RLock()
	eligible := make([]*Hook, 0, len(hm.hooks))
	for _, hook := range hm.hooks {
		if len(hook.screens) == 0 || hook.screens[result.Screen] {
			eligible = append(eligible, hook)
		}
	}
	hm.mu.RUnlock()

	if len(eligible) == 0 {
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		LogWarn("hooks").Err(err).Msg("Failed to serialize detection result for hooks")
		return nil
	}

	invocation := uuid.NewString()
	var actions []HookAction
	for _, hook := range eligible {
		action, err := hook.invoke(payload)
		if err != nil {
			LogWarn("hooks").Err(err).Str("hook", hook.Name).Str("invocation", invocation).Msg("Hook failed")
			continue
		}
		if action != nil {
			action.HookName = hook.Name
			actions = append(actions, *action)
		}
	}
	return actions
}

// invoke runs one hook's onDetect under panic recovery
func (h *Hook) invoke(payload []byte) (action *HookAction, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			action = nil
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()

	// Unmarshal and convert rather than evaluating the JSON as source, so
	// no screen name can ever be interpreted as script text
	var resultObj map[string]interface{}
	if err := json.Unmarshal(payload, &resultObj); err != nil {
		return nil, fmt.Errorf("failed to build result object: %w", err)
	}

	ret, err := h.onDetect(goja.Undefined(), h.vm.ToValue(resultObj))
	if err != nil {
		return nil, err
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, nil
	}

	var out map[string]interface{}
	if err := h.vm.ExportTo(ret, &out); err != nil {
		return nil, fmt.Errorf("invalid hook return value: %w", err)
	}
	run, _ := out["run"].(string)
	if run == "" {
		return nil, nil
	}
	return &HookAction{RunMacro: run}, nil
}
