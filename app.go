package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"Drover/pkg/types"

	"golang.org/x/time/rate"
)

// App wires the service together: config, ADB transport state, store,
// detector, executor, credentials and hooks
type App struct {
	ctx     context.Context
	config  *Config
	adbPath string
	mcpMode bool

	store    *Store
	cipher   *CredentialCipher
	detector *Detector
	executor *Executor
	hooks    *HookManager
	watcher  *TemplateWatcher

	// Workflow collaborators. Default to the real screenshot pipeline,
	// detector and executor; tests substitute fakes to drive the
	// match/no-match branches without a device.
	captureScreen func(ctx context.Context, address string) ([]byte, error)
	detectScreen  func(screenshot []byte, templates []types.Template, override *float64) (types.MatchResult, error)
	runActions    func(ctx context.Context, address string, actions []types.Action, settings types.DeviceSettings) types.ExecutionReport

	// per-device ADB command limiters
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	// last-seen activity per device, unix seconds
	lastActiveMu sync.Mutex
	lastActive   map[string]int64
}

// NewApp creates the application struct; startup() opens resources
func NewApp(cfg *Config, mcpMode bool) *App {
	a := &App{
		config:     cfg,
		adbPath:    cfg.AdbPath,
		mcpMode:    mcpMode,
		limiters:   make(map[string]*rate.Limiter),
		lastActive: make(map[string]int64),
	}
	a.captureScreen = a.captureScreenPNG
	a.detectScreen = func(screenshot []byte, templates []types.Template, override *float64) (types.MatchResult, error) {
		return a.detector.Detect(screenshot, templates, override)
	}
	a.runActions = func(ctx context.Context, address string, actions []types.Action, settings types.DeviceSettings) types.ExecutionReport {
		return a.executor.Execute(ctx, address, actions, settings)
	}
	return a
}

// captureScreenPNG captures a fresh screenshot and returns the PNG bytes
func (a *App) captureScreenPNG(ctx context.Context, address string) ([]byte, error) {
	path, err := a.TakeScreenshotWithContext(ctx, address, "")
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// startup opens the store, credential cipher, detector, hooks and the
// template watcher. Call shutdown to release everything.
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	for _, dir := range []string{a.config.DataDir, a.config.TemplatesDir, a.config.ScreenshotsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	store, err := OpenStore(a.config.DBPath(), types.DeviceSettings{
		MatchThreshold:       a.config.MatchThreshold,
		KeystrokeDelayMs:     a.config.KeystrokeDelayMs,
		PostLoginWaitSeconds: a.config.PostLoginWaitSeconds,
	})
	if err != nil {
		return err
	}
	a.store = store

	cipher, err := LoadOrCreateCipher(a.config.KeyPath())
	if err != nil {
		a.store.Close()
		return err
	}
	a.cipher = cipher

	a.detector = NewDetector(a.config.TemplatesDir, a.config.Multiscale)
	a.executor = NewExecutor(a)

	a.hooks = NewHookManager(a.config.HooksDir)
	if err := a.hooks.LoadAll(); err != nil {
		LogWarn("app").Err(err).Msg("Detection hooks unavailable")
	}

	a.watcher = NewTemplateWatcher(a.detector, a.config.TemplatesDir)
	if err := a.watcher.Start(); err != nil {
		LogWarn("app").Err(err).Msg("Template watcher unavailable")
	}

	LogInfo("app").Str("data_dir", a.config.DataDir).Msg("Started")
	return nil
}

// shutdown releases resources in reverse startup order
func (a *App) shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.detector != nil {
		a.detector.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			LogWarn("app").Err(err).Msg("Store close failed")
		}
	}
	LogInfo("app").Msg("Stopped")
}
