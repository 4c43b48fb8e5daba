package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"Drover/pkg/types"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// deviceIDPattern validates device handles. Accepted forms:
// - USB serials: alphanumeric, e.g. "1234567890ABCDEF", "emulator-5554"
// - wireless devices: IP:port, e.g. "192.168.1.100:5555"
// - mDNS devices: "adb-xxxxx._adb-tls-connect._tcp."
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects device handles that could smuggle shell syntax
// into an adb invocation
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceID) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// newAdbCommand creates an exec.Cmd with a clean environment to avoid proxy
// interference with the ADB server connection
func (a *App) newAdbCommand(ctx context.Context, args ...string) *exec.Cmd {
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, a.adbPath, args...)
	} else {
		cmd = exec.Command(a.adbPath, args...)
	}

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}

// limiterFor returns the per-device rate limiter, creating it on first use.
// One automation job per device is the caller's job; the limiter only keeps
// a runaway macro from flooding the transport.
func (a *App) limiterFor(deviceID string) *rate.Limiter {
	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()

	if l, ok := a.limiters[deviceID]; ok {
		return l
	}
	per := a.config.AdbCmdsPerSecond
	if per <= 0 {
		per = 20
	}
	l := rate.NewLimiter(rate.Limit(per), int(per))
	a.limiters[deviceID] = l
	return l
}

// RunAdbCommand executes an ADB command against one device with the default
// 30s timeout
func (a *App) RunAdbCommand(deviceID string, fullCmd string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.RunAdbCommandWithContext(ctx, deviceID, fullCmd)
}

// RunAdbCommandWithContext executes an ADB command with caller-controlled
// timeout and cancellation
func (a *App) RunAdbCommandWithContext(ctx context.Context, deviceID string, fullCmd string) (string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", fmt.Errorf("invalid device ID: %w", err)
	}

	fullCmd = strings.TrimSpace(fullCmd)
	if fullCmd == "" {
		return "", nil
	}

	if err := a.limiterFor(deviceID).Wait(ctx); err != nil {
		return "", err
	}

	var args []string
	args = append(args, "-s", deviceID)

	if strings.HasPrefix(fullCmd, "shell ") {
		shellArgs := strings.TrimPrefix(fullCmd, "shell ")
		args = append(args, "shell", shellArgs)
	} else {
		args = append(args, strings.Fields(fullCmd)...)
	}

	cmd := a.newAdbCommand(ctx, args...)
	output, err := cmd.CombinedOutput()
	observeAdbCommand(err)
	res := string(output)
	if err != nil {
		return res, fmt.Errorf("command failed: %w, output: %s", err, res)
	}
	return strings.TrimSpace(res), nil
}

// ========================================
// Device discovery and connection
// ========================================

// GetDevices returns the devices currently known to the ADB server
func (a *App) GetDevices() ([]types.Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "devices", "-l")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run adb devices (path: %s): %w, output: %s", a.adbPath, err, string(output))
	}

	var devices []types.Device
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		d := types.Device{
			Address: parts[0],
			State:   parts[1],
			Type:    "wired",
		}
		if strings.Contains(d.Address, ":") || strings.Contains(d.Address, "._tcp") {
			d.Type = "wireless"
		}
		for _, p := range parts[2:] {
			if kv := strings.SplitN(p, ":", 2); len(kv) == 2 {
				switch kv[0] {
				case "model":
					d.Model = kv[1]
				case "transport_id":
					d.Serial = d.Address
				}
			}
		}

		a.lastActiveMu.Lock()
		d.LastActive = a.lastActive[d.Address]
		a.lastActiveMu.Unlock()

		devices = append(devices, d)
	}

	return devices, nil
}

// AdbConnect connects to a wireless device by address
func (a *App) AdbConnect(address string) (string, error) {
	if err := ValidateDeviceID(address); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "connect", address)
	output, err := cmd.CombinedOutput()
	res := strings.TrimSpace(string(output))
	if err != nil {
		return res, fmt.Errorf("adb connect failed: %w, output: %s", err, res)
	}
	if !strings.Contains(res, "connected to") {
		return res, fmt.Errorf("%w: %s", ErrDeviceUnreachable, res)
	}
	LogInfo("device").Str("address", address).Msg("Connected")
	return res, nil
}

// AdbDisconnect disconnects a wireless device
func (a *App) AdbDisconnect(address string) (string, error) {
	if err := ValidateDeviceID(address); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "disconnect", address)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("adb disconnect failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetDeviceResolution parses `wm size` output into width and height
func (a *App) GetDeviceResolution(deviceID string) (int, int, error) {
	output, err := a.RunAdbCommand(deviceID, "shell wm size")
	if err != nil {
		return 0, 0, err
	}

	// "Physical size: 1440x2560" or "Override size: 1080x2400"
	re := regexp.MustCompile(`(\d+)x(\d+)`)
	matches := re.FindStringSubmatch(output)
	if len(matches) < 3 {
		return 0, 0, fmt.Errorf("could not parse wm size output: %q", output)
	}
	w, _ := strconv.Atoi(matches[1])
	h, _ := strconv.Atoi(matches[2])
	return w, h, nil
}

// WakeScreen wakes the device display
func (a *App) WakeScreen(deviceID string) error {
	_, err := a.RunAdbCommand(deviceID, "shell input keyevent KEYCODE_WAKEUP")
	return err
}

// SleepScreen puts the device display to sleep
func (a *App) SleepScreen(deviceID string) error {
	_, err := a.RunAdbCommand(deviceID, "shell input keyevent KEYCODE_SLEEP")
	return err
}

// ========================================
// Screenshot capture
// ========================================

const remoteScreenshotPath = "/sdcard/screenshot_tmp.png"

// TakeScreenshot captures the device screen and saves the PNG to the host,
// under the configured screenshots directory when savePath is empty
func (a *App) TakeScreenshot(deviceID, savePath string) (string, error) {
	return a.TakeScreenshotWithContext(context.Background(), deviceID, savePath)
}

// TakeScreenshotWithContext is TakeScreenshot with caller-controlled cancellation
func (a *App) TakeScreenshotWithContext(ctx context.Context, deviceID, savePath string) (string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", err
	}

	if savePath == "" {
		deviceDir := filepath.Join(a.config.ScreenshotsDir, strings.ReplaceAll(deviceID, ":", "_"))
		if err := os.MkdirAll(deviceDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create screenshot directory: %w", err)
		}
		savePath = filepath.Join(deviceDir, fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405")))
	} else if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	a.updateLastActive(deviceID)

	if _, err := a.RunAdbCommandWithContext(ctx, deviceID, "shell screencap -p "+remoteScreenshotPath); err != nil {
		return "", fmt.Errorf("%w: screencap failed: %v", ErrDeviceUnreachable, err)
	}
	defer a.RunAdbCommand(deviceID, "shell rm "+remoteScreenshotPath)

	if _, err := a.RunAdbCommandWithContext(ctx, deviceID, fmt.Sprintf("pull %s %s", remoteScreenshotPath, savePath)); err != nil {
		return "", fmt.Errorf("failed to pull screenshot: %w", err)
	}

	if _, err := os.Stat(savePath); err != nil {
		return "", fmt.Errorf("screenshot was not written: %w", err)
	}
	return savePath, nil
}

// ========================================
// Tablet application management
// ========================================

// CheckAppInstalled reports whether the configured tablet app is installed
func (a *App) CheckAppInstalled(deviceID string) (bool, error) {
	if a.config.AppPackage == "" {
		return false, fmt.Errorf("app_package is not configured")
	}
	output, err := a.RunAdbCommand(deviceID, "shell pm list packages "+a.config.AppPackage)
	if err != nil {
		return false, err
	}
	return strings.Contains(output, "package:"+a.config.AppPackage), nil
}

// CheckAppRunning reports whether the configured tablet app has a process
func (a *App) CheckAppRunning(deviceID string) (bool, error) {
	if a.config.AppPackage == "" {
		return false, fmt.Errorf("app_package is not configured")
	}
	output, err := a.RunAdbCommand(deviceID, "shell pidof "+a.config.AppPackage)
	if err != nil {
		// pidof exits non-zero when no process exists
		return false, nil
	}
	return strings.TrimSpace(output) != "", nil
}

// StartApp launches the configured tablet app
func (a *App) StartApp(deviceID string) error {
	if a.config.AppPackage == "" {
		return fmt.Errorf("app_package is not configured")
	}
	_, err := a.RunAdbCommand(deviceID, fmt.Sprintf("shell monkey -p %s -c android.intent.category.LAUNCHER 1", a.config.AppPackage))
	return err
}

// StopApp force-stops the configured tablet app
func (a *App) StopApp(deviceID string) error {
	if a.config.AppPackage == "" {
		return fmt.Errorf("app_package is not configured")
	}
	_, err := a.RunAdbCommand(deviceID, "shell am force-stop "+a.config.AppPackage)
	return err
}

// ========================================
// Device database snapshot
// ========================================

// PullAppDatabase pulls the tablet application's SQLite file and archives a
// gzip-compressed, timestamped snapshot under the data dir. Returns the
// snapshot path.
func (a *App) PullAppDatabase(deviceID string) (string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", err
	}
	if a.config.AppDBPath == "" {
		return "", fmt.Errorf("app_db_path is not configured")
	}

	snapDir := filepath.Join(a.config.SnapshotsDir(), strings.ReplaceAll(deviceID, ":", "_"))
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := filepath.Join(snapDir, ".pull_tmp.db")
	defer os.Remove(tmpPath)

	if _, err := a.RunAdbCommand(deviceID, fmt.Sprintf("pull %s %s", a.config.AppDBPath, tmpPath)); err != nil {
		return "", fmt.Errorf("failed to pull device database: %w", err)
	}

	snapPath := filepath.Join(snapDir, fmt.Sprintf("app_%s.db.gz", time.Now().Format("20060102_150405")))
	if err := gzipFile(tmpPath, snapPath); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	a.updateLastActive(deviceID)
	LogInfo("device").Str("device", deviceID).Str("snapshot", snapPath).Msg("Pulled app database")
	return snapPath, nil
}

func gzipFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		os.Remove(dstPath)
		return err
	}
	return gz.Close()
}

// ========================================
// Last-active bookkeeping
// ========================================

func (a *App) updateLastActive(deviceID string) {
	a.lastActiveMu.Lock()
	a.lastActive[deviceID] = time.Now().Unix()
	a.lastActiveMu.Unlock()
}
