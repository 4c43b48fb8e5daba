package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Drover/pkg/types"

	"github.com/google/uuid"
)

// Transport sends one raw command to a device. Implemented by App over ADB;
// tests substitute a recording fake.
type Transport interface {
	RunCommand(ctx context.Context, deviceID string, cmd string) (string, error)
}

// textRetryBackoff is the pause before the single reattempt of a failed
// text action
const textRetryBackoff = 500 * time.Millisecond

// Executor replays macros against one target device, strictly sequentially:
// one action completes (or its wait elapses) before the next begins. A
// failed action aborts the remainder of the macro; continuing would execute
// later actions against an unexpected screen state.
type Executor struct {
	transport Transport
}

// NewExecutor creates an executor over the given transport
func NewExecutor(t Transport) *Executor {
	return &Executor{transport: t}
}

// Execute replays the actions in array order. Action boundaries are the
// only interruption points: a cancelled context stops the run before the
// next action, never mid-action. An empty action list is a legal no-op.
func (e *Executor) Execute(ctx context.Context, deviceID string, actions []types.Action, settings types.DeviceSettings) types.ExecutionReport {
	report := types.ExecutionReport{
		RunID:       uuid.NewString(),
		Device:      deviceID,
		Success:     true,
		Total:       len(actions),
		FailedIndex: -1,
		Outcomes:    make([]types.ActionOutcome, 0, len(actions)),
		StartedAt:   time.Now(),
	}

	LogInfo("executor").
		Str("runId", report.RunID).
		Str("device", deviceID).
		Int("actions", len(actions)).
		Msg("Macro run started")

	for i, action := range actions {
		select {
		case <-ctx.Done():
			report.Success = false
			report.FailedIndex = i
			report.Outcomes = append(report.Outcomes, types.ActionOutcome{
				Index:  i,
				Kind:   action.Kind,
				Status: types.ActionFailed,
				Error:  ctx.Err().Error(),
			})
			markNotAttempted(&report, actions, i+1)
			return finishReport(&report)
		default:
		}

		start := time.Now()
		err := e.executeAction(ctx, deviceID, action, settings)
		outcome := types.ActionOutcome{
			Index:      i,
			Kind:       action.Kind,
			Status:     types.ActionOK,
			DurationMs: time.Since(start).Milliseconds(),
		}

		if err != nil {
			outcome.Status = types.ActionFailed
			outcome.Error = err.Error()
			report.Outcomes = append(report.Outcomes, outcome)
			report.Success = false
			report.FailedIndex = i
			markNotAttempted(&report, actions, i+1)

			LogError("executor").
				Str("runId", report.RunID).
				Int("index", i).
				Str("type", string(action.Kind)).
				Err(err).
				Msg("Action failed, aborting macro")
			return finishReport(&report)
		}

		report.Outcomes = append(report.Outcomes, outcome)
		report.Executed++
		observeAction(action.Kind, true)
	}

	return finishReport(&report)
}

func markNotAttempted(report *types.ExecutionReport, actions []types.Action, from int) {
	for j := from; j < len(actions); j++ {
		report.Outcomes = append(report.Outcomes, types.ActionOutcome{
			Index:  j,
			Kind:   actions[j].Kind,
			Status: types.ActionNotAttempted,
		})
	}
}

func finishReport(report *types.ExecutionReport) types.ExecutionReport {
	report.DurationMs = time.Since(report.StartedAt).Milliseconds()
	if !report.Success {
		if report.FailedIndex >= 0 && report.FailedIndex < len(report.Outcomes) {
			observeAction(report.Outcomes[report.FailedIndex].Kind, false)
		}
	}
	LogInfo("executor").
		Str("runId", report.RunID).
		Bool("success", report.Success).
		Int("executed", report.Executed).
		Int("failedIndex", report.FailedIndex).
		Int64("durationMs", report.DurationMs).
		Msg("Macro run finished")
	return *report
}

// executeAction dispatches one action. The variant set is closed: an
// unrecognized kind is an error, never a silent skip.
func (e *Executor) executeAction(ctx context.Context, deviceID string, action types.Action, settings types.DeviceSettings) error {
	switch action.Kind {
	case types.ActionTap:
		return e.run(ctx, deviceID, fmt.Sprintf("shell input tap %d %d", action.X, action.Y))

	case types.ActionSwipe:
		duration := action.Duration
		if duration <= 0 {
			duration = 300
		}
		return e.run(ctx, deviceID, fmt.Sprintf("shell input swipe %d %d %d %d %d",
			action.X, action.Y, action.X2, action.Y2, duration))

	case types.ActionLongPress:
		duration := action.Duration
		if duration <= 0 {
			duration = 2000
		}
		// A long press is a swipe from the point to itself
		return e.run(ctx, deviceID, fmt.Sprintf("shell input swipe %d %d %d %d %d",
			action.X, action.Y, action.X, action.Y, duration))

	case types.ActionText:
		delay := time.Duration(settings.KeystrokeDelayMs) * time.Millisecond
		if action.DelayMs > 0 {
			delay = time.Duration(action.DelayMs) * time.Millisecond
		}
		if err := e.injectText(ctx, deviceID, action.Value, delay); err != nil {
			// One reattempt of this action only; the macro never restarts
			LogWarn("executor").Str("device", deviceID).Err(err).Msg("Text input failed, retrying once")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(textRetryBackoff):
			}
			return e.injectText(ctx, deviceID, action.Value, delay)
		}
		return nil

	case types.ActionKeyevent:
		return e.run(ctx, deviceID, fmt.Sprintf("shell input keyevent %d", action.Code))

	case types.ActionBack:
		return e.run(ctx, deviceID, "shell input keyevent 4")

	case types.ActionHome:
		return e.run(ctx, deviceID, "shell input keyevent 3")

	case types.ActionWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(action.Seconds * float64(time.Second))):
			return nil
		}

	default:
		return fmt.Errorf("unknown action type: %q", action.Kind)
	}
}

func (e *Executor) run(ctx context.Context, deviceID, cmd string) error {
	_, err := e.transport.RunCommand(ctx, deviceID, cmd)
	return err
}

// injectText types the value one character at a time with a fixed delay
// between characters. The target app drops or reorders characters under
// fast injection, so the delay is a correctness requirement: characters
// must arrive in order and the delay must never collapse to zero when a
// non-zero delay is configured.
func (e *Executor) injectText(ctx context.Context, deviceID, value string, delay time.Duration) error {
	for i, ch := range value {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		escaped := escapeInputChar(ch)
		if _, err := e.transport.RunCommand(ctx, deviceID, "shell input text "+escaped); err != nil {
			return fmt.Errorf("failed to input character %q: %w", ch, err)
		}
	}
	return nil
}

// escapeInputChar escapes a character for `adb shell input text`
func escapeInputChar(ch rune) string {
	switch ch {
	case ' ':
		return "%s"
	case '&', '"', '\'', '`', '$', '(', ')':
		return "\\" + string(ch)
	default:
		return string(ch)
	}
}

// ========================================
// App-level macro execution
// ========================================

// RunCommand implements Transport over the ADB connection
func (a *App) RunCommand(ctx context.Context, deviceID string, cmd string) (string, error) {
	return a.RunAdbCommandWithContext(ctx, deviceID, cmd)
}

// ExecuteMacro replays an action list against one device using the device's
// stored settings
func (a *App) ExecuteMacro(ctx context.Context, deviceID string, actions []types.Action) (types.ExecutionReport, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return types.ExecutionReport{}, err
	}
	if err := ValidateActions(actions); err != nil {
		return types.ExecutionReport{}, err
	}

	settings, err := a.store.GetDeviceSettings(deviceID)
	if err != nil {
		return types.ExecutionReport{}, err
	}

	a.updateLastActive(deviceID)
	LogDebug("executor").Str("device", deviceID).Str("actions", summariseActions(actions)).Msg("Executing macro")
	report := a.executor.Execute(ctx, deviceID, actions, settings)
	return report, nil
}

// ExecuteMacroByName loads a stored macro and replays it
func (a *App) ExecuteMacroByName(ctx context.Context, deviceID, name string) (types.ExecutionReport, error) {
	macro, err := a.store.GetMacro(name)
	if err != nil {
		return types.ExecutionReport{}, err
	}
	return a.ExecuteMacro(ctx, deviceID, macro.Actions)
}

// ValidateActions rejects malformed actions up front so a macro never fails
// halfway through on input that could have been checked before touching the
// device
func ValidateActions(actions []types.Action) error {
	for i, action := range actions {
		switch action.Kind {
		case types.ActionTap, types.ActionSwipe, types.ActionLongPress,
			types.ActionKeyevent, types.ActionBack, types.ActionHome:
			// coordinate range is the caller's responsibility
		case types.ActionText:
			if action.Value == "" {
				return &ActionError{Index: i, Kind: action.Kind, Err: fmt.Errorf("text value must not be empty")}
			}
		case types.ActionWait:
			if action.Seconds < 0 {
				return &ActionError{Index: i, Kind: action.Kind, Err: fmt.Errorf("wait seconds must not be negative")}
			}
		case "":
			return &ActionError{Index: i, Kind: action.Kind, Err: fmt.Errorf("missing type")}
		default:
			return &ActionError{Index: i, Kind: action.Kind, Err: fmt.Errorf("unknown type %q", action.Kind)}
		}
	}
	return nil
}

// summariseActions renders a short description of a macro for logs
func summariseActions(actions []types.Action) string {
	kinds := make([]string, len(actions))
	for i, a := range actions {
		kinds[i] = string(a.Kind)
	}
	return strings.Join(kinds, ",")
}
