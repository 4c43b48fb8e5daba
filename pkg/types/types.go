// Package types holds the shared data model used by the main application and
// the MCP server package.
package types

import "time"

// Device represents an Android tablet reachable over ADB
type Device struct {
	Address    string `json:"address"`
	Serial     string `json:"serial"`
	State      string `json:"state"` // "device", "offline", "unauthorized"
	Model      string `json:"model"`
	Type       string `json:"type"` // "wired" or "wireless"
	LastActive int64  `json:"lastActive"`
}

// Template is a reference image plus acceptance threshold and priority,
// representing one recognizable application screen
type Template struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Filename  string  `json:"filename"`
	Threshold float64 `json:"threshold"` // acceptance threshold in [0,1]
	Priority  int     `json:"priority"`  // higher checked first
	CreatedAt int64   `json:"createdAt"`
}

// Rect is a matched screen region in device pixels
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MatchResult is the outcome of one detection call.
// When Matched is false, Screen/Confidence still carry the best candidate
// seen so callers can diagnose near-misses.
type MatchResult struct {
	Matched    bool      `json:"matched"`
	Screen     string    `json:"screen"` // template name, "" when nothing cleared its threshold
	TemplateID int64     `json:"templateId,omitempty"`
	Confidence float64   `json:"confidence"`
	Location   *Rect     `json:"location,omitempty"`
	Scale      float64   `json:"scale,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActionKind enumerates the closed set of macro action variants
type ActionKind string

const (
	ActionTap       ActionKind = "tap"
	ActionSwipe     ActionKind = "swipe"
	ActionLongPress ActionKind = "long_press"
	ActionText      ActionKind = "text"
	ActionKeyevent  ActionKind = "keyevent"
	ActionBack      ActionKind = "back"
	ActionHome      ActionKind = "home"
	ActionWait      ActionKind = "wait"
)

// Action is one step of a macro. Exactly the fields for its Kind are
// meaningful; the executor rejects unknown kinds rather than skipping them.
type Action struct {
	Kind     ActionKind `json:"type"`
	X        int        `json:"x,omitempty"`
	Y        int        `json:"y,omitempty"`
	X2       int        `json:"x2,omitempty"`
	Y2       int        `json:"y2,omitempty"`
	Duration int        `json:"duration,omitempty"` // ms, swipe/long_press
	Value    string     `json:"value,omitempty"`    // text
	Code     int        `json:"code,omitempty"`     // keyevent
	Seconds  float64    `json:"seconds,omitempty"`  // wait
	DelayMs  int        `json:"delayMs,omitempty"`  // text, 0 = device setting
}

// Macro is a named, ordered sequence of actions
type Macro struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
	CreatedAt   int64    `json:"createdAt"`
}

// ActionStatus is the per-action outcome within an execution report
type ActionStatus string

const (
	ActionOK           ActionStatus = "ok"
	ActionFailed       ActionStatus = "failed"
	ActionNotAttempted ActionStatus = "not_attempted"
)

// ActionOutcome records what happened to one action of a macro run
type ActionOutcome struct {
	Index      int          `json:"index"`
	Kind       ActionKind   `json:"type"`
	Status     ActionStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"durationMs"`
}

// ExecutionReport is the result of one macro run against one device
type ExecutionReport struct {
	RunID       string          `json:"runId"`
	Device      string          `json:"device"`
	Success     bool            `json:"success"`
	Total       int             `json:"total"`
	Executed    int             `json:"executed"`
	FailedIndex int             `json:"failedIndex"` // -1 when Success
	Outcomes    []ActionOutcome `json:"outcomes"`
	StartedAt   time.Time       `json:"startedAt"`
	DurationMs  int64           `json:"durationMs"`
}

// DeviceSettings are the per-device tuning knobs
type DeviceSettings struct {
	Address              string  `json:"address"`
	MatchThreshold       float64 `json:"matchThreshold"`
	KeystrokeDelayMs     int     `json:"keystrokeDelayMs"`
	PostLoginWaitSeconds int     `json:"postLoginWaitSeconds"`
}

// Credentials for the tablet application. Password is only ever the
// plaintext in memory; the store persists it encrypted.
type Credentials struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// LoginState is one state of the auto-login workflow
type LoginState string

const (
	LoginIdle           LoginState = "idle"
	LoginLoggingIn      LoginState = "logging_in"
	LoginAwaitingSettle LoginState = "awaiting_settle"
	LoginDetecting      LoginState = "detecting"
	LoginDismissing     LoginState = "dismissing"
	LoginDone           LoginState = "done"
	LoginFailed         LoginState = "failed"
)

// LoginReport is the result of one auto-login workflow run
type LoginReport struct {
	RunID         string           `json:"runId"`
	Device        string           `json:"device"`
	State         LoginState       `json:"state"`
	Detection     *MatchResult     `json:"detection,omitempty"`
	DismissedWith string           `json:"dismissedWith,omitempty"` // macro name
	LoginReport   *ExecutionReport `json:"loginReport,omitempty"`
	DismissReport *ExecutionReport `json:"dismissReport,omitempty"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	DurationMs    int64            `json:"durationMs"`
}
