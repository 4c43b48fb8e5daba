package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Drover/pkg/types"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// Store - SQLite persistence
// ========================================

// Store owns the service database: templates, macros, template-macro links,
// credentials, per-device settings and run history
type Store struct {
	db     *sql.DB
	dbPath string

	defaults types.DeviceSettings

	stmtInsertDetection *sql.Stmt
	stmtInsertLoginRun  *sql.Stmt
}

// SQL schema
const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS screen_templates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    filename TEXT NOT NULL,
    confidence_threshold REAL DEFAULT 0.7,
    priority INTEGER DEFAULT 0,
    created_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS macros (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT DEFAULT '',
    actions TEXT NOT NULL,
    created_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS template_macro_links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    template_id INTEGER NOT NULL,
    macro_id INTEGER NOT NULL,
    UNIQUE(template_id, macro_id),
    FOREIGN KEY (template_id) REFERENCES screen_templates(id) ON DELETE CASCADE,
    FOREIGN KEY (macro_id) REFERENCES macros(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS credentials (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_address TEXT UNIQUE NOT NULL,
    username TEXT NOT NULL,
    encrypted_password TEXT NOT NULL,
    created_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS device_settings (
    device_address TEXT PRIMARY KEY,
    match_threshold REAL,
    keystroke_delay_ms INTEGER,
    post_login_wait_seconds INTEGER
);

CREATE TABLE IF NOT EXISTS detection_log (
    id TEXT PRIMARY KEY,
    device_address TEXT NOT NULL,
    screen TEXT,
    confidence REAL,
    matched INTEGER NOT NULL,
    detected_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_device_time ON detection_log(device_address, detected_at DESC);

CREATE TABLE IF NOT EXISTS login_runs (
    id TEXT PRIMARY KEY,
    device_address TEXT NOT NULL,
    state TEXT NOT NULL,
    detected_screen TEXT,
    dismiss_macro TEXT,
    error TEXT,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_login_runs_device_time ON login_runs(device_address, started_at DESC);
`

// OpenStore opens (creating if needed) the service database
func OpenStore(dbPath string, defaults types.DeviceSettings) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{
		db:       db,
		dbPath:   dbPath,
		defaults: defaults,
	}

	s.stmtInsertDetection, err = db.Prepare(`
		INSERT INTO detection_log (id, device_address, screen, confidence, matched, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare detection insert: %w", err)
	}

	s.stmtInsertLoginRun, err = db.Prepare(`
		INSERT INTO login_runs (id, device_address, state, detected_screen, dismiss_macro, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare login run insert: %w", err)
	}

	LogInfo("store").Str("path", dbPath).Msg("Store opened")
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.stmtInsertDetection != nil {
		s.stmtInsertDetection.Close()
	}
	if s.stmtInsertLoginRun != nil {
		s.stmtInsertLoginRun.Close()
	}
	return s.db.Close()
}

// ========================================
// Templates
// ========================================

// CreateTemplate inserts a template definition and returns its ID
func (s *Store) CreateTemplate(t types.Template) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO screen_templates (name, filename, confidence_threshold, priority)
		VALUES (?, ?, ?, ?)`,
		t.Name, t.Filename, t.Threshold, t.Priority)
	if err != nil {
		return 0, fmt.Errorf("failed to create template %q: %w", t.Name, err)
	}
	return res.LastInsertId()
}

// ListTemplates returns all templates ordered by descending priority
func (s *Store) ListTemplates() ([]types.Template, error) {
	rows, err := s.db.Query(`
		SELECT id, name, filename, confidence_threshold, priority, created_at
		FROM screen_templates
		ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []types.Template
	for rows.Next() {
		var t types.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Filename, &t.Threshold, &t.Priority, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// GetTemplate returns one template by name
func (s *Store) GetTemplate(name string) (types.Template, error) {
	var t types.Template
	err := s.db.QueryRow(`
		SELECT id, name, filename, confidence_threshold, priority, created_at
		FROM screen_templates WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Filename, &t.Threshold, &t.Priority, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	return t, err
}

// GetTemplateByID returns one template by ID
func (s *Store) GetTemplateByID(id int64) (types.Template, error) {
	var t types.Template
	err := s.db.QueryRow(`
		SELECT id, name, filename, confidence_threshold, priority, created_at
		FROM screen_templates WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Filename, &t.Threshold, &t.Priority, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, err
}

// UpdateTemplate updates threshold and priority for a template
func (s *Store) UpdateTemplate(id int64, threshold float64, priority int) error {
	res, err := s.db.Exec(`
		UPDATE screen_templates SET confidence_threshold = ?, priority = ? WHERE id = ?`,
		threshold, priority, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTemplate removes a template and its macro links
func (s *Store) DeleteTemplate(id int64) error {
	res, err := s.db.Exec(`DELETE FROM screen_templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return nil
}

// ========================================
// Macros
// ========================================

// SaveMacro inserts or replaces a macro by name and returns its ID
func (s *Store) SaveMacro(m types.Macro) (int64, error) {
	actionsJSON, err := json.Marshal(m.Actions)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize actions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO macros (name, description, actions)
		VALUES (?, ?, ?)
		ON CONFLICT(name)
		DO UPDATE SET description = excluded.description, actions = excluded.actions`,
		m.Name, m.Description, string(actionsJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to save macro %q: %w", m.Name, err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM macros WHERE name = ?`, m.Name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanMacro(row interface{ Scan(...any) error }) (types.Macro, error) {
	var m types.Macro
	var actionsJSON string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &actionsJSON, &m.CreatedAt); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(actionsJSON), &m.Actions); err != nil {
		return m, fmt.Errorf("corrupt actions for macro %q: %w", m.Name, err)
	}
	return m, nil
}

// GetMacro returns one macro by name, actions included
func (s *Store) GetMacro(name string) (types.Macro, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, actions, created_at FROM macros WHERE name = ?`, name)
	m, err := scanMacro(row)
	if err == sql.ErrNoRows {
		return m, fmt.Errorf("macro %q: %w", name, ErrNotFound)
	}
	return m, err
}

// GetMacroByID returns one macro by ID, actions included
func (s *Store) GetMacroByID(id int64) (types.Macro, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, actions, created_at FROM macros WHERE id = ?`, id)
	m, err := scanMacro(row)
	if err == sql.ErrNoRows {
		return m, fmt.Errorf("macro %d: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMacros returns all macros without their action lists
func (s *Store) ListMacros() ([]types.Macro, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, created_at FROM macros ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var macros []types.Macro
	for rows.Next() {
		var m types.Macro
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		macros = append(macros, m)
	}
	return macros, rows.Err()
}

// DeleteMacro removes a macro by ID
func (s *Store) DeleteMacro(id int64) error {
	res, err := s.db.Exec(`DELETE FROM macros WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("macro %d: %w", id, ErrNotFound)
	}
	return nil
}

// ========================================
// Template-macro links
// ========================================

// LinkTemplateMacro links a macro to a template for auto-execution
func (s *Store) LinkTemplateMacro(templateID, macroID int64) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO template_macro_links (template_id, macro_id) VALUES (?, ?)`,
		templateID, macroID)
	return err
}

// UnlinkTemplateMacro removes a template-macro link
func (s *Store) UnlinkTemplateMacro(templateID, macroID int64) error {
	_, err := s.db.Exec(`
		DELETE FROM template_macro_links WHERE template_id = ? AND macro_id = ?`,
		templateID, macroID)
	return err
}

// MacrosForTemplate returns the macros linked to one template
func (s *Store) MacrosForTemplate(templateID int64) ([]types.Macro, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.name, m.description, m.created_at
		FROM macros m
		JOIN template_macro_links tml ON m.id = tml.macro_id
		WHERE tml.template_id = ?
		ORDER BY m.name`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var macros []types.Macro
	for rows.Next() {
		var m types.Macro
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		macros = append(macros, m)
	}
	return macros, rows.Err()
}

// ========================================
// Credentials
// ========================================

// SaveCredentials stores the username and the already-encrypted password
// for a device, replacing any previous entry
func (s *Store) SaveCredentials(address, username, encryptedPassword string) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (device_address, username, encrypted_password)
		VALUES (?, ?, ?)
		ON CONFLICT(device_address)
		DO UPDATE SET username = excluded.username, encrypted_password = excluded.encrypted_password`,
		address, username, encryptedPassword)
	return err
}

// GetCredentials returns the username and encrypted password for a device
func (s *Store) GetCredentials(address string) (username, encryptedPassword string, err error) {
	err = s.db.QueryRow(`
		SELECT username, encrypted_password FROM credentials WHERE device_address = ?`, address).
		Scan(&username, &encryptedPassword)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("credentials for %s: %w", address, ErrNotFound)
	}
	return username, encryptedPassword, err
}

// DeleteCredentials removes the stored credentials for a device
func (s *Store) DeleteCredentials(address string) error {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE device_address = ?`, address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credentials for %s: %w", address, ErrNotFound)
	}
	return nil
}

// ========================================
// Device settings
// ========================================

// GetDeviceSettings returns the settings for a device, falling back to the
// configured defaults for any device without a row
func (s *Store) GetDeviceSettings(address string) (types.DeviceSettings, error) {
	settings := s.defaults
	settings.Address = address

	var threshold sql.NullFloat64
	var keystroke, postLogin sql.NullInt64
	err := s.db.QueryRow(`
		SELECT match_threshold, keystroke_delay_ms, post_login_wait_seconds
		FROM device_settings WHERE device_address = ?`, address).
		Scan(&threshold, &keystroke, &postLogin)
	if err == sql.ErrNoRows {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}

	if threshold.Valid {
		settings.MatchThreshold = threshold.Float64
	}
	if keystroke.Valid {
		settings.KeystrokeDelayMs = int(keystroke.Int64)
	}
	if postLogin.Valid {
		settings.PostLoginWaitSeconds = int(postLogin.Int64)
	}
	return settings, nil
}

// PutDeviceSettings inserts or replaces the settings row for a device
func (s *Store) PutDeviceSettings(settings types.DeviceSettings) error {
	_, err := s.db.Exec(`
		INSERT INTO device_settings (device_address, match_threshold, keystroke_delay_ms, post_login_wait_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_address)
		DO UPDATE SET match_threshold = excluded.match_threshold,
		              keystroke_delay_ms = excluded.keystroke_delay_ms,
		              post_login_wait_seconds = excluded.post_login_wait_seconds`,
		settings.Address, settings.MatchThreshold, settings.KeystrokeDelayMs, settings.PostLoginWaitSeconds)
	return err
}

// ========================================
// Run history
// ========================================

// LogDetection records one detection outcome
func (s *Store) LogDetection(address string, result types.MatchResult) error {
	matched := 0
	if result.Matched {
		matched = 1
	}
	_, err := s.stmtInsertDetection.Exec(
		uuid.NewString(), address, result.Screen, result.Confidence, matched,
		result.Timestamp.Unix())
	return err
}

// LogLoginRun records one auto-login workflow outcome
func (s *Store) LogLoginRun(report types.LoginReport) error {
	detected := ""
	if report.Detection != nil {
		detected = report.Detection.Screen
	}
	_, err := s.stmtInsertLoginRun.Exec(
		report.RunID, report.Device, string(report.State), detected,
		report.DismissedWith, report.Error,
		report.StartedAt.Unix(), report.DurationMs)
	return err
}

// RecentDetections returns the latest detection outcomes for a device
func (s *Store) RecentDetections(address string, limit int) ([]types.MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT screen, confidence, matched, detected_at
		FROM detection_log
		WHERE device_address = ?
		ORDER BY detected_at DESC
		LIMIT ?`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.MatchResult
	for rows.Next() {
		var r types.MatchResult
		var matched int
		var at int64
		if err := rows.Scan(&r.Screen, &r.Confidence, &matched, &at); err != nil {
			return nil, err
		}
		r.Matched = matched == 1
		r.Timestamp = time.Unix(at, 0)
		results = append(results, r)
	}
	return results, rows.Err()
}
