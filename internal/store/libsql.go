package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/Dalaqa25/automation-runner/internal/credentials"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- User automations ---

func (s *LibSQLStore) CreateAutomation(ctx context.Context, a *UserAutomation) error {
	now := timeOrNow(a.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_automations
		 (user_id, automation_id, name, schedule_expr, definition, parameters, automation_data,
		  provider, access_token, refresh_token, token_expiry, is_active, run_count, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.AutomationID, nullStr(a.Name), a.ScheduleExpr, string(a.Definition),
		nullRaw(a.Parameters), nullRaw(a.AutomationData), nullStr(a.Provider),
		nullStr(a.AccessToken), nullStr(a.RefreshToken), nullTime(a.TokenExpiry),
		boolToInt(a.IsActive), a.RunCount, nullTime(a.LastRunAt), now, timeOrNow(a.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetAutomation(ctx context.Context, userID, automationID string) (*UserAutomation, error) {
	a := &UserAutomation{}
	var (
		name, provider, accessToken, refreshToken sql.NullString
		parameters, automationData                sql.NullString
		tokenExpiry, lastRunAt                     sql.NullTime
		isActive                                   int
		defJSON                                    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, automation_id, name, schedule_expr, definition, parameters, automation_data,
		        provider, access_token, refresh_token, token_expiry, is_active, run_count, last_run_at, created_at, updated_at
		 FROM user_automations WHERE user_id = ? AND automation_id = ?`, userID, automationID,
	).Scan(&a.UserID, &a.AutomationID, &name, &a.ScheduleExpr, &defJSON, &parameters, &automationData,
		&provider, &accessToken, &refreshToken, &tokenExpiry, &isActive, &a.RunCount, &lastRunAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, automationNotFound(userID, automationID)
	}
	if err != nil {
		return nil, err
	}
	a.Name = name.String
	a.Provider = provider.String
	a.AccessToken = accessToken.String
	a.RefreshToken = refreshToken.String
	a.Definition = json.RawMessage(defJSON)
	a.Parameters = rawOrNil(parameters)
	a.AutomationData = rawOrNil(automationData)
	a.IsActive = isActive != 0
	if tokenExpiry.Valid {
		a.TokenExpiry = &tokenExpiry.Time
	}
	if lastRunAt.Valid {
		a.LastRunAt = &lastRunAt.Time
	}
	return a, nil
}

func (s *LibSQLStore) UpdateAutomation(ctx context.Context, userID, automationID string, update UserAutomationUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.ScheduleExpr != nil {
		sets = append(sets, "schedule_expr = ?")
		args = append(args, *update.ScheduleExpr)
	}
	if update.Definition != nil {
		sets = append(sets, "definition = ?")
		args = append(args, string(update.Definition))
	}
	if update.Parameters != nil {
		sets = append(sets, "parameters = ?")
		args = append(args, string(update.Parameters))
	}
	if update.AutomationData != nil {
		sets = append(sets, "automation_data = ?")
		args = append(args, string(update.AutomationData))
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*update.IsActive))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, userID, automationID)

	query := fmt.Sprintf("UPDATE user_automations SET %s WHERE user_id = ? AND automation_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkAutomationRowsAffected(res, userID, automationID)
}

func (s *LibSQLStore) UpdateCredentialTokens(ctx context.Context, userID, automationID, provider string, tokens credentials.TokenSet) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_automations
		 SET provider = ?, access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND automation_id = ?`,
		provider, tokens.AccessToken, nullStr(tokens.RefreshToken), nullTime(timeOrNilIfZero(tokens.Expiry)), userID, automationID,
	)
	if err != nil {
		return err
	}
	return checkAutomationRowsAffected(res, userID, automationID)
}

func (s *LibSQLStore) RecordRun(ctx context.Context, userID, automationID string, ranAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_automations
		 SET run_count = run_count + 1, last_run_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND automation_id = ?`,
		ranAt, userID, automationID,
	)
	if err != nil {
		return err
	}
	return checkAutomationRowsAffected(res, userID, automationID)
}

func (s *LibSQLStore) ListAutomations(ctx context.Context, filter UserAutomationFilter) ([]*UserAutomation, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.OnlyActive {
		where = append(where, "is_active = 1")
	}

	query := `SELECT user_id, automation_id, name, schedule_expr, definition, parameters, automation_data,
	                  provider, access_token, refresh_token, token_expiry, is_active, run_count, last_run_at, created_at, updated_at
	           FROM user_automations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UserAutomation
	for rows.Next() {
		a := &UserAutomation{}
		var (
			name, provider, accessToken, refreshToken sql.NullString
			parameters, automationData                sql.NullString
			tokenExpiry, lastRunAt                     sql.NullTime
			isActive                                   int
			defJSON                                    string
		)
		if err := rows.Scan(&a.UserID, &a.AutomationID, &name, &a.ScheduleExpr, &defJSON, &parameters, &automationData,
			&provider, &accessToken, &refreshToken, &tokenExpiry, &isActive, &a.RunCount, &lastRunAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Name = name.String
		a.Provider = provider.String
		a.AccessToken = accessToken.String
		a.RefreshToken = refreshToken.String
		a.Definition = json.RawMessage(defJSON)
		a.Parameters = rawOrNil(parameters)
		a.AutomationData = rawOrNil(automationData)
		a.IsActive = isActive != 0
		if tokenExpiry.Valid {
			a.TokenExpiry = &tokenExpiry.Time
		}
		if lastRunAt.Valid {
			a.LastRunAt = &lastRunAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteAutomation(ctx context.Context, userID, automationID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_automations WHERE user_id = ? AND automation_id = ?`, userID, automationID)
	if err != nil {
		return err
	}
	return checkAutomationRowsAffected(res, userID, automationID)
}

// --- Templates ---

func (s *LibSQLStore) StoreTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	now := timeOrNow(tpl.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_templates (name, version, description, definition, input_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, version) DO UPDATE SET
		   description=excluded.description, definition=excluded.definition,
		   input_schema=excluded.input_schema, updated_at=CURRENT_TIMESTAMP`,
		tpl.Name, tpl.Version, nullStr(tpl.Description), string(tpl.Definition), nullRaw(tpl.InputSchema), now, timeOrNow(tpl.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, name, version string) (*WorkflowTemplate, error) {
	t := &WorkflowTemplate{}
	var desc sql.NullString
	var defJSON string
	var inputSchema sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, version, description, definition, input_schema, created_at, updated_at
		 FROM workflow_templates WHERE name = ? AND version = ?`, name, version,
	).Scan(&t.Name, &t.Version, &desc, &defJSON, &inputSchema, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %q version %q not found", name, version)
	}
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.Definition = json.RawMessage(defJSON)
	t.InputSchema = rawOrNil(inputSchema)
	return t, nil
}

func (s *LibSQLStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*WorkflowTemplate, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT name, version, description, definition, input_schema, created_at, updated_at FROM workflow_templates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, version DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowTemplate
	for rows.Next() {
		t := &WorkflowTemplate{}
		var desc sql.NullString
		var defJSON string
		var inputSchema sql.NullString
		if err := rows.Scan(&t.Name, &t.Version, &desc, &defJSON, &inputSchema, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.Definition = json.RawMessage(defJSON)
		t.InputSchema = rawOrNil(inputSchema)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return nil
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return NewEventLog(s).AppendEvent(ctx, event)
}

func (s *LibSQLStore) GetEvents(ctx context.Context, userID, automationID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, automation_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE user_id = ? AND automation_id = ? AND sequence > ? ORDER BY sequence ASC`,
		userID, automationID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AutomationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, user_id, automation_id, node_id, event_type, payload, timestamp, sequence FROM events WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.AutomationID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func automationNotFound(userID, automationID string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "automation %s/%s not found", userID, automationID)
}

func checkAutomationRowsAffected(res sql.Result, userID, automationID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return automationNotFound(userID, automationID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func timeOrNilIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
